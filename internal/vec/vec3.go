package vec

import "math"

// Vec3 позиция или набор углов в координатах движка
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// DistanceTo возвращает евклидово расстояние
func (v Vec3) DistanceTo(other Vec3) float64 {
	d := v.Sub(other)
	return math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
}

// Near сравнивает векторы с допуском eps по каждой оси
func (v Vec3) Near(other Vec3, eps float64) bool {
	return math.Abs(v.X-other.X) <= eps &&
		math.Abs(v.Y-other.Y) <= eps &&
		math.Abs(v.Z-other.Z) <= eps
}

// Offset точка на расстоянии distance перед позицией по курсу headingDeg
// (угол вокруг оси Z в градусах, 0: вдоль +Y)
func (v Vec3) Offset(headingDeg, distance float64) Vec3 {
	rad := headingDeg * math.Pi / 180.0
	return Vec3{
		X: v.X + math.Sin(rad)*distance,
		Y: v.Y + math.Cos(rad)*distance,
		Z: v.Z,
	}
}

// Valid все координаты конечны
func (v Vec3) Valid() bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}
