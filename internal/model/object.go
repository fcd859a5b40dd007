package model

import (
	"fmt"
	"sync"

	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/vec"
)

// NetworkID сетевой идентификатор объекта
type NetworkID uint64

// BaseID идентификатор базовой формы (типа) объекта в движке
type BaseID uint32

// Kind тип объекта, совпадает с категориями индекса
type Kind = interest.Category

const (
	KindObject    = interest.CategoryObject
	KindItem      = interest.CategoryItem
	KindContainer = interest.CategoryContainer
	KindActor     = interest.CategoryActor
	KindPlayer    = interest.CategoryPlayer
)

// Task отложенная команда объекта, выполняемая при следующем включении.
// key: аренда, которую задача должна снять по завершении (0: нет).
type Task func(key correlation.Key)

// Object сетевой объект мира
type Object struct {
	id   NetworkID
	kind Kind
	lock *correlation.Lockable

	Reference   *Value[interest.Ref]
	Base        *Value[BaseID]
	Name        *Value[string]
	NetworkCell *Value[interest.CellID]
	GameCell    *Value[interest.CellID]
	NetworkPos  *Value[vec.Vec3]
	GamePos     *Value[vec.Vec3]
	Angle       *Value[vec.Vec3]
	Enabled     *Value[bool]
	LockLevel   *Value[uint32]
	Owner       *Value[BaseID]

	Item      *ItemPart
	Container *ContainerPart
	Actor     *ActorPart
	Player    *PlayerPart

	mu    sync.Mutex
	tasks []Task
}

// ItemPart поля предмета
type ItemPart struct {
	Count     *Value[uint32]
	Condition *Value[float64] // проценты [0,100]
	Equipped  *Value[bool]
	Silent    *Value[bool]
	Stick     *Value[bool]
	Holder    *Value[NetworkID]
}

// ContainerPart поля контейнера
type ContainerPart struct {
	Items *ItemList
}

// ActorPart поля актера
type ActorPart struct {
	Values     *ValueMap[uint8, float64]
	BaseValues *ValueMap[uint8, float64]
	Race       *Value[BaseID]
	Age        *Value[int32]
	Female     *Value[bool]
	Dead       *Value[bool]
	Limbs      *Value[uint16]
	DeathCause *Value[int8]
	Idle       *Value[uint32]
	Moving     *Value[uint8]
	MovingXY   *Value[uint8]
	Weapon     *Value[uint8]
	Alerted    *Value[bool]
	Sneaking   *Value[bool]
}

// PlayerPart поля игрока
type PlayerPart struct {
	Controls *ValueMap[uint8, uint8]
}

// LockLevel значения, которые движок не передает как уровень
const (
	LockBroken   uint32 = ^uint32(0) - 1
	LockUnlocked uint32 = ^uint32(0)
)

func newObject(reg *correlation.Registry, id NetworkID, kind Kind, ref interest.Ref, base BaseID) *Object {
	o := &Object{
		id:          id,
		kind:        kind,
		lock:        correlation.NewLockable(reg),
		Reference:   NewValue(reg, ref),
		Base:        NewValue(reg, base),
		Name:        NewValue(reg, ""),
		NetworkCell: NewValue[interest.CellID](reg, 0),
		GameCell:    NewValue[interest.CellID](reg, 0),
		NetworkPos:  NewValue(reg, vec.Vec3{}),
		GamePos:     NewValue(reg, vec.Vec3{}),
		Angle:       NewValue(reg, vec.Vec3{}),
		Enabled:     NewValue(reg, true),
		LockLevel:   NewValue(reg, LockUnlocked),
		Owner:       NewValue[BaseID](reg, 0),
	}

	if kind == KindItem {
		o.Item = &ItemPart{
			Count:     NewValue[uint32](reg, 1),
			Condition: NewValue(reg, 100.0),
			Equipped:  NewValue(reg, false),
			Silent:    NewValue(reg, false),
			Stick:     NewValue(reg, false),
			Holder:    NewValue[NetworkID](reg, 0),
		}
	}
	if kind&interest.AllContainers != 0 {
		o.Container = &ContainerPart{Items: NewItemList()}
	}
	if kind&interest.AllActors != 0 {
		o.Actor = &ActorPart{
			Values:     NewValueMap[uint8, float64](),
			BaseValues: NewValueMap[uint8, float64](),
			Race:       NewValue[BaseID](reg, 0),
			Age:        NewValue[int32](reg, 0),
			Female:     NewValue(reg, false),
			Dead:       NewValue(reg, false),
			Limbs:      NewValue[uint16](reg, 0),
			DeathCause: NewValue[int8](reg, -1),
			Idle:       NewValue[uint32](reg, 0),
			Moving:     NewValue[uint8](reg, 0),
			MovingXY:   NewValue[uint8](reg, 0),
			Weapon:     NewValue[uint8](reg, 0),
			Alerted:    NewValue(reg, false),
			Sneaking:   NewValue(reg, false),
		}
	}
	if kind == KindPlayer {
		o.Player = &PlayerPart{Controls: NewValueMap[uint8, uint8]()}
	}
	return o
}

// ID сетевой идентификатор
func (o *Object) ID() NetworkID { return o.id }

// Kind тип объекта
func (o *Object) Kind() Kind { return o.kind }

// Is проверяет тип объекта по маске
func (o *Object) Is(mask Kind) bool { return o.kind&mask != 0 }

// Lock блокировка объекта целиком (сверка контейнера и т.п.)
func (o *Object) Lock() *correlation.Lockable { return o.lock }

// Ref ссылка движка, 0 если объект еще не размещен
func (o *Object) Ref() interest.Ref { return o.Reference.Get() }

// InContextCell ячейка, по которой объект проверяется на контекст
func (o *Object) InContextCell() interest.CellID { return o.GameCell.Get() }

// String для логов
func (o *Object) String() string {
	return fmt.Sprintf("%s %#x (ref %#08x, base %#08x)", o.kind, uint64(o.id), uint32(o.Ref()), uint32(o.Base.Get()))
}

// Enqueue откладывает задачу до включения объекта
func (o *Object) Enqueue(task Task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tasks = append(o.tasks, task)
}

// DrainTasks забирает отложенные задачи
func (o *Object) DrainTasks() []Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	tasks := o.tasks
	o.tasks = nil
	return tasks
}

// ItemList упорядоченный список предметов контейнера
type ItemList struct {
	mu  sync.Mutex
	ids []NetworkID
}

// NewItemList создает пустой список
func NewItemList() *ItemList {
	return &ItemList{}
}

// Add добавляет предмет в конец
func (l *ItemList) Add(id NetworkID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

// Remove удаляет предмет
func (l *ItemList) Remove(id NetworkID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, cur := range l.ids {
		if cur == id {
			l.ids = append(l.ids[:i], l.ids[i+1:]...)
			return true
		}
	}
	return false
}

// IDs копия списка
func (l *ItemList) IDs() []NetworkID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]NetworkID, len(l.ids))
	copy(out, l.ids)
	return out
}

// Len размер списка
func (l *ItemList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}
