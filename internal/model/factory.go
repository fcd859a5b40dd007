package model

import (
	"sort"
	"sync"

	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/interest"
)

// Factory реестр сетевых объектов клиента.
type Factory struct {
	mu      sync.RWMutex
	reg     *correlation.Registry
	next    NetworkID
	objects map[NetworkID]*Object
	byRef   map[interest.Ref]NetworkID
}

// NewFactory создает пустой реестр объектов
func NewFactory(reg *correlation.Registry) *Factory {
	return &Factory{
		reg:     reg,
		next:    1 << 48, // локально созданные объекты не пересекаются с серверными
		objects: make(map[NetworkID]*Object),
		byRef:   make(map[interest.Ref]NetworkID),
	}
}

// Registry реестр корреляции, в котором живут аренды объектов
func (f *Factory) Registry() *correlation.Registry { return f.reg }

// Create создает объект. id == 0: выделить локальный идентификатор.
// Существующий объект с тем же id возвращается как есть.
func (f *Factory) Create(id NetworkID, kind Kind, ref interest.Ref, base BaseID) *Object {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id == 0 {
		f.next++
		id = f.next
	} else if existing, ok := f.objects[id]; ok {
		return existing
	}

	o := newObject(f.reg, id, kind, ref, base)
	f.objects[id] = o
	if ref != 0 {
		f.byRef[ref] = id
	}
	return o
}

// Bind связывает объект с ссылкой движка
func (f *Factory) Bind(o *Object, ref interest.Ref) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if old := o.Reference.Get(); old != 0 && f.byRef[old] == o.id {
		delete(f.byRef, old)
	}
	o.Reference.Set(ref)
	if ref != 0 {
		f.byRef[ref] = o.id
	}
}

// Get находит объект по сетевому идентификатору
func (f *Factory) Get(id NetworkID) (*Object, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	o, ok := f.objects[id]
	return o, ok
}

// Lookup находит объект по ссылке движка
func (f *Factory) Lookup(ref interest.Ref) (*Object, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	id, ok := f.byRef[ref]
	if !ok {
		return nil, false
	}
	o, ok := f.objects[id]
	return o, ok
}

// ByKind объекты, тип которых входит в маску, по возрастанию id
func (f *Factory) ByKind(mask Kind) []*Object {
	f.mu.RLock()
	out := make([]*Object, 0, len(f.objects))
	for _, o := range f.objects {
		if o.kind&mask != 0 {
			out = append(out, o)
		}
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// All все объекты
func (f *Factory) All() []*Object {
	return f.ByKind(interest.AllObjects)
}

// Destroy удаляет объект
func (f *Factory) Destroy(id NetworkID) (*Object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.objects[id]
	if !ok {
		return nil, false
	}
	delete(f.objects, id)
	if ref := o.Reference.Get(); ref != 0 && f.byRef[ref] == id {
		delete(f.byRef, ref)
	}
	return o, true
}

// Len количество объектов
func (f *Factory) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.objects)
}

// Clear удаляет все объекты
func (f *Factory) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects = make(map[NetworkID]*Object)
	f.byRef = make(map[interest.Ref]NetworkID)
}
