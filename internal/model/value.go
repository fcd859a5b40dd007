package model

import (
	"sync"

	"github.com/annel0/mmo-overlay/internal/correlation"
)

// Value поле сетевой модели с арендой.
// Пока аренда удерживается (запись ждет подтверждения движка), Set игнорирует
// обновления, пришедшие из движка.
type Value[T comparable] struct {
	mu   sync.Mutex
	v    T
	lock *correlation.Lockable
}

// NewValue создает поле с начальным значением
func NewValue[T comparable](reg *correlation.Registry, v T) *Value[T] {
	return &Value[T]{v: v, lock: correlation.NewLockable(reg)}
}

// Get возвращает текущее значение
func (f *Value[T]) Get() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v
}

// Set меняет значение. Возвращает блокировку поля, если значение изменилось
// и аренда не удерживается, иначе nil.
func (f *Value[T]) Set(v T) *correlation.Lockable {
	if f.lock.Locked() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.v == v {
		return nil
	}
	f.v = v
	return f.lock
}

// Changed удобная обертка: true если Set изменил значение
func (f *Value[T]) Changed(v T) bool {
	return f.Set(v) != nil
}

// Lockable блокировка поля
func (f *Value[T]) Lockable() *correlation.Lockable {
	return f.lock
}

// ValueMap индексированный набор значений (actor values, controls)
type ValueMap[K comparable, V comparable] struct {
	mu sync.Mutex
	m  map[K]V
}

// NewValueMap создает пустой набор
func NewValueMap[K comparable, V comparable]() *ValueMap[K, V] {
	return &ValueMap[K, V]{m: make(map[K]V)}
}

// Get возвращает значение по индексу
func (vm *ValueMap[K, V]) Get(k K) (V, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	v, ok := vm.m[k]
	return v, ok
}

// Set записывает значение; true если оно изменилось
func (vm *ValueMap[K, V]) Set(k K, v V) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if cur, ok := vm.m[k]; ok && cur == v {
		return false
	}
	vm.m[k] = v
	return true
}

// Snapshot копия набора
func (vm *ValueMap[K, V]) Snapshot() map[K]V {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := make(map[K]V, len(vm.m))
	for k, v := range vm.m {
		out[k] = v
	}
	return out
}
