package correlation

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/annel0/mmo-overlay/internal/metrics"
)

type slotState uint8

const (
	statePending slotState = iota
	stateFulfilled
	stateOrphaned
	stateReleased
	stateDiscarded
)

// slot одноразовая ячейка значения. Владеет ею Waiter, реестр хранит
// только ключ; валидность Handle определяется поколением.
type slot struct {
	mu         sync.Mutex
	reg        *Registry
	key        Key
	typ        reflect.Type
	value      any
	state      slotState
	err        error
	gen        uint64
	orphanedAt time.Time
	done       chan struct{}
}

func newSlot(r *Registry, typ reflect.Type) *slot {
	return &slot{
		reg:   r,
		typ:   typ,
		value: reflect.Zero(typ).Interface(),
		gen:   1,
		done:  make(chan struct{}),
	}
}

func (s *slot) discard(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != statePending {
		return
	}
	s.state = stateDiscarded
	s.err = ErrDiscarded
	close(s.done)
	metrics.CorrelationResolutions.WithLabelValues("discarded").Inc()
}

func (s *slot) orphanedBefore(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateOrphaned && s.orphanedAt.Before(t)
}

// Handle невладеющая ссылка на запись реестра с поколением.
type Handle struct {
	key Key
	e   entry
	gen uint64
}

func newHandle(key Key, e entry) Handle {
	h := Handle{key: key, e: e}
	if s, ok := e.(*slot); ok {
		s.mu.Lock()
		h.gen = s.gen
		s.mu.Unlock()
	}
	return h
}

// Key возвращает ключ, по которому получен Handle.
func (h Handle) Key() Key { return h.key }

// Valid сообщает, была ли запись найдена.
func (h Handle) Valid() bool { return h.e != nil }

// Lockable возвращает аренду, если Handle указывает на нее.
func (h Handle) Lockable() (*Lockable, bool) {
	l, ok := h.e.(*lease)
	if !ok {
		return nil, false
	}
	return l.owner, true
}

var lockableType = reflect.TypeOf((*Lockable)(nil))

// checkout проверяет поколение и тип, возвращает захваченный слот.
func checkout[T any](h Handle) (*slot, error) {
	if h.e == nil {
		return nil, ErrExpiredStorage
	}

	want := reflect.TypeOf((*T)(nil)).Elem()
	s, ok := h.e.(*slot)
	if !ok {
		return nil, &CorruptStorageError{Key: h.key, Expected: lockableType, Got: want}
	}

	s.mu.Lock()
	if h.gen != s.gen || s.state == stateReleased {
		s.mu.Unlock()
		return nil, ErrExpiredStorage
	}
	if s.typ != want {
		s.mu.Unlock()
		return nil, &CorruptStorageError{Key: h.key, Expected: s.typ, Got: want}
	}
	return s, nil
}

// Resolve записывает значение и разблокирует ожидающего.
// Повторное разрешение и разрешение осиротевшего слота ничего не делают.
func Resolve[T any](h Handle, v T) error {
	return Update(h, func(T) T { return v }, true)
}

// Update накапливает частичный результат; final завершает слот.
func Update[T any](h Handle, fn func(T) T, final bool) error {
	s, err := checkout[T](h)
	if err != nil {
		if !IsExpired(err) {
			metrics.CorrelationResolutions.WithLabelValues("corrupt").Inc()
		}
		return err
	}

	switch s.state {
	case stateFulfilled, stateDiscarded:
		s.mu.Unlock()
		return nil
	case stateOrphaned:
		s.mu.Unlock()
		s.reg.remove(s.key, s)
		metrics.CorrelationResolutions.WithLabelValues("late").Inc()
		return nil
	}

	cur, _ := s.value.(T)
	s.value = fn(cur)
	if !final {
		s.mu.Unlock()
		return nil
	}
	s.state = stateFulfilled
	close(s.done)
	s.mu.Unlock()

	s.reg.remove(s.key, s)
	metrics.CorrelationResolutions.WithLabelValues("fulfilled").Inc()
	return nil
}

// Waiter владеет ячейкой результата и ожидает ее разрешения.
type Waiter[T any] struct {
	s *slot
}

// Key возвращает ключ, который нужно передать движку вместе с командой.
func (w *Waiter[T]) Key() Key { return w.s.key }

// Wait блокирует вызывающего до разрешения, таймаута или отмены ctx.
// По таймауту слот становится осиротевшим и возвращается *TimeoutError.
func (w *Waiter[T]) Wait(ctx context.Context, timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.s.done:
		return w.result()
	case <-timer.C:
		if !w.orphan() {
			return w.result()
		}
		metrics.CorrelationTimeouts.Inc()
		w.s.reg.logger.Debug("⏱️ key %#08x timed out after %v", uint32(w.s.key), timeout)
		var zero T
		return zero, &TimeoutError{Key: w.s.key, Timeout: timeout}
	case <-ctx.Done():
		if !w.orphan() {
			return w.result()
		}
		var zero T
		return zero, ctx.Err()
	}
}

func (w *Waiter[T]) result() (T, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if w.s.err != nil {
		var zero T
		return zero, w.s.err
	}
	v, _ := w.s.value.(T)
	return v, nil
}

// orphan переводит ожидающий слот в осиротевший. false: слот уже разрешен.
func (w *Waiter[T]) orphan() bool {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if w.s.state != statePending {
		return false
	}
	w.s.state = stateOrphaned
	w.s.orphanedAt = time.Now()
	return true
}

// Release отказывается от ожидания. Последующие Resolve получат ErrExpiredStorage.
func (w *Waiter[T]) Release() {
	w.s.mu.Lock()
	if w.s.state == stateReleased {
		w.s.mu.Unlock()
		return
	}
	w.s.state = stateReleased
	w.s.gen++
	w.s.mu.Unlock()

	w.s.reg.remove(w.s.key, w.s)
}
