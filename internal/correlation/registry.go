package correlation

import (
	"context"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/annel0/mmo-overlay/internal/logging"
	"github.com/annel0/mmo-overlay/internal/metrics"
)

// Key непрозрачный ненулевой идентификатор ожидаемой операции.
// Ноль означает, что корреляция не запрошена.
type Key uint32

// entry запись реестра: слот результата или аренда блокировки.
type entry interface {
	discard(key Key)
}

// Registry сопоставляет ключи ожидающим слотам и арендам.
// Таблица ключей защищена коротким мьютексом, каждый слот имеет собственный.
type Registry struct {
	mu       sync.Mutex
	entries  map[Key]entry
	next     Key
	keySpace uint64
	logger   *logging.Logger
}

// Option настраивает реестр.
type Option func(*Registry)

// WithKeySpace ограничивает количество одновременно занятых ключей.
func WithKeySpace(n uint32) Option {
	return func(r *Registry) {
		if n > 0 {
			r.keySpace = uint64(n)
		}
	}
}

// NewRegistry создает реестр корреляции.
func NewRegistry(logger *logging.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	r := &Registry{
		entries:  make(map[Key]entry),
		keySpace: math.MaxUint32,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// allocate регистрирует запись под свежим ненулевым ключом.
func (r *Registry) allocate(e entry) Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uint64(len(r.entries)) >= r.keySpace {
		panic(ErrKeySpaceExhausted)
	}

	for {
		r.next++
		if r.next == 0 || uint64(r.next) > r.keySpace {
			r.next = 1
		}
		if _, busy := r.entries[r.next]; !busy {
			r.entries[r.next] = e
			metrics.CorrelationPending.Inc()
			return r.next
		}
	}
}

// remove удаляет ключ, если он все еще указывает на e (nil: на что угодно).
func (r *Registry) remove(key Key, e entry) entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[key]
	if !ok || (e != nil && cur != e) {
		return nil
	}
	delete(r.entries, key)
	metrics.CorrelationPending.Dec()
	return cur
}

func (r *Registry) lookup(key Key) (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return e, ok
}

// Create выделяет ключ и слот результата типа T.
// Исчерпание пространства ключей фатально: паникует с ErrKeySpaceExhausted.
func Create[T any](r *Registry) *Waiter[T] {
	s := newSlot(r, reflect.TypeOf((*T)(nil)).Elem())
	s.key = r.allocate(s)
	r.logger.Trace("slot %#08x created for %v", uint32(s.key), s.typ)
	return &Waiter[T]{s: s}
}

// Poll находит запись без передачи владения. consume удаляет ключ из реестра.
// Неизвестный ключ дает нулевой Handle.
func (r *Registry) Poll(key Key, consume bool) Handle {
	if key == 0 {
		return Handle{}
	}

	var (
		e  entry
		ok bool
	)
	if consume {
		e = r.remove(key, nil)
		ok = e != nil
	} else {
		e, ok = r.lookup(key)
	}
	if !ok {
		return Handle{}
	}
	return newHandle(key, e)
}

// Retrieve забирает запись из реестра и возвращает ее.
func (r *Registry) Retrieve(key Key) Handle {
	return r.Poll(key, true)
}

// Discard забирает запись и освобождает ее: аренда снимается,
// ожидающий слота разблокируется с ErrDiscarded.
func (r *Registry) Discard(key Key) {
	if key == 0 {
		return
	}
	if e := r.remove(key, nil); e != nil {
		e.discard(key)
	}
}

// Pending возвращает количество занятых ключей.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep удаляет слоты, осиротевшие раньше чем ttl назад. Возвращает число удаленных.
func (r *Registry) Sweep(ttl time.Duration) int {
	now := time.Now()

	r.mu.Lock()
	var stale []Key
	for key, e := range r.entries {
		if s, ok := e.(*slot); ok && s.orphanedBefore(now.Add(-ttl)) {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		delete(r.entries, key)
		metrics.CorrelationPending.Dec()
	}
	r.mu.Unlock()

	if len(stale) > 0 {
		r.logger.Debug("🧹 swept %d orphaned slots", len(stale))
	}
	return len(stale)
}

// Run периодически собирает осиротевшие слоты до отмены контекста.
func (r *Registry) Run(ctx context.Context, every, ttl time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ttl)
		}
	}
}
