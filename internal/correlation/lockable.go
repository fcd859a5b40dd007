package correlation

import (
	"context"
	"sync"
)

// Lockable консультативная блокировка объекта или поля с арендой.
// TryLock регистрирует аренду в реестре под свежим ключом; ключ уходит
// движку вместе с командой и снимается обработчиком подтверждения.
type Lockable struct {
	mu       sync.Mutex
	reg      *Registry
	key      Key
	held     *lease
	released chan struct{}
}

// lease запись реестра для удерживаемой аренды.
type lease struct {
	owner *Lockable
}

func (l *lease) discard(key Key) {
	l.owner.Unlock(key)
}

// NewLockable создает свободную блокировку в реестре r.
func NewLockable(r *Registry) *Lockable {
	return &Lockable{reg: r}
}

// TryLock берет аренду, если блокировка свободна.
func (l *Lockable) TryLock() (Key, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.key != 0 {
		return 0, false
	}
	l.held = &lease{owner: l}
	l.key = l.reg.allocate(l.held)
	l.released = make(chan struct{})
	return l.key, true
}

// Unlock снимает аренду. Чужой или устаревший ключ игнорируется.
func (l *Lockable) Unlock(key Key) bool {
	l.mu.Lock()
	if key == 0 || l.key != key {
		l.mu.Unlock()
		return false
	}
	held := l.held
	l.key = 0
	l.held = nil
	close(l.released)
	l.mu.Unlock()

	l.reg.remove(key, held)
	return true
}

// Locked сообщает, удерживается ли аренда.
func (l *Lockable) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.key != 0
}

// Acquire ждет освобождения и берет аренду.
func (l *Lockable) Acquire(ctx context.Context) (Key, error) {
	for {
		if key, ok := l.TryLock(); ok {
			return key, nil
		}

		l.mu.Lock()
		released := l.released
		l.mu.Unlock()
		if released == nil {
			continue
		}

		select {
		case <-released:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
