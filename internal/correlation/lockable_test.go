package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockableLease(t *testing.T) {
	r := NewRegistry(nil)
	l := NewLockable(r)

	key, ok := l.TryLock()
	require.True(t, ok)
	require.NotZero(t, key)
	assert.True(t, l.Locked())

	_, ok = l.TryLock()
	assert.False(t, ok, "повторная аренда запрещена")

	h := r.Poll(key, false)
	owner, isLease := h.Lockable()
	require.True(t, isLease)
	assert.Same(t, l, owner)

	assert.False(t, l.Unlock(key+1))
	assert.True(t, l.Unlock(key))
	assert.False(t, l.Locked())
	assert.Zero(t, r.Pending())
}

func TestDiscardReleasesLease(t *testing.T) {
	r := NewRegistry(nil)
	l := NewLockable(r)

	key, ok := l.TryLock()
	require.True(t, ok)

	r.Discard(key)
	assert.False(t, l.Locked())
	assert.Zero(t, r.Pending())
}

func TestResolveOnLeaseIsCorrupt(t *testing.T) {
	r := NewRegistry(nil)
	l := NewLockable(r)
	key, _ := l.TryLock()

	err := Resolve(r.Poll(key, false), uint32(1))
	assert.ErrorIs(t, err, ErrCorruptStorage)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	r := NewRegistry(nil)
	l := NewLockable(r)
	first, _ := l.TryLock()

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Unlock(first)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	second, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.NotZero(t, second)
	assert.True(t, l.Unlock(second))
}

func TestAcquireRespectsContext(t *testing.T) {
	r := NewRegistry(nil)
	l := NewLockable(r)
	_, _ = l.TryLock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
