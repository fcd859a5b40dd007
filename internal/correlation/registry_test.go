package correlation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type basePair struct {
	Base  uint32
	Count int
}

func TestResolveWaitRoundTrip(t *testing.T) {
	r := NewRegistry(nil)

	t.Run("uint32", func(t *testing.T) {
		w := Create[uint32](r)
		require.NotZero(t, w.Key())
		require.NoError(t, Resolve(r.Poll(w.Key(), false), uint32(0x0001F4A2)))

		v, err := w.Wait(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint32(0x0001F4A2), v)
	})

	t.Run("struct", func(t *testing.T) {
		w := Create[basePair](r)
		want := basePair{Base: 7, Count: -3}
		require.NoError(t, Resolve(r.Poll(w.Key(), false), want))

		v, err := w.Wait(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	})

	t.Run("interface", func(t *testing.T) {
		w := Create[error](r)
		require.NoError(t, Resolve[error](r.Poll(w.Key(), false), nil))

		v, err := w.Wait(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	assert.Zero(t, r.Pending(), "разрешенные слоты удаляются из реестра")
}

func TestResolveFromAnotherGoroutine(t *testing.T) {
	r := NewRegistry(nil)
	w := Create[float64](r)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = Resolve(r.Poll(w.Key(), false), 42.5)
	}()

	v, err := w.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42.5, v)
}

func TestIdempotentResolution(t *testing.T) {
	r := NewRegistry(nil)
	w := Create[uint32](r)
	h := r.Poll(w.Key(), false)

	require.NoError(t, Resolve(h, uint32(5)))
	require.NoError(t, Resolve(h, uint32(5)))
	require.NoError(t, Resolve(h, uint32(9)))

	v, err := w.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), v)
}

func TestCorruptStorage(t *testing.T) {
	r := NewRegistry(nil)
	w := Create[uint32](r)

	err := Resolve(r.Poll(w.Key(), false), "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptStorage))

	var corrupt *CorruptStorageError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, w.Key(), corrupt.Key)

	// слот остается ожидающим
	require.NoError(t, Resolve(r.Poll(w.Key(), false), uint32(1)))
}

func TestExpiredStorage(t *testing.T) {
	r := NewRegistry(nil)

	t.Run("unknown key", func(t *testing.T) {
		err := Resolve(r.Poll(12345, false), uint32(1))
		assert.ErrorIs(t, err, ErrExpiredStorage)
	})

	t.Run("released between poll and resolve", func(t *testing.T) {
		w := Create[uint32](r)
		h := r.Poll(w.Key(), false)
		w.Release()

		assert.ErrorIs(t, Resolve(h, uint32(1)), ErrExpiredStorage)
		assert.False(t, r.Poll(w.Key(), false).Valid())
	})
}

func TestTimeoutOrphansSlot(t *testing.T) {
	r := NewRegistry(nil)
	w := Create[uint32](r)

	budget := 100 * time.Millisecond
	start := time.Now()
	_, err := w.Wait(context.Background(), budget)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, budget, timeout.Timeout)
	assert.GreaterOrEqual(t, elapsed, budget)
	assert.Less(t, elapsed, budget+500*time.Millisecond)

	// поздний ответ движка не является ошибкой
	h := r.Poll(w.Key(), false)
	require.True(t, h.Valid())
	assert.NoError(t, Resolve(h, uint32(3)))
	assert.Zero(t, r.Pending())
}

func TestWaitContextCancel(t *testing.T) {
	r := NewRegistry(nil)
	w := Create[uint32](r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Wait(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweepCollectsOrphans(t *testing.T) {
	r := NewRegistry(nil)
	w := Create[uint32](r)
	_, err := w.Wait(context.Background(), time.Millisecond)
	require.Error(t, err)

	Create[uint32](r) // ожидающий слот не трогается

	assert.Equal(t, 1, r.Sweep(0))
	assert.Equal(t, 1, r.Pending())
}

func TestDiscardUnblocksWaiter(t *testing.T) {
	r := NewRegistry(nil)
	w := Create[uint32](r)

	r.Discard(w.Key())

	_, err := w.Wait(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrDiscarded)
	assert.Zero(t, r.Pending())
}

func TestPartialAccumulation(t *testing.T) {
	r := NewRegistry(nil)
	w := Create[uint16](r)

	for limb := 0; limb < 4; limb++ {
		last := limb == 3
		h := r.Poll(w.Key(), last)
		require.True(t, h.Valid())
		bit := uint16(limb % 2)
		shift := limb
		require.NoError(t, Update(h, func(v uint16) uint16 { return v | bit<<shift }, last))
	}

	v, err := w.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint16(0b1010), v)
	assert.False(t, r.Poll(w.Key(), false).Valid())
}

func TestKeysAreUniqueAndNonZero(t *testing.T) {
	r := NewRegistry(nil, WithKeySpace(8))

	seen := make(map[Key]bool)
	for i := 0; i < 8; i++ {
		w := Create[int](r)
		require.NotZero(t, w.Key())
		require.False(t, seen[w.Key()])
		seen[w.Key()] = true
	}

	assert.PanicsWithValue(t, ErrKeySpaceExhausted, func() { Create[int](r) })
}

func TestConcurrentKeysDoNotBlockEachOther(t *testing.T) {
	r := NewRegistry(nil)
	const n = 64

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		w := Create[int](r)
		wg.Add(2)
		go func(w *Waiter[int], v int) {
			defer wg.Done()
			got, err := w.Wait(context.Background(), 2*time.Second)
			assert.NoError(t, err)
			assert.Equal(t, v, got)
		}(w, i)
		go func(k Key, v int) {
			defer wg.Done()
			assert.NoError(t, Resolve(r.Poll(k, false), v))
		}(w.Key(), i)
	}
	wg.Wait()
	assert.Zero(t, r.Pending())
}
