package transport

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/mmo-overlay/internal/logging"
	"github.com/annel0/mmo-overlay/internal/model"
)

type batchKey struct {
	id model.NetworkID
	t  PacketType
}

// Batcher накапливает последовательные пакеты и отправляет их раз в flushEvery.
// Для пары (объект, тип) остается только последний пакет. Упорядоченные
// пакеты уходят сразу.
type Batcher struct {
	inner      Broadcaster
	flushEvery time.Duration
	capacity   int
	logger     *logging.Logger

	mu      sync.Mutex
	pending map[batchKey]Packet
	order   []batchKey

	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewBatcher запускает цикл сброса; capacity ограничивает число ожидающих пакетов.
func NewBatcher(inner Broadcaster, flushEvery time.Duration, capacity int, logger *logging.Logger) *Batcher {
	if flushEvery <= 0 {
		flushEvery = 50 * time.Millisecond
	}
	if capacity <= 0 {
		capacity = 1024
	}
	b := &Batcher{
		inner:      inner,
		flushEvery: flushEvery,
		capacity:   capacity,
		logger:     logger,
		pending:    make(map[batchKey]Packet),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Batcher) Broadcast(ctx context.Context, p Packet) error {
	if p.Reliability != ReliableSequenced {
		return b.inner.Broadcast(ctx, p)
	}

	k := batchKey{id: p.ID, t: p.Type}
	b.mu.Lock()
	if _, ok := b.pending[k]; !ok {
		b.order = append(b.order, k)
	}
	b.pending[k] = p
	full := len(b.order) >= b.capacity
	b.mu.Unlock()

	if full {
		b.Flush(ctx)
	}
	return nil
}

// Pending число ожидающих пакетов
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Flush отправляет накопленные пакеты в порядке первого появления ключа
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.order) == 0 {
		b.mu.Unlock()
		return
	}
	packets := make([]Packet, 0, len(b.order))
	for _, k := range b.order {
		packets = append(packets, b.pending[k])
	}
	b.order = b.order[:0]
	b.pending = make(map[batchKey]Packet, len(packets))
	b.mu.Unlock()

	for _, p := range packets {
		if err := b.inner.Broadcast(ctx, p); err != nil {
			b.logger.Warn("⚠️ Batcher: отправка %s: %v", p, err)
		}
	}
}

func (b *Batcher) loop() {
	ticker := time.NewTicker(b.flushEvery)
	defer ticker.Stop()
	defer close(b.done)

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			b.Flush(ctx)
			cancel()
		case <-b.quit:
			return
		}
	}
}

// Stop останавливает цикл и отправляет оставшиеся пакеты
func (b *Batcher) Stop() {
	b.once.Do(func() {
		close(b.quit)
		<-b.done
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		b.Flush(ctx)
	})
}
