package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBus реализует EventBus поверх Redis Pub/Sub.
// Канал на тип пакета: <channel>.<type>; подписка на все типы через PSUBSCRIBE.
type RedisBus struct {
	client    *redis.Client
	channel   string
	published uint64
	consumed  uint64
	dropped   uint64
}

// NewRedisBus подключается к Redis и проверяет соединение.
func NewRedisBus(ctx context.Context, addr, channel string) (*RedisBus, error) {
	if channel == "" {
		channel = "overlay.packets"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return &RedisBus{client: client, channel: channel}, nil
}

func (rb *RedisBus) subject(eventType string) string {
	return rb.channel + "." + eventType
}

// Publish отправляет конверт в канал типа.
func (rb *RedisBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := rb.client.Publish(ctx, rb.subject(ev.EventType), data).Err(); err != nil {
		atomic.AddUint64(&rb.dropped, 1)
		return err
	}
	atomic.AddUint64(&rb.published, 1)
	return nil
}

// Subscribe подписывается на каналы фильтра; сообщения доставляются по порядку.
func (rb *RedisBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	var ps *redis.PubSub
	if len(f.Types) == 0 {
		ps = rb.client.PSubscribe(ctx, rb.channel+".*")
	} else {
		channels := make([]string, len(f.Types))
		for i, t := range f.Types {
			channels[i] = rb.subject(t)
		}
		ps = rb.client.Subscribe(ctx, channels...)
	}
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		for msg := range ps.Channel() {
			var ev Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || !matchFilter(&ev, f) {
				continue
			}
			h(ctx, &ev)
			atomic.AddUint64(&rb.consumed, 1)
		}
	}()

	return &redisSub{ps: ps}, nil
}

type redisSub struct {
	ps *redis.PubSub
}

func (s *redisSub) Unsubscribe() {
	_ = s.ps.Close()
}

// Metrics возвращает текущие метрики.
func (rb *RedisBus) Metrics() Stats {
	return Stats{
		Published: atomic.LoadUint64(&rb.published),
		Consumed:  atomic.LoadUint64(&rb.consumed),
		Dropped:   atomic.LoadUint64(&rb.dropped),
	}
}

// Close закрывает клиент.
func (rb *RedisBus) Close() error {
	return rb.client.Close()
}
