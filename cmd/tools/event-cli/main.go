package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/annel0/mmo-overlay/internal/eventbus"
	"github.com/annel0/mmo-overlay/internal/transport"
)

func main() {
	var (
		backend  = flag.String("bus", "jetstream", "Bus backend: jetstream, redis")
		natsURL  = flag.String("nats", "nats://127.0.0.1:4222", "NATS URL")
		stream   = flag.String("stream", "OVERLAY", "JetStream stream")
		redis    = flag.String("redis", "127.0.0.1:6379", "Redis address")
		channel  = flag.String("channel", "overlay.packets", "Redis channel")
		types    = flag.String("types", "", "Packet types filter (comma-separated)")
		sources  = flag.String("sources", "", "Client sources filter (comma-separated)")
		limit    = flag.Int("limit", 0, "Stop after N packets, 0 to follow")
		duration = flag.Duration("for", 0, "Stop after duration, 0 to follow")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	bus, err := openBus(ctx, *backend, *natsURL, *stream, *redis, *channel)
	if err != nil {
		log.Fatalf("❌ Failed to connect to bus: %v", err)
	}
	defer bus.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var count int64
	filter := eventbus.Filter{Types: parseStringList(*types), Sources: parseStringList(*sources)}
	sub, err := bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		printEnvelope(ev)
		if n := atomic.AddInt64(&count, 1); *limit > 0 && n >= int64(*limit) {
			cancel()
		}
	})
	if err != nil {
		log.Fatalf("❌ Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	fmt.Printf("🎬 Tailing %s (types: %v, sources: %v)\n", *backend, filter.Types, filter.Sources)
	<-ctx.Done()
	fmt.Printf("\n📊 Total packets: %d\n", atomic.LoadInt64(&count))
}

func openBus(ctx context.Context, backend, natsURL, stream, redisAddr, channel string) (eventbus.EventBus, error) {
	switch backend {
	case "jetstream":
		return eventbus.NewJetStreamBus(natsURL, stream, 24*time.Hour)
	case "redis":
		return eventbus.NewRedisBus(ctx, redisAddr, channel)
	default:
		fmt.Printf("❌ Unknown bus: %s\n", backend)
		os.Exit(1)
		return nil, nil
	}
}

// printEnvelope выводит пакет в читаемом формате
func printEnvelope(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s #%d [%s] obj=%s\n",
		ev.Timestamp.Format("15:04:05.000"),
		ev.Source,
		ev.Sequence,
		ev.EventType,
		ev.CorrelationID)

	p, err := transport.PacketFromEnvelope(ev)
	if err != nil {
		fmt.Printf("  ⚠️ %v\n", err)
		return
	}
	if p.Payload != nil {
		fmt.Printf("  %s %+v\n", p.Reliability, p.Payload)
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
