package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/mmo-overlay/internal/api"
	"github.com/annel0/mmo-overlay/internal/config"
	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/dispatch"
	"github.com/annel0/mmo-overlay/internal/engine"
	"github.com/annel0/mmo-overlay/internal/eventbus"
	"github.com/annel0/mmo-overlay/internal/game"
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/journal"
	"github.com/annel0/mmo-overlay/internal/logging"
	"github.com/annel0/mmo-overlay/internal/model"
	"github.com/annel0/mmo-overlay/internal/observability"
	"github.com/annel0/mmo-overlay/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или OVERLAY_CONFIG)")
	savegame := flag.String("load", "", "сохранение, загружаемое после подключения к движку")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logging.SetLogDir(cfg.Logging.Dir)
	if err := logging.InitDefaultLogger("overlay"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	lm := logging.GetLoggerManager()
	lm.SetDefaultLevel(logging.ParseLevel(cfg.Logging.Level))
	defer lm.CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *savegame); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 Клиент остановлен")
}

func run(ctx context.Context, cfg *config.Config, savegame string) error {
	logging.Info("🎮 Запуск клиента оверлея (мост %s, транспорт %s, шина %s)",
		cfg.Engine.BridgeAddr, cfg.Transport.Mode, cfg.EventBus.Backend)

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("телеметрия: %w", err)
	}
	defer shutdownTelemetry(context.Background())

	// === ШИНА ===
	bus, err := openBus(ctx, cfg.EventBus)
	if err != nil {
		return fmt.Errorf("шина событий: %w", err)
	}
	defer bus.Close()

	exporter := eventbus.NewMetricsExporter(bus, prometheus.DefaultRegisterer)
	exporter.Start(5 * time.Second)
	defer exporter.Stop()

	if sub, err := eventbus.StartLoggingListener(bus, logging.GetComponentLogger("eventbus")); err == nil {
		defer sub.Unsubscribe()
	}

	// === ИСХОДЯЩИЙ ТРАНСПОРТ ===
	source := "overlay-" + uuid.NewString()[:8]
	transportLogger := logging.GetTransportLogger()

	out, closeTransport, err := openTransport(ctx, cfg.Transport, bus, source, transportLogger)
	if err != nil {
		return fmt.Errorf("транспорт: %w", err)
	}
	defer closeTransport()

	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		jrnl, err = journal.Open(journal.Options{Path: cfg.Journal.Path, Compression: "zstd"}, logging.GetComponentLogger("journal"))
		if err != nil {
			return fmt.Errorf("журнал: %w", err)
		}
		defer jrnl.Close()
		out = jrnl.Tee(out)
	}

	// === МОСТ ДВИЖКА ===
	bridge, err := engine.DialStream(ctx, cfg.Engine.BridgeAddr, logging.GetComponentLogger("engine"))
	if err != nil {
		return fmt.Errorf("мост движка: %w", err)
	}
	defer bridge.Close()

	// === МОДЕЛЬ И КЛИЕНТ ===
	reg := correlation.NewRegistry(logging.GetCorrelationLogger())
	go reg.Run(ctx, cfg.Engine.SweepEvery, cfg.Engine.OrphanTTL)

	factory := model.NewFactory(reg)
	index := interest.NewIndex(logging.GetComponentLogger("interest"))
	client := game.New(factory, index, bridge, out, cfg, logging.GetGameLogger())
	defer client.Close()

	fatal := make(chan error, 1)
	dispatcher := dispatch.New(reg, bridge, logging.GetComponentLogger("dispatch"))
	dispatcher.Fatal = func(err error) {
		select {
		case fatal <- err:
		default:
		}
	}
	client.Register(dispatcher)
	go dispatcher.Run(ctx, bridge.Results())

	// === ВХОДЯЩИЕ ПАКЕТЫ ===
	sub, err := bus.Subscribe(ctx, eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		if ev.Source == source {
			return
		}
		p, err := transport.PacketFromEnvelope(ev)
		if err != nil {
			transportLogger.Warn("⚠️ Не удалось разобрать %s от %s: %v", ev.EventType, ev.Source, err)
			return
		}
		if err := client.HandlePacket(ctx, p); err != nil {
			transportLogger.Warn("⚠️ %s: %v", p, err)
		}
	})
	if err != nil {
		return fmt.Errorf("подписка на шину: %w", err)
	}
	defer sub.Unsubscribe()

	// === ДИАГНОСТИКА ===
	server := api.NewServer(api.Config{
		Addr:    fmt.Sprintf(":%d", cfg.API.GetAPIPort()),
		Source:  client,
		Bus:     bus,
		Journal: journalStats(jrnl),
		Logger:  logging.GetComponentLogger("api"),
	})
	go func() {
		if err := server.Start(); err != nil {
			logging.Error("❌ Ошибка диагностического API: %v", err)
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(sctx)
	}()

	if savegame != "" {
		if err := client.LoadGame(ctx, savegame); err != nil {
			return err
		}
	}

	logging.Info("✅ Клиент запущен (источник %s)", source)

	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал завершения")
	case <-client.Quit():
	case err := <-fatal:
		return err
	}
	return nil
}

// journalStats не дает nil-указателю журнала превратиться в непустой интерфейс
func journalStats(j *journal.Journal) api.JournalStats {
	if j == nil {
		return nil
	}
	return j
}

func openBus(ctx context.Context, cfg config.EventBusConfig) (eventbus.EventBus, error) {
	switch cfg.Backend {
	case "", "memory":
		return eventbus.NewMemoryBus(1024), nil
	case "jetstream":
		return eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	case "redis":
		return eventbus.NewRedisBus(ctx, cfg.RedisAddr, cfg.Channel)
	default:
		return nil, fmt.Errorf("неизвестная шина %q", cfg.Backend)
	}
}

// openTransport собирает исходящую цепочку: пакеты с позицией и углом
// проходят через Batcher, остальные уходят сразу.
func openTransport(ctx context.Context, cfg config.TransportConfig, bus eventbus.EventBus, source string, logger *logging.Logger) (transport.Broadcaster, func(), error) {
	var sinks transport.Fanout
	var closers []func()

	if cfg.Mode == "bus" || cfg.Mode == "both" || cfg.Mode == "" {
		sinks = append(sinks, transport.NewBusBroadcaster(bus, source, logger))
	}
	if cfg.Mode == "kcp" || cfg.Mode == "both" {
		name := "none"
		if cfg.Compression {
			name = "zstd"
		}
		comp, err := transport.NewCompressor(name)
		if err != nil {
			return nil, nil, err
		}
		kb, err := transport.DialKCP(ctx, cfg.KCPAddr, comp, logger)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { kb.Close() })
		sinks = append(sinks, kb)
	}
	if len(sinks) == 0 {
		return nil, nil, fmt.Errorf("неизвестный режим транспорта %q", cfg.Mode)
	}

	batcher := transport.NewBatcher(sinks, cfg.FlushInterval, 256, logger)
	closeAll := func() {
		batcher.Stop()
		for _, c := range closers {
			c()
		}
	}
	return batcher, closeAll, nil
}
