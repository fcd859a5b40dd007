package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации клиента.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Transport TransportConfig `yaml:"transport"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Journal   JournalConfig   `yaml:"journal"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EngineConfig описывает подключение к мосту движка и бюджеты ожидания.
type EngineConfig struct {
	BridgeAddr string   `yaml:"bridge_addr"`
	Timeouts   Timeouts `yaml:"timeouts"`
	// Интервал сборки осиротевших слотов корреляции
	SweepEvery time.Duration `yaml:"sweep_every"`
	OrphanTTL  time.Duration `yaml:"orphan_ttl"`
}

// Timeouts бюджеты ожидания ответов движка по классам операций.
type Timeouts struct {
	Query     time.Duration `yaml:"query"`     // GetBase, GetRefCount, ScanCell, ScanContainer, ...
	Placement time.Duration `yaml:"placement"` // PlaceAtMe
	Load      time.Duration `yaml:"load"`      // Load, CenterOnCell/Exterior/World
}

type ReconcileConfig struct {
	MaxCandidates int     `yaml:"max_candidates"`
	SpawnOffset   float64 `yaml:"spawn_offset"`
	SpawnLiftZ    float64 `yaml:"spawn_lift_z"`
}

type TransportConfig struct {
	Mode          string        `yaml:"mode"` // bus | kcp | both
	KCPAddr       string        `yaml:"kcp_addr"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   bool          `yaml:"compression"`
}

type EventBusConfig struct {
	Backend   string `yaml:"backend"` // memory | jetstream | redis
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	RedisAddr string `yaml:"redis_addr"`
	Channel   string `yaml:"channel"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type APIConfig struct {
	Port int `yaml:"port"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			BridgeAddr: "127.0.0.1:1770",
			Timeouts: Timeouts{
				Query:     5 * time.Second,
				Placement: 15 * time.Second,
				Load:      60 * time.Second,
			},
			SweepEvery: 30 * time.Second,
			OrphanTTL:  2 * time.Minute,
		},
		Reconcile: ReconcileConfig{
			MaxCandidates: 12,
			SpawnOffset:   100.0,
			SpawnLiftZ:    70.0,
		},
		Transport: TransportConfig{
			Mode:          "bus",
			KCPAddr:       "127.0.0.1:1771",
			FlushInterval: 50 * time.Millisecond,
			Compression:   true,
		},
		EventBus: EventBusConfig{
			Backend:   "memory",
			URL:       "nats://127.0.0.1:4222",
			Stream:    "OVERLAY",
			Retention: 24,
			RedisAddr: "127.0.0.1:6379",
			Channel:   "overlay.packets",
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    "data/journal",
		},
		API: APIConfig{Port: 8089},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "mmo-overlay",
		},
		Logging: LoggingConfig{Level: "INFO", Dir: "logs"},
	}
}

// GetAPIPort возвращает порт диагностического API: config -> env -> default
func (a *APIConfig) GetAPIPort() int {
	return getPortWithEnvFallback(a.Port, "OVERLAY_API_PORT", 8089)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// applyEnv переопределяет адреса внешних сервисов из окружения.
func (c *Config) applyEnv() {
	if v := os.Getenv("NATS_URL"); v != "" {
		c.EventBus.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.EventBus.RedisAddr = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := os.Getenv("OVERLAY_BRIDGE_ADDR"); v != "" {
		c.Engine.BridgeAddr = v
	}
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV OVERLAY_CONFIG, иначе возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("OVERLAY_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}
