// Package config loads service settings from defaults, an optional YAML file and the
// environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the YAML file to load. Without it config.yaml is used when present.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix marks structured overrides: EZMOVE_HTTP__ADDR sets http.addr.
const EnvPrefix = "EZMOVE_"

var defaultConfigPaths = []string{"config.yaml", "/etc/ezmove/config.yaml"}

type Config struct {
	Service  ServiceConfig  `koanf:"service"`
	HTTP     HTTPConfig     `koanf:"http"`
	GRPC     GRPCConfig     `koanf:"grpc"`
	Postgres PostgresConfig `koanf:"postgres"`
	Redis    RedisConfig    `koanf:"redis"`
	NATS     NATSConfig     `koanf:"nats"`
	Kafka    KafkaConfig    `koanf:"kafka"`
	Auth     AuthConfig     `koanf:"auth"`
	Tracking TrackingConfig `koanf:"tracking"`
	Outbox   OutboxConfig   `koanf:"outbox"`
	ETA      ETAConfig      `koanf:"eta"`
}

type ServiceConfig struct {
	Name     string `koanf:"name"`
	LogLevel string `koanf:"log_level"`
}

type HTTPConfig struct {
	Addr              string          `koanf:"addr"`
	ReadHeaderTimeout time.Duration   `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration   `koanf:"shutdown_timeout"`
	CORSOrigins       []string        `koanf:"cors_origins"`
	RateLimit         RateLimitConfig `koanf:"rate_limit"`
}

// RateLimitConfig holds token bucket rates in requests per second.
type RateLimitConfig struct {
	ReadRate   float64 `koanf:"read_rate"`
	ReadBurst  float64 `koanf:"read_burst"`
	WriteRate  float64 `koanf:"write_rate"`
	WriteBurst float64 `koanf:"write_burst"`
}

type GRPCConfig struct {
	Addr string `koanf:"addr"`
}

// PostgresConfig selects the relational store. An empty DSN runs the in-memory stores.
type PostgresConfig struct {
	DSN         string `koanf:"dsn"`
	DatabaseURL string `koanf:"database_url"`
	MaxConns    int32  `koanf:"max_conns"`
	MinConns    int32  `koanf:"min_conns"`
	Migrate     bool   `koanf:"migrate"`
}

type RedisConfig struct {
	Addr           string        `koanf:"addr"`
	Password       string        `koanf:"password"`
	DB             int           `koanf:"db"`
	CachePrefix    string        `koanf:"cache_prefix"`
	IdempotencyTTL time.Duration `koanf:"idempotency_ttl"`
}

type NATSConfig struct {
	URL         string `koanf:"url"`
	JobSubject  string `koanf:"job_subject"`
	ConnectName string `koanf:"connect_name"`
}

type KafkaConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	Buffer  int      `koanf:"buffer"`
}

type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

type TrackingConfig struct {
	EvictionGrace   time.Duration `koanf:"eviction_grace"`
	SendBuffer      int           `koanf:"send_buffer"`
	MaxMessageBytes int64         `koanf:"max_message_bytes"`
	EventTimeout    time.Duration `koanf:"event_timeout"`
	PongWait        time.Duration `koanf:"pong_wait"`
}

type OutboxConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
	BatchSize    int           `koanf:"batch_size"`
	RetryMax     int           `koanf:"retry_max"`
	Retention    time.Duration `koanf:"retention"`
}

type ETAConfig struct {
	SpeedKmh float64 `koanf:"speed_kmh"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Service: ServiceConfig{Name: "tracking-service", LogLevel: "info"},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{"http://localhost:8001", "http://localhost:3000"},
			RateLimit:         RateLimitConfig{ReadRate: 20, ReadBurst: 40, WriteRate: 5, WriteBurst: 10},
		},
		GRPC:     GRPCConfig{Addr: ":9090"},
		Postgres: PostgresConfig{MaxConns: 10, MinConns: 1, Migrate: true},
		Redis:    RedisConfig{CachePrefix: "tracking:driver:", IdempotencyTTL: 24 * time.Hour},
		NATS:     NATSConfig{JobSubject: "job.events", ConnectName: "tracking-service"},
		Kafka:    KafkaConfig{Topic: "driver-locations", Buffer: 1024},
		Auth:     AuthConfig{TokenTTL: 15 * time.Minute},
		Tracking: TrackingConfig{
			EvictionGrace:   5 * time.Minute,
			SendBuffer:      64,
			MaxMessageBytes: 8192,
			EventTimeout:    10 * time.Second,
			PongWait:        60 * time.Second,
		},
		Outbox: OutboxConfig{PollInterval: 200 * time.Millisecond, BatchSize: 100, RetryMax: 3, Retention: 72 * time.Hour},
		ETA:    ETAConfig{SpeedKmh: 40},
	}
}

// Load layers defaults, the YAML file at path (or the discovered one when path is empty) and
// the environment, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := splitLists(k); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		cfg.Postgres.DSN = cfg.Postgres.DatabaseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Tracking.EvictionGrace <= 0 {
		errs = append(errs, errors.New("tracking.eviction_grace must be positive"))
	}
	if c.Tracking.SendBuffer <= 0 {
		errs = append(errs, errors.New("tracking.send_buffer must be positive"))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("outbox.batch_size must be positive"))
	}
	if c.ETA.SpeedKmh <= 0 {
		errs = append(errs, errors.New("eta.speed_kmh must be positive"))
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		errs = append(errs, fmt.Errorf("postgres.min_conns %d exceeds max_conns %d", c.Postgres.MinConns, c.Postgres.MaxConns))
	}
	return errors.Join(errs...)
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var legacyEnv = map[string]string{
	"HTTP_ADDR":     "http.addr",
	"GRPC_ADDR":     "grpc.addr",
	"POSTGRES_DSN":  "postgres.dsn",
	"DATABASE_URL":  "postgres.database_url",
	"REDIS_ADDR":    "redis.addr",
	"NATS_URL":      "nats.url",
	"KAFKA_BROKERS": "kafka.brokers",
	"JWT_SECRET":    "auth.jwt_secret",
	"LOG_LEVEL":     "service.log_level",
	"CORS_ORIGINS":  "http.cors_origins",
}

// envKey maps an environment variable to a config path. Unknown variables map to "" and are
// ignored.
func envKey(key string) string {
	if path, ok := legacyEnv[key]; ok {
		return path
	}
	if rest, ok := strings.CutPrefix(key, EnvPrefix); ok && rest != "" {
		return strings.ToLower(strings.ReplaceAll(rest, "__", "."))
	}
	return ""
}

var listPaths = []string{"http.cors_origins", "kafka.brokers"}

// splitLists turns comma separated environment values into slices.
func splitLists(k *koanf.Koanf) error {
	for _, path := range listPaths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var items []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		if err := k.Set(path, items); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
