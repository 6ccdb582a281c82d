// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Operator inbound modes.
const (
	InboundPoll    = "poll"
	InboundWebhook = "webhook"
	InboundOff     = "off"
)

// Persist failure policies.
const (
	PersistNotify = "notify"
	PersistSilent = "silent"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the public listen address (websocket, webhook, health).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// Port, when set, replaces the port of HTTPAddr. PaaS hosts inject it.
	Port string `mapstructure:"PORT"`
	// AdminGRPCAddr serves grpc.health.v1; empty disables the admin server.
	AdminGRPCAddr string `mapstructure:"ADMIN_GRPC_ADDR"`
	// AllowOrigin is the CORS origin for HTTP routes and the websocket origin check ("*" for any).
	AllowOrigin string `mapstructure:"ALLOW_ORIGIN"`

	// StoreBackend is redis, postgres or memory.
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	RedisURL     string `mapstructure:"REDIS_URL"`
	// DatabaseURL is the Postgres DSN; required for the postgres backend and cmd/migrate.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// HistoryTTLRaw is how long history, sessions and routes live after their last write (e.g. "168h").
	HistoryTTLRaw   string `mapstructure:"HISTORY_TTL"`
	StoreTimeoutRaw string `mapstructure:"STORE_TIMEOUT"`
	// PersistFailurePolicy is notify (send a not_saved notice) or silent.
	PersistFailurePolicy string `mapstructure:"PERSIST_FAILURE_POLICY"`

	// OperatorBotToken is the Telegram bot token. Empty logs outbound messages instead of sending them.
	OperatorBotToken string `mapstructure:"OPERATOR_BOT_TOKEN"`
	OperatorAPIURL   string `mapstructure:"OPERATOR_API_URL"`
	// OperatorChatID is the default destination of client messages.
	OperatorChatID   string `mapstructure:"OPERATOR_CHAT_ID"`
	OperatorThreadID string `mapstructure:"OPERATOR_THREAD_ID"`
	// OperatorTopicPerSession opens a forum topic per session in OperatorChatID.
	OperatorTopicPerSession bool   `mapstructure:"OPERATOR_TOPIC_PER_SESSION"`
	OperatorInboundMode     string `mapstructure:"OPERATOR_INBOUND_MODE"`
	OperatorWebhookSecret   string `mapstructure:"OPERATOR_WEBHOOK_SECRET"`
	OperatorPollTimeoutRaw  string `mapstructure:"OPERATOR_POLL_TIMEOUT"`
	// AckText, when set, is sent back to the client after each message.
	AckText      string `mapstructure:"ACK_TEXT"`
	DedupeTTLRaw string `mapstructure:"DEDUPE_TTL"`

	// SessionTokenPrivateKey is a PEM key (or path to one); setting it enables signed session tokens.
	SessionTokenPrivateKey string `mapstructure:"SESSION_TOKEN_PRIVATE_KEY"`
	// SessionTokenPublicKey is optional; it is derived from the private key when empty.
	SessionTokenPublicKey string `mapstructure:"SESSION_TOKEN_PUBLIC_KEY"`
	SessionTokenTTLRaw    string `mapstructure:"SESSION_TOKEN_TTL"`
	// InboundPolicyFile is an optional Rego file replacing the default inbound admission policy.
	InboundPolicyFile string `mapstructure:"INBOUND_POLICY_FILE"`

	// Telemetry (optional). No endpoint means no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	LogFormat    string `mapstructure:"LOG_FORMAT"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses; empty disables relay events on Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// RelayKafkaTopic is the Kafka topic for relay events.
	RelayKafkaTopic string `mapstructure:"RELAY_KAFKA_TOPIC"`
	// Worker-only: consumer group and Loki push URL.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	LokiURL      string `mapstructure:"LOKI_URL"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":10000")
	v.SetDefault("PORT", "")
	v.SetDefault("ADMIN_GRPC_ADDR", ":9090")
	v.SetDefault("ALLOW_ORIGIN", "*")
	v.SetDefault("STORE_BACKEND", BackendRedis)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("HISTORY_TTL", "168h") // 7d
	v.SetDefault("STORE_TIMEOUT", "3s")
	v.SetDefault("PERSIST_FAILURE_POLICY", PersistNotify)
	v.SetDefault("OPERATOR_BOT_TOKEN", "")
	v.SetDefault("OPERATOR_API_URL", "https://api.telegram.org")
	v.SetDefault("OPERATOR_CHAT_ID", "")
	v.SetDefault("OPERATOR_THREAD_ID", "")
	v.SetDefault("OPERATOR_TOPIC_PER_SESSION", false)
	v.SetDefault("OPERATOR_INBOUND_MODE", InboundPoll)
	v.SetDefault("OPERATOR_WEBHOOK_SECRET", "")
	v.SetDefault("OPERATOR_POLL_TIMEOUT", "30s")
	v.SetDefault("ACK_TEXT", "")
	v.SetDefault("DEDUPE_TTL", "10m")
	v.SetDefault("SESSION_TOKEN_PRIVATE_KEY", "")
	v.SetDefault("SESSION_TOKEN_PUBLIC_KEY", "")
	v.SetDefault("SESSION_TOKEN_TTL", "720h") // 30d
	v.SetDefault("INBOUND_POLICY_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "rouyeshno-bridge")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("RELAY_KAFKA_TOPIC", "rouyeshno-relay")
	v.SetDefault("KAFKA_GROUP_ID", "rouyeshno-relay-archiver")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.OperatorInboundMode = strings.ToLower(strings.TrimSpace(c.OperatorInboundMode))
	c.PersistFailurePolicy = strings.ToLower(strings.TrimSpace(c.PersistFailurePolicy))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.OperatorChatID = strings.TrimSpace(c.OperatorChatID)
	c.OperatorThreadID = strings.TrimSpace(c.OperatorThreadID)
}

// Validate checks field combinations. Load calls it; it is exported for tests and callers
// that build a Config by hand.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch c.StoreBackend {
	case BackendRedis, BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.OperatorInboundMode {
	case InboundPoll, InboundOff:
	case InboundWebhook:
		if c.OperatorWebhookSecret == "" && c.IsProduction() {
			return errors.New("config: OPERATOR_WEBHOOK_SECRET must be set for webhook mode when APP_ENV=production")
		}
	default:
		return fmt.Errorf("config: unknown OPERATOR_INBOUND_MODE %q", c.OperatorInboundMode)
	}
	switch c.PersistFailurePolicy {
	case PersistNotify, PersistSilent:
	default:
		return fmt.Errorf("config: unknown PERSIST_FAILURE_POLICY %q", c.PersistFailurePolicy)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown LOG_FORMAT %q", c.LogFormat)
	}
	if c.SessionTokenPublicKey != "" && c.SessionTokenPrivateKey == "" {
		return errors.New("config: SESSION_TOKEN_PUBLIC_KEY requires SESSION_TOKEN_PRIVATE_KEY")
	}
	if c.OperatorTopicPerSession && c.OperatorChatID == "" {
		return errors.New("config: OPERATOR_TOPIC_PER_SESSION requires OPERATOR_CHAT_ID")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// ListenAddr returns HTTPAddr with its port replaced by Port when Port is set.
func (c *Config) ListenAddr() string {
	if c.Port == "" {
		return c.HTTPAddr
	}
	host, _, err := net.SplitHostPort(c.HTTPAddr)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, c.Port)
}

// EffectiveStoreBackend returns the backend to open. The redis backend without REDIS_URL
// falls back to memory; fellBack reports that so the caller can warn.
func (c *Config) EffectiveStoreBackend() (backend string, fellBack bool) {
	if c.StoreBackend == BackendRedis && c.RedisURL == "" {
		return BackendMemory, true
	}
	return c.StoreBackend, false
}

// NotifyOnPersistFailure reports whether clients get a not_saved notice.
func (c *Config) NotifyOnPersistFailure() bool {
	return c.PersistFailurePolicy != PersistSilent
}

// SessionTokensEnabled reports whether signed session tokens are configured.
func (c *Config) SessionTokensEnabled() bool {
	return c.SessionTokenPrivateKey != ""
}

func parseDuration(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// HistoryTTL parses HistoryTTLRaw. Returns 168h if unset or invalid.
func (c *Config) HistoryTTL() time.Duration {
	return parseDuration(c.HistoryTTLRaw, 168*time.Hour)
}

// StoreTimeout parses StoreTimeoutRaw. Returns 3s if unset or invalid.
func (c *Config) StoreTimeout() time.Duration {
	return parseDuration(c.StoreTimeoutRaw, 3*time.Second)
}

// OperatorPollTimeout parses OperatorPollTimeoutRaw. Returns 30s if unset or invalid.
func (c *Config) OperatorPollTimeout() time.Duration {
	return parseDuration(c.OperatorPollTimeoutRaw, 30*time.Second)
}

// DedupeTTL parses DedupeTTLRaw. Returns 10m if unset or invalid.
func (c *Config) DedupeTTL() time.Duration {
	return parseDuration(c.DedupeTTLRaw, 10*time.Minute)
}

// SessionTokenTTL parses SessionTokenTTLRaw. Returns 720h if unset or invalid.
func (c *Config) SessionTokenTTL() time.Duration {
	return parseDuration(c.SessionTokenTTLRaw, 720*time.Hour)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if relay events go to Kafka (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	return splitList(c.KafkaBrokers)
}

// AllowedOrigins returns ALLOW_ORIGIN split on commas for the websocket origin check.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.AllowOrigin)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
