package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/pricing"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig               `mapstructure:"http"`
	Database   DatabaseConfig           `mapstructure:"database"`
	ClickHouse DatabaseConfig           `mapstructure:"clickhouse"`
	Redis      RedisConfig              `mapstructure:"redis"`
	Kafka      KafkaConfig              `mapstructure:"kafka"`
	AMQP       AMQPConfig               `mapstructure:"amqp"`
	NATS       NATSConfig               `mapstructure:"nats"`
	Webhook    WebhookConfig            `mapstructure:"webhook"`
	Dispatcher DispatcherConfig         `mapstructure:"dispatcher"`
	Publisher  PublisherConfig          `mapstructure:"publisher"`
	Consumer   ConsumerConfig           `mapstructure:"consumer"`
	RateLimit  RateLimitConfig          `mapstructure:"rate_limit"`
	Pricing    map[string]pricing.Price `mapstructure:"pricing"`
	Log        LogConfig                `mapstructure:"log"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres | mysql; unused for clickhouse
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	Stream       string        `mapstructure:"stream"`
	StreamMaxLen int64         `mapstructure:"stream_max_len"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
	WriteTimeoutMs int      `mapstructure:"write_timeout_ms"`
}

type AMQPConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type WebhookConfig struct {
	URL       string `mapstructure:"url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

type DispatcherConfig struct {
	PollIntervalMs    int    `mapstructure:"poll_interval_ms"`
	BatchSize         int    `mapstructure:"batch_size"`
	Instances         int    `mapstructure:"instances"`
	DeliveryTimeoutMs int    `mapstructure:"delivery_timeout_ms"`
	Embedded          bool   `mapstructure:"embedded"`
	MetricsAddr       string `mapstructure:"metrics_addr"`
}

func (d DispatcherConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalMs) * time.Millisecond
}

func (d DispatcherConfig) DeliveryTimeout() time.Duration {
	return time.Duration(d.DeliveryTimeoutMs) * time.Millisecond
}

type PublisherConfig struct {
	Drivers []string      `mapstructure:"drivers"` // log | kafka | redis | amqp | nats | webhook
	Breaker BreakerConfig `mapstructure:"breaker"`
	Journal bool          `mapstructure:"journal"` // record deliveries in clickhouse
}

type ConsumerConfig struct {
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

var knownDrivers = map[string]bool{
	"log": true, "kafka": true, "redis": true, "amqp": true, "nats": true, "webhook": true,
}

// Validate checks the settings the outbox cannot run without.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver must be postgres or mysql, got %q", c.Database.Driver)
	}
	if c.Dispatcher.PollIntervalMs <= 0 {
		return fmt.Errorf("dispatcher.poll_interval_ms must be positive, got %d", c.Dispatcher.PollIntervalMs)
	}
	if c.Dispatcher.BatchSize <= 0 {
		return fmt.Errorf("dispatcher.batch_size must be positive, got %d", c.Dispatcher.BatchSize)
	}
	for _, d := range c.Publisher.Drivers {
		if !knownDrivers[d] {
			return fmt.Errorf("publisher.drivers: unknown driver %q", d)
		}
	}
	return nil
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (ORDERS_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		// a missing file keeps the defaults
		if err := v.MergeInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	// env override (ORDERS_DATABASE_DSN, ...)
	v.SetEnvPrefix("ORDERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
