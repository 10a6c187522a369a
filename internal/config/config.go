package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Service      ServiceConfig      `mapstructure:"service"`
	Log          LogConfig          `mapstructure:"log"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	MySQL        DatabaseConfig     `mapstructure:"mysql"`
	ClickHouse   DatabaseConfig     `mapstructure:"clickhouse"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	BrokerHealth BrokerHealthConfig `mapstructure:"broker_health"`
	Outbox       OutboxConfig       `mapstructure:"outbox"`
	Consumer     ConsumerConfig     `mapstructure:"consumer"`
	SyncUp       SyncUpConfig       `mapstructure:"sync_up"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Topics       []TopicRoute       `mapstructure:"topics"`
}

// ---- Leaf structs ----

type ServiceConfig struct {
	Name string `mapstructure:"name"` // identity | instruments | warehouse | patients | test-orders | monitoring
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // json | console
}

type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedSources []string `mapstructure:"allowed_sources"` // X-Source-Service allow-list; empty = any
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
	ConnectRetry    time.Duration `mapstructure:"connect_retry"` // total budget for startup pings
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
	Lazy        bool          `mapstructure:"lazy"` // start without redis; the limiter fails open
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval int           `mapstructure:"commit_interval_ms"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type BrokerHealthConfig struct {
	BrokerName       string        `mapstructure:"broker_name"`
	Interval         time.Duration `mapstructure:"interval"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"` // rows per page; a tick walks every page. 0 = one unbounded query
	MaxInFlight  int           `mapstructure:"max_in_flight"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	WarnEvery    time.Duration `mapstructure:"warn_every"`
}

type ConsumerConfig struct {
	Topics          []string      `mapstructure:"topics"`
	Workers         int           `mapstructure:"workers"`
	RetryMaxElapsed time.Duration `mapstructure:"retry_max_elapsed"` // 0 = retry until shutdown
}

type SyncUpConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	StreamPath       string        `mapstructure:"stream_path"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Limit            int           `mapstructure:"limit"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	TriggerEventType string        `mapstructure:"trigger_event_type"`
	AggregateType    string        `mapstructure:"aggregate_type"`
}

type RateLimitConfig struct {
	RPS       int            `mapstructure:"rps"`
	PerSource map[string]int `mapstructure:"per_source"` // keys are source services; 0 exempts
}

// TopicRoute is one row of the static eventType -> topic table. A list is used
// instead of a map because viper lower-cases map keys.
type TopicRoute struct {
	EventType string `mapstructure:"event_type"`
	Topic     string `mapstructure:"topic"`
}

// TopicTable flattens Topics for the resolver.
func (c Config) TopicTable() map[string]string {
	out := make(map[string]string, len(c.Topics))
	for _, r := range c.Topics {
		out[r.EventType] = r.Topic
	}
	return out
}

// Validate checks the settings every command relies on.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is empty"))
	}
	if c.BrokerHealth.Interval <= 0 {
		errs = append(errs, fmt.Errorf("broker_health.interval must be positive, got %s", c.BrokerHealth.Interval))
	}
	if c.BrokerHealth.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("broker_health.failure_threshold must be positive, got %d", c.BrokerHealth.FailureThreshold))
	}
	if c.Outbox.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("outbox.poll_interval must be positive, got %s", c.Outbox.PollInterval))
	}
	seen := make(map[string]struct{}, len(c.Topics))
	for _, r := range c.Topics {
		if r.EventType == "" || r.Topic == "" {
			errs = append(errs, fmt.Errorf("topics: incomplete route %+v", r))
			continue
		}
		if _, dup := seen[r.EventType]; dup {
			errs = append(errs, fmt.Errorf("topics: duplicate event type %q", r.EventType))
		}
		seen[r.EventType] = struct{}{}
	}
	return errors.Join(errs...)
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (LABOPS_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("merge %s: %w", path, err)
		}
	}

	// env override (LABOPS_MYSQL_DSN, LABOPS_SERVICE_NAME, ...)
	v.SetEnvPrefix("LABOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
