// Package config loads and validates frontier configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Store      StoreConfig      `mapstructure:"store"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Seen       SeenConfig       `mapstructure:"seen"`
	Events     EventsConfig     `mapstructure:"events"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Job        JobConfig        `mapstructure:"job"`
	Balancer   BalancerConfig   `mapstructure:"balancer"`
	Completion CompletionConfig `mapstructure:"completion"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	PublicURL      string        `mapstructure:"public_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// RateLimitRPS caps requests per client on the API routes; 0 disables it.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlConfig holds the limits applied to submissions that omit them.
type CrawlConfig struct {
	MaxDepthDefault   int  `mapstructure:"max_depth_default"`
	MaxPagesDefault   int  `mapstructure:"max_pages_default"`
	SameDomainDefault bool `mapstructure:"same_domain_default"`
}

// QueueConfig selects the queue backend and the attributes of crawl queues.
type QueueConfig struct {
	Backend           string        `mapstructure:"backend"`
	Prefix            string        `mapstructure:"prefix"`
	DLQSuffix         string        `mapstructure:"dlq_suffix"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	ReceiveWait       time.Duration `mapstructure:"receive_wait"`
	MaxReceiveCount   int           `mapstructure:"max_receive_count"`
	TablePrefix       string        `mapstructure:"table_prefix"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// StoreConfig selects the crawl and page store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	CrawlTable      string        `mapstructure:"crawl_table"`
	PageTable       string        `mapstructure:"page_table"`
	EventTable      string        `mapstructure:"event_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// StorageConfig sets the blob backend and how page content is written.
type StorageConfig struct {
	Backend     string             `mapstructure:"backend"`
	Bucket      string             `mapstructure:"bucket"`
	Prefix      string             `mapstructure:"prefix"`
	ContentType string             `mapstructure:"content_type"`
	Local       LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem blob store.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// CacheConfig bounds the staleness of the crawl read caches.
type CacheConfig struct {
	CrawlTTL   time.Duration `mapstructure:"crawl_ttl"`
	RunningTTL time.Duration `mapstructure:"running_ttl"`
	CrawlSize  int           `mapstructure:"crawl_size"`
}

// SeenConfig selects the advisory seen-URL set.
type SeenConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis seen set.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// EventsConfig selects where crawl events are published and how the event
// hub batches them.
type EventsConfig struct {
	Backend string `mapstructure:"backend"`
	Topic   string `mapstructure:"topic"`
	Journal bool   `mapstructure:"journal"`
	Log     bool   `mapstructure:"log"`

	BufferSize   int           `mapstructure:"buffer_size"`
	MaxBatch     int           `mapstructure:"max_batch"`
	MaxBatchWait time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout  time.Duration `mapstructure:"sink_timeout"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// KafkaConfig holds Kafka connection settings.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// JobConfig bounds job lease requests.
type JobConfig struct {
	MaxNum int `mapstructure:"max_num"`
}

// BalancerConfig selects the candidate selection policy.
type BalancerConfig struct {
	Policy string `mapstructure:"policy"`
}

// CompletionConfig tunes page completion.
type CompletionConfig struct {
	AdmitConcurrency int `mapstructure:"admit_concurrency"`
}

// TelemetryConfig describes the service to OpenTelemetry. Traces are exported
// to Google Cloud Trace only when TraceProjectID is set.
type TelemetryConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	Version        string `mapstructure:"version"`
	TraceProjectID string `mapstructure:"trace_project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FRONTIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.public_url", "http://localhost:3000")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.rate_limit_rps", 0)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("crawl.max_depth_default", 10)
	v.SetDefault("crawl.max_pages_default", 1000)
	v.SetDefault("crawl.same_domain_default", true)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.prefix", "crawl-queue-")
	v.SetDefault("queue.dlq_suffix", "-dlq")
	v.SetDefault("queue.visibility_timeout", "20s")
	v.SetDefault("queue.receive_wait", "1s")
	v.SetDefault("queue.max_receive_count", 2)
	v.SetDefault("queue.table_prefix", "frontier")
	v.SetDefault("queue.poll_interval", "100ms")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.crawl_table", "crawls")
	v.SetDefault("database.page_table", "pages")
	v.SetDefault("database.event_table", "crawl_events")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.local.base_dir", "data/pages")
	v.SetDefault("cache.crawl_ttl", "10s")
	v.SetDefault("cache.running_ttl", "10s")
	v.SetDefault("cache.crawl_size", 4096)
	v.SetDefault("seen.backend", "memory")
	v.SetDefault("seen.redis.addr", "localhost:6379")
	v.SetDefault("seen.redis.password", "")
	v.SetDefault("seen.redis.db", 0)
	v.SetDefault("seen.redis.key_prefix", "frontier:seen:")
	v.SetDefault("seen.redis.ttl", "24h")
	v.SetDefault("events.backend", "none")
	v.SetDefault("events.topic", "crawl-events")
	v.SetDefault("events.journal", true)
	v.SetDefault("events.log", false)
	v.SetDefault("events.buffer_size", 4096)
	v.SetDefault("events.max_batch", 100)
	v.SetDefault("events.max_batch_wait", "250ms")
	v.SetDefault("events.sink_timeout", "10s")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "crawl-events")
	v.SetDefault("job.max_num", 10)
	v.SetDefault("balancer.policy", "random")
	v.SetDefault("completion.admit_concurrency", 8)
	v.SetDefault("telemetry.service_name", "crawl-frontier")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.trace_project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawl.MaxDepthDefault < -1 || c.Crawl.MaxPagesDefault < -1 {
		return fmt.Errorf("crawl defaults must be >= -1")
	}
	if c.Queue.VisibilityTimeout <= 0 {
		return fmt.Errorf("queue.visibility_timeout must be > 0")
	}
	if c.Queue.ReceiveWait < 0 {
		return fmt.Errorf("queue.receive_wait must be >= 0")
	}
	if c.Queue.MaxReceiveCount <= 0 {
		return fmt.Errorf("queue.max_receive_count must be > 0")
	}
	if c.Job.MaxNum <= 0 {
		return fmt.Errorf("job.max_num must be > 0")
	}
	if c.Events.BufferSize < 0 || c.Events.MaxBatch < 0 {
		return fmt.Errorf("events.buffer_size and events.max_batch must be >= 0")
	}
	if c.Completion.AdmitConcurrency <= 0 {
		return fmt.Errorf("completion.admit_concurrency must be > 0")
	}
	if err := oneOf("queue.backend", c.Queue.Backend, "memory", "postgres"); err != nil {
		return err
	}
	if err := oneOf("store.backend", c.Store.Backend, "memory", "postgres"); err != nil {
		return err
	}
	if (c.Queue.Backend == "postgres" || c.Store.Backend == "postgres") && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set for the postgres backend")
	}
	if err := oneOf("storage.backend", c.Storage.Backend, "memory", "local", "gcs"); err != nil {
		return err
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set for the gcs backend")
	}
	if err := oneOf("seen.backend", c.Seen.Backend, "memory", "redis"); err != nil {
		return err
	}
	if err := oneOf("events.backend", c.Events.Backend, "none", "memory", "pubsub", "kafka"); err != nil {
		return err
	}
	if c.Events.Backend == "pubsub" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set for the pubsub events backend")
	}
	if c.Events.Backend == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must be set for the kafka events backend")
	}
	return oneOf("balancer.policy", c.Balancer.Policy, "random", "oldest")
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
}
