package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "PLANTCARE_"

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Storage    StorageConfig    `json:"storage"`
	Redis      RedisConfig      `json:"redis"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Batcher    BatcherConfig    `json:"batcher"`
	Escalation EscalationConfig `json:"escalation"`
	Activity   ActivityConfig   `json:"activity"`
	Strains    StrainsConfig    `json:"strains"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig represents the HTTP adapter configuration
type ServerConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// StorageConfig selects the task store
type StorageConfig struct {
	Driver string `json:"driver"` // memory, sqlite or postgres
	DSN    string `json:"-"`
}

// RedisConfig configures the shared activity cache and the notification outbox
type RedisConfig struct {
	Enabled   bool   `json:"enabled"`
	Addr      string `json:"addr"`
	Password  string `json:"-"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// SchedulerConfig drives task generation
type SchedulerConfig struct {
	HorizonDays     int `json:"horizon_days"`
	DefaultDueHour  int `json:"default_due_hour"`
	MaxSeriesLength int `json:"max_series_length"`
}

// BatcherConfig drives notification batching and dispatch retries
type BatcherConfig struct {
	MaxBatchSize   int           `json:"max_batch_size"`
	BatchTimeout   time.Duration `json:"batch_timeout"`
	MaxRetries     int           `json:"max_retries"`
	BaseRetryDelay time.Duration `json:"base_retry_delay"`
	RetryCap       time.Duration `json:"retry_cap"`
	StrategyOrder  []string      `json:"strategy_order"`
	MaxStaleness   time.Duration `json:"max_staleness"`
	SentRetention  time.Duration `json:"sent_retention"`
}

// EscalationConfig drives the overdue sweep
type EscalationConfig struct {
	SweepInterval time.Duration `json:"sweep_interval"`
}

// ActivityConfig configures activity profile caching
type ActivityConfig struct {
	CacheTTL time.Duration `json:"cache_ttl"`
}

// StrainsConfig points at an optional YAML strain catalog
type StrainsConfig struct {
	CatalogPath string `json:"catalog_path,omitempty"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "localhost",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "plantcare:",
		},
		Scheduler: SchedulerConfig{
			HorizonDays:     7,
			DefaultDueHour:  9,
			MaxSeriesLength: 365,
		},
		Batcher: BatcherConfig{
			MaxBatchSize:   20,
			BatchTimeout:   5 * time.Second,
			MaxRetries:     3,
			BaseRetryDelay: time.Second,
			RetryCap:       15 * time.Second,
			StrategyOrder:  []string{"daily", "plant-grouped", "priority-grouped"},
			MaxStaleness:   24 * time.Hour,
			SentRetention:  48 * time.Hour,
		},
		Escalation: EscalationConfig{
			SweepInterval: 5 * time.Minute,
		},
		Activity: ActivityConfig{
			CacheTTL: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from .env (if present) and environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := DefaultConfig()

	if err := loadFromEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func loadFromEnv(config *Config) error {
	loaders := []func(*Config) error{
		loadServerConfig,
		loadStorageConfig,
		loadRedisConfig,
		loadSchedulerConfig,
		loadBatcherConfig,
		loadEscalationAndActivityConfig,
		loadLoggingConfig,
	}
	for _, load := range loaders {
		if err := load(config); err != nil {
			return err
		}
	}
	return nil
}

func loadServerConfig(config *Config) error {
	if err := envInt("PORT", &config.Server.Port); err != nil {
		return err
	}
	envString("HOST", &config.Server.Host)
	if err := envDuration("READ_TIMEOUT", &config.Server.ReadTimeout); err != nil {
		return err
	}
	return envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
}

func loadStorageConfig(config *Config) error {
	envString("STORAGE_DRIVER", &config.Storage.Driver)
	envString("STORAGE_DSN", &config.Storage.DSN)
	if config.Storage.DSN == "" {
		// lib/pq convention
		envRaw("DATABASE_URL", &config.Storage.DSN)
	}
	return nil
}

func loadRedisConfig(config *Config) error {
	if err := envBool("REDIS_ENABLED", &config.Redis.Enabled); err != nil {
		return err
	}
	envString("REDIS_ADDR", &config.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Redis.Password)
	envString("REDIS_KEY_PREFIX", &config.Redis.KeyPrefix)
	return envInt("REDIS_DB", &config.Redis.DB)
}

func loadSchedulerConfig(config *Config) error {
	if err := envInt("HORIZON_DAYS", &config.Scheduler.HorizonDays); err != nil {
		return err
	}
	if err := envInt("DEFAULT_DUE_HOUR", &config.Scheduler.DefaultDueHour); err != nil {
		return err
	}
	return envInt("MAX_SERIES_LENGTH", &config.Scheduler.MaxSeriesLength)
}

func loadBatcherConfig(config *Config) error {
	b := &config.Batcher
	if err := envInt("MAX_BATCH_SIZE", &b.MaxBatchSize); err != nil {
		return err
	}
	if err := envDuration("BATCH_TIMEOUT", &b.BatchTimeout); err != nil {
		return err
	}
	if err := envInt("MAX_RETRIES", &b.MaxRetries); err != nil {
		return err
	}
	if err := envDuration("BASE_RETRY_DELAY", &b.BaseRetryDelay); err != nil {
		return err
	}
	if err := envDuration("RETRY_CAP", &b.RetryCap); err != nil {
		return err
	}
	if err := envDuration("MAX_STALENESS", &b.MaxStaleness); err != nil {
		return err
	}
	if err := envDuration("SENT_RETENTION", &b.SentRetention); err != nil {
		return err
	}
	if order := os.Getenv(envPrefix + "STRATEGY_ORDER"); order != "" {
		b.StrategyOrder = splitList(order)
	}
	return nil
}

func loadEscalationAndActivityConfig(config *Config) error {
	if err := envDuration("SWEEP_INTERVAL", &config.Escalation.SweepInterval); err != nil {
		return err
	}
	if err := envDuration("ACTIVITY_CACHE_TTL", &config.Activity.CacheTTL); err != nil {
		return err
	}
	envString("STRAIN_CATALOG", &config.Strains.CatalogPath)
	return nil
}

func loadLoggingConfig(config *Config) error {
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage DSN is required for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Storage.Driver)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address cannot be empty when redis is enabled")
	}

	if c.Scheduler.HorizonDays < 1 {
		return fmt.Errorf("horizon days must be positive")
	}
	if c.Scheduler.DefaultDueHour < 0 || c.Scheduler.DefaultDueHour > 23 {
		return fmt.Errorf("default due hour must be between 0 and 23")
	}
	if c.Scheduler.MaxSeriesLength < 1 {
		return fmt.Errorf("max series length must be positive")
	}

	if c.Batcher.MaxBatchSize < 1 {
		return fmt.Errorf("max batch size must be positive")
	}
	if c.Batcher.BatchTimeout <= 0 {
		return fmt.Errorf("batch timeout must be positive")
	}
	if c.Batcher.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Batcher.RetryCap < c.Batcher.BaseRetryDelay {
		return fmt.Errorf("retry cap must be at least the base retry delay")
	}
	if len(c.Batcher.StrategyOrder) == 0 {
		return fmt.Errorf("strategy order cannot be empty")
	}
	seen := make(map[string]bool, len(c.Batcher.StrategyOrder))
	for _, s := range c.Batcher.StrategyOrder {
		switch s {
		case "daily", "plant-grouped", "priority-grouped":
		default:
			return fmt.Errorf("unknown batching strategy: %q", s)
		}
		if seen[s] {
			return fmt.Errorf("duplicate batching strategy: %q", s)
		}
		seen[s] = true
	}

	if c.Escalation.SweepInterval <= 0 {
		return fmt.Errorf("escalation sweep interval must be positive")
	}
	if c.Activity.CacheTTL < 0 {
		return fmt.Errorf("activity cache TTL cannot be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format: %q", c.Logging.Format)
	}

	return nil
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func envString(key string, dst *string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func envRaw(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
