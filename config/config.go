package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Reaper   ReaperConfig   `mapstructure:"reaper"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"` // apply embedded migrations on start-up
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// EngineConfig tunes the optimistic retry loop and the row lock wait of the transfer path.
type EngineConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

type QueueConfig struct {
	Attempts      int           `mapstructure:"attempts"`
	Backoff       time.Duration `mapstructure:"backoff"`
	KeepCompleted int64         `mapstructure:"keep_completed"`
	KeepFailed    int64         `mapstructure:"keep_failed"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Concurrency   int           `mapstructure:"concurrency"`
	// Lease is how long a reserved job may stay active before it is redelivered.
	Lease time.Duration `mapstructure:"lease"`
}

type ReaperConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: WLG_ (Wallet LedGer).
// Nested keys use underscore: WLG_DATABASE_HOST, WLG_ENGINE_MAX_ATTEMPTS, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "wallet_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.base_delay", "100ms")
	v.SetDefault("engine.lock_timeout", "5s")
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoff", "2s")
	v.SetDefault("queue.keep_completed", 100)
	v.SetDefault("queue.keep_failed", 50)
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.lease", "30s")
	v.SetDefault("reaper.interval", "1m")
	v.SetDefault("reaper.pending_ttl", "10m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// WLG_DATABASE_HOST -> database.host
	v.SetEnvPrefix("WLG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional; env vars can suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be at least 1, got %d", c.Engine.MaxAttempts)
	}
	if c.Queue.Attempts < 1 {
		return fmt.Errorf("queue.attempts must be at least 1, got %d", c.Queue.Attempts)
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1, got %d", c.Queue.Concurrency)
	}
	return nil
}
