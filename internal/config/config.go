package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr           string `mapstructure:"addr"`
		LogLevel       string `mapstructure:"log_level"`
		ProjectID      string `mapstructure:"project_id"`
		RequestTimeout int    `mapstructure:"request_timeout_ms"`
	} `mapstructure:"server"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Redis struct {
		Addr       string `mapstructure:"addr"` // empty disables the user-state cache
		Password   string `mapstructure:"password"`
		DB         int    `mapstructure:"db"`
		TTLSeconds int    `mapstructure:"ttl_seconds"`
		// bounds the in-memory fallback cache
		LocalMaxEntries int `mapstructure:"local_max_entries"`
	} `mapstructure:"redis"`

	Refresh struct {
		Schedule string `mapstructure:"schedule"` // cron spec, e.g. "@every 5m"
	} `mapstructure:"refresh"`

	RateLimit struct {
		RPS   float64 `mapstructure:"rps"`
		Burst int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

// bindEnv registers every key so APP_* variables apply without a config file.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"server.addr", "server.log_level", "server.project_id", "server.request_timeout_ms",
		"postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.db_name",
		"postgres.ssl_mode", "postgres.max_open_conns", "postgres.max_idle_conns",
		"listener.channel", "listener.reconnect_seconds",
		"redis.addr", "redis.password", "redis.db", "redis.ttl_seconds", "redis.local_max_entries",
		"refresh.schedule",
		"rate_limit.rps", "rate_limit.burst",
	} {
		_ = v.BindEnv(key)
	}
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Server.ProjectID == "" { c.Server.ProjectID = "default" }
	if c.Server.RequestTimeout <= 0 { c.Server.RequestTimeout = 2000 }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 10 }
	if c.Listener.ReconnectSeconds <= 0 { c.Listener.ReconnectSeconds = 5 }
	if c.Redis.TTLSeconds <= 0 { c.Redis.TTLSeconds = 60 }
	if c.Redis.LocalMaxEntries <= 0 { c.Redis.LocalMaxEntries = 10000 }
	if c.Refresh.Schedule == "" { c.Refresh.Schedule = "@every 5m" }
	if c.RateLimit.RPS <= 0 { c.RateLimit.RPS = 50 }
	if c.RateLimit.Burst <= 0 { c.RateLimit.Burst = 100 }
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) StateTTL() time.Duration { return time.Duration(c.Redis.TTLSeconds) * time.Second }

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeout) * time.Millisecond
}
