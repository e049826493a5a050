package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. POSTPLANNER_REDIS_ADDRESS.
const EnvPrefix = "POSTPLANNER"

// global configuration structure
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Initiator InitiatorConfig `mapstructure:"initiator"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// Telegram bot configuration
type BotConfig struct {
	Token     string        `mapstructure:"token"`
	Language  string        `mapstructure:"language"`
	SendRate  float64       `mapstructure:"send_rate"`
	SendBurst int           `mapstructure:"send_burst"`
	Webhook   WebhookConfig `mapstructure:"webhook"`
}

// webhook server configuration
type WebhookConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	ListenPort string `mapstructure:"listen_port"`
	DebugPath  string `mapstructure:"debug_path"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
}

// logging configuration
type LoggerConfig struct {
	Directory  string            `mapstructure:"directory"`
	Rotation   LogRotationConfig `mapstructure:"rotation"`
	Format     string            `mapstructure:"format"`
	TimeFormat string            `mapstructure:"time_format"`
	Level      string            `mapstructure:"level"`
}

// log rotation settings
type LogRotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Charset  string `mapstructure:"charset"`
}

// coordinator store (rate-limit windows, initiator claims, sessions)
type RedisConfig struct {
	Address        string        `mapstructure:"address"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type SchedulerConfig struct {
	Timezone                 string        `mapstructure:"timezone"`
	TimeLayout               string        `mapstructure:"time_layout"`
	ValidationBuffer         time.Duration `mapstructure:"validation_buffer"`
	DefaultRemindOffset      time.Duration `mapstructure:"default_remind_offset"`
	ReminderGrace            time.Duration `mapstructure:"reminder_grace"`
	PublishOverdueOnRecovery bool          `mapstructure:"publish_overdue_on_recovery"`
	ShutdownTimeout          time.Duration `mapstructure:"shutdown_timeout"`
	PastTolerance            time.Duration `mapstructure:"past_tolerance"`
}

type LimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	UserOperations LimitConfig `mapstructure:"user_operations"`
}

type InitiatorConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	ClaimTTL    time.Duration `mapstructure:"claim_ttl"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

var cfg *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	log.Printf("Using config file: %s", v.ConfigFileUsed())

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := loaded.Validate(); err != nil {
		return nil, err
	}

	cfg = loaded
	return cfg, nil
}

func Get() *Config {
	if cfg == nil {
		log.Fatal("Configuration not initialized, call Load() first")
	}
	return cfg
}

// Validate checks the values the coordination core cannot run without.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	ops := c.RateLimit.UserOperations
	if ops.MaxRequests <= 0 {
		return fmt.Errorf("ratelimit.user_operations.max_requests must be positive")
	}
	if ops.Window <= 0 {
		return fmt.Errorf("ratelimit.user_operations.window must be positive")
	}

	if c.Initiator.IdleTimeout <= 0 || c.Initiator.ClaimTTL <= 0 {
		return fmt.Errorf("initiator timeouts must be positive")
	}
	// the claim TTL only bounds staleness; idle timeout has to trigger first
	if c.Initiator.IdleTimeout > c.Initiator.ClaimTTL {
		return fmt.Errorf("initiator.idle_timeout (%s) exceeds initiator.claim_ttl (%s)",
			c.Initiator.IdleTimeout, c.Initiator.ClaimTTL)
	}

	if c.Scheduler.ValidationBuffer < 0 || c.Scheduler.DefaultRemindOffset < 0 || c.Scheduler.PastTolerance < 0 {
		return fmt.Errorf("scheduler durations must not be negative")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.language", "en")
	v.SetDefault("bot.send_rate", 25.0)
	v.SetDefault("bot.send_burst", 5)
	v.SetDefault("bot.webhook.endpoint", "")
	v.SetDefault("bot.webhook.listen_port", "8443")
	v.SetDefault("bot.webhook.debug_path", "/debug")
	v.SetDefault("bot.webhook.cert_file", "")
	v.SetDefault("bot.webhook.key_file", "")

	v.SetDefault("logger.directory", "logs")
	v.SetDefault("logger.rotation.max_size", 10)
	v.SetDefault("logger.rotation.max_backups", 30)
	v.SetDefault("logger.rotation.max_age", 90)
	v.SetDefault("logger.rotation.compress", true)
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.time_format", "2006/01/02 15:04:05")
	v.SetDefault("logger.level", "INFO")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/postplanner.db")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "postplanner")
	v.SetDefault("database.charset", "utf8mb4")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "postplanner")
	v.SetDefault("redis.connect_timeout", "5s")

	v.SetDefault("scheduler.timezone", "+03:00")
	v.SetDefault("scheduler.time_layout", "02.01.2006 15:04")
	v.SetDefault("scheduler.validation_buffer", "1m")
	v.SetDefault("scheduler.default_remind_offset", "60m")
	v.SetDefault("scheduler.reminder_grace", "1m")
	v.SetDefault("scheduler.publish_overdue_on_recovery", false)
	v.SetDefault("scheduler.shutdown_timeout", "10s")
	v.SetDefault("scheduler.past_tolerance", "1s")

	v.SetDefault("ratelimit.user_operations.max_requests", 10)
	v.SetDefault("ratelimit.user_operations.window", "1h")

	v.SetDefault("initiator.idle_timeout", "15s")
	v.SetDefault("initiator.claim_ttl", "180s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
