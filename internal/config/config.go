package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Business BusinessConfig `mapstructure:"business"`
}

type AppConfig struct {
	Name   string `mapstructure:"name"`
	Env    string `mapstructure:"env"`
	NodeID int64  `mapstructure:"node_id"`
}

func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql | postgres | sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	Path         string `mapstructure:"path"` // sqlite file
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig is optional. With an empty Host the service falls back to an
// in-process lock.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type KafkaConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	Brokers       []string         `mapstructure:"brokers"`
	ConsumerGroup string           `mapstructure:"consumer_group"`
	Topic         KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	GiftCardEvents   string `mapstructure:"gift_card_events"`
	CommissionEvents string `mapstructure:"commission_events"`
	OrderCompleted   string `mapstructure:"order_completed"`
}

type AuthConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type BusinessConfig struct {
	DefaultCurrency        string        `mapstructure:"default_currency"`
	MaxGiftCardAmount      string        `mapstructure:"max_gift_card_amount"`
	CodeGenerationAttempts int           `mapstructure:"code_generation_attempts"`
	RedeemRetries          int           `mapstructure:"redeem_retries"`
	ExpirySweepInterval    time.Duration `mapstructure:"expiry_sweep_interval"`
	CompensateInterval     time.Duration `mapstructure:"compensate_interval"`
	CompensateDelay        time.Duration `mapstructure:"compensate_delay"`
	OutboxInterval         time.Duration `mapstructure:"outbox_interval"`
	MaxRetryCount          int           `mapstructure:"max_retry_count"`
	LockTTL                time.Duration `mapstructure:"lock_ttl"`
}

// MaxAmount is the upper bound of a single gift card. Load has already
// validated the configured string.
func (b BusinessConfig) MaxAmount() decimal.Decimal {
	d, _ := decimal.NewFromString(b.MaxGiftCardAmount)
	return d
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "giftledger")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.node_id", 1)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "giftledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "giftledger.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "giftledger")
	v.SetDefault("kafka.topic.gift_card_events", "giftcard.events")
	v.SetDefault("kafka.topic.commission_events", "commission.events")
	v.SetDefault("kafka.topic.order_completed", "order.completed")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "house-of-spells")

	v.SetDefault("business.default_currency", "GBP")
	v.SetDefault("business.max_gift_card_amount", "1000.00")
	v.SetDefault("business.code_generation_attempts", 5)
	v.SetDefault("business.redeem_retries", 3)
	v.SetDefault("business.expiry_sweep_interval", "1m")
	v.SetDefault("business.compensate_interval", "30s")
	v.SetDefault("business.compensate_delay", "5m")
	v.SetDefault("business.outbox_interval", "200ms")
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.lock_ttl", "5s")
}

// Load reads the YAML file at configPath and applies LEDGER_ prefixed
// environment overrides, e.g. LEDGER_DATABASE_HOST for database.host.
// A missing file is not an error; defaults and environment still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if _, err := decimal.NewFromString(c.Business.MaxGiftCardAmount); err != nil {
		return fmt.Errorf("business.max_gift_card_amount: %w", err)
	}
	c.Business.DefaultCurrency = strings.ToUpper(c.Business.DefaultCurrency)

	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver: unsupported %q", c.Database.Driver)
	}
	if c.Business.RedeemRetries < 1 {
		c.Business.RedeemRetries = 1
	}
	if c.Business.CodeGenerationAttempts < 1 {
		c.Business.CodeGenerationAttempts = 1
	}
	return nil
}
