package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	JWTAlg     string        `mapstructure:"jwt_alg"`
	NodeID     string        `mapstructure:"node_id"`

	// ServiceSecret signs tokens of trusted backends calling /api/internal.
	// The internal routes are not mounted when it is empty.
	ServiceSecret string `mapstructure:"service_secret"`

	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Presence PresenceConfig `mapstructure:"presence"`
	Typing   TypingConfig   `mapstructure:"typing"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig enables the cross-node event bus when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type CacheConfig struct {
	ChatListTTL       time.Duration `mapstructure:"chat_list_ttl"`
	ChatListSliding   time.Duration `mapstructure:"chat_list_sliding"`
	MembershipTTL     time.Duration `mapstructure:"membership_ttl"`
	MembershipSliding time.Duration `mapstructure:"membership_sliding"`
	SweepEvery        time.Duration `mapstructure:"sweep_every"`
}

type PresenceConfig struct {
	Scope string `mapstructure:"scope"`
}

type TypingConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName over the defaults. A missing file is not an
// error; CHAT_* environment variables override both.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "")
	v.SetDefault("service_secret", "")
	v.SetDefault("jwt_alg", "HS256")
	v.SetDefault("node_id", "")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "chat:events")

	v.SetDefault("cache.chat_list_ttl", "5m")
	v.SetDefault("cache.chat_list_sliding", "2m")
	v.SetDefault("cache.membership_ttl", "10m")
	v.SetDefault("cache.membership_sliding", "3m")
	v.SetDefault("cache.sweep_every", "1m")

	v.SetDefault("presence.scope", "shared_chats")

	v.SetDefault("typing.limit", 5)
	v.SetDefault("typing.interval", "3s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("store", cfg.Store.Driver).
		Bool("redis", cfg.Redis.Addr != "").
		Str("presence_scope", cfg.Presence.Scope).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	switch c.Presence.Scope {
	case "shared_chats", "all":
	default:
		return fmt.Errorf("config: unknown presence.scope %q", c.Presence.Scope)
	}
	if c.Mode == "release" && c.Secret == "" {
		return fmt.Errorf("config: secret is required in release mode")
	}
	if c.ServiceSecret != "" && c.ServiceSecret == c.Secret {
		return fmt.Errorf("config: service_secret must differ from secret")
	}
	if c.Typing.Limit <= 0 || c.Typing.Interval <= 0 {
		return fmt.Errorf("config: typing.limit and typing.interval must be positive")
	}
	return nil
}
