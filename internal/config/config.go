package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/epts-reports/internal/metadata"
	"github.com/jwalitptl/epts-reports/pkg/validator"
)

// EnvPrefix prefixes every environment override, e.g. EPTS_DATABASE_HOST.
const EnvPrefix = "EPTS"

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit" split_words:"true"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Calculation CalculationConfig `mapstructure:"calculation"`
	Metadata    metadata.Config   `mapstructure:"metadata"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" split_words:"true"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" split_words:"true" validate:"min=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" split_words:"true"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	User            string        `mapstructure:"user" validate:"required"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name" validate:"required"`
	SSLMode         string        `mapstructure:"sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" split_words:"true" validate:"min=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" split_words:"true" validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" split_words:"true"`
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig configures run publication. An empty URL disables it.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel" validate:"required_with=URL"`
	MaxRetries   int           `mapstructure:"max_retries" split_words:"true"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" split_words:"true"`
	PoolSize     int           `mapstructure:"pool_size" split_words:"true"`
	MinIdleConns int           `mapstructure:"min_idle_conns" split_words:"true"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret" envconfig:"jwt_secret" validate:"required_if=Enabled true"`
	Issuer    string `mapstructure:"issuer"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate" validate:"gt=0"`
	Burst   int     `mapstructure:"burst" validate:"min=1"`
}

type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" split_words:"true"`
}

type CalculationConfig struct {
	// Workers bounds the number of patients evaluated concurrently.
	Workers int          `mapstructure:"workers" validate:"min=1"`
	Bounds  BoundsConfig `mapstructure:"bounds"`
}

// BoundsConfig holds the month windows of the routine viral-load criteria.
type BoundsConfig struct {
	MonthsOnArt    int `mapstructure:"months_on_art" split_words:"true" validate:"min=0"`
	ArtLowerLimit1 int `mapstructure:"art_lower_limit_1" envconfig:"art_lower_limit_1" validate:"min=0"`
	ArtUpperLimit1 int `mapstructure:"art_upper_limit_1" envconfig:"art_upper_limit_1" validate:"gtefield=ArtLowerLimit1"`
	ArtLowerLimit2 int `mapstructure:"art_lower_limit_2" envconfig:"art_lower_limit_2" validate:"min=0"`
	ArtUpperLimit2 int `mapstructure:"art_upper_limit_2" envconfig:"art_upper_limit_2" validate:"gtefield=ArtLowerLimit2"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	JSON  bool   `mapstructure:"json"`
}

// Default returns the configuration used when neither the file nor the environment set a value.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    120 * time.Second,
			RequestTimeout:  110 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "openmrs",
			Name:            "openmrs",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Channel:      "epts.report.runs",
			MaxRetries:   3,
			RetryBackoff: 100 * time.Millisecond,
			PoolSize:     10,
		},
		RateLimit: RateLimitConfig{Enabled: true, Rate: 5, Burst: 10},
		Cache:     CacheConfig{TTL: 10 * time.Minute, CleanupInterval: 30 * time.Minute},
		Calculation: CalculationConfig{
			Workers: 8,
			Bounds: BoundsConfig{
				ArtLowerLimit1: 6,
				ArtUpperLimit1: 9,
				ArtLowerLimit2: 12,
				ArtUpperLimit2: 15,
			},
		},
		Metadata: metadata.DefaultConfig(),
		Log:      LogConfig{Level: "info"},
	}
}

// LoadConfig reads config.yml from the usual locations, applies EPTS_* environment overrides
// and validates the result. A missing config file is not an error.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := Default()
	// mapstructure overwrites slice elements in place; start empty so a shorter list wins.
	config.Metadata.RegimenLineChangeCodes = nil
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(config.Metadata.RegimenLineChangeCodes) == 0 {
		config.Metadata.RegimenLineChangeCodes = metadata.DefaultConfig().RegimenLineChangeCodes
	}

	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

var validate = validator.New("mapstructure")

// Validate checks the struct tags of cfg.
func Validate(cfg *Config) error {
	if err := validate.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
