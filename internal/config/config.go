package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// LocalIssuer and LocalAudience are the fixed issuer/audience of tokens minted
// by the in-process mock issuer. Mock-mode validation accepts nothing else.
const (
	LocalIssuer   = "attachment-gateway-dev"
	LocalAudience = "attachment-gateway"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Authentication AuthenticationConfig `mapstructure:"authentication"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	OAuth          OAuthConfig          `mapstructure:"oauth"`
	MappingService MappingServiceConfig `mapstructure:"mapping_service"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
}

// DSN returns the PostgreSQL data source name.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type AuthenticationConfig struct {
	// UseMockOAuth selects the mock validator (local HS256 issuer) instead of
	// the external OAuth authority. Resolved once at startup.
	UseMockOAuth bool `mapstructure:"use_mock_oauth"`
}

// JWTConfig is the mock-mode signing material. SecretKey and SigningKeyID are
// required when mock mode is selected.
type JWTConfig struct {
	SecretKey       string `mapstructure:"secret_key"`
	SigningKeyID    string `mapstructure:"signing_key_id"`
	DevPasswordHash string `mapstructure:"dev_password_hash"`
}

// OAuthConfig is the production-mode authority. Both fields are required when
// production mode is selected.
type OAuthConfig struct {
	Authority string `mapstructure:"authority"`
	Audience  string `mapstructure:"audience"`
}

type MappingServiceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the outbound call timeout.
func (m MappingServiceConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../..")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.pool_size", 10)
	viper.SetDefault("authentication.use_mock_oauth", false)
	viper.SetDefault("mapping_service.timeout_seconds", 10)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the per-mode required keys. A config that fails here must
// stop the process before it serves traffic.
func (c *Config) Validate() error {
	if c.Authentication.UseMockOAuth {
		if c.JWT.SecretKey == "" {
			return errors.New("config: jwt.secret_key is required in mock mode")
		}
		if c.JWT.SigningKeyID == "" {
			return errors.New("config: jwt.signing_key_id is required in mock mode")
		}
	} else {
		if c.OAuth.Authority == "" {
			return errors.New("config: oauth.authority is required in production mode")
		}
		if c.OAuth.Audience == "" {
			return errors.New("config: oauth.audience is required in production mode")
		}
	}

	if c.MappingService.BaseURL == "" {
		return errors.New("config: mapping_service.base_url is required")
	}
	return nil
}
