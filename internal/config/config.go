package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "LETSCHAT"

type Config struct {
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
	Redis      Redis      `mapstructure:"redis"`
	Auth       Auth       `mapstructure:"auth"`
	Encryption Encryption `mapstructure:"encryption"`
	Log        Log        `mapstructure:"log"`
}

type Server struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	SecureCookies  bool          `mapstructure:"secure_cookies"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Redis is optional; an empty Addr keeps realtime fan-out in process.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Auth struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type Encryption struct {
	// MasterKey is base64 or hex; it wraps every conversation key at rest.
	MasterKey string `mapstructure:"master_key"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.secure_cookies", false)
	v.SetDefault("server.shutdown_grace", 10*time.Second)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "letschat.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "letschat")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("encryption.master_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads .env (if present), then the optional YAML file at path,
// then LETSCHAT_* environment overrides.
func LoadConfig(path string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		slog.Error("Unable to unmarshal config", "err", err)
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func Load(path string) (*Config, error) {
	v, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(v)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if _, err := c.MasterKeyBytes(); err != nil {
		errs = append(errs, err)
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	return errors.Join(errs...)
}

// MasterKeyBytes decodes the master key, accepting hex or standard base64.
func (c *Config) MasterKeyBytes() ([]byte, error) {
	raw := strings.TrimSpace(c.Encryption.MasterKey)
	if raw == "" {
		return nil, errors.New("encryption.master_key is required")
	}
	if key, err := hex.DecodeString(raw); err == nil && len(key) == 32 {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil && len(key) == 32 {
		return key, nil
	}
	return nil, errors.New("encryption.master_key must be 32 bytes, hex or base64 encoded")
}
