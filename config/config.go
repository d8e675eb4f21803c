package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Environment string       `yaml:"environment" env:"ENVIRONMENT" env-default:"development"`
	Client      ClientConfig `yaml:"client"`
	Server      ServerConfig `yaml:"server"`
}

// ClientConfig holds the service addresses and orchestration knobs used by
// cmd/roulette.
type ClientConfig struct {
	MatchingURL    string        `yaml:"matching_url" env:"MATCHING_URL" env-default:"http://localhost:8000"`
	SignalingURL   string        `yaml:"signaling_url" env:"SIGNALING_URL" env-default:"ws://localhost:4000"`
	RedialEnabled  bool          `yaml:"redial_enabled" env:"REDIAL_ENABLED" env-default:"true"`
	RedialDelay    time.Duration `yaml:"redial_delay" env:"REDIAL_DELAY" env-default:"500ms"`
	ResponderMedia string        `yaml:"responder_media" env:"RESPONDER_MEDIA" env-default:"eager"`
	STUNServers    []string      `yaml:"stun_servers" env:"STUN_SERVERS" env-default:"stun:stun.l.google.com:19302"`
}

// ServerConfig holds the settings of the reference matching service and
// signaling relay in cmd/signaling.
type ServerConfig struct {
	MatchingAddr     string      `yaml:"matching_addr" env:"MATCHING_ADDR" env-default:":8000"`
	SignalingAddr    string      `yaml:"signaling_addr" env:"SIGNALING_ADDR" env-default:":4000"`
	AllowedOrigins   []string    `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-default:"http://localhost:3000,http://localhost:5173,http://localhost:8080"`
	JWTSecret        string      `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"change-me-in-production"`
	OperatorPassword string      `yaml:"operator_password" env:"OPERATOR_PASSWORD"`
	Store            string      `yaml:"store" env:"STORE" env-default:"memory"`
	Redis            RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

const (
	ResponderMediaEager = "eager"
	ResponderMediaLazy  = "lazy"
)

// Load reads the configuration from the environment. When CONFIG_PATH is set
// the YAML file it names is read first and the environment overrides it.
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load for main packages.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic("cannot load config: " + err.Error())
	}
	return cfg
}

func (c *Config) validate() error {
	switch c.Client.ResponderMedia {
	case ResponderMediaEager, ResponderMediaLazy:
	default:
		return fmt.Errorf("RESPONDER_MEDIA must be %q or %q, got %q",
			ResponderMediaEager, ResponderMediaLazy, c.Client.ResponderMedia)
	}
	if c.Client.RedialDelay < 0 {
		return fmt.Errorf("REDIAL_DELAY must not be negative")
	}
	switch c.Server.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("STORE must be memory or redis, got %q", c.Server.Store)
	}
	return nil
}

// IsProduction reports whether gin should run in release mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
