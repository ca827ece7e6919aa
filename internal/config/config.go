package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Owner    OwnerConfig
	API      APIConfig
	Retry    RetryConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Server   ServerConfig
	Log      LogConfig
}

// OwnerConfig describes the device and who it belongs to.
type OwnerConfig struct {
	OwnerID   string `env:"OWNER_ID"`
	OwnerRole string `env:"OWNER_ROLE" env-default:"customer"`
	Platform  string `env:"DEVICE_PLATFORM" env-default:"android"`
	PushToken string `env:"PUSH_TOKEN"` // Token handed over by the host bridge
	// UnregisterOnExit removes the token from the backend at shutdown (logout)
	UnregisterOnExit bool `env:"UNREGISTER_ON_EXIT" env-default:"false"`
}

type APIConfig struct {
	BaseURL     string        `env:"API_BASE_URL" env-default:"http://localhost:8080"`
	AccessToken string        `env:"API_ACCESS_TOKEN"`
	Timeout     time.Duration `env:"API_TIMEOUT" env-default:"10s"`
	SyncLimit   int           `env:"SYNC_LIMIT" env-default:"20"`
}

type RetryConfig struct {
	RegistrationMaxAttempts int           `env:"REGISTRATION_MAX_ATTEMPTS" env-default:"5"`
	ReconcileMaxAttempts    int           `env:"RECONCILE_MAX_ATTEMPTS" env-default:"3"`
	InitialInterval         time.Duration `env:"RETRY_INITIAL_INTERVAL" env-default:"500ms"`
	MaxInterval             time.Duration `env:"RETRY_MAX_INTERVAL" env-default:"30s"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

type DatabaseConfig struct {
	Host     string `env:"DB_HOST"`
	Port     string `env:"DB_PORT" env-default:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`
	SSLMode  string `env:"DB_SSLMODE" env-default:"require"`
}

// Enabled reports whether a database was configured; the reference
// backend falls back to in-memory repositories otherwise.
func (c DatabaseConfig) Enabled() bool {
	return c.Host != "" && c.Name != ""
}

type ServerConfig struct {
	Port         string  `env:"SERVER_PORT" env-default:"8080"`
	JWTSecret    string  `env:"JWT_SECRET"`
	RateLimitRPS float64 `env:"RATE_LIMIT_RPS" env-default:"20"`
	RateBurst    int     `env:"RATE_LIMIT_BURST" env-default:"40"`
}

type LogConfig struct {
	Level    string `env:"LOG_LEVEL" env-default:"info"`
	Encoding string `env:"LOG_ENCODING" env-default:"json"`
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables")
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")
	if cfg.API.SyncLimit <= 0 {
		cfg.API.SyncLimit = 20
	}
	if cfg.Retry.RegistrationMaxAttempts <= 0 {
		cfg.Retry.RegistrationMaxAttempts = 5
	}
	if cfg.Retry.ReconcileMaxAttempts <= 0 {
		cfg.Retry.ReconcileMaxAttempts = 3
	}
	return &cfg, nil
}
