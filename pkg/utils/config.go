package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "config.yaml"

	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

// Config is the server configuration. Values come from config.yaml and may
// be overridden by environment variables (a local .env file is honoured).
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	Store         string `yaml:"store"`
	DBPath        string `yaml:"dbPath"`
	MongoURI      string `yaml:"mongoURI"`
	MongoDatabase string `yaml:"mongoDatabase"`

	RedisAddr         string `yaml:"redisAddr"`
	RedisPassword     string `yaml:"redisPassword"`
	AuthRateLimit     int    `yaml:"authRateLimit"`
	AuthRateWindowSec int    `yaml:"authRateWindowSeconds"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTTTLHours int    `yaml:"jwtTTLHours"`

	AllowedOrigins []string `yaml:"allowedOrigins"`
	Admins         []string `yaml:"admins"`

	FeedTCPAddr string `yaml:"feedTCPAddr"`
	GRPCAddr    string `yaml:"grpcAddr"`

	// ReconcileCron schedules the aggregate repair job; empty disables it.
	ReconcileCron string `yaml:"reconcileCron"`
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTDuration time.Duration
}

func (c Config) Auth() AuthConfig {
	return AuthConfig{
		JWTSecret:   c.JWTSecret,
		JWTIssuer:   c.JWTIssuer,
		JWTDuration: time.Duration(c.JWTTTLHours) * time.Hour,
	}
}

func (c Config) AuthRateWindow() time.Duration {
	return time.Duration(c.AuthRateWindowSec) * time.Second
}

// IsAdminEmail reports whether email is listed in the admins config.
func (c Config) IsAdminEmail(email string) bool {
	email = strings.TrimSpace(strings.ToLower(email))
	for _, a := range c.Admins {
		if strings.ToLower(strings.TrimSpace(a)) == email {
			return true
		}
	}
	return false
}

func defaults() Config {
	return Config{
		Port:              "5000",
		LogLevel:          "info",
		Store:             StoreSQLite,
		DBPath:            "data/bookreview.db",
		MongoDatabase:     "bookReview",
		AuthRateLimit:     20,
		AuthRateWindowSec: 60,
		JWTSecret:         "dev-secret-change-me-please",
		JWTIssuer:         "bookreview",
		JWTTTLHours:       24,
		AllowedOrigins:    []string{"http://localhost:5173"},
		ReconcileCron:     "@daily",
	}
}

// Load reads config from path (BOOKREVIEW_CONFIG or config.yaml when empty).
// A missing file is not an error; defaults and env overrides still apply.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path == "" {
		path = os.Getenv("BOOKREVIEW_CONFIG")
	}
	if path == "" {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := map[string]*string{
		"PORT":               &cfg.Port,
		"LOG_LEVEL":          &cfg.LogLevel,
		"BOOKREVIEW_STORE":   &cfg.Store,
		"BOOKREVIEW_DB_PATH": &cfg.DBPath,
		"MONGODB_URI":        &cfg.MongoURI,
		"MONGODB_DATABASE":   &cfg.MongoDatabase,
		"REDIS_ADDR":         &cfg.RedisAddr,
		"REDIS_PASSWORD":     &cfg.RedisPassword,
		"JWT_SECRET":         &cfg.JWTSecret,
		"JWT_ISSUER":         &cfg.JWTIssuer,
		"FEED_TCP_ADDR":      &cfg.FeedTCPAddr,
		"GRPC_ADDR":          &cfg.GRPCAddr,
		"RECONCILE_CRON":     &cfg.ReconcileCron,
	}
	for key, dst := range str {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"JWT_TTL_HOURS":            &cfg.JWTTTLHours,
		"AUTH_RATE_LIMIT":          &cfg.AuthRateLimit,
		"AUTH_RATE_WINDOW_SECONDS": &cfg.AuthRateWindowSec,
	}
	for key, dst := range ints {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("BOOKREVIEW_ADMINS"); v != "" {
		cfg.Admins = splitCSV(v)
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required")
	}
	switch cfg.Store {
	case StoreSQLite:
		if strings.TrimSpace(cfg.DBPath) == "" {
			return errors.New("config: dbPath is required for the sqlite store")
		}
	case StoreMongo:
		if strings.TrimSpace(cfg.MongoURI) == "" {
			return errors.New("config: mongoURI is required for the mongo store (set in config.yaml or MONGODB_URI)")
		}
		if strings.TrimSpace(cfg.MongoDatabase) == "" {
			return errors.New("config: mongoDatabase is required for the mongo store")
		}
	default:
		return fmt.Errorf("config: unknown store %q (want sqlite or mongo)", cfg.Store)
	}
	if len(cfg.JWTSecret) < 16 {
		return errors.New("config: jwtSecret must be at least 16 bytes")
	}
	if cfg.JWTTTLHours <= 0 {
		return errors.New("config: jwtTTLHours must be positive")
	}
	if cfg.AuthRateLimit > 0 && cfg.AuthRateWindowSec <= 0 {
		return errors.New("config: authRateWindowSeconds must be positive when authRateLimit is set")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
