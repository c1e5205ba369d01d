package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	// shared store
	StoreBackend      string        `envconfig:"STORE_BACKEND" default:"memory"`
	StorePollInterval time.Duration `envconfig:"STORE_POLL_INTERVAL" default:"1s"`

	FirebaseDatabaseURL     string `envconfig:"FIREBASE_DATABASE_URL"`
	FirebaseCredentialsFile string `envconfig:"FIREBASE_CREDENTIALS_FILE"`

	RedisAddr      string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"momento"`

	// sqlite file path or mysql DSN, depending on STORE_BACKEND
	// mysql demo: app:apppass@tcp(127.0.0.1:3306)/momento?charset=utf8mb4&parseTime=true&loc=Local
	DBDSN string `envconfig:"DB_DSN" default:"momento.db"`

	// identity
	AuthProvider  string        `envconfig:"AUTH_PROVIDER" default:"dev"`
	DevAuthSecret string        `envconfig:"DEV_AUTH_SECRET" default:"dev-secret-change-me"`
	SessionSecret string        `envconfig:"SESSION_SECRET" default:"dev-session-secret-change-me"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"24h"`

	// prompt lifecycle
	PromptQuota  int           `envconfig:"PROMPT_QUOTA" default:"5"`
	QuotaWindow  time.Duration `envconfig:"QUOTA_WINDOW" default:"12h"`
	JobTimeout   time.Duration `envconfig:"JOB_TIMEOUT" default:"5m"`
	DisplayGrace time.Duration `envconfig:"DISPLAY_GRACE" default:"2s"`

	// rabbitMQ, empty URL disables lifecycle events
	RabbitURL   string `envconfig:"RABBIT_URL"`
	RabbitQueue string `envconfig:"RABBIT_QUEUE" default:"prompt_lifecycle"`

	// AI provider (reference worker)
	AIProvider         string        `envconfig:"AI_PROVIDER" default:"ollama"`
	OllamaBaseURL      string        `envconfig:"OLLAMA_BASE_URL" default:"http://localhost:11434"`
	OllamaModel        string        `envconfig:"OLLAMA_MODEL" default:"llama3:latest"`
	OpenRouterBaseURL  string        `envconfig:"OPENROUTER_BASE_URL" default:"https://openrouter.ai/api/v1"`
	OpenRouterAPIKey   string        `envconfig:"OPENROUTER_API_KEY"`
	OpenRouterModel    string        `envconfig:"OPENROUTER_MODEL" default:"openrouter/auto"`
	OpenRouterSiteURL  string        `envconfig:"OPENROUTER_SITE_URL"`
	OpenRouterAppName  string        `envconfig:"OPENROUTER_APP_NAME"`
	WorkerConcurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"2"`
	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"5s"`
	WorkerSystemPrompt string        `envconfig:"WORKER_SYSTEM_PROMPT" default:"You are Momento AI, a concise and helpful assistant."`
	WorkerMetricsAddr  string        `envconfig:"WORKER_METRICS_ADDR" default:":9091"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.AuthProvider = strings.ToLower(strings.TrimSpace(cfg.AuthProvider))

	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 2
	}
	if cfg.WorkerConcurrency > 50 {
		cfg.WorkerConcurrency = 50
	}
	if cfg.PromptQuota < 0 {
		return Config{}, fmt.Errorf("PROMPT_QUOTA must be >= 0, got %d", cfg.PromptQuota)
	}
	return cfg, nil
}
