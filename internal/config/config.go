package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	HTTP        HTTPConfig
	LLM         LLMConfig
	Google      GoogleConfig
	News        NewsConfig
	Email       EmailConfig
	Courier     CourierConfig
	Redis       RedisConfig
	Logging     LoggingConfig
}

type HTTPConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

type GoogleConfig struct {
	CredentialsFile string
	TokenFile       string
	CalendarID      string
	TaskListName    string
	Timezone        string
}

type NewsConfig struct {
	MaxArticles      int
	BatchSize        int
	BatchDelay       time.Duration
	FetchDelay       time.Duration
	RequestTimeout   time.Duration
	CJKFontPath      string
	OutputDir        string
	DigestRecipients []string
}

type EmailConfig struct {
	APIKey      string
	Endpoint    string
	SenderName  string
	SenderEmail string
	Timeout     time.Duration
}

type CourierConfig struct {
	Key      string
	Customer string
	Endpoint string
	Timeout  time.Duration
}

// RedisConfig is optional; an empty URL disables conversation memory.
type RedisConfig struct {
	URL      string
	PoolSize int
	TTL      time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

func Load() (*Config, error) {
	// Missing .env is fine; env vars may come from the environment itself.
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		HTTP: HTTPConfig{
			Port:            getEnv("HTTP_PORT", "8080"),
			ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 120*time.Second),
			IdleTimeout:     getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		LLM: LLMConfig{
			APIKey:      os.Getenv("LLM_API_KEY"),
			BaseURL:     getEnv("LLM_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3/bots"),
			Model:       getEnv("LLM_MODEL", "deepseek-v3"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 4096),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 90*time.Second),
			MaxRetries:  getEnvInt("LLM_MAX_RETRIES", 3),
			RetryDelay:  getEnvDuration("LLM_RETRY_DELAY", 2*time.Second),
		},
		Google: GoogleConfig{
			CredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", "credentials.json"),
			TokenFile:       getEnv("GOOGLE_TOKEN_FILE", "token.json"),
			CalendarID:      getEnv("GOOGLE_CALENDAR_ID", "primary"),
			TaskListName:    getEnv("GOOGLE_TASK_LIST", "@default"),
			Timezone:        getEnv("ASSISTANT_TIMEZONE", "Asia/Shanghai"),
		},
		News: NewsConfig{
			MaxArticles:      getEnvInt("NEWS_MAX_ARTICLES", 10),
			BatchSize:        getEnvInt("NEWS_BATCH_SIZE", 3),
			BatchDelay:       getEnvDuration("NEWS_BATCH_DELAY", 2*time.Second),
			FetchDelay:       getEnvDuration("NEWS_FETCH_DELAY", time.Second),
			RequestTimeout:   getEnvDuration("NEWS_REQUEST_TIMEOUT", 20*time.Second),
			CJKFontPath:      getEnv("NEWS_CJK_FONT", ""),
			OutputDir:        getEnv("NEWS_OUTPUT_DIR", ""),
			DigestRecipients: getEnvSlice("NEWS_DIGEST_RECIPIENTS"),
		},
		Email: EmailConfig{
			APIKey:      os.Getenv("BREVO_API_KEY"),
			Endpoint:    getEnv("BREVO_ENDPOINT", "https://api.brevo.com/v3/smtp/email"),
			SenderName:  getEnv("EMAIL_SENDER_NAME", "Aria Assistant"),
			SenderEmail: os.Getenv("EMAIL_SENDER_ADDRESS"),
			Timeout:     getEnvDuration("EMAIL_TIMEOUT", 15*time.Second),
		},
		Courier: CourierConfig{
			Key:      os.Getenv("COURIER_KEY"),
			Customer: os.Getenv("COURIER_CUSTOMER"),
			Endpoint: getEnv("COURIER_ENDPOINT", "https://poll.kuaidi100.com/poll/query.do"),
			Timeout:  getEnvDuration("COURIER_TIMEOUT", 15*time.Second),
		},
		Redis: RedisConfig{
			URL:      os.Getenv("REDIS_URL"),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
			TTL:      getEnvDuration("REDIS_CONTEXT_TTL", 24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
