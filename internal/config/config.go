package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides application configuration.
var Module = fx.Provide(Load, NewLimitsHolder)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	AuthJWTSecret      string
	AccessTokenMinutes int
	GoogleClientID     string
	AppleClientID      string
	AdminAPIKey        string
	DevMode            bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	FrontendURL string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string

	RevenueCat RevenueCatConfig
	Fashn      FashnConfig
	Asos       AsosConfig
	News       NewsConfig
	Gemini     GeminiConfig
	Stocks     StocksConfig
	Expo       ExpoConfig
	Email      EmailConfig
	RateLimit  RateLimitConfig
	Scheduler  SchedulerConfig
}

type RevenueCatConfig struct {
	APIKey        string
	WebhookSecret string
	VerifyWebhook bool
}

type FashnConfig struct {
	APIKey  string
	BaseURL string
}

type AsosConfig struct {
	APIKey string
	Host   string
}

type NewsConfig struct {
	RapidAPIKey  string
	RapidAPIHost string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type StocksConfig struct {
	AlphaVantageKey string
}

type ExpoConfig struct {
	PushURL     string
	AccessToken string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DeviceRate  float64
	DeviceBurst int
}

type SchedulerConfig struct {
	Enabled         bool
	RunIntervalSecs int
	EnabledJobs     []string
	LockTTLSecs     int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "velra"),
		AppVersion:  getenv("APP_VERSION", "1.0.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8000"),

		AuthJWTSecret:      strings.TrimSpace(getenv("JWT_SECRET", "")),
		AccessTokenMinutes: getenvInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30),
		GoogleClientID:     strings.TrimSpace(getenv("GOOGLE_CLIENT_ID", "")),
		AppleClientID:      strings.TrimSpace(getenv("APPLE_CLIENT_ID", "")),
		AdminAPIKey:        strings.TrimSpace(getenv("ADMIN_API_KEY", "")),
		DevMode:            getenvBool("DEV_MODE", false),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "velra"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		FrontendURL: getenv("FRONTEND_URL", "http://localhost:3000"),

		OtelEnabled:          getenvBool("OTEL_ENABLED", false),
		OtelExporterEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OtelExporterProtocol: getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),

		RevenueCat: RevenueCatConfig{
			APIKey:        strings.TrimSpace(getenv("REVENUECAT_API_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("REVENUECAT_WEBHOOK_SECRET", "")),
			VerifyWebhook: getenvBool("VERIFY_REVENUECAT_WEBHOOK", true),
		},
		Fashn: FashnConfig{
			APIKey:  strings.TrimSpace(getenv("FASHN_API_KEY", "")),
			BaseURL: getenv("FASHN_BASE_URL", "https://api.fashn.ai/v1"),
		},
		Asos: AsosConfig{
			APIKey: strings.TrimSpace(getenv("ASOS_API_KEY", "")),
			Host:   getenv("ASOS_API_HOST", "asos-api6.p.rapidapi.com"),
		},
		News: NewsConfig{
			RapidAPIKey:  strings.TrimSpace(getenv("RAPIDAPI_KEY", "")),
			RapidAPIHost: getenv("RAPIDAPI_HOST", "real-time-news-data.p.rapidapi.com"),
		},
		Gemini: GeminiConfig{
			APIKey: strings.TrimSpace(getenv("GEMINI_API_KEY", "")),
			Model:  getenv("GEMINI_MODEL", "gemini-1.5-flash"),
		},
		Stocks: StocksConfig{
			AlphaVantageKey: strings.TrimSpace(getenv("ALPHAVANTAGE_API_KEY", "")),
		},
		Expo: ExpoConfig{
			PushURL:     getenv("EXPO_PUSH_URL", "https://exp.host/--/api/v2/push/send"),
			AccessToken: strings.TrimSpace(getenv("EXPO_ACCESS_TOKEN", "")),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("EMAIL_SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:     getenvInt("EMAIL_SMTP_PORT", 587),
			SMTPUsername: getenv("EMAIL_USERNAME", ""),
			SMTPPassword: getenv("EMAIL_PASSWORD", ""),
			SMTPFrom:     getenv("EMAIL_FROM", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     getenv("REDIS_ADDR", ""),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("REDIS_DB", 0),
			DeviceRate:    getenvFloat("RATE_LIMIT_DEVICE_RATE", 1),
			DeviceBurst:   getenvInt("RATE_LIMIT_DEVICE_BURST", 5),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getenvBool("SCHEDULER_ENABLED", true),
			RunIntervalSecs: getenvInt("SCHEDULER_RUN_INTERVAL_SECONDS", 60),
			EnabledJobs:     getenvList("SCHEDULER_ENABLED_JOBS"),
			LockTTLSecs:     getenvInt("SCHEDULER_LOCK_TTL_SECONDS", 300),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("config: invalid int for %s: %q", key, raw)
		return fallback
	}
	return value
}

func getenvFloat(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		log.Printf("config: invalid float for %s: %q", key, raw)
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func getenvList(key string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
