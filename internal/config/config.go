package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	AuthJWTSecret   string
	AuthJWTIssuer   string
	AuthJWTAudience string
	AuthProvider    string

	// Timezone
	TimezoneName string
	Location     *time.Location

	// Server
	ServerPort        string
	WorkerMetricsPort string

	// CORS
	CORSAllowedOrigin string

	// Rate Limit
	RateLimitGeneral     int
	RateLimitHabitCreate int

	// Redis（空の場合はプロセス内のレート制限を使う）
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Habits
	AnalyticsWindowDays int
	FeaturedLimit       int

	// Blog
	BlogFeedURL       string
	BlogFetchInterval time.Duration
	BlogFetchTimeout  time.Duration
	BlogFetchMaxSize  int64
	BlogRetentionDays int

	// Logging
	LogLevel string
}

// LoadDotEnv は.envファイルが存在すれば環境変数に読み込む。
// 既に設定されている環境変数は上書きしない。ファイルがない場合は何もしない。
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、またはAPP_TIMEZONEが不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")
	if cfg.AuthJWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Timezone
	cfg.TimezoneName = getEnvString("APP_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(cfg.TimezoneName)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", cfg.TimezoneName, err)
	}
	cfg.Location = loc

	// Optional fields with defaults
	cfg.AuthJWTIssuer = getEnvString("AUTH_JWT_ISSUER", "")
	cfg.AuthJWTAudience = getEnvString("AUTH_JWT_AUDIENCE", "")
	cfg.AuthProvider = getEnvString("AUTH_PROVIDER", "firebase")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9091")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitHabitCreate = getEnvInt("RATE_LIMIT_HABIT_CREATE", 10)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.AnalyticsWindowDays = getEnvInt("ANALYTICS_WINDOW_DAYS", 30)
	cfg.FeaturedLimit = getEnvInt("FEATURED_LIMIT", 6)
	cfg.BlogFeedURL = getEnvString("BLOG_FEED_URL", "")
	cfg.BlogFetchInterval = getEnvDuration("BLOG_FETCH_INTERVAL", time.Hour)
	cfg.BlogFetchTimeout = getEnvDuration("BLOG_FETCH_TIMEOUT", 10*time.Second)
	cfg.BlogFetchMaxSize = getEnvInt64("BLOG_FETCH_MAX_SIZE", 5242880)
	cfg.BlogRetentionDays = getEnvInt("BLOG_RETENTION_DAYS", 180)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
