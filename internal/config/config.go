// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// dotEnvPath は起動時に読み込む.envファイルのパス。存在しない場合は無視する。
var dotEnvPath = ".env"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Stream（ビデオ通話・チャット）
	StreamAPIKey       string
	StreamAPISecret    string
	StreamChatBaseURL  string
	StreamVideoBaseURL string
	StreamTokenTTL     time.Duration
	ProviderTimeout    time.Duration

	// IdP（Clerk）
	ClerkJWTPublicKey string
	ClerkIssuer       string
	WebhookSecret     string

	// コード実行
	PistonAPIURL     string
	ExecutionTimeout time.Duration

	// Redis（空の場合はユーザーキャッシュを使わない）
	RedisAddr     string
	RedisPassword string
	UserCacheTTL  time.Duration

	// Rate Limit（req/min/user）
	RateLimitGeneral       int
	RateLimitSessionCreate int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	ClientURL string
}

// Load は環境変数からConfigを読み込む。
// .envファイルがあれば先に読み込む。既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合は、未設定のものをすべて挙げたエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(dotEnvPath); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.StreamAPIKey = required("STREAM_API_KEY")
	cfg.StreamAPISecret = required("STREAM_API_SECRET")
	cfg.ClerkJWTPublicKey = required("CLERK_JWT_PUBLIC_KEY")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.ClientURL = strings.TrimRight(getEnvString("CLIENT_URL", "http://localhost:5173"), "/")
	cfg.ClerkIssuer = getEnvString("CLERK_ISSUER", "")
	cfg.WebhookSecret = getEnvString("WEBHOOK_SECRET", "")
	cfg.StreamChatBaseURL = getEnvString("STREAM_CHAT_BASE_URL", "")
	cfg.StreamVideoBaseURL = getEnvString("STREAM_VIDEO_BASE_URL", "")
	cfg.StreamTokenTTL = getEnvDuration("STREAM_TOKEN_TTL", time.Hour)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.PistonAPIURL = getEnvString("PISTON_API_URL", "https://emkc.org/api/v2/piston")
	cfg.ExecutionTimeout = getEnvDuration("EXECUTION_TIMEOUT", 15*time.Second)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.UserCacheTTL = getEnvDuration("USER_CACHE_TTL", 5*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSessionCreate = getEnvInt("RATE_LIMIT_SESSION_CREATE", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// loadDotEnv は.envファイルを読み込む。ファイルが存在しない場合は何もしない。
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
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
	if err != nil || i <= 0 {
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
