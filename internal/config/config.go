package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvProduction はAPP_ENVの本番環境を表す値。
const EnvProduction = "production"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv string

	// Database
	DatabaseURL string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JWTSecret          string
	JWTExpiry          time.Duration
	RefreshTokenSecret string
	RefreshTokenExpiry time.Duration

	// Session
	SessionSecret string
	SessionMaxAge int // 秒

	// Password
	BcryptCost int

	// Rate Limit
	LoginRateLimitMax    int
	LoginRateLimitWindow time.Duration
	RateLimitGeneral     int // req/min

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string
	// TrustProxy がtrueの場合のみX-Forwarded-For等のヘッダーからクライアントIPを決定する。
	// リバースプロキシ配下でのみ有効にする。
	TrustProxy bool

	// CORS
	CORSAllowedOrigin string
}

// IsProduction は本番環境かどうかを返す。
// 本番環境ではCookieにSecure属性を付与し、エラー詳細をレスポンスに含めない。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.RefreshTokenSecret = os.Getenv("REFRESH_TOKEN_SECRET")
	if cfg.RefreshTokenSecret == "" {
		missing = append(missing, "REFRESH_TOKEN_SECRET")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// アクセストークンとリフレッシュトークンの鍵は分離する
	if cfg.JWTSecret == cfg.RefreshTokenSecret {
		return nil, fmt.Errorf("JWT_SECRET and REFRESH_TOKEN_SECRET must differ")
	}

	// Optional fields with defaults
	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.JWTExpiry = getEnvDuration("JWT_EXPIRY", 15*time.Minute)
	cfg.RefreshTokenExpiry = getEnvDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.LoginRateLimitMax = getEnvInt("LOGIN_RATE_LIMIT_MAX", 5)
	cfg.LoginRateLimitWindow = getEnvDuration("LOGIN_RATE_LIMIT_WINDOW", 15*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogLevel = getEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "3002")
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", false)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvDuration はtime.ParseDurationの形式に加え、"7d" のような日数指定を受け付ける。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := parseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func parseDuration(v string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(v)
}

func getEnvLogLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
