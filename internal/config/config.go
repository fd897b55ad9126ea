// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// minSessionSecretLength はSESSION_SECRETに要求する最小バイト数。
const minSessionSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Redis（空の場合はインメモリ実装を使用する）
	RedisURL string

	// OAuth: Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// OAuth: GitHub（ClientIDとClientSecretの両方が設定された場合のみ有効）
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string

	// Session
	SessionSecret          string
	SessionTTL             time.Duration
	SessionRenewWindow     time.Duration
	PendingRegistrationTTL time.Duration
	SessionSweepInterval   time.Duration
	SessionSweepGrace      time.Duration

	// Rate Limit
	RateLimitGeneral            int
	RateLimitRegistration       int
	RateLimitRegistrationWindow time.Duration
	RateLimitLogin              int
	RateLimitLoginWindow        time.Duration

	// Frontend paths
	LoginPath     string
	RegisterPath  string
	DashboardPath string

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string
	// TrustProxyHeaders が真の場合のみX-Forwarded-For/X-Real-IPをクライアントIPとして採用する。
	TrustProxyHeaders bool

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// GitHubEnabled はGitHubプロバイダーが設定済みかどうかを返す。
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// LoginURL はログイン画面の絶対URLを返す。
func (c *Config) LoginURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.LoginPath
}

// RegisterURL は登録フォーム画面の絶対URLを返す。
func (c *Config) RegisterURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.RegisterPath
}

// DashboardURL は認証後に遷移する画面の絶対URLを返す。
func (c *Config) DashboardURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.DashboardPath
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}

	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.GoogleClientID = required("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = required("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = required("GOOGLE_REDIRECT_URL")
	cfg.SessionSecret = required("SESSION_SECRET")
	cfg.BaseURL = required("BASE_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.SessionSecret) < minSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.GitHubClientID = getEnvString("GITHUB_CLIENT_ID", "")
	cfg.GitHubClientSecret = getEnvString("GITHUB_CLIENT_SECRET", "")
	cfg.GitHubRedirectURL = getEnvString("GITHUB_REDIRECT_URL", "")
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 30*24*time.Hour)
	cfg.SessionRenewWindow = getEnvDuration("SESSION_RENEW_WINDOW", 15*24*time.Hour)
	cfg.PendingRegistrationTTL = getEnvDuration("PENDING_REGISTRATION_TTL", 10*time.Minute)
	cfg.SessionSweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", time.Hour)
	cfg.SessionSweepGrace = getEnvDuration("SESSION_SWEEP_GRACE", 0)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitRegistration = getEnvInt("RATE_LIMIT_REGISTRATION", 5)
	cfg.RateLimitRegistrationWindow = getEnvDuration("RATE_LIMIT_REGISTRATION_WINDOW", 60*time.Second)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 20)
	cfg.RateLimitLoginWindow = getEnvDuration("RATE_LIMIT_LOGIN_WINDOW", 60*time.Second)
	cfg.LoginPath = getEnvString("LOGIN_PATH", "/login")
	cfg.RegisterPath = getEnvString("REGISTER_PATH", "/register")
	cfg.DashboardPath = getEnvString("DASHBOARD_PATH", "/dashboard")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.TrustProxyHeaders = getEnvBool("TRUSTED_PROXY", false)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.SessionRenewWindow >= cfg.SessionTTL {
		return nil, fmt.Errorf("SESSION_RENEW_WINDOW (%s) must be shorter than SESSION_TTL (%s)", cfg.SessionRenewWindow, cfg.SessionTTL)
	}

	return cfg, nil
}

// loadDotEnv はpathのファイルを環境変数として読み込む。ファイルがなければ何もしない。
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
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
		warnInvalid(key, v, defaultVal)
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
	if err != nil || d < 0 {
		warnInvalid(key, v, defaultVal)
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		warnInvalid(key, v, defaultVal)
		return defaultVal
	}
	return b
}

// warnInvalid は解釈できない任意設定を既定値で置き換えたことを記録する。
func warnInvalid(key, value string, defaultVal any) {
	slog.Warn("invalid environment variable, using default",
		slog.String("key", key),
		slog.String("value", value),
		slog.Any("default", defaultVal),
	)
}
