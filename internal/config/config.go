package config

import (
	"fmt"
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

	// Provider credentials
	GoogleClientID     string
	GoogleClientSecret string
	MicrosoftEndpoint  string
	MicrosoftAPIToken  string // ブリッジへのBearerトークン
	ZoomSecretToken    string
	ZoomEndpoint       string
	ZoomAPIToken       string // ブリッジへのBearerトークン
	CalDAVEndpoint     string

	// Dispatch
	DispatchTickInterval time.Duration
	DispatchMaxRetries   int

	// Webhook
	WebhookReplayWindow       time.Duration // zoom系のリプレイ許容時間
	WebhookStaleWindow        time.Duration // caldav系のタイムスタンプ許容時間
	SubscriptionSweepInterval time.Duration

	// Suggestion
	SuggestLookAheadDays int
	SuggestIncrement     time.Duration
	SuggestBufferMinutes int
	SuggestMaxResults    int
	BusinessHoursStart   int
	BusinessHoursEnd     int

	// Calendar cache
	CalendarListTTL time.Duration

	// Server
	ServerPort string
	BaseURL    string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがある場合は先に読み込む（ローカル開発用）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envは存在しなくてもエラーにしない
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// プロバイダー認証情報。未設定のプロバイダーは無効として扱う
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.MicrosoftEndpoint = os.Getenv("MICROSOFT_ENDPOINT")
	cfg.MicrosoftAPIToken = os.Getenv("MICROSOFT_API_TOKEN")
	cfg.ZoomSecretToken = os.Getenv("ZOOM_SECRET_TOKEN")
	cfg.ZoomEndpoint = os.Getenv("ZOOM_ENDPOINT")
	cfg.ZoomAPIToken = os.Getenv("ZOOM_API_TOKEN")
	cfg.CalDAVEndpoint = os.Getenv("CALDAV_ENDPOINT")

	// Optional fields with defaults
	cfg.DispatchTickInterval = getEnvDuration("DISPATCH_TICK_INTERVAL", 1*time.Second)
	cfg.DispatchMaxRetries = getEnvInt("DISPATCH_MAX_RETRIES", 3)
	cfg.WebhookReplayWindow = getEnvDuration("WEBHOOK_REPLAY_WINDOW", 5*time.Minute)
	cfg.WebhookStaleWindow = getEnvDuration("WEBHOOK_STALE_WINDOW", 1*time.Hour)
	cfg.SubscriptionSweepInterval = getEnvDuration("SUBSCRIPTION_SWEEP_INTERVAL", 24*time.Hour)
	cfg.SuggestLookAheadDays = getEnvInt("SUGGEST_LOOKAHEAD_DAYS", 14)
	cfg.SuggestIncrement = getEnvDuration("SUGGEST_INCREMENT", 30*time.Minute)
	cfg.SuggestBufferMinutes = getEnvInt("SUGGEST_BUFFER_MINUTES", 15)
	cfg.SuggestMaxResults = getEnvInt("SUGGEST_MAX_RESULTS", 10)
	cfg.BusinessHoursStart = getEnvInt("BUSINESS_HOURS_START", 8)
	cfg.BusinessHoursEnd = getEnvInt("BUSINESS_HOURS_END", 18)
	cfg.CalendarListTTL = getEnvDuration("CALENDAR_LIST_TTL", 1*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

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
