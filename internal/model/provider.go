// Package model はドメインモデルを定義する。
package model

import "time"

// ProviderKey は外部カレンダー/ビデオ会議サービスの識別子を表す。
type ProviderKey string

const (
	// ProviderGoogle はプッシュチャネル方式のカレンダーサービス。
	ProviderGoogle ProviderKey = "google"
	// ProviderMicrosoft はサブスクリプション方式のカレンダーサービス。
	ProviderMicrosoft ProviderKey = "microsoft"
	// ProviderZoom はBearerトークン+タイムスタンプ方式のビデオ会議サービス。
	ProviderZoom ProviderKey = "zoom"
	// ProviderCalDAV はAPIキー方式のCalDAVカレンダーサービス。
	ProviderCalDAV ProviderKey = "caldav"
)

// AllProviders は対応する全プロバイダーのリスト。
// ディスパッチャーやバリデーターの初期化時に使用する。
var AllProviders = []ProviderKey{
	ProviderGoogle,
	ProviderMicrosoft,
	ProviderZoom,
	ProviderCalDAV,
}

// IsValidProvider は指定キーが対応プロバイダーかを判定する。
func IsValidProvider(key ProviderKey) bool {
	for _, p := range AllProviders {
		if p == key {
			return true
		}
	}
	return false
}

// ProviderConfig はプロバイダーごとのレート制限設定を表す。
// 起動時に1回読み込み、イミュータブルとして扱う。
type ProviderConfig struct {
	Provider          ProviderKey
	RequestsPerSecond int // 秒間の呼び出し上限
	RequestsPerMinute int // 分間の呼び出し上限
	RequestsPerDay    int // 日次の呼び出し上限
	PerUserDailyQuota int // ユーザーごとの日次クォータ（0は無制限）
	BurstLimit        int // 1ティックで処理する最大件数
}

// DefaultProviderConfigs は各プロバイダー公称のAPIクォータに基づくデフォルト設定を返す。
// 実際の上限より保守的な値を設定している。
func DefaultProviderConfigs() map[ProviderKey]ProviderConfig {
	return map[ProviderKey]ProviderConfig{
		ProviderGoogle: {
			Provider:          ProviderGoogle,
			RequestsPerSecond: 10,
			RequestsPerMinute: 500,
			RequestsPerDay:    100000,
			PerUserDailyQuota: 10000,
			BurstLimit:        5,
		},
		ProviderMicrosoft: {
			Provider:          ProviderMicrosoft,
			RequestsPerSecond: 8,
			RequestsPerMinute: 400,
			RequestsPerDay:    80000,
			PerUserDailyQuota: 8000,
			BurstLimit:        4,
		},
		ProviderZoom: {
			Provider:          ProviderZoom,
			RequestsPerSecond: 4,
			RequestsPerMinute: 100,
			RequestsPerDay:    30000,
			PerUserDailyQuota: 2000,
			BurstLimit:        2,
		},
		ProviderCalDAV: {
			Provider:          ProviderCalDAV,
			RequestsPerSecond: 5,
			RequestsPerMinute: 200,
			RequestsPerDay:    50000,
			PerUserDailyQuota: 5000,
			BurstLimit:        3,
		},
	}
}

// RateWindow はレート制限の集計ウィンドウ種別を表す。
type RateWindow string

const (
	// WindowSecond は秒単位のスライディングウィンドウ。
	WindowSecond RateWindow = "second"
	// WindowMinute は分単位のスライディングウィンドウ。
	WindowMinute RateWindow = "minute"
	// WindowDay は日単位のスライディングウィンドウ。
	WindowDay RateWindow = "day"
)

// Duration はウィンドウ種別に対応する期間を返す。
func (w RateWindow) Duration() time.Duration {
	switch w {
	case WindowSecond:
		return time.Second
	case WindowMinute:
		return time.Minute
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Second
	}
}
