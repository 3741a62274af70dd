package model

import "time"

// WebhookSubscription はプロバイダーとのプッシュ通知チャネル登録を表す。
// チャネル開設時に作成され、受信Webhookの検証に毎回参照される。
// 期限切れエントリは検証で拒否され、ワーカーの定期スイープで削除される。
type WebhookSubscription struct {
	ID             string
	Provider       ProviderKey
	UserID         string
	CalendarID     string
	SubscriptionID string // プロバイダー発行のチャネル/サブスクリプションID
	ResourceID     string // プッシュチャネル方式でのリソースID
	Secret         string // チャネルトークン、clientState、またはAPIキー
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// IsExpired はサブスクリプションが期限切れかを判定する。
func (s *WebhookSubscription) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// ChangeType はWebhook通知が示す変更種別を表す。
type ChangeType string

const (
	// ChangeTypeCreated はイベント作成通知。
	ChangeTypeCreated ChangeType = "created"
	// ChangeTypeUpdated はイベント更新通知。
	ChangeTypeUpdated ChangeType = "updated"
	// ChangeTypeDeleted はイベント削除通知。
	ChangeTypeDeleted ChangeType = "deleted"
)

// IsValidChangeType は認識可能な変更種別かを判定する。
func IsValidChangeType(t ChangeType) bool {
	switch t {
	case ChangeTypeCreated, ChangeTypeUpdated, ChangeTypeDeleted:
		return true
	default:
		return false
	}
}

// WebhookNotification は検証を通過した通知を正規化した形式。
// プロバイダーごとの形式差はバリデーターで吸収し、オーケストレーターには
// この形式で渡す。
type WebhookNotification struct {
	Provider       ProviderKey
	SubscriptionID string
	CalendarID     string
	UserID         string
	ChangeType     ChangeType
	ReceivedAt     time.Time
}
