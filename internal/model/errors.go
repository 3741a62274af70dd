// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, provider, ratelimit, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnknownProvider      = "UNKNOWN_PROVIDER"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeRequestExhausted     = "REQUEST_RETRIES_EXHAUSTED"
	ErrCodeWebhookInvalid       = "WEBHOOK_INVALID"
	ErrCodeInvalidTimezone      = "INVALID_TIMEZONE"
	ErrCodeSelectionNotFound    = "SELECTION_NOT_FOUND"
	ErrCodeInvalidSyncDirection = "INVALID_SYNC_DIRECTION"
	ErrCodeNoCandidates         = "NO_CANDIDATE_SLOTS"
)

// NewUnknownProviderError は未対応プロバイダーエラーを生成する。
func NewUnknownProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("未対応のプロバイダーです: %s", provider),
		Category: "validation",
		Action:   "google、microsoft、zoom、caldav のいずれかを指定してください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError(provider, window string) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  fmt.Sprintf("プロバイダー %s の %s ウィンドウのレート制限に達しました。", provider, window),
		Category: "ratelimit",
		Action:   "しばらく待ってから再度お試しください。リクエストはキューで自動的に再試行されます。",
	}
}

// NewRequestExhaustedError はリトライ上限到達エラーを生成する。
func NewRequestExhaustedError(requestID string, retries int) *APIError {
	return &APIError{
		Code:     ErrCodeRequestExhausted,
		Message:  fmt.Sprintf("リクエスト %s は %d 回のリトライ後も失敗しました。", requestID, retries),
		Category: "provider",
		Action:   "プロバイダーの稼働状況を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewWebhookInvalidError はWebhook検証失敗エラーを生成する。
// 検証失敗の詳細reasonはログにのみ記録し、レスポンスには含めない。
func NewWebhookInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeWebhookInvalid,
		Message:  "Webhook通知の検証に失敗しました。",
		Category: "validation",
		Action:   "チャネルの有効期限と認証情報を確認してください。",
	}
}

// NewInvalidTimezoneError は無効なタイムゾーンエラーを生成する。
func NewInvalidTimezoneError(tz string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTimezone,
		Message:  fmt.Sprintf("無効なタイムゾーンです: %s", tz),
		Category: "validation",
		Action:   "IANAタイムゾーン名（例: Asia/Tokyo）を指定してください。",
	}
}

// NewSelectionNotFoundError はカレンダー選択未検出エラーを生成する。
func NewSelectionNotFoundError(calendarID string) *APIError {
	return &APIError{
		Code:     ErrCodeSelectionNotFound,
		Message:  fmt.Sprintf("指定されたカレンダー選択が見つかりません: %s", calendarID),
		Category: "validation",
		Action:   "カレンダーIDを確認してください。",
	}
}

// NewInvalidSyncDirectionError は無効な同期方向エラーを生成する。
func NewInvalidSyncDirectionError(direction string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSyncDirection,
		Message:  fmt.Sprintf("無効な同期方向です: %s", direction),
		Category: "validation",
		Action:   "bidirectional、to_provider、from_provider のいずれかを指定してください。",
	}
}

// NewNoCandidatesError は候補スロットなしエラーを生成する。
func NewNoCandidatesError() *APIError {
	return &APIError{
		Code:     ErrCodeNoCandidates,
		Message:  "条件を満たす代替候補が見つかりませんでした。",
		Category: "validation",
		Action:   "検索期間を広げるか、営業時間・週末の制約を緩和して再度お試しください。",
	}
}
