package model

import "time"

// SyncDirection はカレンダー同期の方向を表す。
type SyncDirection string

const (
	// SyncBidirectional は双方向同期。
	SyncBidirectional SyncDirection = "bidirectional"
	// SyncToProvider はプロバイダーへの書き込みのみ。
	SyncToProvider SyncDirection = "to_provider"
	// SyncFromProvider はプロバイダーからの読み込みのみ。
	SyncFromProvider SyncDirection = "from_provider"
)

// IsValidSyncDirection は認識可能な同期方向かを判定する。
func IsValidSyncDirection(d SyncDirection) bool {
	switch d {
	case SyncBidirectional, SyncToProvider, SyncFromProvider:
		return true
	default:
		return false
	}
}

// ConflictMode は同期衝突時の解決モードを表す。
type ConflictMode string

const (
	// ConflictModeManual は人間が最終スロットを選択する（デフォルト）。
	ConflictModeManual ConflictMode = "manual"
	// ConflictModeProviderWins はプロバイダー側の変更を優先する。
	ConflictModeProviderWins ConflictMode = "provider_wins"
	// ConflictModeLocalWins はローカル側の変更を優先する。
	ConflictModeLocalWins ConflictMode = "local_wins"
)

// CalendarSelection はユーザーによる同期対象カレンダーの選択を表す。
// 削除は物理削除ではなくIsActive=falseのソフトデリートで行い、監査履歴を保持する。
type CalendarSelection struct {
	ID            string
	UserID        string
	IntegrationID string
	CalendarID    string
	CalendarName  string
	Direction     SyncDirection
	ConflictMode  ConflictMode
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CalendarInfo はプロバイダーから列挙したカレンダーの情報を表す。
// listAvailableCalendarsの結果として1時間キャッシュされる。
type CalendarInfo struct {
	ID         string
	Name       string // サニタイズ済みの表示名
	IsPrimary  bool
	AccessRole string // owner / writer / reader
	ReadOnly   bool
	// RecentEventCount は直近の概算イベント数。一覧レスポンスに件数を
	// 含められるプロバイダーのみ設定し、0は「不明」を意味する。
	RecentEventCount int
}

// SyncPreference はユーザーの同期に関する全体設定を表す。
type SyncPreference struct {
	UserID                 string
	SyncSecondaryCalendars bool // オーナー権限のあるサブカレンダーも同期するか
	ExcludeReadOnly        bool // 読み取り専用カレンダーを推奨から除外するか
}

// CalendarSyncResult は1カレンダーの同期結果を表す。
type CalendarSyncResult struct {
	CalendarID string
	Success    bool
	EventCount int
	Err        string // 失敗時のみ設定
}

// SyncSummary は全カレンダー同期の集計結果を表す。
// 個別カレンダーの失敗は他のカレンダーの同期を妨げない。
type SyncSummary struct {
	Results      []CalendarSyncResult
	SuccessCount int
	FailureCount int
}
