// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
)

// CounterRepository はレート制限カウンターの永続化インターフェース。
// 複数プロセスでプロバイダークォータを共有するための唯一の正であり、
// インクリメントはトランザクショナルに行われる。
type CounterRepository interface {
	// IncrementCalls は該当する全ウィンドウ（プロバイダーの秒/分/日、
	// userIDが非空の場合はユーザー日次）のカウンターを同一トランザクションで
	// インクリメントする。バケットが存在しない場合は作成する。
	IncrementCalls(ctx context.Context, provider model.ProviderKey, userID string, now time.Time) error

	// WindowCount は指定ウィンドウの現在バケットのカウントを返す。
	// userIDが空の場合はプロバイダー全体、非空の場合はユーザースコープを参照する。
	// バケットが存在しない場合は0を返す。
	WindowCount(ctx context.Context, provider model.ProviderKey, window model.RateWindow, userID string, now time.Time) (int, error)

	// DeleteExpired は期限切れバケットを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// WebhookSubscriptionRepository はWebhookチャネル登録の永続化インターフェース。
type WebhookSubscriptionRepository interface {
	// Create はサブスクリプションを作成する。
	Create(ctx context.Context, sub *model.WebhookSubscription) error

	// FindBySubscriptionID はプロバイダーとサブスクリプションIDで検索する。
	// 見つからない場合はnilを返す。
	FindBySubscriptionID(ctx context.Context, provider model.ProviderKey, subscriptionID string) (*model.WebhookSubscription, error)

	// ListByUser はユーザーの全サブスクリプションを返す。
	ListByUser(ctx context.Context, userID string) ([]*model.WebhookSubscription, error)

	// UpdateExpiry はチャネル更新時に有効期限とシークレットを更新する。
	UpdateExpiry(ctx context.Context, id string, secret string, expiresAt time.Time) error

	// DeleteByID は指定IDのサブスクリプションを削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteExpired は有効期限を過ぎたサブスクリプションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CalendarSelectionRepository はカレンダー選択の永続化インターフェース。
type CalendarSelectionRepository interface {
	// ListActive はユーザー・連携のアクティブな選択一覧を返す。
	ListActive(ctx context.Context, userID, integrationID string) ([]*model.CalendarSelection, error)

	// FindByCalendar はカレンダーIDで選択を検索する（非アクティブ含む）。
	// 見つからない場合はnilを返す。
	FindByCalendar(ctx context.Context, userID, integrationID, calendarID string) (*model.CalendarSelection, error)

	// Create は選択を作成する。
	Create(ctx context.Context, sel *model.CalendarSelection) error

	// Update は選択の方向・衝突モード・表示名・アクティブフラグを更新する。
	Update(ctx context.Context, sel *model.CalendarSelection) error

	// Deactivate は選択をソフトデリート（is_active=false）する。
	Deactivate(ctx context.Context, id string) error
}
