// Package provider は外部カレンダープロバイダーへのアダプターを定義する。
// プロバイダーごとのAPI差はアダプター実装で吸収し、オーケストレーターは
// 共通のAdapterインターフェースだけを扱う。発信呼び出しはすべて
// ディスパッチャー経由で行われ、アダプターを直接叩くことはない。
package provider

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/meetsync/internal/model"
)

// Operation はキューリクエストのEndpointに設定する論理操作名。
type Operation string

const (
	// OpListCalendars はカレンダー一覧の取得。
	OpListCalendars Operation = "calendars.list"
	// OpFetchBusy は予定区間の取得。
	OpFetchBusy Operation = "freebusy.query"
	// OpOpenChannel はWebhookチャネルの開設。
	OpOpenChannel Operation = "channel.open"
	// OpSyncCalendar は1カレンダーの同期実行。
	OpSyncCalendar Operation = "calendar.sync"
)

// Account はプロバイダーへの認証情報を表す。
// トークンの取得・更新は外部の認証レイヤーの責務であり、
// ここでは解決済みの認証情報のみを受け取る。
type Account struct {
	UserID   string
	Token    *oauth2.Token // OAuth系プロバイダー
	APIToken string        // 静的トークン認証のプロバイダー
	Username string        // Basic認証（CalDAV）
	Password string
	Endpoint string // アカウント固有のエンドポイント。空の場合はアダプターの既定値
}

// AccountSource はユーザー・プロバイダーの組に対する認証情報を解決する。
type AccountSource interface {
	AccountFor(ctx context.Context, provider model.ProviderKey, userID string) (*Account, error)
}

// FetchBusyArgs は予定区間取得のパラメーター。
type FetchBusyArgs struct {
	CalendarIDs []string  `json:"calendar_ids"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
}

// OpenChannelArgs はWebhookチャネル開設のパラメーター。
type OpenChannelArgs struct {
	CalendarID  string `json:"calendar_id"`
	CallbackURL string `json:"callback_url"`
}

// SyncCalendarArgs は1カレンダー同期のパラメーター。
type SyncCalendarArgs struct {
	CalendarID string              `json:"calendar_id"`
	Direction  model.SyncDirection `json:"direction"`
	Since      time.Time           `json:"since"`
}

// Adapter は1プロバイダーのカレンダーAPI呼び出しを実装する。
type Adapter interface {
	// Key は担当プロバイダーを返す。
	Key() model.ProviderKey

	// ListCalendars はアカウントのカレンダー一覧を返す。
	ListCalendars(ctx context.Context, account *Account) ([]model.CalendarInfo, error)

	// FetchBusyIntervals は指定カレンダー群の予定区間をUTCで返す。
	FetchBusyIntervals(ctx context.Context, account *Account, args FetchBusyArgs) ([]model.BusyInterval, error)

	// OpenChannel はWebhook通知チャネルを開設し、保存用のサブスクリプションを返す。
	OpenChannel(ctx context.Context, account *Account, args OpenChannelArgs) (*model.WebhookSubscription, error)

	// SyncCalendar は1カレンダーの同期を実行する。
	SyncCalendar(ctx context.Context, account *Account, args SyncCalendarArgs) (*model.CalendarSyncResult, error)
}

// Registry はプロバイダーキーからアダプターを引くテーブル。
type Registry struct {
	adapters map[model.ProviderKey]Adapter
}

// NewRegistry はRegistryを生成する。
func NewRegistry(adapters ...Adapter) *Registry {
	reg := &Registry{adapters: make(map[model.ProviderKey]Adapter, len(adapters))}
	for _, a := range adapters {
		reg.adapters[a.Key()] = a
	}
	return reg
}

// Get は指定プロバイダーのアダプターを返す。
// 未登録の場合はエラーを返す。
func (r *Registry) Get(provider model.ProviderKey) (Adapter, error) {
	a, ok := r.adapters[provider]
	if !ok {
		return nil, model.NewUnknownProviderError(string(provider))
	}
	return a, nil
}
