// Package rest はJSON-over-HTTPのブリッジサービスへの汎用アダプターを実装する。
// Microsoft系・Zoom系のプロバイダーは、それぞれの公式APIをこのパッケージが
// 定義するブリッジ契約へ変換するゲートウェイの背後に置かれる。
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/provider"
)

// maxResponseBytes はブリッジ応答の読み込み上限。
const maxResponseBytes = 4 << 20

// Adapter はブリッジ契約に従うRESTサービスを呼び出すアダプター。
type Adapter struct {
	key        model.ProviderKey
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	channelTTL time.Duration
}

// NewAdapter はAdapterを生成する。
// httpClientにはSSRF防止つきのクライアントを渡す。
func NewAdapter(key model.ProviderKey, baseURL string, httpClient *http.Client, channelTTL time.Duration, logger *slog.Logger) *Adapter {
	return &Adapter{key: key, baseURL: baseURL, httpClient: httpClient, logger: logger, channelTTL: channelTTL}
}

// Key は担当プロバイダーを返す。
func (a *Adapter) Key() model.ProviderKey {
	return a.key
}

// do はBearer認証つきでブリッジを呼び出し、応答JSONをoutへデコードする。
func (a *Adapter) do(ctx context.Context, account *provider.Account, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	base := account.Endpoint
	if base == "" {
		base = a.baseURL
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if account.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+account.APIToken)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response of %s %s: %w", method, path, err)
	}
	return nil
}

type calendarListResponse struct {
	Calendars []struct {
		ID               string `json:"id"`
		Name             string `json:"name"`
		IsPrimary        bool   `json:"is_primary"`
		AccessRole       string `json:"access_role"`
		ReadOnly         bool   `json:"read_only"`
		RecentEventCount int    `json:"recent_event_count"`
	} `json:"calendars"`
}

// ListCalendars はブリッジのカレンダー一覧エンドポイントを呼び出す。
func (a *Adapter) ListCalendars(ctx context.Context, account *provider.Account) ([]model.CalendarInfo, error) {
	var resp calendarListResponse
	if err := a.do(ctx, account, http.MethodGet, "/calendars", nil, &resp); err != nil {
		return nil, err
	}

	calendars := make([]model.CalendarInfo, 0, len(resp.Calendars))
	for _, c := range resp.Calendars {
		calendars = append(calendars, model.CalendarInfo{
			ID:               c.ID,
			Name:             c.Name,
			IsPrimary:        c.IsPrimary,
			AccessRole:       c.AccessRole,
			ReadOnly:         c.ReadOnly,
			RecentEventCount: c.RecentEventCount,
		})
	}
	return calendars, nil
}

type scheduleRequest struct {
	CalendarIDs []string  `json:"calendar_ids"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
}

type scheduleResponse struct {
	Busy []struct {
		CalendarID string    `json:"calendar_id"`
		Start      time.Time `json:"start"`
		End        time.Time `json:"end"`
	} `json:"busy"`
}

// FetchBusyIntervals はブリッジのスケジュール照会エンドポイントを呼び出す。
func (a *Adapter) FetchBusyIntervals(ctx context.Context, account *provider.Account, args provider.FetchBusyArgs) ([]model.BusyInterval, error) {
	var resp scheduleResponse
	body := scheduleRequest{CalendarIDs: args.CalendarIDs, From: args.From.UTC(), To: args.To.UTC()}
	if err := a.do(ctx, account, http.MethodPost, "/schedule", body, &resp); err != nil {
		return nil, err
	}

	intervals := make([]model.BusyInterval, 0, len(resp.Busy))
	for _, b := range resp.Busy {
		if !b.End.After(b.Start) {
			continue
		}
		intervals = append(intervals, model.BusyInterval{
			Start:  b.Start.UTC(),
			End:    b.End.UTC(),
			Source: a.key,
		})
	}
	return intervals, nil
}

type subscriptionRequest struct {
	CalendarID      string    `json:"calendar_id"`
	NotificationURL string    `json:"notification_url"`
	ClientState     string    `json:"client_state"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type subscriptionResponse struct {
	SubscriptionID string    `json:"subscription_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// OpenChannel はブリッジへサブスクリプションを登録する。
// clientStateはこちらで生成し、受信Webhookの検証に使う。
func (a *Adapter) OpenChannel(ctx context.Context, account *provider.Account, args provider.OpenChannelArgs) (*model.WebhookSubscription, error) {
	secret := uuid.NewString()
	now := time.Now()
	reqBody := subscriptionRequest{
		CalendarID:      args.CalendarID,
		NotificationURL: args.CallbackURL,
		ClientState:     secret,
		ExpiresAt:       now.Add(a.channelTTL),
	}

	var resp subscriptionResponse
	if err := a.do(ctx, account, http.MethodPost, "/subscriptions", reqBody, &resp); err != nil {
		return nil, err
	}
	if resp.SubscriptionID == "" {
		return nil, fmt.Errorf("bridge returned empty subscription id")
	}

	expiresAt := resp.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(a.channelTTL)
	}

	a.logger.Info("opened bridge subscription",
		slog.String("provider", string(a.key)),
		slog.String("user_id", account.UserID),
		slog.String("calendar_id", args.CalendarID),
		slog.String("subscription_id", resp.SubscriptionID))

	return &model.WebhookSubscription{
		ID:             uuid.NewString(),
		Provider:       a.key,
		UserID:         account.UserID,
		CalendarID:     args.CalendarID,
		SubscriptionID: resp.SubscriptionID,
		Secret:         secret,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
	}, nil
}

type syncRequest struct {
	CalendarID string    `json:"calendar_id"`
	Direction  string    `json:"direction"`
	Since      time.Time `json:"since"`
}

type syncResponse struct {
	EventCount int `json:"event_count"`
}

// SyncCalendar はブリッジの同期エンドポイントを呼び出す。
func (a *Adapter) SyncCalendar(ctx context.Context, account *provider.Account, args provider.SyncCalendarArgs) (*model.CalendarSyncResult, error) {
	body := syncRequest{CalendarID: args.CalendarID, Direction: string(args.Direction), Since: args.Since}

	var resp syncResponse
	if err := a.do(ctx, account, http.MethodPost, "/sync", body, &resp); err != nil {
		return &model.CalendarSyncResult{CalendarID: args.CalendarID, Err: err.Error()}, nil
	}
	return &model.CalendarSyncResult{
		CalendarID: args.CalendarID,
		Success:    true,
		EventCount: resp.EventCount,
	}, nil
}

var _ provider.Adapter = (*Adapter)(nil)
