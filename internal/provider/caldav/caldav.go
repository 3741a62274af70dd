// Package caldav はCalDAVサーバーへのアダプターを実装する。
// 自己ホスト型サーバーを想定し、Basic認証とカレンダーホームの探索を行う。
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/provider"
)

// Adapter はCalDAVサーバーを呼び出すアダプター。
// プッシュ通知はCalDAV標準に存在しないため、OpenChannelはブリッジ通知用の
// ローカルサブスクリプションを発行する。
type Adapter struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
	channelTTL time.Duration
}

// NewAdapter はAdapterを生成する。
// httpClientにはSSRF防止つきのクライアントを渡す。
func NewAdapter(endpoint string, httpClient *http.Client, channelTTL time.Duration, logger *slog.Logger) *Adapter {
	return &Adapter{endpoint: endpoint, httpClient: httpClient, logger: logger, channelTTL: channelTTL}
}

// Key は担当プロバイダーを返す。
func (a *Adapter) Key() model.ProviderKey {
	return model.ProviderCalDAV
}

// client はアカウントのBasic認証つきCalDAVクライアントを生成する。
func (a *Adapter) client(account *provider.Account) (*caldav.Client, error) {
	endpoint := account.Endpoint
	if endpoint == "" {
		endpoint = a.endpoint
	}
	if endpoint == "" {
		return nil, fmt.Errorf("caldav endpoint not configured for account %s", account.UserID)
	}

	authClient := webdav.HTTPClientWithBasicAuth(a.httpClient, account.Username, account.Password)
	client, err := caldav.NewClient(authClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create caldav client: %w", err)
	}
	return client, nil
}

// ListCalendars はプリンシパルからカレンダーホームをたどり一覧を取得する。
func (a *Adapter) ListCalendars(ctx context.Context, account *provider.Account) ([]model.CalendarInfo, error) {
	client, err := a.client(account)
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find calendar home set: %w", err)
	}
	calendars, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	infos := make([]model.CalendarInfo, 0, len(calendars))
	for i, cal := range calendars {
		infos = append(infos, model.CalendarInfo{
			ID:         cal.Path,
			Name:       cal.Name,
			IsPrimary:  i == 0, // ホームセットの先頭を主カレンダーとみなす
			AccessRole: "owner",
		})
	}
	a.logger.Debug("listed caldav calendars",
		slog.String("user_id", account.UserID),
		slog.Int("count", len(infos)))
	return infos, nil
}

// FetchBusyIntervals はcalendar-queryレポートでVEVENTを取得し、
// 予定区間へ変換する。
func (a *Adapter) FetchBusyIntervals(ctx context.Context, account *provider.Account, args provider.FetchBusyArgs) ([]model.BusyInterval, error) {
	client, err := a.client(account)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:  ical.CompEvent,
				Props: []string{ical.PropUID, ical.PropDateTimeStart, ical.PropDateTimeEnd},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: args.From.UTC(),
				End:   args.To.UTC(),
			}},
		},
	}

	var intervals []model.BusyInterval
	for _, calendarPath := range args.CalendarIDs {
		objects, err := client.QueryCalendar(ctx, calendarPath, query)
		if err != nil {
			return nil, fmt.Errorf("query calendar %s: %w", calendarPath, err)
		}
		for _, obj := range objects {
			if obj.Data == nil {
				continue
			}
			for _, event := range obj.Data.Events() {
				start, err := event.DateTimeStart(time.UTC)
				if err != nil {
					continue
				}
				end, err := event.DateTimeEnd(time.UTC)
				if err != nil || !end.After(start) {
					continue
				}
				intervals = append(intervals, model.BusyInterval{
					Start:  start.UTC(),
					End:    end.UTC(),
					Source: model.ProviderCalDAV,
				})
			}
		}
	}
	return intervals, nil
}

// OpenChannel はブリッジ通知用のローカルサブスクリプションを発行する。
// 発行したAPIキーはブリッジ側に設定され、受信通知の検証に使われる。
func (a *Adapter) OpenChannel(ctx context.Context, account *provider.Account, args provider.OpenChannelArgs) (*model.WebhookSubscription, error) {
	now := time.Now()
	sub := &model.WebhookSubscription{
		ID:             uuid.NewString(),
		Provider:       model.ProviderCalDAV,
		UserID:         account.UserID,
		CalendarID:     args.CalendarID,
		SubscriptionID: uuid.NewString(),
		Secret:         uuid.NewString(),
		ExpiresAt:      now.Add(a.channelTTL),
		CreatedAt:      now,
	}
	a.logger.Info("issued caldav bridge subscription",
		slog.String("user_id", account.UserID),
		slog.String("calendar_id", args.CalendarID),
		slog.String("subscription_id", sub.SubscriptionID))
	return sub, nil
}

// SyncCalendar は同期ウィンドウ内のイベント数を集計する。
func (a *Adapter) SyncCalendar(ctx context.Context, account *provider.Account, args provider.SyncCalendarArgs) (*model.CalendarSyncResult, error) {
	since := args.Since
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}
	intervals, err := a.FetchBusyIntervals(ctx, account, provider.FetchBusyArgs{
		CalendarIDs: []string{args.CalendarID},
		From:        since,
		To:          time.Now().AddDate(0, 0, 30),
	})
	if err != nil {
		return &model.CalendarSyncResult{CalendarID: args.CalendarID, Err: err.Error()}, nil
	}
	return &model.CalendarSyncResult{
		CalendarID: args.CalendarID,
		Success:    true,
		EventCount: len(intervals),
	}, nil
}

var _ provider.Adapter = (*Adapter)(nil)
