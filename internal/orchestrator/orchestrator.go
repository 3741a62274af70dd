// Package orchestrator は複数カレンダーの選択・同期・チャネル管理を調整する。
// プロバイダーへの発信呼び出しはすべてディスパッチャーのキューを経由し、
// レート制限を迂回する経路を持たない。
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/meetsync/internal/dispatch"
	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/provider"
	"github.com/hitoshi/meetsync/internal/repository"
	"github.com/hitoshi/meetsync/internal/security"
)

// 発信リクエストの優先度。小さいほど先に実行される。
const (
	priorityNotification = 0 // Webhook起点の同期
	priorityInteractive  = 1 // ユーザー操作起点の呼び出し
	priorityBackground   = 2 // 定期ジョブ起点の呼び出し
)

// listCacheEntry はカレンダー一覧のキャッシュエントリ。
// 壁時計の副作用に頼らず、storedAtとTTLで読み出し時に失効判定する。
type listCacheEntry struct {
	calendars []model.CalendarInfo
	storedAt  time.Time
}

// Orchestrator は選択・同期・チャネル管理の調整役。
type Orchestrator struct {
	dispatcher    *dispatch.Dispatcher
	selections    repository.CalendarSelectionRepository
	subscriptions repository.WebhookSubscriptionRepository
	sanitizer     security.NameSanitizerService
	logger        *slog.Logger
	baseURL       string
	listTTL       time.Duration
	now           func() time.Time

	mu        sync.Mutex
	listCache map[string]listCacheEntry // key: userID + "/" + provider
}

// New はOrchestratorを生成する。
func New(
	dispatcher *dispatch.Dispatcher,
	selections repository.CalendarSelectionRepository,
	subscriptions repository.WebhookSubscriptionRepository,
	sanitizer security.NameSanitizerService,
	baseURL string,
	listTTL time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		dispatcher:    dispatcher,
		selections:    selections,
		subscriptions: subscriptions,
		sanitizer:     sanitizer,
		logger:        logger,
		baseURL:       baseURL,
		listTTL:       listTTL,
		now:           time.Now,
		listCache:     make(map[string]listCacheEntry),
	}
}

// await はハンドルの完了またはコンテキストのキャンセルを待つ。
func await(ctx context.Context, handle *dispatch.Handle) (model.RequestResult, error) {
	select {
	case <-ctx.Done():
		return model.RequestResult{}, ctx.Err()
	case <-handle.Done():
		result := handle.Result()
		if result.Err != nil {
			return result, result.Err
		}
		return result, nil
	}
}

// ListAvailableCalendars はプロバイダーのカレンダー一覧を返す。
// 結果はユーザー・プロバイダーの組ごとにTTL付きでキャッシュされ、
// 表示名はサニタイズ済み、並び順は主カレンダー優先の名前昇順となる。
func (o *Orchestrator) ListAvailableCalendars(ctx context.Context, userID string, providerKey model.ProviderKey) ([]model.CalendarInfo, error) {
	if !model.IsValidProvider(providerKey) {
		return nil, model.NewUnknownProviderError(string(providerKey))
	}

	cacheKey := userID + "/" + string(providerKey)
	o.mu.Lock()
	if entry, ok := o.listCache[cacheKey]; ok && o.now().Sub(entry.storedAt) < o.listTTL {
		calendars := entry.calendars
		o.mu.Unlock()
		return calendars, nil
	}
	o.mu.Unlock()

	handle, err := o.dispatcher.Enqueue(providerKey, userID, string(provider.OpListCalendars), nil, priorityInteractive)
	if err != nil {
		return nil, err
	}
	result, err := await(ctx, handle)
	if err != nil {
		return nil, err
	}

	var calendars []model.CalendarInfo
	if err := json.Unmarshal(result.Body, &calendars); err != nil {
		return nil, fmt.Errorf("decode calendar list: %w", err)
	}

	for i := range calendars {
		calendars[i].Name = o.sanitizer.Sanitize(calendars[i].Name)
	}
	sort.SliceStable(calendars, func(i, j int) bool {
		if calendars[i].IsPrimary != calendars[j].IsPrimary {
			return calendars[i].IsPrimary
		}
		return calendars[i].Name < calendars[j].Name
	})

	o.mu.Lock()
	o.listCache[cacheKey] = listCacheEntry{calendars: calendars, storedAt: o.now()}
	o.mu.Unlock()

	return calendars, nil
}

// InvalidateCalendarCache は指定ユーザー・プロバイダーのキャッシュを破棄する。
func (o *Orchestrator) InvalidateCalendarCache(userID string, providerKey model.ProviderKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.listCache, userID+"/"+string(providerKey))
}

// SelectionUpdate は1カレンダーの選択変更を表す。
type SelectionUpdate struct {
	CalendarID   string              `json:"calendar_id"`
	CalendarName string              `json:"calendar_name"`
	Direction    model.SyncDirection `json:"direction"`
	ConflictMode model.ConflictMode  `json:"conflict_mode"`
	Selected     bool                `json:"selected"`
}

// SelectionItemResult は1件の選択変更の結果を表す。
type SelectionItemResult struct {
	CalendarID string `json:"calendar_id"`
	Success    bool   `json:"success"`
	Err        string `json:"error,omitempty"`
}

// UpdateSelections は選択変更を1件ずつ適用し、項目別の結果を返す。
// 1件の失敗は他の項目の適用を妨げない。解除は物理削除ではなく
// ソフトデリートで行う。
func (o *Orchestrator) UpdateSelections(ctx context.Context, userID string, providerKey model.ProviderKey, updates []SelectionUpdate) []SelectionItemResult {
	results := make([]SelectionItemResult, 0, len(updates))
	for _, update := range updates {
		if err := o.applySelection(ctx, userID, providerKey, update); err != nil {
			results = append(results, SelectionItemResult{CalendarID: update.CalendarID, Err: err.Error()})
			o.logger.Warn("selection update failed",
				slog.String("user_id", userID),
				slog.String("calendar_id", update.CalendarID),
				slog.String("error", err.Error()))
			continue
		}
		results = append(results, SelectionItemResult{CalendarID: update.CalendarID, Success: true})
	}
	return results
}

// applySelection は1件の選択変更を適用する。
func (o *Orchestrator) applySelection(ctx context.Context, userID string, providerKey model.ProviderKey, update SelectionUpdate) error {
	if update.CalendarID == "" {
		return fmt.Errorf("calendar id is required")
	}

	existing, err := o.selections.FindByCalendar(ctx, userID, string(providerKey), update.CalendarID)
	if err != nil {
		return fmt.Errorf("find selection: %w", err)
	}

	if !update.Selected {
		if existing == nil || !existing.IsActive {
			return model.NewSelectionNotFoundError(update.CalendarID)
		}
		return o.selections.Deactivate(ctx, existing.ID)
	}

	direction := update.Direction
	if direction == "" {
		direction = model.SyncBidirectional
	}
	if !model.IsValidSyncDirection(direction) {
		return model.NewInvalidSyncDirectionError(string(direction))
	}
	conflictMode := update.ConflictMode
	if conflictMode == "" {
		conflictMode = model.ConflictModeManual
	}

	name := o.sanitizer.Sanitize(update.CalendarName)
	now := o.now()

	if existing != nil {
		existing.CalendarName = name
		existing.Direction = direction
		existing.ConflictMode = conflictMode
		existing.IsActive = true
		existing.UpdatedAt = now
		return o.selections.Update(ctx, existing)
	}

	return o.selections.Create(ctx, &model.CalendarSelection{
		ID:            uuid.NewString(),
		UserID:        userID,
		IntegrationID: string(providerKey),
		CalendarID:    update.CalendarID,
		CalendarName:  name,
		Direction:     direction,
		ConflictMode:  conflictMode,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// AutoSelectRecommended は同期設定に基づく推奨カレンダー群を返す。
// 主カレンダーは常に含まれる。サブカレンダーは書き込み権限があり、
// かつ設定で許可されている場合のみ含まれる。
func (o *Orchestrator) AutoSelectRecommended(calendars []model.CalendarInfo, pref model.SyncPreference) []model.CalendarInfo {
	var recommended []model.CalendarInfo
	for _, cal := range calendars {
		if cal.IsPrimary {
			recommended = append(recommended, cal)
			continue
		}
		if !pref.SyncSecondaryCalendars {
			continue
		}
		if cal.ReadOnly && pref.ExcludeReadOnly {
			continue
		}
		if cal.AccessRole == "owner" || cal.AccessRole == "writer" {
			recommended = append(recommended, cal)
		}
	}
	return recommended
}

// SyncAll はユーザーのアクティブな全選択カレンダーを同期する。
// カレンダーごとに独立して実行し、1件の失敗が他を妨げることはない。
func (o *Orchestrator) SyncAll(ctx context.Context, userID string, providerKey model.ProviderKey, since time.Time) (*model.SyncSummary, error) {
	active, err := o.selections.ListActive(ctx, userID, string(providerKey))
	if err != nil {
		return nil, fmt.Errorf("list active selections: %w", err)
	}

	// 先に全件キュー投入してから順に完了を待つ。実行順と帯域は
	// ディスパッチャーが管理する
	type pending struct {
		calendarID string
		handle     *dispatch.Handle
		err        error
	}
	pendings := make([]pending, 0, len(active))
	for _, sel := range active {
		payload, err := json.Marshal(provider.SyncCalendarArgs{
			CalendarID: sel.CalendarID,
			Direction:  sel.Direction,
			Since:      since,
		})
		if err != nil {
			pendings = append(pendings, pending{calendarID: sel.CalendarID, err: err})
			continue
		}
		handle, err := o.dispatcher.Enqueue(providerKey, userID, string(provider.OpSyncCalendar), payload, priorityBackground)
		pendings = append(pendings, pending{calendarID: sel.CalendarID, handle: handle, err: err})
	}

	summary := &model.SyncSummary{}
	for _, p := range pendings {
		result := model.CalendarSyncResult{CalendarID: p.calendarID}
		switch {
		case p.err != nil:
			result.Err = p.err.Error()
		default:
			if dispatched, err := await(ctx, p.handle); err != nil {
				result.Err = err.Error()
			} else if err := json.Unmarshal(dispatched.Body, &result); err != nil {
				result = model.CalendarSyncResult{CalendarID: p.calendarID, Err: err.Error()}
			}
		}

		if result.Success {
			summary.SuccessCount++
		} else {
			summary.FailureCount++
		}
		summary.Results = append(summary.Results, result)
	}

	o.logger.Info("sync completed",
		slog.String("user_id", userID),
		slog.String("provider", string(providerKey)),
		slog.Int("success", summary.SuccessCount),
		slog.Int("failure", summary.FailureCount))
	return summary, nil
}

// HandleNotification は検証済みWebhook通知を受けて対象カレンダーの同期を
// 最優先でキュー投入する。取り込みエンドポイントをブロックしないため、
// 完了は待たずログのみ残す。
func (o *Orchestrator) HandleNotification(n model.WebhookNotification) error {
	payload, err := json.Marshal(provider.SyncCalendarArgs{
		CalendarID: n.CalendarID,
		Direction:  model.SyncFromProvider,
		Since:      n.ReceivedAt.Add(-time.Hour),
	})
	if err != nil {
		return fmt.Errorf("encode sync args: %w", err)
	}

	if _, err := o.dispatcher.Enqueue(n.Provider, n.UserID, string(provider.OpSyncCalendar), payload, priorityNotification); err != nil {
		return err
	}
	o.logger.Debug("notification sync enqueued",
		slog.String("provider", string(n.Provider)),
		slog.String("user_id", n.UserID),
		slog.String("calendar_id", n.CalendarID),
		slog.String("change_type", string(n.ChangeType)))
	return nil
}

// EnsureChannels はアクティブな選択カレンダーのWebhookチャネルを確認し、
// 欠落または期限が近いものを開設し直す。定期スイープから呼ばれる。
func (o *Orchestrator) EnsureChannels(ctx context.Context, userID string, providerKey model.ProviderKey, renewWithin time.Duration) error {
	active, err := o.selections.ListActive(ctx, userID, string(providerKey))
	if err != nil {
		return fmt.Errorf("list active selections: %w", err)
	}
	subs, err := o.subscriptions.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	deadline := o.now().Add(renewWithin)
	covered := make(map[string]bool)
	for _, sub := range subs {
		if sub.Provider == providerKey && sub.ExpiresAt.After(deadline) {
			covered[sub.CalendarID] = true
		}
	}

	for _, sel := range active {
		if covered[sel.CalendarID] {
			continue
		}
		if err := o.openChannel(ctx, userID, providerKey, sel.CalendarID); err != nil {
			o.logger.Warn("channel open failed",
				slog.String("user_id", userID),
				slog.String("provider", string(providerKey)),
				slog.String("calendar_id", sel.CalendarID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// openChannel は1カレンダーのチャネルを開設し、サブスクリプションを永続化する。
func (o *Orchestrator) openChannel(ctx context.Context, userID string, providerKey model.ProviderKey, calendarID string) error {
	payload, err := json.Marshal(provider.OpenChannelArgs{
		CalendarID:  calendarID,
		CallbackURL: fmt.Sprintf("%s/webhooks/%s", o.baseURL, providerKey),
	})
	if err != nil {
		return fmt.Errorf("encode channel args: %w", err)
	}

	handle, err := o.dispatcher.Enqueue(providerKey, userID, string(provider.OpOpenChannel), payload, priorityBackground)
	if err != nil {
		return err
	}
	result, err := await(ctx, handle)
	if err != nil {
		return err
	}

	var sub model.WebhookSubscription
	if err := json.Unmarshal(result.Body, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}
	if err := o.subscriptions.Create(ctx, &sub); err != nil {
		return fmt.Errorf("persist subscription: %w", err)
	}

	o.logger.Info("webhook channel opened",
		slog.String("user_id", userID),
		slog.String("provider", string(providerKey)),
		slog.String("calendar_id", calendarID),
		slog.Time("expires_at", sub.ExpiresAt))
	return nil
}

// FetchParticipantBusy は参加者のアクティブな選択カレンダーから予定区間を
// 収集する。提案エンジンの入力として使われる。
func (o *Orchestrator) FetchParticipantBusy(ctx context.Context, userID string, providerKey model.ProviderKey, from, to time.Time) ([]model.BusyInterval, error) {
	active, err := o.selections.ListActive(ctx, userID, string(providerKey))
	if err != nil {
		return nil, fmt.Errorf("list active selections: %w", err)
	}
	if len(active) == 0 {
		return nil, nil
	}

	calendarIDs := make([]string, 0, len(active))
	for _, sel := range active {
		calendarIDs = append(calendarIDs, sel.CalendarID)
	}

	payload, err := json.Marshal(provider.FetchBusyArgs{CalendarIDs: calendarIDs, From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("encode freebusy args: %w", err)
	}
	handle, err := o.dispatcher.Enqueue(providerKey, userID, string(provider.OpFetchBusy), payload, priorityInteractive)
	if err != nil {
		return nil, err
	}
	result, err := await(ctx, handle)
	if err != nil {
		return nil, err
	}

	var intervals []model.BusyInterval
	if err := json.Unmarshal(result.Body, &intervals); err != nil {
		return nil, fmt.Errorf("decode busy intervals: %w", err)
	}
	return intervals, nil
}
