package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/meetsync/internal/middleware"
	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/orchestrator"
)

// CalendarServiceInterface はカレンダーハンドラーが必要とするサービスインターフェース。
type CalendarServiceInterface interface {
	// ListAvailableCalendars はプロバイダーのカレンダー一覧を返す。結果は一定時間キャッシュされる。
	ListAvailableCalendars(ctx context.Context, userID string, providerKey model.ProviderKey) ([]model.CalendarInfo, error)
	// UpdateSelections は同期対象カレンダーの選択変更を項目別に適用する。
	UpdateSelections(ctx context.Context, userID string, providerKey model.ProviderKey, updates []orchestrator.SelectionUpdate) []orchestrator.SelectionItemResult
	// AutoSelectRecommended はユーザー設定に基づく推奨選択を返す。
	AutoSelectRecommended(calendars []model.CalendarInfo, pref model.SyncPreference) []model.CalendarInfo
	// SyncAll は選択中の全カレンダーを同期し、集計結果を返す。
	SyncAll(ctx context.Context, userID string, providerKey model.ProviderKey, since time.Time) (*model.SyncSummary, error)
	// EnsureChannels は選択中カレンダーのWebhookチャンネルを開設・更新する。
	EnsureChannels(ctx context.Context, userID string, providerKey model.ProviderKey, renewWithin time.Duration) error
}

// CalendarHandler はカレンダー選択・同期のHTTPハンドラー。
type CalendarHandler struct {
	service CalendarServiceInterface
}

// NewCalendarHandler はCalendarHandlerを生成する。
func NewCalendarHandler(service CalendarServiceInterface) *CalendarHandler {
	return &CalendarHandler{service: service}
}

// calendarResponse はカレンダー情報のAPIレスポンス。
type calendarResponse struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	IsPrimary        bool   `json:"is_primary"`
	AccessRole       string `json:"access_role"`
	ReadOnly         bool   `json:"read_only"`
	RecentEventCount int    `json:"recent_event_count"`
}

func toCalendarResponses(calendars []model.CalendarInfo) []calendarResponse {
	out := make([]calendarResponse, 0, len(calendars))
	for _, c := range calendars {
		out = append(out, calendarResponse{
			ID:               c.ID,
			Name:             c.Name,
			IsPrimary:        c.IsPrimary,
			AccessRole:       c.AccessRole,
			ReadOnly:         c.ReadOnly,
			RecentEventCount: c.RecentEventCount,
		})
	}
	return out
}

// requireUserID はX-User-Idヘッダーから呼び出しユーザーを特定する。
// 認証境界は上流のAPIゲートウェイが担い、この層では識別子のみを受け取る。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "MISSING_USER_ID",
			Message:  "ユーザーIDが指定されていません。",
			Category: "validation",
			Action:   "X-User-Idヘッダーを指定してください。",
		})
		return "", false
	}
	return userID, true
}

// ListCalendars はプロバイダーから取得可能なカレンダー一覧を返す。
// GET /api/providers/:provider/calendars
func (h *CalendarHandler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	provider := model.ProviderKey(chi.URLParam(r, "provider"))

	calendars, err := h.service.ListAvailableCalendars(r.Context(), userID, provider)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"calendars": toCalendarResponses(calendars),
	})
}

// selectionsRequest は選択変更リクエストのボディ。
type selectionsRequest struct {
	Updates []orchestrator.SelectionUpdate `json:"updates"`
}

// UpdateSelections は同期対象カレンダーの選択を一括変更する。
// 1件の失敗は他の項目の適用を妨げず、項目別の結果を返す。
// PUT /api/providers/:provider/selections
func (h *CalendarHandler) UpdateSelections(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	provider := model.ProviderKey(chi.URLParam(r, "provider"))
	if !model.IsValidProvider(provider) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewUnknownProviderError(string(provider)))
		return
	}

	var req selectionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	results := h.service.UpdateSelections(r.Context(), userID, provider, req.Updates)

	// 全件失敗した場合のみ全体をエラー扱いにする
	statusCode := http.StatusOK
	if len(results) > 0 {
		allFailed := true
		for _, res := range results {
			if res.Success {
				allFailed = false
				break
			}
		}
		if allFailed {
			statusCode = http.StatusUnprocessableEntity
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"results": results,
	})
}

// autoSelectRequest は推奨選択リクエストのボディ。
type autoSelectRequest struct {
	SyncSecondaryCalendars bool `json:"sync_secondary_calendars"`
	ExcludeReadOnly        bool `json:"exclude_read_only"`
}

// AutoSelect はユーザー設定に基づく推奨カレンダー選択を返す。
// 選択の適用は行わず、候補の提示のみを行う。
// POST /api/providers/:provider/selections/auto
func (h *CalendarHandler) AutoSelect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	provider := model.ProviderKey(chi.URLParam(r, "provider"))

	var req autoSelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	calendars, err := h.service.ListAvailableCalendars(r.Context(), userID, provider)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	recommended := h.service.AutoSelectRecommended(calendars, model.SyncPreference{
		UserID:                 userID,
		SyncSecondaryCalendars: req.SyncSecondaryCalendars,
		ExcludeReadOnly:        req.ExcludeReadOnly,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"recommended": toCalendarResponses(recommended),
	})
}

// syncRequest は同期実行リクエストのボディ。
type syncRequest struct {
	Since time.Time `json:"since,omitzero"`
}

// syncSummaryResponse は同期集計のAPIレスポンス。
type syncSummaryResponse struct {
	SuccessCount int                        `json:"success_count"`
	FailureCount int                        `json:"failure_count"`
	Results      []model.CalendarSyncResult `json:"results"`
}

// Sync は選択中の全カレンダーを同期する。
// POST /api/providers/:provider/sync
func (h *CalendarHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	provider := model.ProviderKey(chi.URLParam(r, "provider"))
	if !model.IsValidProvider(provider) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewUnknownProviderError(string(provider)))
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	summary, err := h.service.SyncAll(r.Context(), userID, provider, req.Since)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, syncSummaryResponse{
		SuccessCount: summary.SuccessCount,
		FailureCount: summary.FailureCount,
		Results:      summary.Results,
	})
}

// EnsureChannels は選択中カレンダーのWebhookチャンネルを開設・更新する。
// POST /api/providers/:provider/channels/ensure
func (h *CalendarHandler) EnsureChannels(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	provider := model.ProviderKey(chi.URLParam(r, "provider"))
	if !model.IsValidProvider(provider) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewUnknownProviderError(string(provider)))
		return
	}

	// 期限まで24時間を切ったチャンネルは先行して更新する
	if err := h.service.EnsureChannels(r.Context(), userID, provider, 24*time.Hour); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
