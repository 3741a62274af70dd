package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/orchestrator"
)

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	return bytes.NewReader(b)
}

func TestCalendarHandler_ListCalendars_Success(t *testing.T) {
	svc := &mockCalendarService{
		listFn: func(ctx context.Context, userID string, providerKey model.ProviderKey) ([]model.CalendarInfo, error) {
			if userID != "user-123" {
				t.Errorf("userID = %q, want %q", userID, "user-123")
			}
			if providerKey != model.ProviderGoogle {
				t.Errorf("provider = %q, want %q", providerKey, model.ProviderGoogle)
			}
			return []model.CalendarInfo{
				{ID: "primary", Name: "仕事", IsPrimary: true, AccessRole: "owner"},
				{ID: "team", Name: "チーム", AccessRole: "writer"},
			}, nil
		},
	}

	router := newTestRouter(t, testRouterDeps{calendars: svc})

	req := httptest.NewRequest(http.MethodGet, "/api/providers/google/calendars", nil)
	req.Header.Set("X-User-Id", "user-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\nbody: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var body struct {
		Calendars []calendarResponse `json:"calendars"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Calendars) != 2 {
		t.Fatalf("calendars = %d, want 2", len(body.Calendars))
	}
	if !body.Calendars[0].IsPrimary {
		t.Error("first calendar should be primary")
	}
}

func TestCalendarHandler_ListCalendars_MissingUserID(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	req := httptest.NewRequest(http.MethodGet, "/api/providers/google/calendars", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCalendarHandler_ListCalendars_UnknownProviderError(t *testing.T) {
	svc := &mockCalendarService{
		listFn: func(ctx context.Context, userID string, providerKey model.ProviderKey) ([]model.CalendarInfo, error) {
			return nil, model.NewUnknownProviderError(string(providerKey))
		},
	}

	router := newTestRouter(t, testRouterDeps{calendars: svc})

	req := httptest.NewRequest(http.MethodGet, "/api/providers/slack/calendars", nil)
	req.Header.Set("X-User-Id", "user-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body["code"] != model.ErrCodeUnknownProvider {
		t.Errorf("code = %v, want %v", body["code"], model.ErrCodeUnknownProvider)
	}
}

func TestCalendarHandler_UpdateSelections_ItemizedResults(t *testing.T) {
	svc := &mockCalendarService{
		updateFn: func(ctx context.Context, userID string, providerKey model.ProviderKey, updates []orchestrator.SelectionUpdate) []orchestrator.SelectionItemResult {
			if len(updates) != 2 {
				t.Fatalf("updates = %d, want 2", len(updates))
			}
			return []orchestrator.SelectionItemResult{
				{CalendarID: "cal-1", Success: true},
				{CalendarID: "cal-2", Success: false, Err: "selection not found"},
			}
		},
	}

	router := newTestRouter(t, testRouterDeps{calendars: svc})

	body := jsonBody(t, selectionsRequest{
		Updates: []orchestrator.SelectionUpdate{
			{CalendarID: "cal-1", Selected: true},
			{CalendarID: "cal-2", Selected: false},
		},
	})
	req := httptest.NewRequest(http.MethodPut, "/api/providers/google/selections", body)
	req.Header.Set("X-User-Id", "user-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// 部分成功は200で項目別結果を返す
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Results []orchestrator.SelectionItemResult `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
	if !resp.Results[0].Success || resp.Results[1].Success {
		t.Errorf("results = %+v, want first success and second failure", resp.Results)
	}
}

func TestCalendarHandler_UpdateSelections_AllFailedReturns422(t *testing.T) {
	svc := &mockCalendarService{
		updateFn: func(ctx context.Context, userID string, providerKey model.ProviderKey, updates []orchestrator.SelectionUpdate) []orchestrator.SelectionItemResult {
			return []orchestrator.SelectionItemResult{
				{CalendarID: "cal-1", Success: false, Err: "selection not found"},
			}
		},
	}

	router := newTestRouter(t, testRouterDeps{calendars: svc})

	body := jsonBody(t, selectionsRequest{
		Updates: []orchestrator.SelectionUpdate{{CalendarID: "cal-1", Selected: false}},
	})
	req := httptest.NewRequest(http.MethodPut, "/api/providers/google/selections", body)
	req.Header.Set("X-User-Id", "user-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
}

func TestCalendarHandler_UpdateSelections_InvalidBody(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	req := httptest.NewRequest(http.MethodPut, "/api/providers/google/selections", bytes.NewReader([]byte("{broken")))
	req.Header.Set("X-User-Id", "user-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCalendarHandler_AutoSelect_PassesPreferences(t *testing.T) {
	var gotPref model.SyncPreference
	svc := &mockCalendarService{
		listFn: func(ctx context.Context, userID string, providerKey model.ProviderKey) ([]model.CalendarInfo, error) {
			return []model.CalendarInfo{
				{ID: "primary", Name: "仕事", IsPrimary: true, AccessRole: "owner"},
			}, nil
		},
		autoSelectFn: func(calendars []model.CalendarInfo, pref model.SyncPreference) []model.CalendarInfo {
			gotPref = pref
			return calendars
		},
	}

	router := newTestRouter(t, testRouterDeps{calendars: svc})

	body := jsonBody(t, autoSelectRequest{SyncSecondaryCalendars: true, ExcludeReadOnly: true})
	req := httptest.NewRequest(http.MethodPost, "/api/providers/google/selections/auto", body)
	req.Header.Set("X-User-Id", "user-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !gotPref.SyncSecondaryCalendars || !gotPref.ExcludeReadOnly {
		t.Errorf("pref = %+v, want both flags set", gotPref)
	}
	if gotPref.UserID != "user-123" {
		t.Errorf("pref.UserID = %q, want %q", gotPref.UserID, "user-123")
	}
}

func TestCalendarHandler_Sync_ReturnsSummary(t *testing.T) {
	svc := &mockCalendarService{
		syncFn: func(ctx context.Context, userID string, providerKey model.ProviderKey, since time.Time) (*model.SyncSummary, error) {
			return &model.SyncSummary{
				SuccessCount: 2,
				FailureCount: 1,
				Results: []model.CalendarSyncResult{
					{CalendarID: "cal-1", Success: true, EventCount: 5},
					{CalendarID: "cal-2", Success: true, EventCount: 3},
					{CalendarID: "cal-3", Success: false, Err: "sync failed"},
				},
			}, nil
		},
	}

	router := newTestRouter(t, testRouterDeps{calendars: svc})

	req := httptest.NewRequest(http.MethodPost, "/api/providers/google/sync", bytes.NewReader([]byte("{}")))
	req.Header.Set("X-User-Id", "user-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp syncSummaryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SuccessCount != 2 || resp.FailureCount != 1 {
		t.Errorf("summary = %+v, want 2 successes and 1 failure", resp)
	}
}

func TestCalendarHandler_Sync_UnknownProvider(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	req := httptest.NewRequest(http.MethodPost, "/api/providers/slack/sync", bytes.NewReader([]byte("{}")))
	req.Header.Set("X-User-Id", "user-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCalendarHandler_EnsureChannels_Success(t *testing.T) {
	var gotRenew time.Duration
	svc := &mockCalendarService{
		ensureFn: func(ctx context.Context, userID string, providerKey model.ProviderKey, renewWithin time.Duration) error {
			gotRenew = renewWithin
			return nil
		},
	}

	router := newTestRouter(t, testRouterDeps{calendars: svc})

	req := httptest.NewRequest(http.MethodPost, "/api/providers/google/channels/ensure", nil)
	req.Header.Set("X-User-Id", "user-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotRenew != 24*time.Hour {
		t.Errorf("renewWithin = %v, want %v", gotRenew, 24*time.Hour)
	}
}
