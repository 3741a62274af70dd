package rest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testAccount() *provider.Account {
	return &provider.Account{UserID: "user-1", APIToken: "bridge-token"}
}

// newBridgeServer はブリッジ契約を実装するテストサーバーを起動する。
func newBridgeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	requireAuth := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer bridge-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		return true
	}

	mux.HandleFunc("GET /calendars", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"calendars": []map[string]any{
				{"id": "cal-1", "name": "仕事", "is_primary": true, "access_role": "owner"},
				{"id": "cal-2", "name": "祝日", "read_only": true, "access_role": "reader"},
			},
		})
	})
	mux.HandleFunc("POST /schedule", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		var req scheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.CalendarIDs) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"busy": []map[string]any{
				{"calendar_id": req.CalendarIDs[0], "start": req.From, "end": req.From.Add(time.Hour)},
				{"calendar_id": req.CalendarIDs[0], "start": req.To, "end": req.To}, // 長さゼロ
			},
		})
	})
	mux.HandleFunc("POST /subscriptions", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		var req subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientState == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"subscription_id": "bridge-sub-1",
			"expires_at":      req.ExpiresAt,
		})
	})
	mux.HandleFunc("POST /sync", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"event_count": 7})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestAdapter(t *testing.T) *Adapter {
	server := newBridgeServer(t)
	return NewAdapter(model.ProviderMicrosoft, server.URL, server.Client(), time.Hour, testLogger())
}

func TestAdapter_ListCalendars(t *testing.T) {
	adapter := newTestAdapter(t)

	calendars, err := adapter.ListCalendars(context.Background(), testAccount())
	if err != nil {
		t.Fatal(err)
	}
	if len(calendars) != 2 {
		t.Fatalf("expected 2 calendars, got %d", len(calendars))
	}
	if !calendars[0].IsPrimary || calendars[0].Name != "仕事" {
		t.Errorf("unexpected primary calendar: %+v", calendars[0])
	}
	if !calendars[1].ReadOnly {
		t.Errorf("expected second calendar to be read only")
	}
}

func TestAdapter_FetchBusyIntervalsSkipsEmptyRanges(t *testing.T) {
	adapter := newTestAdapter(t)
	from := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	intervals, err := adapter.FetchBusyIntervals(context.Background(), testAccount(), provider.FetchBusyArgs{
		CalendarIDs: []string{"cal-1"},
		From:        from,
		To:          from.Add(8 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(intervals) != 1 {
		t.Fatalf("expected length-zero interval to be dropped, got %d intervals", len(intervals))
	}
	if intervals[0].Source != model.ProviderMicrosoft {
		t.Errorf("expected source tagging, got %s", intervals[0].Source)
	}
	if !intervals[0].End.Equal(from.Add(time.Hour)) {
		t.Errorf("unexpected interval end: %v", intervals[0].End)
	}
}

func TestAdapter_OpenChannelGeneratesClientState(t *testing.T) {
	adapter := newTestAdapter(t)

	sub, err := adapter.OpenChannel(context.Background(), testAccount(), provider.OpenChannelArgs{
		CalendarID:  "cal-1",
		CallbackURL: "https://example.com/webhooks/microsoft",
	})
	if err != nil {
		t.Fatal(err)
	}
	if sub.SubscriptionID != "bridge-sub-1" {
		t.Errorf("expected bridge subscription id, got %q", sub.SubscriptionID)
	}
	if sub.Secret == "" {
		t.Error("expected a generated client state secret")
	}
	if sub.ExpiresAt.IsZero() {
		t.Error("expected an expiry")
	}
}

func TestAdapter_SyncCalendarReportsFailureInResult(t *testing.T) {
	adapter := newTestAdapter(t)

	result, err := adapter.SyncCalendar(context.Background(), testAccount(), provider.SyncCalendarArgs{
		CalendarID: "cal-1",
		Direction:  model.SyncBidirectional,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.EventCount != 7 {
		t.Errorf("unexpected sync result: %+v", result)
	}

	// 認証エラーはエラーではなく失敗情報つきの結果として返る
	bad := &provider.Account{UserID: "user-1", APIToken: "wrong"}
	result, err = adapter.SyncCalendar(context.Background(), bad, provider.SyncCalendarArgs{CalendarID: "cal-1"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Success || result.Err == "" {
		t.Errorf("expected failed result with reason, got %+v", result)
	}
}

func TestAdapter_RejectsNonSuccessStatus(t *testing.T) {
	adapter := newTestAdapter(t)
	bad := &provider.Account{UserID: "user-1", APIToken: "wrong"}

	if _, err := adapter.ListCalendars(context.Background(), bad); err == nil {
		t.Error("expected error for unauthorized response")
	}
}
