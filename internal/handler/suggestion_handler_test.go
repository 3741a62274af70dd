package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/suggestion"
)

func TestSuggestionHandler_Suggest_ReturnsRankedSlots(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	body := jsonBody(t, suggestRequest{
		Booking: bookingPayload{
			ID:       "booking-1",
			Start:    time.Date(2027, 1, 15, 14, 0, 0, 0, time.UTC),
			End:      time.Date(2027, 1, 15, 15, 0, 0, 0, time.UTC),
			Timezone: "UTC",
		},
		Participants: []participantPayload{
			{
				UserID:   "user-a",
				Timezone: "UTC",
				BusyIntervals: []busyIntervalPayload{
					{
						Start: time.Date(2027, 1, 15, 14, 0, 0, 0, time.UTC),
						End:   time.Date(2027, 1, 15, 16, 0, 0, 0, time.UTC),
					},
				},
			},
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/suggestions", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\nbody: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp suggestion.Suggestions
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Slots) == 0 {
		t.Fatal("expected at least one suggested slot")
	}

	// スコア降順であること
	for i := 1; i < len(resp.Slots); i++ {
		if resp.Slots[i].Score > resp.Slots[i-1].Score {
			t.Errorf("slots not sorted by score: %f before %f", resp.Slots[i-1].Score, resp.Slots[i].Score)
		}
	}

	// 参加者の予定と重なる候補がないこと
	busyStart := time.Date(2027, 1, 15, 14, 0, 0, 0, time.UTC)
	busyEnd := time.Date(2027, 1, 15, 16, 0, 0, 0, time.UTC)
	for _, slot := range resp.Slots {
		if slot.Start.Before(busyEnd) && busyStart.Before(slot.End) {
			t.Errorf("slot %v-%v overlaps the busy interval", slot.Start, slot.End)
		}
	}
}

func TestSuggestionHandler_Suggest_FetchesProviderBusy(t *testing.T) {
	fetcher := &mockBusyFetcher{
		intervals: []model.BusyInterval{
			{
				Start:  time.Date(2027, 1, 16, 9, 0, 0, 0, time.UTC),
				End:    time.Date(2027, 1, 16, 10, 0, 0, 0, time.UTC),
				Source: model.ProviderGoogle,
			},
		},
	}

	router := newTestRouter(t, testRouterDeps{fetcher: fetcher})

	body := jsonBody(t, suggestRequest{
		Booking: bookingPayload{
			ID:       "booking-1",
			Start:    time.Date(2027, 1, 15, 14, 0, 0, 0, time.UTC),
			End:      time.Date(2027, 1, 15, 15, 0, 0, 0, time.UTC),
			Timezone: "UTC",
		},
		Participants: []participantPayload{
			{UserID: "user-a", Timezone: "UTC", Provider: model.ProviderGoogle},
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/suggestions", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher calls = %d, want 1", fetcher.calls)
	}
}

func TestSuggestionHandler_Suggest_InvalidRangeReturns422(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	// 終了が開始より前の無効な予約
	body := jsonBody(t, suggestRequest{
		Booking: bookingPayload{
			ID:       "booking-1",
			Start:    time.Date(2027, 1, 15, 15, 0, 0, 0, time.UTC),
			End:      time.Date(2027, 1, 15, 14, 0, 0, 0, time.UTC),
			Timezone: "UTC",
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/suggestions", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}

	var errBody map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &errBody); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if errBody["code"] != model.ErrCodeNoCandidates {
		t.Errorf("code = %v, want %v", errBody["code"], model.ErrCodeNoCandidates)
	}
}

func TestSuggestionHandler_Suggest_InvalidBody(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	req := httptest.NewRequest(http.MethodPost, "/api/suggestions", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSuggestionHandler_SuggestBulk_IsolatesFailures(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	body := jsonBody(t, bulkSuggestRequest{
		Bookings: []bookingPayload{
			{
				ID:       "good",
				Start:    time.Date(2027, 1, 15, 14, 0, 0, 0, time.UTC),
				End:      time.Date(2027, 1, 15, 15, 0, 0, 0, time.UTC),
				Timezone: "UTC",
			},
			{
				ID:       "bad",
				Start:    time.Date(2027, 1, 15, 15, 0, 0, 0, time.UTC),
				End:      time.Date(2027, 1, 15, 14, 0, 0, 0, time.UTC),
				Timezone: "UTC",
			},
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/suggestions/bulk", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp suggestion.BulkResult
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Succeeded != 1 || resp.Failed != 1 {
		t.Errorf("succeeded = %d, failed = %d, want 1 and 1", resp.Succeeded, resp.Failed)
	}
	if _, ok := resp.Results["good"]; !ok {
		t.Error("expected results for booking 'good'")
	}
	if _, ok := resp.Errors["bad"]; !ok {
		t.Error("expected an error entry for booking 'bad'")
	}
}
