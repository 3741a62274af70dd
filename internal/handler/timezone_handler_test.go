package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
)

func TestTimezoneHandler_Convert_Success(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	body := jsonBody(t, convertRequest{
		Time:         time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		FromTimezone: "UTC",
		ToTimezone:   "Asia/Tokyo",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/timezone/convert", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\nbody: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp convertResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.OffsetDifferenceMinutes != 540 {
		t.Errorf("offset_difference_minutes = %d, want 540", resp.OffsetDifferenceMinutes)
	}
	if !resp.Converted.Equal(resp.Original) {
		t.Error("converted time should reference the same instant")
	}
}

func TestTimezoneHandler_Convert_InvalidTimezone(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	body := jsonBody(t, convertRequest{
		Time:         time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		FromTimezone: "UTC",
		ToTimezone:   "Mars/Olympus",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/timezone/convert", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var errBody map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &errBody); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if errBody["code"] != model.ErrCodeInvalidTimezone {
		t.Errorf("code = %v, want %v", errBody["code"], model.ErrCodeInvalidTimezone)
	}
}

func TestTimezoneHandler_ZoneInfo_ReportsDST(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	req := httptest.NewRequest(http.MethodGet, "/api/timezone/info?tz=America/New_York&date=2026-07-15T00:00:00Z", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp zoneInfoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.IsDST {
		t.Error("July in America/New_York should be DST")
	}
	if resp.OffsetMinutes != -240 {
		t.Errorf("offset_minutes = %d, want -240", resp.OffsetMinutes)
	}
	if resp.StandardOffsetMin != -300 {
		t.Errorf("standard_offset_minutes = %d, want -300", resp.StandardOffsetMin)
	}
}

func TestTimezoneHandler_ZoneInfo_MissingTz(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	req := httptest.NewRequest(http.MethodGet, "/api/timezone/info", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestTimezoneHandler_Recurrence_AdjustsAcrossDSTBoundary(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	// 2027-03-14にアメリカ東部時間がDSTへ切り替わる。
	// ローカル9時固定の週次会議をその直前から4回展開する。
	seriesStart := time.Date(2027, 3, 1, 14, 0, 0, 0, time.UTC) // EST 09:00
	body := jsonBody(t, recurrenceRequest{
		SeriesStart: seriesStart,
		Timezone:    "America/New_York",
		Count:       4,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/timezone/recurrence", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\nbody: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Occurrences []occurrenceResponse `json:"occurrences"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Occurrences) != 4 {
		t.Fatalf("occurrences = %d, want 4", len(resp.Occurrences))
	}

	// 切り替え前の回は調整なし
	if resp.Occurrences[0].AdjustmentMinutes != 0 || resp.Occurrences[0].CrossedDST {
		t.Errorf("first occurrence = %+v, want no adjustment", resp.Occurrences[0])
	}
	// 切り替え後の回はローカル9時維持のためUTCが60分前倒しされる
	last := resp.Occurrences[3]
	if !last.CrossedDST {
		t.Error("fourth occurrence should cross the DST boundary")
	}
	if last.AdjustmentMinutes != 60 {
		t.Errorf("adjustment_minutes = %d, want 60", last.AdjustmentMinutes)
	}
}

func TestTimezoneHandler_Recurrence_RejectsInvalidCount(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	body := jsonBody(t, recurrenceRequest{
		SeriesStart: time.Date(2027, 3, 1, 14, 0, 0, 0, time.UTC),
		Timezone:    "America/New_York",
		Count:       0,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/timezone/recurrence", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestTimezoneHandler_Detect_PrefersExplicitSignal(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	body := jsonBody(t, detectRequest{
		ExplicitTimezone: "Asia/Tokyo",
		PlatformTimezone: "America/New_York",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/timezone/detect", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp detectResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Timezone != "Asia/Tokyo" {
		t.Errorf("timezone = %q, want %q", resp.Timezone, "Asia/Tokyo")
	}
	if resp.Source != "explicit" {
		t.Errorf("source = %q, want %q", resp.Source, "explicit")
	}
}

func TestTimezoneHandler_Detect_FallsBackToUTC(t *testing.T) {
	router := newTestRouter(t, testRouterDeps{})

	body := jsonBody(t, detectRequest{ExplicitTimezone: "Not/AZone"})

	req := httptest.NewRequest(http.MethodPost, "/api/timezone/detect", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp detectResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Timezone != "UTC" {
		t.Errorf("timezone = %q, want %q", resp.Timezone, "UTC")
	}
	if resp.Source != "fallback" {
		t.Errorf("source = %q, want %q", resp.Source, "fallback")
	}
}
