package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/meetsync/internal/middleware"
	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/timezone"
)

// TimezoneHandler はタイムゾーン変換と自動判定のHTTPハンドラー。
type TimezoneHandler struct {
	normalizer *timezone.Normalizer
}

// NewTimezoneHandler はTimezoneHandlerを生成する。
func NewTimezoneHandler(normalizer *timezone.Normalizer) *TimezoneHandler {
	return &TimezoneHandler{normalizer: normalizer}
}

// convertRequest はタイムゾーン変換リクエストのボディ。
type convertRequest struct {
	Time         time.Time `json:"time"`
	FromTimezone string    `json:"from_timezone"`
	ToTimezone   string    `json:"to_timezone"`
}

// convertResponse はタイムゾーン変換のAPIレスポンス。
type convertResponse struct {
	Original                time.Time `json:"original"`
	Converted               time.Time `json:"converted"`
	OffsetDifferenceMinutes int       `json:"offset_difference_minutes"`
	CrossesDSTBoundary      bool      `json:"crosses_dst_boundary"`
}

// Convert はタイムゾーン間の時刻変換を行う。
// POST /api/timezone/convert
func (h *TimezoneHandler) Convert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	conv, err := h.normalizer.Convert(req.Time, req.FromTimezone, req.ToTimezone)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, convertResponse{
		Original:                conv.Original,
		Converted:               conv.Converted,
		OffsetDifferenceMinutes: conv.OffsetDifferenceMinutes,
		CrossesDSTBoundary:      conv.CrossesDSTBoundary,
	})
}

// zoneInfoResponse はゾーン情報のAPIレスポンス。
type zoneInfoResponse struct {
	Name              string `json:"name"`
	Abbreviation      string `json:"abbreviation"`
	OffsetMinutes     int    `json:"offset_minutes"`
	IsDST             bool   `json:"is_dst"`
	StandardOffsetMin int    `json:"standard_offset_minutes"`
	DSTOffsetMin      int    `json:"dst_offset_minutes"`
}

// ZoneInfo は指定日時点のゾーン情報を返す。
// GET /api/timezone/info?tz=Asia/Tokyo&date=2026-01-15T00:00:00Z
func (h *TimezoneHandler) ZoneInfo(w http.ResponseWriter, r *http.Request) {
	tz := r.URL.Query().Get("tz")
	if tz == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidTimezoneError(tz))
		return
	}

	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeInvalidRequestBody(w)
			return
		}
		date = parsed
	}

	info, err := h.normalizer.GetZoneInfo(tz, date)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, zoneInfoResponse{
		Name:              info.Name,
		Abbreviation:      info.Abbreviation,
		OffsetMinutes:     info.OffsetMinutes,
		IsDST:             info.IsDST,
		StandardOffsetMin: info.StandardOffsetMin,
		DSTOffsetMin:      info.DSTOffsetMin,
	})
}

// recurrenceRequest は定期予約展開リクエストのボディ。
type recurrenceRequest struct {
	SeriesStart time.Time `json:"series_start"`
	Timezone    string    `json:"timezone"`
	Count       int       `json:"count"`
}

// occurrenceResponse は定期予約1回分のAPIレスポンス。
type occurrenceResponse struct {
	Occurrence        time.Time `json:"occurrence"`
	OffsetMinutes     int       `json:"offset_minutes"`
	AdjustmentMinutes int       `json:"adjustment_minutes"`
	CrossedDST        bool      `json:"crossed_dst"`
}

// maxRecurrenceCount は1リクエストで展開できる定期予約の回数上限。
const maxRecurrenceCount = 104

// Recurrence は週次の定期予約をローカル壁時計時刻固定で展開する。
// DST境界を越える回にはUTC時刻の調整量が記録される。
// POST /api/timezone/recurrence
func (h *TimezoneHandler) Recurrence(w http.ResponseWriter, r *http.Request) {
	var req recurrenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.Count <= 0 || req.Count > maxRecurrenceCount {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_RECURRENCE_COUNT",
			Message:  "展開回数が範囲外です。",
			Category: "validation",
			Action:   "1以上104以下の回数を指定してください。",
		})
		return
	}

	occurrences, err := h.normalizer.RecurringOccurrences(req.SeriesStart, req.Timezone, req.Count)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]occurrenceResponse, 0, len(occurrences))
	for _, o := range occurrences {
		out = append(out, occurrenceResponse{
			Occurrence:        o.Occurrence,
			OffsetMinutes:     o.OffsetMinutes,
			AdjustmentMinutes: o.AdjustmentMinutes,
			CrossedDST:        o.CrossedDST,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"occurrences": out})
}

// detectRequest はタイムゾーン自動判定リクエストのボディ。
type detectRequest struct {
	ExplicitTimezone  string `json:"explicit_timezone,omitempty"`
	PlatformTimezone  string `json:"platform_timezone,omitempty"`
	GeoTimezone       string `json:"geo_timezone,omitempty"`
	PreferredTimezone string `json:"preferred_timezone,omitempty"`
}

// detectResponse はタイムゾーン自動判定のAPIレスポンス。
type detectResponse struct {
	Timezone   string  `json:"timezone"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Detect は複数のシグナルからタイムゾーンを自動判定する。
// POST /api/timezone/detect
func (h *TimezoneHandler) Detect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	detection := h.normalizer.AutoDetect(timezone.DetectSignals{
		ExplicitTimezone:  req.ExplicitTimezone,
		PlatformTimezone:  req.PlatformTimezone,
		GeoTimezone:       req.GeoTimezone,
		PreferredTimezone: req.PreferredTimezone,
	})

	writeJSON(w, http.StatusOK, detectResponse{
		Timezone:   detection.Timezone,
		Confidence: detection.Confidence,
		Source:     detection.Source,
	})
}
