package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/suggestion"
)

// SuggestionEngineInterface は提案ハンドラーが必要とするエンジンインターフェース。
type SuggestionEngineInterface interface {
	// Suggest はコンフリクトした予約の代替候補をスコア降順で返す。
	Suggest(booking *model.Booking, participants []model.Participant, opts suggestion.Options) (*suggestion.Suggestions, error)
	// SuggestBulk は複数予約の候補を一括生成する。1件の失敗は他の予約に影響しない。
	SuggestBulk(bookings []*model.Booking, participantsFor func(bookingID string) []model.Participant, opts suggestion.Options) *suggestion.BulkResult
}

// BusyFetcher は参加者の予定取得を担うインターフェース。
type BusyFetcher interface {
	// FetchParticipantBusy は選択中カレンダーの予定区間を取得する。
	FetchParticipantBusy(ctx context.Context, userID string, providerKey model.ProviderKey, from, to time.Time) ([]model.BusyInterval, error)
}

// SuggestionHandler は代替時間提案のHTTPハンドラー。
type SuggestionHandler struct {
	engine  SuggestionEngineInterface
	fetcher BusyFetcher
	logger  *slog.Logger
}

// NewSuggestionHandler はSuggestionHandlerを生成する。
func NewSuggestionHandler(engine SuggestionEngineInterface, fetcher BusyFetcher, logger *slog.Logger) *SuggestionHandler {
	return &SuggestionHandler{engine: engine, fetcher: fetcher, logger: logger}
}

// bookingPayload はコンフリクトした予約のリクエスト表現。
type bookingPayload struct {
	ID       string    `json:"id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone"`
}

func (b bookingPayload) toModel() *model.Booking {
	return &model.Booking{ID: b.ID, Start: b.Start, End: b.End, Timezone: b.Timezone}
}

// busyIntervalPayload は予定区間のリクエスト表現。
type busyIntervalPayload struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// workingHoursPayload は勤務時間帯のリクエスト表現。
type workingHoursPayload struct {
	StartHour int   `json:"start_hour"`
	EndHour   int   `json:"end_hour"`
	Weekdays  []int `json:"weekdays,omitempty"`
}

// participantPayload は会議参加者のリクエスト表現。
// Providerを指定した場合、選択中カレンダーの予定を自動取得して
// BusyIntervalsへマージする。
type participantPayload struct {
	UserID        string                `json:"user_id"`
	DisplayName   string                `json:"display_name"`
	Timezone      string                `json:"timezone"`
	Provider      model.ProviderKey     `json:"provider,omitempty"`
	BusyIntervals []busyIntervalPayload `json:"busy_intervals,omitempty"`
	WorkingHours  *workingHoursPayload  `json:"working_hours,omitempty"`
}

// optionsPayload は候補生成パラメーターのリクエスト表現。
// 省略されたフィールドにはエンジンの既定値が適用される。バッファと
// 営業時間はポインターとし、明示的なゼロ指定を省略と区別する。
type optionsPayload struct {
	LookAheadDays        int   `json:"look_ahead_days,omitempty"`
	IncrementMinutes     int   `json:"increment_minutes,omitempty"`
	BufferMinutes        *int  `json:"buffer_minutes,omitempty"`
	MaxResults           int   `json:"max_results,omitempty"`
	BusinessStartHour    *int  `json:"business_start_hour,omitempty"`
	BusinessEndHour      *int  `json:"business_end_hour,omitempty"`
	IncludeWeekends      bool  `json:"include_weekends,omitempty"`
	RespectBusinessHours *bool `json:"respect_business_hours,omitempty"`
}

func (p optionsPayload) toOptions() suggestion.Options {
	return suggestion.Options{
		LookAheadDays:        p.LookAheadDays,
		Increment:            time.Duration(p.IncrementMinutes) * time.Minute,
		BufferMinutes:        p.BufferMinutes,
		MaxResults:           p.MaxResults,
		BusinessStartHour:    p.BusinessStartHour,
		BusinessEndHour:      p.BusinessEndHour,
		IncludeWeekends:      p.IncludeWeekends,
		RespectBusinessHours: p.RespectBusinessHours,
	}
}

// suggestRequest は単一予約の提案リクエストのボディ。
type suggestRequest struct {
	Booking      bookingPayload       `json:"booking"`
	Participants []participantPayload `json:"participants"`
	Options      optionsPayload       `json:"options"`
}

// toParticipants はリクエスト表現をモデルへ変換する。
// プロバイダー指定のある参加者は選択中カレンダーの予定を取得して補完する。
func (h *SuggestionHandler) toParticipants(ctx context.Context, payloads []participantPayload, from, to time.Time) []model.Participant {
	participants := make([]model.Participant, 0, len(payloads))
	for _, p := range payloads {
		participant := model.Participant{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Timezone:    p.Timezone,
		}
		for _, iv := range p.BusyIntervals {
			participant.BusyIntervals = append(participant.BusyIntervals, model.BusyInterval{Start: iv.Start, End: iv.End})
		}
		if p.WorkingHours != nil {
			wh := &model.WorkingHours{
				StartHour: p.WorkingHours.StartHour,
				EndHour:   p.WorkingHours.EndHour,
			}
			for _, d := range p.WorkingHours.Weekdays {
				wh.Weekdays = append(wh.Weekdays, time.Weekday(d))
			}
			participant.WorkingHours = wh
		}

		if p.Provider != "" && model.IsValidProvider(p.Provider) {
			fetched, err := h.fetcher.FetchParticipantBusy(ctx, p.UserID, p.Provider, from, to)
			if err != nil {
				// 取得失敗はその参加者のカレンダー情報なしとして続行する
				h.logger.Warn("failed to fetch participant busy intervals",
					slog.String("user_id", p.UserID),
					slog.String("provider", string(p.Provider)),
					slog.String("error", err.Error()),
				)
			} else {
				participant.BusyIntervals = append(participant.BusyIntervals, fetched...)
			}
		}

		participants = append(participants, participant)
	}
	return participants
}

// busyWindow は予定取得の対象期間を返す。
func busyWindow(booking bookingPayload, opts suggestion.Options) (time.Time, time.Time) {
	days := opts.LookAheadDays
	if days <= 0 {
		days = 14
	}
	return booking.Start, booking.Start.AddDate(0, 0, days)
}

// Suggest はコンフリクトした予約の代替時間候補を返す。
// POST /api/suggestions
func (h *SuggestionHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	opts := req.Options.toOptions()
	from, to := busyWindow(req.Booking, opts)
	participants := h.toParticipants(r.Context(), req.Participants, from, to)

	result, err := h.engine.Suggest(req.Booking.toModel(), participants, opts)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// bulkSuggestRequest は一括提案リクエストのボディ。
type bulkSuggestRequest struct {
	Bookings     []bookingPayload                `json:"bookings"`
	Participants map[string][]participantPayload `json:"participants"` // key: booking id
	Options      optionsPayload                  `json:"options"`
}

// SuggestBulk は複数予約の代替候補を一括生成する。
// POST /api/suggestions/bulk
func (h *SuggestionHandler) SuggestBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkSuggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	opts := req.Options.toOptions()

	bookings := make([]*model.Booking, 0, len(req.Bookings))
	resolved := make(map[string][]model.Participant, len(req.Bookings))
	for _, b := range req.Bookings {
		bookings = append(bookings, b.toModel())
		from, to := busyWindow(b, opts)
		resolved[b.ID] = h.toParticipants(r.Context(), req.Participants[b.ID], from, to)
	}

	result := h.engine.SuggestBulk(bookings, func(bookingID string) []model.Participant {
		return resolved[bookingID]
	}, opts)

	writeJSON(w, http.StatusOK, result)
}
