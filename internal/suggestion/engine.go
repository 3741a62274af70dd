package suggestion

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/timezone"
)

// スコアリングの重み。手調整された既定値であり、Optionsで上書きできる。
const (
	defaultWeightProximity     = 0.30
	defaultWeightTimeOfDay     = 0.20
	defaultWeightAvailability  = 0.30
	defaultWeightBusinessHours = 0.20

	// 元予約からの距離による減衰がゼロに達するまでの日数
	proximityDecayDays = 7

	// カレンダーデータを持たない参加者に与える中立の空き品質スコア
	neutralAvailability = 0.5
)

// Options は1回の提案リクエストのパラメーター。
// ゼロ値のフィールドにはエンジンの既定値が適用される。
type Options struct {
	LookAheadDays int
	Increment     time.Duration
	MaxResults    int

	// 以下の3つはnilの場合に既定値が適用される。ゼロは明示的な上書き
	// （バッファなし、0時始業）として尊重する。
	BufferMinutes     *int
	BusinessStartHour *int
	BusinessEndHour   *int

	// IncludeWeekends がtrueの場合、土日にも候補を生成する。
	IncludeWeekends bool
	// RespectBusinessHours がnilの場合は営業時間内に限定する（既定）。
	RespectBusinessHours *bool
}

// Defaults はエンジン構築時に与える既定パラメーター。
type Defaults struct {
	LookAheadDays     int
	Increment         time.Duration
	BufferMinutes     int
	MaxResults        int
	BusinessStartHour int
	BusinessEndHour   int
}

// Metadata は提案結果に添える統計情報。
type Metadata struct {
	CandidatesGenerated int           `json:"candidates_generated"`
	CandidatesFiltered  int           `json:"candidates_filtered"`
	SearchWindowStart   time.Time     `json:"search_window_start"`
	SearchWindowEnd     time.Time     `json:"search_window_end"`
	Elapsed             time.Duration `json:"-"`
}

// Suggestions は1件の予約に対する提案結果。
type Suggestions struct {
	Slots    []model.CandidateSlot `json:"suggestions"`
	Metadata Metadata              `json:"metadata"`
}

// BulkResult は複数予約の一括提案の集計結果。
type BulkResult struct {
	Succeeded int                     `json:"succeeded"`
	Failed    int                     `json:"failed"`
	Results   map[string]*Suggestions `json:"results"` // key: Booking.ID
	Errors    map[string]string       `json:"errors,omitempty"`
}

// Engine は代替時間候補の生成と採点を行う。
type Engine struct {
	normalizer *timezone.Normalizer
	defaults   Defaults
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine はEngineを生成する。
func NewEngine(normalizer *timezone.Normalizer, defaults Defaults, logger *slog.Logger) *Engine {
	return &Engine{normalizer: normalizer, defaults: defaults, logger: logger, now: time.Now}
}

// Suggest はコンフリクトした予約の代替候補を生成し、スコア降順で返す。
// 参加者の予定と重なる候補は返さない。候補が1件もない場合はエラーではなく
// 空の結果を返す。
func (e *Engine) Suggest(booking *model.Booking, participants []model.Participant, opts Options) (*Suggestions, error) {
	started := e.now()
	opts = e.fillDefaults(opts)

	if booking == nil || !booking.End.After(booking.Start) {
		return nil, model.NewNoCandidatesError()
	}

	// 参加者ごとに予定をマージし、検索ウィンドウ内の空き品質を前計算する
	duration := booking.End.Sub(booking.Start)
	windowStart := e.searchStart(booking, opts)
	windowEnd := windowStart.AddDate(0, 0, opts.LookAheadDays)

	merged := make([][]model.BusyInterval, len(participants))
	availability := make([]float64, len(participants))
	for i, p := range participants {
		if len(p.BusyIntervals) == 0 {
			availability[i] = neutralAvailability
			continue
		}
		merged[i] = MergeBusyIntervals(p.BusyIntervals)
		availability[i] = availabilityQuality(merged[i], windowStart, windowEnd)
	}

	buffer := time.Duration(*opts.BufferMinutes) * time.Minute
	preferred := model.TimeOfDayOf(booking.Start.UTC())

	generated := 0
	filtered := 0
	var slots []model.CandidateSlot
	for start := windowStart; start.Before(windowEnd); start = start.Add(opts.Increment) {
		if !e.withinGenerationWindow(start, duration, opts) {
			continue
		}
		generated++

		end := start.Add(duration)
		if e.conflicts(start, start.Add(-buffer), end.Add(buffer), participants, merged) {
			filtered++
			continue
		}

		slot := e.score(start, end, booking, preferred, availability, opts)
		slots = append(slots, slot)
	}

	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].Score == slots[j].Score {
			return slots[i].Start.Before(slots[j].Start)
		}
		return slots[i].Score > slots[j].Score
	})
	if len(slots) > opts.MaxResults {
		slots = slots[:opts.MaxResults]
	}

	return &Suggestions{
		Slots: slots,
		Metadata: Metadata{
			CandidatesGenerated: generated,
			CandidatesFiltered:  filtered,
			SearchWindowStart:   windowStart,
			SearchWindowEnd:     windowEnd,
			Elapsed:             e.now().Sub(started),
		},
	}, nil
}

// SuggestBulk は複数のコンフリクト予約に対して独立に提案を実行し、
// 成功・失敗数を集計して返す。1件の失敗が他の予約を中断することはない。
func (e *Engine) SuggestBulk(bookings []*model.Booking, participantsFor func(bookingID string) []model.Participant, opts Options) *BulkResult {
	result := &BulkResult{
		Results: make(map[string]*Suggestions, len(bookings)),
		Errors:  make(map[string]string),
	}
	for _, b := range bookings {
		suggestions, err := e.Suggest(b, participantsFor(b.ID), opts)
		if err != nil {
			result.Failed++
			result.Errors[b.ID] = err.Error()
			e.logger.Warn("bulk suggestion failed",
				slog.String("booking_id", b.ID),
				slog.String("error", err.Error()))
			continue
		}
		result.Succeeded++
		result.Results[b.ID] = suggestions
	}
	return result
}

// fillDefaults はゼロ値のオプションを既定値で埋める。
func (e *Engine) fillDefaults(opts Options) Options {
	if opts.LookAheadDays <= 0 {
		opts.LookAheadDays = e.defaults.LookAheadDays
	}
	if opts.Increment <= 0 {
		opts.Increment = e.defaults.Increment
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = e.defaults.MaxResults
	}
	if opts.BufferMinutes == nil {
		v := e.defaults.BufferMinutes
		opts.BufferMinutes = &v
	}
	if opts.BusinessStartHour == nil {
		v := e.defaults.BusinessStartHour
		opts.BusinessStartHour = &v
	}
	if opts.BusinessEndHour == nil {
		v := e.defaults.BusinessEndHour
		opts.BusinessEndHour = &v
	}
	return opts
}

// searchStart は検索ウィンドウの起点を返す。元予約の開始時刻を
// インクリメント境界へ切り上げ、過去にはさかのぼらない。
func (e *Engine) searchStart(booking *model.Booking, opts Options) time.Time {
	start := booking.Start.UTC()
	if now := e.now().UTC(); start.Before(now) {
		start = now
	}
	return start.Truncate(opts.Increment).Add(opts.Increment)
}

// withinGenerationWindow は候補開始時刻が生成条件を満たすかを判定する。
func (e *Engine) withinGenerationWindow(start time.Time, duration time.Duration, opts Options) bool {
	if !opts.IncludeWeekends {
		if wd := start.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}
	if opts.RespectBusinessHours == nil || *opts.RespectBusinessHours {
		end := start.Add(duration)
		if start.Hour() < *opts.BusinessStartHour {
			return false
		}
		endHour := end.Hour()
		if end.Minute() > 0 || end.Second() > 0 {
			endHour++
		}
		if endHour > *opts.BusinessEndHour || end.Day() != start.Day() {
			return false
		}
	}
	return true
}

// conflicts は候補がいずれかの参加者の予定・勤務時間と衝突するかを判定する。
// 予定との重なりはバッファ込みの範囲で、勤務時間は候補の開始時刻を
// 参加者ローカルに変換して確認する。タイムゾーンが解決できない参加者は
// 勤務時間の制約なしとして扱う。
func (e *Engine) conflicts(slotStart, bufStart, bufEnd time.Time, participants []model.Participant, merged [][]model.BusyInterval) bool {
	for i, p := range participants {
		if anyOverlap(merged[i], bufStart, bufEnd) {
			return true
		}
		if p.WorkingHours != nil {
			conv, err := e.normalizer.Convert(slotStart, "UTC", p.Timezone)
			if err != nil {
				continue
			}
			if !p.WorkingHours.ContainsLocal(conv.Converted) {
				return true
			}
		}
	}
	return false
}

// score は残存候補の重み付きスコアと根拠文字列を計算する。
// 同一入力に対して決定的である。
func (e *Engine) score(start, end time.Time, booking *model.Booking, preferred model.TimeOfDay, availability []float64, opts Options) model.CandidateSlot {
	proximity := proximityScore(start, booking.Start)
	tod := model.TimeOfDayOf(start.UTC())
	todScore := timeOfDayScore(tod, preferred)
	avail := averageAvailability(availability)
	business := businessHoursScore(start, end, opts)

	total := defaultWeightProximity*proximity +
		defaultWeightTimeOfDay*todScore +
		defaultWeightAvailability*avail +
		defaultWeightBusinessHours*business

	reasoning := fmt.Sprintf(
		"proximity %.2f (%.1f days from original), time-of-day %.2f (%s vs preferred %s), availability %.2f, business-hours %.2f",
		proximity, start.Sub(booking.Start).Abs().Hours()/24, todScore, tod, preferred, avail, business)

	return model.CandidateSlot{
		Start:     start,
		End:       end,
		TimeOfDay: tod,
		Score:     total,
		Reasoning: reasoning,
	}
}

// proximityScore は元予約からの距離を7日で0まで線形減衰させる。
func proximityScore(candidate, original time.Time) float64 {
	days := candidate.Sub(original).Abs().Hours() / 24
	score := 1 - days/proximityDecayDays
	if score < 0 {
		return 0
	}
	return score
}

// timeOfDayScore は時間帯カテゴリの一致度を返す。完全一致で1.0、
// 隣接帯（午前と午後、午後と夕方）で0.5。
func timeOfDayScore(candidate, preferred model.TimeOfDay) float64 {
	if candidate == preferred {
		return 1.0
	}
	if candidate == model.TimeOfDayAfternoon || preferred == model.TimeOfDayAfternoon {
		return 0.5
	}
	return 0
}

// availabilityQuality は検索ウィンドウに占める予定時間の比率から
// 空き品質を導出する。
func availabilityQuality(merged []model.BusyInterval, windowStart, windowEnd time.Time) float64 {
	window := windowEnd.Sub(windowStart)
	if window <= 0 {
		return neutralAvailability
	}
	ratio := float64(totalBusy(merged)) / float64(window)
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio
}

// averageAvailability は参加者の空き品質の平均を返す。
// 参加者がいない場合は中立値。
func averageAvailability(scores []float64) float64 {
	if len(scores) == 0 {
		return neutralAvailability
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// businessHoursScore は営業時間との整合度を返す。平日かつ営業時間内で1.0、
// 平日だが時間外で0.3、週末で0。
func businessHoursScore(start, end time.Time, opts Options) float64 {
	if wd := start.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return 0
	}
	endHour := end.Hour()
	if end.Minute() > 0 || end.Second() > 0 {
		endHour++
	}
	if start.Hour() >= *opts.BusinessStartHour && endHour <= *opts.BusinessEndHour && end.Day() == start.Day() {
		return 1.0
	}
	return 0.3
}
