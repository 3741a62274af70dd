package suggestion

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/timezone"
)

func testDefaults() Defaults {
	return Defaults{
		LookAheadDays:     14,
		Increment:         30 * time.Minute,
		BufferMinutes:     15,
		MaxResults:        10,
		BusinessStartHour: 8,
		BusinessEndHour:   18,
	}
}

func newTestEngine(now time.Time) *Engine {
	e := NewEngine(timezone.NewNormalizer(), testDefaults(), slog.New(slog.NewJSONHandler(io.Discard, nil)))
	e.now = func() time.Time { return now }
	return e
}

func utc(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func TestMergeBusyIntervals_CoalescesOverlapsAndAdjacency(t *testing.T) {
	intervals := []model.BusyInterval{
		{Start: utc(2024, 1, 15, 13, 0), End: utc(2024, 1, 15, 14, 0)},
		{Start: utc(2024, 1, 15, 9, 0), End: utc(2024, 1, 15, 10, 0)},
		{Start: utc(2024, 1, 15, 9, 30), End: utc(2024, 1, 15, 11, 0)},
		{Start: utc(2024, 1, 15, 11, 0), End: utc(2024, 1, 15, 12, 0)},
	}

	merged := MergeBusyIntervals(intervals)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged intervals, got %d: %+v", len(merged), merged)
	}
	if !merged[0].Start.Equal(utc(2024, 1, 15, 9, 0)) || !merged[0].End.Equal(utc(2024, 1, 15, 12, 0)) {
		t.Errorf("unexpected first interval: %+v", merged[0])
	}
	if !merged[1].Start.Equal(utc(2024, 1, 15, 13, 0)) {
		t.Errorf("unexpected second interval: %+v", merged[1])
	}

	for i := 1; i < len(merged); i++ {
		if merged[i].Start.Before(merged[i-1].End) {
			t.Errorf("merged intervals overlap at index %d", i)
		}
	}
}

func TestMergeBusyIntervals_Idempotent(t *testing.T) {
	intervals := []model.BusyInterval{
		{Start: utc(2024, 1, 15, 9, 0), End: utc(2024, 1, 15, 10, 30)},
		{Start: utc(2024, 1, 15, 10, 0), End: utc(2024, 1, 15, 11, 0)},
	}
	once := MergeBusyIntervals(intervals)
	twice := MergeBusyIntervals(once)
	if len(once) != len(twice) {
		t.Fatalf("merge is not idempotent: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if !once[i].Start.Equal(twice[i].Start) || !once[i].End.Equal(twice[i].End) {
			t.Errorf("interval %d changed on re-merge", i)
		}
	}
}

func TestMergeBusyIntervals_Empty(t *testing.T) {
	if got := MergeBusyIntervals(nil); got != nil {
		t.Errorf("expected nil for empty input, got %+v", got)
	}
}

func TestEngine_TopSuggestionAvoidsBusyInterval(t *testing.T) {
	// 2024-01-15は月曜。14:00Zの予約が14:00-15:00Zの予定と衝突している
	engine := newTestEngine(utc(2024, 1, 15, 8, 0))
	booking := &model.Booking{
		ID:    "booking-1",
		Start: utc(2024, 1, 15, 14, 0),
		End:   utc(2024, 1, 15, 15, 0),
	}
	busy := model.BusyInterval{Start: utc(2024, 1, 15, 14, 0), End: utc(2024, 1, 15, 15, 0), Source: model.ProviderGoogle}
	participants := []model.Participant{
		{UserID: "user-1", Timezone: "UTC", BusyIntervals: []model.BusyInterval{busy}},
	}

	result, err := engine.Suggest(booking, participants, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Slots) == 0 {
		t.Fatal("expected suggestions")
	}

	top := result.Slots[0]
	candidate := model.BusyInterval{Start: top.Start, End: top.End}
	if candidate.Overlaps(busy) {
		t.Errorf("top suggestion %v-%v overlaps busy interval", top.Start, top.End)
	}
	if top.Score < 0.5 {
		t.Errorf("expected top score >= 0.5, got %f", top.Score)
	}
	if top.Reasoning == "" {
		t.Error("expected a reasoning string")
	}
	for _, s := range result.Slots {
		p := model.BusyInterval{Start: s.Start, End: s.End}
		if p.Overlaps(busy) {
			t.Errorf("suggestion %v-%v overlaps busy interval", s.Start, s.End)
		}
	}
}

func TestEngine_ScoresAreDeterministic(t *testing.T) {
	engine := newTestEngine(utc(2024, 1, 15, 8, 0))
	booking := &model.Booking{ID: "b", Start: utc(2024, 1, 15, 14, 0), End: utc(2024, 1, 15, 15, 0)}
	participants := []model.Participant{{UserID: "u", Timezone: "UTC"}}

	first, err := engine.Suggest(booking, participants, Options{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.Suggest(booking, participants, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Slots) != len(second.Slots) {
		t.Fatalf("slot counts differ: %d vs %d", len(first.Slots), len(second.Slots))
	}
	for i := range first.Slots {
		if first.Slots[i].Score != second.Slots[i].Score || !first.Slots[i].Start.Equal(second.Slots[i].Start) {
			t.Errorf("slot %d differs between identical runs", i)
		}
	}
}

func TestEngine_RespectsBusinessHoursAndWeekends(t *testing.T) {
	// 2024-01-19は金曜。既定では週末を飛ばして月曜以降に続く
	engine := newTestEngine(utc(2024, 1, 19, 8, 0))
	booking := &model.Booking{ID: "b", Start: utc(2024, 1, 19, 16, 0), End: utc(2024, 1, 19, 17, 0)}
	participants := []model.Participant{{UserID: "u", Timezone: "UTC"}}

	result, err := engine.Suggest(booking, participants, Options{})
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range result.Slots {
		if wd := s.Start.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Errorf("suggestion on weekend: %v", s.Start)
		}
		if s.Start.Hour() < 8 || s.End.Hour() > 18 {
			t.Errorf("suggestion outside business hours: %v-%v", s.Start, s.End)
		}
	}

	weekends, err := engine.Suggest(booking, participants, Options{IncludeWeekends: true, MaxResults: 100})
	if err != nil {
		t.Fatal(err)
	}
	foundWeekend := false
	for _, s := range weekends.Slots {
		if wd := s.Start.Weekday(); wd == time.Saturday || wd == time.Sunday {
			foundWeekend = true
			break
		}
	}
	if !foundWeekend {
		t.Error("expected weekend suggestions when IncludeWeekends is set")
	}
}

func TestEngine_BufferExcludesAdjacentSlots(t *testing.T) {
	engine := newTestEngine(utc(2024, 1, 15, 8, 0))
	booking := &model.Booking{ID: "b", Start: utc(2024, 1, 15, 10, 0), End: utc(2024, 1, 15, 11, 0)}
	busy := model.BusyInterval{Start: utc(2024, 1, 15, 11, 0), End: utc(2024, 1, 15, 12, 0)}
	participants := []model.Participant{
		{UserID: "u", Timezone: "UTC", BusyIntervals: []model.BusyInterval{busy}},
	}

	result, err := engine.Suggest(booking, participants, Options{})
	if err != nil {
		t.Fatal(err)
	}
	// 12:00開始は予定と隣接するが15分バッファに食い込むため除外される
	for _, s := range result.Slots {
		if s.Start.Equal(utc(2024, 1, 15, 12, 0)) {
			t.Error("slot starting at 12:00 should be excluded by the buffer")
		}
	}
}

func TestEngine_ZeroBufferOverrideAllowsAdjacentSlots(t *testing.T) {
	engine := newTestEngine(utc(2024, 1, 15, 8, 0))
	booking := &model.Booking{ID: "b", Start: utc(2024, 1, 15, 10, 0), End: utc(2024, 1, 15, 11, 0)}
	busy := model.BusyInterval{Start: utc(2024, 1, 15, 11, 0), End: utc(2024, 1, 15, 12, 0)}
	participants := []model.Participant{
		{UserID: "u", Timezone: "UTC", BusyIntervals: []model.BusyInterval{busy}},
	}

	// 明示的なゼロは既定値の15分で上書きされず、バッファなしとして扱われる
	zero := 0
	result, err := engine.Suggest(booking, participants, Options{BufferMinutes: &zero})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, s := range result.Slots {
		if s.Start.Equal(utc(2024, 1, 15, 12, 0)) {
			found = true
		}
	}
	if !found {
		t.Error("slot starting at 12:00 should be allowed with a zero-minute buffer")
	}
}

func TestEngine_WorkingHoursFilterUsesParticipantLocalTime(t *testing.T) {
	engine := newTestEngine(utc(2024, 1, 15, 0, 0))
	booking := &model.Booking{ID: "b", Start: utc(2024, 1, 15, 9, 0), End: utc(2024, 1, 15, 10, 0)}
	// ニューヨークの参加者は現地9時から17時のみ勤務。1月はUTC-5のため
	// 14:00Zより前の候補は現地勤務時間外として除外される
	participants := []model.Participant{
		{
			UserID:       "ny",
			Timezone:     "America/New_York",
			WorkingHours: &model.WorkingHours{StartHour: 9, EndHour: 17},
		},
	}

	result, err := engine.Suggest(booking, participants, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Slots) == 0 {
		t.Fatal("expected suggestions within the overlap of business and working hours")
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range result.Slots {
		local := s.Start.In(loc)
		if h := local.Hour(); h < 9 || h >= 17 {
			t.Errorf("suggestion outside participant working hours: %v (local %v)", s.Start, local)
		}
	}
}

func TestEngine_ParticipantWithoutCalendarGetsNeutralAvailability(t *testing.T) {
	engine := newTestEngine(utc(2024, 1, 15, 8, 0))
	booking := &model.Booking{ID: "b", Start: utc(2024, 1, 15, 14, 0), End: utc(2024, 1, 15, 15, 0)}
	participants := []model.Participant{{UserID: "no-calendar", Timezone: "UTC"}}

	result, err := engine.Suggest(booking, participants, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Slots) == 0 {
		t.Fatal("participant without calendar data should not exclude all slots")
	}

	// 中立0.5の空き品質が重み0.30で寄与するため、満点は取れない
	top := result.Slots[0]
	if top.Score > 0.90 {
		t.Errorf("expected availability to be neutral, got score %f", top.Score)
	}
}

func TestEngine_ReturnsAtMostMaxResults(t *testing.T) {
	engine := newTestEngine(utc(2024, 1, 15, 8, 0))
	booking := &model.Booking{ID: "b", Start: utc(2024, 1, 15, 14, 0), End: utc(2024, 1, 15, 15, 0)}

	result, err := engine.Suggest(booking, []model.Participant{}, Options{MaxResults: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Slots) > 3 {
		t.Errorf("expected at most 3 slots, got %d", len(result.Slots))
	}
	if result.Metadata.CandidatesGenerated == 0 {
		t.Error("expected metadata to report generated candidates")
	}
}

func TestEngine_InvalidBookingRange(t *testing.T) {
	engine := newTestEngine(utc(2024, 1, 15, 8, 0))
	booking := &model.Booking{ID: "b", Start: utc(2024, 1, 15, 15, 0), End: utc(2024, 1, 15, 14, 0)}

	if _, err := engine.Suggest(booking, nil, Options{}); err == nil {
		t.Error("expected error for inverted time range")
	}
}

func TestEngine_SuggestBulkIsolatesFailures(t *testing.T) {
	engine := newTestEngine(utc(2024, 1, 15, 8, 0))
	bookings := []*model.Booking{
		{ID: "good", Start: utc(2024, 1, 15, 14, 0), End: utc(2024, 1, 15, 15, 0)},
		{ID: "bad", Start: utc(2024, 1, 15, 15, 0), End: utc(2024, 1, 15, 14, 0)},
	}

	result := engine.SuggestBulk(bookings, func(string) []model.Participant { return nil }, Options{})
	if result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %d/%d", result.Succeeded, result.Failed)
	}
	if _, ok := result.Results["good"]; !ok {
		t.Error("expected result for the good booking")
	}
	if _, ok := result.Errors["bad"]; !ok {
		t.Error("expected error entry for the bad booking")
	}
}
