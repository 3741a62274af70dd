package model

import "time"

// TimeOfDay は候補スロットの時間帯カテゴリを表す。
type TimeOfDay string

const (
	// TimeOfDayMorning は午前（5時〜12時）。
	TimeOfDayMorning TimeOfDay = "morning"
	// TimeOfDayAfternoon は午後（12時〜17時）。
	TimeOfDayAfternoon TimeOfDay = "afternoon"
	// TimeOfDayEvening は夕方以降（17時〜5時）。
	TimeOfDayEvening TimeOfDay = "evening"
)

// TimeOfDayOf は時刻から時間帯カテゴリを判定する。
func TimeOfDayOf(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return TimeOfDayMorning
	case h >= 12 && h < 17:
		return TimeOfDayAfternoon
	default:
		return TimeOfDayEvening
	}
}

// CandidateSlot は代替ミーティング時間の候補 [Start, End) を表す。
// 1回の提案リクエスト内で生成・破棄され、スコアはキャッシュしない。
type CandidateSlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	TimeOfDay TimeOfDay `json:"time_of_day"`
	Score     float64   `json:"score"`     // [0,1]。大きいほど良い候補
	Reasoning string    `json:"reasoning"` // 人間可読のスコア根拠
}

// Duration はスロットの長さを返す。
func (c CandidateSlot) Duration() time.Duration {
	return c.End.Sub(c.Start)
}

// Booking はコンフリクトした既存予約を表す。
// 予約CRUD自体は外部コラボレーターの責務であり、提案エンジンには
// 必要な属性のみが渡される。
type Booking struct {
	ID       string
	Start    time.Time
	End      time.Time
	Timezone string // 主催者のIANAタイムゾーン名
}
