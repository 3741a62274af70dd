package model

import "time"

// BusyInterval は参加者の予定が入っている時間範囲 [Start, End) を表す。
// 時刻は常にUTCで保持する。提案リクエストごとに再計算される一時データであり、
// 長期永続化はしない。
type BusyInterval struct {
	Start  time.Time
	End    time.Time
	Source ProviderKey // この区間を報告したプロバイダー
}

// Overlaps は他の区間と重なりがあるかを判定する。
// 半開区間 [Start, End) として扱うため、末尾と先頭が一致する場合は重ならない。
func (b BusyInterval) Overlaps(other BusyInterval) bool {
	return b.Start.Before(other.End) && other.Start.Before(b.End)
}

// Contains は指定時刻が区間内 [Start, End) にあるかを判定する。
func (b BusyInterval) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// Duration は区間の長さを返す。
func (b BusyInterval) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

// Participant は会議参加者とそのカレンダー情報を表す。
// カレンダーデータを持たない参加者は「常に空き」として扱う。
type Participant struct {
	UserID        string
	DisplayName   string
	Timezone      string         // IANAタイムゾーン名。空の場合はUTC
	BusyIntervals []BusyInterval // マージ前の生データ
	WorkingHours  *WorkingHours  // nilの場合は制約なし
}

// WorkingHours は参加者が宣言した勤務時間帯を表す。
// 参加者のローカルタイムゾーンにおける時刻で指定する。
type WorkingHours struct {
	StartHour int // 0-23
	EndHour   int // 1-24、StartHourより大きいこと
	Weekdays  []time.Weekday
}

// ContainsLocal は参加者ローカル時刻が勤務時間内かを判定する。
func (w *WorkingHours) ContainsLocal(local time.Time) bool {
	if w == nil {
		return true
	}
	if len(w.Weekdays) > 0 {
		found := false
		for _, d := range w.Weekdays {
			if d == local.Weekday() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	h := local.Hour()
	return h >= w.StartHour && h < w.EndHour
}
