// Package suggestion はコンフリクトした予約の代替時間候補を生成・採点する。
// 候補はリクエストごとに生成・破棄され、スコアはキャッシュしない。
package suggestion

import (
	"sort"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
)

// MergeBusyIntervals は予定区間を開始時刻でソートし、重なり・隣接する区間を
// 結合する。結果は重なりのないソート済みの区間列となる。冪等であり、
// マージ済みの入力を再度マージしても結果は変わらない。
func MergeBusyIntervals(intervals []model.BusyInterval) []model.BusyInterval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]model.BusyInterval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := make([]model.BusyInterval, 0, len(sorted))
	current := sorted[0]
	for _, next := range sorted[1:] {
		// 半開区間のため、末尾と先頭が一致する隣接区間も結合する
		if !next.Start.After(current.End) {
			if next.End.After(current.End) {
				current.End = next.End
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}

// totalBusy はマージ済み区間の合計時間を返す。
func totalBusy(merged []model.BusyInterval) time.Duration {
	var total time.Duration
	for _, b := range merged {
		total += b.Duration()
	}
	return total
}

// anyOverlap は指定範囲 [start, end) がいずれかのマージ済み区間と
// 重なるかを判定する。
func anyOverlap(merged []model.BusyInterval, start, end time.Time) bool {
	span := model.BusyInterval{Start: start, End: end}
	for _, b := range merged {
		if b.Overlaps(span) {
			return true
		}
		if b.Start.After(end) {
			break
		}
	}
	return false
}
