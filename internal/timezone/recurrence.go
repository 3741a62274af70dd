package timezone

import "time"

// OccurrenceAdjustment は定期予約の1回分の発生時刻とDST調整を表す。
type OccurrenceAdjustment struct {
	Occurrence        time.Time // この回のUTC時刻
	OffsetMinutes     int       // この回のゾーンオフセット（分）
	AdjustmentMinutes int       // 初回とのオフセット差（分）。DST境界を越えると非ゼロ
	CrossedDST        bool
}

// RecurringOccurrences は週次の定期予約について、各回の発生時刻を
// ローカル壁時計時刻固定で計算する。各回のオフセットを独立に再計算するため、
// ローカル9時の会議はDST境界を越えてもローカル9時のままとなり、
// オフセット変化分だけUTC時刻がずれる。適用した調整量を各回に記録する。
func (n *Normalizer) RecurringOccurrences(seriesStart time.Time, tz string, count int) ([]OccurrenceAdjustment, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return nil, err
	}

	startLocal := seriesStart.In(loc)
	_, startOffset := startLocal.Zone()
	startDST := isDST(startLocal, loc)

	occurrences := make([]OccurrenceAdjustment, 0, count)
	for i := 0; i < count; i++ {
		// 日付演算をローカルゾーンで行うことで、time.Dateが
		// その日のオフセットを自動的に適用する
		local := time.Date(
			startLocal.Year(), startLocal.Month(), startLocal.Day()+7*i,
			startLocal.Hour(), startLocal.Minute(), startLocal.Second(), 0, loc,
		)
		_, offset := local.Zone()

		occurrences = append(occurrences, OccurrenceAdjustment{
			Occurrence:        local.UTC(),
			OffsetMinutes:     offset / 60,
			AdjustmentMinutes: (offset - startOffset) / 60,
			CrossedDST:        isDST(local, loc) != startDST,
		})
	}

	return occurrences, nil
}
