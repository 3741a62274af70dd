// Package timezone はタイムゾーン変換とDST判定のユーティリティを提供する。
// 外部依存を持たない純粋な変換レイヤーであり、ゾーン情報は
// (ゾーン名, 日付)単位で24時間キャッシュする。
package timezone

import (
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
)

// zoneInfoTTL はゾーン情報キャッシュの有効期間。
const zoneInfoTTL = 24 * time.Hour

// Conversion はタイムゾーン変換の結果を表す。
type Conversion struct {
	Original                time.Time
	Converted               time.Time
	OffsetDifferenceMinutes int
	CrossesDSTBoundary      bool // 変換元と変換先でDST適用状態が異なる場合にtrue
}

// ZoneInfo はある日付におけるタイムゾーンの情報を表す。
type ZoneInfo struct {
	Name              string // IANAゾーン名
	Abbreviation      string // その時点の略称（JST、PDTなど）
	OffsetMinutes     int    // その時点のUTCオフセット（分）
	IsDST             bool
	StandardOffsetMin int // 標準時のUTCオフセット（分）
	DSTOffsetMin      int // 夏時間のUTCオフセット（分）。DSTのないゾーンは標準時と同値
}

// cacheEntry はゾーン情報のキャッシュエントリ。
// 壁時計の副作用に頼らず、storedAtと固定TTLで読み出し時に失効判定する。
type cacheEntry struct {
	info     *ZoneInfo
	storedAt time.Time
}

// Normalizer はタイムゾーン変換を行う。ゾーン情報キャッシュを内包する。
type Normalizer struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewNormalizer はNormalizerを生成する。
func NewNormalizer() *Normalizer {
	return &Normalizer{cache: make(map[string]cacheEntry)}
}

// Convert は指定時刻をfromTzからtoTzへ変換する。
// 同一瞬間の表現変換であり、オフセット差とDST境界の有無を併せて返す。
func (n *Normalizer) Convert(t time.Time, fromTz, toTz string) (*Conversion, error) {
	fromLoc, err := loadLocation(fromTz)
	if err != nil {
		return nil, err
	}
	toLoc, err := loadLocation(toTz)
	if err != nil {
		return nil, err
	}

	original := t.In(fromLoc)
	converted := t.In(toLoc)

	_, fromOffset := original.Zone()
	_, toOffset := converted.Zone()

	return &Conversion{
		Original:                original,
		Converted:               converted,
		OffsetDifferenceMinutes: (toOffset - fromOffset) / 60,
		CrossesDSTBoundary:      isDST(original, fromLoc) != isDST(converted, toLoc),
	}, nil
}

// GetZoneInfo は指定日付におけるゾーン情報を返す。
// 結果は(ゾーン名, 日付)単位でキャッシュされ、24時間で失効する。
func (n *Normalizer) GetZoneInfo(tz string, date time.Time) (*ZoneInfo, error) {
	key := fmt.Sprintf("%s|%s", tz, date.UTC().Format("2006-01-02"))

	n.mu.Lock()
	entry, ok := n.cache[key]
	n.mu.Unlock()
	if ok && time.Since(entry.storedAt) < zoneInfoTTL {
		return entry.info, nil
	}

	loc, err := loadLocation(tz)
	if err != nil {
		return nil, err
	}

	local := date.In(loc)
	abbrev, offset := local.Zone()
	stdOffset, dstOffset := seasonalOffsets(date.Year(), loc)

	info := &ZoneInfo{
		Name:              tz,
		Abbreviation:      abbrev,
		OffsetMinutes:     offset / 60,
		IsDST:             isDST(local, loc),
		StandardOffsetMin: stdOffset / 60,
		DSTOffsetMin:      dstOffset / 60,
	}

	n.mu.Lock()
	n.cache[key] = cacheEntry{info: info, storedAt: time.Now()}
	n.mu.Unlock()

	return info, nil
}

// CacheSize は現在のキャッシュエントリ数を返す。テストおよびメトリクス用。
func (n *Normalizer) CacheSize() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.cache)
}

// EvictStale は失効したキャッシュエントリを削除し、削除件数を返す。
// ワーカーから定期的に呼び出される。
func (n *Normalizer) EvictStale() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	evicted := 0
	for key, entry := range n.cache {
		if time.Since(entry.storedAt) >= zoneInfoTTL {
			delete(n.cache, key)
			evicted++
		}
	}
	return evicted
}

// loadLocation はIANAゾーン名をtime.Locationに解決する。
func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, model.NewInvalidTimezoneError(tz)
	}
	return loc, nil
}

// seasonalOffsets は指定年の1月と7月のオフセットから標準時と夏時間の
// オフセットを求める。北半球・南半球のどちらでも、小さい方が標準時となる。
func seasonalOffsets(year int, loc *time.Location) (standard, dst int) {
	_, jan := time.Date(year, time.January, 15, 12, 0, 0, 0, loc).Zone()
	_, jul := time.Date(year, time.July, 15, 12, 0, 0, 0, loc).Zone()
	if jan < jul {
		return jan, jul
	}
	return jul, jan
}

// isDST は指定時点のオフセットを同年1月・7月のオフセットと比較して
// DST適用中かを判定する。
func isDST(t time.Time, loc *time.Location) bool {
	_, offset := t.Zone()
	standard, dst := seasonalOffsets(t.Year(), loc)
	if standard == dst {
		// DSTを採用していないゾーン
		return false
	}
	return offset == dst
}
