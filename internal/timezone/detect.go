package timezone

import "time"

// DetectSignals はタイムゾーン自動判定に使う入力シグナルを表す。
// 不明なシグナルは空文字のままでよい。
type DetectSignals struct {
	ExplicitTimezone  string // ユーザーがリクエストで明示したゾーン
	PlatformTimezone  string // クライアントプラットフォームが報告したゾーン
	GeoTimezone       string // 位置情報から推定したゾーン
	PreferredTimezone string // 保存済みのユーザー設定
}

// Detection はタイムゾーン自動判定の結果を表す。
type Detection struct {
	Timezone   string
	Confidence float64 // [0,1]
	Source     string  // explicit / platform / geolocation / preference / fallback
}

// シグナルごとの信頼度。明示指定が最も高く、保存済み設定が最も低い。
const (
	confidenceExplicit   = 0.95
	confidencePlatform   = 0.85
	confidenceGeo        = 0.70
	confidencePreference = 0.60
	confidenceFallback   = 0.50
)

// AutoDetect は複数のシグナルを信頼度順に評価し、最初に解決できた
// ゾーンを返す。いずれも解決できない場合はUTCを信頼度0.5で返す。
func (n *Normalizer) AutoDetect(signals DetectSignals) Detection {
	candidates := []struct {
		tz         string
		confidence float64
		source     string
	}{
		{signals.ExplicitTimezone, confidenceExplicit, "explicit"},
		{signals.PlatformTimezone, confidencePlatform, "platform"},
		{signals.GeoTimezone, confidenceGeo, "geolocation"},
		{signals.PreferredTimezone, confidencePreference, "preference"},
	}

	for _, c := range candidates {
		if c.tz == "" {
			continue
		}
		if _, err := time.LoadLocation(c.tz); err != nil {
			// 解決できないゾーン名は次のシグナルへ
			continue
		}
		return Detection{Timezone: c.tz, Confidence: c.confidence, Source: c.source}
	}

	return Detection{Timezone: "UTC", Confidence: confidenceFallback, Source: "fallback"}
}
