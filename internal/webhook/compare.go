package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// secureCompare は2つのトークンを定数時間で比較する。
// 長さの違いも含めてタイミング情報を漏らさない。
func secureCompare(got, want string) bool {
	return hmac.Equal([]byte(got), []byte(want))
}

// signHex はHMAC-SHA256署名を16進文字列で返す。
func signHex(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// withinWindow はイベント時刻が現在から見てwindow以内かを判定する。
// 再生攻撃の防止に用いる。未来方向のずれはクロックスキューとして
// 同じ幅まで許容する。
func withinWindow(eventAt, now time.Time, window time.Duration) bool {
	diff := now.Sub(eventAt)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}
