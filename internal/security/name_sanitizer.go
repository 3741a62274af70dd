package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizerService はプロバイダー由来の表示文字列のサニタイズ機能の
// インターフェースを定義する。カレンダー名や参加者表示名はプロバイダーから
// 取得した生の値であり、保存前およびAPI応答時にサニタイズする。
type NameSanitizerService interface {
	// Sanitize は表示文字列からすべてのHTMLタグを除去し、
	// 前後の空白を取り除いたプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// nameSanitizer はNameSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerServiceの新しいインスタンスを生成する。
// 表示名にマークアップは不要のため、すべてのタグを除去するStrictPolicyを使う。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は表示文字列をプレーンテキストへサニタイズする。
// StrictPolicyはテキストをHTMLエスケープして返すため、
// エスケープを解除して元の文字を復元する。
func (s *nameSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
