// Package webhook はプロバイダーごとに異なるプッシュ通知の検証を提供する。
// 4つの構造的に異なるWebhookプロトコルを共通のValidatorインターフェースの
// 背後に正規化する。検証失敗は必ず結果として返し、取り込みエンドポイントの
// 外へ例外を漏らさない。
package webhook

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
)

// Request は受信Webhookをトランスポート非依存に表現する。
type Request struct {
	Headers    http.Header
	Query      url.Values
	Body       []byte
	ReceivedAt time.Time
}

// ReasonCode は拒否理由の有界な分類。メトリクスのラベルにはこちらを使い、
// 自由形式のReasonは絶対に使わない（受信者が制御できる文字列を含むため）。
type ReasonCode string

const (
	ReasonUnknownProvider     ReasonCode = "unknown_provider"
	ReasonMalformed           ReasonCode = "malformed"
	ReasonMissingField        ReasonCode = "missing_field"
	ReasonUnknownSubscription ReasonCode = "unknown_subscription"
	ReasonTokenMismatch       ReasonCode = "token_mismatch"
	ReasonExpired             ReasonCode = "expired"
	ReasonStaleTimestamp      ReasonCode = "stale_timestamp"
	ReasonUnexpectedEvent     ReasonCode = "unexpected_event"
	ReasonLookupFailed        ReasonCode = "lookup_failed"
	ReasonUnconfigured        ReasonCode = "unconfigured"
)

// Result はWebhook検証の結果を表す。
type Result struct {
	Valid  bool
	Code   ReasonCode // 拒否時のみ。メトリクスラベル用の有界な分類
	Reason string     // 拒否時のみ。詳細はログ用であり、レスポンスには含めない

	// IsChallengeがtrueの場合、ChallengeResponseをChallengeContentTypeで
	// そのまま200応答として返す。ビジネスロジックは実行しない。
	IsChallenge          bool
	ChallengeResponse    []byte
	ChallengeContentType string

	// 検証を通過した通知の正規化形式。チャレンジおよび
	// セットアップ通知の場合は空となる。
	Notifications []model.WebhookNotification
}

// invalid は拒否結果を生成する。
func invalid(code ReasonCode, reason string) *Result {
	return &Result{Valid: false, Code: code, Reason: reason}
}

// Validator は1プロバイダーのWebhook検証を実装する。
type Validator interface {
	// Provider はこのバリデーターが担当するプロバイダーを返す。
	Provider() model.ProviderKey

	// Validate は受信リクエストを検証し、結果を返す。
	// いかなる入力に対してもパニックせず、エラーはResult.Reasonとして返す。
	Validate(ctx context.Context, r *Request) *Result
}

// Registry はプロバイダーキーからバリデーターを引くディスパッチテーブル。
// 継承階層ではなくタグ付きバリアントで4プロトコルの差異を吸収する。
type Registry struct {
	validators map[model.ProviderKey]Validator
}

// NewRegistry はRegistryを生成する。
func NewRegistry(validators ...Validator) *Registry {
	reg := &Registry{validators: make(map[model.ProviderKey]Validator, len(validators))}
	for _, v := range validators {
		reg.validators[v.Provider()] = v
	}
	return reg
}

// Validate は指定プロバイダーのバリデーターにディスパッチする。
// 未登録のプロバイダーは拒否する。
func (reg *Registry) Validate(ctx context.Context, provider model.ProviderKey, r *Request) *Result {
	v, ok := reg.validators[provider]
	if !ok {
		return invalid(ReasonUnknownProvider, "unknown provider: "+string(provider))
	}
	return v.Validate(ctx, r)
}
