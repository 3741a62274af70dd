package webhook

import (
	"context"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/repository"
)

// Googleのプッシュチャネル通知はボディを持たず、すべての情報を
// X-Goog-* ヘッダーで運ぶ。
const (
	headerGoogChannelID     = "X-Goog-Channel-Id"
	headerGoogChannelToken  = "X-Goog-Channel-Token"
	headerGoogResourceID    = "X-Goog-Resource-Id"
	headerGoogResourceState = "X-Goog-Resource-State"
	headerGoogMessageNumber = "X-Goog-Message-Number"
)

// GoogleValidator はGoogleカレンダーのプッシュチャネル通知を検証する。
type GoogleValidator struct {
	subs repository.WebhookSubscriptionRepository
	now  func() time.Time
}

// NewGoogleValidator はGoogleValidatorを生成する。
func NewGoogleValidator(subs repository.WebhookSubscriptionRepository) *GoogleValidator {
	return &GoogleValidator{subs: subs, now: time.Now}
}

// Provider は担当プロバイダーを返す。
func (v *GoogleValidator) Provider() model.ProviderKey {
	return model.ProviderGoogle
}

// Validate はチャネルID・トークン・リソース状態を順に検証する。
// チャネル作成直後に届くsync通知は有効として受理するが、
// 通知としては処理しない。
func (v *GoogleValidator) Validate(ctx context.Context, r *Request) *Result {
	channelID := r.Headers.Get(headerGoogChannelID)
	if channelID == "" {
		return invalid(ReasonMissingField, "missing channel id header")
	}
	resourceID := r.Headers.Get(headerGoogResourceID)
	if resourceID == "" {
		return invalid(ReasonMissingField, "missing resource id header")
	}

	sub, err := v.subs.FindBySubscriptionID(ctx, model.ProviderGoogle, channelID)
	if err != nil {
		return invalid(ReasonLookupFailed, "subscription lookup failed: "+err.Error())
	}
	if sub == nil {
		return invalid(ReasonUnknownSubscription, "unknown channel: "+channelID)
	}
	if sub.IsExpired(v.now()) {
		return invalid(ReasonExpired, "channel expired")
	}
	if !secureCompare(r.Headers.Get(headerGoogChannelToken), sub.Secret) {
		return invalid(ReasonTokenMismatch, "channel token mismatch")
	}
	if sub.ResourceID != "" && resourceID != sub.ResourceID {
		return invalid(ReasonTokenMismatch, "resource id mismatch")
	}

	state := r.Headers.Get(headerGoogResourceState)
	switch state {
	case "sync":
		// チャネル確立の合図。通知なしの有効結果として返す。
		return &Result{Valid: true}
	case "exists":
		return &Result{Valid: true, Notifications: []model.WebhookNotification{{
			Provider:       model.ProviderGoogle,
			UserID:         sub.UserID,
			CalendarID:     sub.CalendarID,
			SubscriptionID: sub.SubscriptionID,
			ChangeType:     model.ChangeTypeUpdated,
			ReceivedAt:     r.ReceivedAt,
		}}}
	case "not_exists":
		return &Result{Valid: true, Notifications: []model.WebhookNotification{{
			Provider:       model.ProviderGoogle,
			UserID:         sub.UserID,
			CalendarID:     sub.CalendarID,
			SubscriptionID: sub.SubscriptionID,
			ChangeType:     model.ChangeTypeDeleted,
			ReceivedAt:     r.ReceivedAt,
		}}}
	default:
		return invalid(ReasonUnexpectedEvent, "unexpected resource state: "+state)
	}
}
