package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/repository"
)

// caldavNotification はCalDAVブリッジが送るシンプルなJSON通知。
type caldavNotification struct {
	SubscriptionID string `json:"subscription_id"`
	CalendarID     string `json:"calendar_id"`
	ChangeType     string `json:"change_type"`
	Timestamp      string `json:"timestamp"` // RFC 3339
}

// CalDAVValidator はCalDAVブリッジからの通知を検証する。
// APIキーによる単純な認証と、古い通知の鮮度チェックを行う。
type CalDAVValidator struct {
	subs        repository.WebhookSubscriptionRepository
	staleWindow time.Duration
	now         func() time.Time
}

// NewCalDAVValidator はCalDAVValidatorを生成する。
func NewCalDAVValidator(subs repository.WebhookSubscriptionRepository, staleWindow time.Duration) *CalDAVValidator {
	return &CalDAVValidator{subs: subs, staleWindow: staleWindow, now: time.Now}
}

// Provider は担当プロバイダーを返す。
func (v *CalDAVValidator) Provider() model.ProviderKey {
	return model.ProviderCalDAV
}

// Validate はAPIキーをサブスクリプションのシークレットと定数時間比較し、
// タイムスタンプが鮮度ウィンドウ内であることを確認する。
func (v *CalDAVValidator) Validate(ctx context.Context, r *Request) *Result {
	var n caldavNotification
	if err := json.Unmarshal(r.Body, &n); err != nil {
		return invalid(ReasonMalformed, "malformed notification body: "+err.Error())
	}
	if n.SubscriptionID == "" {
		return invalid(ReasonMissingField, "missing subscription id")
	}
	if !model.IsValidChangeType(model.ChangeType(n.ChangeType)) {
		return invalid(ReasonUnexpectedEvent, "unexpected change type: "+n.ChangeType)
	}

	sub, err := v.subs.FindBySubscriptionID(ctx, model.ProviderCalDAV, n.SubscriptionID)
	if err != nil {
		return invalid(ReasonLookupFailed, "subscription lookup failed: "+err.Error())
	}
	if sub == nil {
		return invalid(ReasonUnknownSubscription, "unknown subscription: "+n.SubscriptionID)
	}
	if !secureCompare(r.Headers.Get("X-Api-Key"), sub.Secret) {
		return invalid(ReasonTokenMismatch, "api key mismatch")
	}

	sentAt, err := time.Parse(time.RFC3339, n.Timestamp)
	if err != nil {
		return invalid(ReasonMalformed, "malformed timestamp: "+n.Timestamp)
	}
	if v.now().Sub(sentAt) > v.staleWindow {
		return invalid(ReasonStaleTimestamp, "stale notification")
	}

	calendarID := n.CalendarID
	if calendarID == "" {
		calendarID = sub.CalendarID
	}
	return &Result{Valid: true, Notifications: []model.WebhookNotification{{
		Provider:       model.ProviderCalDAV,
		UserID:         sub.UserID,
		CalendarID:     calendarID,
		SubscriptionID: sub.SubscriptionID,
		ChangeType:     model.ChangeType(n.ChangeType),
		ReceivedAt:     r.ReceivedAt,
	}}}
}
