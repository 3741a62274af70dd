package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/repository"
)

// microsoftEnvelope はGraphのWebhookボディ。複数の通知をまとめて運ぶ。
type microsoftEnvelope struct {
	Value []microsoftNotification `json:"value"`
}

type microsoftNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ChangeType     string `json:"changeType"`
	ClientState    string `json:"clientState"`
	Resource       string `json:"resource"`
}

// MicrosoftValidator はMicrosoft Graphのサブスクリプション通知を検証する。
// バッチ形式のため、ボディ内の各通知を個別に検証する。
type MicrosoftValidator struct {
	subs repository.WebhookSubscriptionRepository
}

// NewMicrosoftValidator はMicrosoftValidatorを生成する。
func NewMicrosoftValidator(subs repository.WebhookSubscriptionRepository) *MicrosoftValidator {
	return &MicrosoftValidator{subs: subs}
}

// Provider は担当プロバイダーを返す。
func (v *MicrosoftValidator) Provider() model.ProviderKey {
	return model.ProviderMicrosoft
}

// Validate はエンドポイント検証チャレンジへの応答と、通知バッチの検証を行う。
// チャレンジはvalidationTokenクエリパラメーターで届き、同じトークンを
// text/plainでエコーする必要がある。
func (v *MicrosoftValidator) Validate(ctx context.Context, r *Request) *Result {
	if token := r.Query.Get("validationToken"); token != "" {
		return &Result{
			Valid:                true,
			IsChallenge:          true,
			ChallengeResponse:    []byte(token),
			ChallengeContentType: "text/plain",
		}
	}

	var envelope microsoftEnvelope
	if err := json.Unmarshal(r.Body, &envelope); err != nil {
		return invalid(ReasonMalformed, "malformed notification body: "+err.Error())
	}
	if len(envelope.Value) == 0 {
		return invalid(ReasonMalformed, "empty notification batch")
	}

	notifications := make([]model.WebhookNotification, 0, len(envelope.Value))
	for i, n := range envelope.Value {
		if n.SubscriptionID == "" {
			return invalid(ReasonMissingField, fmt.Sprintf("notification %d: missing subscription id", i))
		}
		if !model.IsValidChangeType(model.ChangeType(n.ChangeType)) {
			return invalid(ReasonUnexpectedEvent, fmt.Sprintf("notification %d: unexpected change type %q", i, n.ChangeType))
		}

		sub, err := v.subs.FindBySubscriptionID(ctx, model.ProviderMicrosoft, n.SubscriptionID)
		if err != nil {
			return invalid(ReasonLookupFailed, "subscription lookup failed: "+err.Error())
		}
		if sub == nil {
			return invalid(ReasonUnknownSubscription, fmt.Sprintf("notification %d: unknown subscription %s", i, n.SubscriptionID))
		}
		if !secureCompare(n.ClientState, sub.Secret) {
			return invalid(ReasonTokenMismatch, fmt.Sprintf("notification %d: client state mismatch", i))
		}

		notifications = append(notifications, model.WebhookNotification{
			Provider:       model.ProviderMicrosoft,
			UserID:         sub.UserID,
			CalendarID:     sub.CalendarID,
			SubscriptionID: sub.SubscriptionID,
			ChangeType:     model.ChangeType(n.ChangeType),
			ReceivedAt:     r.ReceivedAt,
		})
	}
	return &Result{Valid: true, Notifications: notifications}
}
