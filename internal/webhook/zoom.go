package webhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
)

// zoomValidationEvent はURL検証チャレンジのイベント名。
const zoomValidationEvent = "endpoint.url_validation"

// zoomEnvelope はZoomのWebhookボディ。
type zoomEnvelope struct {
	Event   string          `json:"event"`
	EventTS int64           `json:"event_ts"` // ミリ秒エポック
	Payload json.RawMessage `json:"payload"`
}

type zoomValidationPayload struct {
	PlainToken string `json:"plainToken"`
}

type zoomMeetingPayload struct {
	AccountID string `json:"account_id"`
	Object    struct {
		ID     string `json:"id"`
		HostID string `json:"host_id"`
	} `json:"object"`
}

// zoomChallengeResponse はURL検証チャレンジへの応答形式。
// plainTokenをシークレットでHMAC署名して返す。
type zoomChallengeResponse struct {
	PlainToken     string `json:"plainToken"`
	EncryptedToken string `json:"encryptedToken"`
}

// ZoomValidator はZoomのイベント通知を検証する。
// サブスクリプションテーブルではなくアカウント単位のシークレットトークンで
// 認証し、event_tsによる再生攻撃防止を行う。
type ZoomValidator struct {
	secretToken  string
	replayWindow time.Duration
	now          func() time.Time
}

// NewZoomValidator はZoomValidatorを生成する。
func NewZoomValidator(secretToken string, replayWindow time.Duration) *ZoomValidator {
	return &ZoomValidator{secretToken: secretToken, replayWindow: replayWindow, now: time.Now}
}

// Provider は担当プロバイダーを返す。
func (v *ZoomValidator) Provider() model.ProviderKey {
	return model.ProviderZoom
}

// Validate はAuthorizationヘッダーの定数時間比較、再生ウィンドウの確認、
// URL検証チャレンジへの応答を行う。
func (v *ZoomValidator) Validate(ctx context.Context, r *Request) *Result {
	if v.secretToken == "" {
		return invalid(ReasonUnconfigured, "zoom secret token not configured")
	}

	auth := strings.TrimPrefix(r.Headers.Get("Authorization"), "Bearer ")
	if !secureCompare(auth, v.secretToken) {
		return invalid(ReasonTokenMismatch, "authorization token mismatch")
	}

	var envelope zoomEnvelope
	if err := json.Unmarshal(r.Body, &envelope); err != nil {
		return invalid(ReasonMalformed, "malformed event body: "+err.Error())
	}

	if envelope.Event == zoomValidationEvent {
		var payload zoomValidationPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil || payload.PlainToken == "" {
			return invalid(ReasonMalformed, "malformed validation payload")
		}
		body, err := json.Marshal(zoomChallengeResponse{
			PlainToken:     payload.PlainToken,
			EncryptedToken: signHex(v.secretToken, payload.PlainToken),
		})
		if err != nil {
			return invalid(ReasonMalformed, "challenge encoding failed: "+err.Error())
		}
		return &Result{
			Valid:                true,
			IsChallenge:          true,
			ChallengeResponse:    body,
			ChallengeContentType: "application/json",
		}
	}

	eventAt := time.UnixMilli(envelope.EventTS)
	if envelope.EventTS == 0 || !withinWindow(eventAt, v.now(), v.replayWindow) {
		return invalid(ReasonStaleTimestamp, "event timestamp outside replay window")
	}

	changeType, ok := zoomChangeType(envelope.Event)
	if !ok {
		return invalid(ReasonUnexpectedEvent, "unexpected event: "+envelope.Event)
	}

	var payload zoomMeetingPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return invalid(ReasonMalformed, "malformed meeting payload: "+err.Error())
	}

	return &Result{Valid: true, Notifications: []model.WebhookNotification{{
		Provider:   model.ProviderZoom,
		UserID:     payload.Object.HostID,
		CalendarID: payload.Object.ID,
		ChangeType: changeType,
		ReceivedAt: r.ReceivedAt,
	}}}
}

// zoomChangeType はZoomのイベント名を正規化した変更種別へ対応付ける。
func zoomChangeType(event string) (model.ChangeType, bool) {
	switch event {
	case "meeting.created":
		return model.ChangeTypeCreated, true
	case "meeting.updated":
		return model.ChangeTypeUpdated, true
	case "meeting.deleted":
		return model.ChangeTypeDeleted, true
	default:
		return "", false
	}
}
