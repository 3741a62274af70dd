package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/meetsync/internal/middleware"
	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/webhook"
)

// maxWebhookBodyBytes はWebhookボディの最大サイズ。
const maxWebhookBodyBytes = 1 << 20

// NotificationSink は検証済みWebhook通知の受け口。
type NotificationSink interface {
	// HandleNotification は検証済み通知に対する同期をキューイングする。
	HandleNotification(n model.WebhookNotification) error
}

// WebhookHandler はプロバイダーからのプッシュ通知を受信する。
type WebhookHandler struct {
	registry *webhook.Registry
	monitor  *webhook.Monitor
	sink     NotificationSink
	logger   *slog.Logger
	now      func() time.Time
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(registry *webhook.Registry, monitor *webhook.Monitor, sink NotificationSink, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		registry: registry,
		monitor:  monitor,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// Receive はWebhookを検証し、有効な通知を同期キューへ渡す。
// 拒否理由はログとメトリクスにのみ記録し、レスポンスには含めない。
// POST /webhooks/:provider
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	receivedAt := h.now()
	provider := model.ProviderKey(chi.URLParam(r, "provider"))

	if !model.IsValidProvider(provider) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownProviderError(string(provider)))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewWebhookInvalidError())
		return
	}

	req := &webhook.Request{
		Headers:    r.Header,
		Query:      r.URL.Query(),
		Body:       body,
		ReceivedAt: receivedAt,
	}

	result := h.registry.Validate(r.Context(), provider, req)
	h.monitor.Record(provider, result, time.Since(receivedAt), receivedAt)

	if result.IsChallenge {
		w.Header().Set("Content-Type", result.ChallengeContentType)
		w.WriteHeader(http.StatusOK)
		w.Write(result.ChallengeResponse)
		return
	}

	if !result.Valid {
		h.logger.Warn("webhook rejected",
			slog.String("provider", string(provider)),
			slog.String("code", string(result.Code)),
			slog.String("reason", result.Reason),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewWebhookInvalidError())
		return
	}

	for _, n := range result.Notifications {
		if err := h.sink.HandleNotification(n); err != nil {
			// 通知1件の取りこぼしは受信自体の失敗にしない。
			// プロバイダーによる再送ストームを避けるため200を返す
			h.logger.Error("failed to queue notification sync",
				slog.String("provider", string(provider)),
				slog.String("calendar_id", n.CalendarID),
				slog.String("error", err.Error()),
			)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// Health はプロバイダーごとのWebhook健全性を返す。
// GET /health
func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	statuses := h.monitor.Health()

	// 1つでもunhealthyなプロバイダーがあれば503を返す
	statusCode := http.StatusOK
	for _, s := range statuses {
		if s.Status == webhook.HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"providers": statuses,
	})
}
