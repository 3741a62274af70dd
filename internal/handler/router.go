package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/meetsync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// Webhook取り込み
	WebhookHandler *WebhookHandler

	// カレンダー選択・同期
	CalendarService CalendarServiceInterface

	// 代替時間提案
	SuggestionEngine SuggestionEngineInterface
	BusyFetcher      BusyFetcher

	// タイムゾーン
	TimezoneHandler *TimezoneHandler

	// Prometheusメトリクス
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging
//
// Webhook取り込みルート（/webhooks/*）は内部APIと同じチェーンを通る。
// 拒否理由がレスポンスへ漏れないことはハンドラー側で保証する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	calendarHandler := NewCalendarHandler(deps.CalendarService)
	suggestionHandler := NewSuggestionHandler(deps.SuggestionEngine, deps.BusyFetcher, deps.Logger)

	// --- プロバイダーからのプッシュ通知 ---

	r.Post("/webhooks/{provider}", deps.WebhookHandler.Receive)

	// --- 運用エンドポイント ---

	r.Get("/health", deps.WebhookHandler.Health)
	r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)

	// --- 内部API ---

	r.Route("/api", func(r chi.Router) {
		r.Route("/providers/{provider}", func(r chi.Router) {
			r.Get("/calendars", calendarHandler.ListCalendars)
			r.Put("/selections", calendarHandler.UpdateSelections)
			r.Post("/selections/auto", calendarHandler.AutoSelect)
			r.Post("/sync", calendarHandler.Sync)
			r.Post("/channels/ensure", calendarHandler.EnsureChannels)
		})

		r.Route("/suggestions", func(r chi.Router) {
			r.Post("/", suggestionHandler.Suggest)
			r.Post("/bulk", suggestionHandler.SuggestBulk)
		})

		r.Route("/timezone", func(r chi.Router) {
			r.Post("/convert", deps.TimezoneHandler.Convert)
			r.Get("/info", deps.TimezoneHandler.ZoneInfo)
			r.Post("/detect", deps.TimezoneHandler.Detect)
			r.Post("/recurrence", deps.TimezoneHandler.Recurrence)
		})
	})

	return r
}
