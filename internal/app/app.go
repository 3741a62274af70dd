// Package app はアプリケーションの起動とワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/meetsync/internal/config"
	"github.com/hitoshi/meetsync/internal/database"
	"github.com/hitoshi/meetsync/internal/dispatch"
	"github.com/hitoshi/meetsync/internal/handler"
	"github.com/hitoshi/meetsync/internal/logger"
	"github.com/hitoshi/meetsync/internal/metrics"
	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/orchestrator"
	"github.com/hitoshi/meetsync/internal/provider"
	caldavadapter "github.com/hitoshi/meetsync/internal/provider/caldav"
	googleadapter "github.com/hitoshi/meetsync/internal/provider/google"
	restadapter "github.com/hitoshi/meetsync/internal/provider/rest"
	"github.com/hitoshi/meetsync/internal/ratelimit"
	"github.com/hitoshi/meetsync/internal/repository"
	"github.com/hitoshi/meetsync/internal/security"
	"github.com/hitoshi/meetsync/internal/suggestion"
	"github.com/hitoshi/meetsync/internal/timezone"
	"github.com/hitoshi/meetsync/internal/webhook"
)

// channelTTL はプロバイダーへ依頼するWebhookチャンネルの有効期間。
// プロバイダー側でさらに短縮される場合がある。
const channelTTL = 7 * 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// buildDispatch はレート制限付きディスパッチャーとその依存関係を構築する。
// serveとworkerの両モードで同じ構成を使う。collectorはnil可。
func buildDispatch(cfg *config.Config, db *sql.DB, collector *metrics.Collector, log *slog.Logger) (*dispatch.Dispatcher, repository.WebhookSubscriptionRepository, repository.CalendarSelectionRepository, repository.CounterRepository) {
	counterRepo := repository.NewPostgresCounterRepo(db)
	selectionRepo := repository.NewPostgresSelectionRepo(db)
	subscriptionRepo := repository.NewPostgresWebhookSubscriptionRepo(db)

	ssrfGuard := security.NewSSRFGuard()
	safeClient := ssrfGuard.NewSafeClient(30 * time.Second)

	registry := provider.NewRegistry(
		googleadapter.NewAdapter(cfg.GoogleClientID, cfg.GoogleClientSecret, channelTTL, log),
		restadapter.NewAdapter(model.ProviderMicrosoft, cfg.MicrosoftEndpoint, safeClient, channelTTL, log),
		restadapter.NewAdapter(model.ProviderZoom, cfg.ZoomEndpoint, safeClient, channelTTL, log),
		caldavadapter.NewAdapter(cfg.CalDAVEndpoint, safeClient, channelTTL, log),
	)

	accounts := provider.NewStaticAccountSource()
	// ブリッジ系プロバイダーはサービス全体で1つのBearerトークンを使う
	if cfg.MicrosoftAPIToken != "" {
		accounts.RegisterDefault(model.ProviderMicrosoft, &provider.Account{APIToken: cfg.MicrosoftAPIToken})
	}
	if cfg.ZoomAPIToken != "" {
		accounts.RegisterDefault(model.ProviderZoom, &provider.Account{APIToken: cfg.ZoomAPIToken})
	}
	executor := provider.NewDispatchExecutor(registry, accounts, log)

	limiter := ratelimit.NewLimiter(counterRepo, model.DefaultProviderConfigs(), log)

	var recorder dispatch.MetricsRecorder
	if collector != nil {
		recorder = collector
	}
	dispatcher := dispatch.NewDispatcher(limiter, executor, log, cfg.DispatchTickInterval, cfg.DispatchMaxRetries, recorder)

	return dispatcher, subscriptionRepo, selectionRepo, counterRepo
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	log := slog.Default()

	// 2. メトリクスとディスパッチャーの初期化
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	dispatcher, subscriptionRepo, selectionRepo, _ := buildDispatch(cfg, db, collector, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Start(ctx)

	// 3. Webhook検証とモニタリングの初期化
	monitor := webhook.NewMonitor(collector, log)
	webhookRegistry := webhook.NewRegistry(
		webhook.NewGoogleValidator(subscriptionRepo),
		webhook.NewMicrosoftValidator(subscriptionRepo),
		webhook.NewZoomValidator(cfg.ZoomSecretToken, cfg.WebhookReplayWindow),
		webhook.NewCalDAVValidator(subscriptionRepo, cfg.WebhookStaleWindow),
	)

	// 4. オーケストレーターと提案エンジンの初期化
	sanitizer := security.NewNameSanitizer()
	orch := orchestrator.New(dispatcher, selectionRepo, subscriptionRepo, sanitizer, cfg.BaseURL, cfg.CalendarListTTL, log)

	normalizer := timezone.NewNormalizer()
	engine := suggestion.NewEngine(normalizer, suggestion.Defaults{
		LookAheadDays:     cfg.SuggestLookAheadDays,
		Increment:         cfg.SuggestIncrement,
		BufferMinutes:     cfg.SuggestBufferMinutes,
		MaxResults:        cfg.SuggestMaxResults,
		BusinessStartHour: cfg.BusinessHoursStart,
		BusinessEndHour:   cfg.BusinessHoursEnd,
	}, log)

	// 5. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:           log,
		WebhookHandler:   handler.NewWebhookHandler(webhookRegistry, monitor, orch, log),
		CalendarService:  orch,
		SuggestionEngine: engine,
		BusyFetcher:      orch,
		TimezoneHandler:  handler.NewTimezoneHandler(normalizer),
		MetricsHandler:   metrics.Handler(promRegistry),
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// ディスパッチャーを起動し、期限切れデータの掃除ジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	log := slog.Default()

	// 2. ディスパッチャーとリポジトリの初期化（workerはメトリクスを公開しない）
	dispatcher, subscriptionRepo, _, counterRepo := buildDispatch(cfg, db, nil, log)

	normalizer := timezone.NewNormalizer()

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("dispatch_tick", cfg.DispatchTickInterval),
		slog.Duration("sweep_interval", cfg.SubscriptionSweepInterval),
	)

	// 期限切れデータの掃除ジョブをバックグラウンドで定期実行
	go func() {
		ticker := time.NewTicker(cfg.SubscriptionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				if n, err := subscriptionRepo.DeleteExpired(ctx, now); err != nil {
					slog.Error("subscription sweep failed", slog.String("error", err.Error()))
				} else if n > 0 {
					slog.Info("expired webhook subscriptions removed", slog.Int64("count", n))
				}
				if n, err := counterRepo.DeleteExpired(ctx, now); err != nil {
					slog.Error("counter sweep failed", slog.String("error", err.Error()))
				} else if n > 0 {
					slog.Info("expired rate counters removed", slog.Int64("count", n))
				}
				if n := normalizer.EvictStale(); n > 0 {
					slog.Info("stale timezone cache entries evicted", slog.Int("count", n))
				}
			}
		}
	}()

	// ディスパッチャーをメインgoroutineで実行（ブロッキング）
	dispatcher.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
