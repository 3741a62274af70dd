package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/ratelimit"
)

// Executor はプロバイダーへの実際の呼び出しを実行するインターフェース。
type Executor interface {
	// Execute は1リクエストをプロバイダーに送信し、レスポンスボディを返す。
	Execute(ctx context.Context, req *model.QueuedRequest) ([]byte, error)
}

// MetricsRecorder はディスパッチ処理のメトリクスを記録するインターフェース。
// metrics.Collectorが実装する。
type MetricsRecorder interface {
	RecordDispatchExecuted(provider string)
	RecordDispatchThrottled(provider string)
	RecordDispatchFailed(provider string)
	SetQueueDepth(provider string, depth int)
}

// Dispatcher はプロバイダーごとの独立したティックループでキューを処理する。
// 1ティックあたり最大burst_limit件を、レート制限を確認しながら実行する。
// リミッター拒否されたアイテムはキュー先頭に戻してそのティックの処理を打ち切り、
// 実行失敗したアイテムはリトライ上限まで末尾に再投入する。
type Dispatcher struct {
	limiter    *ratelimit.Limiter
	executor   Executor
	logger     *slog.Logger
	tick       time.Duration
	maxRetries int
	metrics    MetricsRecorder

	queues map[model.ProviderKey]*providerQueue
}

// NewDispatcher はDispatcherを生成する。
// tickが0以下の場合はデフォルトの1秒、maxRetriesが0以下の場合は3を使用する。
// metricsはnil可（記録なし）。
func NewDispatcher(limiter *ratelimit.Limiter, executor Executor, logger *slog.Logger, tick time.Duration, maxRetries int, metrics MetricsRecorder) *Dispatcher {
	if tick <= 0 {
		tick = 1 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}

	queues := make(map[model.ProviderKey]*providerQueue, len(model.AllProviders))
	for _, p := range model.AllProviders {
		queues[p] = &providerQueue{}
	}

	return &Dispatcher{
		limiter:    limiter,
		executor:   executor,
		logger:     logger,
		tick:       tick,
		maxRetries: maxRetries,
		metrics:    metrics,
		queues:     queues,
	}
}

// Enqueue はリクエストをプロバイダーのキューに投入し、完了待機用ハンドルを返す。
// 優先度は小さいほど先に実行され、同一優先度内はFIFO。
// ティックループをブロックすることはない。
func (d *Dispatcher) Enqueue(provider model.ProviderKey, userID, endpoint string, payload []byte, priority int) (*Handle, error) {
	queue, ok := d.queues[provider]
	if !ok {
		return nil, model.NewUnknownProviderError(string(provider))
	}

	req := &model.QueuedRequest{
		ID:         uuid.NewString(),
		Provider:   provider,
		UserID:     userID,
		Endpoint:   endpoint,
		Payload:    payload,
		Priority:   priority,
		State:      model.RequestStatePending,
		MaxRetries: d.maxRetries,
		EnqueuedAt: time.Now(),
	}
	handle := newHandle(req.ID)
	queue.insert(&queueItem{req: req, handle: handle})

	d.logger.Debug("request enqueued",
		slog.String("request_id", req.ID),
		slog.String("provider", string(provider)),
		slog.String("endpoint", endpoint),
		slog.Int("priority", priority),
	)

	return handle, nil
}

// QueueLength は指定プロバイダーのキュー長を返す。メトリクスとテスト用。
func (d *Dispatcher) QueueLength(provider model.ProviderKey) int {
	if queue, ok := d.queues[provider]; ok {
		return queue.len()
	}
	return 0
}

// Start は全プロバイダーのティックループを起動し、コンテキストが
// キャンセルされるまでブロックする。
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher starting",
		slog.Duration("tick", d.tick),
		slog.Int("max_retries", d.maxRetries),
	)

	done := make(chan struct{})
	for provider := range d.queues {
		go func(p model.ProviderKey) {
			d.runLoop(ctx, p)
			done <- struct{}{}
		}(provider)
	}

	for range d.queues {
		<-done
	}
	d.logger.Info("dispatcher stopped")
}

// runLoop は1プロバイダーのティックループを実行する。
func (d *Dispatcher) runLoop(ctx context.Context, provider model.ProviderKey) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunTick(ctx, provider)
		}
	}
}

// RunTick は1プロバイダーの1ティック分を処理する。
// burst_limit件を上限とし、リミッター拒否が出た時点で打ち切る。
func (d *Dispatcher) RunTick(ctx context.Context, provider model.ProviderKey) {
	queue := d.queues[provider]
	burst := d.limiter.BurstLimit(provider)

	// ティック開始時点の件数を上限とし、このティック中に末尾へ再投入された
	// リトライアイテムを同一ティックで再実行しない
	n := queue.len()
	if n > burst {
		n = burst
	}

	if d.metrics != nil {
		defer func() { d.metrics.SetQueueDepth(string(provider), queue.len()) }()
	}

	for i := 0; i < n; i++ {
		item := queue.pop()
		if item == nil {
			return
		}

		decision := d.limiter.CheckLimit(ctx, provider, item.req.UserID)
		if !decision.Allowed {
			// 順序を保存して先頭に戻し、このティックの処理を終了する
			queue.putBack(item)
			if d.metrics != nil {
				d.metrics.RecordDispatchThrottled(string(provider))
			}
			d.logger.Debug("tick halted by rate limit",
				slog.String("provider", string(provider)),
				slog.String("reason", decision.Reason),
			)
			return
		}

		d.execute(ctx, queue, item)
	}
}

// execute は1アイテムを実行し、結果に応じて状態遷移させる。
// 状態遷移: pending → executing → {completed | retrying | failed}
func (d *Dispatcher) execute(ctx context.Context, queue *providerQueue, item *queueItem) {
	req := item.req
	req.State = model.RequestStateExecuting

	// プロバイダー呼び出しの成否に関わらず1回の呼び出しとして記録する
	d.limiter.RecordCall(ctx, req.Provider, req.UserID, req.Endpoint)

	body, err := d.executor.Execute(ctx, req)
	if d.metrics != nil {
		d.metrics.RecordDispatchExecuted(string(req.Provider))
	}
	if err == nil {
		req.State = model.RequestStateCompleted
		item.handle.resolve(model.RequestResult{
			RequestID: req.ID,
			State:     model.RequestStateCompleted,
			Body:      body,
		})
		return
	}

	req.RetryCount++
	if req.RetryCount > req.MaxRetries {
		req.State = model.RequestStateFailed
		if d.metrics != nil {
			d.metrics.RecordDispatchFailed(string(req.Provider))
		}
		item.handle.resolve(model.RequestResult{
			RequestID: req.ID,
			State:     model.RequestStateFailed,
			Err:       model.NewRequestExhaustedError(req.ID, req.MaxRetries),
		})
		d.logger.Error("request failed permanently",
			slog.String("request_id", req.ID),
			slog.String("provider", string(req.Provider)),
			slog.String("endpoint", req.Endpoint),
			slog.Int("retries", req.MaxRetries),
			slog.String("error", err.Error()),
		)
		return
	}

	// リトライ: 末尾に再投入し、次ティック以降に再実行する
	req.State = model.RequestStateRetrying
	queue.pushTail(item)

	d.logger.Warn("request execution failed, retrying",
		slog.String("request_id", req.ID),
		slog.String("provider", string(req.Provider)),
		slog.Int("retry_count", req.RetryCount),
		slog.String("error", err.Error()),
	)
}
