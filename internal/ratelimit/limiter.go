// Package ratelimit はプロバイダーごとのスライディングウィンドウレート制限を提供する。
// 共有カウンターストアを唯一の正とし、ストア障害時はインプロセスの
// 近似リミッターにフェイルオープンする。
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
	"github.com/hitoshi/meetsync/internal/repository"
)

// Decision はレート制限チェックの結果を表す。
type Decision struct {
	Allowed   bool
	Reason    string           // 拒否時のみ。超過したウィンドウ名を含む
	Window    model.RateWindow // 超過したウィンドウ種別
	ResetAt   time.Time        // 超過ウィンドウの次回リセット時刻
	Remaining int              // 全ウィンドウの最小残余呼び出し数
}

// Limiter はプロバイダーごとの呼び出しレートを制御する。
// CheckLimitとRecordCallはいずれもリミッターインフラの障害で
// 呼び出し元をブロックしない（フェイルオープン）。
type Limiter struct {
	counters repository.CounterRepository
	configs  map[model.ProviderKey]model.ProviderConfig
	fallback *FallbackLimiter
	logger   *slog.Logger
}

// NewLimiter はLimiterを生成する。
// configsがnilの場合はデフォルトのプロバイダー設定を使用する。
func NewLimiter(counters repository.CounterRepository, configs map[model.ProviderKey]model.ProviderConfig, logger *slog.Logger) *Limiter {
	if configs == nil {
		configs = model.DefaultProviderConfigs()
	}
	return &Limiter{
		counters: counters,
		configs:  configs,
		fallback: NewFallbackLimiter(configs),
		logger:   logger,
	}
}

// windowLimit はウィンドウ種別に対応する上限値を返す。
func windowLimit(cfg model.ProviderConfig, window model.RateWindow) int {
	switch window {
	case model.WindowSecond:
		return cfg.RequestsPerSecond
	case model.WindowMinute:
		return cfg.RequestsPerMinute
	case model.WindowDay:
		return cfg.RequestsPerDay
	default:
		return 0
	}
}

// CheckLimit はプロバイダーの秒/分/日ウィンドウと、userIDが指定された場合は
// ユーザー日次クォータを確認する。最初に上限に達しているウィンドウを返し、
// すべて余裕がある場合は全ウィンドウの最小残余を返す。
// カウンターストアが参照できないウィンドウはインプロセス近似で判定する。
func (l *Limiter) CheckLimit(ctx context.Context, provider model.ProviderKey, userID string) *Decision {
	cfg, ok := l.configs[provider]
	if !ok {
		return &Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("unknown provider: %s", provider),
		}
	}

	now := time.Now()
	minRemaining := -1

	for _, window := range []model.RateWindow{model.WindowSecond, model.WindowMinute, model.WindowDay} {
		limit := windowLimit(cfg, window)
		if limit <= 0 {
			continue
		}

		count, err := l.counters.WindowCount(ctx, provider, window, "", now)
		if err != nil {
			// フェイルオープン: ストア障害時はインプロセス近似にフォールバック
			l.logger.Warn("counter store unavailable, using in-process fallback",
				slog.String("provider", string(provider)),
				slog.String("window", string(window)),
				slog.String("error", err.Error()),
			)
			count = l.fallback.WindowCount(provider, window, "", now)
		}

		if count >= limit {
			return &Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("provider %s %s window at capacity (%d/%d)", provider, window, count, limit),
				Window:  window,
				ResetAt: windowResetAt(window, now),
			}
		}
		if remaining := limit - count; minRemaining < 0 || remaining < minRemaining {
			minRemaining = remaining
		}
	}

	// ユーザー日次クォータ
	if userID != "" && cfg.PerUserDailyQuota > 0 {
		count, err := l.counters.WindowCount(ctx, provider, model.WindowDay, userID, now)
		if err != nil {
			l.logger.Warn("counter store unavailable for user quota, using in-process fallback",
				slog.String("provider", string(provider)),
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			count = l.fallback.WindowCount(provider, model.WindowDay, userID, now)
		}

		if count >= cfg.PerUserDailyQuota {
			return &Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("user daily quota for provider %s at capacity (%d/%d)", provider, count, cfg.PerUserDailyQuota),
				Window:  model.WindowDay,
				ResetAt: windowResetAt(model.WindowDay, now),
			}
		}
		if remaining := cfg.PerUserDailyQuota - count; minRemaining < 0 || remaining < minRemaining {
			minRemaining = remaining
		}
	}

	if minRemaining < 0 {
		minRemaining = 0
	}
	return &Decision{Allowed: true, Remaining: minRemaining}
}

// RecordCall は該当する全ウィンドウのカウンターをインクリメントする。
// 共有ストアへの書き込みと並行して、ストア障害時の近似用に
// インプロセスカウンターにも常に記録する。
// ストアのエラーはログに記録するのみで、呼び出し元には伝播させない。
func (l *Limiter) RecordCall(ctx context.Context, provider model.ProviderKey, userID, endpoint string) {
	now := time.Now()

	l.fallback.Record(provider, userID, now)

	if err := l.counters.IncrementCalls(ctx, provider, userID, now); err != nil {
		l.logger.Warn("failed to record call in counter store",
			slog.String("provider", string(provider)),
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
	}
}

// BurstLimit はプロバイダーの1ティックあたり最大処理件数を返す。
// 未知のプロバイダーは1を返す。
func (l *Limiter) BurstLimit(provider model.ProviderKey) int {
	if cfg, ok := l.configs[provider]; ok && cfg.BurstLimit > 0 {
		return cfg.BurstLimit
	}
	return 1
}

// windowResetAt はウィンドウの次回リセット時刻を返す。
func windowResetAt(window model.RateWindow, now time.Time) time.Time {
	d := window.Duration()
	return now.UTC().Truncate(d).Add(d)
}
