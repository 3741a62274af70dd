package webhook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/meetsync/internal/metrics"
	"github.com/hitoshi/meetsync/internal/model"
)

// HealthStatus はプロバイダーごとのWebhook取り込みの健全性を表す。
type HealthStatus string

const (
	// HealthStatusHealthy は検証失敗が連続していない状態。
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded は検証失敗が一定回数連続した状態。
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusUnhealthy は検証失敗が閾値を超えて連続した状態。
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const (
	degradedThreshold  = 3
	unhealthyThreshold = 10
)

// ProviderHealth は1プロバイダーの取り込み状況のスナップショット。
type ProviderHealth struct {
	Provider            model.ProviderKey `json:"provider"`
	Status              HealthStatus      `json:"status"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastReceivedAt      time.Time         `json:"last_received_at,omitzero"`
	LastValidAt         time.Time         `json:"last_valid_at,omitzero"`
}

// Monitor はWebhook検証の結果を集計し、プロバイダーごとの健全性を判定する。
// メトリクスへの記録と、状態遷移時のアラートログを担う。
type Monitor struct {
	collector metrics.MetricsCollector
	logger    *slog.Logger

	mu     sync.Mutex
	states map[model.ProviderKey]*providerState
}

type providerState struct {
	consecutiveFailures int
	lastReceivedAt      time.Time
	lastValidAt         time.Time
	status              HealthStatus
}

// NewMonitor はMonitorを生成する。
func NewMonitor(collector metrics.MetricsCollector, logger *slog.Logger) *Monitor {
	states := make(map[model.ProviderKey]*providerState, len(model.AllProviders))
	for _, p := range model.AllProviders {
		states[p] = &providerState{status: HealthStatusHealthy}
	}
	return &Monitor{collector: collector, logger: logger, states: states}
}

// Record は1件のWebhook検証結果を記録する。
// 検証失敗の連続回数を更新し、健全性が遷移した場合はログを出す。
func (m *Monitor) Record(provider model.ProviderKey, result *Result, latency time.Duration, receivedAt time.Time) {
	m.collector.RecordWebhookReceived(string(provider))
	m.collector.RecordWebhookLatency(string(provider), latency)

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[provider]
	if !ok {
		return
	}
	state.lastReceivedAt = receivedAt

	if result.Valid {
		m.collector.RecordWebhookValid(string(provider))
		state.consecutiveFailures = 0
		state.lastValidAt = receivedAt
	} else {
		// ラベルには有界な分類コードのみを使う。自由形式のReasonは
		// 受信者が制御できる文字列を含むため時系列を無限に増やしてしまう。
		m.collector.RecordWebhookInvalid(string(provider), string(result.Code))
		state.consecutiveFailures++
	}

	next := statusFor(state.consecutiveFailures)
	if next != state.status {
		level := slog.LevelWarn
		if next == HealthStatusUnhealthy {
			level = slog.LevelError
		}
		if next == HealthStatusHealthy {
			level = slog.LevelInfo
		}
		m.logger.Log(context.Background(), level, "webhook health status changed",
			slog.String("provider", string(provider)),
			slog.String("from", string(state.status)),
			slog.String("to", string(next)),
			slog.Int("consecutive_failures", state.consecutiveFailures))
		state.status = next
	}
}

// Health は全プロバイダーの健全性スナップショットを返す。
func (m *Monitor) Health() []ProviderHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make([]ProviderHealth, 0, len(model.AllProviders))
	for _, p := range model.AllProviders {
		state := m.states[p]
		snapshot = append(snapshot, ProviderHealth{
			Provider:            p,
			Status:              state.status,
			ConsecutiveFailures: state.consecutiveFailures,
			LastReceivedAt:      state.lastReceivedAt,
			LastValidAt:         state.lastValidAt,
		})
	}
	return snapshot
}

// statusFor は連続失敗回数から健全性を導出する。
func statusFor(consecutiveFailures int) HealthStatus {
	switch {
	case consecutiveFailures >= unhealthyThreshold:
		return HealthStatusUnhealthy
	case consecutiveFailures >= degradedThreshold:
		return HealthStatusDegraded
	default:
		return HealthStatusHealthy
	}
}
