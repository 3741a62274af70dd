package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/meetsync/internal/model"
)

// FallbackLimiter は共有カウンターストア障害時のインプロセス近似リミッター。
// 秒ウィンドウはトークンバケット、分/日ウィンドウはローカル固定ウィンドウ
// カウンターで近似する。複数インスタンス間のカウント共有はできないため、
// あくまでドキュメント化された縮退動作であり、代替ではない。
type FallbackLimiter struct {
	configs map[model.ProviderKey]model.ProviderConfig

	mu       sync.Mutex
	buckets  map[string]*localWindow
	limiters map[model.ProviderKey]*rate.Limiter
}

// localWindow はローカル固定ウィンドウカウンター。
type localWindow struct {
	windowStart time.Time
	used        int
}

// NewFallbackLimiter はFallbackLimiterを生成する。
func NewFallbackLimiter(configs map[model.ProviderKey]model.ProviderConfig) *FallbackLimiter {
	f := &FallbackLimiter{
		configs:  configs,
		buckets:  make(map[string]*localWindow),
		limiters: make(map[model.ProviderKey]*rate.Limiter),
	}
	for key, cfg := range configs {
		// バケット容量を秒間上限と一致させ、秒ウィンドウを近似する
		burst := cfg.RequestsPerSecond
		if burst <= 0 {
			burst = 1
		}
		f.limiters[key] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return f
}

// bucketKey はローカルカウンターのキーを生成する。
func bucketKey(provider model.ProviderKey, window model.RateWindow, userID string) string {
	return fmt.Sprintf("%s:%s:%s", provider, window, userID)
}

// Record は呼び出しをローカルカウンターに記録する。
// 秒ウィンドウのトークンバケットからも1トークン消費する。
func (f *FallbackLimiter) Record(provider model.ProviderKey, userID string, now time.Time) {
	if lim, ok := f.limiters[provider]; ok {
		// トークンが無くても記録は妨げない
		_ = lim.AllowN(now, 1)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	keys := []string{
		bucketKey(provider, model.WindowMinute, ""),
		bucketKey(provider, model.WindowDay, ""),
	}
	if userID != "" {
		keys = append(keys, bucketKey(provider, model.WindowDay, userID))
	}
	windows := []model.RateWindow{model.WindowMinute, model.WindowDay, model.WindowDay}

	for i, key := range keys {
		f.increment(key, windows[i], now)
	}
}

// increment はローカル固定ウィンドウカウンターをインクリメントする。
// ウィンドウ境界を越えていた場合はカウントをリセットする。
func (f *FallbackLimiter) increment(key string, window model.RateWindow, now time.Time) {
	start := now.UTC().Truncate(window.Duration())
	w := f.buckets[key]
	if w == nil {
		w = &localWindow{windowStart: start}
		f.buckets[key] = w
	}
	if !w.windowStart.Equal(start) {
		w.windowStart = start
		w.used = 0
	}
	w.used++
}

// WindowCount は指定ウィンドウのローカル近似カウントを返す。
// 秒ウィンドウはトークンバケットの残量から逆算する。
func (f *FallbackLimiter) WindowCount(provider model.ProviderKey, window model.RateWindow, userID string, now time.Time) int {
	if window == model.WindowSecond {
		lim, ok := f.limiters[provider]
		if !ok {
			return 0
		}
		cfg := f.configs[provider]
		remaining := int(lim.TokensAt(now))
		if remaining < 0 {
			remaining = 0
		}
		used := cfg.RequestsPerSecond - remaining
		if used < 0 {
			used = 0
		}
		return used
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	w := f.buckets[bucketKey(provider, window, userID)]
	if w == nil {
		return 0
	}
	start := now.UTC().Truncate(window.Duration())
	if !w.windowStart.Equal(start) {
		return 0
	}
	return w.used
}
