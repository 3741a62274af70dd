package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hitoshi/meetsync/internal/model"
)

// DispatchExecutor はキューリクエストをアダプター呼び出しへ変換する。
// ディスパッチャーのExecutorとして登録され、レート制限を通過した
// リクエストだけがここへ到達する。
type DispatchExecutor struct {
	registry *Registry
	accounts AccountSource
	logger   *slog.Logger
}

// NewDispatchExecutor はDispatchExecutorを生成する。
func NewDispatchExecutor(registry *Registry, accounts AccountSource, logger *slog.Logger) *DispatchExecutor {
	return &DispatchExecutor{registry: registry, accounts: accounts, logger: logger}
}

// Execute はリクエストのEndpointをアダプター操作として実行し、
// 結果をJSONで返す。未知の操作やデコード失敗は即時エラーとする。
func (e *DispatchExecutor) Execute(ctx context.Context, req *model.QueuedRequest) ([]byte, error) {
	adapter, err := e.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	account, err := e.accounts.AccountFor(ctx, req.Provider, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve account for %s: %w", req.Provider, err)
	}

	e.logger.Debug("executing provider request",
		slog.String("request_id", req.ID),
		slog.String("provider", string(req.Provider)),
		slog.String("operation", req.Endpoint))

	switch Operation(req.Endpoint) {
	case OpListCalendars:
		calendars, err := adapter.ListCalendars(ctx, account)
		if err != nil {
			return nil, err
		}
		return json.Marshal(calendars)

	case OpFetchBusy:
		var args FetchBusyArgs
		if err := json.Unmarshal(req.Payload, &args); err != nil {
			return nil, fmt.Errorf("decode freebusy args: %w", err)
		}
		intervals, err := adapter.FetchBusyIntervals(ctx, account, args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(intervals)

	case OpOpenChannel:
		var args OpenChannelArgs
		if err := json.Unmarshal(req.Payload, &args); err != nil {
			return nil, fmt.Errorf("decode channel args: %w", err)
		}
		sub, err := adapter.OpenChannel(ctx, account, args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sub)

	case OpSyncCalendar:
		var args SyncCalendarArgs
		if err := json.Unmarshal(req.Payload, &args); err != nil {
			return nil, fmt.Errorf("decode sync args: %w", err)
		}
		result, err := adapter.SyncCalendar(ctx, account, args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	default:
		return nil, fmt.Errorf("unknown operation: %s", req.Endpoint)
	}
}
