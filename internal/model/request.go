package model

import "time"

// RequestState はキュー投入されたリクエストの状態を表す。
// 状態遷移: pending → executing → {completed | retrying | failed}
// retrying は再度 pending としてキュー末尾に戻る。
type RequestState string

const (
	// RequestStatePending は実行待ちの状態。
	RequestStatePending RequestState = "pending"
	// RequestStateExecuting は実行中の状態。
	RequestStateExecuting RequestState = "executing"
	// RequestStateCompleted は正常完了した終端状態。
	RequestStateCompleted RequestState = "completed"
	// RequestStateRetrying はリトライ待ちの状態。キュー末尾に再投入される。
	RequestStateRetrying RequestState = "retrying"
	// RequestStateFailed はリトライ上限に達した終端状態。
	RequestStateFailed RequestState = "failed"
)

// IsTerminal は終端状態（completed/failed）かを判定する。
func (s RequestState) IsTerminal() bool {
	return s == RequestStateCompleted || s == RequestStateFailed
}

// QueuedRequest はプロバイダーへの遅延実行リクエストを表す。
// プロバイダーごとのキューが排他的に所有し、成功またはリトライ上限到達で取り除かれる。
type QueuedRequest struct {
	ID         string
	Provider   ProviderKey
	UserID     string // 省略可。ユーザー日次クォータの対象
	Endpoint   string // 呼び出し先の論理名（メトリクスとログ用）
	Payload    []byte
	Priority   int // 小さいほど先に実行される
	State      RequestState
	RetryCount int
	MaxRetries int
	EnqueuedAt time.Time
}

// DefaultMaxRetries はリクエスト実行失敗時のリトライ上限。
const DefaultMaxRetries = 3

// RequestResult はキューリクエストの最終結果を表す。
// Handleを通じて呼び出し元に1回だけ配信される。
type RequestResult struct {
	RequestID string
	State     RequestState
	Body      []byte
	Err       error
}
