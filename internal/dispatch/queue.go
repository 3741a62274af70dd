// Package dispatch はプロバイダーごとのアウトバウンド呼び出しキューを提供する。
// 呼び出し元はエンキューして完了を非同期に待機し、プロバイダーごとの
// ティックループがレート制限を確認しながら実行する。
package dispatch

import (
	"sync"

	"github.com/hitoshi/meetsync/internal/model"
)

// Handle はキュー投入されたリクエストの完了待機用ハンドル。
// 結果は成功・失敗を問わず正確に1回だけ配信される。
type Handle struct {
	ID string

	once   sync.Once
	done   chan struct{}
	result model.RequestResult
}

// newHandle はHandleを生成する。
func newHandle(id string) *Handle {
	return &Handle{
		ID:   id,
		done: make(chan struct{}),
	}
}

// Done はリクエストが終端状態に達したときにクローズされるチャネルを返す。
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result は最終結果を返す。Doneがクローズされる前の呼び出しは
// ゼロ値を返すため、必ずDoneを待ってから参照すること。
func (h *Handle) Result() model.RequestResult {
	select {
	case <-h.done:
		return h.result
	default:
		return model.RequestResult{}
	}
}

// resolve は結果を設定してDoneをクローズする。2回目以降の呼び出しは無視される。
func (h *Handle) resolve(result model.RequestResult) {
	h.once.Do(func() {
		h.result = result
		close(h.done)
	})
}

// queueItem はキュー内の1リクエストとそのハンドルを束ねる。
type queueItem struct {
	req    *model.QueuedRequest
	handle *Handle
}

// providerQueue は1プロバイダーの順序付きキュー。
// 優先度昇順、同一優先度内はFIFOを維持する。
// ミューテーションはエンキューと自プロバイダーのティックのみが行う。
type providerQueue struct {
	mu    sync.Mutex
	items []*queueItem
}

// insert は優先度順を維持してアイテムを挿入する。
// 同一優先度の既存アイテムの後ろに置くことでFIFOを保つ。
func (q *providerQueue) insert(item *queueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pos := len(q.items)
	for i, existing := range q.items {
		if existing.req.Priority > item.req.Priority {
			pos = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = item
}

// pop は先頭アイテムを取り出す。空の場合はnilを返す。
func (q *providerQueue) pop() *queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

// putBack はリミッター拒否されたアイテムを先頭に戻す。順序を保存する。
func (q *providerQueue) putBack(item *queueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append([]*queueItem{item}, q.items...)
}

// pushTail はリトライ対象アイテムを末尾に追加する。
// 優先度順挿入ではなく末尾固定とすることで、同一アイテムの連続リトライが
// 他のリクエストを飢餓させない。
func (q *providerQueue) pushTail(item *queueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
}

// len はキューの現在長を返す。
func (q *providerQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
