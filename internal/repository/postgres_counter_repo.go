package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
)

// PostgresCounterRepo はPostgreSQLを使用したレート制限カウンターリポジトリ。
// ON CONFLICT ... DO UPDATEによるアトミックなupsertで、複数プロセスが
// 同一バケットを安全にインクリメントできる。
type PostgresCounterRepo struct {
	db *sql.DB
}

// NewPostgresCounterRepo はPostgresCounterRepoを生成する。
func NewPostgresCounterRepo(db *sql.DB) *PostgresCounterRepo {
	return &PostgresCounterRepo{db: db}
}

// bucketStart はウィンドウ種別に応じてバケット開始時刻を切り捨てる。
// 日次ウィンドウはUTCの日付境界で切り捨てる。
func bucketStart(window model.RateWindow, now time.Time) time.Time {
	switch window {
	case model.WindowDay:
		return now.UTC().Truncate(24 * time.Hour)
	default:
		return now.UTC().Truncate(window.Duration())
	}
}

// IncrementCalls は該当する全ウィンドウのカウンターを同一トランザクションでインクリメントする。
func (r *PostgresCounterRepo) IncrementCalls(ctx context.Context, provider model.ProviderKey, userID string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin counter tx: %w", err)
	}
	defer tx.Rollback()

	type bucket struct {
		window model.RateWindow
		user   string
	}
	buckets := []bucket{
		{model.WindowSecond, ""},
		{model.WindowMinute, ""},
		{model.WindowDay, ""},
	}
	if userID != "" {
		buckets = append(buckets, bucket{model.WindowDay, userID})
	}

	for _, b := range buckets {
		start := bucketStart(b.window, now)
		expires := start.Add(b.window.Duration())
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rate_limit_counters (provider, window_kind, window_start, user_id, call_count, expires_at)
			 VALUES ($1, $2, $3, $4, 1, $5)
			 ON CONFLICT (provider, window_kind, window_start, user_id)
			 DO UPDATE SET call_count = rate_limit_counters.call_count + 1`,
			string(provider), string(b.window), start, b.user, expires,
		)
		if err != nil {
			return fmt.Errorf("failed to increment %s counter: %w", b.window, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit counter tx: %w", err)
	}
	return nil
}

// WindowCount は指定ウィンドウの現在バケットのカウントを返す。
func (r *PostgresCounterRepo) WindowCount(ctx context.Context, provider model.ProviderKey, window model.RateWindow, userID string, now time.Time) (int, error) {
	start := bucketStart(window, now)

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT call_count FROM rate_limit_counters
		 WHERE provider = $1 AND window_kind = $2 AND window_start = $3 AND user_id = $4`,
		string(provider), string(window), start, userID,
	).Scan(&count)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read window count: %w", err)
	}

	return count, nil
}

// DeleteExpired は期限切れバケットを削除し、削除件数を返す。
func (r *PostgresCounterRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM rate_limit_counters WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired counters: %w", err)
	}
	return res.RowsAffected()
}

// compile-time interface check
var _ CounterRepository = (*PostgresCounterRepo)(nil)
