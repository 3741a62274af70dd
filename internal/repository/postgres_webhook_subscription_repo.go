package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
)

// PostgresWebhookSubscriptionRepo はPostgreSQLを使用したWebhookサブスクリプションリポジトリ。
type PostgresWebhookSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresWebhookSubscriptionRepo はPostgresWebhookSubscriptionRepoを生成する。
func NewPostgresWebhookSubscriptionRepo(db *sql.DB) *PostgresWebhookSubscriptionRepo {
	return &PostgresWebhookSubscriptionRepo{db: db}
}

// Create はサブスクリプションを作成する。
func (r *PostgresWebhookSubscriptionRepo) Create(ctx context.Context, sub *model.WebhookSubscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_subscriptions
		 (id, provider, user_id, calendar_id, subscription_id, resource_id, secret, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sub.ID, string(sub.Provider), sub.UserID, sub.CalendarID,
		sub.SubscriptionID, sub.ResourceID, sub.Secret, sub.ExpiresAt, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook subscription: %w", err)
	}
	return nil
}

// FindBySubscriptionID はプロバイダーとサブスクリプションIDで検索する。
// 見つからない場合はnilを返す。
func (r *PostgresWebhookSubscriptionRepo) FindBySubscriptionID(ctx context.Context, provider model.ProviderKey, subscriptionID string) (*model.WebhookSubscription, error) {
	sub := &model.WebhookSubscription{}
	var prov string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, provider, user_id, calendar_id, subscription_id, resource_id, secret, expires_at, created_at
		 FROM webhook_subscriptions
		 WHERE provider = $1 AND subscription_id = $2`,
		string(provider), subscriptionID,
	).Scan(&sub.ID, &prov, &sub.UserID, &sub.CalendarID,
		&sub.SubscriptionID, &sub.ResourceID, &sub.Secret, &sub.ExpiresAt, &sub.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find webhook subscription: %w", err)
	}

	sub.Provider = model.ProviderKey(prov)
	return sub, nil
}

// ListByUser はユーザーの全サブスクリプションを返す。
func (r *PostgresWebhookSubscriptionRepo) ListByUser(ctx context.Context, userID string) ([]*model.WebhookSubscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, provider, user_id, calendar_id, subscription_id, resource_id, secret, expires_at, created_at
		 FROM webhook_subscriptions
		 WHERE user_id = $1
		 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*model.WebhookSubscription
	for rows.Next() {
		sub := &model.WebhookSubscription{}
		var prov string
		if err := rows.Scan(&sub.ID, &prov, &sub.UserID, &sub.CalendarID,
			&sub.SubscriptionID, &sub.ResourceID, &sub.Secret, &sub.ExpiresAt, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook subscription: %w", err)
		}
		sub.Provider = model.ProviderKey(prov)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate webhook subscriptions: %w", err)
	}

	return subs, nil
}

// UpdateExpiry はチャネル更新時に有効期限とシークレットを更新する。
func (r *PostgresWebhookSubscriptionRepo) UpdateExpiry(ctx context.Context, id string, secret string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_subscriptions SET secret = $2, expires_at = $3 WHERE id = $1`,
		id, secret, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update webhook subscription expiry: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのサブスクリプションを削除する。
func (r *PostgresWebhookSubscriptionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_subscriptions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete webhook subscription: %w", err)
	}
	return nil
}

// DeleteExpired は有効期限を過ぎたサブスクリプションを削除し、削除件数を返す。
func (r *PostgresWebhookSubscriptionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_subscriptions WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired webhook subscriptions: %w", err)
	}
	return res.RowsAffected()
}

// compile-time interface check
var _ WebhookSubscriptionRepository = (*PostgresWebhookSubscriptionRepo)(nil)
