package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/meetsync/internal/model"
)

// PostgresSelectionRepo はPostgreSQLを使用したカレンダー選択リポジトリ。
type PostgresSelectionRepo struct {
	db *sql.DB
}

// NewPostgresSelectionRepo はPostgresSelectionRepoを生成する。
func NewPostgresSelectionRepo(db *sql.DB) *PostgresSelectionRepo {
	return &PostgresSelectionRepo{db: db}
}

const selectionColumns = `id, user_id, integration_id, calendar_id, calendar_name,
	direction, conflict_mode, is_active, created_at, updated_at`

// scanSelection は1行をCalendarSelectionに読み込む。
func scanSelection(scan func(dest ...any) error) (*model.CalendarSelection, error) {
	sel := &model.CalendarSelection{}
	var direction, conflictMode string
	err := scan(&sel.ID, &sel.UserID, &sel.IntegrationID, &sel.CalendarID, &sel.CalendarName,
		&direction, &conflictMode, &sel.IsActive, &sel.CreatedAt, &sel.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sel.Direction = model.SyncDirection(direction)
	sel.ConflictMode = model.ConflictMode(conflictMode)
	return sel, nil
}

// ListActive はユーザー・連携のアクティブな選択一覧を返す。
func (r *PostgresSelectionRepo) ListActive(ctx context.Context, userID, integrationID string) ([]*model.CalendarSelection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectionColumns+`
		 FROM user_calendar_selections
		 WHERE user_id = $1 AND integration_id = $2 AND is_active
		 ORDER BY created_at`,
		userID, integrationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar selections: %w", err)
	}
	defer rows.Close()

	var sels []*model.CalendarSelection
	for rows.Next() {
		sel, err := scanSelection(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calendar selection: %w", err)
		}
		sels = append(sels, sel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate calendar selections: %w", err)
	}

	return sels, nil
}

// FindByCalendar はカレンダーIDで選択を検索する（非アクティブ含む）。
// 見つからない場合はnilを返す。
func (r *PostgresSelectionRepo) FindByCalendar(ctx context.Context, userID, integrationID, calendarID string) (*model.CalendarSelection, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectionColumns+`
		 FROM user_calendar_selections
		 WHERE user_id = $1 AND integration_id = $2 AND calendar_id = $3`,
		userID, integrationID, calendarID,
	)

	sel, err := scanSelection(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar selection: %w", err)
	}

	return sel, nil
}

// Create は選択を作成する。
func (r *PostgresSelectionRepo) Create(ctx context.Context, sel *model.CalendarSelection) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_calendar_selections
		 (id, user_id, integration_id, calendar_id, calendar_name, direction, conflict_mode, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sel.ID, sel.UserID, sel.IntegrationID, sel.CalendarID, sel.CalendarName,
		string(sel.Direction), string(sel.ConflictMode), sel.IsActive, sel.CreatedAt, sel.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create calendar selection: %w", err)
	}
	return nil
}

// Update は選択の方向・衝突モード・表示名・アクティブフラグを更新する。
func (r *PostgresSelectionRepo) Update(ctx context.Context, sel *model.CalendarSelection) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_calendar_selections
		 SET calendar_name = $2, direction = $3, conflict_mode = $4, is_active = $5, updated_at = $6
		 WHERE id = $1`,
		sel.ID, sel.CalendarName, string(sel.Direction), string(sel.ConflictMode), sel.IsActive, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update calendar selection: %w", err)
	}
	return nil
}

// Deactivate は選択をソフトデリート（is_active=false）する。
func (r *PostgresSelectionRepo) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_calendar_selections
		 SET is_active = false, updated_at = $2
		 WHERE id = $1`,
		id, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate calendar selection: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CalendarSelectionRepository = (*PostgresSelectionRepo)(nil)
