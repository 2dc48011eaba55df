package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"peercall-backend/internal/domain"
	"peercall-backend/pkg/pagination"
)

// HistoryRepository handles the per-user call history read model.
// Each terminal call is denormalized into one row per participant so the
// history query never joins.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

// RecordCompleted writes a terminal call into both participants' history.
// Idempotent via the (call_id, user_id) key, so replays after a crashed
// termination are harmless.
func (r *HistoryRepository) RecordCompleted(ctx context.Context, call *domain.Call) error {
	query := `
		INSERT INTO call_history (
			call_id, user_id, counterpart_id, role, call_type, status, started_at, duration
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (call_id, user_id) DO NOTHING
	`

	entries := []struct {
		userID      uuid.UUID
		counterpart uuid.UUID
		role        domain.HistoryRole
	}{
		{call.CallerID, call.ReceiverID, domain.RoleCaller},
		{call.ReceiverID, call.CallerID, domain.RoleReceiver},
	}

	for _, e := range entries {
		_, err := r.pool.Exec(ctx, query,
			call.CallID,
			e.userID,
			e.counterpart,
			e.role,
			call.CallType,
			call.Status,
			call.CreatedAt,
			call.Duration,
		)
		if err != nil {
			return fmt.Errorf("failed to record call history: %w", err)
		}
	}

	return nil
}

// GetHistory retrieves a page of a user's call history, newest first.
// Pagination is keyset on (started_at, call_id) so concurrent inserts
// never shift or duplicate entries across pages.
func (r *HistoryRepository) GetHistory(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]*domain.CallHistoryEntry, error) {
	query := `
		SELECT call_id, user_id, counterpart_id, role, call_type, status, started_at, duration
		FROM call_history
		WHERE user_id = $1
	`
	args := []interface{}{userID}

	if cursor != nil {
		query += ` AND (started_at, call_id) < ($2, $3)`
		args = append(args, cursor.StartedAt, cursor.ID)
	}

	query += fmt.Sprintf(` ORDER BY started_at DESC, call_id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get call history: %w", err)
	}
	defer rows.Close()

	var entries []*domain.CallHistoryEntry
	for rows.Next() {
		entry := &domain.CallHistoryEntry{}
		err := rows.Scan(
			&entry.CallID,
			&entry.UserID,
			&entry.CounterpartID,
			&entry.Role,
			&entry.CallType,
			&entry.Status,
			&entry.StartedAt,
			&entry.Duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
