package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"peercall-backend/internal/domain"
	apperrors "peercall-backend/pkg/errors"
)

// ClaimRepository handles active-call claim operations.
// A claim row per user is what makes "one active call per user" hold:
// the primary key on user_id turns concurrent call attempts into exactly
// one winner.
type ClaimRepository struct {
	pool *pgxpool.Pool
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(pool *pgxpool.Pool) *ClaimRepository {
	return &ClaimRepository{pool: pool}
}

// GetClaim retrieves the claim held by a user
func (r *ClaimRepository) GetClaim(ctx context.Context, userID uuid.UUID) (*domain.ActiveCallClaim, error) {
	query := `
		SELECT user_id, call_id, participants, initiator, call_type, created_at
		FROM active_call_claims
		WHERE user_id = $1
	`

	claim := &domain.ActiveCallClaim{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&claim.UserID,
		&claim.CallID,
		&claim.Participants,
		&claim.Initiator,
		&claim.CallType,
		&claim.CreatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ClaimNotFoundError()
		}
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}

	return claim, nil
}

// IsBusy reports whether a user currently holds an active-call claim
func (r *ClaimRepository) IsBusy(ctx context.Context, userID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM active_call_claims WHERE user_id = $1)`

	var busy bool
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&busy); err != nil {
		return false, fmt.Errorf("failed to check claim: %w", err)
	}

	return busy, nil
}

// ClearForCall removes every claim tied to a call. Idempotent: claims
// already gone are not an error.
func (r *ClaimRepository) ClearForCall(ctx context.Context, callID uuid.UUID) error {
	query := `DELETE FROM active_call_claims WHERE call_id = $1`

	_, err := r.pool.Exec(ctx, query, callID)
	if err != nil {
		return fmt.Errorf("failed to clear claims for call: %w", err)
	}

	return nil
}
