package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"peercall-backend/internal/domain"
	apperrors "peercall-backend/pkg/errors"
)

const uniqueViolation = "23505"

const callColumns = `
	call_id, caller_id, receiver_id, call_type, status,
	created_at, accepted_at, ended_at, duration,
	offer, answer, conversation_id, end_reason
`

// CallRepository handles call data operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// CreateWithClaims inserts a ringing call together with active-call claims
// for both participants in one transaction. A claim primary-key collision
// means one of the parties is already in a call, which surfaces as BUSY and
// leaves nothing behind.
func (r *CallRepository) CreateWithClaims(ctx context.Context, call *domain.Call) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	callQuery := `
		INSERT INTO calls (
			call_id, caller_id, receiver_id, call_type, status,
			created_at, conversation_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.Exec(ctx, callQuery,
		call.CallID,
		call.CallerID,
		call.ReceiverID,
		call.CallType,
		call.Status,
		call.CreatedAt,
		call.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	claimQuery := `
		INSERT INTO active_call_claims (
			user_id, call_id, participants, initiator, call_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	participants := []uuid.UUID{call.CallerID, call.ReceiverID}
	for _, userID := range participants {
		_, err = tx.Exec(ctx, claimQuery,
			userID,
			call.CallID,
			participants,
			call.CallerID,
			call.CallType,
			call.CreatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return apperrors.BusyError("User is already in a call")
			}
			return fmt.Errorf("failed to create call claim: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit call creation: %w", err)
	}

	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1`

	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&call.CallID,
		&call.CallerID,
		&call.ReceiverID,
		&call.CallType,
		&call.Status,
		&call.CreatedAt,
		&call.AcceptedAt,
		&call.EndedAt,
		&call.Duration,
		&call.Offer,
		&call.Answer,
		&call.ConversationID,
		&call.EndReason,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// MarkAccepted transitions a ringing call to accepted. The status guard in
// the WHERE clause makes concurrent accepts and late accepts lose cleanly:
// when no row matches, the current status decides which error to return.
func (r *CallRepository) MarkAccepted(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `
		UPDATE calls
		SET status = $2, accepted_at = $3
		WHERE call_id = $1 AND status = $4
		RETURNING ` + callColumns

	now := time.Now()
	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, query, callID, domain.StatusAccepted, now, domain.StatusRinging).Scan(
		&call.CallID,
		&call.CallerID,
		&call.ReceiverID,
		&call.CallType,
		&call.Status,
		&call.CreatedAt,
		&call.AcceptedAt,
		&call.EndedAt,
		&call.Duration,
		&call.Offer,
		&call.Answer,
		&call.ConversationID,
		&call.EndReason,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.transitionConflict(ctx, callID, domain.StatusAccepted)
		}
		return nil, fmt.Errorf("failed to accept call: %w", err)
	}

	return call, nil
}

// MarkTerminal transitions a call into a terminal status, recording the
// ended timestamp, duration and reason. The required source status guards
// the update so illegal and duplicate transitions never overwrite anything.
func (r *CallRepository) MarkTerminal(ctx context.Context, callID uuid.UUID, to domain.CallStatus, duration int, reason string) (*domain.Call, error) {
	from := domain.StatusRinging
	if to == domain.StatusEnded {
		from = domain.StatusAccepted
	}

	query := `
		UPDATE calls
		SET status = $2, ended_at = $3, duration = $4, end_reason = $5
		WHERE call_id = $1 AND status = $6
		RETURNING ` + callColumns

	now := time.Now()
	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, query, callID, to, now, duration, reason, from).Scan(
		&call.CallID,
		&call.CallerID,
		&call.ReceiverID,
		&call.CallType,
		&call.Status,
		&call.CreatedAt,
		&call.AcceptedAt,
		&call.EndedAt,
		&call.Duration,
		&call.Offer,
		&call.Answer,
		&call.ConversationID,
		&call.EndReason,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.transitionConflict(ctx, callID, to)
		}
		return nil, fmt.Errorf("failed to terminate call: %w", err)
	}

	return call, nil
}

// transitionConflict resolves a guarded-update miss into the right error
func (r *CallRepository) transitionConflict(ctx context.Context, callID uuid.UUID, to domain.CallStatus) error {
	current, err := r.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	return apperrors.IllegalTransitionError(string(current.Status), string(to))
}

// SetOffer stores the caller's SDP offer. The offer is written exactly once
// while the call is still live.
func (r *CallRepository) SetOffer(ctx context.Context, callID uuid.UUID, sdp string) error {
	query := `
		UPDATE calls
		SET offer = $2
		WHERE call_id = $1 AND offer IS NULL AND status IN ($3, $4)
	`

	tag, err := r.pool.Exec(ctx, query, callID, sdp, domain.StatusRinging, domain.StatusAccepted)
	if err != nil {
		return fmt.Errorf("failed to set offer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NegotiationError("Offer already set or call is not live", nil)
	}

	return nil
}

// SetAnswer stores the receiver's SDP answer. An answer is only legal once
// the offer exists, and is written exactly once.
func (r *CallRepository) SetAnswer(ctx context.Context, callID uuid.UUID, sdp string) error {
	query := `
		UPDATE calls
		SET answer = $2
		WHERE call_id = $1 AND offer IS NOT NULL AND answer IS NULL AND status IN ($3, $4)
	`

	tag, err := r.pool.Exec(ctx, query, callID, sdp, domain.StatusRinging, domain.StatusAccepted)
	if err != nil {
		return fmt.Errorf("failed to set answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NegotiationError("Answer without offer, or answer already set", nil)
	}

	return nil
}

// RingingForReceiver retrieves all calls currently ringing for a user,
// oldest first
func (r *CallRepository) RingingForReceiver(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE receiver_id = $1 AND status = $2
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, userID, domain.StatusRinging)
	if err != nil {
		return nil, fmt.Errorf("failed to get ringing calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call := &domain.Call{}
		err := rows.Scan(
			&call.CallID,
			&call.CallerID,
			&call.ReceiverID,
			&call.CallType,
			&call.Status,
			&call.CreatedAt,
			&call.AcceptedAt,
			&call.EndedAt,
			&call.Duration,
			&call.Offer,
			&call.Answer,
			&call.ConversationID,
			&call.EndReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, nil
}
