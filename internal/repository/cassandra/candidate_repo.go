package cassandra

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"peercall-backend/internal/domain"
	"peercall-backend/pkg/metrics"
)

const candidatesTable = "ice_candidates"

// CandidateRepository stores trickle-ICE candidates in Cassandra.
// Each call is one partition; candidates are clustered by (seq) so replay
// for a late-joining or buffering peer comes back in send order.
type CandidateRepository struct {
	session *gocql.Session
}

// NewCandidateRepository creates a new CandidateRepository
func NewCandidateRepository(session *gocql.Session) *CandidateRepository {
	return &CandidateRepository{session: session}
}

// Append persists one candidate. Candidates are append-only: the same
// (call_id, sender_id, seq) written twice overwrites with identical data,
// so retries are safe.
func (r *CandidateRepository) Append(msg *domain.ICECandidateMessage) error {
	query := `
		INSERT INTO ice_candidates (
			call_id, sender_id, seq, candidate, created_at
		) VALUES (?, ?, ?, ?, ?)
	`

	start := time.Now()
	err := r.session.Query(query,
		msg.CallID,
		msg.SenderID,
		msg.Seq,
		msg.Candidate,
		msg.CreatedAt,
	).Exec()

	if err != nil {
		metrics.RecordCassandraQuery("insert", candidatesTable, "error", time.Since(start))
		metrics.RecordCassandraWriteError(candidatesTable, "insert_failed")
		return fmt.Errorf("failed to append candidate: %w", err)
	}
	metrics.RecordCassandraQuery("insert", candidatesTable, "success", time.Since(start))

	return nil
}

// ListByCall retrieves every candidate recorded for a call in send order
func (r *CandidateRepository) ListByCall(callID uuid.UUID) ([]*domain.ICECandidateMessage, error) {
	query := `
		SELECT call_id, sender_id, seq, candidate, created_at
		FROM ice_candidates
		WHERE call_id = ?
	`

	start := time.Now()
	iter := r.session.Query(query, callID).Iter()

	var candidates []*domain.ICECandidateMessage

	for {
		msg := &domain.ICECandidateMessage{}
		if !iter.Scan(
			&msg.CallID,
			&msg.SenderID,
			&msg.Seq,
			&msg.Candidate,
			&msg.CreatedAt,
		) {
			break
		}
		candidates = append(candidates, msg)
	}

	if err := iter.Close(); err != nil {
		metrics.RecordCassandraQuery("select", candidatesTable, "error", time.Since(start))
		metrics.RecordCassandraReadError(candidatesTable, "select_failed")
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}
	metrics.RecordCassandraQuery("select", candidatesTable, "success", time.Since(start))

	return candidates, nil
}

// ListBySender retrieves a single participant's candidates for a call.
// The receiving side uses this to replay only the counterpart's candidates.
func (r *CandidateRepository) ListBySender(callID, senderID uuid.UUID) ([]*domain.ICECandidateMessage, error) {
	all, err := r.ListByCall(callID)
	if err != nil {
		return nil, err
	}

	var candidates []*domain.ICECandidateMessage
	for _, msg := range all {
		if msg.SenderID == senderID {
			candidates = append(candidates, msg)
		}
	}

	return candidates, nil
}
