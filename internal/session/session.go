package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"peercall-backend/internal/domain"
	"peercall-backend/pkg/logger"
)

// Session owns the in-call machinery for one participant: the peer
// connection, its negotiator and the quality monitor. It exists from call
// setup until the terminal transition, after which Close is mandatory.
type Session struct {
	CallID uuid.UUID
	UserID uuid.UUID
	Role   domain.HistoryRole

	pc         PeerConnection
	Negotiator *Negotiator
	Monitor    *Monitor

	closeOnce sync.Once
}

// Callbacks wire session-internal events back to the owning transport
type Callbacks struct {
	// OnLocalCandidate fires for each locally gathered ICE candidate,
	// JSON-encoded for the signaling channel
	OnLocalCandidate func(candidate string)
	// OnQualityChange fires when the monitored quality level changes
	OnQualityChange func(q Quality)
	// OnFatal fires when the transport reaches a dead state the session
	// cannot recover from
	OnFatal func(reason string)
}

// New builds a session for one participant of a call
func New(callID, selfID, counterpart uuid.UUID, role domain.HistoryRole, pc PeerConnection, cb Callbacks) *Session {
	s := &Session{
		CallID:     callID,
		UserID:     selfID,
		Role:       role,
		pc:         pc,
		Negotiator: NewNegotiator(pc, callID, selfID, counterpart, role),
	}

	s.Monitor = NewMonitor(callID, NewStatsSampler(pc), cb.OnQualityChange)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || cb.OnLocalCandidate == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			logger.Error("failed to encode local candidate",
				zap.String("call_id", callID.String()),
				zap.Error(err))
			return
		}
		cb.OnLocalCandidate(string(data))
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state",
			zap.String("call_id", callID.String()),
			zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed && cb.OnFatal != nil {
			cb.OnFatal("peer connection failed")
		}
	})

	return s
}

// Start begins quality monitoring
func (s *Session) Start(ctx context.Context) {
	s.Monitor.Start(ctx)
}

// Close tears the session down: monitor first, then the transport.
// Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Monitor.Stop()
		if err := s.pc.Close(); err != nil {
			logger.Warn("peer connection close failed",
				zap.String("call_id", s.CallID.String()),
				zap.Error(err))
		}
	})
}
