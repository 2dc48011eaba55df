package session

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"peercall-backend/internal/domain"
	apperrors "peercall-backend/pkg/errors"
	"peercall-backend/pkg/logger"
)

// Negotiator runs the SDP/ICE exchange for one side of a call.
// The offer and answer are each produced or applied exactly once; remote
// candidates arriving before the remote description are buffered and
// flushed once it lands. Negotiation errors are fatal to the session.
type Negotiator struct {
	pc          PeerConnection
	callID      uuid.UUID
	selfID      uuid.UUID
	counterpart uuid.UUID
	role        domain.HistoryRole

	mu          sync.Mutex
	offerMade   bool
	offerTaken  bool
	answerTaken bool
	pending     []webrtc.ICECandidateInit
	applied     map[string]struct{}
}

// NewNegotiator creates a negotiator for one participant of a call
func NewNegotiator(pc PeerConnection, callID, selfID, counterpart uuid.UUID, role domain.HistoryRole) *Negotiator {
	return &Negotiator{
		pc:          pc,
		callID:      callID,
		selfID:      selfID,
		counterpart: counterpart,
		role:        role,
		applied:     make(map[string]struct{}),
	}
}

// CreateOffer produces the local SDP offer. Caller side only, once.
func (n *Negotiator) CreateOffer() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != domain.RoleCaller {
		return "", apperrors.NegotiationError("Only the caller creates the offer", nil)
	}
	if n.offerMade {
		return "", apperrors.NegotiationError("Offer already created", nil)
	}

	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return "", apperrors.NegotiationError("Failed to create offer", err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return "", apperrors.NegotiationError("Failed to apply local offer", err)
	}

	n.offerMade = true
	return offer.SDP, nil
}

// HandleOffer applies the remote offer and produces the answer. Receiver
// side only, once. Buffered candidates flush once the offer is applied.
func (n *Negotiator) HandleOffer(sdp string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != domain.RoleReceiver {
		return "", apperrors.NegotiationError("Only the receiver handles the offer", nil)
	}
	if n.offerTaken {
		return "", apperrors.NegotiationError("Offer already handled", nil)
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := n.pc.SetRemoteDescription(offer); err != nil {
		return "", apperrors.NegotiationError("Malformed or inapplicable offer", err)
	}

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return "", apperrors.NegotiationError("Failed to create answer", err)
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return "", apperrors.NegotiationError("Failed to apply local answer", err)
	}

	n.offerTaken = true
	n.flushPendingLocked()

	return answer.SDP, nil
}

// HandleAnswer applies the remote answer. Caller side only, after the
// offer, once. Buffered candidates flush once the answer is applied.
func (n *Negotiator) HandleAnswer(sdp string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != domain.RoleCaller {
		return apperrors.NegotiationError("Only the caller handles the answer", nil)
	}
	if !n.offerMade {
		return apperrors.NegotiationError("Answer before offer", nil)
	}
	if n.answerTaken {
		return apperrors.NegotiationError("Answer already handled", nil)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := n.pc.SetRemoteDescription(answer); err != nil {
		return apperrors.NegotiationError("Malformed or inapplicable answer", err)
	}

	n.answerTaken = true
	n.flushPendingLocked()

	return nil
}

// AddRemoteCandidate applies one trickle-ICE candidate from the candidate
// log or the live stream. Candidates not sent by the counterpart are
// ignored, re-deliveries are no-ops, and candidates arriving before the
// remote description are buffered.
func (n *Negotiator) AddRemoteCandidate(msg *domain.ICECandidateMessage) error {
	if msg.SenderID != n.counterpart {
		return nil
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
		return apperrors.NegotiationError("Malformed ICE candidate", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, seen := n.applied[msg.Candidate]; seen {
		return nil
	}
	n.applied[msg.Candidate] = struct{}{}

	if n.pc.RemoteDescription() == nil {
		n.pending = append(n.pending, init)
		return nil
	}

	if err := n.pc.AddICECandidate(init); err != nil {
		return apperrors.NegotiationError("Failed to apply ICE candidate", err)
	}

	return nil
}

// flushPendingLocked applies candidates buffered before the remote
// description existed. Failures here are logged, not fatal: a single bad
// candidate must not kill an otherwise viable connection.
func (n *Negotiator) flushPendingLocked() {
	for _, init := range n.pending {
		if err := n.pc.AddICECandidate(init); err != nil {
			logger.Warn("buffered ICE candidate rejected",
				zap.String("call_id", n.callID.String()),
				zap.Error(err))
		}
	}
	n.pending = nil
}
