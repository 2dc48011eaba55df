package session

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"peercall-backend/internal/domain"
	"peercall-backend/pkg/logger"
)

// Sender delivers outbound signaling frames to the counterpart. The
// call-agent implements it over a WebSocket to the signaling hub; tests
// implement it in memory.
type Sender interface {
	SendOffer(sdp string) error
	SendAnswer(sdp string) error
	SendCandidate(candidate string) error
}

// EndpointConfig identifies the participant an endpoint acts for
type EndpointConfig struct {
	CallID      uuid.UUID
	SelfID      uuid.UUID
	Counterpart uuid.UUID
	Role        domain.HistoryRole

	// OnQuality fires on monitored quality level changes; may be nil
	OnQuality func(Quality)
	// OnFatal fires when the peer connection dies beyond recovery; may be nil
	OnFatal func(reason string)
}

// Endpoint drives one participant's session over a signaling transport.
// Inbound frames go through Handle* methods; locally produced SDP and
// candidates leave through the Sender. The endpoint closes itself when a
// call event reports a terminal status.
type Endpoint struct {
	cfg     EndpointConfig
	session *Session
	sender  Sender
}

// NewEndpoint builds the session for one participant and binds it to the
// given transport
func NewEndpoint(cfg EndpointConfig, pc PeerConnection, sender Sender) *Endpoint {
	e := &Endpoint{cfg: cfg, sender: sender}

	e.session = New(cfg.CallID, cfg.SelfID, cfg.Counterpart, cfg.Role, pc, Callbacks{
		OnLocalCandidate: func(candidate string) {
			if err := sender.SendCandidate(candidate); err != nil {
				logger.Warn("failed to send local candidate",
					zap.String("call_id", cfg.CallID.String()),
					zap.Error(err))
			}
		},
		OnQualityChange: cfg.OnQuality,
		OnFatal:         cfg.OnFatal,
	})

	return e
}

// Start begins quality monitoring and, on the caller side, opens
// negotiation by sending the offer
func (e *Endpoint) Start(ctx context.Context) error {
	e.session.Start(ctx)

	if e.cfg.Role != domain.RoleCaller {
		return nil
	}

	sdp, err := e.session.Negotiator.CreateOffer()
	if err != nil {
		return err
	}
	return e.sender.SendOffer(sdp)
}

// HandleOffer applies the counterpart's offer and sends back the answer.
// Receiver side only.
func (e *Endpoint) HandleOffer(sdp string) error {
	answer, err := e.session.Negotiator.HandleOffer(sdp)
	if err != nil {
		return err
	}
	return e.sender.SendAnswer(answer)
}

// HandleAnswer applies the counterpart's answer. Caller side only.
func (e *Endpoint) HandleAnswer(sdp string) error {
	return e.session.Negotiator.HandleAnswer(sdp)
}

// HandleCandidate applies one remote trickle-ICE candidate
func (e *Endpoint) HandleCandidate(msg *domain.ICECandidateMessage) error {
	return e.session.Negotiator.AddRemoteCandidate(msg)
}

// HandleCallEvent inspects a lifecycle event and reports whether the call
// reached a terminal status. A terminal event closes the session; anything
// undecodable is ignored, since candidate frames share the channel.
func (e *Endpoint) HandleCallEvent(payload json.RawMessage) bool {
	var call domain.Call
	if err := json.Unmarshal(payload, &call); err != nil {
		return false
	}
	if !call.Status.IsTerminal() {
		return false
	}

	logger.Info("call reached terminal state, closing session",
		zap.String("call_id", e.cfg.CallID.String()),
		zap.String("status", string(call.Status)))
	e.Close()
	return true
}

// Quality returns the last monitored quality level
func (e *Endpoint) Quality() Quality {
	return e.session.Monitor.Status()
}

// Close tears down the session. Idempotent.
func (e *Endpoint) Close() {
	e.session.Close()
}
