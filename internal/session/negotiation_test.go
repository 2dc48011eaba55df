package session

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"

	"peercall-backend/internal/domain"
	apperrors "peercall-backend/pkg/errors"
)

// fakePeerConnection implements PeerConnection without media transport
type fakePeerConnection struct {
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	state      webrtc.PeerConnectionState
	stats      webrtc.StatsReport
	candidates []webrtc.ICECandidateInit

	failAddCandidate bool
	failSetRemote    bool
}

func (f *fakePeerConnection) CreateOffer(_ *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}

func (f *fakePeerConnection) CreateAnswer(_ *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}

func (f *fakePeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.local = &desc
	return nil
}

func (f *fakePeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if f.failSetRemote {
		return fmt.Errorf("invalid session description")
	}
	f.remote = &desc
	return nil
}

func (f *fakePeerConnection) RemoteDescription() *webrtc.SessionDescription {
	return f.remote
}

func (f *fakePeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if f.failAddCandidate {
		return fmt.Errorf("candidate rejected")
	}
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakePeerConnection) OnICECandidate(func(*webrtc.ICECandidate))                {}
func (f *fakePeerConnection) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (f *fakePeerConnection) ConnectionState() webrtc.PeerConnectionState {
	return f.state
}

func (f *fakePeerConnection) GetStats() webrtc.StatsReport {
	return f.stats
}

func (f *fakePeerConnection) Close() error { return nil }

func candidateMsg(callID, senderID uuid.UUID, candidate string) *domain.ICECandidateMessage {
	return &domain.ICECandidateMessage{
		CallID:    callID,
		SenderID:  senderID,
		Candidate: fmt.Sprintf(`{"candidate":%q}`, candidate),
	}
}

// TestCreateOffer tests the caller producing an offer exactly once
func TestCreateOffer(t *testing.T) {
	pc := &fakePeerConnection{}
	n := NewNegotiator(pc, uuid.New(), uuid.New(), uuid.New(), domain.RoleCaller)

	sdp, err := n.CreateOffer()
	assert.NoError(t, err)
	assert.NotEmpty(t, sdp)
	assert.NotNil(t, pc.local)

	_, err = n.CreateOffer()
	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNegotiation))
}

// TestCreateOffer_ReceiverForbidden tests that the receiver cannot offer
func TestCreateOffer_ReceiverForbidden(t *testing.T) {
	n := NewNegotiator(&fakePeerConnection{}, uuid.New(), uuid.New(), uuid.New(), domain.RoleReceiver)

	_, err := n.CreateOffer()
	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNegotiation))
}

// TestHandleOffer tests the receiver applying the offer and answering
func TestHandleOffer(t *testing.T) {
	pc := &fakePeerConnection{}
	n := NewNegotiator(pc, uuid.New(), uuid.New(), uuid.New(), domain.RoleReceiver)

	answer, err := n.HandleOffer("v=0 remote-offer")
	assert.NoError(t, err)
	assert.NotEmpty(t, answer)
	assert.Equal(t, "v=0 remote-offer", pc.remote.SDP)

	_, err = n.HandleOffer("v=0 remote-offer")
	assert.Error(t, err)
}

// TestHandleAnswer_BeforeOffer tests answer ordering on the caller side
func TestHandleAnswer_BeforeOffer(t *testing.T) {
	n := NewNegotiator(&fakePeerConnection{}, uuid.New(), uuid.New(), uuid.New(), domain.RoleCaller)

	err := n.HandleAnswer("v=0 remote-answer")
	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNegotiation))
}

// TestHandleAnswer tests the full caller-side exchange
func TestHandleAnswer(t *testing.T) {
	pc := &fakePeerConnection{}
	n := NewNegotiator(pc, uuid.New(), uuid.New(), uuid.New(), domain.RoleCaller)

	_, err := n.CreateOffer()
	assert.NoError(t, err)

	err = n.HandleAnswer("v=0 remote-answer")
	assert.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, pc.remote.Type)

	err = n.HandleAnswer("v=0 remote-answer")
	assert.Error(t, err)
}

// TestAddRemoteCandidate_Buffering tests that early candidates wait for the
// remote description and flush once it lands
func TestAddRemoteCandidate_Buffering(t *testing.T) {
	pc := &fakePeerConnection{}
	callID := uuid.New()
	counterpart := uuid.New()
	n := NewNegotiator(pc, callID, uuid.New(), counterpart, domain.RoleCaller)

	err := n.AddRemoteCandidate(candidateMsg(callID, counterpart, "candidate:1"))
	assert.NoError(t, err)
	err = n.AddRemoteCandidate(candidateMsg(callID, counterpart, "candidate:2"))
	assert.NoError(t, err)
	assert.Empty(t, pc.candidates)

	_, err = n.CreateOffer()
	assert.NoError(t, err)
	err = n.HandleAnswer("v=0 remote-answer")
	assert.NoError(t, err)

	assert.Len(t, pc.candidates, 2)
	assert.Equal(t, "candidate:1", pc.candidates[0].Candidate)
	assert.Equal(t, "candidate:2", pc.candidates[1].Candidate)
}

// TestAddRemoteCandidate_Idempotent tests that re-delivered candidates are
// applied once
func TestAddRemoteCandidate_Idempotent(t *testing.T) {
	pc := &fakePeerConnection{remote: &webrtc.SessionDescription{}}
	callID := uuid.New()
	counterpart := uuid.New()
	n := NewNegotiator(pc, callID, uuid.New(), counterpart, domain.RoleReceiver)

	msg := candidateMsg(callID, counterpart, "candidate:1")
	assert.NoError(t, n.AddRemoteCandidate(msg))
	assert.NoError(t, n.AddRemoteCandidate(msg))
	assert.NoError(t, n.AddRemoteCandidate(msg))

	assert.Len(t, pc.candidates, 1)
}

// TestAddRemoteCandidate_IgnoresOwnEcho tests that candidates not from the
// counterpart are dropped silently
func TestAddRemoteCandidate_IgnoresOwnEcho(t *testing.T) {
	pc := &fakePeerConnection{remote: &webrtc.SessionDescription{}}
	callID := uuid.New()
	selfID := uuid.New()
	n := NewNegotiator(pc, callID, selfID, uuid.New(), domain.RoleCaller)

	err := n.AddRemoteCandidate(candidateMsg(callID, selfID, "candidate:1"))
	assert.NoError(t, err)
	assert.Empty(t, pc.candidates)
}

// TestAddRemoteCandidate_Malformed tests rejecting undecodable candidates
func TestAddRemoteCandidate_Malformed(t *testing.T) {
	counterpart := uuid.New()
	n := NewNegotiator(&fakePeerConnection{}, uuid.New(), uuid.New(), counterpart, domain.RoleCaller)

	err := n.AddRemoteCandidate(&domain.ICECandidateMessage{
		SenderID:  counterpart,
		Candidate: "{not json",
	})
	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNegotiation))
}

// TestAddRemoteCandidate_ApplyFailure tests that a live-apply failure is fatal
func TestAddRemoteCandidate_ApplyFailure(t *testing.T) {
	pc := &fakePeerConnection{
		remote:           &webrtc.SessionDescription{},
		failAddCandidate: true,
	}
	counterpart := uuid.New()
	n := NewNegotiator(pc, uuid.New(), uuid.New(), counterpart, domain.RoleCaller)

	err := n.AddRemoteCandidate(candidateMsg(uuid.New(), counterpart, "candidate:1"))
	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNegotiation))
}

// TestHandleOffer_Malformed tests offer rejection mapping
func TestHandleOffer_Malformed(t *testing.T) {
	pc := &fakePeerConnection{failSetRemote: true}
	n := NewNegotiator(pc, uuid.New(), uuid.New(), uuid.New(), domain.RoleReceiver)

	_, err := n.HandleOffer("garbage")
	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNegotiation))
}
