package session

import (
	"github.com/pion/webrtc/v4"

	"peercall-backend/pkg/env"
	apperrors "peercall-backend/pkg/errors"
)

// PeerConnection is the subset of *webrtc.PeerConnection the session layer
// drives. Narrowed so negotiation and monitoring are testable without real
// media transport.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	ConnectionState() webrtc.PeerConnectionState
	GetStats() webrtc.StatsReport
	Close() error
}

// DefaultConfiguration returns the ICE configuration used for new peer
// connections. The STUN URL is overridable for deployments with their own
// servers.
func DefaultConfiguration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{env.GetString("STUN_URL", "stun:stun.l.google.com:19302")},
			},
		},
	}
}

// NewPeerConnection creates a configured pion peer connection. Failure to
// build one maps to a media access error: the machine cannot do WebRTC at
// all right now.
func NewPeerConnection(cfg webrtc.Configuration) (PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, apperrors.MediaAccessError(err)
	}
	return pc, nil
}
