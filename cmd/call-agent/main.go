// call-agent is a headless call participant: it joins a call's signaling
// channel over WebSocket and runs a real WebRTC peer connection for it.
// Used to dial automated endpoints (recording bots, echo/test peers) into
// calls that normally run browser-to-browser.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"peercall-backend/internal/domain"
	wsHandler "peercall-backend/internal/handler/ws"
	"peercall-backend/internal/session"
	"peercall-backend/pkg/env"
	"peercall-backend/pkg/logger"
)

// wsSender writes signaling frames to the hub. gorilla connections allow
// one concurrent writer, hence the mutex.
type wsSender struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	callID uuid.UUID
}

func (s *wsSender) send(msg *wsHandler.SignalingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(msg)
}

func (s *wsSender) SendOffer(sdp string) error {
	return s.send(&wsHandler.SignalingMessage{
		Type:      wsHandler.SignalTypeOffer,
		CallID:    s.callID,
		SDP:       sdp,
		Timestamp: time.Now(),
	})
}

func (s *wsSender) SendAnswer(sdp string) error {
	return s.send(&wsHandler.SignalingMessage{
		Type:      wsHandler.SignalTypeAnswer,
		CallID:    s.callID,
		SDP:       sdp,
		Timestamp: time.Now(),
	})
}

func (s *wsSender) SendCandidate(candidate string) error {
	return s.send(&wsHandler.SignalingMessage{
		Type:      wsHandler.SignalTypeICE,
		CallID:    s.callID,
		Candidate: candidate,
		Timestamp: time.Now(),
	})
}

func main() {
	// 1. Initialize structured logging
	if err := logger.Init(&logger.Config{
		Level:  env.GetString("LOG_LEVEL", "info"),
		Format: env.GetString("LOG_FORMAT", "json"),
		Output: env.GetString("LOG_OUTPUT", "stdout"),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 2. Identity and call assignment
	callID, err := uuid.Parse(os.Getenv("CALL_ID"))
	if err != nil {
		log.Fatalf("CALL_ID must be a valid UUID: %v", err)
	}
	selfID, err := uuid.Parse(os.Getenv("AGENT_USER_ID"))
	if err != nil {
		log.Fatalf("AGENT_USER_ID must be a valid UUID: %v", err)
	}
	peerID, err := uuid.Parse(os.Getenv("PEER_USER_ID"))
	if err != nil {
		log.Fatalf("PEER_USER_ID must be a valid UUID: %v", err)
	}

	role := domain.RoleReceiver
	if env.GetString("AGENT_ROLE", "receiver") == "caller" {
		role = domain.RoleCaller
	}

	token := env.GetStringFromFile("AGENT_TOKEN", "")
	if token == "" {
		log.Fatal("AGENT_TOKEN environment variable is required")
	}

	// 3. Dial the signaling hub
	signalingURL := env.GetString("SIGNALING_URL", "ws://localhost:8084/v1/calls/ws/signaling")
	header := http.Header{
		"Authorization": []string{"Bearer " + token},
		"Origin":        []string{env.GetString("AGENT_ORIGIN", "http://localhost:8080")},
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(signalingURL+"?call_id="+callID.String(), header)
	if err != nil {
		log.Fatalf("Failed to dial signaling hub: %v", err)
	}
	defer conn.Close()
	log.Printf("✅ Connected to signaling hub for call %s as %s", callID, role)

	// 4. Peer connection and endpoint
	pc, err := session.NewPeerConnection(session.DefaultConfiguration())
	if err != nil {
		log.Fatalf("Failed to create peer connection: %v", err)
	}

	done := make(chan struct{})
	var doneOnce sync.Once
	finish := func() { doneOnce.Do(func() { close(done) }) }

	sender := &wsSender{conn: conn, callID: callID}
	endpoint := session.NewEndpoint(session.EndpointConfig{
		CallID:      callID,
		SelfID:      selfID,
		Counterpart: peerID,
		Role:        role,
		OnQuality: func(q session.Quality) {
			log.Printf("📶 Call quality: %s", q)
		},
		OnFatal: func(reason string) {
			log.Printf("❌ Session failed: %s", reason)
			finish()
		},
	}, pc, sender)
	defer endpoint.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := endpoint.Start(ctx); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	// 5. Pump inbound signaling frames into the endpoint
	go func() {
		defer finish()
		for {
			var msg wsHandler.SignalingMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("Signaling connection lost: %v", err)
				}
				return
			}

			var handleErr error
			switch msg.Type {
			case wsHandler.SignalTypeOffer:
				handleErr = endpoint.HandleOffer(msg.SDP)
			case wsHandler.SignalTypeAnswer:
				handleErr = endpoint.HandleAnswer(msg.SDP)
			case wsHandler.SignalTypeICE:
				handleErr = endpoint.HandleCandidate(&domain.ICECandidateMessage{
					CallID:    msg.CallID,
					SenderID:  msg.SenderID,
					Candidate: msg.Candidate,
				})
			case wsHandler.SignalTypeCallEvent:
				if endpoint.HandleCallEvent(msg.Payload) {
					log.Println("Call ended, shutting down")
					return
				}
			case wsHandler.SignalTypeError:
				log.Printf("⚠️  Signaling error from hub: %s", msg.Error)
			}

			if handleErr != nil {
				log.Printf("❌ Negotiation failed: %v", handleErr)
				return
			}
		}
	}()

	// 6. Run until the call ends or we are told to stop
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Shutting down call agent...")
	case <-done:
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
