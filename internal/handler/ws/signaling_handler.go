package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"peercall-backend/internal/domain"
	"peercall-backend/internal/events"
	"peercall-backend/internal/service/call"
	"peercall-backend/pkg/constants"
	apperrors "peercall-backend/pkg/errors"
	"peercall-backend/pkg/logger"
)

// SignalingHub manages WebRTC signaling connections.
// Inbound offer/answer/candidate frames go through the call service, which
// persists them and republishes on the event bus; the hub fans bus events
// back out to the call's connected sockets. A peer that reconnects gets
// the counterpart's stored candidates replayed before live traffic.
type SignalingHub struct {
	// Registered clients per call
	calls map[uuid.UUID]map[*SignalingClient]bool

	// Live event subscription per call, tagged with a generation id so a
	// dying forwarder never tears down its replacement
	subscriptions map[uuid.UUID]*callSubscription
	nextSubID     uint64

	callService *call.Service

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Channels
	register   chan *SignalingClient
	unregister chan *SignalingClient
	broadcast  chan *SignalingMessage

	// Concurrency limit: maxConnections is the maximum number of concurrent WebSocket connections
	maxConnections int
	// Semaphore for limiting concurrent connections
	semaphore chan struct{}
}

// callSubscription is one hub-owned bus subscription for a call
type callSubscription struct {
	id     uint64
	cancel events.CancelFunc
}

// SignalingClient represents a WebSocket client for signaling
type SignalingClient struct {
	hub    *SignalingHub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	callID uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
}

// SignalingMessage types
const (
	SignalTypeOffer     = "offer"
	SignalTypeAnswer    = "answer"
	SignalTypeICE       = "ice_candidate"
	SignalTypeCallEvent = "call_event"
	SignalTypeError     = "error"
)

// SignalingMessage represents a WebRTC signaling frame
type SignalingMessage struct {
	Type      string          `json:"type"`
	CallID    uuid.UUID       `json:"call_id"`
	SenderID  uuid.UUID       `json:"sender_id,omitempty"`
	SDP       string          `json:"sdp,omitempty"`       // For offer/answer
	Candidate string          `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
	Payload   json.RawMessage `json:"payload,omitempty"`   // For call lifecycle events
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

var signalingUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Reject empty origins - require explicit origin for security
			return false
		}

		allowedOrigins := GetAllowedOrigins()
		for allowed := range allowedOrigins {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

// GetAllowedOrigins returns the origin allowlist for WebSocket upgrades
func GetAllowedOrigins() map[string]bool {
	allowed := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
	}

	return allowed
}

// NewSignalingHub creates a new signaling hub
func NewSignalingHub(callService *call.Service) *SignalingHub {
	// Default max connections: 1000 (configurable via environment if needed)
	maxConns := 1000
	if val := os.Getenv("WS_MAX_SIGNALING_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	hub := &SignalingHub{
		calls:          make(map[uuid.UUID]map[*SignalingClient]bool),
		subscriptions:  make(map[uuid.UUID]*callSubscription),
		callService:    callService,
		register:       make(chan *SignalingClient),
		unregister:     make(chan *SignalingClient),
		broadcast:      make(chan *SignalingMessage, 256),
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}

	go hub.run()

	return hub
}

// run handles hub operations
func (h *SignalingHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.calls[client.callID] == nil {
				h.calls[client.callID] = make(map[*SignalingClient]bool)
				h.subscribeToCall(client.callID, client.userID)
			}
			h.calls[client.callID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.calls[client.callID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					client.cancel()
					h.releaseSlot()

					// Clean up empty calls
					if len(clients) == 0 {
						if sub, ok := h.subscriptions[client.callID]; ok {
							sub.cancel()
							delete(h.subscriptions, client.callID)
						}
						delete(h.calls, client.callID)
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.calls[message.CallID]; ok {
				messageJSON, _ := json.Marshal(message)

				// Deliver to all except the sender
				for client := range clients {
					if client.userID != message.SenderID {
						select {
						case client.send <- messageJSON:
						default:
							close(client.send)
							delete(clients, client)
							client.cancel()
							h.releaseSlot()
						}
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// subscribeToCall starts forwarding this call's bus events to its sockets.
// The subscription belongs to the hub, not to any one socket: it is created
// for the first client of a call and cancelled only when the last one
// leaves, so a participant hanging up never silences the other's events.
// Called with h.mu held.
func (h *SignalingHub) subscribeToCall(callID, userID uuid.UUID) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	ch, cancelSub, err := h.callService.WatchCall(ctx, callID, userID)
	if err != nil {
		cancelCtx()
		logger.Error("failed to subscribe to call events",
			zap.String("call_id", callID.String()),
			zap.Error(err))
		return
	}

	h.nextSubID++
	subID := h.nextSubID
	h.subscriptions[callID] = &callSubscription{
		id: subID,
		cancel: func() {
			cancelSub()
			cancelCtx()
		},
	}

	go func() {
		for evt := range ch {
			msg := &SignalingMessage{
				Type:      SignalTypeCallEvent,
				CallID:    callID,
				Payload:   evt.Payload,
				Timestamp: time.Now(),
			}

			// Candidate events carry their sender so the origin socket can
			// be skipped
			var candidate domain.ICECandidateMessage
			if err := json.Unmarshal(evt.Payload, &candidate); err == nil && candidate.Candidate != "" {
				msg.Type = SignalTypeICE
				msg.SenderID = candidate.SenderID
				msg.Candidate = candidate.Candidate
			}

			h.broadcast <- msg
		}

		// The bus can close the channel while sockets remain connected
		// (Redis hiccup). Resubscribe for them instead of leaving the call
		// without events. The generation check keeps a forwarder that was
		// already replaced from touching its successor.
		h.mu.Lock()
		defer h.mu.Unlock()
		clients, connected := h.calls[callID]
		cur, subscribed := h.subscriptions[callID]
		if connected && len(clients) > 0 && subscribed && cur.id == subID {
			cur.cancel()
			delete(h.subscriptions, callID)
			h.subscribeToCall(callID, userID)
		}
	}()
}

// releaseSlot frees one connection slot. Paired with the acquire in
// ServeWS; called whenever a registered client leaves the hub.
func (h *SignalingHub) releaseSlot() {
	select {
	case <-h.semaphore:
	default:
	}
}

// ServeWS handles WebSocket requests for signaling
func (h *SignalingHub) ServeWS(c *gin.Context) {
	// Acquire semaphore to limit concurrent connections. The slot is held
	// for as long as the client stays registered: once registration
	// succeeds the hub releases it on unregister, not when this handler
	// returns.
	registered := false
	select {
	case h.semaphore <- struct{}{}:
		defer func() {
			if !registered {
				h.releaseSlot()
			}
		}()
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	// Get call ID from query params
	callIDStr := c.Query("call_id")
	if callIDStr == "" {
		c.JSON(400, gin.H{"error": "call_id required"})
		return
	}

	callID, err := uuid.Parse(callIDStr)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid call_id"})
		return
	}

	// Get user ID from context (set by auth middleware)
	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(401, gin.H{"error": "unauthorized"})
		return
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(500, gin.H{"error": "invalid user_id"})
		return
	}

	// Only participants of a live call get a socket
	liveCall, err := h.callService.GetCall(c.Request.Context(), callID, userID)
	if err != nil {
		appErr := apperrors.GetAppError(err)
		c.JSON(appErr.StatusCode, gin.H{"error": appErr.Message})
		return
	}
	if liveCall.Status.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "call already ended"})
		return
	}

	// Upgrade to WebSocket
	conn, err := signalingUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	// Create cancelable context for this client
	ctx, cancel := context.WithCancel(context.Background())
	client := &SignalingClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		callID: callID,
		ctx:    ctx,
		cancel: cancel,
	}

	client.hub.register <- client
	registered = true

	// Start goroutines for read/write
	go client.writePump()
	go client.readPump()

	// Replay the counterpart's stored candidates so a reconnecting peer
	// catches up before live traffic resumes
	go client.replayCandidates()
}

// replayCandidates sends the counterpart's recorded candidates to this
// client in original order
func (c *SignalingClient) replayCandidates() {
	candidates, err := c.hub.callService.CandidatesFrom(c.ctx, c.callID, c.userID)
	if err != nil {
		logger.Warn("candidate replay failed",
			zap.String("call_id", c.callID.String()),
			zap.String("user_id", c.userID.String()),
			zap.Error(err))
		return
	}

	for _, candidate := range candidates {
		msg := &SignalingMessage{
			Type:      SignalTypeICE,
			CallID:    c.callID,
			SenderID:  candidate.SenderID,
			Candidate: candidate.Candidate,
			Timestamp: candidate.CreatedAt,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		case <-c.ctx.Done():
			return
		}
	}
}

// handleMessage routes one inbound frame through the call service
func (c *SignalingClient) handleMessage(msg *SignalingMessage) {
	ctx := c.ctx
	var err error

	switch msg.Type {
	case SignalTypeOffer:
		err = c.hub.callService.SetOffer(ctx, c.callID, c.userID, msg.SDP)
	case SignalTypeAnswer:
		err = c.hub.callService.SetAnswer(ctx, c.callID, c.userID, msg.SDP)
	case SignalTypeICE:
		_, err = c.hub.callService.SendCandidate(ctx, c.callID, c.userID, msg.Candidate)
	default:
		err = apperrors.InvalidInputError("Unknown signal type: " + msg.Type)
	}

	if err == nil {
		return
	}

	appErr := apperrors.GetAppError(err)
	errMsg := &SignalingMessage{
		Type:      SignalTypeError,
		CallID:    c.callID,
		Error:     appErr.Message,
		Timestamp: time.Now(),
	}
	if data, jsonErr := json.Marshal(errMsg); jsonErr == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	// A negotiation error is fatal to the call
	if apperrors.IsCode(err, apperrors.ErrCodeNegotiation) {
		if _, failErr := c.hub.callService.FailCall(ctx, c.callID, domain.EndReasonNegotiationFailed); failErr != nil {
			logger.Error("failed to terminate call after negotiation error",
				zap.String("call_id", c.callID.String()),
				zap.Error(failErr))
		}
	}
}

// readPump reads messages from WebSocket
func (c *SignalingClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("call_id", c.callID.String()),
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var msg SignalingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("Invalid message format from WebSocket",
				zap.String("call_id", c.callID.String()),
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			continue
		}

		c.handleMessage(&msg)
	}
}

// writePump writes messages to WebSocket
func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
