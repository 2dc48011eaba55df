package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"peercall-backend/internal/service/call"
	"peercall-backend/pkg/constants"
	"peercall-backend/pkg/logger"
)

// IncomingHandler streams a user's incoming-call events over WebSocket.
// One subscription per socket; the earliest ringing call, if any, is sent
// first so a freshly connected client does not miss a ring already in
// progress.
type IncomingHandler struct {
	callService *call.Service
}

// NewIncomingHandler creates a new incoming-call stream handler
func NewIncomingHandler(callService *call.Service) *IncomingHandler {
	return &IncomingHandler{callService: callService}
}

// incomingFrame is one frame on the incoming-call stream
type incomingFrame struct {
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ServeWS handles WebSocket requests for the incoming-call stream
func (h *IncomingHandler) ServeWS(c *gin.Context) {
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

	conn, err := signalingUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe, err := h.callService.WatchIncoming(ctx, userID)
	if err != nil {
		logger.Error("failed to subscribe to incoming calls",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}
	defer unsubscribe()

	// Drain the socket so pongs are processed and closure is noticed
	go func() {
		defer cancel()
		conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Surface a ring already in progress before streaming live events
	if ringing, err := h.callService.IncomingCall(ctx, userID); err == nil && ringing != nil {
		if payload, err := json.Marshal(ringing); err == nil {
			h.write(conn, &incomingFrame{Kind: "added", Payload: payload, Timestamp: time.Now()})
		}
	}

	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if !h.write(conn, &incomingFrame{Kind: evt.Kind, Payload: evt.Payload, Timestamp: time.Now()}) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *IncomingHandler) write(conn *websocket.Conn, frame *incomingFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		return true
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data) == nil
}
