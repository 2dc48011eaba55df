package call

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"peercall-backend/internal/domain"
	"peercall-backend/internal/service/call"
	"peercall-backend/pkg/response"
)

// Handler handles call HTTP requests
type Handler struct {
	callService *call.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service) *Handler {
	return &Handler{
		callService: callService,
	}
}

// currentUser extracts the authenticated user from gin context
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}

	return userID, true
}

// callIDParam parses the :id path parameter
func callIDParam(c *gin.Context) (uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, false
	}
	return callID, true
}

// CreateCallRequest represents call creation request
type CreateCallRequest struct {
	ReceiverID     string `json:"receiver_id" binding:"required"`
	CallType       string `json:"call_type" binding:"required,oneof=voice video"`
	ConversationID string `json:"conversation_id"`
}

// CreateCall starts a new outgoing call
// POST /v1/calls
func (h *Handler) CreateCall(c *gin.Context) {
	var req CreateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callerID, ok := currentUser(c)
	if !ok {
		return
	}

	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		response.ValidationError(c, "Invalid receiver ID")
		return
	}

	input := &call.CreateCallInput{
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   domain.CallType(req.CallType),
	}
	if req.ConversationID != "" {
		convID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			response.ValidationError(c, "Invalid conversation ID")
			return
		}
		input.ConversationID = &convID
	}

	created, err := h.callService.CreateCall(c.Request.Context(), input)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, created)
}

// GetCall retrieves a call by ID
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	found, err := h.callService.GetCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, found)
}

// AcceptCall accepts a ringing call
// POST /v1/calls/:id/accept
func (h *Handler) AcceptCall(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	accepted, err := h.callService.AcceptCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, accepted)
}

// DeclineCall declines a ringing call
// POST /v1/calls/:id/decline
func (h *Handler) DeclineCall(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	declined, err := h.callService.DeclineCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, declined)
}

// CancelCall cancels an outgoing ringing call
// POST /v1/calls/:id/cancel
func (h *Handler) CancelCall(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	cancelled, err := h.callService.CancelCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, cancelled)
}

// EndCall ends an accepted call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	ended, err := h.callService.EndCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, ended)
}

// GetIncomingCall surfaces the user's current ringing call, if any
// GET /v1/calls/incoming
func (h *Handler) GetIncomingCall(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	incoming, err := h.callService.IncomingCall(c.Request.Context(), userID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	if incoming == nil {
		response.Success(c, http.StatusOK, gin.H{"call": nil})
		return
	}

	caller := h.callService.ResolveUser(c.Request.Context(), incoming.CallerID)

	response.Success(c, http.StatusOK, gin.H{
		"call":   incoming,
		"caller": caller,
	})
}

// GetActiveCall returns the call the user is currently claimed into, if
// any. Reconnecting clients use this to rejoin a live call.
// GET /v1/calls/active
func (h *Handler) GetActiveCall(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	active, err := h.callService.ActiveCall(c.Request.Context(), userID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	if active == nil {
		response.Success(c, http.StatusOK, gin.H{"call": nil})
		return
	}

	counterpart := h.callService.ResolveUser(c.Request.Context(), active.Counterpart(userID))

	response.Success(c, http.StatusOK, gin.H{
		"call":        active,
		"counterpart": counterpart,
	})
}

// HistoryEntryView is one history row enriched with the counterpart's
// display profile
type HistoryEntryView struct {
	*domain.CallHistoryEntry
	Counterpart *domain.UserInfo `json:"counterpart"`
}

// GetHistory retrieves a page of the user's call history
// GET /v1/calls/history?page_size=20&page_token=...
func (h *Handler) GetHistory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	pageSize := 0
	if sizeStr := c.Query("page_size"); sizeStr != "" {
		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			response.ValidationError(c, "Invalid page size")
			return
		}
		pageSize = size
	}

	page, err := h.callService.GetHistory(c.Request.Context(), userID, c.Query("page_token"), pageSize)
	if err != nil {
		response.AppError(c, err)
		return
	}

	entries := make([]*HistoryEntryView, 0, len(page.Entries))
	for _, entry := range page.Entries {
		entries = append(entries, &HistoryEntryView{
			CallHistoryEntry: entry,
			Counterpart:      h.callService.ResolveUser(c.Request.Context(), entry.CounterpartID),
		})
	}

	response.Success(c, http.StatusOK, gin.H{
		"entries":         entries,
		"next_page_token": page.NextPageToken,
	})
}
