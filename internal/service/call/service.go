package call

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"peercall-backend/internal/domain"
	"peercall-backend/internal/events"
	apperrors "peercall-backend/pkg/errors"
	"peercall-backend/pkg/logger"
	"peercall-backend/pkg/metrics"
	"peercall-backend/pkg/pagination"
)

// CallRepository interface
type CallRepository interface {
	CreateWithClaims(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	MarkAccepted(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	MarkTerminal(ctx context.Context, callID uuid.UUID, to domain.CallStatus, duration int, reason string) (*domain.Call, error)
	SetOffer(ctx context.Context, callID uuid.UUID, sdp string) error
	SetAnswer(ctx context.Context, callID uuid.UUID, sdp string) error
	RingingForReceiver(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error)
}

// ClaimRepository interface
type ClaimRepository interface {
	IsBusy(ctx context.Context, userID uuid.UUID) (bool, error)
	GetClaim(ctx context.Context, userID uuid.UUID) (*domain.ActiveCallClaim, error)
	ClearForCall(ctx context.Context, callID uuid.UUID) error
}

// HistoryRepository interface
type HistoryRepository interface {
	RecordCompleted(ctx context.Context, call *domain.Call) error
	GetHistory(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]*domain.CallHistoryEntry, error)
}

// CandidateRepository interface
type CandidateRepository interface {
	Append(msg *domain.ICECandidateMessage) error
	ListBySender(callID, senderID uuid.UUID) ([]*domain.ICECandidateMessage, error)
}

// EventBus interface
type EventBus interface {
	Publish(ctx context.Context, channel, kind string, payload interface{})
	Subscribe(ctx context.Context, channel string) (<-chan events.Event, events.CancelFunc, error)
}

// DirectoryRepository interface for user display lookups
type DirectoryRepository interface {
	GetUserInfo(ctx context.Context, userID uuid.UUID) (*domain.UserInfo, error)
}

// Notifier delivers out-of-band incoming-call alerts (push). Best-effort:
// a failed notification never fails the call.
type Notifier interface {
	NotifyIncomingCall(ctx context.Context, receiverID uuid.UUID, call *domain.Call) error
}

// Service handles call lifecycle and signaling business logic
type Service struct {
	callRepo      CallRepository
	claimRepo     ClaimRepository
	historyRepo   HistoryRepository
	candidateRepo CandidateRepository
	bus           EventBus
	directoryRepo DirectoryRepository
	notifier      Notifier
	metrics       *metrics.Metrics
	ringTimeout   time.Duration

	ringTimersMu sync.Mutex
	ringTimers   map[uuid.UUID]*time.Timer
}

// NewService creates a new call service
func NewService(
	callRepo CallRepository,
	claimRepo ClaimRepository,
	historyRepo HistoryRepository,
	candidateRepo CandidateRepository,
	bus EventBus,
	directoryRepo DirectoryRepository,
	notifier Notifier,
	m *metrics.Metrics,
	ringTimeout time.Duration,
) *Service {
	return &Service{
		callRepo:      callRepo,
		claimRepo:     claimRepo,
		historyRepo:   historyRepo,
		candidateRepo: candidateRepo,
		bus:           bus,
		directoryRepo: directoryRepo,
		notifier:      notifier,
		metrics:       m,
		ringTimeout:   ringTimeout,
		ringTimers:    make(map[uuid.UUID]*time.Timer),
	}
}

// CreateCallInput contains call creation data
type CreateCallInput struct {
	CallerID       uuid.UUID
	ReceiverID     uuid.UUID
	CallType       domain.CallType
	ConversationID *uuid.UUID
}

// CreateCall starts a new ringing call. Both parties must be free; the
// busy pre-checks give fast feedback, and the transactional claim insert
// is what actually decides races.
func (s *Service) CreateCall(ctx context.Context, input *CreateCallInput) (*domain.Call, error) {
	if input.CallerID == input.ReceiverID {
		return nil, apperrors.ValidationError("Cannot call yourself")
	}
	if input.CallType != domain.CallTypeVoice && input.CallType != domain.CallTypeVideo {
		return nil, apperrors.ValidationError("Invalid call type")
	}

	if busy, err := s.claimRepo.IsBusy(ctx, input.CallerID); err != nil {
		return nil, apperrors.TransportError("Failed to check caller availability", err)
	} else if busy {
		return nil, apperrors.BusyError("You are already in a call")
	}
	if busy, err := s.claimRepo.IsBusy(ctx, input.ReceiverID); err != nil {
		return nil, apperrors.TransportError("Failed to check receiver availability", err)
	} else if busy {
		return nil, apperrors.BusyError("User is busy")
	}

	call := &domain.Call{
		CallID:         uuid.New(),
		CallerID:       input.CallerID,
		ReceiverID:     input.ReceiverID,
		CallType:       input.CallType,
		Status:         domain.StatusRinging,
		CreatedAt:      time.Now(),
		ConversationID: input.ConversationID,
	}

	if err := s.callRepo.CreateWithClaims(ctx, call); err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeBusy) {
			return nil, err
		}
		return nil, apperrors.TransportError("Failed to create call", err)
	}

	s.metrics.IncrementActiveCalls()

	s.bus.Publish(ctx, events.UserCallsChannel(call.ReceiverID.String()), events.KindAdded, call)
	s.bus.Publish(ctx, events.CallEventsChannel(call.CallID.String()), events.KindAdded, call)

	if s.notifier != nil {
		if err := s.notifier.NotifyIncomingCall(ctx, call.ReceiverID, call); err != nil {
			logger.Warn("incoming call notification failed",
				zap.String("call_id", call.CallID.String()),
				zap.Error(err))
		}
	}

	s.startRingTimer(call.CallID)

	logger.Info("call created",
		zap.String("call_id", call.CallID.String()),
		zap.String("caller_id", call.CallerID.String()),
		zap.String("receiver_id", call.ReceiverID.String()),
		zap.String("call_type", string(call.CallType)))

	return call, nil
}

// AcceptCall transitions a ringing call to accepted. Only the receiver
// may accept.
func (s *Service) AcceptCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if userID != call.ReceiverID {
		return nil, apperrors.ForbiddenError("Only the receiver can accept a call")
	}
	if !call.Status.CanTransitionTo(domain.StatusAccepted) {
		return nil, apperrors.IllegalTransitionError(string(call.Status), string(domain.StatusAccepted))
	}

	accepted, err := s.callRepo.MarkAccepted(ctx, callID)
	if err != nil {
		return nil, err
	}

	s.stopRingTimer(callID)
	s.metrics.RecordRingToAccept(accepted.AcceptedAt.Sub(accepted.CreatedAt))

	s.bus.Publish(ctx, events.CallEventsChannel(callID.String()), events.KindModified, accepted)
	s.bus.Publish(ctx, events.UserCallsChannel(accepted.ReceiverID.String()), events.KindRemoved, accepted)

	logger.Info("call accepted",
		zap.String("call_id", callID.String()),
		zap.String("user_id", userID.String()))

	return accepted, nil
}

// DeclineCall terminates a ringing call from the receiver side
func (s *Service) DeclineCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if userID != call.ReceiverID {
		return nil, apperrors.ForbiddenError("Only the receiver can decline a call")
	}
	if !call.Status.CanTransitionTo(domain.StatusDeclined) {
		return nil, apperrors.IllegalTransitionError(string(call.Status), string(domain.StatusDeclined))
	}

	return s.terminate(ctx, callID, domain.StatusDeclined, 0, "")
}

// CancelCall terminates a ringing call from the caller side
func (s *Service) CancelCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if userID != call.CallerID {
		return nil, apperrors.ForbiddenError("Only the caller can cancel a call")
	}
	if !call.Status.CanTransitionTo(domain.StatusCancelled) {
		return nil, apperrors.IllegalTransitionError(string(call.Status), string(domain.StatusCancelled))
	}

	return s.terminate(ctx, callID, domain.StatusCancelled, 0, "")
}

// EndCall terminates a call from either participant. An accepted call
// ends with its duration measured from acceptance; a call that was never
// accepted is cancelled instead, since "ended" implies it was live.
func (s *Service) EndCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsParticipant(userID) {
		return nil, apperrors.ForbiddenError("Not a participant of this call")
	}

	to := domain.StatusEnded
	duration := 0
	if call.AcceptedAt != nil {
		duration = int(time.Since(*call.AcceptedAt).Seconds())
	} else {
		to = domain.StatusCancelled
	}

	return s.terminate(ctx, callID, to, duration, "")
}

// FailCall force-terminates a call after a fatal negotiation or media
// error. A ringing call is cancelled, an accepted one ended, and the
// reason is recorded either way.
func (s *Service) FailCall(ctx context.Context, callID uuid.UUID, reason string) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status.IsTerminal() {
		return call, nil
	}

	to := domain.StatusCancelled
	duration := 0
	if call.Status == domain.StatusAccepted {
		to = domain.StatusEnded
		duration = int(time.Since(*call.AcceptedAt).Seconds())
	}

	logger.Warn("call failed",
		zap.String("call_id", callID.String()),
		zap.String("reason", reason))

	return s.terminate(ctx, callID, to, duration, reason)
}

// terminate performs the shared terminal transition: guarded status
// update, best-effort claim clears, history write, events, metrics.
func (s *Service) terminate(ctx context.Context, callID uuid.UUID, to domain.CallStatus, duration int, reason string) (*domain.Call, error) {
	call, err := s.callRepo.MarkTerminal(ctx, callID, to, duration, reason)
	if err != nil {
		return nil, err
	}

	s.stopRingTimer(callID)

	// The claim clear is best-effort: a stuck claim self-heals on the next
	// create attempt against the terminal call, so failures are logged
	// and counted, never propagated.
	if err := s.claimRepo.ClearForCall(ctx, callID); err != nil {
		s.metrics.RecordClaimClearFailure()
		logger.Error("failed to clear call claims",
			zap.String("call_id", callID.String()),
			zap.Error(err))
	}

	if err := s.historyRepo.RecordCompleted(ctx, call); err != nil {
		logger.Error("failed to record call history",
			zap.String("call_id", callID.String()),
			zap.Error(err))
	}

	s.metrics.DecrementActiveCalls()
	s.metrics.RecordCallOutcome(string(call.Status), string(call.CallType))
	if call.Status == domain.StatusEnded {
		s.metrics.RecordCallDuration(call.Duration)
	}

	s.bus.Publish(ctx, events.CallEventsChannel(callID.String()), events.KindModified, call)
	s.bus.Publish(ctx, events.UserCallsChannel(call.ReceiverID.String()), events.KindRemoved, call)

	logger.Info("call terminated",
		zap.String("call_id", callID.String()),
		zap.String("status", string(call.Status)),
		zap.Int("duration", call.Duration))

	return call, nil
}

// ActiveCall returns the call the user currently holds a claim for, or
// (nil, nil) when the user is free. Lets a reconnecting client find its
// way back into a live call.
func (s *Service) ActiveCall(ctx context.Context, userID uuid.UUID) (*domain.Call, error) {
	claim, err := s.claimRepo.GetClaim(ctx, userID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeClaimNotFound) {
			return nil, nil
		}
		return nil, apperrors.TransportError("Failed to look up active call", err)
	}

	call, err := s.callRepo.GetByID(ctx, claim.CallID)
	if err != nil {
		return nil, err
	}

	return call, nil
}

// GetCall retrieves a call, restricted to its participants
func (s *Service) GetCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsParticipant(userID) {
		return nil, apperrors.ForbiddenError("Not a participant of this call")
	}
	return call, nil
}

// IncomingCall surfaces the user's earliest ringing call. Surplus ringing
// calls should not exist while claims hold, but crash recovery can leave
// them behind; they are reconciled here by declining them as busy.
func (s *Service) IncomingCall(ctx context.Context, userID uuid.UUID) (*domain.Call, error) {
	ringing, err := s.callRepo.RingingForReceiver(ctx, userID)
	if err != nil {
		return nil, apperrors.TransportError("Failed to list ringing calls", err)
	}
	if len(ringing) == 0 {
		return nil, nil
	}

	for _, surplus := range ringing[1:] {
		if _, err := s.terminate(ctx, surplus.CallID, domain.StatusDeclined, 0, domain.EndReasonBusy); err != nil {
			logger.Warn("failed to auto-decline surplus ringing call",
				zap.String("call_id", surplus.CallID.String()),
				zap.Error(err))
		}
	}

	return ringing[0], nil
}

// WatchIncoming subscribes to a user's incoming-call events
func (s *Service) WatchIncoming(ctx context.Context, userID uuid.UUID) (<-chan events.Event, events.CancelFunc, error) {
	return s.bus.Subscribe(ctx, events.UserCallsChannel(userID.String()))
}

// WatchCall subscribes to one call's lifecycle events, restricted to its
// participants
func (s *Service) WatchCall(ctx context.Context, callID, userID uuid.UUID) (<-chan events.Event, events.CancelFunc, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, nil, err
	}
	if !call.IsParticipant(userID) {
		return nil, nil, apperrors.ForbiddenError("Not a participant of this call")
	}
	return s.bus.Subscribe(ctx, events.CallEventsChannel(callID.String()))
}

// SetOffer stores the caller's SDP offer and announces it
func (s *Service) SetOffer(ctx context.Context, callID, userID uuid.UUID, sdp string) error {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	if userID != call.CallerID {
		return apperrors.ForbiddenError("Only the caller sends the offer")
	}

	if err := s.callRepo.SetOffer(ctx, callID, sdp); err != nil {
		return err
	}

	s.metrics.RecordSignalingMessage("offer")
	call.Offer = &sdp
	s.bus.Publish(ctx, events.CallEventsChannel(callID.String()), events.KindModified, call)

	return nil
}

// SetAnswer stores the receiver's SDP answer and announces it
func (s *Service) SetAnswer(ctx context.Context, callID, userID uuid.UUID, sdp string) error {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	if userID != call.ReceiverID {
		return apperrors.ForbiddenError("Only the receiver sends the answer")
	}

	if err := s.callRepo.SetAnswer(ctx, callID, sdp); err != nil {
		return err
	}

	s.metrics.RecordSignalingMessage("answer")
	call.Answer = &sdp
	s.bus.Publish(ctx, events.CallEventsChannel(callID.String()), events.KindModified, call)

	return nil
}

// SendCandidate persists a trickle-ICE candidate and announces it.
// Candidates are accepted while the call is live; seq preserves send order
// for replay.
func (s *Service) SendCandidate(ctx context.Context, callID, senderID uuid.UUID, candidate string) (*domain.ICECandidateMessage, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsParticipant(senderID) {
		return nil, apperrors.ForbiddenError("Not a participant of this call")
	}
	if call.Status.IsTerminal() {
		return nil, apperrors.NegotiationError("Call is no longer live", nil)
	}

	now := time.Now()
	msg := &domain.ICECandidateMessage{
		CallID:    callID,
		SenderID:  senderID,
		Seq:       now.UnixNano(),
		Candidate: candidate,
		CreatedAt: now,
	}

	if err := s.candidateRepo.Append(msg); err != nil {
		return nil, apperrors.TransportError("Failed to store candidate", err)
	}

	s.metrics.RecordSignalingMessage("ice_candidate")
	s.bus.Publish(ctx, events.CallEventsChannel(callID.String()), events.KindAdded, msg)

	return msg, nil
}

// CandidatesFrom replays the counterpart's stored candidates for a call.
// Used by a peer that reconnected mid-negotiation.
func (s *Service) CandidatesFrom(ctx context.Context, callID, userID uuid.UUID) ([]*domain.ICECandidateMessage, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsParticipant(userID) {
		return nil, apperrors.ForbiddenError("Not a participant of this call")
	}

	candidates, err := s.candidateRepo.ListBySender(callID, call.Counterpart(userID))
	if err != nil {
		return nil, apperrors.TransportError("Failed to load candidates", err)
	}

	return candidates, nil
}

// HistoryPage is one page of a user's call history
type HistoryPage struct {
	Entries       []*domain.CallHistoryEntry `json:"entries"`
	NextPageToken string                     `json:"next_page_token,omitempty"`
}

// GetHistory retrieves a page of the user's call history
func (s *Service) GetHistory(ctx context.Context, userID uuid.UUID, pageToken string, limit int) (*HistoryPage, error) {
	cursor, err := pagination.Decode(pageToken)
	if err != nil {
		return nil, apperrors.InvalidInputError("Invalid page token")
	}
	limit = pagination.ClampLimit(limit)

	entries, err := s.historyRepo.GetHistory(ctx, userID, cursor, limit)
	if err != nil {
		return nil, apperrors.TransportError("Failed to load call history", err)
	}

	page := &HistoryPage{Entries: entries}
	if len(entries) == limit {
		last := entries[len(entries)-1]
		page.NextPageToken = pagination.Encode(&pagination.Cursor{
			StartedAt: last.StartedAt,
			ID:        last.CallID,
		})
	}

	return page, nil
}

// ResolveUser returns a user's display profile, degrading to a bare ID
// on cache miss or directory trouble
func (s *Service) ResolveUser(ctx context.Context, userID uuid.UUID) *domain.UserInfo {
	info, err := s.directoryRepo.GetUserInfo(ctx, userID)
	if err != nil {
		return &domain.UserInfo{UserID: userID}
	}
	return info
}

func (s *Service) startRingTimer(callID uuid.UUID) {
	if s.ringTimeout <= 0 {
		return
	}

	s.ringTimersMu.Lock()
	defer s.ringTimersMu.Unlock()

	s.ringTimers[callID] = time.AfterFunc(s.ringTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := s.terminate(ctx, callID, domain.StatusMissed, 0, domain.EndReasonTimeout)
		if err != nil && !apperrors.IsCode(err, apperrors.ErrCodeIllegalTransition) {
			logger.Error("ring timeout handling failed",
				zap.String("call_id", callID.String()),
				zap.Error(err))
		}
	})
}

func (s *Service) stopRingTimer(callID uuid.UUID) {
	s.ringTimersMu.Lock()
	defer s.ringTimersMu.Unlock()

	if t, ok := s.ringTimers[callID]; ok {
		t.Stop()
		delete(s.ringTimers, callID)
	}
}

// Shutdown stops all pending ring timers
func (s *Service) Shutdown() {
	s.ringTimersMu.Lock()
	defer s.ringTimersMu.Unlock()

	for id, t := range s.ringTimers {
		t.Stop()
		delete(s.ringTimers, id)
	}
}
