package call

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"peercall-backend/internal/domain"
	"peercall-backend/internal/events"
	apperrors "peercall-backend/pkg/errors"
	"peercall-backend/pkg/metrics"
	"peercall-backend/pkg/pagination"
)

// MockCallRepository is a mock implementation of CallRepository
type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) CreateWithClaims(ctx context.Context, call *domain.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *MockCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) MarkAccepted(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) MarkTerminal(ctx context.Context, callID uuid.UUID, to domain.CallStatus, duration int, reason string) (*domain.Call, error) {
	args := m.Called(ctx, callID, to, duration, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) SetOffer(ctx context.Context, callID uuid.UUID, sdp string) error {
	args := m.Called(ctx, callID, sdp)
	return args.Error(0)
}

func (m *MockCallRepository) SetAnswer(ctx context.Context, callID uuid.UUID, sdp string) error {
	args := m.Called(ctx, callID, sdp)
	return args.Error(0)
}

func (m *MockCallRepository) RingingForReceiver(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Call), args.Error(1)
}

// MockClaimRepository is a mock implementation of ClaimRepository
type MockClaimRepository struct {
	mock.Mock
}

func (m *MockClaimRepository) IsBusy(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockClaimRepository) GetClaim(ctx context.Context, userID uuid.UUID) (*domain.ActiveCallClaim, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ActiveCallClaim), args.Error(1)
}

func (m *MockClaimRepository) ClearForCall(ctx context.Context, callID uuid.UUID) error {
	args := m.Called(ctx, callID)
	return args.Error(0)
}

// MockHistoryRepository is a mock implementation of HistoryRepository
type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) RecordCompleted(ctx context.Context, call *domain.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *MockHistoryRepository) GetHistory(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]*domain.CallHistoryEntry, error) {
	args := m.Called(ctx, userID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallHistoryEntry), args.Error(1)
}

// MockCandidateRepository is a mock implementation of CandidateRepository
type MockCandidateRepository struct {
	mock.Mock
}

func (m *MockCandidateRepository) Append(msg *domain.ICECandidateMessage) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockCandidateRepository) ListBySender(callID, senderID uuid.UUID) ([]*domain.ICECandidateMessage, error) {
	args := m.Called(callID, senderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ICECandidateMessage), args.Error(1)
}

// MockEventBus is a mock implementation of EventBus
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, channel, kind string, payload interface{}) {
	m.Called(ctx, channel, kind, payload)
}

func (m *MockEventBus) Subscribe(ctx context.Context, channel string) (<-chan events.Event, events.CancelFunc, error) {
	args := m.Called(ctx, channel)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(<-chan events.Event), args.Get(1).(events.CancelFunc), args.Error(2)
}

// MockDirectoryRepository is a mock implementation of DirectoryRepository
type MockDirectoryRepository struct {
	mock.Mock
}

func (m *MockDirectoryRepository) GetUserInfo(ctx context.Context, userID uuid.UUID) (*domain.UserInfo, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UserInfo), args.Error(1)
}

type fixture struct {
	callRepo      *MockCallRepository
	claimRepo     *MockClaimRepository
	historyRepo   *MockHistoryRepository
	candidateRepo *MockCandidateRepository
	bus           *MockEventBus
	directoryRepo *MockDirectoryRepository
	service       *Service
}

func newFixture() *fixture {
	f := &fixture{
		callRepo:      new(MockCallRepository),
		claimRepo:     new(MockClaimRepository),
		historyRepo:   new(MockHistoryRepository),
		candidateRepo: new(MockCandidateRepository),
		bus:           new(MockEventBus),
		directoryRepo: new(MockDirectoryRepository),
	}
	// Ring timer disabled so tests control transitions explicitly
	f.service = NewService(
		f.callRepo, f.claimRepo, f.historyRepo, f.candidateRepo,
		f.bus, f.directoryRepo, nil, metrics.NewMetrics("call-service-test"), 0,
	)
	return f
}

// TestCreateCall tests successful call creation
func TestCreateCall(t *testing.T) {
	f := newFixture()

	callerID := uuid.New()
	receiverID := uuid.New()

	f.claimRepo.On("IsBusy", mock.Anything, callerID).Return(false, nil)
	f.claimRepo.On("IsBusy", mock.Anything, receiverID).Return(false, nil)
	f.callRepo.On("CreateWithClaims", mock.Anything, mock.AnythingOfType("*domain.Call")).Return(nil)
	f.bus.On("Publish", mock.Anything, mock.Anything, events.KindAdded, mock.Anything).Return()

	created, err := f.service.CreateCall(context.Background(), &CreateCallInput{
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   domain.CallTypeVideo,
	})

	assert.NoError(t, err)
	assert.NotNil(t, created)
	assert.Equal(t, domain.StatusRinging, created.Status)
	assert.Equal(t, callerID, created.CallerID)
	assert.Equal(t, receiverID, created.ReceiverID)

	f.callRepo.AssertExpectations(t)
	f.claimRepo.AssertExpectations(t)
}

// TestCreateCall_SelfCall tests calling yourself
func TestCreateCall_SelfCall(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	_, err := f.service.CreateCall(context.Background(), &CreateCallInput{
		CallerID:   userID,
		ReceiverID: userID,
		CallType:   domain.CallTypeVoice,
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

// TestCreateCall_ReceiverBusy tests creating a call to a busy receiver
func TestCreateCall_ReceiverBusy(t *testing.T) {
	f := newFixture()

	callerID := uuid.New()
	receiverID := uuid.New()

	f.claimRepo.On("IsBusy", mock.Anything, callerID).Return(false, nil)
	f.claimRepo.On("IsBusy", mock.Anything, receiverID).Return(true, nil)

	_, err := f.service.CreateCall(context.Background(), &CreateCallInput{
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   domain.CallTypeVoice,
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBusy))
	f.callRepo.AssertNotCalled(t, "CreateWithClaims")
}

// TestCreateCall_ClaimRace tests losing the claim race after pre-checks
func TestCreateCall_ClaimRace(t *testing.T) {
	f := newFixture()

	callerID := uuid.New()
	receiverID := uuid.New()

	f.claimRepo.On("IsBusy", mock.Anything, mock.Anything).Return(false, nil)
	f.callRepo.On("CreateWithClaims", mock.Anything, mock.Anything).
		Return(apperrors.BusyError("User is already in a call"))

	_, err := f.service.CreateCall(context.Background(), &CreateCallInput{
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   domain.CallTypeVideo,
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBusy))
}

// TestAcceptCall tests the receiver accepting a ringing call
func TestAcceptCall(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	callerID := uuid.New()
	receiverID := uuid.New()
	now := time.Now()

	ringing := &domain.Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.StatusRinging,
		CreatedAt:  now.Add(-2 * time.Second),
	}
	accepted := &domain.Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.StatusAccepted,
		CreatedAt:  ringing.CreatedAt,
		AcceptedAt: &now,
	}

	f.callRepo.On("GetByID", mock.Anything, callID).Return(ringing, nil)
	f.callRepo.On("MarkAccepted", mock.Anything, callID).Return(accepted, nil)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	result, err := f.service.AcceptCall(context.Background(), callID, receiverID)

	assert.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, result.Status)
	f.callRepo.AssertExpectations(t)
}

// TestAcceptCall_NotReceiver tests the caller trying to accept
func TestAcceptCall_NotReceiver(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	callerID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: uuid.New(),
		Status:     domain.StatusRinging,
	}, nil)

	_, err := f.service.AcceptCall(context.Background(), callID, callerID)

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
	f.callRepo.AssertNotCalled(t, "MarkAccepted")
}

// TestDeclineCall tests the receiver declining and claims clearing
func TestDeclineCall(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	callerID := uuid.New()
	receiverID := uuid.New()

	ringing := &domain.Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.StatusRinging,
	}
	declined := &domain.Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.StatusDeclined,
	}

	f.callRepo.On("GetByID", mock.Anything, callID).Return(ringing, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, callID, domain.StatusDeclined, 0, "").Return(declined, nil)
	f.claimRepo.On("ClearForCall", mock.Anything, callID).Return(nil)
	f.historyRepo.On("RecordCompleted", mock.Anything, declined).Return(nil)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	result, err := f.service.DeclineCall(context.Background(), callID, receiverID)

	assert.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, result.Status)
	f.claimRepo.AssertExpectations(t)
	f.historyRepo.AssertExpectations(t)
}

// TestEndCall_Duration tests that end measures duration from acceptance
func TestEndCall_Duration(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	callerID := uuid.New()
	receiverID := uuid.New()
	acceptedAt := time.Now().Add(-90 * time.Second)

	active := &domain.Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.StatusAccepted,
		AcceptedAt: &acceptedAt,
	}
	ended := &domain.Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.StatusEnded,
		Duration:   90,
	}

	f.callRepo.On("GetByID", mock.Anything, callID).Return(active, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, callID, domain.StatusEnded,
		mock.MatchedBy(func(d int) bool { return d >= 90 && d <= 92 }), "").Return(ended, nil)
	f.claimRepo.On("ClearForCall", mock.Anything, callID).Return(nil)
	f.historyRepo.On("RecordCompleted", mock.Anything, ended).Return(nil)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	result, err := f.service.EndCall(context.Background(), callID, callerID)

	assert.NoError(t, err)
	assert.Equal(t, domain.StatusEnded, result.Status)
	f.callRepo.AssertExpectations(t)
}

// TestEndCall_NeverAccepted tests that ending a call that was never live
// records a cancellation rather than rejecting the hang-up
func TestEndCall_NeverAccepted(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	callerID := uuid.New()
	receiverID := uuid.New()

	ringing := &domain.Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.StatusRinging,
	}
	cancelled := &domain.Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.StatusCancelled,
	}

	f.callRepo.On("GetByID", mock.Anything, callID).Return(ringing, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, callID, domain.StatusCancelled, 0, "").Return(cancelled, nil)
	f.claimRepo.On("ClearForCall", mock.Anything, callID).Return(nil)
	f.historyRepo.On("RecordCompleted", mock.Anything, cancelled).Return(nil)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	result, err := f.service.EndCall(context.Background(), callID, callerID)

	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, result.Status)
	assert.Zero(t, result.Duration)
	f.callRepo.AssertExpectations(t)
}

// TestAcceptCall_AlreadyTerminal tests rejecting a late accept
func TestAcceptCall_AlreadyTerminal(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	receiverID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		CallID:     callID,
		CallerID:   uuid.New(),
		ReceiverID: receiverID,
		Status:     domain.StatusDeclined,
	}, nil)

	_, err := f.service.AcceptCall(context.Background(), callID, receiverID)

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeIllegalTransition))
	f.callRepo.AssertNotCalled(t, "MarkAccepted")
}

// TestActiveCall tests resolving a user's claim back to its call
func TestActiveCall(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	userID := uuid.New()
	live := &domain.Call{
		CallID:     callID,
		CallerID:   userID,
		ReceiverID: uuid.New(),
		Status:     domain.StatusAccepted,
	}

	f.claimRepo.On("GetClaim", mock.Anything, userID).Return(&domain.ActiveCallClaim{
		UserID: userID,
		CallID: callID,
	}, nil)
	f.callRepo.On("GetByID", mock.Anything, callID).Return(live, nil)

	result, err := f.service.ActiveCall(context.Background(), userID)

	assert.NoError(t, err)
	assert.Equal(t, callID, result.CallID)
}

// TestActiveCall_Free tests that a user without a claim gets no call and
// no error
func TestActiveCall_Free(t *testing.T) {
	f := newFixture()

	userID := uuid.New()
	f.claimRepo.On("GetClaim", mock.Anything, userID).Return(nil, apperrors.ClaimNotFoundError())

	result, err := f.service.ActiveCall(context.Background(), userID)

	assert.NoError(t, err)
	assert.Nil(t, result)
	f.callRepo.AssertNotCalled(t, "GetByID")
}

// TestTerminate_ClaimClearFailure tests that a failed claim clear does not
// fail termination
func TestTerminate_ClaimClearFailure(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	callerID := uuid.New()
	receiverID := uuid.New()

	ringing := &domain.Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.StatusRinging,
	}
	cancelled := &domain.Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.StatusCancelled,
	}

	f.callRepo.On("GetByID", mock.Anything, callID).Return(ringing, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, callID, domain.StatusCancelled, 0, "").Return(cancelled, nil)
	f.claimRepo.On("ClearForCall", mock.Anything, callID).Return(assert.AnError)
	f.historyRepo.On("RecordCompleted", mock.Anything, cancelled).Return(nil)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	result, err := f.service.CancelCall(context.Background(), callID, callerID)

	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, result.Status)
	f.claimRepo.AssertExpectations(t)
}

// TestFailCall_Ringing tests that negotiation failure cancels a ringing call
func TestFailCall_Ringing(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	ringing := &domain.Call{
		CallID:     callID,
		CallerID:   uuid.New(),
		ReceiverID: uuid.New(),
		Status:     domain.StatusRinging,
	}
	cancelled := &domain.Call{
		CallID:     callID,
		CallerID:   ringing.CallerID,
		ReceiverID: ringing.ReceiverID,
		Status:     domain.StatusCancelled,
		EndReason:  domain.EndReasonNegotiationFailed,
	}

	f.callRepo.On("GetByID", mock.Anything, callID).Return(ringing, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, callID, domain.StatusCancelled, 0, domain.EndReasonNegotiationFailed).
		Return(cancelled, nil)
	f.claimRepo.On("ClearForCall", mock.Anything, callID).Return(nil)
	f.historyRepo.On("RecordCompleted", mock.Anything, cancelled).Return(nil)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	result, err := f.service.FailCall(context.Background(), callID, domain.EndReasonNegotiationFailed)

	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, result.Status)
}

// TestFailCall_AlreadyTerminal tests that failing a finished call is a no-op
func TestFailCall_AlreadyTerminal(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	ended := &domain.Call{
		CallID: callID,
		Status: domain.StatusEnded,
	}

	f.callRepo.On("GetByID", mock.Anything, callID).Return(ended, nil)

	result, err := f.service.FailCall(context.Background(), callID, "whatever")

	assert.NoError(t, err)
	assert.Equal(t, domain.StatusEnded, result.Status)
	f.callRepo.AssertNotCalled(t, "MarkTerminal")
}

// TestIncomingCall_SurplusDeclined tests reconciliation of extra ringing calls
func TestIncomingCall_SurplusDeclined(t *testing.T) {
	f := newFixture()

	receiverID := uuid.New()
	first := &domain.Call{
		CallID:     uuid.New(),
		CallerID:   uuid.New(),
		ReceiverID: receiverID,
		Status:     domain.StatusRinging,
		CreatedAt:  time.Now().Add(-10 * time.Second),
	}
	surplus := &domain.Call{
		CallID:     uuid.New(),
		CallerID:   uuid.New(),
		ReceiverID: receiverID,
		Status:     domain.StatusRinging,
		CreatedAt:  time.Now(),
	}
	surplusDeclined := &domain.Call{
		CallID:     surplus.CallID,
		CallerID:   surplus.CallerID,
		ReceiverID: receiverID,
		Status:     domain.StatusDeclined,
		EndReason:  domain.EndReasonBusy,
	}

	f.callRepo.On("RingingForReceiver", mock.Anything, receiverID).
		Return([]*domain.Call{first, surplus}, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, surplus.CallID, domain.StatusDeclined, 0, domain.EndReasonBusy).
		Return(surplusDeclined, nil)
	f.claimRepo.On("ClearForCall", mock.Anything, surplus.CallID).Return(nil)
	f.historyRepo.On("RecordCompleted", mock.Anything, surplusDeclined).Return(nil)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	result, err := f.service.IncomingCall(context.Background(), receiverID)

	assert.NoError(t, err)
	assert.Equal(t, first.CallID, result.CallID)
	f.callRepo.AssertExpectations(t)
}

// TestSendCandidate tests storing and announcing a trickle-ICE candidate
func TestSendCandidate(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	callerID := uuid.New()
	receiverID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.StatusAccepted,
	}, nil)
	f.candidateRepo.On("Append", mock.AnythingOfType("*domain.ICECandidateMessage")).Return(nil)
	f.bus.On("Publish", mock.Anything, mock.Anything, events.KindAdded, mock.Anything).Return()

	msg, err := f.service.SendCandidate(context.Background(), callID, callerID, `{"candidate":"candidate:1"}`)

	assert.NoError(t, err)
	assert.Equal(t, callerID, msg.SenderID)
	assert.NotZero(t, msg.Seq)
	f.candidateRepo.AssertExpectations(t)
}

// TestSendCandidate_TerminalCall tests rejecting candidates after the call ended
func TestSendCandidate_TerminalCall(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	callerID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: uuid.New(),
		Status:     domain.StatusEnded,
	}, nil)

	_, err := f.service.SendCandidate(context.Background(), callID, callerID, `{}`)

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNegotiation))
	f.candidateRepo.AssertNotCalled(t, "Append")
}

// TestSetAnswer_NotReceiver tests that only the receiver answers
func TestSetAnswer_NotReceiver(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	callerID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: uuid.New(),
		Status:     domain.StatusRinging,
	}, nil)

	err := f.service.SetAnswer(context.Background(), callID, callerID, "v=0...")

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
}

// TestGetHistory_Pagination tests cursor threading through the history page
func TestGetHistory_Pagination(t *testing.T) {
	f := newFixture()

	userID := uuid.New()
	entries := make([]*domain.CallHistoryEntry, 20)
	base := time.Now()
	for i := range entries {
		entries[i] = &domain.CallHistoryEntry{
			CallID:    uuid.New(),
			UserID:    userID,
			StartedAt: base.Add(-time.Duration(i) * time.Minute),
		}
	}

	f.historyRepo.On("GetHistory", mock.Anything, userID, (*pagination.Cursor)(nil), 20).Return(entries, nil)

	page, err := f.service.GetHistory(context.Background(), userID, "", 20)

	assert.NoError(t, err)
	assert.Len(t, page.Entries, 20)
	assert.NotEmpty(t, page.NextPageToken)

	// The token must decode back to the last entry's position
	cursor, err := pagination.Decode(page.NextPageToken)
	assert.NoError(t, err)
	assert.Equal(t, entries[19].CallID, cursor.ID)
}

// TestGetHistory_LastPage tests that a short page carries no token
func TestGetHistory_LastPage(t *testing.T) {
	f := newFixture()

	userID := uuid.New()
	entries := []*domain.CallHistoryEntry{
		{CallID: uuid.New(), UserID: userID, StartedAt: time.Now()},
	}

	f.historyRepo.On("GetHistory", mock.Anything, userID, (*pagination.Cursor)(nil), 20).Return(entries, nil)

	page, err := f.service.GetHistory(context.Background(), userID, "", 20)

	assert.NoError(t, err)
	assert.Len(t, page.Entries, 1)
	assert.Empty(t, page.NextPageToken)
}

// TestGetHistory_BadToken tests rejecting an undecodable page token
func TestGetHistory_BadToken(t *testing.T) {
	f := newFixture()

	_, err := f.service.GetHistory(context.Background(), uuid.New(), "not-a-token", 20)

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}
