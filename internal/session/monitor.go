package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"peercall-backend/pkg/constants"
	"peercall-backend/pkg/logger"
)

// Quality is the coarse connection quality surfaced to the UI
type Quality string

const (
	QualityGood         Quality = "good"
	QualityPoor         Quality = "poor"
	QualityDisconnected Quality = "disconnected"
)

// QualitySample is one observation of the transport
type QualitySample struct {
	PacketLossPercent float64
	RoundTrip         time.Duration
	State             webrtc.PeerConnectionState
}

// Classify maps a sample to a quality level. Disconnection dominates;
// either high loss or high latency alone degrades to poor.
func Classify(s QualitySample) Quality {
	switch s.State {
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		return QualityDisconnected
	}

	if s.PacketLossPercent > constants.PoorPacketLossThreshold ||
		s.RoundTrip > constants.PoorRoundTripThreshold {
		return QualityPoor
	}

	return QualityGood
}

// Sampler produces quality samples. The production sampler reads pion
// stats; tests substitute their own.
type Sampler interface {
	Sample() QualitySample
}

// statsSampler reads loss and round-trip from the peer connection's stats
// report
type statsSampler struct {
	pc PeerConnection

	mu           sync.Mutex
	prevReceived uint32
	prevLost     int32
}

// NewStatsSampler creates a sampler backed by pion getStats
func NewStatsSampler(pc PeerConnection) Sampler {
	return &statsSampler{pc: pc}
}

func (s *statsSampler) Sample() QualitySample {
	sample := QualitySample{State: s.pc.ConnectionState()}

	var received uint32
	var lost int32

	for _, stat := range s.pc.GetStats() {
		switch v := stat.(type) {
		case webrtc.InboundRTPStreamStats:
			received += v.PacketsReceived
			lost += v.PacketsLost
		case webrtc.ICECandidatePairStats:
			if v.State == webrtc.StatsICECandidatePairStateSucceeded {
				sample.RoundTrip = time.Duration(v.CurrentRoundTripTime * float64(time.Second))
			}
		}
	}

	// Loss over the interval, not over the whole call, so quality recovers
	// when the network does
	s.mu.Lock()
	dRecv := received - s.prevReceived
	dLost := lost - s.prevLost
	s.prevReceived = received
	s.prevLost = lost
	s.mu.Unlock()

	if total := int64(dRecv) + int64(dLost); total > 0 {
		sample.PacketLossPercent = float64(dLost) / float64(total) * 100
	}

	return sample
}

// Monitor samples connection quality on a fixed interval and reports level
// changes
type Monitor struct {
	callID   uuid.UUID
	sampler  Sampler
	interval time.Duration
	onChange func(Quality)

	mu      sync.Mutex
	status  Quality
	stopped bool
	cancel  context.CancelFunc
}

// NewMonitor creates a quality monitor. onChange fires on every level
// change, including the initial sample; it may be nil.
func NewMonitor(callID uuid.UUID, sampler Sampler, onChange func(Quality)) *Monitor {
	return &Monitor{
		callID:   callID,
		sampler:  sampler,
		interval: constants.QualitySampleInterval,
		onChange: onChange,
		status:   QualityGood,
	}
}

// Start begins sampling until Stop or context cancellation
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		cancel()
		return
	}
	m.cancel = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.observe(m.sampler.Sample())
			}
		}
	}()
}

// observe records one sample and fires the change callback on transitions
func (m *Monitor) observe(sample QualitySample) {
	quality := Classify(sample)

	m.mu.Lock()
	changed := quality != m.status
	m.status = quality
	m.mu.Unlock()

	if changed {
		logger.Info("call quality changed",
			zap.String("call_id", m.callID.String()),
			zap.String("quality", string(quality)),
			zap.Float64("packet_loss_percent", sample.PacketLossPercent),
			zap.Duration("round_trip", sample.RoundTrip))
		if m.onChange != nil {
			m.onChange(quality)
		}
	}
}

// Status returns the last classified quality level
func (m *Monitor) Status() Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Stop halts sampling. Safe to call more than once, before or after Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
	}
}
