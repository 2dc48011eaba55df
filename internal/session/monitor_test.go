package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
)

// TestClassify tests the sample-to-quality mapping
func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		sample   QualitySample
		expected Quality
	}{
		{
			name: "clean connection",
			sample: QualitySample{
				PacketLossPercent: 0.5,
				RoundTrip:         40 * time.Millisecond,
				State:             webrtc.PeerConnectionStateConnected,
			},
			expected: QualityGood,
		},
		{
			name: "loss at threshold stays good",
			sample: QualitySample{
				PacketLossPercent: 5,
				RoundTrip:         40 * time.Millisecond,
				State:             webrtc.PeerConnectionStateConnected,
			},
			expected: QualityGood,
		},
		{
			name: "loss above threshold",
			sample: QualitySample{
				PacketLossPercent: 5.1,
				RoundTrip:         40 * time.Millisecond,
				State:             webrtc.PeerConnectionStateConnected,
			},
			expected: QualityPoor,
		},
		{
			name: "latency above threshold",
			sample: QualitySample{
				PacketLossPercent: 0,
				RoundTrip:         301 * time.Millisecond,
				State:             webrtc.PeerConnectionStateConnected,
			},
			expected: QualityPoor,
		},
		{
			name: "disconnected dominates clean stats",
			sample: QualitySample{
				PacketLossPercent: 0,
				RoundTrip:         10 * time.Millisecond,
				State:             webrtc.PeerConnectionStateDisconnected,
			},
			expected: QualityDisconnected,
		},
		{
			name: "failed state",
			sample: QualitySample{
				State: webrtc.PeerConnectionStateFailed,
			},
			expected: QualityDisconnected,
		},
		{
			name: "closed state",
			sample: QualitySample{
				State: webrtc.PeerConnectionStateClosed,
			},
			expected: QualityDisconnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.sample))
		})
	}
}

// TestMonitorObserve tests that transitions fire the change callback once
func TestMonitorObserve(t *testing.T) {
	var changes []Quality
	m := NewMonitor(uuid.New(), nil, func(q Quality) {
		changes = append(changes, q)
	})

	good := QualitySample{State: webrtc.PeerConnectionStateConnected}
	poor := QualitySample{
		PacketLossPercent: 20,
		State:             webrtc.PeerConnectionStateConnected,
	}

	m.observe(good)
	assert.Empty(t, changes)
	assert.Equal(t, QualityGood, m.Status())

	m.observe(poor)
	m.observe(poor)
	assert.Equal(t, []Quality{QualityPoor}, changes)
	assert.Equal(t, QualityPoor, m.Status())

	m.observe(good)
	assert.Equal(t, []Quality{QualityPoor, QualityGood}, changes)
}

// TestMonitorStop tests that Stop is idempotent and safe before Start
func TestMonitorStop(t *testing.T) {
	m := NewMonitor(uuid.New(), nil, nil)

	m.Stop()
	m.Stop()

	// Start after Stop must not leak a sampling goroutine; status stays put
	m.Start(context.Background())
	assert.Equal(t, QualityGood, m.Status())
}

// TestStatsSampler_IntervalLoss tests that loss is measured per interval so
// quality recovers with the network
func TestStatsSampler_IntervalLoss(t *testing.T) {
	pc := &fakePeerConnection{state: webrtc.PeerConnectionStateConnected}
	sampler := NewStatsSampler(pc)

	pc.stats = webrtc.StatsReport{
		"inbound": webrtc.InboundRTPStreamStats{
			PacketsReceived: 90,
			PacketsLost:     10,
		},
	}
	first := sampler.Sample()
	assert.InDelta(t, 10.0, first.PacketLossPercent, 0.01)

	// Next interval: 100 more received, none lost
	pc.stats = webrtc.StatsReport{
		"inbound": webrtc.InboundRTPStreamStats{
			PacketsReceived: 190,
			PacketsLost:     10,
		},
	}
	second := sampler.Sample()
	assert.InDelta(t, 0.0, second.PacketLossPercent, 0.01)
}

// TestStatsSampler_RoundTrip tests reading rtt from the succeeded pair
func TestStatsSampler_RoundTrip(t *testing.T) {
	pc := &fakePeerConnection{state: webrtc.PeerConnectionStateConnected}
	pc.stats = webrtc.StatsReport{
		"pair": webrtc.ICECandidatePairStats{
			State:                webrtc.StatsICECandidatePairStateSucceeded,
			CurrentRoundTripTime: 0.25,
		},
	}

	sample := NewStatsSampler(pc).Sample()
	assert.Equal(t, 250*time.Millisecond, sample.RoundTrip)
	assert.Equal(t, webrtc.PeerConnectionStateConnected, sample.State)
}
