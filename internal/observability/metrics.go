package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_turns_total",
		Help: "Total number of conversational turns processed",
	}, []string{"status"})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "avatar_gateway_turn_duration_seconds",
		Help:    "Duration of a full turn (synthesis plus render) in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_tts_sessions_total",
		Help: "Total number of streaming synthesis sessions by outcome",
	}, []string{"outcome"}) // outcome: completed, failed

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "avatar_gateway_tts_latency_seconds",
		Help:    "Streaming synthesis latency per turn in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	renderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "avatar_gateway_render_latency_seconds",
		Help:    "Video render latency per turn in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_llm_requests_total",
		Help: "Total number of reply-generation requests",
	}, []string{"status"})

	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "wire" (as received) or "out" (after resampling)

	framesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatar_gateway_audio_frames_total",
		Help: "Total fixed-duration audio frames emitted by the packetizer",
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// TurnMetrics tracks timings for a single conversational turn.
type TurnMetrics struct {
	startTime       time.Time
	ttsStartTime    time.Time
	renderStartTime time.Time
	mu              sync.Mutex
}

// NewTurnMetrics creates a metrics tracker for one turn.
func NewTurnMetrics() *TurnMetrics {
	return &TurnMetrics{startTime: time.Now()}
}

// RecordTurnEnd records the turn outcome and total duration.
func (m *TurnMetrics) RecordTurnEnd(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	turnsTotal.WithLabelValues(status).Inc()
	turnDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordSynthesisStart marks the beginning of streaming synthesis.
func (m *TurnMetrics) RecordSynthesisStart() {
	m.mu.Lock()
	m.ttsStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSynthesisEnd records the synthesis outcome and latency.
func (m *TurnMetrics) RecordSynthesisEnd(completed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ttsStartTime.IsZero() {
		synthesisLatency.Observe(time.Since(m.ttsStartTime).Seconds())
	}
	outcome := "completed"
	if !completed {
		outcome = "failed"
	}
	sessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordRenderStart marks the beginning of video rendering.
func (m *TurnMetrics) RecordRenderStart() {
	m.mu.Lock()
	m.renderStartTime = time.Now()
	m.mu.Unlock()
}

// RecordRenderEnd records render latency.
func (m *TurnMetrics) RecordRenderEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.renderStartTime.IsZero() {
		renderLatency.Observe(time.Since(m.renderStartTime).Seconds())
	}
}

// RecordError records an error by type and component.
func (m *TurnMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordLLMRequest records a reply-generation request outcome.
func RecordLLMRequest(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	llmRequests.WithLabelValues(status).Inc()
}

// RecordAudioBytes records audio bytes processed in a given direction.
func RecordAudioBytes(direction string, n int) {
	audioBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordFrame counts one emitted fixed-duration frame.
func RecordFrame() {
	framesEmitted.Inc()
}
