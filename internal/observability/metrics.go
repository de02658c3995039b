package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_coach_active_sessions",
		Help: "Number of sessions currently recording",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_coach_sessions_total",
		Help: "Total number of recordings started",
	})

	recordingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_coach_recording_duration_seconds",
		Help:    "Duration of recordings in seconds",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})

	// Backend metrics
	backendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_backend_requests_total",
		Help: "Total number of coaching backend requests",
	}, []string{"operation", "status"})

	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "speech_coach_backend_latency_seconds",
		Help:    "Coaching backend request latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"operation"})

	statsPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_stats_polls_total",
		Help: "Live stats poll ticks by outcome",
	}, []string{"status"})

	// Capture metrics
	audioChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_audio_chunks_total",
		Help: "Audio chunks forwarded for analysis by outcome",
	}, []string{"status"})

	audioBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_coach_audio_bytes_total",
		Help: "Total PCM bytes sent to the coaching backend",
	})

	inputLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_coach_input_level_rms",
		Help: "RMS level (0-1) of the most recent audio chunk",
	})

	speechRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_coach_chunk_speech_ratio",
		Help:    "Fraction of each audio chunk with voice activity",
		Buckets: []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1},
	})

	recognitionRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_recognition_restarts_total",
		Help: "Recognition restarts after an unexpected end",
	}, []string{"status"})

	capabilityErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_capability_errors_total",
		Help: "Errors reported by the recognition capability",
	}, []string{"code"})

	segmentsForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_segments_total",
		Help: "Final transcript segments by outcome (forwarded or duplicate)",
	}, []string{"outcome"})

	// Gateway metrics
	gatewayClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_coach_gateway_clients",
		Help: "WebSocket clients subscribed to state updates",
	})

	gatewayDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_coach_gateway_dropped_clients_total",
		Help: "WebSocket clients disconnected for falling behind",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "speech_coach_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_coach_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRecordingStart records a recording entering Recording
func RecordRecordingStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordRecordingEnd records a recording leaving Recording
func RecordRecordingEnd(startedAt time.Time) {
	activeSessions.Dec()
	if !startedAt.IsZero() {
		recordingDuration.Observe(time.Since(startedAt).Seconds())
	}
}

// RecordBackendRequest records one backend call
func RecordBackendRequest(operation string, started time.Time, success bool) {
	backendLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	backendRequests.WithLabelValues(operation, status(success)).Inc()
}

// RecordStatsPoll records one poll tick
func RecordStatsPoll(success bool) {
	statsPolls.WithLabelValues(status(success)).Inc()
}

// RecordAudioChunk records one chunk post
func RecordAudioChunk(bytes int, success bool) {
	audioChunks.WithLabelValues(status(success)).Inc()
	if success {
		audioBytesSent.Add(float64(bytes))
	}
}

// SetInputLevel publishes the RMS level of the latest chunk
func SetInputLevel(rms float64) {
	inputLevel.Set(rms)
}

// RecordSpeechRatio observes the voice activity ratio of a chunk
func RecordSpeechRatio(ratio float64) {
	speechRatio.Observe(ratio)
}

// RecordRecognitionRestart records a watchdog restart attempt
func RecordRecognitionRestart(success bool) {
	recognitionRestarts.WithLabelValues(status(success)).Inc()
}

// RecordCapabilityError records a code reported by the recognizer
func RecordCapabilityError(code string) {
	capabilityErrors.WithLabelValues(code).Inc()
}

// RecordSegment records whether a final segment was forwarded or suppressed
func RecordSegment(forwarded bool) {
	outcome := "duplicate"
	if forwarded {
		outcome = "forwarded"
	}
	segmentsForwarded.WithLabelValues(outcome).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// SetGatewayClients records the number of connected WebSocket clients
func SetGatewayClients(n int) {
	gatewayClients.Set(float64(n))
}

// RecordGatewayDrop counts a client dropped for a full send queue
func RecordGatewayDrop() {
	gatewayDropped.Inc()
}
