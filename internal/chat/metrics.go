package chat

import (
	"errors"
	"time"

	"github.com/MegaGrindStone/authentifi/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "authentifi"

var (
	// streamsInFlight tracks completions currently streaming across all sessions.
	streamsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "streams_in_flight",
			Help:      "Number of completions currently streaming",
		},
	)

	// streamsTotal counts finished completions.
	// Labels:
	//   - outcome: success, gateway_unavailable, gateway_error, stream_interrupted, aborted
	streamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "streams_total",
			Help:      "Total number of completions by outcome",
		},
		[]string{"outcome"},
	)

	streamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "stream_duration_seconds",
			Help:      "Time from user message to finalization or failure",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 7, 10, 15, 20, 30, 45, 60},
		},
		[]string{"outcome"},
	)
)

const (
	outcomeSuccess     = "success"
	outcomeUnavailable = "gateway_unavailable"
	outcomeGateway     = "gateway_error"
	outcomeInterrupted = "stream_interrupted"
	outcomeAborted     = "aborted"
)

func outcomeLabel(kind error) string {
	switch {
	case errors.Is(kind, models.ErrGatewayUnavailable):
		return outcomeUnavailable
	case errors.Is(kind, models.ErrGatewayError):
		return outcomeGateway
	default:
		return outcomeInterrupted
	}
}

func recordStreamStarted() {
	streamsInFlight.Inc()
}

func recordStreamEnded(outcome string, d time.Duration) {
	streamsInFlight.Dec()
	streamsTotal.WithLabelValues(outcome).Inc()
	if outcome != outcomeAborted {
		streamDuration.WithLabelValues(outcome).Observe(d.Seconds())
	}
}
