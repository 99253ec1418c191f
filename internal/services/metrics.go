package services

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "authentifi"

var (
	// gatewayRequestDuration measures how long a streaming completion request stays open.
	// Labels:
	//   - provider: openai, ollama, anthropic, openrouter
	//   - model: model name
	//   - status: success, error, canceled
	gatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Duration of completion gateway requests in seconds",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 7, 10, 15, 20, 30, 45, 60},
		},
		[]string{"provider", "model", "status"},
	)

	gatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total number of completion gateway requests",
		},
		[]string{"provider", "model", "status"},
	)

	gatewayFragmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "fragments_total",
			Help:      "Total number of streamed fragments received from completion gateways",
		},
		[]string{"provider", "model"},
	)
)

const (
	statusSuccess  = "success"
	statusFailed   = "error"
	statusCanceled = "canceled"
)

// requestRecorder accumulates the outcome of one gateway request.
type requestRecorder struct {
	provider  string
	model     string
	start     time.Time
	fragments int
}

func newRequestRecorder(provider, model string) *requestRecorder {
	return &requestRecorder{
		provider: provider,
		model:    model,
		start:    time.Now(),
	}
}

func (r *requestRecorder) fragment() {
	r.fragments++
}

func (r *requestRecorder) done(err error) {
	status := statusSuccess
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = statusCanceled
	case err != nil:
		status = statusFailed
	}

	gatewayRequestDuration.WithLabelValues(r.provider, r.model, status).Observe(time.Since(r.start).Seconds())
	gatewayRequestsTotal.WithLabelValues(r.provider, r.model, status).Inc()
	if r.fragments > 0 {
		gatewayFragmentsTotal.WithLabelValues(r.provider, r.model).Add(float64(r.fragments))
	}
}
