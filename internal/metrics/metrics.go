// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "companion_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "companion_sessions_started_total",
			Help: "Total number of chat sessions started",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_sessions_closed_total",
			Help: "Total number of chat sessions closed by reason",
		},
		[]string{"reason"},
	)

	QuizAnswers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_quiz_answers_total",
			Help: "Total number of scored answers by call site and result",
		},
		[]string{"source", "result"},
	)
)

// RecordAnswer counts one scored answer.
func RecordAnswer(source string, correct bool) {
	result := "incorrect"
	if correct {
		result = "correct"
	}
	QuizAnswers.WithLabelValues(source, result).Inc()
}
