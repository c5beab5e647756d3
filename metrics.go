package main

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(metricsRequestsByMethod)
	prometheus.MustRegister(metricsStatusCode)
	prometheus.MustRegister(metricsMethodToCode)
	prometheus.MustRegister(metricsMethodToSuccessOrFailure)
	prometheus.MustRegister(metricsResponseTimeHistogram)
	prometheus.MustRegister(metricsDocumentCount)
}

var metricsRequestsByMethod = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "deuspy_requests_by_method",
		Help: "HTTP requests by method",
	},
	[]string{"method"},
)

var metricsStatusCode = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "deuspy_status_code",
		Help: "HTTP responses by status code",
	},
	[]string{"code"},
)

var metricsMethodToCode = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "deuspy_method_to_code",
		Help: "HTTP responses by method and status code",
	},
	[]string{"method", "code"},
)

var metricsMethodToSuccessOrFailure = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "deuspy_method_to_success_or_failure",
		Help: "HTTP requests by method and outcome",
	},
	[]string{"method", "status"},
)

var metricsResponseTimeHistogram = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "deuspy_response_time_seconds",
		Help: "HTTP response time by route",
	},
	[]string{"route"},
)

// metricsDocumentCount is incremented on a successful POST / and
// decremented on a successful DELETE /{uid}. It starts at zero when the
// process starts, whatever the database already holds, and a document
// that POST /{uid} creates at an unknown uid is not counted.
var metricsDocumentCount = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "deuspy_document_count",
		Help: "Documents created minus documents deleted since process start",
	},
)

func observeRequest(method, route string, code int, elapsedSeconds float64) {
	metricsRequestsByMethod.WithLabelValues(method).Inc()
	status := "success"
	if code >= 400 {
		status = "failure"
	}
	code_ := strconv.Itoa(code)
	metricsStatusCode.WithLabelValues(code_).Inc()
	metricsMethodToCode.WithLabelValues(method, code_).Inc()
	metricsMethodToSuccessOrFailure.WithLabelValues(method, status).Inc()
	metricsResponseTimeHistogram.WithLabelValues(route).Observe(elapsedSeconds)
}
