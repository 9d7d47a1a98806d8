// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	upstreamFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmai",
		Name:      "upstream_fetch_total",
		Help:      "Snapshot reads against the CRM backend, by domain and outcome.",
	}, []string{"domain", "outcome"})

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crmai",
		Name:      "upstream_fetch_seconds",
		Help:      "Latency of snapshot reads against the CRM backend.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2, 3, 5},
	}, []string{"domain"})

	predictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmai",
		Name:      "predictions_total",
		Help:      "Renewal predictions served, by action.",
	}, []string{"action"})

	trainings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmai",
		Name:      "training_runs_total",
		Help:      "Training attempts, by outcome (trained, insufficient, failed).",
	}, []string{"outcome"})

	modelTrained = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "crmai",
		Name:      "model_trained",
		Help:      "1 when a renewal model is installed.",
	})

	chatReplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmai",
		Name:      "chat_replies_total",
		Help:      "Chat answers, by outcome (ok, backend_error).",
	}, []string{"outcome"})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstreamFetch records one snapshot read.
func ObserveUpstreamFetch(domain string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	upstreamFetches.WithLabelValues(domain, outcome).Inc()
	upstreamLatency.WithLabelValues(domain).Observe(d.Seconds())
}

// ObservePrediction records a served prediction.
func ObservePrediction(action string) {
	predictions.WithLabelValues(action).Inc()
}

// ObserveTraining records a training attempt and the resulting model state.
func ObserveTraining(outcome string, trained bool) {
	trainings.WithLabelValues(outcome).Inc()
	if trained {
		modelTrained.Set(1)
	}
}

// ObserveChat records a chat answer.
func ObserveChat(backendFailed bool) {
	if backendFailed {
		chatReplies.WithLabelValues("backend_error").Inc()
		return
	}
	chatReplies.WithLabelValues("ok").Inc()
}
