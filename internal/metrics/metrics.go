// Package metrics exposes Prometheus instruments for the triage pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClassifyAttempts counts provider calls by result ("ok" or an error kind).
	ClassifyAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alfred_classify_attempts_total",
			Help: "Total number of classification attempts sent to the model provider",
		},
		[]string{"provider", "result"},
	)

	// ClassifyLatency tracks the duration of single provider calls.
	ClassifyLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alfred_classify_latency_seconds",
			Help:    "Model provider call latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider"},
	)

	// ClassifyInFlight is the number of classify calls holding an admission slot.
	ClassifyInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alfred_classify_in_flight",
			Help: "Classification tasks currently admitted",
		},
	)

	// Outcomes counts terminal message outcomes by category, e.g.
	// "applied/records" or "failed/rate_limited".
	Outcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alfred_outcomes_total",
			Help: "Total number of message outcomes by category",
		},
		[]string{"category"},
	)

	// LabelWrites counts label write attempts by result.
	LabelWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alfred_label_writes_total",
			Help: "Total number of label write attempts",
		},
		[]string{"result"},
	)

	// MessagesScanned counts messages read from the source.
	MessagesScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alfred_messages_scanned_total",
			Help: "Total number of messages scanned",
		},
	)

	// Cycles counts completed scan cycles by result ("ok" or "error").
	Cycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alfred_cycles_total",
			Help: "Total number of completed scan cycles",
		},
		[]string{"result"},
	)

	// LastCycle is the unix time the last cycle finished.
	LastCycle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alfred_last_cycle_timestamp_seconds",
			Help: "Unix time of the last completed scan cycle",
		},
	)
)
