// Package metrics holds the Prometheus collectors of the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sentinel"

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Events accepted by the bus",
	}, []string{"source"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events dropped because the bus queue was full",
	}, []string{"source"})

	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_processed_total",
		Help:      "Events processed by the bus worker",
	}, []string{"source", "outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bus_queue_depth",
		Help:      "Events waiting for the bus worker",
	})

	ReasonerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reasoner_calls_total",
		Help:      "Reasoning capability calls by pass and outcome",
	}, []string{"pass", "outcome"})

	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalations_total",
		Help:      "Escalation decisions (adopted, kept, failed, bypassed)",
	}, []string{"outcome"})

	ScreenVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "screen_verdicts_total",
		Help:      "Screening results",
	}, []string{"result"})

	SearchUses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_uses_total",
		Help:      "Search-enabled calls that actually searched",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification deliveries by outcome",
	}, []string{"outcome"})

	TaskRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_restarts_total",
		Help:      "Supervised task restarts",
	}, []string{"task"})

	TaskUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "task_up",
		Help:      "1 while a supervised task is running",
	}, []string{"task"})
)
