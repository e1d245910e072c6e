package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	locationUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_location_updates_total",
		Help: "Driver location submissions by result.",
	}, []string{"result"})

	subscriptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_subscriptions_total",
		Help: "Job tracking subscription attempts by result.",
	}, []string{"result"})

	broadcastRecipients = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracking_broadcast_recipients",
		Help:    "Number of sessions reached by a job room broadcast.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
	})

	sinkFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_sink_failures_total",
		Help: "Location samples the downstream sink refused.",
	})
)
