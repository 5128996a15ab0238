package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tracker counters, exposed on the Prometheus endpoint when monitoring is enabled.
var (
	eventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_events_processed_total",
		Help: "Contract events recorded in the wallet store.",
	})
	notificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_notifications_sent_total",
		Help: "Push deliveries accepted by the transport.",
	})
	notificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_notifications_failed_total",
		Help: "Push deliveries rejected by the transport.",
	})
	notificationsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_notifications_skipped_total",
		Help: "Subscribers whose threshold was not met.",
	})
	walletsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_wallets_evicted_total",
		Help: "Wallet entries removed by the eviction sweep.",
	})
	resyncErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_resync_errors_total",
		Help: "Failed datastore sync attempts.",
	})
)
