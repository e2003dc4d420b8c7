package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Terminal message outcomes: sent, failed, excluded, skipped
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_total",
			Help: "Messages resolved by the dispatch pipeline partitioned by outcome",
		},
		[]string{"outcome"},
	)

	// One increment per gateway call; code is "ok" for accepted messages
	gatewayAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_gateway_attempts_total",
			Help: "Gateway send attempts partitioned by result code",
		},
		[]string{"code"},
	)

	chunkErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_chunk_errors_total",
			Help: "Chunks that finished with at least one error or a panic",
		},
	)

	campaignsFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_campaigns_finalized_total",
			Help: "Campaigns moved to a terminal status partitioned by status",
		},
		[]string{"status"},
	)

	// Outstanding recipients of the last campaign reconciled while not yet terminal
	stuckRecipients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_stuck_recipients",
			Help: "Recipients without a terminal outcome seen by the last incomplete reconciliation",
		},
	)

	quotaReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_reservations_total",
			Help: "Message quota reservations partitioned by result",
		},
		[]string{"result"},
	)
)
