package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts accepted webhook events by event type.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linedesk_webhook_events_total",
		Help: "Webhook events processed, by event type.",
	}, []string{"type"})

	// SkippedUnits counts units of work dropped because a referenced entity
	// was missing (deleted message, unknown scenario, ...).
	SkippedUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linedesk_skipped_units_total",
		Help: "Units of work skipped due to missing referenced entities.",
	}, []string{"reason"})

	// Deliveries counts outbound gateway sends by kind and outcome.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linedesk_deliveries_total",
		Help: "Outbound deliveries, by kind (push/multicast) and result.",
	}, []string{"kind", "result"})

	// SweepItems counts items handled by the periodic sweeps.
	SweepItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linedesk_sweep_items_total",
		Help: "Items processed by periodic sweeps, by sweep name.",
	}, []string{"sweep"})
)
