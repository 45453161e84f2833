// Package telemetry exposes prometheus counters for the federation core.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActivitiesIngested counts inbound activities by type.
	ActivitiesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedinbox_activities_ingested_total",
		Help: "Inbound activities accepted into an inbox, by activity type.",
	}, []string{"type"})

	// ModerationOutcomes counts moderation decisions for inbound activities.
	ModerationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedinbox_moderation_outcomes_total",
		Help: "Moderation decisions for inbound activities.",
	}, []string{"outcome"})

	// Deliveries counts outbound delivery attempts by result.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedinbox_deliveries_total",
		Help: "Outbound activity delivery attempts, by result.",
	}, []string{"result"})

	// HooksFired counts webhook dispatches by event and result.
	HooksFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedinbox_hooks_fired_total",
		Help: "Webhook dispatches, by lifecycle event and result.",
	}, []string{"event", "result"})
)
