// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AccessOutcomes counts gate decisions by resource kind and outcome
	// (granted, not_found, expired, exhausted, password_required,
	// invalid_password, error).
	AccessOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ephem_access_outcomes_total",
		Help: "Access gate decisions by kind and outcome.",
	}, []string{"kind", "outcome"})

	// QuotaDenials counts quota rejections by category.
	QuotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ephem_quota_denials_total",
		Help: "Requests denied by the quota ledger, by category.",
	}, []string{"category"})

	// ResourcesCreated counts successful creates by kind.
	ResourcesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ephem_resources_created_total",
		Help: "Resources created, by kind.",
	}, []string{"kind"})

	// SweepDeletions counts records removed by the lifecycle sweeper.
	SweepDeletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ephem_sweep_deletions_total",
		Help: "Records deleted by the sweeper, by kind and reason.",
	}, []string{"kind", "reason"})

	// SweepErrors counts per-kind sweep failures.
	SweepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ephem_sweep_errors_total",
		Help: "Sweep passes that failed, by kind.",
	}, []string{"kind"})
)
