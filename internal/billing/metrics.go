package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tickTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_ticks_total",
		Help: "Scheduler ticks, per task.",
	}, []string{"task"})

	tickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_tick_errors_total",
		Help: "Scheduler ticks that returned an error, per task.",
	}, []string{"task"})

	debitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_debits_total",
		Help: "Successful per-minute wallet debits.",
	})

	creditsDeducted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_credits_deducted_total",
		Help: "Credits deducted across all sessions.",
	})

	terminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_sessions_terminated_total",
		Help: "Sessions terminated by the schedulers, per reason.",
	}, []string{"reason"})

	leaseContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_lease_contention_total",
		Help: "Sessions skipped because another processor held the lease.",
	})
)
