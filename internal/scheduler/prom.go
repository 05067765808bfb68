package scheduler

import (
	prom "github.com/prometheus/client_golang/prometheus"
)

const (
	promNamespace = "wager"
	promSubsystem = "scheduler"
)

var (
	ticksTotal = prom.NewCounterVec(prom.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "ticks_total",
		Help:      "scheduler ticks by loop and result",
	}, []string{"loop", "result"})
	tickDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "tick_duration_seconds",
		Help:      "time spent in one scheduler tick",
		Buckets:   prom.DefBuckets,
	}, []string{"loop"})
	activeSessions = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "active_sessions",
		Help:      "sessions in the active index at the last tick",
	}, []string{"loop"})
)

func init() {
	prom.MustRegister(ticksTotal)
	prom.MustRegister(tickDuration)
	prom.MustRegister(activeSessions)
}
