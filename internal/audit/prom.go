package audit

import (
	prom "github.com/prometheus/client_golang/prometheus"
)

const (
	promNamespace = "wager"
	promSubsystem = "audit"
)

var eventsTotal = prom.NewCounterVec(prom.CounterOpts{
	Namespace: promNamespace,
	Subsystem: promSubsystem,
	Name:      "events_total",
	Help:      "audit events by outcome",
}, []string{"mode", "result"})

func init() {
	prom.MustRegister(eventsTotal)
}
