package game

import (
	prom "github.com/prometheus/client_golang/prometheus"

	"wager-engine/internal/model"
)

const (
	promNamespace = "wager"
	promSubsystem = "game"
)

var (
	transitions = prom.NewCounterVec(prom.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "transitions_total",
		Help:      "session state transitions",
	}, []string{"mode", "status"})
	settlements = prom.NewCounterVec(prom.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "settlements_total",
		Help:      "settled sessions by result",
	}, []string{"mode", "result"})
)

func init() {
	prom.MustRegister(transitions)
	prom.MustRegister(settlements)
}

// RecordTransition counts a session entering status.
func RecordTransition(mode model.Mode, status string) {
	transitions.WithLabelValues(string(mode), status).Inc()
}

// RecordSettlement counts a settlement attempt ending in result ("ok", "failed").
func RecordSettlement(mode model.Mode, result string) {
	settlements.WithLabelValues(string(mode), result).Inc()
}
