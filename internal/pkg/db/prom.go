package db

import (
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var statsOnce sync.Once

// registerStats exposes pool occupancy. Only the first pool of the process
// is registered.
func registerStats(p *Pool) {
	statsOnce.Do(func() {
		gauge := func(name, help string, f func() float64) prom.Collector {
			return prom.NewGaugeFunc(prom.GaugeOpts{
				Namespace: "wager",
				Subsystem: "db",
				Name:      name,
				Help:      help,
			}, f)
		}
		collectors := []prom.Collector{
			gauge("pool_acquired_conns", "Connections currently checked out of the pool.",
				func() float64 { return float64(p.Stat().AcquiredConns()) }),
			gauge("pool_idle_conns", "Idle connections held by the pool.",
				func() float64 { return float64(p.Stat().IdleConns()) }),
			gauge("pool_max_conns", "Configured maximum pool size.",
				func() float64 { return float64(p.Stat().MaxConns()) }),
		}
		for _, c := range collectors {
			if err := prom.Register(c); err != nil {
				log.Warn().Err(err).Msg("Failed to register pool metrics")
			}
		}
	})
}
