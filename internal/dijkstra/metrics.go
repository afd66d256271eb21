package dijkstra

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts recomputation activity.
type Metrics struct {
	Runs          prometheus.Counter
	DynamicRoutes prometheus.Gauge
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_dijkstra_runs_total",
			Help: "Shortest-path recomputations.",
		}),
		DynamicRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routerd_dijkstra_dynamic_routes",
			Help: "Dynamic rows produced by the last recomputation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.DynamicRoutes)
	}
	return m
}
