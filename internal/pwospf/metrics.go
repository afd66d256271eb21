package pwospf

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts protocol activity. A nil registry yields unregistered
// collectors.
type Metrics struct {
	HellosSent     prometheus.Counter
	HellosReceived prometheus.Counter
	LSUsReceived   prometheus.Counter
	LSUsStale      prometheus.Counter
	LSUsOriginated prometheus.Counter
	LSUsReflooded  prometheus.Counter
	Dropped        prometheus.Counter
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		HellosSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_pwospf_hellos_sent_total",
			Help: "HELLO packets emitted across all interfaces.",
		}),
		HellosReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_pwospf_hellos_received_total",
			Help: "Valid HELLO packets accepted.",
		}),
		LSUsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_pwospf_lsus_received_total",
			Help: "Valid LSU packets accepted.",
		}),
		LSUsStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_pwospf_lsus_stale_total",
			Help: "LSU packets dropped by the sequence filter.",
		}),
		LSUsOriginated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_pwospf_lsus_originated_total",
			Help: "Self-originated LSU floods.",
		}),
		LSUsReflooded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_pwospf_lsus_reflooded_total",
			Help: "Received LSUs forwarded on to other neighbors.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_pwospf_dropped_total",
			Help: "PWOSPF packets dropped by validation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.HellosSent, m.HellosReceived, m.LSUsReceived,
			m.LSUsStale, m.LSUsOriginated, m.LSUsReflooded, m.Dropped)
	}
	return m
}
