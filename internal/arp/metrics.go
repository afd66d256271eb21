package arp

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts ARP activity. A nil registry yields unregistered (inert)
// collectors, which keeps tests and tools quiet.
type Metrics struct {
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	RequestsSent prometheus.Counter
	RepliesSent  prometheus.Counter
	GiveUps      prometheus.Counter
	Malformed    prometheus.Counter
	QueueDepth   prometheus.Gauge
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_arp_cache_hits_total",
			Help: "Forwarding lookups answered from the ARP cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_arp_cache_misses_total",
			Help: "Forwarding lookups that had to queue on resolution.",
		}),
		RequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_arp_requests_sent_total",
			Help: "ARP requests broadcast, including retries.",
		}),
		RepliesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_arp_replies_sent_total",
			Help: "ARP replies answered for local interface addresses.",
		}),
		GiveUps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_arp_giveups_total",
			Help: "Next hops abandoned after the request cap.",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_arp_malformed_total",
			Help: "ARP packets dropped as malformed.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routerd_arp_queue_depth",
			Help: "Next hops currently awaiting resolution.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CacheHits, m.CacheMisses, m.RequestsSent,
			m.RepliesSent, m.GiveUps, m.Malformed, m.QueueDepth)
	}
	return m
}
