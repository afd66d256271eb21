package router

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts slow-path activity.
type Metrics struct {
	FramesIn            prometheus.Counter
	UnknownEtherType    prometheus.Counter
	Malformed           prometheus.Counter
	LocalDelivered      prometheus.Counter
	Forwarded           prometheus.Counter
	EchoReplies         prometheus.Counter
	EchoRepliesReceived prometheus.Counter
	ICMPErrors          prometheus.Counter
	ICMPSuppressed      prometheus.Counter
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		FramesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_frames_in_total",
			Help: "Frames punted to the slow path across all ports.",
		}),
		UnknownEtherType: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_unknown_ethertype_total",
			Help: "Frames dropped for an unhandled EtherType.",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_malformed_total",
			Help: "Frames dropped by header validation.",
		}),
		LocalDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_local_delivered_total",
			Help: "IP packets addressed to the router itself.",
		}),
		Forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_forwarded_total",
			Help: "IP packets forwarded by the slow path.",
		}),
		EchoReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_icmp_echo_replies_total",
			Help: "Echo Replies originated.",
		}),
		EchoRepliesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_icmp_echo_replies_received_total",
			Help: "Echo Replies addressed to the router (ping client hook).",
		}),
		ICMPErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_icmp_errors_total",
			Help: "ICMP errors originated.",
		}),
		ICMPSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routerd_icmp_suppressed_total",
			Help: "ICMP errors withheld by the suppression rules.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.FramesIn, m.UnknownEtherType, m.Malformed,
			m.LocalDelivered, m.Forwarded, m.EchoReplies,
			m.EchoRepliesReceived, m.ICMPErrors, m.ICMPSuppressed)
	}
	return m
}
