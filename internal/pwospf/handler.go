package pwospf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openfpga/routerd/internal/iface"
	"github.com/openfpga/routerd/internal/packet"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultHelloInterval is used when configuration does not set one.
	DefaultHelloInterval uint16 = 10

	// LSUInterval is the periodic re-origination period.
	LSUInterval = 30 * time.Second

	// InitialLSUTTL bounds how far a self-originated LSU floods.
	InitialLSUTTL uint16 = 64

	// neighborTimeoutMult scales the hello interval into the liveness
	// timeout.
	neighborTimeoutMult = 3
)

// Notifier is poked whenever the topology changed and routes must be
// recomputed.
type Notifier interface {
	Notify()
}

// FrameSender transmits a fully addressed frame out a port (HELLOs go to
// the link-layer broadcast address and need no resolution).
type FrameSender interface {
	Send(port int, frame []byte) error
}

// ResolveSender transmits a frame whose destination MAC still needs ARP
// resolution toward nextHop (LSUs are unicast to each neighbor).
type ResolveSender interface {
	ResolveAndSend(frame []byte, nextHop netip.Addr, egress *iface.Interface) error
}

// Config wires the handler.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Ifaces *iface.Table

	RouterID uint32
	AreaID   uint32
	// HelloInterval in seconds, as carried on the wire.
	HelloInterval uint16

	Sender   FrameSender
	Resolver ResolveSender
	Notifier Notifier

	MetricsRegistry *prometheus.Registry
}

// Validate fills defaults and enforces required fields.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Ifaces == nil {
		return errors.New("interface table is required")
	}
	if c.RouterID == 0 {
		return errors.New("router-id is required")
	}
	if c.HelloInterval == 0 {
		c.HelloInterval = DefaultHelloInterval
	}
	if c.Sender == nil {
		return errors.New("frame sender is required")
	}
	if c.Resolver == nil {
		return errors.New("resolve sender is required")
	}
	if c.Notifier == nil {
		return errors.New("route notifier is required")
	}
	return nil
}

// queuedLSU is one frame waiting for the broadcaster, addressed to a
// neighbor that still needs ARP resolution.
type queuedLSU struct {
	port    int
	nextHop netip.Addr
	frame   []byte
}

// Handler is the PWOSPF control plane.
type Handler struct {
	log      *slog.Logger
	clock    clockwork.Clock
	ifaces   *iface.Table
	routerID uint32
	areaID   uint32
	helloInt uint16
	sender   FrameSender
	resolver ResolveSender
	notifier Notifier
	metrics  *Metrics

	topo *Topology

	outMu  sync.Mutex
	outQ   []queuedLSU
	wakeCh chan struct{}

	helloMu   sync.Mutex
	lastHello map[int]time.Time
}

// New builds the handler and seeds the topology with the self record.
func New(cfg *Config) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pwospf: config: %w", err)
	}
	return &Handler{
		log:       cfg.Logger,
		clock:     cfg.Clock,
		ifaces:    cfg.Ifaces,
		routerID:  cfg.RouterID,
		areaID:    cfg.AreaID,
		helloInt:  cfg.HelloInterval,
		sender:    cfg.Sender,
		resolver:  cfg.Resolver,
		notifier:  cfg.Notifier,
		metrics:   NewMetrics(cfg.MetricsRegistry),
		topo:      NewTopology(cfg.RouterID, cfg.AreaID, cfg.Ifaces),
		wakeCh:    make(chan struct{}, 1),
		lastHello: make(map[int]time.Time),
	}, nil
}

// Topology exposes the database to the shortest-path engine.
func (h *Handler) Topology() *Topology { return h.topo }

// HandlePacket validates and dispatches one received PWOSPF packet. All
// validation happens before any lock is taken; failures drop silently.
func (h *Handler) HandlePacket(ingress *iface.Interface, ip packet.IPv4Frame) {
	f, err := packet.ParsePWOSPF(ip.Payload())
	if err != nil {
		h.metrics.Dropped.Inc()
		return
	}
	if f.Version() != packet.PWOSPFVersion ||
		!f.Verify() ||
		f.AuthType() != 0 ||
		f.AreaID() != h.areaID ||
		f.RouterID() == h.routerID {
		h.metrics.Dropped.Inc()
		return
	}

	switch f.Type() {
	case packet.PWOSPFTypeHello:
		h.processHello(ingress, ip, f)
	case packet.PWOSPFTypeLSU:
		h.processLSU(ingress, ip, f)
	default:
		h.metrics.Dropped.Inc()
	}
}

// processHello maintains the neighbor set of the receiving interface.
func (h *Handler) processHello(ingress *iface.Interface, ip packet.IPv4Frame, f packet.PWOSPFFrame) {
	if f.ValidateHello() != nil ||
		f.HelloInterval() != h.helloInt ||
		f.HelloMask() != ingress.Mask {
		h.metrics.Dropped.Inc()
		return
	}
	h.metrics.HellosReceived.Inc()

	if h.topo.ObserveHello(ingress, ip.Source(), f.RouterID(), h.clock.Now()) {
		h.log.Info("pwospf: new neighbor",
			"interface", ingress.Name, "neighbor", ip.Source(), "router_id", f.RouterID())
		h.notifier.Notify()
		h.Flood(netip.Addr{})
	}
}

// processLSU folds a link-state update into the topology, refloods it
// toward the rest of the area, and re-originates our own view when the
// database changed.
func (h *Handler) processLSU(ingress *iface.Interface, ip packet.IPv4Frame, f packet.PWOSPFFrame) {
	if f.ValidateLSU() != nil {
		h.metrics.Dropped.Inc()
		return
	}
	h.metrics.LSUsReceived.Inc()

	advs := make([]packet.Advertisement, f.LSUCount())
	for i := range advs {
		advs[i] = f.Advertisement(i)
	}

	accepted, changed := h.topo.ApplyLSU(f.RouterID(), f.AreaID(), f.LSUSeq(), advs, h.clock.Now())
	if !accepted {
		h.metrics.LSUsStale.Inc()
		return
	}

	if ttl := f.LSUTTL(); ttl > 1 {
		h.reflood(f, ttl-1, ip.Source())
	}
	if changed {
		h.log.Debug("pwospf: topology changed", "router_id", f.RouterID(), "seq", f.LSUSeq())
		h.notifier.Notify()
		h.Flood(netip.Addr{})
	}
}

// reflood queues a copy of the received LSU, TTL decremented and checksum
// recomputed, for every neighbor except the sender.
func (h *Handler) reflood(f packet.PWOSPFFrame, ttl uint16, sender netip.Addr) {
	body := make([]byte, f.Length())
	copy(body, f.RawData())
	cp, _ := packet.ParsePWOSPF(body)
	cp.SetLSUTTL(ttl)
	cp.UpdateChecksum()
	h.metrics.LSUsReflooded.Inc()
	h.enqueueToNeighbors(body, sender)
}

// Flood originates an LSU from the current self advertisement list to every
// neighbor, excluding the given source (invalid Addr excludes nobody).
func (h *Handler) Flood(exclude netip.Addr) {
	advs := h.topo.SelfAdvs()
	seq := h.topo.NextSeq(h.clock.Now())

	body := make([]byte, packet.LSUSize(len(advs)))
	packet.PutPWOSPFHeader(body, packet.PWOSPFTypeLSU, len(body), h.routerID, h.areaID)
	packet.PutLSU(body, seq, InitialLSUTTL, advs)
	f, _ := packet.ParsePWOSPF(body)
	f.UpdateChecksum()

	h.metrics.LSUsOriginated.Inc()
	h.enqueueToNeighbors(body, exclude)
}

// enqueueToNeighbors wraps the PWOSPF body into one IP frame per neighbor
// and queues them for the broadcaster.
func (h *Handler) enqueueToNeighbors(body []byte, exclude netip.Addr) {
	targets := h.topo.FloodTargets(exclude)
	if len(targets) == 0 {
		return
	}
	h.outMu.Lock()
	for _, dst := range targets {
		port := h.ifaces.ByIndex(dst.Port)
		frame := make([]byte, packet.EthernetHeaderLen+packet.IPv4HeaderLen+len(body))
		packet.PutEthernetHeader(frame, packet.MAC{}, port.MAC, packet.EtherTypeIPv4)
		packet.PutIPv4Header(frame[packet.EthernetHeaderLen:], len(body), packet.ProtoPWOSPF, port.IP, dst.IP)
		copy(frame[packet.EthernetHeaderLen+packet.IPv4HeaderLen:], body)
		h.outQ = append(h.outQ, queuedLSU{port: dst.Port, nextHop: dst.IP, frame: frame})
	}
	h.outMu.Unlock()

	select {
	case h.wakeCh <- struct{}{}:
	default:
	}
}

// RunBroadcaster drains the LSU out-queue whenever poked, resolving each
// neighbor's MAC through the ARP path.
func (h *Handler) RunBroadcaster(ctx context.Context) error {
	h.log.Debug("pwospf: lsu broadcaster started")
	for {
		select {
		case <-ctx.Done():
			h.log.Debug("pwospf: lsu broadcaster stopped", "reason", ctx.Err())
			return nil
		case <-h.wakeCh:
		}
		for {
			h.outMu.Lock()
			if len(h.outQ) == 0 {
				h.outMu.Unlock()
				break
			}
			q := h.outQ[0]
			h.outQ = h.outQ[1:]
			h.outMu.Unlock()

			egress := h.ifaces.ByIndex(q.port)
			if err := h.resolver.ResolveAndSend(q.frame, q.nextHop, egress); err != nil {
				h.log.Warn("pwospf: lsu send failed", "next_hop", q.nextHop, "error", err)
			}
		}
	}
}

// RunHello emits HELLOs on every interface each hello_interval−1 seconds
// and expires silent neighbors.
func (h *Handler) RunHello(ctx context.Context) error {
	h.log.Debug("pwospf: hello emitter started", "interval_s", h.helloInt)
	period := time.Duration(h.helloInt-1) * time.Second
	if h.helloInt <= 1 {
		period = time.Second
	}
	for {
		h.emitHellos()
		if h.expireNeighbors() {
			h.notifier.Notify()
			h.Flood(netip.Addr{})
		}
		select {
		case <-ctx.Done():
			h.log.Debug("pwospf: hello emitter stopped", "reason", ctx.Err())
			return nil
		case <-h.clock.After(period):
		}
	}
}

// emitHellos sends one HELLO per interface to the all-routers address,
// broadcast at the link layer.
func (h *Handler) emitHellos() {
	now := h.clock.Now()
	for _, p := range h.ifaces.All() {
		frame := make([]byte, packet.EthernetHeaderLen+packet.IPv4HeaderLen+packet.HelloSize)
		packet.PutEthernetHeader(frame, packet.BroadcastMAC, p.MAC, packet.EtherTypeIPv4)
		packet.PutIPv4Header(frame[packet.EthernetHeaderLen:], packet.HelloSize,
			packet.ProtoPWOSPF, p.IP, packet.AllSPFRouters)
		body := frame[packet.EthernetHeaderLen+packet.IPv4HeaderLen:]
		packet.PutPWOSPFHeader(body, packet.PWOSPFTypeHello, packet.HelloSize, h.routerID, h.areaID)
		packet.PutHello(body, p.Mask, h.helloInt)
		pf, _ := packet.ParsePWOSPF(body)
		pf.UpdateChecksum()

		if err := h.sender.Send(p.Index, frame); err != nil {
			h.log.Warn("pwospf: hello send failed", "interface", p.Name, "error", err)
			continue
		}
		h.metrics.HellosSent.Inc()
		h.helloMu.Lock()
		h.lastHello[p.Index] = now
		h.helloMu.Unlock()
	}
}

// LastHelloSent returns when a HELLO last left the port.
func (h *Handler) LastHelloSent(port int) time.Time {
	h.helloMu.Lock()
	defer h.helloMu.Unlock()
	return h.lastHello[port]
}

func (h *Handler) expireNeighbors() bool {
	timeout := time.Duration(h.helloInt) * neighborTimeoutMult * time.Second
	if h.topo.ExpireNeighbors(h.clock.Now(), timeout) {
		h.log.Info("pwospf: neighbor timed out")
		return true
	}
	return false
}

// RunLSUTimer polls once a second and re-originates an LSU when the self
// record has been quiet for LSUInterval.
func (h *Handler) RunLSUTimer(ctx context.Context) error {
	h.log.Debug("pwospf: lsu timer started")
	for {
		select {
		case <-ctx.Done():
			h.log.Debug("pwospf: lsu timer stopped", "reason", ctx.Err())
			return nil
		case <-h.clock.After(1 * time.Second):
		}
		if h.clock.Now().Sub(h.topo.LastOrigination()) > LSUInterval {
			h.Flood(netip.Addr{})
		}
	}
}
