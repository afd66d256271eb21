package arp

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
	"github.com/openfpga/routerd/internal/nf"
	"github.com/openfpga/routerd/internal/packet"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// RequestInterval is the spacing between ARP requests for one next hop.
	RequestInterval = 1 * time.Second
	// MaxRequests is how many requests are sent before giving up.
	MaxRequests = 5
)

// FrameSender transmits one complete frame out a port.
type FrameSender interface {
	Send(port int, frame []byte) error
}

// Config wires the handler's collaborators.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Device nf.Device
	Ifaces *iface.Table
	Sender FrameSender

	// GiveUp receives each pending frame after the request cap is reached
	// without a reply; the owner answers it with Host Unreachable.
	GiveUp func(frame []byte)

	// CacheTTL overrides the non-static entry lifetime; zero means
	// DefaultCacheTTL.
	CacheTTL time.Duration

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
	if c.Device == nil {
		return errors.New("device is required")
	}
	if c.Ifaces == nil {
		return errors.New("interface table is required")
	}
	if c.Sender == nil {
		return errors.New("frame sender is required")
	}
	if c.GiveUp == nil {
		c.GiveUp = func([]byte) {}
	}
	return nil
}

// queueEntry holds the frames waiting on one unresolved next hop.
type queueEntry struct {
	egress   *iface.Interface
	requests int
	lastReq  time.Time
	frames   [][]byte
}

// Handler owns the ARP cache and resolution queue.
type Handler struct {
	log     *slog.Logger
	clock   clockwork.Clock
	ifaces  *iface.Table
	sender  FrameSender
	giveUp  func([]byte)
	cache   *Cache
	metrics *Metrics

	mu    sync.RWMutex
	queue map[netip.Addr]*queueEntry
}

// New builds the handler and its cache.
func New(cfg *Config) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("arp: config: %w", err)
	}
	return &Handler{
		log:     cfg.Logger,
		clock:   cfg.Clock,
		ifaces:  cfg.Ifaces,
		sender:  cfg.Sender,
		giveUp:  cfg.GiveUp,
		cache:   NewCache(cfg.Logger, cfg.Device, cfg.CacheTTL),
		metrics: NewMetrics(cfg.MetricsRegistry),
		queue:   make(map[netip.Addr]*queueEntry),
	}, nil
}

// Cache exposes the cache for boot-time static preload and tests.
func (h *Handler) Cache() *Cache { return h.cache }

// ResolveAndSend fills the frame's destination MAC from the cache and
// transmits it, or parks a copy on the resolution queue. Creating a queue
// entry sends exactly one ARP request immediately.
func (h *Handler) ResolveAndSend(frame []byte, nextHop netip.Addr, egress *iface.Interface) error {
	if mac, ok := h.cache.Lookup(nextHop); ok {
		h.metrics.CacheHits.Inc()
		copy(frame[0:6], mac[:])
		return h.sender.Send(egress.Index, frame)
	}
	h.metrics.CacheMisses.Inc()

	owned := make([]byte, len(frame))
	copy(owned, frame)

	h.mu.Lock()
	defer h.mu.Unlock()
	qe, ok := h.queue[nextHop]
	if !ok {
		qe = &queueEntry{egress: egress, requests: 1, lastReq: h.clock.Now()}
		h.queue[nextHop] = qe
		h.metrics.QueueDepth.Set(float64(len(h.queue)))
		if err := h.sendRequest(egress, nextHop); err != nil {
			return err
		}
	}
	qe.frames = append(qe.frames, owned)
	return nil
}

// HandlePacket dispatches a received ARP packet by operation.
func (h *Handler) HandlePacket(ingress *iface.Interface, eth packet.EthernetFrame) error {
	af, err := packet.ParseARP(eth.Payload())
	if err != nil || !af.Valid() {
		h.metrics.Malformed.Inc()
		return nil
	}
	switch af.Op() {
	case packet.ARPOpRequest:
		return h.handleRequest(af)
	case packet.ARPOpReply:
		return h.handleReply(af)
	default:
		return nil
	}
}

// handleRequest answers requests whose target is any local interface IP
// with a unicast reply from the owning interface.
func (h *Handler) handleRequest(af packet.ARPFrame) error {
	owner := h.ifaces.ByIP(af.TargetIP())
	if owner == nil {
		return nil
	}
	h.log.Debug("arp: answering request", "target", af.TargetIP(), "interface", owner.Name)

	frame := make([]byte, packet.EthernetHeaderLen+packet.ARPLen)
	packet.PutEthernetHeader(frame, af.SenderMAC(), owner.MAC, packet.EtherTypeARP)
	packet.PutARP(frame[packet.EthernetHeaderLen:], packet.ARPOpReply,
		owner.MAC, owner.IP, af.SenderMAC(), af.SenderIP())
	h.metrics.RepliesSent.Inc()
	return h.sender.Send(owner.Index, frame)
}

// handleReply refreshes the cache, then drains any frames queued on the
// resolved next hop using the MAC carried by the reply.
func (h *Handler) handleReply(af packet.ARPFrame) error {
	ip, mac := af.SenderIP(), af.SenderMAC()
	if err := h.cache.Update(ip, mac, false); err != nil {
		return err
	}

	h.mu.Lock()
	qe, ok := h.queue[ip]
	if ok {
		delete(h.queue, ip)
		h.metrics.QueueDepth.Set(float64(len(h.queue)))
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}

	h.log.Debug("arp: draining queue", "next_hop", ip, "frames", len(qe.frames))
	for _, frame := range qe.frames {
		copy(frame[0:6], mac[:])
		if err := h.sender.Send(qe.egress.Index, frame); err != nil {
			return err
		}
	}
	return nil
}

// AddStatic installs a permanent cache entry.
func (h *Handler) AddStatic(ip netip.Addr, mac packet.MAC) error {
	return h.cache.Update(ip, mac, true)
}

// Run drives the 1 Hz aging pass until ctx is canceled. A hardware write
// failure is fatal and returned.
func (h *Handler) Run(ctx context.Context) error {
	h.log.Debug("arp: aging task started")
	for {
		select {
		case <-ctx.Done():
			h.log.Debug("arp: aging task stopped", "reason", ctx.Err())
			return nil
		case <-h.clock.After(1 * time.Second):
		}
		if err := h.Tick(); err != nil {
			return err
		}
	}
}

// Tick performs one aging pass: queue retries/give-ups, then cache expiry.
func (h *Handler) Tick() error {
	if err := h.processQueue(); err != nil {
		return err
	}
	return h.cache.Expire()
}

func (h *Handler) processQueue() error {
	now := h.clock.Now()

	type gaveUp struct{ frames [][]byte }
	var expired []gaveUp

	h.mu.Lock()
	for nextHop, qe := range h.queue {
		// Strict greater-than: a request younger than the full interval
		// is left alone.
		if now.Sub(qe.lastReq) <= RequestInterval {
			continue
		}
		if qe.requests < MaxRequests {
			qe.lastReq = now
			qe.requests++
			if err := h.sendRequest(qe.egress, nextHop); err != nil {
				h.mu.Unlock()
				return err
			}
			continue
		}
		h.log.Info("arp: giving up", "next_hop", nextHop, "pending", len(qe.frames))
		h.metrics.GiveUps.Inc()
		expired = append(expired, gaveUp{frames: qe.frames})
		delete(h.queue, nextHop)
	}
	h.metrics.QueueDepth.Set(float64(len(h.queue)))
	h.mu.Unlock()

	// Host-unreachable replies are generated outside the queue lock; the
	// callback re-enters the send path.
	for _, g := range expired {
		for _, frame := range g.frames {
			h.giveUp(frame)
		}
	}
	return nil
}

// sendRequest broadcasts one ARP request for target out the egress port.
func (h *Handler) sendRequest(egress *iface.Interface, target netip.Addr) error {
	frame := make([]byte, packet.EthernetHeaderLen+packet.ARPLen)
	packet.PutEthernetHeader(frame, packet.BroadcastMAC, egress.MAC, packet.EtherTypeARP)
	packet.PutARP(frame[packet.EthernetHeaderLen:], packet.ARPOpRequest,
		egress.MAC, egress.IP, packet.MAC{}, target)
	h.metrics.RequestsSent.Inc()
	return h.sender.Send(egress.Index, frame)
}

// PendingFor returns the number of frames queued on a next hop, for tests.
func (h *Handler) PendingFor(nextHop netip.Addr) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if qe, ok := h.queue[nextHop]; ok {
		return len(qe.frames)
	}
	return 0
}
