// Package router owns the process-wide router state and its lifecycle:
// boot-time hardware bring-up, the per-port dispatcher loops, the IP slow
// path, and the wiring between the ARP, PWOSPF and shortest-path engines.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openfpga/routerd/internal/arp"
	"github.com/openfpga/routerd/internal/dijkstra"
	"github.com/openfpga/routerd/internal/iface"
	"github.com/openfpga/routerd/internal/netio"
	"github.com/openfpga/routerd/internal/nf"
	"github.com/openfpga/routerd/internal/packet"
	"github.com/openfpga/routerd/internal/pwospf"
	"github.com/openfpga/routerd/internal/rtable"
	"github.com/prometheus/client_golang/prometheus"
)

// StaticARP is a boot-time permanent ARP entry.
type StaticARP struct {
	IP  netip.Addr
	MAC packet.MAC
}

// FrameRecorder receives every punted frame (optional packet capture).
type FrameRecorder interface {
	WriteFrame(frame []byte) error
}

// Config wires the router.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Device nf.Device
	// Ports carries one frame transport per configured interface, in port
	// order.
	Ports      []netio.PortConn
	Interfaces []iface.Interface

	RouterID      uint32
	AreaID        uint32
	HelloInterval uint16
	RTableFile    string
	StaticARP     []StaticARP

	// EchoSink receives ICMP Echo Replies addressed to the router; nil
	// leaves them counted and discarded (reserved for a ping client).
	EchoSink func(frame []byte)

	// Capture, when set, records every punted frame.
	Capture FrameRecorder

	// ARPCacheTTL overrides the ARP entry lifetime (tests); zero means the
	// protocol default.
	ARPCacheTTL time.Duration

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
	if len(c.Interfaces) == 0 {
		return errors.New("at least one interface is required")
	}
	if len(c.Ports) != len(c.Interfaces) {
		return errors.New("one port transport per interface is required")
	}
	if c.RouterID == 0 {
		return errors.New("router-id is required")
	}
	return nil
}

// Router is the process-wide state object.
type Router struct {
	log     *slog.Logger
	clock   clockwork.Clock
	dev     nf.Device
	ports   []netio.PortConn
	ifaces  *iface.Table
	sender  *netio.Sender
	capture FrameRecorder
	echo    func([]byte)
	metrics *Metrics

	arp    *arp.Handler
	routes *rtable.Table
	ospf   *pwospf.Handler
	spf    *dijkstra.Engine
}

// notifierFunc adapts a closure to the pwospf.Notifier interface; the
// engine it pokes is wired after the protocol handler exists.
type notifierFunc func()

func (f notifierFunc) Notify() { f() }

// New builds the router: interface table, hardware bring-up, subsystem
// wiring, static table loads, and the first full table sync. Any failure
// here is a boot failure.
func New(cfg *Config) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("router: config: %w", err)
	}

	ifaces, err := iface.NewTable(cfg.Interfaces)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	r := &Router{
		log:     cfg.Logger,
		clock:   cfg.Clock,
		dev:     cfg.Device,
		ports:   cfg.Ports,
		ifaces:  ifaces,
		sender:  netio.NewSender(cfg.Ports),
		capture: cfg.Capture,
		echo:    cfg.EchoSink,
		metrics: NewMetrics(cfg.MetricsRegistry),
	}

	if err := nf.Init(cfg.Device, ifaces); err != nil {
		return nil, fmt.Errorf("router: hardware init: %w", err)
	}

	r.routes = rtable.New(cfg.Logger, cfg.Device, ifaces)

	r.arp, err = arp.New(&arp.Config{
		Logger:          cfg.Logger,
		Clock:           cfg.Clock,
		Device:          cfg.Device,
		Ifaces:          ifaces,
		Sender:          r.sender,
		GiveUp:          r.hostUnreachable,
		CacheTTL:        cfg.ARPCacheTTL,
		MetricsRegistry: cfg.MetricsRegistry,
	})
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	r.ospf, err = pwospf.New(&pwospf.Config{
		Logger:          cfg.Logger,
		Clock:           cfg.Clock,
		Ifaces:          ifaces,
		RouterID:        cfg.RouterID,
		AreaID:          cfg.AreaID,
		HelloInterval:   cfg.HelloInterval,
		Sender:          r.sender,
		Resolver:        r.arp,
		Notifier:        notifierFunc(func() { r.spf.Notify() }),
		MetricsRegistry: cfg.MetricsRegistry,
	})
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	r.spf, err = dijkstra.New(&dijkstra.Config{
		Logger:          cfg.Logger,
		Clock:           cfg.Clock,
		Ifaces:          ifaces,
		Topo:            r.ospf.Topology(),
		Routes:          r.routes,
		MetricsRegistry: cfg.MetricsRegistry,
	})
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	for _, sa := range cfg.StaticARP {
		if err := r.arp.AddStatic(sa.IP, sa.MAC); err != nil {
			return nil, fmt.Errorf("router: static arp: %w", err)
		}
	}

	if cfg.RTableFile != "" {
		if err := r.routes.LoadStatic(cfg.RTableFile); err != nil {
			return nil, fmt.Errorf("router: %w", err)
		}
		// A static default route is advertised into the area so peers
		// learn about the egress.
		if def, ok := r.routes.HasDefaultRoute(); ok {
			r.ospf.Topology().AddSelfAdv(packet.Advertisement{
				Subnet: def.Prefix(),
				Mask:   def.Mask,
			})
		}
	}

	if err := r.arp.Cache().Sync(); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	if err := r.routes.Sync(); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	r.spf.Notify()

	return r, nil
}

// Routes exposes the routing table, for tests and tooling.
func (r *Router) Routes() *rtable.Table { return r.routes }

// ARP exposes the ARP engine, for tests and tooling.
func (r *Router) ARP() *arp.Handler { return r.arp }

// OSPF exposes the PWOSPF engine, for tests and tooling.
func (r *Router) OSPF() *pwospf.Handler { return r.ospf }

// SPF exposes the shortest-path engine, for tests and tooling.
func (r *Router) SPF() *dijkstra.Engine { return r.spf }

// Run starts every long-running task and blocks until ctx is canceled or a
// task fails fatally. All tasks are stopped before it returns.
func (r *Router) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	fail := func(err error) {
		if err != nil {
			select {
			case errCh <- err:
			default:
			}
		}
	}

	for port := range r.ports {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			fail(r.dispatch(ctx, port))
		}(port)
	}

	tasks := []func(context.Context) error{
		r.arp.Run,
		r.ospf.RunHello,
		r.ospf.RunLSUTimer,
		r.ospf.RunBroadcaster,
		r.spf.Run,
	}
	for _, task := range tasks {
		wg.Add(1)
		go func(task func(context.Context) error) {
			defer wg.Done()
			fail(task(ctx))
		}(task)
	}

	r.log.Info("router: running",
		"ports", len(r.ports), "router_id", r.ospf.Topology().SelfID())

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		r.log.Error("router: fatal", "error", err)
	}
	cancel()
	wg.Wait()
	return err
}

// Close releases the port transports.
func (r *Router) Close() error {
	var first error
	for _, p := range r.ports {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
