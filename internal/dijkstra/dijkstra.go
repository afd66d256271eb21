// Package dijkstra recomputes the dynamic half of the routing table from
// the PWOSPF topology database: classical single-source shortest path with
// unit edge weight over active adjacencies, followed by candidate-prefix
// derivation and egress resolution.
package dijkstra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/netip"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openfpga/routerd/internal/iface"
	"github.com/openfpga/routerd/internal/pwospf"
	"github.com/openfpga/routerd/internal/rtable"
	"github.com/prometheus/client_golang/prometheus"
)

const infinity = math.MaxUint32

// Config wires the engine.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Ifaces *iface.Table
	Topo   *pwospf.Topology
	Routes *rtable.Table

	MetricsRegistry *prometheus.Registry
}

// Validate enforces required fields.
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
	if c.Topo == nil {
		return errors.New("topology is required")
	}
	if c.Routes == nil {
		return errors.New("routing table is required")
	}
	return nil
}

// Engine owns the recomputation task.
type Engine struct {
	log     *slog.Logger
	clock   clockwork.Clock
	ifaces  *iface.Table
	topo    *pwospf.Topology
	routes  *rtable.Table
	metrics *Metrics

	dirty  atomic.Bool
	wakeCh chan struct{}
}

// New builds the engine.
func New(cfg *Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dijkstra: config: %w", err)
	}
	return &Engine{
		log:     cfg.Logger,
		clock:   cfg.Clock,
		ifaces:  cfg.Ifaces,
		topo:    cfg.Topo,
		routes:  cfg.Routes,
		metrics: NewMetrics(cfg.MetricsRegistry),
		wakeCh:  make(chan struct{}, 1),
	}, nil
}

// Notify marks the topology dirty and wakes the task. Safe from any
// goroutine; losing a duplicate wakeup costs at most one tick.
func (e *Engine) Notify() {
	e.dirty.Store(true)
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// Run waits on the dirty flag with a one-second timed poll and recomputes
// when set. A hardware write failure is fatal and returned.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Debug("dijkstra: task started")
	for {
		select {
		case <-ctx.Done():
			e.log.Debug("dijkstra: task stopped", "reason", ctx.Err())
			return nil
		case <-e.wakeCh:
		case <-e.clock.After(1 * time.Second):
			if !e.dirty.Load() {
				continue
			}
		}
		e.dirty.Store(false)
		if err := e.Recompute(); err != nil {
			return err
		}
	}
}

// Recompute replaces every dynamic routing-table row from the current
// topology. With an unchanged topology the output is bit-identical across
// runs.
func (e *Engine) Recompute() error {
	start := e.clock.Now()
	rows := e.computeRoutes(e.topo.Snapshot())
	if err := e.routes.ReplaceDynamic(rows); err != nil {
		return err
	}
	e.metrics.Runs.Inc()
	e.metrics.DynamicRoutes.Set(float64(len(rows)))
	e.log.Debug("dijkstra: recomputed", "routes", len(rows), "took", e.clock.Since(start))
	return nil
}

// candidate is a prefix discovered during the walk, carrying the distance
// of its advertising router and the first hop toward it.
type candidate struct {
	prefix   netip.Addr
	mask     netip.Addr
	distance uint32
	firstHop uint32
	direct   bool
}

func (e *Engine) computeRoutes(topo map[uint32][]pwospf.Adv) []rtable.Route {
	selfID := e.topo.SelfID()

	// Shortest-path pass. Ties break on the lower router-id so repeated
	// runs discover identical trees.
	dist := make(map[uint32]uint32, len(topo))
	pred := make(map[uint32]uint32, len(topo))
	found := make(map[uint32]bool, len(topo))
	rids := make([]uint32, 0, len(topo))
	for rid := range topo {
		dist[rid] = infinity
		rids = append(rids, rid)
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
	dist[selfID] = 0

	for {
		cur, best := uint32(0), uint32(infinity)
		ok := false
		for _, rid := range rids {
			if !found[rid] && dist[rid] < best {
				cur, best, ok = rid, dist[rid], true
			}
		}
		if !ok {
			break
		}
		found[cur] = true
		for _, adv := range topo[cur] {
			if adv.RouterID == 0 || !adv.Active {
				continue
			}
			next, known := dist[adv.RouterID]
			if !known || found[adv.RouterID] {
				continue
			}
			if dist[cur]+1 < next {
				dist[adv.RouterID] = dist[cur] + 1
				pred[adv.RouterID] = cur
			}
		}
	}

	// Candidate derivation: walk reachable routers nearest-first so the
	// lower-distance candidate wins deterministically.
	sort.Slice(rids, func(i, j int) bool {
		if dist[rids[i]] != dist[rids[j]] {
			return dist[rids[i]] < dist[rids[j]]
		}
		return rids[i] < rids[j]
	})

	type prefixKey struct{ prefix, mask netip.Addr }
	seen := make(map[prefixKey]bool)
	var cands []candidate
	for _, rid := range rids {
		if dist[rid] == infinity {
			continue
		}
		for _, adv := range topo[rid] {
			key := prefixKey{adv.Subnet, adv.Mask}
			if seen[key] {
				continue
			}
			seen[key] = true
			cands = append(cands, candidate{
				prefix:   adv.Subnet,
				mask:     adv.Mask,
				distance: dist[rid],
				firstHop: e.firstHop(selfID, rid, adv.RouterID, pred),
				direct:   rid == selfID,
			})
		}
	}

	// Egress resolution: prefer the interface owning the first-hop
	// neighbor, fall back to a subnet match, otherwise drop the candidate
	// (a static default covers it).
	var rows []rtable.Route
	for _, c := range cands {
		var egress *iface.Interface
		gateway := netip.AddrFrom4([4]byte{})

		if port, nbrIP, ok := e.topo.NeighborByRID(c.firstHop); ok {
			egress = e.ifaces.ByIndex(port)
			if !c.direct {
				gateway = nbrIP
			}
		} else if p := e.ifaces.BySubnet(c.prefix, c.mask); p != nil {
			egress = p
		}
		if egress == nil {
			continue
		}
		rows = append(rows, rtable.Route{
			Dest:    c.prefix,
			Mask:    c.mask,
			Gateway: gateway,
			Iface:   egress.Name,
			Port:    egress.Index,
		})
	}
	return rows
}

// firstHop unwinds the predecessor chain of target until the hop adjacent
// to self. For self's own advertisements the first hop is the advertised
// neighbor itself.
func (e *Engine) firstHop(selfID, target, advRID uint32, pred map[uint32]uint32) uint32 {
	if target == selfID {
		return advRID
	}
	cur := target
	for {
		p, ok := pred[cur]
		if !ok || p == selfID {
			return cur
		}
		cur = p
	}
}
