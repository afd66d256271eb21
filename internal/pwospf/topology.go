// Package pwospf implements the link-state control plane: HELLO neighbor
// maintenance, the area topology database, LSU origination, reception and
// reflooding, and the periodic protocol timers.
package pwospf

import (
	"net/netip"
	"sync"
	"time"

	"github.com/openfpga/routerd/internal/iface"
	"github.com/openfpga/routerd/internal/packet"
)

// Neighbor is a router heard on one of our interfaces.
type Neighbor struct {
	IP        netip.Addr
	RouterID  uint32
	LastHello time.Time
}

// Adv is a stored advertisement plus the mutual-activity flag Dijkstra
// traverses by.
type Adv struct {
	packet.Advertisement
	Active bool
}

func sameAdv(a, b packet.Advertisement) bool {
	return a.Subnet == b.Subnet && a.Mask == b.Mask && a.RouterID == b.RouterID
}

// Router is one router record in the topology database.
type Router struct {
	RouterID   uint32
	AreaID     uint32
	Seq        uint16
	LastUpdate time.Time
	Advs       []*Adv
}

// Topology is the area database: one record per router-id (self included)
// and the per-interface neighbor lists. A single mutex guards it all.
type Topology struct {
	mu        sync.Mutex
	selfID    uint32
	areaID    uint32
	routers   map[uint32]*Router
	neighbors [][]*Neighbor // indexed by port
}

// NewTopology seeds the database with the self record: one advertisement
// per configured port, neighbor router-id 0 until a HELLO fills it in.
func NewTopology(selfID, areaID uint32, ifaces *iface.Table) *Topology {
	t := &Topology{
		selfID:    selfID,
		areaID:    areaID,
		routers:   make(map[uint32]*Router),
		neighbors: make([][]*Neighbor, ifaces.Len()),
	}
	self := &Router{RouterID: selfID, AreaID: areaID}
	for _, p := range ifaces.All() {
		self.Advs = append(self.Advs, &Adv{Advertisement: packet.Advertisement{
			Subnet: p.Subnet(),
			Mask:   p.Mask,
		}})
	}
	t.routers[selfID] = self
	return t
}

// SelfID returns the local router-id.
func (t *Topology) SelfID() uint32 { return t.selfID }

// AddSelfAdv appends an advertisement to the self record (used for a static
// default route learned at boot).
func (t *Topology) AddSelfAdv(adv packet.Advertisement) {
	t.mu.Lock()
	defer t.mu.Unlock()
	self := t.routers[t.selfID]
	self.Advs = append(self.Advs, &Adv{Advertisement: adv})
}

// ObserveHello records a HELLO received on port. A neighbor matches on
// (IP, router-id); a new neighbor also binds the corresponding self
// advertisement to the sender's router-id. It reports whether the adjacency
// set changed.
func (t *Topology) ObserveHello(port *iface.Interface, src netip.Addr, routerID uint32, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, nbr := range t.neighbors[port.Index] {
		if nbr.IP == src && nbr.RouterID == routerID {
			nbr.LastHello = now
			return false
		}
	}

	t.neighbors[port.Index] = append(t.neighbors[port.Index], &Neighbor{
		IP:        src,
		RouterID:  routerID,
		LastHello: now,
	})

	// Bind the new neighbor into the self record: fill a previously
	// unknown advertisement for this subnet if one exists, else append.
	self := t.routers[t.selfID]
	subnet, mask := port.Subnet(), port.Mask
	filled := false
	for _, adv := range self.Advs {
		if adv.Subnet == subnet && adv.Mask == mask && adv.RouterID == 0 {
			adv.RouterID = routerID
			filled = true
			break
		}
	}
	if !filled {
		self.Advs = append(self.Advs, &Adv{Advertisement: packet.Advertisement{
			Subnet:   subnet,
			Mask:     mask,
			RouterID: routerID,
		}})
	}
	t.recomputeActiveLocked()
	return true
}

// ExpireNeighbors removes neighbors silent for longer than timeout,
// flipping their self-record advertisement back to router-id 0. It reports
// whether anything changed.
func (t *Topology) ExpireNeighbors(now time.Time, timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	self := t.routers[t.selfID]
	changed := false
	for port := range t.neighbors {
		kept := t.neighbors[port][:0]
		for _, nbr := range t.neighbors[port] {
			if now.Sub(nbr.LastHello) <= timeout {
				kept = append(kept, nbr)
				continue
			}
			changed = true
			for _, adv := range self.Advs {
				if adv.RouterID == nbr.RouterID {
					adv.RouterID = 0
					adv.Active = false
				}
			}
		}
		t.neighbors[port] = kept
	}
	if changed {
		t.recomputeActiveLocked()
	}
	return changed
}

// ApplyLSU folds a received LSU into the database. It returns whether the
// packet made sequence progress (or introduced a new router) and whether
// the stored advertisement set changed.
func (t *Topology) ApplyLSU(routerID, areaID uint32, seq uint16, advs []packet.Advertisement, now time.Time) (accepted, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, known := t.routers[routerID]
	if known {
		// Naive strictly-greater comparison; a sequence that wrapped to
		// zero is treated as stale. Router records are never aged out, so
		// the stored sequence is not reset.
		if seq <= r.Seq {
			return false, false
		}
		r.Seq = seq
		r.LastUpdate = now
		changed = t.mergeAdvsLocked(r, advs)
	} else {
		r = &Router{RouterID: routerID, AreaID: areaID, Seq: seq, LastUpdate: now}
		for _, adv := range advs {
			r.Advs = append(r.Advs, &Adv{Advertisement: adv})
		}
		t.routers[routerID] = r
		changed = true
	}
	if changed {
		t.recomputeActiveLocked()
	}
	return true, changed
}

// mergeAdvsLocked applies union semantics: add advertisements missing from
// the stored list, drop stored advertisements absent from the LSU.
func (t *Topology) mergeAdvsLocked(r *Router, advs []packet.Advertisement) bool {
	changed := false
	for _, adv := range advs {
		found := false
		for _, have := range r.Advs {
			if sameAdv(have.Advertisement, adv) {
				found = true
				break
			}
		}
		if !found {
			r.Advs = append(r.Advs, &Adv{Advertisement: adv})
			changed = true
		}
	}
	kept := r.Advs[:0]
	for _, have := range r.Advs {
		found := false
		for _, adv := range advs {
			if sameAdv(have.Advertisement, adv) {
				found = true
				break
			}
		}
		if found {
			kept = append(kept, have)
		} else {
			changed = true
		}
	}
	r.Advs = kept
	return changed
}

// recomputeActiveLocked rebuilds every advertisement's activity flag:
// advertisements on two routers are mutually active iff subnet and mask
// agree and neither router-id is zero.
func (t *Topology) recomputeActiveLocked() {
	for _, r := range t.routers {
		for _, adv := range r.Advs {
			adv.Active = false
		}
	}
	for _, r := range t.routers {
		for _, adv := range r.Advs {
			if adv.RouterID == 0 {
				continue
			}
			peer, ok := t.routers[adv.RouterID]
			if !ok {
				continue
			}
			for _, padv := range peer.Advs {
				if padv.Subnet == adv.Subnet && padv.Mask == adv.Mask && padv.RouterID != 0 {
					adv.Active = true
					padv.Active = true
				}
			}
		}
	}
}

// SelfAdvs returns a copy of the self record's advertisement list.
func (t *Topology) SelfAdvs() []packet.Advertisement {
	t.mu.Lock()
	defer t.mu.Unlock()
	self := t.routers[t.selfID]
	out := make([]packet.Advertisement, 0, len(self.Advs))
	for _, adv := range self.Advs {
		out = append(out, adv.Advertisement)
	}
	return out
}

// NextSeq returns the self record's next origination sequence number and
// stamps the origination time; the sequence strictly increases.
func (t *Topology) NextSeq(now time.Time) uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	self := t.routers[t.selfID]
	self.Seq++
	self.LastUpdate = now
	return self.Seq
}

// LastOrigination returns when the self record last originated an LSU.
func (t *Topology) LastOrigination() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.routers[t.selfID].LastUpdate
}

// NeighborDest is a flood target: a neighbor IP reachable on a port.
type NeighborDest struct {
	Port int
	IP   netip.Addr
}

// FloodTargets returns every known neighbor except the excluded source.
func (t *Topology) FloodTargets(exclude netip.Addr) []NeighborDest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []NeighborDest
	for port, nbrs := range t.neighbors {
		for _, nbr := range nbrs {
			if exclude.IsValid() && nbr.IP == exclude {
				continue
			}
			out = append(out, NeighborDest{Port: port, IP: nbr.IP})
		}
	}
	return out
}

// NeighborByRID finds the port and address of a neighbor with the given
// router-id.
func (t *Topology) NeighborByRID(rid uint32) (port int, ip netip.Addr, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for p, nbrs := range t.neighbors {
		for _, nbr := range nbrs {
			if nbr.RouterID == rid {
				return p, nbr.IP, true
			}
		}
	}
	return 0, netip.Addr{}, false
}

// NeighborsOn returns a copy of the neighbor list for a port.
func (t *Topology) NeighborsOn(port int) []Neighbor {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Neighbor, 0, len(t.neighbors[port]))
	for _, nbr := range t.neighbors[port] {
		out = append(out, *nbr)
	}
	return out
}

// Snapshot deep-copies the advertisement lists per router so the
// shortest-path engine can compute without holding the topology mutex.
func (t *Topology) Snapshot() map[uint32][]Adv {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uint32][]Adv, len(t.routers))
	for rid, r := range t.routers {
		advs := make([]Adv, 0, len(r.Advs))
		for _, adv := range r.Advs {
			advs = append(advs, *adv)
		}
		out[rid] = advs
	}
	return out
}

// Routers returns the known router-ids, for tests and logging.
func (t *Topology) Routers() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint32, 0, len(t.routers))
	for rid := range t.routers {
		out = append(out, rid)
	}
	return out
}
