// Package rtable maintains the software routing table: the join of static
// rows loaded at boot and dynamic rows replaced wholesale by each
// shortest-path recomputation. The table mirrors itself into the hardware
// route lookup memory on every mutation.
package rtable

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/bits"
	"net/netip"
	"sort"
	"sync"

	"github.com/openfpga/routerd/internal/iface"
	"github.com/openfpga/routerd/internal/nf"
)

// Route is one row. A zero Gateway means the destination is on-link and the
// next hop is the destination itself.
type Route struct {
	Dest    netip.Addr
	Mask    netip.Addr
	Gateway netip.Addr
	Iface   string
	Port    int
	Static  bool
	Active  bool
}

// Prefix returns the row's masked destination.
func (r Route) Prefix() netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], addrWord(r.Dest)&addrWord(r.Mask))
	return netip.AddrFrom4(b)
}

// MaskBits returns the number of set bits in the row's mask.
func (r Route) MaskBits() int { return bits.OnesCount32(addrWord(r.Mask)) }

// Table is the ordered routing table with its hardware mirror.
type Table struct {
	log    *slog.Logger
	dev    nf.Device
	ifaces *iface.Table

	mu   sync.RWMutex
	rows []Route
}

// New returns an empty table bound to its hardware mirror.
func New(log *slog.Logger, dev nf.Device, ifaces *iface.Table) *Table {
	return &Table{log: log, dev: dev, ifaces: ifaces}
}

// Lookup performs the longest-prefix match among active rows. For a matched
// row with a zero gateway the returned next hop is dest itself.
func (t *Table) Lookup(dest netip.Addr) (nextHop netip.Addr, port int, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d := addrWord(dest)
	best := -1
	bestBits := -1
	for i, r := range t.rows {
		if !r.Active {
			continue
		}
		m := addrWord(r.Mask)
		if addrWord(r.Dest)&m != d&m {
			continue
		}
		n := bits.OnesCount32(m)
		switch {
		case n > bestBits:
		case n < bestBits:
			continue
		default:
			// Same mask length: static beats dynamic, then the higher
			// destination wins.
			b := t.rows[best]
			if b.Static != r.Static {
				if b.Static {
					continue
				}
			} else if addrWord(r.Dest) <= addrWord(b.Dest) {
				continue
			}
		}
		best, bestBits = i, n
	}
	if best < 0 {
		return netip.Addr{}, 0, false
	}
	r := t.rows[best]
	if addrWord(r.Gateway) == 0 {
		return dest, r.Port, true
	}
	return r.Gateway, r.Port, true
}

// AddStatic inserts a static row, resorts, and rewrites the hardware table.
func (t *Table) AddStatic(r Route) error {
	r.Static = true
	r.Active = true
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, r)
	t.sortLocked()
	return t.syncLocked()
}

// ReplaceDynamic drops every non-static row, appends the given rows as
// dynamic, resorts, and rewrites the hardware table. The swap happens under
// the write lock so no reader observes a partially updated table.
func (t *Table) ReplaceDynamic(rows []Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.rows[:0]
	for _, r := range t.rows {
		if r.Static {
			kept = append(kept, r)
		}
	}
	t.rows = kept
	for _, r := range rows {
		r.Static = false
		r.Active = true
		t.rows = append(t.rows, r)
	}
	t.sortLocked()
	return t.syncLocked()
}

// HasDefaultRoute reports whether a static /0 row is present.
func (t *Table) HasDefaultRoute() (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.rows {
		if r.Static && addrWord(r.Mask) == 0 {
			return r, true
		}
	}
	return Route{}, false
}

// Rows returns a snapshot of the table in its sorted order.
func (t *Table) Rows() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route, len(t.rows))
	copy(out, t.rows)
	return out
}

// Sync rewrites the hardware mirror from the current table.
func (t *Table) Sync() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.syncLocked()
}

// sortLocked orders rows by mask length descending, then destination
// descending, then static before dynamic.
func (t *Table) sortLocked() {
	sort.SliceStable(t.rows, func(i, j int) bool {
		a, b := t.rows[i], t.rows[j]
		am, bm := addrWord(a.Mask), addrWord(b.Mask)
		if am != bm {
			return am > bm
		}
		ad, bd := addrWord(a.Dest), addrWord(b.Dest)
		if ad != bd {
			return ad > bd
		}
		return a.Static && !b.Static
	})
}

// syncLocked writes the first RouteTableDepth active rows to the device and
// zero-fills the rest.
func (t *Table) syncLocked() error {
	var hw []nf.RouteEntry
	for _, r := range t.rows {
		if !r.Active || len(hw) == nf.RouteTableDepth {
			continue
		}
		hw = append(hw, nf.RouteEntry{
			IP:       r.Prefix(),
			Mask:     r.Mask,
			NextHop:  r.Gateway,
			PortBits: nf.PortBitmask(r.Port),
		})
	}
	if err := nf.WriteRouteTable(t.dev, hw); err != nil {
		return fmt.Errorf("rtable: hardware write-back: %w", err)
	}
	t.log.Debug("rtable: hardware table rewritten", "rows", len(hw))
	return nil
}

func addrWord(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}
