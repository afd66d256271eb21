// Package iface holds the fixed table of physical ports the router owns.
// The table is built once at boot from configuration and never changes
// shape; per-port protocol state lives with the protocols that own it.
package iface

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/openfpga/routerd/internal/packet"
)

// NumPorts is the number of physical ports on the forwarding device.
const NumPorts = 4

// Interface describes one physical port.
type Interface struct {
	Index int
	Name  string
	IP    netip.Addr
	Mask  netip.Addr
	MAC   packet.MAC
	Speed uint32
}

// Subnet returns the port's directly connected prefix (IP & Mask).
func (i *Interface) Subnet() netip.Addr {
	ip := binary.BigEndian.Uint32(addr4(i.IP))
	mask := binary.BigEndian.Uint32(addr4(i.Mask))
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ip&mask)
	return netip.AddrFrom4(b)
}

// Contains reports whether addr falls inside the port's subnet.
func (i *Interface) Contains(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}
	a := binary.BigEndian.Uint32(addr4(addr))
	mask := binary.BigEndian.Uint32(addr4(i.Mask))
	sub := binary.BigEndian.Uint32(addr4(i.Subnet()))
	return a&mask == sub
}

// Table is the fixed set of ports, indexed by port number.
type Table struct {
	ports []*Interface
}

// NewTable builds a table from the configured ports. Indexes are assigned in
// order.
func NewTable(ports []Interface) (*Table, error) {
	if len(ports) == 0 || len(ports) > NumPorts {
		return nil, fmt.Errorf("interface table must hold 1..%d ports, got %d", NumPorts, len(ports))
	}
	t := &Table{ports: make([]*Interface, len(ports))}
	for i := range ports {
		p := ports[i]
		p.Index = i
		if !p.IP.Is4() || !p.Mask.Is4() {
			return nil, fmt.Errorf("interface %q: IPv4 address and mask required", p.Name)
		}
		t.ports[i] = &p
	}
	return t, nil
}

// Len returns the number of configured ports.
func (t *Table) Len() int { return len(t.ports) }

// ByIndex returns the port with the given index, or nil.
func (t *Table) ByIndex(i int) *Interface {
	if i < 0 || i >= len(t.ports) {
		return nil
	}
	return t.ports[i]
}

// ByName returns the port with the given name, or nil.
func (t *Table) ByName(name string) *Interface {
	for _, p := range t.ports {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// ByIP returns the port owning the given local address, or nil.
func (t *Table) ByIP(addr netip.Addr) *Interface {
	for _, p := range t.ports {
		if p.IP == addr {
			return p
		}
	}
	return nil
}

// BySubnet returns the port whose subnet and mask match, or nil.
func (t *Table) BySubnet(subnet, mask netip.Addr) *Interface {
	for _, p := range t.ports {
		if p.Mask == mask && p.Subnet() == subnet {
			return p
		}
	}
	return nil
}

// All returns the ports in index order. Callers must not mutate the slice.
func (t *Table) All() []*Interface { return t.ports }

func addr4(a netip.Addr) []byte {
	b := a.As4()
	return b[:]
}
