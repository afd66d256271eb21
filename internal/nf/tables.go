package nf

import (
	"fmt"
	"net/netip"

	"github.com/openfpga/routerd/internal/iface"
	"github.com/openfpga/routerd/internal/packet"
)

// ARPEntry is one row of the hardware ARP table.
type ARPEntry struct {
	IP  netip.Addr
	MAC packet.MAC
}

// RouteEntry is one row of the hardware route table.
type RouteEntry struct {
	IP       netip.Addr
	Mask     netip.Addr
	NextHop  netip.Addr
	PortBits uint32
}

// Init brings the device up: reset, per-port MAC registers, destination-IP
// filter rows, DMA enable, and zeroed lookup tables so nothing stale from a
// previous run can be served.
func Init(dev Device, ifaces *iface.Table) error {
	if err := dev.WriteReg(RegCtrl, ctrlReset); err != nil {
		return fmt.Errorf("device reset: %w", err)
	}
	for _, p := range ifaces.All() {
		if err := dev.WriteReg(RegMACHi(p.Index), macHi(p.MAC)); err != nil {
			return fmt.Errorf("port %s mac-hi: %w", p.Name, err)
		}
		if err := dev.WriteReg(RegMACLo(p.Index), macLo(p.MAC)); err != nil {
			return fmt.Errorf("port %s mac-lo: %w", p.Name, err)
		}
		if err := dev.WriteReg(RegIPFilterIP, ipWord(p.IP)); err != nil {
			return fmt.Errorf("port %s ip filter: %w", p.Name, err)
		}
		if err := dev.WriteReg(RegIPFilterWrAddr, uint32(p.Index)); err != nil {
			return fmt.Errorf("port %s ip filter addr: %w", p.Name, err)
		}
	}
	if err := dev.WriteReg(RegDMAEnable, 1); err != nil {
		return fmt.Errorf("dma enable: %w", err)
	}
	if err := WriteARPTable(dev, nil); err != nil {
		return err
	}
	return WriteRouteTable(dev, nil)
}

// WriteARPTable rewrites the whole hardware ARP table: the given rows in
// order, the remaining depth zeroed. Rows beyond the table depth are
// silently dropped; the caller orders static entries first so they win.
func WriteARPTable(dev Device, rows []ARPEntry) error {
	for i := 0; i < ARPTableDepth; i++ {
		var hi, lo, ip uint32
		if i < len(rows) {
			hi = macHi(rows[i].MAC)
			lo = macLo(rows[i].MAC)
			ip = ipWord(rows[i].IP)
		}
		if err := dev.WriteReg(RegARPMACHi, hi); err != nil {
			return fmt.Errorf("arp row %d: %w", i, err)
		}
		if err := dev.WriteReg(RegARPMACLo, lo); err != nil {
			return fmt.Errorf("arp row %d: %w", i, err)
		}
		if err := dev.WriteReg(RegARPNextHopIP, ip); err != nil {
			return fmt.Errorf("arp row %d: %w", i, err)
		}
		if err := dev.WriteReg(RegARPWrAddr, uint32(i)); err != nil {
			return fmt.Errorf("arp row %d: %w", i, err)
		}
	}
	return nil
}

// WriteRouteTable rewrites the whole hardware route table: the given rows in
// order, the remaining depth zeroed.
func WriteRouteTable(dev Device, rows []RouteEntry) error {
	for i := 0; i < RouteTableDepth; i++ {
		var ip, mask, nh, port uint32
		if i < len(rows) {
			ip = ipWord(rows[i].IP)
			mask = ipWord(rows[i].Mask)
			nh = ipWord(rows[i].NextHop)
			port = rows[i].PortBits
		}
		if err := dev.WriteReg(RegRouteIP, ip); err != nil {
			return fmt.Errorf("route row %d: %w", i, err)
		}
		if err := dev.WriteReg(RegRouteMask, mask); err != nil {
			return fmt.Errorf("route row %d: %w", i, err)
		}
		if err := dev.WriteReg(RegRouteNextHop, nh); err != nil {
			return fmt.Errorf("route row %d: %w", i, err)
		}
		if err := dev.WriteReg(RegRoutePort, port); err != nil {
			return fmt.Errorf("route row %d: %w", i, err)
		}
		if err := dev.WriteReg(RegRouteWrAddr, uint32(i)); err != nil {
			return fmt.Errorf("route row %d: %w", i, err)
		}
	}
	return nil
}
