// Package packet provides typed views over borrowed byte slices for the
// frame formats the router speaks: Ethernet II, ARP over IPv4, IPv4 without
// options, ICMP, and PWOSPF. Views never copy; emitters write network byte
// order into caller-provided buffers.
package packet

import (
	"errors"
	"fmt"
)

const (
	// EthernetHeaderLen is the Ethernet II header size (no VLAN, no FCS).
	EthernetHeaderLen = 14

	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
)

var errShortEthernet = errors.New("ethernet frame too short")

// MAC is a 48-bit hardware address.
type MAC [6]byte

// BroadcastMAC is the all-ones link-layer broadcast address.
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsBroadcast reports whether m is the link-layer broadcast address.
func (m MAC) IsBroadcast() bool { return m == BroadcastMAC }

// EthernetFrame is a view over an Ethernet II frame.
type EthernetFrame struct {
	buf []byte
}

// ParseEthernet wraps buf. It fails if buf cannot hold the 14-byte header.
func ParseEthernet(buf []byte) (EthernetFrame, error) {
	if len(buf) < EthernetHeaderLen {
		return EthernetFrame{}, errShortEthernet
	}
	return EthernetFrame{buf: buf}, nil
}

// RawData returns the underlying slice the frame was created with.
func (f EthernetFrame) RawData() []byte { return f.buf }

func (f EthernetFrame) Destination() MAC { return MAC(f.buf[0:6]) }

func (f EthernetFrame) Source() MAC { return MAC(f.buf[6:12]) }

func (f EthernetFrame) EtherType() uint16 {
	return uint16(f.buf[12])<<8 | uint16(f.buf[13])
}

// Payload returns everything after the header.
func (f EthernetFrame) Payload() []byte { return f.buf[EthernetHeaderLen:] }

func (f EthernetFrame) SetDestination(m MAC) { copy(f.buf[0:6], m[:]) }

func (f EthernetFrame) SetSource(m MAC) { copy(f.buf[6:12], m[:]) }

func (f EthernetFrame) SetEtherType(t uint16) {
	f.buf[12] = byte(t >> 8)
	f.buf[13] = byte(t)
}

// PutEthernetHeader writes an Ethernet II header at the start of buf.
func PutEthernetHeader(buf []byte, dst, src MAC, etherType uint16) {
	copy(buf[0:6], dst[:])
	copy(buf[6:12], src[:])
	buf[12] = byte(etherType >> 8)
	buf[13] = byte(etherType)
}
