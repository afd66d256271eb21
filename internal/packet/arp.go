package packet

import (
	"encoding/binary"
	"errors"
	"net/netip"
)

// ARP over Ethernet/IPv4, RFC 826. Fixed 28-byte layout: hardware type 1,
// protocol type 0x0800, hardware length 6, protocol length 4.
const (
	ARPLen = 28

	ARPOpRequest uint16 = 1
	ARPOpReply   uint16 = 2

	arpHardwareEthernet uint16 = 1
)

var errShortARP = errors.New("arp packet too short")

// ARPFrame is a view over an ARP packet (the Ethernet payload).
type ARPFrame struct {
	buf []byte
}

// ParseARP wraps buf. It fails if buf cannot hold a full IPv4 ARP packet.
func ParseARP(buf []byte) (ARPFrame, error) {
	if len(buf) < ARPLen {
		return ARPFrame{}, errShortARP
	}
	return ARPFrame{buf: buf}, nil
}

// Valid reports whether the fixed fields describe ARP over Ethernet/IPv4.
func (f ARPFrame) Valid() bool {
	return binary.BigEndian.Uint16(f.buf[0:2]) == arpHardwareEthernet &&
		binary.BigEndian.Uint16(f.buf[2:4]) == EtherTypeIPv4 &&
		f.buf[4] == 6 && f.buf[5] == 4
}

func (f ARPFrame) Op() uint16 { return binary.BigEndian.Uint16(f.buf[6:8]) }

func (f ARPFrame) SenderMAC() MAC { return MAC(f.buf[8:14]) }

func (f ARPFrame) SenderIP() netip.Addr { return netip.AddrFrom4([4]byte(f.buf[14:18])) }

func (f ARPFrame) TargetMAC() MAC { return MAC(f.buf[18:24]) }

func (f ARPFrame) TargetIP() netip.Addr { return netip.AddrFrom4([4]byte(f.buf[24:28])) }

// PutARP writes a complete 28-byte ARP packet at the start of buf.
func PutARP(buf []byte, op uint16, senderMAC MAC, senderIP netip.Addr, targetMAC MAC, targetIP netip.Addr) {
	binary.BigEndian.PutUint16(buf[0:2], arpHardwareEthernet)
	binary.BigEndian.PutUint16(buf[2:4], EtherTypeIPv4)
	buf[4] = 6
	buf[5] = 4
	binary.BigEndian.PutUint16(buf[6:8], op)
	copy(buf[8:14], senderMAC[:])
	sip := senderIP.As4()
	copy(buf[14:18], sip[:])
	copy(buf[18:24], targetMAC[:])
	tip := targetIP.As4()
	copy(buf[24:28], tip[:])
}
