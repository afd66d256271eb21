package packet

import (
	"encoding/binary"
	"errors"
	"net/netip"
)

const (
	// IPv4HeaderLen is the option-less header size; the router rejects any
	// other header length.
	IPv4HeaderLen = 20

	ProtoICMP   uint8 = 1
	ProtoTCP    uint8 = 6
	ProtoUDP    uint8 = 17
	ProtoPWOSPF uint8 = 89

	// DefaultTTL is the TTL for packets originated by the router.
	DefaultTTL uint8 = 64

	flagDF         uint16 = 0x4000
	flagMF         uint16 = 0x2000
	fragOffsetMask uint16 = 0x1fff
)

// AllSPFRouters is the 224.0.0.5 multicast group PWOSPF packets address.
var AllSPFRouters = netip.AddrFrom4([4]byte{224, 0, 0, 5})

var (
	errShortIPv4       = errors.New("ipv4 packet too short")
	errIPv4Version     = errors.New("ipv4 bad version")
	errIPv4Options     = errors.New("ipv4 header carries options")
	errIPv4Fragmented  = errors.New("ipv4 packet is fragmented")
	errIPv4BadChecksum = errors.New("ipv4 bad header checksum")
)

// IPv4Frame is a view over an IPv4 packet (the Ethernet payload).
type IPv4Frame struct {
	buf []byte
}

// ParseIPv4 wraps buf. It fails if buf cannot hold the 20-byte header.
func ParseIPv4(buf []byte) (IPv4Frame, error) {
	if len(buf) < IPv4HeaderLen {
		return IPv4Frame{}, errShortIPv4
	}
	return IPv4Frame{buf: buf}, nil
}

// Validate applies the slow-path acceptance rules: version 4, a bare 5-word
// header, no fragmentation, and a correct header checksum.
func (f IPv4Frame) Validate() error {
	if f.buf[0]>>4 != 4 {
		return errIPv4Version
	}
	if f.buf[0]&0x0f != 5 {
		return errIPv4Options
	}
	frag := binary.BigEndian.Uint16(f.buf[6:8])
	if frag&flagMF != 0 || frag&fragOffsetMask != 0 {
		return errIPv4Fragmented
	}
	if checksumOver(f.buf[:IPv4HeaderLen], 10) != f.Checksum() {
		return errIPv4BadChecksum
	}
	return nil
}

func (f IPv4Frame) RawData() []byte { return f.buf }

func (f IPv4Frame) TotalLen() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

func (f IPv4Frame) TTL() uint8 { return f.buf[8] }

func (f IPv4Frame) SetTTL(ttl uint8) { f.buf[8] = ttl }

func (f IPv4Frame) Protocol() uint8 { return f.buf[9] }

func (f IPv4Frame) Checksum() uint16 { return binary.BigEndian.Uint16(f.buf[10:12]) }

func (f IPv4Frame) Source() netip.Addr { return netip.AddrFrom4([4]byte(f.buf[12:16])) }

func (f IPv4Frame) Destination() netip.Addr { return netip.AddrFrom4([4]byte(f.buf[16:20])) }

// Header returns the 20 header bytes.
func (f IPv4Frame) Header() []byte { return f.buf[:IPv4HeaderLen] }

// Payload returns the bytes after the header, bounded by the total length
// field when it is plausible.
func (f IPv4Frame) Payload() []byte {
	end := int(f.TotalLen())
	if end < IPv4HeaderLen || end > len(f.buf) {
		end = len(f.buf)
	}
	return f.buf[IPv4HeaderLen:end]
}

// UpdateChecksum zeroes the checksum field and writes the recomputed sum.
func (f IPv4Frame) UpdateChecksum() {
	f.buf[10], f.buf[11] = 0, 0
	binary.BigEndian.PutUint16(f.buf[10:12], checksumOver(f.buf[:IPv4HeaderLen], 10))
}

// PutIPv4Header writes a complete option-less IPv4 header at the start of
// buf, DF set, checksum populated.
func PutIPv4Header(buf []byte, payloadLen int, proto uint8, src, dst netip.Addr) {
	buf[0] = 4<<4 | 5
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], uint16(IPv4HeaderLen+payloadLen))
	binary.BigEndian.PutUint16(buf[4:6], 0)
	binary.BigEndian.PutUint16(buf[6:8], flagDF)
	buf[8] = DefaultTTL
	buf[9] = proto
	buf[10], buf[11] = 0, 0
	s := src.As4()
	copy(buf[12:16], s[:])
	d := dst.As4()
	copy(buf[16:20], d[:])
	binary.BigEndian.PutUint16(buf[10:12], checksumOver(buf[:IPv4HeaderLen], 10))
}
