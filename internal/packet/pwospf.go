package packet

import (
	"encoding/binary"
	"errors"
	"net/netip"
)

// PWOSPF is a stripped OSPFv2: a 24-byte common header followed by either an
// 8-byte HELLO trailer or an 8-byte LSU header and a flat advertisement list.
// Authentication fields exist on the wire but are always zero.
const (
	PWOSPFHeaderLen = 24
	PWOSPFHelloLen  = 8
	PWOSPFLSULen    = 8
	PWOSPFAdvLen    = 12

	PWOSPFVersion uint8 = 2

	PWOSPFTypeHello uint8 = 1
	PWOSPFTypeLSU   uint8 = 4
)

var (
	errShortPWOSPF = errors.New("pwospf packet too short")
	errPWOSPFLen   = errors.New("pwospf length field out of range")
)

// Advertisement is the {subnet, mask, neighbor router-id} triple carried in
// an LSU.
type Advertisement struct {
	Subnet   netip.Addr
	Mask     netip.Addr
	RouterID uint32
}

// PWOSPFFrame is a view over a PWOSPF packet (the IPv4 payload).
type PWOSPFFrame struct {
	buf []byte
}

// ParsePWOSPF wraps buf. It fails if buf cannot hold the common header or if
// the length field points past the buffer.
func ParsePWOSPF(buf []byte) (PWOSPFFrame, error) {
	if len(buf) < PWOSPFHeaderLen {
		return PWOSPFFrame{}, errShortPWOSPF
	}
	f := PWOSPFFrame{buf: buf}
	if n := int(f.Length()); n < PWOSPFHeaderLen || n > len(buf) {
		return PWOSPFFrame{}, errPWOSPFLen
	}
	return f, nil
}

func (f PWOSPFFrame) RawData() []byte { return f.buf[:f.Length()] }

func (f PWOSPFFrame) Version() uint8 { return f.buf[0] }

func (f PWOSPFFrame) Type() uint8 { return f.buf[1] }

func (f PWOSPFFrame) Length() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

func (f PWOSPFFrame) RouterID() uint32 { return binary.BigEndian.Uint32(f.buf[4:8]) }

func (f PWOSPFFrame) AreaID() uint32 { return binary.BigEndian.Uint32(f.buf[8:12]) }

func (f PWOSPFFrame) Checksum() uint16 { return binary.BigEndian.Uint16(f.buf[12:14]) }

func (f PWOSPFFrame) AuthType() uint16 { return binary.BigEndian.Uint16(f.buf[14:16]) }

// checksum sums Length bytes with the checksum field zeroed and the 8
// authentication bytes (16..24) excluded.
func (f PWOSPFFrame) checksum() uint16 {
	var c Checksum
	c.AddBytes(f.buf[0:12])
	c.AddBytes(f.buf[14:16])
	c.AddBytes(f.buf[PWOSPFHeaderLen:f.Length()])
	return c.Sum16()
}

// Verify recomputes the checksum and compares it to the stored field.
func (f PWOSPFFrame) Verify() bool { return f.checksum() == f.Checksum() }

// UpdateChecksum rewrites the checksum field.
func (f PWOSPFFrame) UpdateChecksum() {
	binary.BigEndian.PutUint16(f.buf[12:14], f.checksum())
}

// HelloMask returns the advertised network mask of a HELLO.
func (f PWOSPFFrame) HelloMask() netip.Addr {
	return netip.AddrFrom4([4]byte(f.buf[PWOSPFHeaderLen : PWOSPFHeaderLen+4]))
}

// HelloInterval returns the advertised hello interval in seconds.
func (f PWOSPFFrame) HelloInterval() uint16 {
	return binary.BigEndian.Uint16(f.buf[PWOSPFHeaderLen+4 : PWOSPFHeaderLen+6])
}

// ValidateHello checks that the buffer holds a full HELLO trailer.
func (f PWOSPFFrame) ValidateHello() error {
	if int(f.Length()) < PWOSPFHeaderLen+PWOSPFHelloLen {
		return errShortPWOSPF
	}
	return nil
}

func (f PWOSPFFrame) LSUSeq() uint16 {
	return binary.BigEndian.Uint16(f.buf[PWOSPFHeaderLen : PWOSPFHeaderLen+2])
}

func (f PWOSPFFrame) LSUTTL() uint16 {
	return binary.BigEndian.Uint16(f.buf[PWOSPFHeaderLen+2 : PWOSPFHeaderLen+4])
}

func (f PWOSPFFrame) SetLSUTTL(ttl uint16) {
	binary.BigEndian.PutUint16(f.buf[PWOSPFHeaderLen+2:PWOSPFHeaderLen+4], ttl)
}

// LSUCount returns the advertisement count field.
func (f PWOSPFFrame) LSUCount() uint32 {
	return binary.BigEndian.Uint32(f.buf[PWOSPFHeaderLen+4 : PWOSPFHeaderLen+8])
}

// ValidateLSU checks that the advertisement count fits in the packet length.
func (f PWOSPFFrame) ValidateLSU() error {
	if int(f.Length()) < PWOSPFHeaderLen+PWOSPFLSULen {
		return errShortPWOSPF
	}
	want := PWOSPFHeaderLen + PWOSPFLSULen + int(f.LSUCount())*PWOSPFAdvLen
	if int(f.Length()) < want {
		return errPWOSPFLen
	}
	return nil
}

// Advertisement returns the i-th advertisement of an LSU. The subnet is
// masked on read so stored prefixes are canonical.
func (f PWOSPFFrame) Advertisement(i int) Advertisement {
	off := PWOSPFHeaderLen + PWOSPFLSULen + i*PWOSPFAdvLen
	sub := binary.BigEndian.Uint32(f.buf[off : off+4])
	mask := binary.BigEndian.Uint32(f.buf[off+4 : off+8])
	var s, m [4]byte
	binary.BigEndian.PutUint32(s[:], sub&mask)
	binary.BigEndian.PutUint32(m[:], mask)
	return Advertisement{
		Subnet:   netip.AddrFrom4(s),
		Mask:     netip.AddrFrom4(m),
		RouterID: binary.BigEndian.Uint32(f.buf[off+8 : off+12]),
	}
}

// PutPWOSPFHeader writes the 24-byte common header with zeroed auth fields
// and a zero checksum; call UpdateChecksum after the body is in place.
func PutPWOSPFHeader(buf []byte, typ uint8, length int, routerID, areaID uint32) {
	buf[0] = PWOSPFVersion
	buf[1] = typ
	binary.BigEndian.PutUint16(buf[2:4], uint16(length))
	binary.BigEndian.PutUint32(buf[4:8], routerID)
	binary.BigEndian.PutUint32(buf[8:12], areaID)
	for i := 12; i < PWOSPFHeaderLen; i++ {
		buf[i] = 0
	}
}

// PutHello writes the 8-byte HELLO trailer after the common header.
func PutHello(buf []byte, mask netip.Addr, helloInterval uint16) {
	m := mask.As4()
	copy(buf[PWOSPFHeaderLen:PWOSPFHeaderLen+4], m[:])
	binary.BigEndian.PutUint16(buf[PWOSPFHeaderLen+4:PWOSPFHeaderLen+6], helloInterval)
	buf[PWOSPFHeaderLen+6], buf[PWOSPFHeaderLen+7] = 0, 0
}

// PutLSU writes the 8-byte LSU header and the advertisement list after the
// common header.
func PutLSU(buf []byte, seq, ttl uint16, advs []Advertisement) {
	binary.BigEndian.PutUint16(buf[PWOSPFHeaderLen:PWOSPFHeaderLen+2], seq)
	binary.BigEndian.PutUint16(buf[PWOSPFHeaderLen+2:PWOSPFHeaderLen+4], ttl)
	binary.BigEndian.PutUint32(buf[PWOSPFHeaderLen+4:PWOSPFHeaderLen+8], uint32(len(advs)))
	off := PWOSPFHeaderLen + PWOSPFLSULen
	for _, adv := range advs {
		s := adv.Subnet.As4()
		m := adv.Mask.As4()
		copy(buf[off:off+4], s[:])
		copy(buf[off+4:off+8], m[:])
		binary.BigEndian.PutUint32(buf[off+8:off+12], adv.RouterID)
		off += PWOSPFAdvLen
	}
}

// LSUSize returns the on-wire PWOSPF length of an LSU with n advertisements.
func LSUSize(n int) int { return PWOSPFHeaderLen + PWOSPFLSULen + n*PWOSPFAdvLen }

// HelloSize is the on-wire PWOSPF length of a HELLO.
const HelloSize = PWOSPFHeaderLen + PWOSPFHelloLen
