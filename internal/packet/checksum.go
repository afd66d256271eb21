package packet

import "encoding/binary"

// Checksum accumulates the 16-bit ones' complement sum used by IPv4, ICMP
// and PWOSPF. The zero value is ready to use. Fields that must be excluded
// from a sum (checksum fields, PWOSPF authentication) are simply not written.
type Checksum struct {
	sum uint32
}

// AddBytes folds b into the running sum. An odd trailing byte is treated as
// the high octet of a zero-padded word.
func (c *Checksum) AddBytes(b []byte) {
	n := len(b) &^ 1
	for i := 0; i < n; i += 2 {
		c.sum += uint32(binary.BigEndian.Uint16(b[i:]))
	}
	if len(b)&1 != 0 {
		c.sum += uint32(b[len(b)-1]) << 8
	}
}

// AddUint16 folds a single big-endian word into the running sum.
func (c *Checksum) AddUint16(v uint16) {
	c.sum += uint32(v)
}

// Sum16 folds the end-around carries and returns the ones' complement.
func (c *Checksum) Sum16() uint16 {
	s := (c.sum >> 16) + (c.sum & 0xffff)
	s += s >> 16
	return ^uint16(s)
}

// checksumOver computes the checksum of b with the 2-byte field at
// checksumOff treated as zero.
func checksumOver(b []byte, checksumOff int) uint16 {
	var c Checksum
	c.AddBytes(b[:checksumOff])
	c.AddBytes(b[checksumOff+2:])
	return c.Sum16()
}
