package packet

import (
	"encoding/binary"
	"errors"
)

const (
	// ICMPHeaderLen covers type, code and checksum; everything after is
	// message-specific and treated as payload.
	ICMPHeaderLen = 4

	ICMPTypeEchoReply              uint8 = 0
	ICMPTypeDestinationUnreachable uint8 = 3
	ICMPTypeEchoRequest            uint8 = 8
	ICMPTypeTimeExceeded           uint8 = 11

	ICMPCodeNetUnreachable      uint8 = 0
	ICMPCodeHostUnreachable     uint8 = 1
	ICMPCodeProtocolUnreachable uint8 = 2
	ICMPCodePortUnreachable     uint8 = 3
	ICMPCodeNetUnknown          uint8 = 6
	ICMPCodeTTLExceeded         uint8 = 0
	ICMPCodeEcho                uint8 = 0
)

var errShortICMP = errors.New("icmp message too short")

// ICMPFrame is a view over an ICMP message (the IPv4 payload).
type ICMPFrame struct {
	buf []byte
}

// ParseICMP wraps buf. It fails if buf cannot hold the 4-byte header.
func ParseICMP(buf []byte) (ICMPFrame, error) {
	if len(buf) < ICMPHeaderLen {
		return ICMPFrame{}, errShortICMP
	}
	return ICMPFrame{buf: buf}, nil
}

func (f ICMPFrame) Type() uint8 { return f.buf[0] }

func (f ICMPFrame) Code() uint8 { return f.buf[1] }

func (f ICMPFrame) Checksum() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// Payload returns the message body after the 4-byte header.
func (f ICMPFrame) Payload() []byte { return f.buf[ICMPHeaderLen:] }

// IsError reports whether the message is an ICMP error rather than an echo.
// Only Echo Request/Reply are eligible to trigger error replies.
func (f ICMPFrame) IsError() bool {
	return f.Type() != ICMPTypeEchoRequest && f.Type() != ICMPTypeEchoReply
}

// Verify recomputes the checksum over the whole message and compares.
func (f ICMPFrame) Verify() bool {
	return checksumOver(f.buf, 2) == f.Checksum()
}

// UpdateChecksum zeroes the checksum field and writes the recomputed sum
// over the whole message.
func (f ICMPFrame) UpdateChecksum() {
	f.buf[2], f.buf[3] = 0, 0
	binary.BigEndian.PutUint16(f.buf[2:4], checksumOver(f.buf, 2))
}

// PutICMP writes an ICMP message (header + payload) at the start of buf and
// populates the checksum. It returns the message length.
func PutICMP(buf []byte, typ, code uint8, payload []byte) int {
	buf[0] = typ
	buf[1] = code
	buf[2], buf[3] = 0, 0
	copy(buf[ICMPHeaderLen:], payload)
	n := ICMPHeaderLen + len(payload)
	binary.BigEndian.PutUint16(buf[2:4], checksumOver(buf[:n], 2))
	return n
}
