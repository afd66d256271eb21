// Package icmp builds the ICMP messages the router originates: echo replies
// and the destination-unreachable / time-exceeded errors of the slow path.
// Builders produce complete Ethernet frames with the link-layer addresses
// left zero; the send path fills them during ARP resolution.
package icmp

import (
	"net/netip"

	"github.com/openfpga/routerd/internal/packet"
)

// errBodyLen is the ICMP error body: 4 unused bytes, the original IP
// header, and its first 8 payload bytes.
const errBodyLen = 4 + packet.IPv4HeaderLen + 8

// SuppressError reports whether an ICMP error must NOT be sent in reply to
// the given packet: errors never answer other ICMP errors (only echo
// request/reply are eligible originals), and never travel toward one of the
// router's own addresses.
func SuppressError(ip packet.IPv4Frame, isLocalIP func(netip.Addr) bool) bool {
	if ip.Protocol() == packet.ProtoICMP {
		if im, err := packet.ParseICMP(ip.Payload()); err != nil || im.IsError() {
			return true
		}
	}
	return isLocalIP(ip.Source())
}

// BuildEchoReply answers an Echo Request, copying identifier, sequence and
// payload back. The reply's source is the original destination, which is by
// definition one of the router's addresses.
func BuildEchoReply(orig packet.IPv4Frame) ([]byte, error) {
	req, err := packet.ParseICMP(orig.Payload())
	if err != nil {
		return nil, err
	}
	msgLen := packet.ICMPHeaderLen + len(req.Payload())
	frame := make([]byte, packet.EthernetHeaderLen+packet.IPv4HeaderLen+msgLen)

	packet.PutEthernetHeader(frame, packet.MAC{}, packet.MAC{}, packet.EtherTypeIPv4)
	packet.PutIPv4Header(frame[packet.EthernetHeaderLen:], msgLen, packet.ProtoICMP,
		orig.Destination(), orig.Source())
	packet.PutICMP(frame[packet.EthernetHeaderLen+packet.IPv4HeaderLen:],
		packet.ICMPTypeEchoReply, packet.ICMPCodeEcho, req.Payload())
	return frame, nil
}

// BuildError builds an ICMP error about the given packet, sourced from src.
// When restoreTTL is set the embedded header carries the original's TTL
// incremented back by one (the forwarding path had already decremented it);
// the embedded checksum is recomputed so the quoted header verifies.
func BuildError(orig packet.IPv4Frame, typ, code uint8, src netip.Addr, restoreTTL bool) []byte {
	var body [errBodyLen]byte
	copy(body[4:], orig.Header())
	n := copy(body[4+packet.IPv4HeaderLen:], orig.Payload())

	quoted, _ := packet.ParseIPv4(body[4 : 4+packet.IPv4HeaderLen])
	if restoreTTL && quoted.TTL() < 255 {
		quoted.SetTTL(quoted.TTL() + 1)
	}
	quoted.UpdateChecksum()

	msgLen := packet.ICMPHeaderLen + 4 + packet.IPv4HeaderLen + n
	frame := make([]byte, packet.EthernetHeaderLen+packet.IPv4HeaderLen+msgLen)

	packet.PutEthernetHeader(frame, packet.MAC{}, packet.MAC{}, packet.EtherTypeIPv4)
	packet.PutIPv4Header(frame[packet.EthernetHeaderLen:], msgLen, packet.ProtoICMP,
		src, orig.Source())
	packet.PutICMP(frame[packet.EthernetHeaderLen+packet.IPv4HeaderLen:],
		typ, code, body[:4+packet.IPv4HeaderLen+n])
	return frame
}
