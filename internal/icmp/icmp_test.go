package icmp

import (
	"net/netip"
	"testing"

	"github.com/openfpga/routerd/internal/packet"
	"github.com/stretchr/testify/require"
)

var (
	hostA    = netip.AddrFrom4([4]byte{10, 0, 0, 2})
	routerIP = netip.AddrFrom4([4]byte{10, 0, 0, 1})
)

func ipPacket(t *testing.T, proto uint8, src, dst netip.Addr, payload []byte) packet.IPv4Frame {
	t.Helper()
	buf := make([]byte, packet.IPv4HeaderLen+len(payload))
	packet.PutIPv4Header(buf, len(payload), proto, src, dst)
	copy(buf[packet.IPv4HeaderLen:], payload)
	f, err := packet.ParseIPv4(buf)
	require.NoError(t, err)
	return f
}

func echoRequest(t *testing.T, src, dst netip.Addr, payload []byte) packet.IPv4Frame {
	t.Helper()
	msg := make([]byte, packet.ICMPHeaderLen+4+len(payload))
	body := append([]byte{0x12, 0x34, 0x00, 0x01}, payload...)
	packet.PutICMP(msg, packet.ICMPTypeEchoRequest, packet.ICMPCodeEcho, body)
	return ipPacket(t, packet.ProtoICMP, src, dst, msg)
}

func isLocal(addr netip.Addr) bool { return addr == routerIP }

func TestRouterd_ICMP_SuppressionRules(t *testing.T) {
	t.Parallel()

	// Echo request is an eligible original.
	req := echoRequest(t, hostA, routerIP, []byte("abc"))
	require.False(t, SuppressError(req, isLocal))

	// An ICMP error is not.
	errMsg := make([]byte, packet.ICMPHeaderLen)
	packet.PutICMP(errMsg, packet.ICMPTypeDestinationUnreachable, packet.ICMPCodeNetUnknown, nil)
	errPkt := ipPacket(t, packet.ProtoICMP, hostA, routerIP, errMsg)
	require.True(t, SuppressError(errPkt, isLocal))

	// A packet sourced from one of our own addresses gets no error.
	fromSelf := ipPacket(t, packet.ProtoUDP, routerIP, hostA, nil)
	require.True(t, SuppressError(fromSelf, isLocal))

	// Plain transit traffic is eligible.
	udp := ipPacket(t, packet.ProtoUDP, hostA, netip.AddrFrom4([4]byte{10, 1, 0, 1}), nil)
	require.False(t, SuppressError(udp, isLocal))
}

func TestRouterd_ICMP_EchoReplyMirrorsRequest(t *testing.T) {
	t.Parallel()
	payload := []byte("0123456789abcdef0123456789abcdef")
	req := echoRequest(t, hostA, routerIP, payload)

	frame, err := BuildEchoReply(req)
	require.NoError(t, err)

	eth, err := packet.ParseEthernet(frame)
	require.NoError(t, err)
	require.Equal(t, packet.EtherTypeIPv4, eth.EtherType())

	ip, err := packet.ParseIPv4(eth.Payload())
	require.NoError(t, err)
	require.NoError(t, ip.Validate())
	require.Equal(t, routerIP, ip.Source())
	require.Equal(t, hostA, ip.Destination())
	require.Equal(t, packet.DefaultTTL, ip.TTL())

	im, err := packet.ParseICMP(ip.Payload())
	require.NoError(t, err)
	require.True(t, im.Verify())
	require.Equal(t, packet.ICMPTypeEchoReply, im.Type())
	// Identifier, sequence and payload are echoed verbatim.
	require.Equal(t, []byte{0x12, 0x34, 0x00, 0x01}, im.Payload()[:4])
	require.Equal(t, payload, im.Payload()[4:])
}

func TestRouterd_ICMP_ErrorBodyQuotesOriginal(t *testing.T) {
	t.Parallel()
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	orig := ipPacket(t, packet.ProtoUDP, hostA, netip.AddrFrom4([4]byte{10, 1, 0, 1}), payload)

	frame := BuildError(orig, packet.ICMPTypeDestinationUnreachable,
		packet.ICMPCodePortUnreachable, routerIP, false)

	eth, _ := packet.ParseEthernet(frame)
	ip, err := packet.ParseIPv4(eth.Payload())
	require.NoError(t, err)
	require.NoError(t, ip.Validate())
	require.Equal(t, routerIP, ip.Source())
	require.Equal(t, hostA, ip.Destination())

	im, err := packet.ParseICMP(ip.Payload())
	require.NoError(t, err)
	require.True(t, im.Verify())
	require.Equal(t, packet.ICMPTypeDestinationUnreachable, im.Type())
	require.Equal(t, packet.ICMPCodePortUnreachable, im.Code())

	body := im.Payload()
	// 4 unused bytes, the original header, its first 8 payload bytes.
	require.Len(t, body, 4+packet.IPv4HeaderLen+8)
	require.Equal(t, []byte{0, 0, 0, 0}, body[:4])
	quoted, err := packet.ParseIPv4(body[4 : 4+packet.IPv4HeaderLen])
	require.NoError(t, err)
	require.Equal(t, hostA, quoted.Source())
	require.Equal(t, payload[:8], body[4+packet.IPv4HeaderLen:])
}

func TestRouterd_ICMP_ErrorRestoresDecrementedTTL(t *testing.T) {
	t.Parallel()
	orig := ipPacket(t, packet.ProtoUDP, hostA, netip.AddrFrom4([4]byte{10, 1, 0, 1}), make([]byte, 8))
	orig.SetTTL(9) // already decremented from 10 by the forwarding path
	orig.UpdateChecksum()

	frame := BuildError(orig, packet.ICMPTypeDestinationUnreachable,
		packet.ICMPCodeHostUnreachable, routerIP, true)

	eth, _ := packet.ParseEthernet(frame)
	ip, _ := packet.ParseIPv4(eth.Payload())
	im, _ := packet.ParseICMP(ip.Payload())
	quoted, err := packet.ParseIPv4(im.Payload()[4 : 4+packet.IPv4HeaderLen])
	require.NoError(t, err)
	require.Equal(t, uint8(10), quoted.TTL())
	require.NoError(t, quoted.Validate())
}

func TestRouterd_ICMP_ErrorTTL255NotRestored(t *testing.T) {
	t.Parallel()
	orig := ipPacket(t, packet.ProtoUDP, hostA, netip.AddrFrom4([4]byte{10, 1, 0, 1}), make([]byte, 8))
	orig.SetTTL(255)
	orig.UpdateChecksum()

	frame := BuildError(orig, packet.ICMPTypeTimeExceeded, packet.ICMPCodeTTLExceeded, routerIP, true)
	eth, _ := packet.ParseEthernet(frame)
	ip, _ := packet.ParseIPv4(eth.Payload())
	im, _ := packet.ParseICMP(ip.Payload())
	quoted, _ := packet.ParseIPv4(im.Payload()[4 : 4+packet.IPv4HeaderLen])
	require.Equal(t, uint8(255), quoted.TTL())
}
