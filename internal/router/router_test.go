package router

import (
	"log/slog"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openfpga/routerd/internal/iface"
	"github.com/openfpga/routerd/internal/netio"
	"github.com/openfpga/routerd/internal/nf"
	"github.com/openfpga/routerd/internal/packet"
	"github.com/openfpga/routerd/internal/rtable"
	"github.com/stretchr/testify/require"
)

var (
	eth0MAC = packet.MAC{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0x01}
	eth1MAC = packet.MAC{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0x02}
	peerMAC = packet.MAC{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0x02}

	eth0IP = netip.AddrFrom4([4]byte{10, 0, 0, 1})
	eth1IP = netip.AddrFrom4([4]byte{10, 9, 0, 1})
	peerIP = netip.AddrFrom4([4]byte{10, 0, 0, 2})
	srcIP  = netip.AddrFrom4([4]byte{10, 9, 0, 9})

	mask24 = netip.AddrFrom4([4]byte{255, 255, 255, 0})
)

type routerEnv struct {
	r     *Router
	dev   *nf.MockDevice
	ports []*netio.MockPort
	clock *clockwork.FakeClock
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	env := &routerEnv{
		dev:   nf.NewMockDevice(),
		clock: clockwork.NewFakeClock(),
	}
	env.ports = []*netio.MockPort{netio.NewMockPort(), netio.NewMockPort()}

	ports := make([]netio.PortConn, len(env.ports))
	for i, p := range env.ports {
		ports[i] = p
	}

	var err error
	env.r, err = New(&Config{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
		Clock:  env.clock,
		Device: env.dev,
		Ports:  ports,
		Interfaces: []iface.Interface{
			{Name: "eth0", IP: eth0IP, Mask: mask24, MAC: eth0MAC},
			{Name: "eth1", IP: eth1IP, Mask: mask24, MAC: eth1MAC},
		},
		RouterID:      1,
		AreaID:        0,
		HelloInterval: 10,
	})
	require.NoError(t, err)

	// Connected routes, as a boot rtable file would carry.
	require.NoError(t, env.r.routes.AddStatic(rtable.Route{
		Dest: netip.AddrFrom4([4]byte{10, 0, 0, 0}), Mask: mask24,
		Gateway: netip.AddrFrom4([4]byte{0, 0, 0, 0}), Iface: "eth0", Port: 0,
	}))
	require.NoError(t, env.r.routes.AddStatic(rtable.Route{
		Dest: netip.AddrFrom4([4]byte{10, 9, 0, 0}), Mask: mask24,
		Gateway: netip.AddrFrom4([4]byte{0, 0, 0, 0}), Iface: "eth1", Port: 1,
	}))
	return env
}

func (env *routerEnv) ingress(i int) *iface.Interface { return env.r.ifaces.ByIndex(i) }

// buildIP assembles an Ethernet+IPv4 frame carrying payload.
func buildIP(t *testing.T, srcMAC, dstMAC packet.MAC, src, dst netip.Addr, proto uint8, ttl uint8, payload []byte) packet.EthernetFrame {
	t.Helper()
	frame := make([]byte, packet.EthernetHeaderLen+packet.IPv4HeaderLen+len(payload))
	packet.PutEthernetHeader(frame, dstMAC, srcMAC, packet.EtherTypeIPv4)
	packet.PutIPv4Header(frame[packet.EthernetHeaderLen:], len(payload), proto, src, dst)
	copy(frame[packet.EthernetHeaderLen+packet.IPv4HeaderLen:], payload)
	ipf, err := packet.ParseIPv4(frame[packet.EthernetHeaderLen:])
	require.NoError(t, err)
	ipf.SetTTL(ttl)
	ipf.UpdateChecksum()
	eth, err := packet.ParseEthernet(frame)
	require.NoError(t, err)
	return eth
}

func echoRequestFrame(t *testing.T, src, dst netip.Addr, payload []byte) packet.EthernetFrame {
	t.Helper()
	msg := make([]byte, packet.ICMPHeaderLen+4+len(payload))
	body := append([]byte{0x12, 0x34, 0x00, 0x01}, payload...)
	packet.PutICMP(msg, packet.ICMPTypeEchoRequest, packet.ICMPCodeEcho, body)
	return buildIP(t, peerMAC, eth0MAC, src, dst, packet.ProtoICMP, 64, msg)
}

// lastICMP digs the ICMP message out of the most recent frame on a port.
func lastICMP(t *testing.T, port *netio.MockPort) (packet.EthernetFrame, packet.IPv4Frame, packet.ICMPFrame) {
	t.Helper()
	sent := port.Sent()
	require.NotEmpty(t, sent)
	eth, err := packet.ParseEthernet(sent[len(sent)-1])
	require.NoError(t, err)
	ipf, err := packet.ParseIPv4(eth.Payload())
	require.NoError(t, err)
	require.Equal(t, packet.ProtoICMP, ipf.Protocol())
	im, err := packet.ParseICMP(ipf.Payload())
	require.NoError(t, err)
	return eth, ipf, im
}

func TestRouterd_Router_EchoRequestAnswered(t *testing.T) {
	t.Parallel()
	env := newRouterEnv(t)
	require.NoError(t, env.r.arp.Cache().Update(peerIP, peerMAC, false))

	payload := []byte("0123456789abcdef0123456789abcdef")
	env.r.handleIP(env.ingress(0), echoRequestFrame(t, peerIP, eth0IP, payload))

	eth, ipf, im := lastICMP(t, env.ports[0])
	require.Equal(t, peerMAC, eth.Destination())
	require.Equal(t, eth0MAC, eth.Source())
	require.Equal(t, eth0IP, ipf.Source())
	require.Equal(t, peerIP, ipf.Destination())
	require.Equal(t, uint8(64), ipf.TTL())
	require.NoError(t, ipf.Validate())

	require.Equal(t, packet.ICMPTypeEchoReply, im.Type())
	require.True(t, im.Verify())
	require.Equal(t, []byte{0x12, 0x34, 0x00, 0x01}, im.Payload()[:4])
	require.Equal(t, payload, im.Payload()[4:])
}

func TestRouterd_Router_EchoReplyConsumedSilently(t *testing.T) {
	t.Parallel()
	env := newRouterEnv(t)
	require.NoError(t, env.r.arp.Cache().Update(peerIP, peerMAC, false))

	msg := make([]byte, packet.ICMPHeaderLen+4)
	packet.PutICMP(msg, packet.ICMPTypeEchoReply, packet.ICMPCodeEcho, []byte{0, 0, 0, 0})
	env.r.handleIP(env.ingress(0), buildIP(t, peerMAC, eth0MAC, peerIP, eth0IP, packet.ProtoICMP, 64, msg))

	require.Empty(t, env.ports[0].Sent(), "echo replies terminate at the hook")
}

func TestRouterd_Router_ForwardARPMissThenHit(t *testing.T) {
	t.Parallel()
	env := newRouterEnv(t)
	require.NoError(t, env.r.routes.AddStatic(rtable.Route{
		Dest: netip.AddrFrom4([4]byte{10, 1, 0, 0}), Mask: netip.AddrFrom4([4]byte{255, 255, 0, 0}),
		Gateway: peerIP, Iface: "eth0", Port: 0,
	}))

	dst := netip.AddrFrom4([4]byte{10, 1, 2, 3})
	env.r.handleIP(env.ingress(1), buildIP(t, packet.MAC{9}, eth1MAC, srcIP, dst, packet.ProtoUDP, 10, []byte("data")))

	// One broadcast ARP request for the next hop on eth0; the frame is
	// queued, nothing else leaves.
	sent := env.ports[0].Sent()
	require.Len(t, sent, 1)
	reqEth, err := packet.ParseEthernet(sent[0])
	require.NoError(t, err)
	require.True(t, reqEth.Destination().IsBroadcast())
	af, err := packet.ParseARP(reqEth.Payload())
	require.NoError(t, err)
	require.Equal(t, packet.ARPOpRequest, af.Op())
	require.Equal(t, peerIP, af.TargetIP())
	require.Equal(t, 1, env.r.arp.PendingFor(peerIP))

	// The ARP reply releases the queued frame.
	reply := make([]byte, packet.EthernetHeaderLen+packet.ARPLen)
	packet.PutEthernetHeader(reply, eth0MAC, peerMAC, packet.EtherTypeARP)
	packet.PutARP(reply[packet.EthernetHeaderLen:], packet.ARPOpReply, peerMAC, peerIP, eth0MAC, eth0IP)
	replyEth, err := packet.ParseEthernet(reply)
	require.NoError(t, err)
	require.NoError(t, env.r.arp.HandlePacket(env.ingress(0), replyEth))

	sent = env.ports[0].Sent()
	require.Len(t, sent, 2)
	fwdEth, err := packet.ParseEthernet(sent[1])
	require.NoError(t, err)
	require.Equal(t, peerMAC, fwdEth.Destination())
	require.Equal(t, eth0MAC, fwdEth.Source())

	fwdIP, err := packet.ParseIPv4(fwdEth.Payload())
	require.NoError(t, err)
	require.NoError(t, fwdIP.Validate(), "rewritten checksum must verify")
	require.Equal(t, uint8(9), fwdIP.TTL())
	require.Equal(t, dst, fwdIP.Destination())

	// The cache holds the resolution.
	mac, ok := env.r.arp.Cache().Lookup(peerIP)
	require.True(t, ok)
	require.Equal(t, peerMAC, mac)
}

func TestRouterd_Router_ARPGiveUpReturnsHostUnreachable(t *testing.T) {
	t.Parallel()
	env := newRouterEnv(t)
	require.NoError(t, env.r.routes.AddStatic(rtable.Route{
		Dest: netip.AddrFrom4([4]byte{10, 1, 0, 0}), Mask: netip.AddrFrom4([4]byte{255, 255, 0, 0}),
		Gateway: peerIP, Iface: "eth0", Port: 0,
	}))
	// The error reply back to the source resolves immediately.
	require.NoError(t, env.r.arp.Cache().Update(srcIP, packet.MAC{9}, false))

	dst := netip.AddrFrom4([4]byte{10, 1, 2, 3})
	env.r.handleIP(env.ingress(1), buildIP(t, packet.MAC{9}, eth1MAC, srcIP, dst, packet.ProtoUDP, 10, make([]byte, 8)))

	// Five requests total, one per elapsed interval, then the give-up.
	for i := 0; i < 6; i++ {
		env.clock.Advance(arpRetryStep)
		require.NoError(t, env.r.arp.Tick())
	}
	require.Len(t, env.ports[0].Sent(), 5, "request cap respected")
	require.Equal(t, 0, env.r.arp.PendingFor(peerIP))

	_, ipf, im := lastICMP(t, env.ports[1])
	require.Equal(t, srcIP, ipf.Destination())
	require.Equal(t, eth1IP, ipf.Source())
	require.Equal(t, packet.ICMPTypeDestinationUnreachable, im.Type())
	require.Equal(t, packet.ICMPCodeHostUnreachable, im.Code())
	require.True(t, im.Verify())

	// The quoted header carries the original TTL, restored.
	quoted, err := packet.ParseIPv4(im.Payload()[4 : 4+packet.IPv4HeaderLen])
	require.NoError(t, err)
	require.Equal(t, uint8(10), quoted.TTL())
}

func TestRouterd_Router_NoRouteNetUnknown(t *testing.T) {
	t.Parallel()
	env := newRouterEnv(t)
	require.NoError(t, env.r.arp.Cache().Update(srcIP, packet.MAC{9}, false))

	env.r.handleIP(env.ingress(1), buildIP(t, packet.MAC{9}, eth1MAC, srcIP,
		netip.AddrFrom4([4]byte{192, 168, 0, 1}), packet.ProtoUDP, 10, nil))

	_, ipf, im := lastICMP(t, env.ports[1])
	require.Equal(t, packet.ICMPTypeDestinationUnreachable, im.Type())
	require.Equal(t, packet.ICMPCodeNetUnknown, im.Code())
	require.Equal(t, eth1IP, ipf.Source())
}

func TestRouterd_Router_SameInterfaceNetUnreachable(t *testing.T) {
	t.Parallel()
	env := newRouterEnv(t)
	require.NoError(t, env.r.arp.Cache().Update(srcIP, packet.MAC{9}, false))

	// Destination routes back out eth1, the arrival interface.
	env.r.handleIP(env.ingress(1), buildIP(t, packet.MAC{9}, eth1MAC, srcIP,
		netip.AddrFrom4([4]byte{10, 9, 0, 77}), packet.ProtoUDP, 10, nil))

	_, _, im := lastICMP(t, env.ports[1])
	require.Equal(t, packet.ICMPTypeDestinationUnreachable, im.Type())
	require.Equal(t, packet.ICMPCodeNetUnreachable, im.Code())
}

func TestRouterd_Router_TTLExpiredTimeExceeded(t *testing.T) {
	t.Parallel()
	env := newRouterEnv(t)
	require.NoError(t, env.r.arp.Cache().Update(srcIP, packet.MAC{9}, false))

	env.r.handleIP(env.ingress(1), buildIP(t, packet.MAC{9}, eth1MAC, srcIP,
		netip.AddrFrom4([4]byte{10, 0, 0, 50}), packet.ProtoUDP, 1, nil))

	_, _, im := lastICMP(t, env.ports[1])
	require.Equal(t, packet.ICMPTypeTimeExceeded, im.Type())
	require.Equal(t, packet.ICMPCodeTTLExceeded, im.Code())
}

func TestRouterd_Router_PortAndProtocolUnreachable(t *testing.T) {
	t.Parallel()
	env := newRouterEnv(t)
	require.NoError(t, env.r.arp.Cache().Update(peerIP, peerMAC, false))

	// TCP to the router: Port Unreachable sourced from the addressed IP.
	env.r.handleIP(env.ingress(0), buildIP(t, peerMAC, eth0MAC, peerIP, eth0IP, packet.ProtoTCP, 64, make([]byte, 8)))
	_, ipf, im := lastICMP(t, env.ports[0])
	require.Equal(t, packet.ICMPTypeDestinationUnreachable, im.Type())
	require.Equal(t, packet.ICMPCodePortUnreachable, im.Code())
	require.Equal(t, eth0IP, ipf.Source())

	// An unhandled protocol: Protocol Unreachable.
	env.r.handleIP(env.ingress(0), buildIP(t, peerMAC, eth0MAC, peerIP, eth0IP, 47, 64, make([]byte, 8)))
	_, _, im = lastICMP(t, env.ports[0])
	require.Equal(t, packet.ICMPTypeDestinationUnreachable, im.Type())
	require.Equal(t, packet.ICMPCodeProtocolUnreachable, im.Code())
}

func TestRouterd_Router_NoErrorInReplyToICMPError(t *testing.T) {
	t.Parallel()
	env := newRouterEnv(t)
	require.NoError(t, env.r.arp.Cache().Update(peerIP, peerMAC, false))

	// An ICMP error destined to a prefix we cannot route would normally
	// draw Net Unknown; suppression keeps us quiet.
	msg := make([]byte, packet.ICMPHeaderLen+4)
	packet.PutICMP(msg, packet.ICMPTypeDestinationUnreachable, packet.ICMPCodeHostUnreachable, []byte{0, 0, 0, 0})
	env.r.handleIP(env.ingress(0), buildIP(t, peerMAC, eth0MAC, peerIP,
		netip.AddrFrom4([4]byte{192, 168, 0, 1}), packet.ProtoICMP, 10, msg))

	require.Empty(t, env.ports[0].Sent())
	require.Empty(t, env.ports[1].Sent())
}

func TestRouterd_Router_MalformedIPDroppedSilently(t *testing.T) {
	t.Parallel()
	env := newRouterEnv(t)

	eth := buildIP(t, peerMAC, eth0MAC, peerIP, eth0IP, packet.ProtoUDP, 64, nil)
	// Corrupt the header checksum.
	eth.Payload()[10] ^= 0xff
	env.r.handleIP(env.ingress(0), eth)

	require.Empty(t, env.ports[0].Sent())
}

func TestRouterd_Router_DispatcherClassifiesAndShutsDown(t *testing.T) {
	t.Parallel()
	env := newRouterEnv(t)
	require.NoError(t, env.r.arp.Cache().Update(peerIP, peerMAC, false))

	ctx, cancel := testContext(t)
	done := make(chan error, 1)
	go func() { done <- env.r.dispatch(ctx, 0) }()

	env.ports[0].Inject(echoRequestFrame(t, peerIP, eth0IP, []byte("hi")).RawData())

	require.Eventually(t, func() bool {
		return len(env.ports[0].Sent()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
