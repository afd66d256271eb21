package router

import (
	"net/netip"

	"github.com/openfpga/routerd/internal/iface"
	"github.com/openfpga/routerd/internal/icmp"
	"github.com/openfpga/routerd/internal/packet"
)

// handleIP runs the slow path for one IPv4 frame: local delivery for the
// router's own addresses and the all-routers group, forwarding otherwise.
func (r *Router) handleIP(ingress *iface.Interface, eth packet.EthernetFrame) {
	ipf, err := packet.ParseIPv4(eth.Payload())
	if err != nil {
		r.metrics.Malformed.Inc()
		return
	}
	if err := ipf.Validate(); err != nil {
		r.log.Debug("router: dropping ip packet", "reason", err)
		r.metrics.Malformed.Inc()
		return
	}

	dst := ipf.Destination()
	if r.isLocalIP(dst) || dst == packet.AllSPFRouters {
		r.deliverLocal(ingress, ipf)
		return
	}
	r.forward(ingress, eth, ipf)
}

func (r *Router) isLocalIP(addr netip.Addr) bool {
	return r.ifaces.ByIP(addr) != nil
}

// deliverLocal dispatches a packet addressed to the router by protocol.
func (r *Router) deliverLocal(ingress *iface.Interface, ipf packet.IPv4Frame) {
	r.metrics.LocalDelivered.Inc()
	switch ipf.Protocol() {
	case packet.ProtoICMP:
		r.deliverICMP(ipf)
	case packet.ProtoPWOSPF:
		r.ospf.HandlePacket(ingress, ipf)
	case packet.ProtoTCP, packet.ProtoUDP:
		r.sendICMPError(ipf, packet.ICMPTypeDestinationUnreachable, packet.ICMPCodePortUnreachable, false)
	default:
		r.sendICMPError(ipf, packet.ICMPTypeDestinationUnreachable, packet.ICMPCodeProtocolUnreachable, false)
	}
}

func (r *Router) deliverICMP(ipf packet.IPv4Frame) {
	im, err := packet.ParseICMP(ipf.Payload())
	if err != nil {
		r.metrics.Malformed.Inc()
		return
	}
	switch im.Type() {
	case packet.ICMPTypeEchoRequest:
		reply, err := icmp.BuildEchoReply(ipf)
		if err != nil {
			r.metrics.Malformed.Inc()
			return
		}
		r.metrics.EchoReplies.Inc()
		r.sendIPFrame(reply)
	case packet.ICMPTypeEchoReply:
		// Hook reserved for a ping client.
		r.metrics.EchoRepliesReceived.Inc()
		if r.echo != nil {
			r.echo(ipf.RawData())
		}
	}
}

// forward runs the transit pipeline: route lookup, loop check, TTL, header
// rewrite, and handoff to ARP resolution with an owned copy of the frame.
func (r *Router) forward(ingress *iface.Interface, eth packet.EthernetFrame, ipf packet.IPv4Frame) {
	dst := ipf.Destination()

	nextHop, port, ok := r.routes.Lookup(dst)
	if !ok {
		r.sendICMPError(ipf, packet.ICMPTypeDestinationUnreachable, packet.ICMPCodeNetUnknown, false)
		return
	}
	if port == ingress.Index {
		// Sending back out the arrival interface means the route is
		// misconfigured; answering avoids an immediate loop.
		r.sendICMPError(ipf, packet.ICMPTypeDestinationUnreachable, packet.ICMPCodeNetUnreachable, false)
		return
	}
	if ipf.TTL() == 1 {
		r.sendICMPError(ipf, packet.ICMPTypeTimeExceeded, packet.ICMPCodeTTLExceeded, false)
		return
	}

	egress := r.ifaces.ByIndex(port)

	// The receive buffer is borrowed; everything leaving the dispatcher
	// is an owned copy.
	cp := make([]byte, len(eth.RawData()))
	copy(cp, eth.RawData())
	ethCp, _ := packet.ParseEthernet(cp)
	ipCp, _ := packet.ParseIPv4(ethCp.Payload())
	ipCp.SetTTL(ipCp.TTL() - 1)
	ipCp.UpdateChecksum()
	ethCp.SetSource(egress.MAC)

	r.metrics.Forwarded.Inc()
	if err := r.arp.ResolveAndSend(cp, nextHop, egress); err != nil {
		r.log.Warn("router: forward failed", "dest", dst, "error", err)
	}
}

// sendICMPError answers the given packet with an ICMP error, subject to the
// suppression rules. restoreTTL is set when the original's TTL was already
// decremented by the forwarding path.
func (r *Router) sendICMPError(orig packet.IPv4Frame, typ, code uint8, restoreTTL bool) {
	if icmp.SuppressError(orig, r.isLocalIP) {
		r.metrics.ICMPSuppressed.Inc()
		return
	}

	// Port Unreachable implies the original was aimed at this router, so
	// the reply carries the address it was sent to; any other error is
	// sourced from the interface the reply leaves through.
	var src netip.Addr
	if typ == packet.ICMPTypeDestinationUnreachable && code == packet.ICMPCodePortUnreachable {
		src = orig.Destination()
	} else {
		_, port, ok := r.routes.Lookup(orig.Source())
		if !ok {
			r.log.Debug("router: no return route for icmp error", "dest", orig.Source())
			return
		}
		src = r.ifaces.ByIndex(port).IP
	}

	frame := icmp.BuildError(orig, typ, code, src, restoreTTL)
	r.metrics.ICMPErrors.Inc()
	r.sendIPFrame(frame)
}

// sendIPFrame routes and transmits a self-originated IP frame: route
// lookup, source-MAC rewrite, ARP resolution.
func (r *Router) sendIPFrame(frame []byte) {
	eth, err := packet.ParseEthernet(frame)
	if err != nil {
		return
	}
	ipf, err := packet.ParseIPv4(eth.Payload())
	if err != nil {
		return
	}

	nextHop, port, ok := r.routes.Lookup(ipf.Destination())
	if !ok {
		r.log.Debug("router: no route for originated packet", "dest", ipf.Destination())
		return
	}
	egress := r.ifaces.ByIndex(port)
	eth.SetSource(egress.MAC)
	if err := r.arp.ResolveAndSend(frame, nextHop, egress); err != nil {
		r.log.Warn("router: send failed", "dest", ipf.Destination(), "error", err)
	}
}

// hostUnreachable answers a frame abandoned by ARP resolution. The frame's
// TTL was decremented before it queued, so the error body restores it.
func (r *Router) hostUnreachable(frame []byte) {
	eth, err := packet.ParseEthernet(frame)
	if err != nil {
		return
	}
	ipf, err := packet.ParseIPv4(eth.Payload())
	if err != nil {
		return
	}
	r.sendICMPError(ipf, packet.ICMPTypeDestinationUnreachable, packet.ICMPCodeHostUnreachable, true)
}
