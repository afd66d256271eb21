package router

import (
	"context"
	"errors"

	"github.com/openfpga/routerd/internal/netio"
	"github.com/openfpga/routerd/internal/packet"
)

// maxFrame bounds a single punted frame; the fast path never delivers
// jumbo frames to software.
const maxFrame = 2048

// dispatch is one port's read loop. It classifies each frame by EtherType
// and hands it to the protocol handlers; it never mutates shared state
// itself. Frames on one port are processed strictly in arrival order.
func (r *Router) dispatch(ctx context.Context, port int) error {
	log := r.log.With("port", port)
	log.Debug("router: dispatcher started")

	ingress := r.ifaces.ByIndex(port)
	conn := r.ports[port]
	buf := make([]byte, maxFrame)

	for {
		select {
		case <-ctx.Done():
			log.Debug("router: dispatcher stopped", "reason", ctx.Err())
			return nil
		default:
		}

		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, netio.ErrTimeout) {
				continue
			}
			return err
		}
		frame := buf[:n]
		r.metrics.FramesIn.Inc()

		if r.capture != nil {
			if err := r.capture.WriteFrame(frame); err != nil {
				log.Warn("router: capture write failed", "error", err)
			}
		}

		eth, err := packet.ParseEthernet(frame)
		if err != nil {
			r.metrics.Malformed.Inc()
			continue
		}
		log.Debug("router: frame",
			"src", eth.Source(), "dst", eth.Destination(), "ethertype", eth.EtherType(), "len", n)

		switch eth.EtherType() {
		case packet.EtherTypeARP:
			// ARP handling rewrites the hardware ARP table; a device
			// write failure takes the dispatcher down.
			if err := r.arp.HandlePacket(ingress, eth); err != nil {
				return err
			}
		case packet.EtherTypeIPv4:
			r.handleIP(ingress, eth)
		default:
			r.metrics.UnknownEtherType.Inc()
		}
	}
}
