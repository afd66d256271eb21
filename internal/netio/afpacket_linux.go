//go:build linux

package netio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// packetConn is an AF_PACKET socket bound to one interface. The receive
// timeout keeps Read interruptible for cooperative shutdown.
type packetConn struct {
	fd      int
	ifindex int
}

// OpenPort opens a raw link-layer socket bound to the interface with the
// given kernel index, receiving all EtherTypes.
func OpenPort(ifindex int) (PortConn, error) {
	proto := htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("netio: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: ifindex}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netio: bind ifindex %d: %w", ifindex, err)
	}
	tv := unix.Timeval{Usec: 500000}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netio: set rcv timeout: %w", err)
	}
	return &packetConn{fd: fd, ifindex: ifindex}, nil
}

func (c *packetConn) Read(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(c.fd, buf, 0)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
			return 0, ErrTimeout
		}
		return 0, fmt.Errorf("netio: recvfrom: %w", err)
	}
	return n, nil
}

func (c *packetConn) Write(frame []byte) (int, error) {
	addr := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: c.ifindex}
	if err := unix.Sendto(c.fd, frame, 0, addr); err != nil {
		return 0, fmt.Errorf("netio: sendto: %w", err)
	}
	return len(frame), nil
}

func (c *packetConn) Close() error { return unix.Close(c.fd) }

func htons(v uint16) uint16 {
	var be [2]byte
	binary.BigEndian.PutUint16(be[:], v)
	return binary.NativeEndian.Uint16(be[:])
}
