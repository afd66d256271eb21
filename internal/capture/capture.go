// Package capture writes frames punted to the slow path into a pcap file
// for offline inspection.
package capture

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
)

// Writer appends Ethernet frames to a pcap file. Safe for concurrent use by
// the per-port dispatcher loops.
type Writer struct {
	mu sync.Mutex
	f  *os.File
	w  *pcapgo.Writer
}

// NewWriter creates path and writes the pcap file header.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: create %s: %w", path, err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("capture: file header: %w", err)
	}
	return &Writer{f: f, w: w}, nil
}

// WriteFrame records one frame with the current timestamp.
func (w *Writer) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := w.w.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("capture: write packet: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
