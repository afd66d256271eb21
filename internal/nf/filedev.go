package nf

import (
	"encoding/binary"
	"fmt"
	"os"
)

// FileDevice drives the register surface through a character device node,
// one native-endian word per access at the register's byte offset.
type FileDevice struct {
	f *os.File
}

// OpenFileDevice opens the device node.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("nf: open device %s: %w", path, err)
	}
	return &FileDevice{f: f}, nil
}

func (d *FileDevice) WriteReg(offset, value uint32) error {
	var w [4]byte
	binary.NativeEndian.PutUint32(w[:], value)
	if _, err := d.f.WriteAt(w[:], int64(offset)); err != nil {
		return fmt.Errorf("nf: write reg %#x: %w", offset, err)
	}
	return nil
}

func (d *FileDevice) ReadReg(offset uint32) (uint32, error) {
	var w [4]byte
	if _, err := d.f.ReadAt(w[:], int64(offset)); err != nil {
		return 0, fmt.Errorf("nf: read reg %#x: %w", offset, err)
	}
	return binary.NativeEndian.Uint32(w[:]), nil
}

// Close releases the device node.
func (d *FileDevice) Close() error { return d.f.Close() }
