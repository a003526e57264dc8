package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Store owns the memory-mapped backing file for a disk. Block access is
// pointer arithmetic into the mapping, same as the simulated disk this
// package reimplements: no explicit read/write syscall per block.
type Store struct {
	file *os.File
	data []byte
}

// OpenStore opens (creating if necessary) the backing file at path,
// grows or shrinks it to exactly the size the geometry requires, and
// maps it shared read/write.
func OpenStore(path string, geom Geometry) (*Store, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open backing file: %w", err)
	}

	size := geom.Bytes()
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: resize backing file: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: mmap backing file: %w", err)
	}

	return &Store{file: f, data: data}, nil
}

// BlockAt returns a slice view directly into the mapping for the block
// at the given linear index. Mutating the returned slice mutates the
// backing file; callers must hold whatever synchronization the caller
// requires (the block-device server serializes access via its arm mutex).
func (s *Store) BlockAt(index int64) []byte {
	off := index * BlockSize
	return s.data[off : off+BlockSize]
}

// Close unmaps the backing file and closes its descriptor. Safe to call
// once, on graceful shutdown.
func (s *Store) Close() error {
	var errs []error
	if err := unix.Munmap(s.data); err != nil {
		errs = append(errs, fmt.Errorf("munmap: %w", err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("blockdev: close store: %v", errs)
	}
	return nil
}
