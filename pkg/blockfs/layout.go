// Package blockfs implements the flat-namespace filesystem server and
// client layered on top of pkg/blockdev: superblock, allocation table
// (FAT), and fixed directory, all serialized through explicit
// byte-offset routines rather than native struct layout (spec.md §9).
package blockfs

import (
	"encoding/binary"
	"fmt"

	"github.com/ondisk/blockfs/pkg/blockdev"
)

const (
	// Magic identifies a formatted device. Any change to the binary
	// layout below must change this tag.
	Magic = "CSFS1"

	// FAT entry sentinels.
	FATFree     uint32 = 0x00000000
	FATReserved uint32 = 0xFFFFFFFE
	FATEOC      uint32 = 0xFFFFFFFF

	// DirEntries is the number of slots in the fixed directory.
	DirEntries = 64
	// DirEntrySize is the on-disk size of one directory entry.
	DirEntrySize = 64
	// DirEntriesPerBlock is fixed by the 64-byte entry / 128-byte block ratio.
	DirEntriesPerBlock = blockdev.BlockSize / DirEntrySize
	// DirBlocks is the number of blocks the directory spans.
	DirBlocks = DirEntries / DirEntriesPerBlock

	// MaxNameLen is the maximum length of a file name, per spec.md §4.2.
	MaxNameLen = 31

	fatEntrySize      = 4
	fatEntriesPerBlk  = blockdev.BlockSize / fatEntrySize
	superblockMagicOf = 0
	superblockCOff    = 16
	superblockSOff    = 24
	superblockTotalOf = 40
	superblockFATStOf = 44
	superblockFATLnOf = 48
	superblockDirStOf = 52
	superblockDirLnOf = 56
	superblockDirCtOf = 60

	dirNameOff   = 0
	dirLengthOff = 32
	dirFirstOff  = 36
	dirUsedOff   = 40
)

// Layout records the block ranges computed at format time and read
// back from the superblock on every subsequent session.
type Layout struct {
	Geometry    blockdev.Geometry
	Total       uint32
	FATStart    uint32
	FATLength   uint32
	DirStart    uint32
	DirLength   uint32
	DirCount    uint32 // always DirEntries; kept for the recorded superblock field
}

// ComputeLayout derives the on-disk layout for a freshly formatted
// device with the given geometry, per spec.md §4.2 Format.
func ComputeLayout(geom blockdev.Geometry) Layout {
	total := uint32(geom.Total())
	fatLen := ceilDiv(total*fatEntrySize, blockdev.BlockSize)
	fatStart := uint32(1)
	dirStart := fatStart + fatLen
	return Layout{
		Geometry:  geom,
		Total:     total,
		FATStart:  fatStart,
		FATLength: fatLen,
		DirStart:  dirStart,
		DirLength: uint32(DirBlocks),
		DirCount:  uint32(DirEntries),
	}
}

// DataStart is the first block index available for file data.
func (l Layout) DataStart() uint32 {
	return l.DirStart + l.DirLength
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// Superblock is the fixed-offset binary record stored in block 0.
type Superblock struct {
	Layout Layout
}

// MarshalBinary encodes the superblock into exactly one block's worth
// of bytes (blockdev.BlockSize), zero elsewhere, per spec.md §3.
func (sb Superblock) MarshalBinary() []byte {
	buf := make([]byte, blockdev.BlockSize)
	copy(buf[superblockMagicOf:], Magic)
	binary.LittleEndian.PutUint64(buf[superblockCOff:], uint64(sb.Layout.Geometry.Cylinders))
	binary.LittleEndian.PutUint64(buf[superblockSOff:], uint64(sb.Layout.Geometry.Sectors))
	binary.LittleEndian.PutUint32(buf[superblockTotalOf:], sb.Layout.Total)
	binary.LittleEndian.PutUint32(buf[superblockFATStOf:], sb.Layout.FATStart)
	binary.LittleEndian.PutUint32(buf[superblockFATLnOf:], sb.Layout.FATLength)
	binary.LittleEndian.PutUint32(buf[superblockDirStOf:], sb.Layout.DirStart)
	binary.LittleEndian.PutUint32(buf[superblockDirLnOf:], sb.Layout.DirLength)
	binary.LittleEndian.PutUint32(buf[superblockDirCtOf:], sb.Layout.DirCount)
	return buf
}

// UnmarshalSuperblock parses a superblock from block 0's raw bytes.
// It returns ok=false (no error) if the magic tag doesn't match,
// matching spec.md §4.2's "FS detects a previously formatted device...
// by loading block 0 and checking the magic tag".
func UnmarshalSuperblock(block []byte) (sb Superblock, ok bool, err error) {
	if len(block) < blockdev.BlockSize {
		return sb, false, fmt.Errorf("blockfs: superblock block too short: %d bytes", len(block))
	}
	if string(block[superblockMagicOf:superblockMagicOf+len(Magic)]) != Magic {
		return sb, false, nil
	}
	l := Layout{
		Geometry: blockdev.Geometry{
			Cylinders: int64(binary.LittleEndian.Uint64(block[superblockCOff:])),
			Sectors:   int64(binary.LittleEndian.Uint64(block[superblockSOff:])),
		},
		Total:     binary.LittleEndian.Uint32(block[superblockTotalOf:]),
		FATStart:  binary.LittleEndian.Uint32(block[superblockFATStOf:]),
		FATLength: binary.LittleEndian.Uint32(block[superblockFATLnOf:]),
		DirStart:  binary.LittleEndian.Uint32(block[superblockDirStOf:]),
		DirLength: binary.LittleEndian.Uint32(block[superblockDirLnOf:]),
		DirCount:  binary.LittleEndian.Uint32(block[superblockDirCtOf:]),
	}
	return Superblock{Layout: l}, true, nil
}

// DirEntry is one 64-byte directory record.
type DirEntry struct {
	Name   string
	Length uint32
	First  uint32 // index of first data block, or FATEOC if empty
	Used   bool
}

// MarshalBinary encodes the entry into its 64-byte on-disk form.
func (e DirEntry) MarshalBinary() ([]byte, error) {
	if len(e.Name) > MaxNameLen {
		return nil, fmt.Errorf("blockfs: name %q exceeds %d bytes", e.Name, MaxNameLen)
	}
	buf := make([]byte, DirEntrySize)
	copy(buf[dirNameOff:dirNameOff+32], e.Name)
	binary.LittleEndian.PutUint32(buf[dirLengthOff:], e.Length)
	binary.LittleEndian.PutUint32(buf[dirFirstOff:], e.First)
	if e.Used {
		buf[dirUsedOff] = 1
	}
	return buf, nil
}

// UnmarshalDirEntry decodes one 64-byte directory record.
func UnmarshalDirEntry(buf []byte) (DirEntry, error) {
	if len(buf) < DirEntrySize {
		return DirEntry{}, fmt.Errorf("blockfs: directory entry buffer too short: %d bytes", len(buf))
	}
	nameRaw := buf[dirNameOff : dirNameOff+32]
	nul := len(nameRaw)
	for i, b := range nameRaw {
		if b == 0 {
			nul = i
			break
		}
	}
	return DirEntry{
		Name:   string(nameRaw[:nul]),
		Length: binary.LittleEndian.Uint32(buf[dirLengthOff:]),
		First:  binary.LittleEndian.Uint32(buf[dirFirstOff:]),
		Used:   buf[dirUsedOff] != 0,
	}, nil
}

// ValidName reports whether name is usable as a file name: 1 to 31
// bytes of printable ASCII with no whitespace (spec.md §4.2). A
// trailing '/' is explicitly permitted (the virtual-directory marker
// convention from spec.md §4.3).
func ValidName(name string) bool {
	if len(name) < 1 || len(name) > MaxNameLen {
		return false
	}
	for _, b := range []byte(name) {
		if b <= ' ' || b >= 0x7f {
			return false
		}
	}
	return true
}
