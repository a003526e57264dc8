package blockfs

import (
	"fmt"
	"sync"

	"github.com/ondisk/blockfs/pkg/blockdev"
)

// Metadata is the process-wide shared state every FS session mutates:
// the allocation-table cache, the recorded layout, and whether the
// device has been formatted. Every session borrows the same *Metadata
// and serializes access through Mu, the "explicit service object"
// alternative spec.md §9 names for languages with ownership discipline.
type Metadata struct {
	Mu sync.Mutex

	formatted bool
	layout    Layout
	table     *Table
}

// NewMetadata returns an unformatted Metadata instance. Its state is
// populated either by an explicit Format call or lazily, the first
// time a session observes a valid superblock on connect.
func NewMetadata() *Metadata {
	return &Metadata{}
}

// Formatted reports whether the device has been formatted in this
// process's view. Caller must hold Mu.
func (m *Metadata) Formatted() bool {
	return m.formatted
}

// Layout returns the cached layout. Caller must hold Mu.
func (m *Metadata) Layout() Layout {
	return m.layout
}

// Table returns the cached allocation table. Caller must hold Mu.
func (m *Metadata) Table() *Table {
	return m.table
}

// AdoptSuperblock loads layout and marks the metadata formatted from
// an already-parsed superblock, loading the FAT cache from bd if it
// hasn't been loaded yet. It is idempotent: calling it again with the
// same layout while already formatted is a no-op, matching spec.md
// §4.2 "idempotent if already so". Caller must hold Mu.
func (m *Metadata) AdoptSuperblock(bd *blockdev.Client, sb Superblock) error {
	if m.formatted {
		return nil
	}
	table, err := LoadTable(bd, sb.Layout)
	if err != nil {
		return fmt.Errorf("blockfs: load allocation table: %w", err)
	}
	m.layout = sb.Layout
	m.table = table
	m.formatted = true
	return nil
}

// Format computes a fresh layout from geom, writes the superblock,
// resets the FAT cache to all-RESERVED-then-FREE, flushes it, and
// zeroes the directory region. Caller must hold Mu.
func (m *Metadata) Format(bd *blockdev.Client, geom blockdev.Geometry) error {
	layout := ComputeLayout(geom)
	sb := Superblock{Layout: layout}

	c0, s0 := geom.Split(0)
	if ok, err := bd.WriteBlock(c0, s0, sb.MarshalBinary()); err != nil || !ok {
		return fmt.Errorf("blockfs: write superblock: ok=%v err=%w", ok, err)
	}

	table := &Table{entries: make([]uint32, layout.Total), layout: layout}
	table.ResetAll()
	if err := table.Flush(bd); err != nil {
		return fmt.Errorf("blockfs: flush freshly formatted FAT: %w", err)
	}

	zero := make([]byte, blockdev.BlockSize)
	for i := uint32(0); i < layout.DirLength; i++ {
		c, s := geom.Split(int64(layout.DirStart + i))
		if ok, err := bd.WriteBlock(c, s, zero); err != nil || !ok {
			return fmt.Errorf("blockfs: zero directory block %d: ok=%v err=%w", layout.DirStart+i, ok, err)
		}
	}

	m.layout = layout
	m.table = table
	m.formatted = true
	return nil
}
