package blockfs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ondisk/blockfs/pkg/blockdev"
)

// ErrChainCycle is returned by Chain when a file's allocation chain
// revisits a block, which should never happen on a well-formed device.
var ErrChainCycle = errors.New("blockfs: allocation chain contains a cycle")

// Table is the in-memory cache of the allocation table (FAT). It is
// loaded once per process (spec.md §9 "Global mutable state") and kept
// consistent with the on-disk copy by explicit Flush calls after every
// mutation.
type Table struct {
	entries []uint32 // length == Layout.Total
	layout  Layout
}

// LoadTable reads every FAT block from bd and builds the in-memory
// cache.
func LoadTable(bd *blockdev.Client, layout Layout) (*Table, error) {
	entries := make([]uint32, layout.Total)
	g := layout.Geometry
	for i := uint32(0); i < layout.FATLength; i++ {
		blockIdx := int64(layout.FATStart + i)
		c, s := g.Split(blockIdx)
		ok, data, err := bd.ReadBlock(c, s)
		if err != nil {
			return nil, fmt.Errorf("blockfs: read FAT block %d: %w", blockIdx, err)
		}
		if !ok {
			return nil, fmt.Errorf("blockfs: FAT block %d out of range", blockIdx)
		}
		base := i * fatEntriesPerBlk
		for j := uint32(0); j < fatEntriesPerBlk; j++ {
			idx := base + j
			if idx >= layout.Total {
				break
			}
			entries[idx] = binary.LittleEndian.Uint32(data[j*fatEntrySize:])
		}
	}
	return &Table{entries: entries, layout: layout}, nil
}

// Flush writes the entire in-memory FAT back to the device. Callers
// mutate the table and then Flush before releasing the metadata mutex,
// per spec.md §9's resolution of the "flush on mutation, not on pure
// read" open question.
func (t *Table) Flush(bd *blockdev.Client) error {
	g := t.layout.Geometry
	block := make([]byte, blockdev.BlockSize)
	for i := uint32(0); i < t.layout.FATLength; i++ {
		base := i * fatEntriesPerBlk
		for j := range block {
			block[j] = 0
		}
		for j := uint32(0); j < fatEntriesPerBlk; j++ {
			idx := base + j
			if idx >= t.layout.Total {
				break
			}
			binary.LittleEndian.PutUint32(block[j*fatEntrySize:], t.entries[idx])
		}
		blockIdx := int64(t.layout.FATStart + i)
		c, s := g.Split(blockIdx)
		ok, err := bd.WriteBlock(c, s, block)
		if err != nil {
			return fmt.Errorf("blockfs: write FAT block %d: %w", blockIdx, err)
		}
		if !ok {
			return fmt.Errorf("blockfs: FAT block %d rejected by device", blockIdx)
		}
	}
	return nil
}

// ResetAll marks every block in [0, dataStart) RESERVED and every
// remaining block FREE, the state a freshly formatted device starts
// in (spec.md §4.2 Format).
func (t *Table) ResetAll() {
	dataStart := t.layout.DataStart()
	for i := range t.entries {
		if uint32(i) < dataStart {
			t.entries[i] = FATReserved
		} else {
			t.entries[i] = FATFree
		}
	}
}

// Chain walks the allocation chain starting at first, returning the
// full list of block indices in order, stopping at FATEOC. It caps the
// walk at Total entries to guard against a cyclic or corrupt table.
func (t *Table) Chain(first uint32) ([]uint32, error) {
	if first == FATEOC {
		return nil, nil
	}
	var chain []uint32
	cur := first
	for i := uint32(0); i < t.layout.Total; i++ {
		if cur >= uint32(len(t.entries)) {
			return nil, fmt.Errorf("blockfs: chain references out-of-range block %d", cur)
		}
		chain = append(chain, cur)
		next := t.entries[cur]
		if next == FATEOC {
			return chain, nil
		}
		if next == FATFree || next == FATReserved {
			return nil, fmt.Errorf("blockfs: chain block %d points to non-chain entry", cur)
		}
		cur = next
	}
	return nil, ErrChainCycle
}

// Alloc reserves n FREE blocks starting at the first data block,
// first-fit scanning forward, and links them into a chain terminated
// by FATEOC. On failure (not enough FREE blocks) every entry it
// reserved during this call is rolled back to FREE before returning,
// per spec.md §4.2 Write's mandated rollback invariant.
func (t *Table) Alloc(n int) (first uint32, err error) {
	if n <= 0 {
		return FATEOC, nil
	}
	reserved := make([]uint32, 0, n)
	rollback := func() {
		for _, idx := range reserved {
			t.entries[idx] = FATFree
		}
	}

	dataStart := t.layout.DataStart()
	var prev uint32
	havePrev := false
	for idx := dataStart; idx < t.layout.Total && len(reserved) < n; idx++ {
		if t.entries[idx] != FATFree {
			continue
		}
		t.entries[idx] = FATEOC
		if havePrev {
			t.entries[prev] = idx
		}
		prev = idx
		havePrev = true
		reserved = append(reserved, idx)
	}

	if len(reserved) < n {
		rollback()
		return 0, fmt.Errorf("blockfs: out of space: need %d blocks, found %d free", n, len(reserved))
	}
	return reserved[0], nil
}

// Snapshot returns a copy of the table's current entries, suitable for
// a later Restore. Used by Write to roll back a free-then-reallocate
// sequence in full when the reallocation fails, so a file's prior
// contents remain reachable (spec.md §8: a failing Write "leaves the
// prior contents of the file unchanged").
func (t *Table) Snapshot() []uint32 {
	cp := make([]uint32, len(t.entries))
	copy(cp, t.entries)
	return cp
}

// Restore replaces the table's entries with a previously taken Snapshot.
func (t *Table) Restore(snapshot []uint32) {
	copy(t.entries, snapshot)
}

// Free walks the chain rooted at first and marks every block FREE.
func (t *Table) Free(first uint32) error {
	chain, err := t.Chain(first)
	if err != nil {
		return err
	}
	for _, idx := range chain {
		t.entries[idx] = FATFree
	}
	return nil
}
