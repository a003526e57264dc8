package blockfs

import (
	"fmt"

	"github.com/ondisk/blockfs/pkg/blockdev"
)

// dirSlot identifies one directory entry's position for rewriting.
type dirSlot struct {
	index uint32 // 0..DirEntries-1
	entry DirEntry
}

// blockForSlot returns the (cylinder, sector) of the block holding slot.
func blockForSlot(layout Layout, slot uint32) (c, s int64) {
	blockIdx := int64(layout.DirStart) + int64(slot/DirEntriesPerBlock)
	return layout.Geometry.Split(blockIdx)
}

// readDirBlock reads the raw bytes of the directory block containing slot.
func readDirBlock(bd *blockdev.Client, layout Layout, slot uint32) ([blockdev.BlockSize]byte, error) {
	c, s := blockForSlot(layout, slot)
	ok, data, err := bd.ReadBlock(c, s)
	if err != nil {
		return data, fmt.Errorf("blockfs: read directory block for slot %d: %w", slot, err)
	}
	if !ok {
		return data, fmt.Errorf("blockfs: directory block for slot %d out of range", slot)
	}
	return data, nil
}

// readSlot decodes just the one entry at slot.
func readSlot(bd *blockdev.Client, layout Layout, slot uint32) (DirEntry, error) {
	block, err := readDirBlock(bd, layout, slot)
	if err != nil {
		return DirEntry{}, err
	}
	offset := (slot % DirEntriesPerBlock) * DirEntrySize
	return UnmarshalDirEntry(block[offset : offset+DirEntrySize])
}

// writeSlot encodes entry and rewrites it into its directory block,
// read-modify-write so the other entry sharing the block is preserved.
func writeSlot(bd *blockdev.Client, layout Layout, slot uint32, entry DirEntry) error {
	block, err := readDirBlock(bd, layout, slot)
	if err != nil {
		return err
	}
	encoded, err := entry.MarshalBinary()
	if err != nil {
		return err
	}
	offset := (slot % DirEntriesPerBlock) * DirEntrySize
	copy(block[offset:offset+DirEntrySize], encoded)

	c, s := blockForSlot(layout, slot)
	ok, err := bd.WriteBlock(c, s, block[:])
	if err != nil {
		return fmt.Errorf("blockfs: write directory block for slot %d: %w", slot, err)
	}
	if !ok {
		return fmt.Errorf("blockfs: directory block for slot %d rejected by device", slot)
	}
	return nil
}

// findEntry scans every slot for a used entry with the given name.
// Returns found=false if none exists.
func findEntry(bd *blockdev.Client, layout Layout, name string) (slot uint32, entry DirEntry, found bool, err error) {
	for i := uint32(0); i < DirEntries; i++ {
		e, err := readSlot(bd, layout, i)
		if err != nil {
			return 0, DirEntry{}, false, err
		}
		if e.Used && e.Name == name {
			return i, e, true, nil
		}
	}
	return 0, DirEntry{}, false, nil
}

// findFreeSlot scans for the first unused slot.
func findFreeSlot(bd *blockdev.Client, layout Layout) (slot uint32, found bool, err error) {
	for i := uint32(0); i < DirEntries; i++ {
		e, err := readSlot(bd, layout, i)
		if err != nil {
			return 0, false, err
		}
		if !e.Used {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// listEntries returns every used entry in slot order. It performs no
// locking: spec.md §4.2 List is explicitly lock-free, tolerating
// interleaving with concurrent mutations at block granularity.
func listEntries(bd *blockdev.Client, layout Layout) ([]DirEntry, error) {
	var out []DirEntry
	for i := uint32(0); i < DirEntries; i++ {
		e, err := readSlot(bd, layout, i)
		if err != nil {
			return nil, err
		}
		if e.Used {
			out = append(out, e)
		}
	}
	return out, nil
}
