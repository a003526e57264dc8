package blockfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondisk/blockfs/pkg/blockdev"
	"github.com/ondisk/blockfs/pkg/blockfs"
)

func TestComputeLayout(t *testing.T) {
	geom := blockdev.Geometry{Cylinders: 4, Sectors: 32} // 128 blocks total
	l := blockfs.ComputeLayout(geom)

	assert.Equal(t, uint32(128), l.Total)
	assert.Equal(t, uint32(1), l.FATStart)
	// 128 entries * 4 bytes = 512 bytes = 4 blocks of 128 bytes
	assert.Equal(t, uint32(4), l.FATLength)
	assert.Equal(t, uint32(5), l.DirStart)
	assert.Equal(t, uint32(blockfs.DirBlocks), l.DirLength)
	assert.Equal(t, l.DirStart+l.DirLength, l.DataStart())
}

func TestSuperblockRoundTrip(t *testing.T) {
	geom := blockdev.Geometry{Cylinders: 2, Sectors: 16}
	sb := blockfs.Superblock{Layout: blockfs.ComputeLayout(geom)}

	encoded := sb.MarshalBinary()
	require.Len(t, encoded, blockdev.BlockSize)

	got, ok, err := blockfs.UnmarshalSuperblock(encoded)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sb.Layout, got.Layout)
}

func TestUnmarshalSuperblockRejectsWrongMagic(t *testing.T) {
	block := make([]byte, blockdev.BlockSize)
	copy(block, "NOPE!")

	_, ok, err := blockfs.UnmarshalSuperblock(block)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirEntryRoundTrip(t *testing.T) {
	entry := blockfs.DirEntry{Name: "report.txt", Length: 42, First: 7, Used: true}
	encoded, err := entry.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, encoded, blockfs.DirEntrySize)

	got, err := blockfs.UnmarshalDirEntry(encoded)
	require.NoError(t, err)
	assert.Equal(t, entry, got)
}

func TestDirEntryRejectsOverlongName(t *testing.T) {
	name := make([]byte, blockfs.MaxNameLen+1)
	for i := range name {
		name[i] = 'a'
	}
	_, err := blockfs.DirEntry{Name: string(name), Used: true}.MarshalBinary()
	assert.Error(t, err)
}

func TestValidName(t *testing.T) {
	assert.True(t, blockfs.ValidName("a"))
	assert.True(t, blockfs.ValidName("notes/"))
	assert.False(t, blockfs.ValidName(""))
	assert.False(t, blockfs.ValidName("has space"))
	assert.False(t, blockfs.ValidName(string(make([]byte, blockfs.MaxNameLen+1))))
}
