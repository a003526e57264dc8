package blockfs

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondisk/blockfs/pkg/blockdev"
)

// startTestBD brings up a real block-device server on an ephemeral
// port and returns a dedicated client to it, for tests that need
// blockfs code to actually exercise the wire protocol rather than
// operate on an in-memory Table.
func startTestBD(t *testing.T, geom blockdev.Geometry) (*blockdev.Client, string, func()) {
	t.Helper()

	dir := t.TempDir()
	store, err := blockdev.OpenStore(filepath.Join(dir, "disk.img"), geom)
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	srv := blockdev.NewServer(geom, store, 0, log)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)

	client, err := blockdev.Dial(context.Background(), addr)
	require.NoError(t, err)

	cleanup := func() {
		client.Close()
		cancel()
		store.Close()
	}
	return client, addr, cleanup
}

func newTestTable(total uint32, dataStart uint32) *Table {
	layout := Layout{
		Geometry: blockdev.Geometry{Cylinders: 1, Sectors: int64(total)},
		Total:    total,
		DirStart: 0,
		DirLength: dataStart,
	}
	t := &Table{entries: make([]uint32, total), layout: layout}
	t.ResetAll()
	return t
}

func TestTableResetAllReservesHeader(t *testing.T) {
	tbl := newTestTable(10, 3)
	for i := uint32(0); i < 3; i++ {
		assert.Equal(t, FATReserved, tbl.entries[i])
	}
	for i := uint32(3); i < 10; i++ {
		assert.Equal(t, FATFree, tbl.entries[i])
	}
}

func TestTableAllocChainFree(t *testing.T) {
	tbl := newTestTable(10, 3)

	first, err := tbl.Alloc(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), first)

	chain, err := tbl.Chain(first)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 4, 5}, chain)

	require.NoError(t, tbl.Free(first))
	for _, idx := range chain {
		assert.Equal(t, FATFree, tbl.entries[idx])
	}
}

func TestTableAllocZeroLengthYieldsEOC(t *testing.T) {
	tbl := newTestTable(10, 3)
	first, err := tbl.Alloc(0)
	require.NoError(t, err)
	assert.Equal(t, FATEOC, first)
}

func TestTableAllocOutOfSpaceRollsBack(t *testing.T) {
	tbl := newTestTable(10, 3)

	before := tbl.Snapshot()
	_, err := tbl.Alloc(100)
	require.Error(t, err)

	// Every entry reserved during the failed attempt must be rolled
	// back to FREE, leaving the table indistinguishable from before.
	assert.Equal(t, before, tbl.Snapshot())
}

func TestTableSnapshotRestore(t *testing.T) {
	tbl := newTestTable(10, 3)
	snap := tbl.Snapshot()

	first, err := tbl.Alloc(2)
	require.NoError(t, err)
	require.NotEqual(t, FATEOC, first)

	tbl.Restore(snap)
	assert.Equal(t, snap, tbl.Snapshot())
}

func TestTableChainDetectsOutOfRange(t *testing.T) {
	tbl := newTestTable(4, 2)
	tbl.entries[2] = 99 // points outside the table
	_, err := tbl.Chain(2)
	assert.Error(t, err)
}

func TestTableChainRejectsPointerIntoFreeEntry(t *testing.T) {
	tbl := newTestTable(4, 2)
	tbl.entries[2] = FATFree
	_, err := tbl.Chain(2)
	assert.Error(t, err)
}

func TestTableFlushLoadRoundTrip(t *testing.T) {
	geom := blockdev.Geometry{Cylinders: 1, Sectors: 40}
	client, _, cleanup := startTestBD(t, geom)
	defer cleanup()

	layout := ComputeLayout(geom)
	tbl := &Table{entries: make([]uint32, layout.Total), layout: layout}
	tbl.ResetAll()
	first, err := tbl.Alloc(1)
	require.NoError(t, err)
	require.NoError(t, tbl.Flush(client))

	loaded, err := LoadTable(client, layout)
	require.NoError(t, err)
	assert.Equal(t, tbl.entries, loaded.entries)

	chain, err := loaded.Chain(first)
	require.NoError(t, err)
	assert.Equal(t, []uint32{first}, chain)
}
