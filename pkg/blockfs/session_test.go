package blockfs

import (
	"bufio"
	"context"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondisk/blockfs/pkg/blockdev"
)

// startFSSession wires a filesystem Session to a real block-device
// server over TCP and exposes the client end of an in-memory pipe as
// an FS *Client, mirroring how Server.handleConn wires each accepted
// connection. Every call gets its own dedicated BD connection, as
// NewSession requires.
func startFSSession(t *testing.T, geom blockdev.Geometry, meta *Metadata) (*Client, func()) {
	t.Helper()

	_, bdAddr, bdCleanup := startTestBD(t, geom)
	bdConn, err := blockdev.Dial(context.Background(), bdAddr)
	require.NoError(t, err)

	serverSide, clientSide := net.Pipe()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	sess, err := NewSession(serverSide, bdConn, meta, log.WithField("test", true))
	require.NoError(t, err)
	go sess.Serve()

	client := &Client{conn: clientSide, r: bufio.NewReader(clientSide)}
	cleanup := func() {
		client.Close()
		bdCleanup()
	}
	return client, cleanup
}

func TestSessionFormatCreateWriteRead(t *testing.T) {
	geom := blockdev.Geometry{Cylinders: 2, Sectors: 20}
	meta := NewMetadata()
	client, cleanup := startFSSession(t, geom, meta)
	defer cleanup()

	code, err := client.Format()
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	code, err = client.Create("foo")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	// Creating the same name again reports the collision.
	code, err = client.Create("foo")
	require.NoError(t, err)
	assert.Equal(t, 1, code)

	code, err = client.Write("foo", []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	code, data, err := client.Read("foo")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []byte("abc"), data)
}

func TestSessionReadUnknownName(t *testing.T) {
	geom := blockdev.Geometry{Cylinders: 2, Sectors: 20}
	meta := NewMetadata()
	client, cleanup := startFSSession(t, geom, meta)
	defer cleanup()

	_, err := client.Format()
	require.NoError(t, err)

	code, data, err := client.Read("missing")
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Empty(t, data)
}

func TestSessionCommandsBeforeFormat(t *testing.T) {
	geom := blockdev.Geometry{Cylinders: 2, Sectors: 20}
	meta := NewMetadata()
	client, cleanup := startFSSession(t, geom, meta)
	defer cleanup()

	code, err := client.Create("foo")
	require.NoError(t, err)
	assert.Equal(t, 2, code)

	code, data, err := client.Read("foo")
	require.NoError(t, err)
	assert.Equal(t, 2, code)
	assert.Empty(t, data)
}

func TestSessionDeleteFreesBlocksForReuse(t *testing.T) {
	geom := blockdev.Geometry{Cylinders: 2, Sectors: 20}
	meta := NewMetadata()
	client, cleanup := startFSSession(t, geom, meta)
	defer cleanup()

	_, err := client.Format()
	require.NoError(t, err)
	_, err = client.Create("a")
	require.NoError(t, err)
	_, err = client.Create("b")
	require.NoError(t, err)

	code, err := client.Write("a", make([]byte, 500)) // several blocks
	require.NoError(t, err)
	require.Equal(t, 0, code)

	code, err = client.Delete("a")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	// Deleting again reports not found.
	code, err = client.Delete("a")
	require.NoError(t, err)
	assert.Equal(t, 1, code)

	// The freed blocks must be available to satisfy a write that would
	// otherwise exceed capacity.
	code, err = client.Write("b", make([]byte, 500))
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestSessionWriteOutOfSpaceLeavesFileUnchanged(t *testing.T) {
	// 1 cylinder * 40 sectors = 40 blocks total, leaving only five
	// data blocks after the superblock/FAT/directory overhead.
	geom := blockdev.Geometry{Cylinders: 1, Sectors: 40}
	meta := NewMetadata()
	client, cleanup := startFSSession(t, geom, meta)
	defer cleanup()

	_, err := client.Format()
	require.NoError(t, err)
	_, err = client.Create("a")
	require.NoError(t, err)

	code, err := client.Write("a", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 0, code)

	// Way more data than the device can hold.
	huge := make([]byte, 1<<20)
	code, err = client.Write("a", huge)
	require.NoError(t, err)
	assert.Equal(t, 2, code)

	// The prior contents must still be intact and readable.
	code, data, err := client.Read("a")
	require.NoError(t, err)
	require.Equal(t, 0, code)
	assert.Equal(t, []byte("hello"), data)
}

func TestSessionListBriefAndFull(t *testing.T) {
	geom := blockdev.Geometry{Cylinders: 2, Sectors: 20}
	meta := NewMetadata()
	client, cleanup := startFSSession(t, geom, meta)
	defer cleanup()

	_, err := client.Format()
	require.NoError(t, err)
	_, err = client.Create("one")
	require.NoError(t, err)
	_, err = client.Write("one", []byte("xy"))
	require.NoError(t, err)

	entries, err := client.List(true)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "one", entries[0].Name)

	entries, err = client.List(false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].Length)
}
