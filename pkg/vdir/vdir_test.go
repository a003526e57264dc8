package vdir_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondisk/blockfs/pkg/blockdev"
	"github.com/ondisk/blockfs/pkg/blockfs"
	"github.com/ondisk/blockfs/pkg/vdir"
)

// startStack brings up a real BD server and a real FS server on top
// of it, formats the device, and returns a connected vdir.Session.
func startStack(t *testing.T) (*vdir.Session, func()) {
	t.Helper()

	geom := blockdev.Geometry{Cylinders: 2, Sectors: 64}
	dir := t.TempDir()
	store, err := blockdev.OpenStore(filepath.Join(dir, "disk.img"), geom)
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	bdServer := blockdev.NewServer(geom, store, 0, log)
	bdLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fsServer := blockfs.NewServer(bdLn.Addr().String(), log)
	fsLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go bdServer.Serve(ctx, bdLn)
	go fsServer.Serve(ctx, fsLn)

	client, err := blockfs.Dial(context.Background(), fsLn.Addr().String())
	require.NoError(t, err)

	code, err := client.Format()
	require.NoError(t, err)
	require.Equal(t, 0, code)

	cleanup := func() {
		client.Close()
		cancel()
		store.Close()
	}
	return vdir.NewSession(client), cleanup
}

func TestVdirMkdirCdPwd(t *testing.T) {
	sess, cleanup := startStack(t)
	defer cleanup()

	canonical, code, err := sess.Mkdir("a")
	require.NoError(t, err)
	assert.Equal(t, "/a", canonical)
	assert.Equal(t, 0, code)

	_, ok, _, err := sess.Cd("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/a", sess.Pwd())

	canonical, code, err = sess.Mkdir("b")
	require.NoError(t, err)
	assert.Equal(t, "/a/b", canonical)
	assert.Equal(t, 0, code)

	_, ok, _, err = sess.Cd("b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/a/b", sess.Pwd())
}

func TestVdirCdNonexistent(t *testing.T) {
	sess, cleanup := startStack(t)
	defer cleanup()

	_, ok, code, err := sess.Cd("nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, code)
	assert.Equal(t, "/", sess.Pwd())
}

func TestVdirRmdirRefusesNonEmptyThenSucceeds(t *testing.T) {
	sess, cleanup := startStack(t)
	defer cleanup()

	_, code, err := sess.Mkdir("a")
	require.NoError(t, err)
	require.Equal(t, 0, code)
	_, code, err = sess.Mkdir("a/b")
	require.NoError(t, err)
	require.Equal(t, 0, code)

	_, code, err = sess.Rmdir("a")
	require.NoError(t, err)
	assert.Equal(t, 2, code, "rmdir must refuse while /a/b exists")

	_, code, err = sess.Rmdir("a/b")
	require.NoError(t, err)
	require.Equal(t, 0, code)

	_, code, err = sess.Rmdir("a")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}
