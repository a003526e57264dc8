package blockfs

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/ondisk/blockfs/pkg/blockdev"
)

// Server serves the filesystem protocol described in spec.md §4.2 over
// TCP. Each accepted connection gets its own Session and its own
// dedicated connection to the block device named by BDAddr; every
// Session shares the same process-wide Metadata, so Format/Create/
// Delete/Write observed on one connection are immediately visible on
// every other.
type Server struct {
	BDAddr string
	Log    *logrus.Logger

	meta *Metadata
}

// NewServer constructs a Server that dials bdAddr fresh for every
// accepted client connection.
func NewServer(bdAddr string, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{BDAddr: bdAddr, Log: log, meta: NewMetadata()}
}

// Serve accepts connections on ln until ctx is cancelled, dispatching
// each to its own goroutine, mirroring pkg/blockdev.Server.Serve.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() { //nolint:staticcheck
				continue
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log := s.Log.WithField("remote_addr", remote)

	bd, err := blockdev.Dial(ctx, s.BDAddr)
	if err != nil {
		log.WithError(err).Warn("dial block device failed, dropping client")
		conn.Close()
		return
	}

	sess, err := NewSession(conn, bd, s.meta, log)
	if err != nil {
		log.WithError(err).Warn("session init failed, dropping client")
		conn.Close()
		bd.Close()
		return
	}

	log.Debug("client connected")
	sess.Serve()
	log.Debug("client disconnected")
}
