package blockdev

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Server serves the block-device protocol described in spec.md §4.1
// over TCP: one goroutine per accepted connection, sharing a single
// simulated disk arm behind a mutex.
type Server struct {
	Geometry   Geometry
	Store      *Store
	TrackDelay time.Duration
	Log        *logrus.Logger

	armMu sync.Mutex
	head  int64
}

// NewServer constructs a Server ready to Serve. The Store must already
// be open with a geometry matching geom.
func NewServer(geom Geometry, store *Store, trackDelay time.Duration, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{Geometry: geom, Store: store, TrackDelay: trackDelay, Log: log}
}

// Serve accepts connections on ln until ctx is cancelled, dispatching
// each to its own goroutine. Cancelling ctx stops accepting new
// connections but does not interrupt in-flight ones, matching spec.md
// §5's cancellation contract.
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
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log := s.Log.WithField("remote_addr", remote)
	log.Debug("client connected")
	defer func() {
		conn.Close()
		log.Debug("client disconnected")
	}()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Debug("read error, closing connection")
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		if err := s.dispatch(conn, r, line); err != nil {
			log.WithError(err).Debug("protocol error, closing connection")
			return
		}
	}
}

func (s *Server) dispatch(conn net.Conn, r *bufio.Reader, line string) error {
	switch line[0] {
	case 'I':
		return s.handleGeometry(conn)
	case 'R':
		var c, sec int64
		if _, err := fmt.Sscanf(line, "R %d %d", &c, &sec); err != nil {
			return fmt.Errorf("malformed R command %q: %w", line, err)
		}
		return s.handleRead(conn, c, sec)
	case 'W':
		var c, sec, l int64
		if _, err := fmt.Sscanf(line, "W %d %d %d", &c, &sec, &l); err != nil {
			return fmt.Errorf("malformed W command %q: %w", line, err)
		}
		return s.handleWrite(conn, r, c, sec, l)
	default:
		return fmt.Errorf("unknown command %q", line)
	}
}

func (s *Server) handleGeometry(conn net.Conn) error {
	_, err := io.WriteString(conn, strconv.FormatInt(s.Geometry.Cylinders, 10)+" "+strconv.FormatInt(s.Geometry.Sectors, 10)+"\n")
	return err
}

func (s *Server) handleRead(conn net.Conn, c, sec int64) error {
	if !s.Geometry.InRange(c, sec) {
		_, err := conn.Write([]byte{'0'})
		return err
	}

	s.armMu.Lock()
	s.seekTo(c)
	block := s.Store.BlockAt(s.Geometry.LinearIndex(c, sec))
	var reply [1 + BlockSize]byte
	reply[0] = '1'
	copy(reply[1:], block)
	s.armMu.Unlock()

	_, err := conn.Write(reply[:])
	return err
}

func (s *Server) handleWrite(conn net.Conn, r *bufio.Reader, c, sec, l int64) error {
	if !s.Geometry.InRange(c, sec) || l < 0 || l > BlockSize {
		// The payload bytes, if any were sent, are deliberately left
		// unread here: the original protocol replies '0' without
		// draining them, so a client that sends an invalid request is
		// responsible for its own framing afterward.
		_, err := conn.Write([]byte{'0'})
		return err
	}

	var payload [BlockSize]byte
	if l > 0 {
		if _, err := io.ReadFull(r, payload[:l]); err != nil {
			return fmt.Errorf("read write payload: %w", err)
		}
	}

	s.armMu.Lock()
	s.seekTo(c)
	block := s.Store.BlockAt(s.Geometry.LinearIndex(c, sec))
	copy(block, payload[:])
	s.armMu.Unlock()

	_, err := conn.Write([]byte{'1'})
	return err
}

// seekTo simulates track-to-track seek latency and updates the arm
// position. Must be called with armMu held.
func (s *Server) seekTo(c int64) {
	delta := c - s.head
	if delta < 0 {
		delta = -delta
	}
	if delta > 0 && s.TrackDelay > 0 {
		time.Sleep(time.Duration(delta) * s.TrackDelay)
	}
	s.head = c
}
