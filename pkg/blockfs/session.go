package blockfs

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ondisk/blockfs/pkg/blockdev"
)

// Session handles one FS client connection. It owns a dedicated BD
// connection (spec.md §4.2 "Session initialization") and shares the
// process-wide *Metadata with every other session.
type Session struct {
	conn net.Conn
	r    *bufio.Reader
	bd   *blockdev.Client
	meta *Metadata
	log  *logrus.Entry
}

// NewSession wraps an accepted FS client connection together with its
// own dedicated block-device connection, probes the device for an
// existing superblock, and adopts it if present.
func NewSession(conn net.Conn, bd *blockdev.Client, meta *Metadata, log *logrus.Entry) (*Session, error) {
	s := &Session{conn: conn, r: bufio.NewReader(conn), bd: bd, meta: meta, log: log}

	geom, err := bd.Geometry()
	if err != nil {
		return nil, fmt.Errorf("blockfs: query block device geometry: %w", err)
	}

	c0, s0 := geom.Split(0)
	ok, block, err := bd.ReadBlock(c0, s0)
	if err != nil {
		return nil, fmt.Errorf("blockfs: read block 0: %w", err)
	}
	if ok {
		if sb, validMagic, err := UnmarshalSuperblock(block[:]); err == nil && validMagic {
			s.meta.Mu.Lock()
			adoptErr := s.meta.AdoptSuperblock(bd, sb)
			s.meta.Mu.Unlock()
			if adoptErr != nil {
				return nil, adoptErr
			}
		}
	}

	return s, nil
}

// Serve reads and dispatches commands until the client disconnects or
// a protocol error occurs.
func (s *Session) Serve() {
	defer func() {
		s.conn.Close()
		s.bd.Close()
	}()

	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.log.WithError(err).Debug("read error, closing session")
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		if err := s.dispatch(line); err != nil {
			s.log.WithError(err).Debug("protocol error, closing session")
			return
		}
	}
}

func (s *Session) dispatch(line string) error {
	switch line[0] {
	case 'F':
		return s.handleFormat()
	case 'C':
		return s.handleCreate(strings.TrimSpace(line[1:]))
	case 'D':
		return s.handleDelete(strings.TrimSpace(line[1:]))
	case 'L':
		return s.handleList(strings.TrimSpace(line[1:]))
	case 'R':
		return s.handleRead(strings.TrimSpace(line[1:]))
	case 'W':
		return s.handleWrite(line)
	default:
		return fmt.Errorf("unknown FS command %q", line)
	}
}

func (s *Session) reply(code int) error {
	_, err := fmt.Fprintf(s.conn, "%d\n", code)
	return err
}

func (s *Session) handleFormat() error {
	geom, err := s.bd.Geometry()
	if err != nil {
		return err
	}
	s.meta.Mu.Lock()
	formatErr := s.meta.Format(s.bd, geom)
	s.meta.Mu.Unlock()
	if formatErr != nil {
		s.log.WithError(formatErr).Warn("format failed")
		return s.reply(2)
	}
	return s.reply(0)
}

func (s *Session) handleCreate(name string) error {
	if !ValidName(name) {
		return s.reply(2)
	}

	code, err := func() (int, error) {
		s.meta.Mu.Lock()
		defer s.meta.Mu.Unlock()

		if !s.meta.Formatted() {
			return 2, nil
		}
		layout := s.meta.Layout()

		_, _, found, err := findEntry(s.bd, layout, name)
		if err != nil {
			return 0, err
		}
		if found {
			return 1, nil
		}

		slot, free, err := findFreeSlot(s.bd, layout)
		if err != nil {
			return 0, err
		}
		if !free {
			return 2, nil
		}

		entry := DirEntry{Name: name, Length: 0, First: FATEOC, Used: true}
		if err := writeSlot(s.bd, layout, slot, entry); err != nil {
			return 0, err
		}
		return 0, nil
	}()
	if err != nil {
		return err
	}
	return s.reply(code)
}

func (s *Session) handleDelete(name string) error {
	code, err := func() (int, error) {
		s.meta.Mu.Lock()
		defer s.meta.Mu.Unlock()

		if !s.meta.Formatted() {
			return 2, nil
		}
		layout := s.meta.Layout()

		slot, entry, found, err := findEntry(s.bd, layout, name)
		if err != nil {
			return 0, err
		}
		if !found {
			return 1, nil
		}

		table := s.meta.Table()
		if entry.First != FATEOC {
			if err := table.Free(entry.First); err != nil {
				return 0, err
			}
			if err := table.Flush(s.bd); err != nil {
				return 0, err
			}
		}

		if err := writeSlot(s.bd, layout, slot, DirEntry{}); err != nil {
			return 0, err
		}
		return 0, nil
	}()
	if err != nil {
		return err
	}
	return s.reply(code)
}

func (s *Session) handleList(brief string) error {
	s.meta.Mu.Lock()
	formatted := s.meta.Formatted()
	layout := s.meta.Layout()
	s.meta.Mu.Unlock()

	if !formatted {
		_, err := io.WriteString(s.conn, "device not formatted\n")
		return err
	}

	entries, err := listEntries(s.bd, layout)
	if err != nil {
		return err
	}

	for _, e := range entries {
		var line string
		if brief == "0" {
			line = fmt.Sprintf("%s\n", e.Name)
		} else {
			line = fmt.Sprintf("%s %d\n", e.Name, e.Length)
		}
		if _, err := io.WriteString(s.conn, line); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handleRead(name string) error {
	s.meta.Mu.Lock()
	formatted := s.meta.Formatted()
	if !formatted {
		s.meta.Mu.Unlock()
		_, err := io.WriteString(s.conn, "2 0 \n")
		return err
	}
	layout := s.meta.Layout()
	_, entry, found, err := findEntry(s.bd, layout, name)
	if err != nil {
		s.meta.Mu.Unlock()
		return err
	}
	if !found {
		s.meta.Mu.Unlock()
		_, err := io.WriteString(s.conn, "1 0 \n")
		return err
	}

	table := s.meta.Table()
	chain, err := table.Chain(entry.First)
	if err != nil {
		s.meta.Mu.Unlock()
		return err
	}

	data := make([]byte, entry.Length)
	remaining := int(entry.Length)
	for _, blockIdx := range chain {
		if remaining <= 0 {
			break
		}
		c, secI := layout.Geometry.Split(int64(blockIdx))
		ok, block, err := s.bd.ReadBlock(c, secI)
		if err != nil {
			s.meta.Mu.Unlock()
			return err
		}
		if !ok {
			s.meta.Mu.Unlock()
			return fmt.Errorf("blockfs: data block %d out of range", blockIdx)
		}
		n := remaining
		if n > blockdev.BlockSize {
			n = blockdev.BlockSize
		}
		copy(data[int(entry.Length)-remaining:], block[:n])
		remaining -= n
	}
	s.meta.Mu.Unlock()

	if _, err := fmt.Fprintf(s.conn, "0 %d ", entry.Length); err != nil {
		return err
	}
	if _, err := s.conn.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(s.conn, "\n")
	return err
}

func (s *Session) handleWrite(line string) error {
	var name string
	var l int64
	if _, err := fmt.Sscanf(line, "W %s %d", &name, &l); err != nil {
		return fmt.Errorf("malformed W command %q: %w", line, err)
	}
	if l < 0 {
		return fmt.Errorf("malformed W command %q: negative length", line)
	}

	payload := make([]byte, l)
	if l > 0 {
		if _, err := io.ReadFull(s.r, payload); err != nil {
			return fmt.Errorf("read W payload: %w", err)
		}
	}

	code, err := func() (int, error) {
		s.meta.Mu.Lock()
		defer s.meta.Mu.Unlock()

		if !s.meta.Formatted() {
			return 2, nil
		}
		layout := s.meta.Layout()

		slot, entry, found, err := findEntry(s.bd, layout, name)
		if err != nil {
			return 0, err
		}
		if !found {
			return 1, nil
		}

		table := s.meta.Table()
		snapshot := table.Snapshot()
		if entry.First != FATEOC {
			if err := table.Free(entry.First); err != nil {
				return 0, err
			}
		}

		var newFirst uint32 = FATEOC
		if l > 0 {
			blocks := int(ceilDiv(uint32(l), blockdev.BlockSize))
			first, err := table.Alloc(blocks)
			if err != nil {
				// Out of space: undo the Free above (and any partial
				// reservation Alloc rolled back itself) by restoring the
				// pre-Free snapshot wholesale. Nothing has been written to
				// the device yet in this branch, so no Flush is needed —
				// the on-disk FAT and directory entry still describe the
				// file's prior contents, which is the required outcome.
				table.Restore(snapshot)
				s.log.WithError(err).Debug("write out of space")
				return 2, nil
			}
			newFirst = first

			chain, err := table.Chain(newFirst)
			if err != nil {
				return 0, err
			}
			remaining := int(l)
			for _, blockIdx := range chain {
				n := remaining
				if n > blockdev.BlockSize {
					n = blockdev.BlockSize
				}
				chunk := make([]byte, blockdev.BlockSize)
				copy(chunk, payload[int(l)-remaining:int(l)-remaining+n])
				c, secI := layout.Geometry.Split(int64(blockIdx))
				ok, err := s.bd.WriteBlock(c, secI, chunk)
				if err != nil {
					return 0, err
				}
				if !ok {
					return 0, fmt.Errorf("blockfs: data block %d rejected by device", blockIdx)
				}
				remaining -= n
			}
		}

		if err := table.Flush(s.bd); err != nil {
			return 0, err
		}

		entry.Length = uint32(l)
		entry.First = newFirst
		if err := writeSlot(s.bd, layout, slot, entry); err != nil {
			return 0, err
		}
		return 0, nil
	}()
	if err != nil {
		return err
	}
	return s.reply(code)
}
