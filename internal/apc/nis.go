package apc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// defaultNISTimeout bounds a whole request/response exchange when the
// caller's context carries no deadline.
const defaultNISTimeout = 10 * time.Second

// NISSource reads status from apcupsd's Network Information Server
// (port 3551 by default).  Every string on the wire is framed by a 2-byte
// big-endian length; a zero-length frame terminates a response.
//
// On any I/O error the connection is marked stale; the next Fetch
// reconnects automatically before sending the status request.
type NISSource struct {
	addr    string
	timeout time.Duration
	conn    net.Conn
	stale   bool
}

// NewNISSource dials the daemon and returns a ready NISSource, or an error
// if the initial connection fails.
func NewNISSource(addr string) (*NISSource, error) {
	s := &NISSource{addr: addr, timeout: defaultNISTimeout}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *NISSource) connect() error {
	conn, err := net.DialTimeout("tcp", s.addr, s.timeout)
	if err != nil {
		return fmt.Errorf("connecting to apcupsd NIS at %s: %w", s.addr, err)
	}
	s.conn = conn
	s.stale = false
	return nil
}

// Fetch sends the "status" command and concatenates the reply frames into
// one report.  If the connection is stale it reconnects first.
func (s *NISSource) Fetch(ctx context.Context) (string, error) {
	if s.conn == nil || s.stale {
		if err := s.connect(); err != nil {
			return "", err
		}
	}

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		s.stale = true
		return "", fmt.Errorf("setting NIS deadline: %w", err)
	}

	if err := writeFrame(s.conn, "status"); err != nil {
		s.stale = true
		return "", fmt.Errorf("sending status request: %w", err)
	}

	var b strings.Builder
	for {
		line, err := readFrame(s.conn)
		if err != nil {
			s.stale = true
			return "", fmt.Errorf("reading status response: %w", err)
		}
		if line == "" {
			break
		}
		b.WriteString(line)
	}
	if b.Len() == 0 {
		return "", errors.New("apc: empty status response")
	}
	return b.String(), nil
}

// Close disconnects from the daemon.
func (s *NISSource) Close() error {
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func writeFrame(w io.Writer, payload string) error {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, payload)
	return err
}

// readFrame returns the next frame's payload; a zero-length frame comes
// back as the empty string.
func readFrame(r io.Reader) (string, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
