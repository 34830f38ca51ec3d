package apc

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"strings"
	"testing"
)

// serveStatus accepts connections and answers every "status" request with
// the given lines, each as one frame, terminated by a zero-length frame.
// Returns the listener's address.
func serveStatus(t *testing.T, lines []string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() }) //nolint:errcheck

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close() //nolint:errcheck
				for {
					cmd, err := readFrame(conn)
					if err != nil {
						return
					}
					if cmd != "status" {
						return
					}
					for _, line := range lines {
						if err := writeFrame(conn, line); err != nil {
							return
						}
					}
					var zero [2]byte
					if _, err := conn.Write(zero[:]); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestNISSource_Fetch(t *testing.T) {
	addr := serveStatus(t, []string{
		"STATUS   : ONLINE\n",
		"LINEV    : 119.0 Volts\n",
	})

	src, err := NewNISSource(addr)
	if err != nil {
		t.Fatalf("NewNISSource: %v", err)
	}
	defer src.Close() //nolint:errcheck

	got, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	want := "STATUS   : ONLINE\nLINEV    : 119.0 Volts\n"
	if got != want {
		t.Errorf("Fetch = %q, want %q", got, want)
	}
}

func TestNISSource_Fetch_Repeated(t *testing.T) {
	addr := serveStatus(t, []string{"STATUS   : ONLINE\n"})

	src, err := NewNISSource(addr)
	if err != nil {
		t.Fatalf("NewNISSource: %v", err)
	}
	defer src.Close() //nolint:errcheck

	for i := 0; i < 3; i++ {
		if _, err := src.Fetch(context.Background()); err != nil {
			t.Fatalf("Fetch %d: %v", i+1, err)
		}
	}
}

func TestNISSource_ReconnectsAfterServerClose(t *testing.T) {
	addr := serveStatus(t, []string{"STATUS   : ONLINE\n"})

	src, err := NewNISSource(addr)
	if err != nil {
		t.Fatalf("NewNISSource: %v", err)
	}
	defer src.Close() //nolint:errcheck

	if _, err := src.Fetch(context.Background()); err != nil {
		t.Fatalf("first Fetch: %v", err)
	}

	// Kill the source's connection server-side; the next Fetch fails and
	// marks the connection stale, the one after reconnects.
	src.conn.Close() //nolint:errcheck
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("expected error on severed connection")
	}
	if !src.stale {
		t.Fatal("connection should be marked stale after an error")
	}
	if _, err := src.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch after reconnect: %v", err)
	}
}

func TestNISSource_ConnectFailure(t *testing.T) {
	// Port 1 on localhost is essentially never listening.
	if _, err := NewNISSource("127.0.0.1:1"); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, "status"); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	if got := binary.BigEndian.Uint16(buf.Bytes()[:2]); got != 6 {
		t.Errorf("length prefix = %d, want 6", got)
	}
	got, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if got != "status" {
		t.Errorf("readFrame = %q, want %q", got, "status")
	}
}

func TestReadFrame_ZeroLengthTerminator(t *testing.T) {
	got, err := readFrame(strings.NewReader("\x00\x00"))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if got != "" {
		t.Errorf("readFrame = %q, want empty terminator", got)
	}
}
