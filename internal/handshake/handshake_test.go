package handshake

import (
	"bytes"
	"testing"
	"time"
)

type fakeConn struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func (f *fakeConn) Read(p []byte) (int, error)       { return f.in.Read(p) }
func (f *fakeConn) Write(p []byte) (int, error)       { return f.out.Write(p) }
func (f *fakeConn) SetReadDeadline(t time.Time) error { return nil }
func (f *fakeConn) RemoteIP() string                  { return "127.0.0.1" }
func (f *fakeConn) Close() error                       { return nil }
func (f *fakeConn) Peek(n int) ([]byte, error) {
	b := make([]byte, n)
	m, err := f.in.ReadAt(b, f.in.Size()-int64(f.in.Len()))
	return b[:m], err
}

func TestSimpleHandshakeEcho(t *testing.T) {
	c1 := make([]byte, c1c2Size)
	for i := 8; i < c1c2Size; i++ {
		c1[i] = 0xAB
	}

	c0c1c2 := make([]byte, 0, c0Size+c1c2Size*2)
	c0c1c2 = append(c0c1c2, 0x03)
	c0c1c2 = append(c0c1c2, c1...)
	// C2 echoes whatever S1 the server sends; since we don't know S1 ahead
	// of time, just send a buffer of the right size, the server doesn't
	// validate C2 content.
	c0c1c2 = append(c0c1c2, make([]byte, c1c2Size)...)

	conn := &fakeConn{in: bytes.NewReader(c0c1c2)}

	res, err := Perform(conn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Complex {
		t.Fatalf("expected fallback to simple handshake for all-0xAB C1")
	}

	out := conn.out.Bytes()
	if len(out) != c0Size+c1c2Size*2 {
		t.Fatalf("expected %d bytes of S0S1S2, got %d", c0Size+c1c2Size*2, len(out))
	}
	if out[0] != 0x03 {
		t.Fatalf("expected S0 = 0x03, got 0x%02x", out[0])
	}

	s2 := out[c0Size+c1c2Size:]
	if !bytes.Equal(s2, c1) {
		t.Fatalf("expected S2 to echo C1 under simple handshake fallback")
	}
}

func TestBadC0Rejected(t *testing.T) {
	buf := make([]byte, c0Size+c1c2Size)
	buf[0] = 0x06 // unsupported version

	conn := &fakeConn{in: bytes.NewReader(buf)}
	if _, err := Perform(conn); err != ErrBadC0 {
		t.Fatalf("expected ErrBadC0, got %v", err)
	}
}
