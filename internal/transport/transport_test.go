package transport

import (
	"net"
	"testing"
	"time"
)

func TestTCPConnReadWriteTracksByteCounters(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewTCPConn(server)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = client.Write([]byte("hello"))
	}()

	buf := make([]byte, 5)
	n, err := sc.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("expected to read %q, got %q", "hello", buf[:n])
	}
	if sc.BytesIn() != 5 {
		t.Fatalf("expected BytesIn 5, got %d", sc.BytesIn())
	}
	<-done

	readDone := make(chan []byte, 1)
	go func() {
		b := make([]byte, 4)
		n, _ := client.Read(b)
		readDone <- b[:n]
	}()

	if _, err := sc.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if sc.BytesOut() != 4 {
		t.Fatalf("expected BytesOut 4, got %d", sc.BytesOut())
	}

	select {
	case got := <-readDone:
		if string(got) != "ping" {
			t.Fatalf("expected client to read %q, got %q", "ping", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for client read")
	}
}

func TestTCPConnSetReadDeadline(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewTCPConn(server)
	if err := sc.SetReadDeadline(time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}

	buf := make([]byte, 1)
	if _, err := sc.Read(buf); err == nil {
		t.Fatal("expected a read past the deadline to fail")
	}
}

func TestSetTCPNoDelayIgnoresNonTCPConn(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	// net.Pipe conns are not *net.TCPConn; this must be a silent no-op.
	SetTCPNoDelay(server, true)
}
