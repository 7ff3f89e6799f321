package main

import (
	"net"
	"testing"

	"github.com/AgustinSRG/go-live-rtmp/internal/config"
	"github.com/AgustinSRG/go-live-rtmp/internal/source"
)

func TestServerIdentityFallsBackWithoutBindAddress(t *testing.T) {
	if got := serverIdentity(&config.Config{}); got != "rtmp-server" {
		t.Fatalf("expected fallback identity, got %q", got)
	}
	if got := serverIdentity(&config.Config{BindAddress: "10.0.0.5"}); got != "10.0.0.5" {
		t.Fatalf("expected bind address as identity, got %q", got)
	}
}

func TestRemoteIPExtractsHostFromTCPAddr(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("192.0.2.7"), Port: 4455}
	c := &fakeAddrConn{addr: addr}
	if got := remoteIP(c); got != "192.0.2.7" {
		t.Fatalf("expected 192.0.2.7, got %q", got)
	}
}

func TestForwarderManagerSkipsMissingSource(t *testing.T) {
	cfg := &config.Config{ForwardHost: "upstream", ForwardPort: 1935, ForwardApp: "live", QueueLengthMs: 1000}
	registry := source.NewRegistry(cfg)
	m := newForwarderManager(registry, cfg)

	m.OnPublish("does-not-exist")
	if len(m.active) != 0 {
		t.Fatalf("expected no forwarder registered for a missing source")
	}

	m.OnUnpublish("does-not-exist")
}

func TestRegistryKillHandlerDelegatesToRegistry(t *testing.T) {
	cfg := &config.Config{}
	registry := source.NewRegistry(cfg)
	h := &registryKillHandler{registry: registry}

	// No publisher exists yet, so the kill is a no-op that must not panic.
	h.KillStream("live/mystream", "")
}

type fakeAddrConn struct {
	net.Conn
	addr net.Addr
}

func (c *fakeAddrConn) RemoteAddr() net.Addr { return c.addr }
