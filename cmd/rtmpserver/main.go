// Command rtmpserver runs the RTMP media ingest and distribution core: it
// accepts publisher and player connections on a TCP (and optionally TLS)
// listener, admits them by IP, authorizes them through an optional webhook
// and control-plane coordinator, and serves every live stream out of a
// shared source registry.
package main

import (
	"net"
	"strconv"
	"sync"

	"github.com/AgustinSRG/go-live-rtmp/internal/admission"
	"github.com/AgustinSRG/go-live-rtmp/internal/authhook"
	"github.com/AgustinSRG/go-live-rtmp/internal/config"
	"github.com/AgustinSRG/go-live-rtmp/internal/controlbus"
	"github.com/AgustinSRG/go-live-rtmp/internal/coordinator"
	"github.com/AgustinSRG/go-live-rtmp/internal/forwarder"
	"github.com/AgustinSRG/go-live-rtmp/internal/logging"
	"github.com/AgustinSRG/go-live-rtmp/internal/session"
	"github.com/AgustinSRG/go-live-rtmp/internal/source"
	"github.com/AgustinSRG/go-live-rtmp/internal/tlslistener"
	"github.com/AgustinSRG/go-live-rtmp/internal/transport"
	"github.com/AgustinSRG/go-live-rtmp/internal/webhook"
)

func main() {
	logging.Info("RTMP media server starting")

	cfg := config.Load()

	registry := source.NewRegistry(cfg)

	killHandler := &registryKillHandler{registry: registry}

	ctrl := coordinator.New(cfg.ControlBaseURL, cfg.ControlSecret, serverIdentity(cfg), killHandler)
	wh := webhook.New(cfg.CallbackURL, cfg.JWTSecret, cfg.CustomJWTSubject)
	playAllow := admission.NewWhitelist(cfg.PlayWhitelist)
	auth := authhook.New(wh, ctrl, playAllow)

	limiter := admission.NewLimiter(cfg.MaxIPConcurrentConnections, cfg.ConcurrentLimitWhitelist)

	if cfg.ForwardEnabled {
		registry.AddGlobalHandler(newForwarderManager(registry, cfg))
	}

	if cfg.RedisUse {
		bus := controlbus.New(controlbus.Config{
			Enabled:  true,
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			Channel:  cfg.RedisChannel,
			UseTLS:   cfg.RedisTLS,
		}, registry)
		go bus.Run()
	}

	go ctrl.Run()

	var nextSessionID uint64
	var idMu sync.Mutex
	newSessionID := func() uint64 {
		idMu.Lock()
		defer idMu.Unlock()
		nextSessionID++
		return nextSessionID
	}

	var wg sync.WaitGroup

	addr := net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.RTMPPort))
	tcpListener, err := net.Listen("tcp", addr)
	if err != nil {
		logging.Error(err)
		return
	}
	logging.Info("listening for RTMP on " + addr)

	wg.Add(1)
	go acceptLoop(tcpListener, &wg, cfg, registry, auth, limiter, newSessionID)

	if cfg.SSLCert != "" && cfg.SSLKey != "" {
		sslAddr := net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.SSLPort))
		sslListener, err := tlslistener.Listen(sslAddr, cfg.SSLCert, cfg.SSLKey, cfg.SSLCheckReloadSeconds)
		if err != nil {
			logging.Error(err)
		} else {
			logging.Info("listening for RTMPS on " + sslAddr)
			wg.Add(1)
			go acceptLoop(sslListener, &wg, cfg, registry, auth, limiter, newSessionID)
		}
	}

	wg.Wait()
}

func serverIdentity(cfg *config.Config) string {
	if cfg.BindAddress != "" {
		return cfg.BindAddress
	}
	return "rtmp-server"
}

type registryKillHandler struct {
	registry *source.Registry
}

func (h *registryKillHandler) KillStream(channel, streamID string) {
	h.registry.Kill(channel, streamID)
}

func acceptLoop(listener net.Listener, wg *sync.WaitGroup, cfg *config.Config, registry *source.Registry, auth *authhook.Hook, limiter *admission.Limiter, newSessionID func() uint64) {
	defer func() {
		_ = listener.Close()
		wg.Done()
	}()

	for {
		c, err := listener.Accept()
		if err != nil {
			logging.Error(err)
			return
		}

		id := newSessionID()
		ip := remoteIP(c)

		if !limiter.Add(ip) {
			_ = c.Close()
			logging.Request(id, ip, "connection rejected: too many concurrent connections")
			continue
		}

		go handleConnection(id, ip, c, cfg, registry, auth, limiter)
	}
}

func handleConnection(id uint64, ip string, c net.Conn, cfg *config.Config, registry *source.Registry, auth *authhook.Hook, limiter *admission.Limiter) {
	defer func() {
		_ = c.Close()
		limiter.Remove(ip)
		logging.DebugSession(id, ip, "connection closed")
	}()

	transport.SetTCPNoDelay(c, cfg.TCPNoDelay)
	tc := transport.NewTCPConn(c)

	logging.DebugSession(id, ip, "connection accepted")

	s := session.New(id, tc, cfg, registry, auth)
	s.Run()
}

// forwarderManager attaches one outbound forwarder to every stream's source
// for the lifetime of its publish, republishing it to a single configured
// upstream peer.
type forwarderManager struct {
	registry *source.Registry
	cfg      *config.Config

	mu     sync.Mutex
	active map[string]*forwarder.Forwarder
}

func newForwarderManager(registry *source.Registry, cfg *config.Config) *forwarderManager {
	return &forwarderManager{
		registry: registry,
		cfg:      cfg,
		active:   make(map[string]*forwarder.Forwarder),
	}
}

func (m *forwarderManager) OnPublish(key string) {
	src, ok := m.registry.Find(key)
	if !ok {
		return
	}

	f := forwarder.New(m.cfg.ForwardHost, m.cfg.ForwardPort, m.cfg.ForwardApp, key, m.cfg.QueueLengthMs)

	m.mu.Lock()
	m.active[key] = f
	m.mu.Unlock()

	src.AddForwarder(f)
	go f.Run()
}

func (m *forwarderManager) OnUnpublish(key string) {
	m.mu.Lock()
	f, ok := m.active[key]
	delete(m.active, key)
	m.mu.Unlock()

	if !ok {
		return
	}

	if src, ok := m.registry.Find(key); ok {
		src.RemoveForwarder(f)
	}
	f.Stop()
}

func remoteIP(c net.Conn) string {
	if addr, ok := c.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	return c.RemoteAddr().String()
}
