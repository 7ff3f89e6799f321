// Package controlbus listens on a Redis pub/sub channel for operator
// commands ("kill-session", "close-stream") and applies them against the
// live source registry, the same out-of-band administrative path the
// teacher wires through its own Redis command receiver.
package controlbus

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AgustinSRG/go-live-rtmp/internal/logging"
)

// Killer is the subset of the source registry the control bus needs.
type Killer interface {
	Kill(key, id string) bool
}

// Config carries the Redis connection parameters.
type Config struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	Channel  string
	UseTLS   bool
}

// Listener subscribes to a Redis channel and dispatches parsed commands.
type Listener struct {
	cfg    Config
	killer Killer
	stop   chan struct{}
}

func New(cfg Config, killer Killer) *Listener {
	return &Listener{cfg: cfg, killer: killer, stop: make(chan struct{})}
}

// Run blocks, reconnecting on failure, until Stop is called. It is a no-op
// if the listener was not enabled.
func (l *Listener) Run() {
	if !l.cfg.Enabled {
		return
	}

	for {
		select {
		case <-l.stop:
			return
		default:
		}

		l.runOnce()

		select {
		case <-l.stop:
			return
		case <-time.After(10 * time.Second):
		}
	}
}

func (l *Listener) Stop() {
	close(l.stop)
}

func (l *Listener) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorMessage("control bus recovered from panic")
		}
		logging.Warning("connection to Redis lost")
	}()

	opts := &redis.Options{
		Addr:     l.cfg.Host + ":" + l.cfg.Port,
		Password: l.cfg.Password,
	}
	if l.cfg.UseTLS {
		opts.TLSConfig = &tls.Config{}
	}

	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, l.cfg.Channel)
	defer sub.Close()

	logging.Info("listening for commands on Redis channel '" + l.cfg.Channel + "'")

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			logging.Warning("could not read from Redis: " + err.Error())
			return
		}
		l.dispatch(msg.Payload)
	}
}

// dispatch parses a "cmd>arg1|arg2" frame and applies it. Malformed frames
// are logged and dropped rather than propagated, mirroring the recover-and-
// warn behavior of the command frames this bus replaces.
func (l *Listener) dispatch(cmd string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warning("could not parse control bus message: " + cmd)
		}
	}()

	parts := strings.SplitN(cmd, ">", 2)
	if len(parts) != 2 {
		logging.Warning("invalid control bus message: " + cmd)
		return
	}

	name := parts[0]
	args := strings.Split(parts[1], "|")

	switch name {
	case "kill-session":
		if len(args) < 1 {
			logging.Warning("invalid control bus message: " + cmd)
			return
		}
		l.killer.Kill(args[0], "")
	case "close-stream":
		if len(args) < 2 {
			logging.Warning("invalid control bus message: " + cmd)
			return
		}
		l.killer.Kill(args[0], args[1])
	default:
		logging.Warning("unknown control bus command: " + name)
	}
}
