// Package forwarder implements an outbound RTMP publisher client that
// republishes a live source's stream to a configured upstream peer.
package forwarder

import (
	"net"
	"strconv"
	"time"

	"github.com/AgustinSRG/go-live-rtmp/internal/amf"
	"github.com/AgustinSRG/go-live-rtmp/internal/chunk"
	"github.com/AgustinSRG/go-live-rtmp/internal/command"
	"github.com/AgustinSRG/go-live-rtmp/internal/logging"
	"github.com/AgustinSRG/go-live-rtmp/internal/queue"
	"github.com/AgustinSRG/go-live-rtmp/internal/rtmpmsg"
	"github.com/AgustinSRG/go-live-rtmp/internal/transport"
)

// RetrySleep is how long the forwarder waits before re-dialing after a
// failed connection, mirroring SRS_FORWARDER_SLEEP.
const RetrySleep = 3 * time.Second

// Forwarder republishes a stream to host:port/app/stream. It runs its own
// goroutine with a private consumer queue, independent of player queues.
type Forwarder struct {
	host   string
	port   int
	app    string
	stream string

	queue *queue.Queue
	stop  chan struct{}
}

func New(host string, port int, app, streamName string, queueMs int64) *Forwarder {
	return &Forwarder{
		host:   host,
		port:   port,
		app:    app,
		stream: streamName,
		queue:  queue.New(queueMs),
		stop:   make(chan struct{}),
	}
}

// OnPublish and OnUnpublish are notifications from the live source; the
// forwarder does not change behavior on them beyond logging, since it is
// already running its own connect/reconnect loop whenever a source exists.
func (f *Forwarder) OnPublish()   { logging.Debug("forwarder: source published") }
func (f *Forwarder) OnUnpublish() { logging.Debug("forwarder: source unpublished") }

func (f *Forwarder) OnMessage(m *rtmpmsg.SharedMessage) {
	f.queue.Enqueue(m)
}

// Run connects, publishes and relays until Stop is called, reconnecting
// with RetrySleep between attempts on any failure.
func (f *Forwarder) Run() {
	for {
		select {
		case <-f.stop:
			return
		default:
		}

		if err := f.runOnce(); err != nil {
			logging.Debug("forwarder to " + f.host + ": " + err.Error())
		}

		select {
		case <-f.stop:
			return
		case <-time.After(RetrySleep):
		}
	}
}

func (f *Forwarder) Stop() {
	close(f.stop)
	f.queue.Close()
}

func (f *Forwarder) runOnce() error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(f.host, strconv.Itoa(f.port)), 5*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	tc := transport.NewTCPConn(conn)

	if err := f.handshakeAndPublish(tc); err != nil {
		return err
	}

	enc := chunk.NewEncoder()

	for {
		select {
		case <-f.stop:
			return nil
		default:
		}

		msgs := f.queue.Wait(32)
		if len(msgs) == 0 {
			return nil // closed
		}

		for _, m := range msgs {
			wire := enc.EncodeShared(m)
			if _, err := tc.Write(wire); err != nil {
				return err
			}
		}
	}
}

func (f *Forwarder) handshakeAndPublish(conn transport.Conn) error {
	// Client-side handshake: send C0C1, read S0S1S2, send C2. The forwarder
	// always uses the simple scheme; SRS-family servers accept it.
	c0c1 := make([]byte, 1537)
	c0c1[0] = 0x03
	if _, err := conn.Write(c0c1); err != nil {
		return err
	}

	s0s1s2 := make([]byte, 1+1536*2)
	if _, err := readFull(conn, s0s1s2); err != nil {
		return err
	}

	c2 := s0s1s2[1 : 1+1536]
	if _, err := conn.Write(c2); err != nil {
		return err
	}

	enc := chunk.NewEncoder()
	dec := chunk.NewDecoder(conn)

	tcUrl := "rtmp://" + f.host + "/" + f.app

	connectObj := amf.NewObject()
	connectObj.SetProperty("app", amf.NewString(f.app))
	connectObj.SetProperty("tcUrl", amf.NewString(tcUrl))
	connectObj.SetProperty("type", amf.NewString("nonprivate"))

	if err := writeInvoke(conn, enc, 0, "connect", 1, connectObj); err != nil {
		return err
	}
	if _, err := dec.ReadMessage(); err != nil { // _result(connect)
		return err
	}

	if err := writeInvoke(conn, enc, 0, "createStream", 2, amf.NewNull()); err != nil {
		return err
	}
	csResult, err := dec.ReadMessage()
	if err != nil {
		return err
	}
	csInv := command.ParseInvoke(csResult.Payload, false)
	streamID := uint32(1)
	if len(csInv.Args) > 0 {
		streamID = uint32(csInv.Args[len(csInv.Args)-1].GetDouble())
	}

	publishObj := amf.NewNull()
	if err := writeInvoke(conn, enc, streamID, "publish", 0, publishObj, amf.NewString(f.stream), amf.NewString("live")); err != nil {
		return err
	}

	return nil
}

func writeInvoke(conn transport.Conn, enc *chunk.Encoder, streamID uint32, name string, txID float64, args ...amf.Value) error {
	payload := command.EncodeInvoke(name, txID, args...)
	h, p := command.CommandMessage(streamID, payload)
	wire := enc.EncodeMessage(h, p)
	_, err := conn.Write(wire)
	return err
}

func readFull(conn transport.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
