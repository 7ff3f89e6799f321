// Package source implements the live source hub: the per-stream-key object
// that accepts one publisher, serves any number of players, and owns the
// GOP cache, sequence headers and forwarder list for that stream.
package source

import (
	"errors"
	"sync"

	"github.com/AgustinSRG/go-live-rtmp/internal/amf"
	"github.com/AgustinSRG/go-live-rtmp/internal/config"
	"github.com/AgustinSRG/go-live-rtmp/internal/gop"
	"github.com/AgustinSRG/go-live-rtmp/internal/jitter"
	"github.com/AgustinSRG/go-live-rtmp/internal/logging"
	"github.com/AgustinSRG/go-live-rtmp/internal/queue"
	"github.com/AgustinSRG/go-live-rtmp/internal/rtmpmsg"
)

var (
	ErrStreamBusy = errors.New("source: stream already has a publisher")
)

// Forwarder is the subset of the outbound republish client the source needs
// to notify on publish/unpublish/media events.
type Forwarder interface {
	OnPublish()
	OnUnpublish()
	OnMessage(m *rtmpmsg.SharedMessage)
}

// Handler receives publish/unpublish notifications from a source, the
// hook external collaborators (statistics, recording) attach through.
type Handler interface {
	OnPublish(key string)
	OnUnpublish(key string)
}

// Consumer is a player's attachment point to a source: a bounded queue plus
// per-consumer accounting. One Consumer belongs to exactly one Source.
type Consumer struct {
	Queue *queue.Queue

	source *Source
}

func (c *Consumer) Close() {
	c.Queue.Close()
	c.source.removeConsumer(c)
}

// Source is the per-stream-key publish/play hub.
type Source struct {
	mu sync.Mutex

	key    string
	config *config.Config

	publishing bool

	jitter *jitter.Corrector

	gop *gop.Cache

	metadata []byte

	consumers  map[*Consumer]struct{}
	forwarders map[Forwarder]struct{}
	handlers   []Handler

	publisherID   string
	publisherKill func()

	disposing bool
}

func New(key string, cfg *config.Config) *Source {
	mode := jitter.Mode(cfg.TimeJitter)
	return &Source{
		key:        key,
		config:     cfg,
		jitter:     jitter.New(mode, cfg.MixCorrect),
		gop:        gop.New(cfg.GopCache, cfg.GopCacheLimitBytes),
		consumers:  make(map[*Consumer]struct{}),
		forwarders: make(map[Forwarder]struct{}),
	}
}

func (s *Source) Key() string {
	return s.key
}

func (s *Source) AddHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// OnPublish acquires the exclusive publisher slot. If one is already held,
// the outcome depends on the configured exclusive-agent policy: reject
// returns ErrStreamBusy, replace silently takes over (the caller is
// responsible for tearing down the previous publisher's connection before
// calling this, so the handoff is atomic under this source's single mutex).
func (s *Source) OnPublish() error {
	s.mu.Lock()

	if s.publishing && s.config.PublishExclusiveAgent == config.ExclusiveAgentReject {
		s.mu.Unlock()
		return ErrStreamBusy
	}

	s.publishing = true

	if !s.config.ATC {
		s.jitter.Reset()
	}

	forwarders := make([]Forwarder, 0, len(s.forwarders))
	for f := range s.forwarders {
		forwarders = append(forwarders, f)
	}
	handlers := append([]Handler{}, s.handlers...)

	s.mu.Unlock()

	for _, h := range handlers {
		h.OnPublish(s.key)
	}
	for _, f := range forwarders {
		f.OnPublish()
	}

	return nil
}

// OnUnpublish releases the publisher slot and tells every consumer the
// stream ended.
func (s *Source) OnUnpublish() {
	s.mu.Lock()
	s.publishing = false
	s.publisherID = ""
	s.publisherKill = nil
	consumers := make([]*Consumer, 0, len(s.consumers))
	for c := range s.consumers {
		consumers = append(consumers, c)
	}
	forwarders := make([]Forwarder, 0, len(s.forwarders))
	for f := range s.forwarders {
		forwarders = append(forwarders, f)
	}
	handlers := append([]Handler{}, s.handlers...)
	s.mu.Unlock()

	for _, c := range consumers {
		c.Queue.Close()
	}
	for _, f := range forwarders {
		f.OnUnpublish()
	}
	for _, h := range handlers {
		h.OnUnpublish(s.key)
	}
}

func (s *Source) IsPublishing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishing
}

// SetPublisherKillSwitch records how to terminate the current publisher's
// connection, so an external kill request (control plane or command bus)
// can be matched by id and acted on without the source knowing about
// sessions or transports.
func (s *Source) SetPublisherKillSwitch(id string, kill func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisherID = id
	s.publisherKill = kill
}

// Kill terminates the current publisher's connection if id is empty, "*",
// or matches the id recorded by SetPublisherKillSwitch. It reports whether
// a publisher was found and killed.
func (s *Source) Kill(id string) bool {
	s.mu.Lock()
	kill := s.publisherKill
	match := id == "" || id == "*" || id == s.publisherID
	s.mu.Unlock()

	if kill == nil || !match {
		return false
	}

	kill()
	return true
}

// OnMetaData strips the @setDataFrame wrapper, injects server identity
// properties, re-encodes and stores the result as the current metadata,
// then fans a copy out to every consumer.
func (s *Source) OnMetaData(payload []byte, isAMF3 bool) {
	stream := amf.NewDecodingStream(payload)

	if isAMF3 && len(payload) > 0 {
		stream = amf.NewDecodingStream(payload[1:])
	}

	name := stream.ReadOne() // "@setDataFrame" or "onMetaData"
	_ = name

	if stream.IsEnded() {
		return
	}

	eventName := stream.ReadOne() // "onMetaData" when wrapped
	var dataObj amf.Value
	if !stream.IsEnded() {
		dataObj = stream.ReadOne()
	} else {
		dataObj = eventName
		eventName = amf.NewString("onMetaData")
	}

	dataObj.SetProperty("server", amf.NewString("go-live-rtmp"))

	out := make([]byte, 0, len(payload))
	out = append(out, amf.EncodeOne(amf.NewString("onMetaData"))...)
	out = append(out, amf.EncodeOne(dataObj)...)

	s.mu.Lock()
	s.metadata = out
	consumers := make([]*Consumer, 0, len(s.consumers))
	for c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.mu.Unlock()

	msg := rtmpmsg.FromCommon(&rtmpmsg.CommonMessage{
		Header: rtmpmsg.Header{
			ChunkStreamID: rtmpmsg.CSIDData,
			MessageTypeID: rtmpmsg.TypeDataAMF0,
			MessageLength: uint32(len(out)),
		},
		Payload: out,
	})

	for _, c := range consumers {
		c.Queue.Enqueue(msg)
	}
}

// OnAudio and OnVideo apply jitter correction, detect sequence headers and
// keyframes, update the GOP cache, and fan the message out to every
// consumer and forwarder. Aggregate messages are demuxed by the caller
// before reaching these (see Demux).
func (s *Source) OnAudio(m *rtmpmsg.CommonMessage) {
	s.onMedia(m, jitter.Audio)
}

func (s *Source) OnVideo(m *rtmpmsg.CommonMessage) {
	s.onMedia(m, jitter.Video)
}

func (s *Source) onMedia(m *rtmpmsg.CommonMessage, t jitter.StreamType) {
	if !s.config.ATC {
		m.Header.Timestamp = s.jitter.Correct(t, m.Header.Timestamp)
	}

	shared := rtmpmsg.FromCommon(m)

	s.mu.Lock()

	isSeqHeader := shared.IsSequenceHeader()
	if isSeqHeader {
		s.gop.SetSequenceHeader(shared)
	} else if s.gop.Enabled() {
		s.gop.Push(shared)
	}

	consumers := make([]*Consumer, 0, len(s.consumers))
	for c := range s.consumers {
		consumers = append(consumers, c)
	}
	forwarders := make([]Forwarder, 0, len(s.forwarders))
	for f := range s.forwarders {
		forwarders = append(forwarders, f)
	}

	s.mu.Unlock()

	for _, c := range consumers {
		result := c.Queue.Enqueue(shared)
		if result != queue.Ok {
			logging.Debug("consumer queue overflow on " + s.key)
		}
	}
	for _, f := range forwarders {
		f.OnMessage(shared)
	}
}

// Demux splits an aggregate message (type 22) into its constituent a/v
// sub-messages and re-enters OnAudio/OnVideo for each, iteratively so stack
// use does not grow with aggregate size.
func (s *Source) Demux(agg *rtmpmsg.CommonMessage) {
	buf := agg.Payload
	for len(buf) >= 11 {
		typeID := buf[0]
		length := uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		ts := uint32(buf[4])<<16 | uint32(buf[5])<<8 | uint32(buf[6]) | uint32(buf[7])<<24
		// bytes 8-10 are the stream id (always 0 inside an aggregate)

		if uint32(len(buf)) < 11+length+4 {
			break
		}

		payload := make([]byte, length)
		copy(payload, buf[11:11+length])

		sub := &rtmpmsg.CommonMessage{
			Header: rtmpmsg.Header{
				MessageTypeID: typeID,
				Timestamp:     ts,
				MessageLength: length,
			},
			Payload: payload,
		}

		switch typeID {
		case rtmpmsg.TypeAudio:
			s.OnAudio(sub)
		case rtmpmsg.TypeVideo:
			s.OnVideo(sub)
		}

		buf = buf[11+length+4:] // skip payload + back-pointer
	}
}

// CreateConsumer registers a new consumer and primes its queue with cached
// metadata, sequence headers (audio first, then video) and the GOP cache in
// insertion order, as required before any live media. The replayed
// timestamps already reflect the source's atc setting, applied once at
// ingestion by the jitter corrector, so the consumer needs no atc of its own.
func (s *Source) CreateConsumer(queueMs int64) *Consumer {
	c := &Consumer{
		Queue:  queue.New(queueMs),
		source: s,
	}

	s.mu.Lock()
	s.consumers[c] = struct{}{}

	if s.metadata != nil {
		meta := rtmpmsg.FromCommon(&rtmpmsg.CommonMessage{
			Header: rtmpmsg.Header{
				ChunkStreamID: rtmpmsg.CSIDData,
				MessageTypeID: rtmpmsg.TypeDataAMF0,
				MessageLength: uint32(len(s.metadata)),
			},
			Payload: s.metadata,
		})
		c.Queue.Enqueue(meta)
	}

	if a := s.gop.AudioSequenceHeader(); a != nil {
		c.Queue.Enqueue(a)
	}
	if v := s.gop.VideoSequenceHeader(); v != nil {
		c.Queue.Enqueue(v)
	}
	for _, m := range s.gop.Messages() {
		c.Queue.Enqueue(m)
	}

	s.mu.Unlock()

	return c
}

func (s *Source) removeConsumer(c *Consumer) {
	s.mu.Lock()
	delete(s.consumers, c)
	s.mu.Unlock()
}

func (s *Source) AddForwarder(f Forwarder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwarders[f] = struct{}{}
}

func (s *Source) RemoveForwarder(f Forwarder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.forwarders, f)
}

func (s *Source) ConsumerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumers)
}
