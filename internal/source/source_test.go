package source

import (
	"testing"
	"time"

	"github.com/AgustinSRG/go-live-rtmp/internal/config"
	"github.com/AgustinSRG/go-live-rtmp/internal/rtmpmsg"
)

func testConfig() *config.Config {
	return &config.Config{
		GopCache:              true,
		GopCacheLimitBytes:    0,
		TimeJitter:            config.JitterOff,
		PublishExclusiveAgent: config.ExclusiveAgentReject,
		QueueLengthMs:         30000,
	}
}

func mkAudio(ts uint32, payload []byte) *rtmpmsg.CommonMessage {
	return &rtmpmsg.CommonMessage{
		Header:  rtmpmsg.Header{MessageTypeID: rtmpmsg.TypeAudio, Timestamp: ts, MessageLength: uint32(len(payload))},
		Payload: payload,
	}
}

func mkVideo(ts uint32, payload []byte) *rtmpmsg.CommonMessage {
	return &rtmpmsg.CommonMessage{
		Header:  rtmpmsg.Header{MessageTypeID: rtmpmsg.TypeVideo, Timestamp: ts, MessageLength: uint32(len(payload))},
		Payload: payload,
	}
}

// attachingHandler mimics a forwarder manager that reacts to a publish
// notification by attaching a forwarder to the same source, from inside the
// OnPublish callback. Source.OnPublish must not hold its lock across this
// call, or it deadlocks against Source.AddForwarder's own lock.
type attachingHandler struct {
	source *Source
}

func (h *attachingHandler) OnPublish(key string)   { h.source.AddForwarder(&noopForwarder{}) }
func (h *attachingHandler) OnUnpublish(key string) { h.source.RemoveForwarder(&noopForwarder{}) }

type noopForwarder struct{}

func (noopForwarder) OnPublish()                        {}
func (noopForwarder) OnUnpublish()                      {}
func (noopForwarder) OnMessage(m *rtmpmsg.SharedMessage) {}

func TestHandlerCanAttachForwarderFromOnPublishCallback(t *testing.T) {
	s := New("vhost/live/stream", testConfig())
	s.AddHandler(&attachingHandler{source: s})

	done := make(chan error, 1)
	go func() {
		done <- s.OnPublish()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnPublish deadlocked when a handler attached a forwarder from its callback")
	}
}

func TestOnlyOnePublisherAllowed(t *testing.T) {
	s := New("vhost/live/stream", testConfig())

	if err := s.OnPublish(); err != nil {
		t.Fatalf("unexpected error on first publish: %v", err)
	}
	if err := s.OnPublish(); err != ErrStreamBusy {
		t.Fatalf("expected ErrStreamBusy on second publish, got %v", err)
	}
}

func TestNewConsumerReceivesSequenceHeadersBeforeGop(t *testing.T) {
	s := New("vhost/live/stream", testConfig())
	_ = s.OnPublish()

	// Video sequence header, then a keyframe GOP, then audio sequence
	// header arriving late (still retained and delivered first to new
	// consumers regardless of arrival order relative to the GOP).
	s.OnVideo(mkVideo(0, []byte{0x17, 0x00, 0, 0, 0})) // AVC seq header
	s.OnVideo(mkVideo(1000, []byte{0x17, 0x01}))       // keyframe
	s.OnAudio(mkAudio(1020, []byte{0xAF, 0x01}))
	s.OnAudio(mkAudio(0, []byte{0xAF, 0x00, 0x12, 0x10})) // AAC seq header

	c := s.CreateConsumer(30000)
	msgs := c.Queue.DumpPackets(0)

	if len(msgs) < 2 {
		t.Fatalf("expected at least audio+video sequence headers, got %d messages", len(msgs))
	}

	if !msgs[0].IsSequenceHeader() {
		t.Fatalf("expected first delivered message to be a sequence header")
	}
	if !msgs[1].IsSequenceHeader() {
		t.Fatalf("expected second delivered message to be a sequence header")
	}
}

func TestGopClearOnNewKeyframeReflectedToNewConsumer(t *testing.T) {
	s := New("vhost/live/stream", testConfig())
	_ = s.OnPublish()

	s.OnVideo(mkVideo(0, []byte{0x17, 0x01}))  // earlier GOP, cleared below
	s.OnAudio(mkAudio(20, []byte{0xAF, 0x01}))
	s.OnVideo(mkVideo(1000, []byte{0x17, 0x01})) // keyframe
	s.OnAudio(mkAudio(1020, []byte{0xAF, 0x01}))
	s.OnVideo(mkVideo(1040, []byte{0x27, 0x01})) // inter-frame
	s.OnAudio(mkAudio(1060, []byte{0xAF, 0x01}))

	c := s.CreateConsumer(30000)
	msgs := c.Queue.DumpPackets(0)

	if len(msgs) != 4 {
		t.Fatalf("expected GOP of 4 messages delivered, got %d", len(msgs))
	}
	if !msgs[0].IsVideoKeyFrame() {
		t.Fatalf("expected first GOP message to be the keyframe")
	}
}

func TestUnpublishClosesConsumerQueues(t *testing.T) {
	s := New("vhost/live/stream", testConfig())
	_ = s.OnPublish()

	c := s.CreateConsumer(30000)
	s.OnUnpublish()

	msgs := c.Queue.Wait(0)
	if len(msgs) != 0 {
		t.Fatalf("expected no pending messages after unpublish, got %d", len(msgs))
	}
}

func TestRegistryFindOrCreateReusesSource(t *testing.T) {
	r := NewRegistry(testConfig())

	a := r.FindOrCreate("vhost/live/stream")
	b := r.FindOrCreate("vhost/live/stream")

	if a != b {
		t.Fatalf("expected FindOrCreate to reuse the same source for the same key")
	}
}

func TestRegistryDisposeRemovesIdleSource(t *testing.T) {
	r := NewRegistry(testConfig())
	r.FindOrCreate("vhost/live/stream")

	r.Dispose("vhost/live/stream")

	if _, ok := r.Find("vhost/live/stream"); ok {
		t.Fatalf("expected idle source to be removed after Dispose")
	}
}

func TestRegistryDisposeKeepsActiveSource(t *testing.T) {
	r := NewRegistry(testConfig())
	s := r.FindOrCreate("vhost/live/stream")
	_ = s.OnPublish()

	r.Dispose("vhost/live/stream")

	if _, ok := r.Find("vhost/live/stream"); !ok {
		t.Fatalf("expected active (publishing) source to survive Dispose")
	}
}
