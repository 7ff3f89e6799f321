package coordinator

import "testing"

func TestDisabledClientFailsOpen(t *testing.T) {
	c := New("", "", "server-1", nil)

	if c.Enabled() {
		t.Fatalf("expected client to be disabled with empty base url")
	}

	d := c.RequestPublish("channel", "key", "127.0.0.1")
	if !d.Accepted {
		t.Fatalf("expected stand-alone mode to accept publish requests")
	}
}

func TestNextRequestIDIncrements(t *testing.T) {
	c := New("ws://example.test", "secret", "server-1", nil)

	first := c.nextRequestID()
	second := c.nextRequestID()

	if first == second {
		t.Fatalf("expected distinct request ids, got %q twice", first)
	}
}

type fakeKillHandler struct {
	channel, streamID string
}

func (f *fakeKillHandler) KillStream(channel, streamID string) {
	f.channel = channel
	f.streamID = streamID
}

func TestResolvePublishDeliversToWaiter(t *testing.T) {
	c := New("ws://example.test", "secret", "server-1", nil)

	req := &pendingRequest{waiter: make(chan PublishDecision, 1)}
	c.pending["7"] = req

	c.resolvePublish("7", PublishDecision{Accepted: true, StreamID: "abc"})

	select {
	case d := <-req.waiter:
		if !d.Accepted || d.StreamID != "abc" {
			t.Fatalf("unexpected decision: %+v", d)
		}
	default:
		t.Fatalf("expected a decision to be delivered")
	}

	if _, ok := c.pending["7"]; ok {
		t.Fatalf("expected pending request to be removed after resolution")
	}
}
