package authhook

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AgustinSRG/go-live-rtmp/internal/admission"
	"github.com/AgustinSRG/go-live-rtmp/internal/command"
	"github.com/AgustinSRG/go-live-rtmp/internal/coordinator"
	"github.com/AgustinSRG/go-live-rtmp/internal/webhook"
)

func TestOnPublishAcceptsInStandAloneMode(t *testing.T) {
	ctrl := coordinator.New("", "", "server-1", nil)
	wh := webhook.New("", "secret", "rtmp_event")

	h := New(wh, ctrl, nil)

	req := &command.Request{App: "live", Stream: "mystream", ClientIP: "127.0.0.1"}
	if err := h.OnPublish(req); err != nil {
		t.Fatalf("expected stand-alone publish to be accepted, got %v", err)
	}
}

func TestOnPublishCapturesWebhookStreamID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("stream-id", "stream-xyz")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctrl := coordinator.New("", "", "server-1", nil)
	wh := webhook.New(srv.URL, "secret", "rtmp_event")

	h := New(wh, ctrl, nil)

	req := &command.Request{App: "live", Stream: "mystream", ClientIP: "127.0.0.1"}
	if err := h.OnPublish(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.StreamID != "stream-xyz" {
		t.Fatalf("expected stream id to be captured from webhook response, got %q", req.StreamID)
	}
}

func TestOnPlayRejectsOutsideWhitelist(t *testing.T) {
	ctrl := coordinator.New("", "", "server-1", nil)
	wh := webhook.New("", "secret", "rtmp_event")
	allow := admission.NewWhitelist("10.0.0.0/8")

	h := New(wh, ctrl, allow)

	req := &command.Request{ClientIP: "203.0.113.5"}
	if err := h.OnPlay(req); err == nil {
		t.Fatalf("expected play to be rejected outside whitelist")
	}
}

func TestOnPlayAllowsWithinWhitelist(t *testing.T) {
	ctrl := coordinator.New("", "", "server-1", nil)
	wh := webhook.New("", "secret", "rtmp_event")
	allow := admission.NewWhitelist("10.0.0.0/8")

	h := New(wh, ctrl, allow)

	req := &command.Request{ClientIP: "10.1.2.3"}
	if err := h.OnPlay(req); err != nil {
		t.Fatalf("expected play to be allowed within whitelist, got %v", err)
	}
}
