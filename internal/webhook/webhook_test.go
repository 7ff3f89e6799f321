package webhook

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendNoOpWhenDisabled(t *testing.T) {
	c := New("", "secret", "rtmp_event")

	if c.Enabled() {
		t.Fatalf("expected client with empty url to be disabled")
	}

	streamID, err := c.Send("start", "v", "app", "stream", "127.0.0.1", 0)
	if err != nil || streamID != "" {
		t.Fatalf("expected no-op send to return no error and no stream id, got %q, %v", streamID, err)
	}
}

func TestSendPostsSignedEventAndReturnsStreamID(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(eventHeader)
		w.Header().Set("stream-id", "abc123")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", "rtmp_event")

	streamID, err := c.Send("start", "v", "app", "stream", "127.0.0.1", 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if streamID != "abc123" {
		t.Fatalf("expected stream id abc123, got %q", streamID)
	}
	if gotHeader == "" {
		t.Fatalf("expected event header to carry a signed token")
	}
}

func TestSendNonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", "rtmp_event")

	if _, err := c.Send("start", "v", "app", "stream", "127.0.0.1", 0); err == nil {
		t.Fatalf("expected error on non-2xx response")
	}
}
