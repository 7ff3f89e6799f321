// Package webhook implements the HTTP event-hook transport: JWT-signed POST
// requests notifying an external collaborator of connect/publish/play/stop
// events, matching the IAuthHook contract.
package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AgustinSRG/go-live-rtmp/internal/logging"
)

const eventHeader = "rtmp-event"

// Client posts signed event notifications to a configured callback URL.
type Client struct {
	url     string
	secret  string
	subject string

	http *http.Client
}

func New(url, secret, subject string) *Client {
	return &Client{
		url:     url,
		secret:  secret,
		subject: subject,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Enabled reports whether a callback URL was configured.
func (c *Client) Enabled() bool {
	return c.url != ""
}

type eventPayload struct {
	Event     string `json:"event"`
	Vhost     string `json:"vhost"`
	App       string `json:"app"`
	Stream    string `json:"stream"`
	ClientIP  string `json:"client_ip"`
	Timestamp int64  `json:"timestamp"`
}

// Send posts an event notification and returns the collaborator's "stream-id"
// response header (set on a publish-start event, empty otherwise) along with
// an error if the request failed or the collaborator responded with a
// non-2xx status, which the caller treats as fatal to the connection per the
// auth hook contract.
func (c *Client) Send(event, vhost, app, stream, clientIP string, timestampMs int64) (string, error) {
	if !c.Enabled() {
		return "", nil
	}

	body, err := json.Marshal(eventPayload{
		Event:     event,
		Vhost:     vhost,
		App:       app,
		Stream:    stream,
		ClientIP:  clientIP,
		Timestamp: timestampMs,
	})
	if err != nil {
		return "", err
	}

	token, err := c.signToken(event)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventHeader, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Debug("webhook responded with status " + resp.Status)
		return "", errStatus(resp.StatusCode)
	}

	return resp.Header.Get("stream-id"), nil
}

type errStatus int

func (e errStatus) Error() string {
	return "webhook: unexpected response status"
}

func (c *Client) signToken(event string) (string, error) {
	claims := jwt.MapClaims{
		"sub":   c.subject,
		"event": event,
		"iat":   time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.secret))
}
