// Package coordinator maintains a persistent websocket connection to an
// external control plane that can accept or deny publish requests and kill
// active streams, using the RPC message framing the teacher's control
// connection depends on.
package coordinator

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	messages "github.com/AgustinSRG/go-simple-rpc-message"

	"github.com/AgustinSRG/go-live-rtmp/internal/logging"
)

const (
	heartbeatInterval     = 20 * time.Second
	reconnectDelay        = 10 * time.Second
	publishRequestTimeout = 20 * time.Second
)

// PublishDecision is the outcome of a round-trip publish-admission request.
type PublishDecision struct {
	Accepted bool
	StreamID string
}

// KillHandler is invoked when the control plane asks this server to
// terminate a session or close a stream.
type KillHandler interface {
	KillStream(channel, streamID string)
}

type pendingRequest struct {
	waiter chan PublishDecision
}

// Client is a persistent control-plane connection.
type Client struct {
	url      string
	secret   string
	serverID string
	handler  KillHandler

	mu      sync.Mutex
	conn    *websocket.Conn
	nextReq uint64
	pending map[string]*pendingRequest
	enabled bool
	closed  bool
}

func New(baseURL, secret, serverID string, handler KillHandler) *Client {
	return &Client{
		url:      baseURL,
		secret:   secret,
		serverID: serverID,
		handler:  handler,
		pending:  make(map[string]*pendingRequest),
		enabled:  baseURL != "",
	}
}

func (c *Client) Enabled() bool {
	return c.enabled
}

// Run connects and reconnects to the control plane until Close is called.
func (c *Client) Run() {
	if !c.enabled {
		logging.Warning("CONTROL_BASE_URL not provided. The server will run in stand-alone mode.")
		return
	}

	go c.heartbeatLoop()
	c.connect()
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	header := http.Header{}

	token, err := MakeAuthToken(c.secret, c.serverID)
	if err == nil && token != "" {
		header.Set("x-control-auth-token", token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, header)
	if err != nil {
		logging.Debug("control connection error: " + err.Error())
		go c.reconnect()
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.runReaderLoop(conn)
}

func (c *Client) reconnect() {
	time.Sleep(reconnectDelay)
	c.connect()
}

func (c *Client) onDisconnect(err error) {
	c.mu.Lock()
	c.conn = nil
	closed := c.closed
	c.mu.Unlock()

	if err != nil {
		logging.Debug("control connection disconnected: " + err.Error())
	}

	if !closed {
		go c.connect()
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// send writes msg to the active connection; it reports whether the write
// happened, not whether the peer acted on it.
func (c *Client) send(msg messages.RPCMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return false
	}

	_ = c.conn.WriteMessage(websocket.TextMessage, []byte(msg.Serialize()))
	return true
}

func (c *Client) nextRequestID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextReq
	c.nextReq++
	return fmt.Sprint(id)
}

func (c *Client) runReaderLoop(conn *websocket.Conn) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			_ = conn.Close()
			c.onDisconnect(err)
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			c.onDisconnect(err)
			return
		}

		msg := messages.ParseRPCMessage(string(data))
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *messages.RPCMessage) {
	switch msg.Method {
	case "ERROR":
		logging.ErrorMessage("control plane error: " + msg.GetParam("Error-Code") + " / " + msg.GetParam("Error-Message"))
	case "PUBLISH-ACCEPT":
		c.resolvePublish(msg.GetParam("Request-Id"), PublishDecision{Accepted: true, StreamID: msg.GetParam("Stream-Id")})
	case "PUBLISH-DENY":
		c.resolvePublish(msg.GetParam("Request-Id"), PublishDecision{Accepted: false})
	case "STREAM-KILL":
		if c.handler != nil {
			c.handler.KillStream(msg.GetParam("Stream-Channel"), msg.GetParam("Stream-Id"))
		}
	}
}

func (c *Client) resolvePublish(requestID string, d PublishDecision) {
	c.mu.Lock()
	req, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()

	if ok {
		req.waiter <- d
	}
}

func (c *Client) heartbeatLoop() {
	for {
		time.Sleep(heartbeatInterval)
		c.send(messages.RPCMessage{Method: "HEARTBEAT"})
	}
}

// RequestPublish asks the control plane to accept or deny a publish
// attempt for channel/key, blocking until a decision arrives or the request
// times out. A timeout or a failed send denies the publish (accepted=false);
// only when no coordinator is configured is every publish accepted.
func (c *Client) RequestPublish(channel, key, userIP string) PublishDecision {
	if !c.enabled {
		return PublishDecision{Accepted: true}
	}

	requestID := c.nextRequestID()

	req := &pendingRequest{waiter: make(chan PublishDecision, 1)}

	c.mu.Lock()
	c.pending[requestID] = req
	c.mu.Unlock()

	sent := c.send(messages.RPCMessage{
		Method: "PUBLISH-REQUEST",
		Params: map[string]string{
			"Request-ID":     requestID,
			"Stream-Channel": channel,
			"Stream-Key":     key,
			"User-IP":        userIP,
		},
	})

	if !sent {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return PublishDecision{Accepted: false}
	}

	select {
	case d := <-req.waiter:
		return d
	case <-time.After(publishRequestTimeout):
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return PublishDecision{Accepted: false}
	}
}

// PublishEnd notifies the control plane that a publish session ended.
func (c *Client) PublishEnd(channel, streamID string) {
	c.send(messages.RPCMessage{
		Method: "PUBLISH-END",
		Params: map[string]string{
			"Stream-Channel": channel,
			"Stream-ID":      streamID,
		},
	})
}
