// Package whatsapp is the gateway's connection to the WhatsApp bridge.
//
// The bridge is a separate process that owns the network protocol and the
// authenticated browser session. The gateway reaches it over a WebSocket:
// the bridge pushes lifecycle frames (qr, ready, auth_failure,
// disconnected) and answers send requests with sent/error frames carrying
// the request id they reply to.
package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/broadcastio/wagateway/pkg/logger"
)

var (
	// ErrNotConnected is returned by sends issued while no bridge connection is up.
	ErrNotConnected = errors.New("whatsapp bridge not connected")
	// ErrConnectionLost fails sends still waiting when the connection drops.
	ErrConnectionLost = errors.New("whatsapp bridge connection lost")
)

// Client is the chat-network collaborator the gateway drives.
type Client interface {
	Events() <-chan Event
	SendText(ctx context.Context, address, text string) (string, error)
	SendMedia(ctx context.Context, address string, media *Media, opts MediaOptions) (string, error)
}

// SendError is a send the bridge answered with an error frame. Its message
// is the bridge's text, unmodified.
type SendError struct {
	Message string
}

func (e *SendError) Error() string { return e.Message }

// BridgeConfig configures a BridgeClient.
type BridgeConfig struct {
	URL          string
	Header       http.Header
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	WriteTimeout time.Duration
}

// BridgeClient maintains the WebSocket to the bridge, redialing with
// capped exponential backoff, and correlates send replies by request id.
type BridgeClient struct {
	cfg    BridgeConfig
	dialer *websocket.Dialer
	events chan Event

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan sendReply

	writeMu sync.Mutex
}

// NewBridgeClient creates a client. Call Run to connect.
func NewBridgeClient(cfg BridgeConfig) *BridgeClient {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &BridgeClient{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		events:  make(chan Event, 64),
		pending: make(map[string]chan sendReply),
	}
}

// Events returns the lifecycle stream, in the order the bridge sent it.
func (c *BridgeClient) Events() <-chan Event {
	return c.events
}

// Connected reports whether a bridge connection is currently open.
func (c *BridgeClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run dials the bridge and serves the connection until ctx is cancelled,
// reconnecting whenever it drops. It blocks.
func (c *BridgeClient) Run(ctx context.Context) {
	backoff := c.cfg.ReconnectMin

	for {
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WarnCF("whatsapp", "Bridge dial failed", map[string]interface{}{
				"url":   c.cfg.URL,
				"error": err.Error(),
				"retry": backoff.String(),
			})
			c.emit(ctx, Event{Type: EventDisconnected, Reason: "bridge unreachable: " + err.Error()})
		} else {
			logger.InfoCF("whatsapp", "Bridge connected", map[string]interface{}{"url": c.cfg.URL})
			backoff = c.cfg.ReconnectMin

			readErr := c.serve(ctx, conn)
			if ctx.Err() != nil {
				return
			}
			logger.WarnCF("whatsapp", "Bridge connection lost", map[string]interface{}{
				"error": readErr.Error(),
			})
			c.emit(ctx, Event{Type: EventDisconnected, Reason: "bridge connection lost: " + readErr.Error()})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.ReconnectMax {
			backoff = c.cfg.ReconnectMax
		}
	}
}

// serve runs the read loop for one connection and tears it down on exit.
func (c *BridgeClient) serve(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	err := c.readLoop(ctx, conn)
	close(done)
	conn.Close()

	c.mu.Lock()
	c.conn = nil
	pending := c.pending
	c.pending = make(map[string]chan sendReply)
	c.mu.Unlock()

	for _, reply := range pending {
		reply <- sendReply{err: fmt.Errorf("%w: %v", ErrConnectionLost, err)}
	}
	return err
}

func (c *BridgeClient) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.WarnCF("whatsapp", "Malformed bridge frame", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		switch frame.Type {
		case string(EventQR):
			c.emit(ctx, Event{Type: EventQR, Payload: frame.Data})
		case string(EventReady):
			c.emit(ctx, Event{Type: EventReady})
		case string(EventAuthFailure):
			c.emit(ctx, Event{Type: EventAuthFailure, Reason: frame.Reason})
		case string(EventDisconnected):
			c.emit(ctx, Event{Type: EventDisconnected, Reason: frame.Reason})
		case frameSent:
			c.resolve(frame.RequestID, sendReply{messageID: frame.MessageID})
		case frameError:
			c.resolve(frame.RequestID, sendReply{err: &SendError{Message: frame.Error}})
		default:
			logger.DebugCF("whatsapp", "Ignoring bridge frame", map[string]interface{}{"type": frame.Type})
		}
	}
}

// emit blocks until the event is taken so lifecycle events are never
// dropped or reordered.
func (c *BridgeClient) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *BridgeClient) resolve(requestID string, reply sendReply) {
	c.mu.Lock()
	ch, ok := c.pending[requestID]
	delete(c.pending, requestID)
	c.mu.Unlock()

	if !ok {
		logger.DebugCF("whatsapp", "Reply for unknown request", map[string]interface{}{"request_id": requestID})
		return
	}
	ch <- reply
}

// SendText sends a plain text message and returns the network's message id.
func (c *BridgeClient) SendText(ctx context.Context, address, text string) (string, error) {
	return c.send(ctx, outboundFrame{Type: frameSend, To: address, Content: text})
}

// SendMedia sends a file, with opts.Caption as caption when non-empty.
func (c *BridgeClient) SendMedia(ctx context.Context, address string, media *Media, opts MediaOptions) (string, error) {
	if media == nil {
		return "", errors.New("media is required")
	}
	return c.send(ctx, outboundFrame{Type: frameSend, To: address, Media: media, Caption: opts.Caption})
}

func (c *BridgeClient) send(ctx context.Context, frame outboundFrame) (string, error) {
	frame.RequestID = uuid.NewString()
	reply := make(chan sendReply, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	c.pending[frame.RequestID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, frame.RequestID)
		c.mu.Unlock()
	}()

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(deadline)
	err := conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("write send request: %w", err)
	}

	select {
	case r := <-reply:
		return r.messageID, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

var _ Client = (*BridgeClient)(nil)
