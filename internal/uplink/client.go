// Package uplink streams session snapshots to a remote collector over
// WebSocket and accepts control commands back.
package uplink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-pdr/internal/protocol"
	"github.com/teslashibe/go-pdr/internal/room"
	"github.com/teslashibe/go-pdr/internal/session"
)

// Config holds uplink client configuration
type Config struct {
	URL              string        // WebSocket URL (e.g., "ws://collector.example.com/ws/pdr")
	ReconnectBackoff time.Duration // Initial reconnect delay
	MaxBackoff       time.Duration // Maximum reconnect delay
	PingInterval     time.Duration // Ping interval for keepalive
	WriteTimeout     time.Duration // Write timeout
	SendInterval     time.Duration // Snapshot forwarding rate
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8080/ws/pdr",
		ReconnectBackoff: 1 * time.Second,
		MaxBackoff:       30 * time.Second,
		PingInterval:     10 * time.Second,
		WriteTimeout:     5 * time.Second,
		SendInterval:     time.Second,
	}
}

// Client manages the WebSocket connection to the collector
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc

	// gorilla allows one concurrent writer
	writeMu sync.Mutex

	// Callbacks for incoming commands
	onReset      func()
	onMarkCorner func()
	onWiFi       func(protocol.WiFiCommand)
	onGetStats   func() interface{}

	// Stats
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	messagesDropped  atomic.Uint64
	reconnects       atomic.Uint64
}

// NewClient creates a new uplink client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = DefaultConfig().SendInterval
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig().PingInterval
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
	}
}

// OnReset sets the callback for reset commands
func (c *Client) OnReset(callback func()) {
	c.mu.Lock()
	c.onReset = callback
	c.mu.Unlock()
}

// OnMarkCorner sets the callback for mark_corner commands
func (c *Client) OnMarkCorner(callback func()) {
	c.mu.Lock()
	c.onMarkCorner = callback
	c.mu.Unlock()
}

// OnWiFi sets the callback for Wi-Fi observations
func (c *Client) OnWiFi(callback func(protocol.WiFiCommand)) {
	c.mu.Lock()
	c.onWiFi = callback
	c.mu.Unlock()
}

// OnGetStats sets the provider answering get_stats requests
func (c *Client) OnGetStats(provider func() interface{}) {
	c.mu.Lock()
	c.onGetStats = provider
	c.mu.Unlock()
}

// Connect starts the connection loop in the background
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.connectionLoop(ctx)
	return nil
}

// connectionLoop manages connection with auto-reconnect
func (c *Client) connectionLoop(ctx context.Context) {
	backoff := c.cfg.ReconnectBackoff

	for {
		select {
		case <-ctx.Done():
			c.closeConnection()
			return
		default:
		}

		err := c.connect(ctx)
		if err != nil {
			c.logger.Warn("uplink connection failed",
				"error", err,
				"retry_in", backoff,
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}

			// Exponential backoff
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			c.reconnects.Add(1)
			continue
		}

		// Reset backoff on successful connection
		backoff = c.cfg.ReconnectBackoff

		// Read messages until error
		c.readLoop(ctx)
	}
}

// connect establishes the WebSocket connection
func (c *Client) connect(ctx context.Context) error {
	c.logger.Info("connecting to collector", "url", c.cfg.URL)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("connected to collector")

	go c.pingLoop(ctx, conn)

	return nil
}

// pingLoop sends periodic pings until the connection changes
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn
			c.mu.Unlock()
			if current != conn {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// readLoop reads messages from the collector
func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("read error", "error", err)
			c.closeConnection()
			return
		}

		c.messagesReceived.Add(1)
		c.handleMessage(data)
	}
}

// handleMessage dispatches one incoming command
func (c *Client) handleMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.logger.Warn("parse message error", "error", err)
		return
	}

	c.mu.Lock()
	resetCb := c.onReset
	cornerCb := c.onMarkCorner
	wifiCb := c.onWiFi
	statsCb := c.onGetStats
	c.mu.Unlock()

	switch msg.Type {
	case protocol.TypeReset:
		if resetCb != nil {
			resetCb()
		}

	case protocol.TypeMarkCorner:
		if cornerCb != nil {
			cornerCb()
		}

	case protocol.TypeWiFi:
		cmd, err := msg.GetWiFiCommand()
		if err != nil {
			c.replyError(msg.Type, err)
			return
		}
		if wifiCb != nil {
			wifiCb(*cmd)
		}

	case protocol.TypeGetStats:
		if statsCb == nil {
			return
		}
		reply, err := protocol.NewMessage(protocol.TypeStats, statsCb())
		if err == nil {
			c.SendMessage(reply)
		}

	case protocol.TypePing:
		// Respond with pong
		pong := &protocol.Message{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()}
		c.SendMessage(pong)

	default:
		c.logger.Debug("ignoring uplink message", "type", msg.Type)
	}
}

func (c *Client) replyError(command protocol.MessageType, err error) {
	reply, mErr := protocol.NewErrorMessage(command, err)
	if mErr != nil {
		return
	}
	c.SendMessage(reply)
}

// SendMessage sends a message to the collector
func (c *Client) SendMessage(msg *protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("send error", "error", err)
		c.closeConnection()
		return fmt.Errorf("write: %w", err)
	}

	c.messagesSent.Add(1)
	return nil
}

// SendSnapshot sends one session update
func (c *Client) SendSnapshot(u session.Update) error {
	msg, err := protocol.NewSnapshotMessage(u.SessionID, u.Snapshot, u.CornerCount)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// SendCorner announces a new corner
func (c *Client) SendCorner(sessionID string, corner room.Point, count int) error {
	msg, err := protocol.NewCornerMessage(sessionID, corner, count)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// SendLayout sends the full layout
func (c *Client) SendLayout(sessionID string, l room.Layout) error {
	msg, err := protocol.NewLayoutMessage(sessionID, l)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// Forward streams sess to the collector until ctx is done. Snapshots are
// sent at most once per SendInterval; corners go out immediately along
// with the updated layout. Anything produced while disconnected is dropped.
func (c *Client) Forward(ctx context.Context, sess *session.Session) {
	updates := sess.Subscribe()
	defer sess.Unsubscribe(updates)

	c.forward(ctx, sess, updates)
}

func (c *Client) forward(ctx context.Context, sess *session.Session, updates <-chan session.Update) {
	ticker := time.NewTicker(c.cfg.SendInterval)
	defer ticker.Stop()

	var pending session.Update
	hasPending := false
	current := sess.Latest()
	sessionID, corners := current.SessionID, current.CornerCount

	for {
		select {
		case <-ctx.Done():
			return

		case u, ok := <-updates:
			if !ok {
				return
			}
			pending, hasPending = u, true

			// updates may be dropped, so compare counts rather than trust NewCorner
			grew := u.CornerCount > corners
			if u.SessionID != sessionID {
				grew = u.CornerCount > 0
			}
			sessionID, corners = u.SessionID, u.CornerCount
			if grew {
				c.forwardCorner(sess, u)
			}

		case <-ticker.C:
			if !hasPending {
				continue
			}
			hasPending = false
			if err := c.SendSnapshot(pending); err != nil {
				c.messagesDropped.Add(1)
				c.logger.Debug("snapshot not forwarded", "error", err)
			}
		}
	}
}

func (c *Client) forwardCorner(sess *session.Session, u session.Update) {
	layout := sess.Layout()
	if len(layout.Corners) == 0 {
		return
	}
	corner := layout.Corners[len(layout.Corners)-1]

	if err := c.SendCorner(u.SessionID, corner, len(layout.Corners)); err != nil {
		c.messagesDropped.Add(1)
		c.logger.Debug("corner not forwarded", "error", err)
		return
	}
	if err := c.SendLayout(u.SessionID, layout); err != nil {
		c.messagesDropped.Add(1)
		c.logger.Debug("layout not forwarded", "error", err)
	}
}

// closeConnection closes the WebSocket connection
func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close shuts down the client
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.closeConnection()
	return nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats returns client statistics
type Stats struct {
	Connected        bool   `json:"connected"`
	URL              string `json:"url"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesDropped  uint64 `json:"messages_dropped"`
	Reconnects       uint64 `json:"reconnects"`
}

// GetStats returns client statistics
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	return Stats{
		Connected:        connected,
		URL:              c.cfg.URL,
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		MessagesDropped:  c.messagesDropped.Load(),
		Reconnects:       c.reconnects.Load(),
	}
}
