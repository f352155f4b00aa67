package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-pdr/internal/protocol"
	"github.com/teslashibe/go-pdr/internal/session"
)

// WSHub manages WebSocket connections and broadcasts session updates
type WSHub struct {
	session  *session.Session
	interval time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex // per-connection write lock

	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	done     chan struct{}
}

// NewWSHub creates a new WebSocket hub broadcasting at hz
func NewWSHub(sess *session.Session, hz int, logger *slog.Logger) *WSHub {
	if hz <= 0 {
		hz = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHub{
		session:  sess,
		interval: time.Second / time.Duration(hz),
		logger:   logger,
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run starts the broadcast loop. It returns when ctx is done or the hub
// is closed, and only one Run may be active per hub.
func (h *WSHub) Run(ctx context.Context) {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last session.Update

	h.logger.Info("websocket hub started", "interval", h.interval)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case <-h.stop:
			h.logger.Info("websocket hub stopped")
			return
		case <-ticker.C:
			if h.session == nil {
				continue
			}

			latest := h.session.Latest()
			if latest.Timestamp.Equal(last.Timestamp) && latest.SessionID == last.SessionID &&
				latest.CornerCount == last.CornerCount {
				continue
			}

			if msg, err := protocol.NewSnapshotMessage(latest.SessionID, latest.Snapshot, latest.CornerCount); err == nil {
				h.broadcast(msg)
			}

			// Immediate corner notification
			if latest.SessionID == last.SessionID && latest.CornerCount > last.CornerCount {
				h.broadcastCorner(latest)
			}
			last = latest
		}
	}
}

func (h *WSHub) broadcastCorner(u session.Update) {
	corners := h.session.Engine().Corners()
	if len(corners) == 0 {
		return
	}
	corner := corners[len(corners)-1]

	msg, err := protocol.NewCornerMessage(u.SessionID, corner, len(corners))
	if err != nil {
		return
	}
	h.broadcast(msg)

	h.logger.Debug("corner broadcast",
		"x", corner.X,
		"y", corner.Y,
		"count", len(corners),
	)
}

func (h *WSHub) broadcast(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, wmu := range h.clients {
		wmu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		wmu.Unlock()
		if err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	// Middleware to check if request is a WebSocket upgrade
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the session stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	// Keep connection alive, read for close or commands
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			// Connection closed
			break
		}

		reply, err := h.handleCommand(msg)
		if err != nil {
			h.logger.Warn("websocket reply error", "error", err)
			continue
		}
		if reply != nil {
			h.send(c, reply)
		}
	}
}

// handleCommand executes one client command and returns the reply, if any
func (h *WSHub) handleCommand(data []byte) (*protocol.Message, error) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return protocol.NewErrorMessage("", err)
	}

	if h.session == nil && msg.Type != protocol.TypePing {
		return nil, nil
	}

	switch msg.Type {
	case protocol.TypePing:
		return protocol.NewMessage(protocol.TypePong, nil)

	case protocol.TypeGetStats:
		return protocol.NewMessage(protocol.TypeStats, h.session.Stats())

	case protocol.TypeReset:
		h.session.Reset()
		return protocol.NewLayoutMessage(h.session.ID(), h.session.Layout())

	case protocol.TypeMarkCorner:
		corner := h.session.MarkCorner()
		return protocol.NewCornerMessage(h.session.ID(), corner, h.session.Engine().CornerCount())

	case protocol.TypeWiFi:
		cmd, err := msg.GetWiFiCommand()
		if err != nil {
			return protocol.NewErrorMessage(msg.Type, err)
		}
		h.session.ObserveWiFi(cmd.SSID, cmd.Strength)
		return protocol.NewLayoutMessage(h.session.ID(), h.session.Layout())

	default:
		h.logger.Debug("unknown websocket command", "type", msg.Type)
		return nil, nil
	}
}

// send writes one message to a single client
func (h *WSHub) send(c *websocket.Conn, msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		return
	}

	h.mu.RLock()
	wmu, ok := h.clients[c]
	h.mu.RUnlock()
	if !ok {
		return
	}

	wmu.Lock()
	defer wmu.Unlock()
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Debug("websocket write error", "error", err)
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
	if h.running.Load() {
		<-h.done
	}

	// Close all client connections
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()
}
