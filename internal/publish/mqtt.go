// Package publish mirrors session snapshots and layouts to an MQTT broker
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-pdr/internal/fusion"
	"github.com/teslashibe/go-pdr/internal/protocol"
	"github.com/teslashibe/go-pdr/internal/room"
	"github.com/teslashibe/go-pdr/internal/session"
)

// Config configures the MQTT publisher
type Config struct {
	Broker          string        // e.g. tcp://localhost:1883
	ClientID        string        // MQTT client id
	Username        string        // optional
	Password        string        // optional
	TopicPrefix     string        // topics are <prefix>/snapshot and <prefix>/layout
	PublishInterval time.Duration // snapshot rate
	ConnectTimeout  time.Duration // connect and publish wait
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Broker:          "tcp://localhost:1883",
		ClientID:        "go-pdr",
		TopicPrefix:     "pdr",
		PublishInterval: time.Second,
		ConnectTimeout:  10 * time.Second,
	}
}

// Client is the subset of the paho client the publisher needs
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher sends session state to MQTT topics
type Publisher struct {
	cfg    Config
	client Client
	logger *slog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// Connect dials the broker and returns a publisher using it
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	cfg = withDefaults(cfg)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	return New(client, cfg, logger), nil
}

// New wraps an already connected client
func New(client Client, cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    withDefaults(cfg),
		client: client,
		logger: logger,
	}
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = d.ClientID
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = d.TopicPrefix
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = d.PublishInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = d.ConnectTimeout
	}
	return cfg
}

// SnapshotTopic returns the snapshot topic
func (p *Publisher) SnapshotTopic() string {
	return p.cfg.TopicPrefix + "/snapshot"
}

// LayoutTopic returns the retained layout topic
func (p *Publisher) LayoutTopic() string {
	return p.cfg.TopicPrefix + "/layout"
}

// PublishSnapshot publishes one update at QoS 0
func (p *Publisher) PublishSnapshot(u session.Update) error {
	payload, err := json.Marshal(protocol.SnapshotData{
		Snapshot:      u.Snapshot,
		SessionID:     u.SessionID,
		ScreenHeading: fusion.ScreenHeading(u.Heading),
		CornerCount:   u.CornerCount,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return p.publish(p.SnapshotTopic(), false, payload)
}

// PublishLayout publishes the layout record, retained
func (p *Publisher) PublishLayout(l room.Layout) error {
	payload, err := room.Encode(l)
	if err != nil {
		return fmt.Errorf("encode layout: %w", err)
	}
	return p.publish(p.LayoutTopic(), true, payload)
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(p.cfg.ConnectTimeout) {
		p.failed.Add(1)
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.published.Add(1)
	return nil
}

// Run publishes sess until ctx is done. The latest snapshot goes out once
// per PublishInterval. The layout is republished whenever a corner is added
// or the session is reset.
func (p *Publisher) Run(ctx context.Context, sess *session.Session) {
	updates := sess.Subscribe()
	defer sess.Unsubscribe(updates)

	ticker := time.NewTicker(p.cfg.PublishInterval)
	defer ticker.Stop()

	var latest session.Update
	hasLatest := false
	current := sess.Latest()
	sessionID, corners := current.SessionID, current.CornerCount

	p.logger.Info("mqtt publisher started",
		"broker", p.cfg.Broker,
		"snapshot_topic", p.SnapshotTopic(),
		"layout_topic", p.LayoutTopic(),
	)

	for {
		select {
		case <-ctx.Done():
			return

		case u, ok := <-updates:
			if !ok {
				return
			}
			latest, hasLatest = u, true

			// updates may be dropped, so compare counts rather than trust NewCorner
			if u.CornerCount != corners || u.SessionID != sessionID {
				sessionID, corners = u.SessionID, u.CornerCount
				if err := p.PublishLayout(sess.Layout()); err != nil {
					p.logger.Warn("layout publish failed", "error", err)
				}
			}

		case <-ticker.C:
			if !hasLatest || !p.client.IsConnected() {
				continue
			}
			hasLatest = false
			if err := p.PublishSnapshot(latest); err != nil {
				p.logger.Debug("snapshot publish failed", "error", err)
			}
		}
	}
}

// Connected reports whether the broker connection is up
func (p *Publisher) Connected() bool {
	return p.client.IsConnected()
}

// Stats contains publisher statistics
type Stats struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

// GetStats returns publisher statistics
func (p *Publisher) GetStats() Stats {
	return Stats{
		Connected: p.client.IsConnected(),
		Broker:    p.cfg.Broker,
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close disconnects from the broker
func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
