// Package session runs one dead-reckoning session: it feeds sensor events
// into a fusion engine and fans the results out to subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-pdr/internal/fusion"
	"github.com/teslashibe/go-pdr/internal/room"
	"github.com/teslashibe/go-pdr/internal/sensor"
)

// Config configures a session
type Config struct {
	TrailSize     int           // positions kept for the live trail
	StatsInterval time.Duration // periodic stats log, 0 disables
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		TrailSize:     100,
		StatsInterval: time.Minute,
	}
}

// Update is one processed sample as seen by subscribers
type Update struct {
	fusion.Snapshot

	SessionID   string `json:"session_id"`
	Active      bool   `json:"active"`
	CornerCount int    `json:"corner_count"`
	NewCorner   bool   `json:"new_corner"` // a corner was added by this sample
}

// Session owns one fusion engine and the sensor source feeding it
type Session struct {
	source sensor.Source
	engine *fusion.Engine
	cfg    Config
	logger *slog.Logger

	// step input routing for the hardware strategy
	useStepCounter bool
	useStepEvents  bool

	mu       sync.RWMutex
	id       string
	active   bool
	latest   Update
	trail    []fusion.Position
	startErr error
	epoch    uint64 // bumped by Reset

	// Metrics
	eventCount   int64
	errorCount   int64
	lastError    string
	lastErrorAt  time.Time
	eventsByKind map[sensor.Kind]int64

	// Lifecycle
	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// Subscribers for real-time updates
	subsMu sync.RWMutex
	subs   map[chan Update]struct{}
}

// New creates a session. The session is inert until Start or Run.
func New(source sensor.Source, engine *fusion.Engine, cfg Config, logger *slog.Logger) (*Session, error) {
	if source == nil {
		return nil, errors.New("session: nil sensor source")
	}
	if engine == nil {
		return nil, errors.New("session: nil engine")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TrailSize <= 0 {
		cfg.TrailSize = DefaultConfig().TrailSize
	}

	s := &Session{
		source:       source,
		engine:       engine,
		cfg:          cfg,
		logger:       logger,
		id:           uuid.New().String(),
		trail:        make([]fusion.Position, 0, cfg.TrailSize),
		eventsByKind: make(map[sensor.Kind]int64),
		subs:         make(map[chan Update]struct{}),
	}
	s.latest = s.update(engine.Snapshot(), false)
	return s, nil
}

// Start checks the source's capabilities and subscribes to it. When a
// required sensor is missing it returns ErrInitialization and the session
// stays inert.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return nil
	}

	caps := s.source.Capabilities()
	if err := s.checkCapabilities(caps); err != nil {
		s.startErr = err
		s.logger.Error("session cannot start",
			"source", s.source.Name(),
			"error", err,
		)
		return err
	}

	// A counter is preferred over discrete events so steps are never counted twice
	hardware := s.engine.StepStrategy() == fusion.StepStrategyHardware
	s.useStepCounter = hardware && caps.StepCounter
	s.useStepEvents = hardware && !caps.StepCounter && caps.StepDetector

	if err := s.source.Subscribe(s.handle); err != nil {
		s.startErr = fmt.Errorf("%w: subscribe to %s: %v", fusion.ErrInitialization, s.source.Name(), err)
		return s.startErr
	}

	s.active = true
	s.startErr = nil
	s.latest.Active = true
	s.logger.Info("session started",
		"session_id", s.id,
		"source", s.source.Name(),
		"step_strategy", s.engine.StepStrategy(),
		"position_strategy", s.engine.PositionStrategy(),
	)
	return nil
}

func (s *Session) checkCapabilities(caps sensor.Capabilities) error {
	if !caps.Accelerometer {
		return fmt.Errorf("%w: %s has no accelerometer", fusion.ErrInitialization, s.source.Name())
	}
	if s.engine.StepStrategy() == fusion.StepStrategyHardware && !caps.HasStepSource() {
		return fmt.Errorf("%w: %s has no step sensor for the hardware step strategy",
			fusion.ErrInitialization, s.source.Name())
	}
	return nil
}

// Run starts the session and blocks until ctx is cancelled
func (s *Session) Run(ctx context.Context) error {
	s.lifeMu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	done := s.done
	s.lifeMu.Unlock()
	defer close(done)

	if err := s.Start(); err != nil {
		return err
	}
	defer s.source.Unsubscribe()

	var tick <-chan time.Time
	if s.cfg.StatsInterval > 0 {
		ticker := time.NewTicker(s.cfg.StatsInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.active = false
			s.latest.Active = false
			s.mu.Unlock()

			stats := s.Stats()
			s.logger.Info("session stopped",
				"session_id", stats.SessionID,
				"events", stats.EventCount,
				"errors", stats.ErrorCount,
			)
			return ctx.Err()
		case <-tick:
			stats := s.Stats()
			s.logger.Info("session stats",
				"session_id", stats.SessionID,
				"events", stats.EventCount,
				"errors", stats.ErrorCount,
				"steps", stats.Steps,
				"corners", stats.CornerCount,
			)
		}
	}
}

// handle is the source callback; the source never calls it concurrently
func (s *Session) handle(ev sensor.Event) {
	var (
		snap fusion.Snapshot
		err  error
	)
	epoch := s.currentEpoch()

	switch ev.Kind {
	case sensor.KindAcceleration:
		snap, err = s.engine.IngestAccelerationAxes(ev.Values, ev.Timestamp)
	case sensor.KindAzimuth:
		if len(ev.Values) != 1 {
			err = fmt.Errorf("%w: azimuth expects 1 value, got %d", fusion.ErrInvalidInput, len(ev.Values))
			break
		}
		snap, err = s.engine.IngestAzimuth(ev.Values[0], ev.Timestamp)
	case sensor.KindStep:
		if !s.useStepEvents {
			return
		}
		snap, err = s.engine.IngestStepEvent(ev.Timestamp)
	case sensor.KindStepCount:
		if !s.useStepCounter {
			return
		}
		if len(ev.Values) != 1 {
			err = fmt.Errorf("%w: step count expects 1 value, got %d", fusion.ErrInvalidInput, len(ev.Values))
			break
		}
		snap, err = s.engine.IngestHardwareStepCount(int64(ev.Values[0]), ev.Timestamp)
	default:
		err = fmt.Errorf("%w: unknown event kind %q", fusion.ErrInvalidInput, ev.Kind)
	}

	if err != nil {
		s.recordError(ev, err)
		return
	}
	s.record(ev.Kind, snap, epoch)
}

func (s *Session) currentEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

func (s *Session) recordError(ev sensor.Event, err error) {
	s.mu.Lock()
	s.errorCount++
	s.eventsByKind[ev.Kind]++
	s.lastError = err.Error()
	s.lastErrorAt = time.Now()
	s.mu.Unlock()

	s.logger.Warn("sensor event rejected",
		"kind", ev.Kind,
		"error", err,
	)
}

// record publishes a snapshot taken in the given epoch. A snapshot that
// straddles a Reset belongs to the previous session and is not published.
func (s *Session) record(kind sensor.Kind, snap fusion.Snapshot, epoch uint64) {
	s.mu.Lock()

	s.eventCount++
	s.eventsByKind[kind]++

	if epoch != s.epoch {
		s.mu.Unlock()
		s.logger.Debug("snapshot from before reset discarded", "kind", kind)
		return
	}

	prevCorners := s.latest.CornerCount
	update := s.update(snap, s.active)
	update.NewCorner = update.CornerCount > prevCorners
	s.latest = update
	s.appendTrail(snap.Position)

	eventCount := s.eventCount
	s.mu.Unlock()

	s.notifySubscribers(update)

	if update.NewCorner {
		s.logger.Info("corner added",
			"session_id", update.SessionID,
			"x", update.Position.X,
			"y", update.Position.Y,
			"corners", update.CornerCount,
		)
	}
	if eventCount%500 == 0 {
		s.logger.Debug("session progress",
			"steps", update.Steps,
			"distance", update.Distance,
			"heading", update.Heading,
			"stage", update.Stage,
		)
	}
}

// update wraps a snapshot with session context. Callers hold s.mu.
func (s *Session) update(snap fusion.Snapshot, active bool) Update {
	return Update{
		Snapshot:    snap,
		SessionID:   s.id,
		Active:      active,
		CornerCount: s.engine.CornerCount(),
	}
}

// appendTrail records a position when it differs from the last one
func (s *Session) appendTrail(p fusion.Position) {
	if n := len(s.trail); n > 0 && s.trail[n-1] == p {
		return
	}
	s.trail = append(s.trail, p)

	if len(s.trail) > s.cfg.TrailSize {
		// Shift instead of slice to avoid memory leak
		copy(s.trail, s.trail[1:])
		s.trail = s.trail[:s.cfg.TrailSize]
	}
}

func (s *Session) notifySubscribers(u Update) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for ch := range s.subs {
		select {
		case ch <- u:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe returns a channel that receives session updates
func (s *Session) Subscribe() chan Update {
	ch := make(chan Update, 10) // Buffer to avoid blocking

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber
func (s *Session) Unsubscribe(ch chan Update) {
	s.subsMu.Lock()
	if _, exists := s.subs[ch]; exists {
		delete(s.subs, ch)
		close(ch)
	}
	s.subsMu.Unlock()
}

// ID returns the current session id
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Engine returns the underlying fusion engine
func (s *Session) Engine() *fusion.Engine {
	return s.engine
}

// Latest returns the most recent update
func (s *Session) Latest() Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Trail returns a copy of the recent positions, oldest first
func (s *Session) Trail() []fusion.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]fusion.Position, len(s.trail))
	copy(out, s.trail)
	return out
}

// Layout returns the session's room layout
func (s *Session) Layout() room.Layout {
	return s.engine.Layout()
}

// MarkCorner records the current position as a corner
func (s *Session) MarkCorner() fusion.Position {
	pos := s.engine.MarkCorner()

	s.mu.Lock()
	s.latest.CornerCount = s.engine.CornerCount()
	s.latest.NewCorner = true
	update := s.latest
	s.mu.Unlock()

	s.notifySubscribers(update)
	s.logger.Info("corner marked",
		"session_id", update.SessionID,
		"x", pos.X,
		"y", pos.Y,
		"corners", update.CornerCount,
	)
	return pos
}

// ObserveWiFi attaches a Wi-Fi reference estimated from signal strength
func (s *Session) ObserveWiFi(ssid string, dBm int) room.WiFiReference {
	ref := s.engine.ObserveWiFi(ssid, dBm)
	s.logger.Debug("wifi reference added",
		"ssid", ssid,
		"strength", dBm,
		"x", ref.EstimatedPosition.X,
		"y", ref.EstimatedPosition.Y,
	)
	return ref
}

// Reset clears the engine and starts a new session id. Event delivery
// continues.
func (s *Session) Reset() {
	s.engine.Reset()

	s.mu.Lock()
	s.epoch++
	s.id = uuid.New().String()
	s.trail = s.trail[:0]
	s.latest = s.update(s.engine.Snapshot(), s.active)
	update := s.latest
	s.mu.Unlock()

	s.notifySubscribers(update)
	s.logger.Info("session reset", "session_id", update.SessionID)
}

// Stats returns session statistics
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKind := make(map[string]int64, len(s.eventsByKind))
	for k, v := range s.eventsByKind {
		byKind[string(k)] = v
	}

	startErr := ""
	if s.startErr != nil {
		startErr = s.startErr.Error()
	}

	s.subsMu.RLock()
	subCount := len(s.subs)
	s.subsMu.RUnlock()

	return Stats{
		SessionID:        s.id,
		Active:           s.active,
		StartError:       startErr,
		StartedAt:        s.engine.StartedAt(),
		EventCount:       s.eventCount,
		ErrorCount:       s.errorCount,
		EventsByKind:     byKind,
		LastError:        s.lastError,
		LastErrorAt:      s.lastErrorAt,
		TrailSize:        len(s.trail),
		SubscriberCount:  subCount,
		SourceName:       s.source.Name(),
		SourceHealthy:    s.source.Healthy(),
		StepStrategy:     s.engine.StepStrategy(),
		PositionStrategy: s.engine.PositionStrategy(),
		Steps:            s.latest.Steps,
		Distance:         s.latest.Distance,
		Heading:          s.latest.Heading,
		CornerCount:      s.latest.CornerCount,
	}
}

// Stats contains session statistics
type Stats struct {
	SessionID        string           `json:"session_id"`
	Active           bool             `json:"active"`
	StartError       string           `json:"start_error,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	EventCount       int64            `json:"event_count"`
	ErrorCount       int64            `json:"error_count"`
	EventsByKind     map[string]int64 `json:"events_by_kind"`
	LastError        string           `json:"last_error,omitempty"`
	LastErrorAt      time.Time        `json:"last_error_at,omitempty"`
	TrailSize        int              `json:"trail_size"`
	SubscriberCount  int              `json:"subscriber_count"`
	SourceName       string           `json:"source_name"`
	SourceHealthy    bool             `json:"source_healthy"`
	StepStrategy     string           `json:"step_strategy"`
	PositionStrategy string           `json:"position_strategy"`
	Steps            int              `json:"steps"`
	Distance         float64          `json:"distance"`
	Heading          float64          `json:"heading"`
	CornerCount      int              `json:"corner_count"`
}

// Stop stops the session gracefully
func (s *Session) Stop() {
	s.lifeMu.Lock()
	cancel, done := s.cancel, s.done
	s.lifeMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	} else {
		s.source.Unsubscribe()
	}

	s.mu.Lock()
	s.active = false
	s.latest.Active = false
	s.mu.Unlock()

	// Close all subscriber channels
	s.subsMu.Lock()
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.subsMu.Unlock()
}
