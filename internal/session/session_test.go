package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/teslashibe/go-pdr/internal/fusion"
	"github.com/teslashibe/go-pdr/internal/sensor"
)

func newTestSession(t *testing.T, mutate func(*fusion.Params), caps *sensor.Capabilities) (*Session, *sensor.MockSource) {
	t.Helper()

	p := fusion.DefaultParams()
	if mutate != nil {
		mutate(&p)
	}
	engine, err := fusion.NewEngine(p)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	source := sensor.NewMockSource()
	if caps != nil {
		source.SetCapabilities(*caps)
	}

	cfg := DefaultConfig()
	cfg.TrailSize = 5
	s, err := New(source, engine, cfg, slog.Default())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s, source
}

func accel(x, y, z float64, at time.Time) sensor.Event {
	return sensor.Event{Kind: sensor.KindAcceleration, Values: []float64{x, y, z}, Timestamp: at}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	engine, _ := fusion.NewEngine(fusion.DefaultParams())

	if _, err := New(nil, engine, DefaultConfig(), nil); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := New(sensor.NewMockSource(), nil, DefaultConfig(), nil); err == nil {
		t.Error("expected error for nil engine")
	}
}

func TestSession_InertWithoutAccelerometer(t *testing.T) {
	s, source := newTestSession(t, nil, &sensor.Capabilities{Compass: true})

	err := s.Start()
	if !errors.Is(err, fusion.ErrInitialization) {
		t.Fatalf("expected ErrInitialization, got %v", err)
	}

	if s.Latest().Active {
		t.Error("expected inert session")
	}
	if source.Emit(accel(0, 0, 9.8, time.Now())) {
		t.Error("inert session should not be subscribed")
	}
	if s.Stats().StartError == "" {
		t.Error("expected start error in stats")
	}
}

func TestSession_HardwareStrategyNeedsStepSource(t *testing.T) {
	hardware := func(p *fusion.Params) { p.StepStrategy = fusion.StepStrategyHardware }
	s, _ := newTestSession(t, hardware, &sensor.Capabilities{Accelerometer: true, Compass: true})

	if err := s.Start(); !errors.Is(err, fusion.ErrInitialization) {
		t.Fatalf("expected ErrInitialization, got %v", err)
	}
}

func TestSession_RunReturnsInitializationError(t *testing.T) {
	s, _ := newTestSession(t, nil, &sensor.Capabilities{})

	err := s.Run(context.Background())
	if !errors.Is(err, fusion.ErrInitialization) {
		t.Fatalf("expected ErrInitialization, got %v", err)
	}
	s.Stop()
}

func TestSession_ProcessesEvents(t *testing.T) {
	s, source := newTestSession(t, func(p *fusion.Params) { p.FilterAlpha = 0 }, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	base := time.Unix(0, 0)
	source.Emit(accel(0, 0, 0, base))
	source.Emit(accel(0, 15, 0, base.Add(50*time.Millisecond)))
	source.Emit(accel(0, 0, 0, base.Add(100*time.Millisecond)))

	latest := s.Latest()
	if !latest.Active {
		t.Error("expected active session")
	}
	if latest.Steps != 1 {
		t.Errorf("expected 1 step, got %d", latest.Steps)
	}
	if latest.Stage != fusion.StageClassification {
		t.Errorf("expected CLASSIFICATION, got %s", latest.Stage)
	}
	if latest.SessionID == "" {
		t.Error("expected session id")
	}

	stats := s.Stats()
	if stats.EventCount != 3 {
		t.Errorf("expected 3 events, got %d", stats.EventCount)
	}
	if stats.EventsByKind["acc"] != 3 {
		t.Errorf("expected 3 acc events, got %d", stats.EventsByKind["acc"])
	}
}

func TestSession_ErrorIsolation(t *testing.T) {
	s, source := newTestSession(t, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	base := time.Unix(0, 0)
	source.Emit(sensor.Event{Kind: sensor.KindAcceleration, Values: []float64{1, 2}, Timestamp: base})
	source.Emit(sensor.Event{Kind: sensor.KindAzimuth, Values: []float64{1, 2}, Timestamp: base})
	source.Emit(sensor.Event{Kind: "gyro", Timestamp: base})

	stats := s.Stats()
	if stats.ErrorCount != 3 {
		t.Errorf("expected 3 errors, got %d", stats.ErrorCount)
	}
	if stats.LastError == "" {
		t.Error("expected last error to be recorded")
	}

	// the session keeps going
	source.Emit(accel(0, 0, 9.8, base.Add(time.Second)))
	source.Emit(sensor.Event{Kind: sensor.KindAzimuth, Values: []float64{90}, Timestamp: base.Add(time.Second)})

	stats = s.Stats()
	if stats.EventCount != 2 {
		t.Errorf("expected 2 processed events, got %d", stats.EventCount)
	}
	if s.Latest().Heading <= 0 {
		t.Error("expected heading to move toward 90")
	}
}

func TestSession_StepRouting(t *testing.T) {
	hardware := func(p *fusion.Params) { p.StepStrategy = fusion.StepStrategyHardware }
	caps := &sensor.Capabilities{Accelerometer: true, StepDetector: true, StepCounter: true}
	s, source := newTestSession(t, hardware, caps)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	now := time.Now()
	source.Emit(sensor.Event{Kind: sensor.KindStepCount, Values: []float64{100}, Timestamp: now})
	source.Emit(sensor.Event{Kind: sensor.KindStep, Timestamp: now})
	source.Emit(sensor.Event{Kind: sensor.KindStepCount, Values: []float64{103}, Timestamp: now})
	source.Emit(sensor.Event{Kind: sensor.KindStep, Timestamp: now})

	// the counter wins; discrete events are ignored
	if got := s.Latest().Steps; got != 3 {
		t.Errorf("expected 3 steps, got %d", got)
	}
}

func TestSession_StepEventsWithoutCounter(t *testing.T) {
	hardware := func(p *fusion.Params) { p.StepStrategy = fusion.StepStrategyHardware }
	caps := &sensor.Capabilities{Accelerometer: true, StepDetector: true}
	s, source := newTestSession(t, hardware, caps)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	for i := 0; i < 4; i++ {
		source.Emit(sensor.Event{Kind: sensor.KindStep, Timestamp: time.Now()})
	}
	if got := s.Latest().Steps; got != 4 {
		t.Errorf("expected 4 steps, got %d", got)
	}
}

func TestSession_Trail(t *testing.T) {
	hardware := func(p *fusion.Params) { p.StepStrategy = fusion.StepStrategyHardware }
	s, source := newTestSession(t, hardware, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	for i := 0; i < 10; i++ {
		source.Emit(sensor.Event{Kind: sensor.KindStep, Timestamp: time.Now()})
	}

	trail := s.Trail()
	if len(trail) != 5 {
		t.Fatalf("expected trail capped at 5, got %d", len(trail))
	}
	for i := 1; i < len(trail); i++ {
		if trail[i].X <= trail[i-1].X {
			t.Errorf("expected trail to advance east, got %v", trail)
			break
		}
	}
	if trail[len(trail)-1] != s.Engine().Position() {
		t.Error("expected last trail point to be the current position")
	}
}

func TestSession_Subscribe(t *testing.T) {
	s, source := newTestSession(t, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	source.Emit(accel(0, 0, 9.8, time.Now()))

	select {
	case u := <-ch:
		if u.Timestamp.IsZero() {
			t.Error("expected valid update")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for subscription update")
	}

	if s.Stats().SubscriberCount != 1 {
		t.Errorf("expected 1 subscriber, got %d", s.Stats().SubscriberCount)
	}
}

func TestSession_SlowSubscriberDoesNotBlock(t *testing.T) {
	s, source := newTestSession(t, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	base := time.Unix(0, 0)
	for i := 0; i < 50; i++ {
		source.Emit(accel(0, 0, 9.8, base.Add(time.Duration(i)*time.Millisecond)))
	}

	if got := s.Stats().EventCount; got != 50 {
		t.Errorf("expected all 50 events processed, got %d", got)
	}
}

func TestSession_MarkCorner(t *testing.T) {
	s, source := newTestSession(t, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	source.Emit(accel(0, 0, 9.8, time.Now()))
	before := s.Latest().CornerCount

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	s.MarkCorner()

	latest := s.Latest()
	if latest.CornerCount != before+1 {
		t.Errorf("expected %d corners, got %d", before+1, latest.CornerCount)
	}
	select {
	case u := <-ch:
		if !u.NewCorner {
			t.Error("expected corner update")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for corner update")
	}
}

func TestSession_Reset(t *testing.T) {
	hardware := func(p *fusion.Params) { p.StepStrategy = fusion.StepStrategyHardware }
	s, source := newTestSession(t, hardware, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	for i := 0; i < 3; i++ {
		source.Emit(sensor.Event{Kind: sensor.KindStep, Timestamp: time.Now()})
	}
	s.ObserveWiFi("lab", -70)
	oldID := s.ID()

	s.Reset()

	latest := s.Latest()
	if latest.Steps != 0 {
		t.Errorf("expected 0 steps after reset, got %d", latest.Steps)
	}
	if !latest.Active {
		t.Error("expected session to stay active across reset")
	}
	if s.ID() == oldID {
		t.Error("expected a new session id after reset")
	}
	if len(s.Trail()) != 0 {
		t.Error("expected empty trail after reset")
	}
	if len(s.Layout().WiFiReferences) != 0 {
		t.Error("expected wifi references cleared")
	}

	// delivery continues
	source.Emit(sensor.Event{Kind: sensor.KindStep, Timestamp: time.Now()})
	if s.Latest().Steps != 1 {
		t.Errorf("expected 1 step after reset, got %d", s.Latest().Steps)
	}
}

func TestSession_ResetDuringSample(t *testing.T) {
	hardware := func(p *fusion.Params) { p.StepStrategy = fusion.StepStrategyHardware }
	s, _ := newTestSession(t, hardware, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	// A sample is ingested, a reset lands, then the sample is recorded
	epoch := s.currentEpoch()
	snap, err := s.engine.IngestStepEvent(time.Now())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if snap.Steps != 1 {
		t.Fatalf("expected 1 step before reset, got %d", snap.Steps)
	}

	s.Reset()
	newID := s.ID()
	s.record(sensor.KindStep, snap, epoch)

	latest := s.Latest()
	if latest.SessionID != newID {
		t.Errorf("expected session id %s, got %s", newID, latest.SessionID)
	}
	if latest.Steps != 0 {
		t.Errorf("expected stale snapshot to be discarded, got %d steps", latest.Steps)
	}
	if got := s.engine.Snapshot().Steps; got != latest.Steps {
		t.Errorf("session reports %d steps, engine %d", latest.Steps, got)
	}
	if len(s.Trail()) != 0 {
		t.Errorf("expected empty trail, got %v", s.Trail())
	}

	// Samples in the new epoch are published
	snap, err = s.engine.IngestStepEvent(time.Now())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	s.record(sensor.KindStep, snap, s.currentEpoch())
	if s.Latest().Steps != 1 {
		t.Errorf("expected 1 step after reset, got %d", s.Latest().Steps)
	}
}

func TestSession_RunStop(t *testing.T) {
	s, source := newTestSession(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !s.Latest().Active {
		if time.Now().After(deadline) {
			t.Fatal("session did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	source.Emit(accel(0, 0, 9.8, time.Now()))
	if s.Stats().EventCount != 1 {
		t.Errorf("expected 1 event, got %d", s.Stats().EventCount)
	}

	s.Stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not return after stop")
	}

	if s.Latest().Active {
		t.Error("expected inactive session after stop")
	}
	if source.Emit(accel(0, 0, 9.8, time.Now())) {
		t.Error("expected source to be unsubscribed after stop")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.TrailSize != 100 {
		t.Errorf("expected trail size 100, got %d", cfg.TrailSize)
	}
}
