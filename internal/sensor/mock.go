package sensor

import (
	"errors"
	"math"
	"sync"
	"time"
)

const (
	gravity      = 9.81
	mockStepGap  = 500 * time.Millisecond // two steps per second
	mockBumpLen  = 60 * time.Millisecond
	mockBump     = 10.0 // vertical impact on each step, m/s²
	mockLegSteps = 30   // steps before each 90° turn
)

// MockSource is a simulated sensor source for testing and development.
// With simulation enabled it walks a square: steady steps with a vertical
// impact per step, turning 90° every mockLegSteps steps. Events can also be
// injected with Emit.
type MockSource struct {
	mu       sync.Mutex
	deliver  sync.Mutex // serializes handler calls
	handler  Handler
	healthy  bool
	caps     Capabilities
	simulate bool
	rate     time.Duration
	stop     chan struct{}
	done     chan struct{}
	emitted  int
}

// NewMockSource creates a mock that only delivers injected events
func NewMockSource() *MockSource {
	return &MockSource{
		healthy: true,
		caps: Capabilities{
			Accelerometer: true,
			Compass:       true,
			StepDetector:  true,
		},
		rate: 20 * time.Millisecond,
	}
}

// NewMockWalk creates a mock that simulates walking a square at the given
// accelerometer interval (0 means 20ms)
func NewMockWalk(rate time.Duration) *MockSource {
	m := NewMockSource()
	m.simulate = true
	if rate > 0 {
		m.rate = rate
	}
	return m
}

// Subscribe starts delivery to h
func (m *MockSource) Subscribe(h Handler) error {
	if h == nil {
		return errors.New("nil handler")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handler != nil {
		return errors.New("mock source already subscribed")
	}
	m.handler = h

	if m.simulate {
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.walk(m.stop, m.done)
	}
	return nil
}

// Unsubscribe stops delivery
func (m *MockSource) Unsubscribe() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.handler = nil
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Emit delivers one event synchronously. It returns false when nobody is
// subscribed.
func (m *MockSource) Emit(ev Event) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	m.deliver.Lock()
	defer m.deliver.Unlock()
	h(ev)

	m.mu.Lock()
	m.emitted++
	m.mu.Unlock()
	return true
}

// walk emits the simulated square walk until stop is closed
func (m *MockSource) walk(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.rate)
	defer ticker.Stop()

	start := time.Now()
	var lastAzimuth time.Time
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			for _, ev := range walkEvents(now.Sub(start), now) {
				m.Emit(ev)
			}
			if now.Sub(lastAzimuth) >= 100*time.Millisecond {
				lastAzimuth = now
				m.Emit(Event{
					Kind:      KindAzimuth,
					Values:    []float64{walkHeading(now.Sub(start))},
					Timestamp: now,
				})
			}
		}
	}
}

// walkEvents returns the accelerometer sample at elapsed time t, plus a
// step event at the start of each stride
func walkEvents(t time.Duration, now time.Time) []Event {
	phase := t % mockStepGap
	z := gravity
	if phase < mockBumpLen {
		z += mockBump
	}
	// slight lateral sway
	sway := 0.3 * math.Sin(2*math.Pi*float64(t)/float64(2*mockStepGap))

	events := []Event{{
		Kind:      KindAcceleration,
		Values:    []float64{sway, 0, z},
		Timestamp: now,
	}}
	if phase < 20*time.Millisecond {
		events = append(events, Event{Kind: KindStep, Timestamp: now})
	}
	return events
}

// walkHeading returns the simulated compass heading at elapsed time t
func walkHeading(t time.Duration) float64 {
	leg := int(t / (mockStepGap * mockLegSteps))
	return float64((leg * 90) % 360)
}

// Close stops simulation
func (m *MockSource) Close() error {
	m.Unsubscribe()
	return nil
}

// Healthy returns true if the source is operational
func (m *MockSource) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// Name returns the source type name
func (m *MockSource) Name() string {
	return "mock"
}

// Capabilities reports the mock's configured streams
func (m *MockSource) Capabilities() Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps
}

// SetCapabilities replaces the reported streams
func (m *MockSource) SetCapabilities(c Capabilities) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caps = c
}

// SetHealthy sets the mock health state
func (m *MockSource) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

// Emitted returns the number of events delivered
func (m *MockSource) Emitted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emitted
}
