// Package sensor delivers raw motion sensor events to the fusion session
package sensor

import (
	"fmt"
	"log/slog"
	"time"
)

// Kind identifies the sensor stream an event belongs to
type Kind string

const (
	KindAcceleration Kind = "acc"   // 3 values, m/s²
	KindAzimuth      Kind = "azi"   // 1 value, degrees
	KindStep         Kind = "step"  // no values, one detected step
	KindStepCount    Kind = "count" // 1 value, cumulative step counter
)

// Event is one sensor reading
type Event struct {
	Kind         Kind      `json:"kind"`
	Values       []float64 `json:"values"`
	DeviceMillis int64     `json:"device_ms,omitempty"` // device clock, if any
	Timestamp    time.Time `json:"timestamp"`
}

// Capabilities lists which streams a source can deliver
type Capabilities struct {
	Accelerometer bool `json:"accelerometer"`
	Compass       bool `json:"compass"`
	StepDetector  bool `json:"step_detector"`
	StepCounter   bool `json:"step_counter"`
}

// HasStepSource returns true if the source reports hardware steps in any form
func (c Capabilities) HasStepSource() bool {
	return c.StepDetector || c.StepCounter
}

// Handler receives events. A source never invokes its handler concurrently.
type Handler func(Event)

// Source provides sensor events from hardware or a simulation
type Source interface {
	// Subscribe starts delivery to h. Only one handler is active at a time.
	Subscribe(h Handler) error

	// Unsubscribe stops delivery; it is safe to call more than once
	Unsubscribe()

	// Capabilities reports which streams are available
	Capabilities() Capabilities

	// Healthy returns true if the source is operational
	Healthy() bool

	// Name returns the source type name
	Name() string

	// Close releases hardware resources
	Close() error
}

// Config selects and configures a source
type Config struct {
	Driver       string        // "serial" or "mock"
	Serial       SerialConfig  // port settings for the serial driver
	Capabilities Capabilities  // streams the serial bridge sends
	MockRate     time.Duration // simulated accelerometer interval
}

// NewSource creates the configured source
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case "mock":
		return NewMockWalk(cfg.MockRate), nil
	case "serial":
		return OpenSerial(cfg.Serial, cfg.Capabilities, logger)
	default:
		return nil, fmt.Errorf("unknown sensor driver %q", cfg.Driver)
	}
}

// NewSourceWithFallback creates the configured source, falling back to a
// simulated walk when hardware is unavailable. Use this for development.
func NewSourceWithFallback(cfg Config, logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.Default()
	}

	source, err := NewSource(cfg, logger)
	if err == nil {
		return source
	}

	logger.Warn("sensor source unavailable, using simulated walk",
		"driver", cfg.Driver,
		"error", err,
	)
	return NewMockWalk(cfg.MockRate)
}
