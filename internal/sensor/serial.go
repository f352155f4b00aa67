package sensor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// SerialConfig describes the IMU bridge port
type SerialConfig struct {
	Port     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // N, E or O
}

// Mode converts the config into a go.bug.st/serial mode, applying defaults
// for unset values.
func (c SerialConfig) Mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if mode.BaudRate <= 0 {
		mode.BaudRate = 115200
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	if mode.DataBits < 5 || mode.DataBits > 8 {
		return nil, fmt.Errorf("invalid data bits %d: must be between 5 and 8", mode.DataBits)
	}

	switch c.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", c.StopBits)
	}

	switch strings.ToUpper(strings.TrimSpace(c.Parity)) {
	case "", "N", "NONE":
		mode.Parity = serial.NoParity
	case "E", "EVEN":
		mode.Parity = serial.EvenParity
	case "O", "ODD":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q: expected N, E, or O", c.Parity)
	}
	return mode, nil
}

// SerialSource reads line-protocol events from an IMU bridge
type SerialSource struct {
	port   io.ReadCloser
	name   string
	caps   Capabilities
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	handler Handler
	done    chan struct{} // closed when the reader exits
	healthy atomic.Bool
	closed  atomic.Bool

	lines     atomic.Int64
	badLines  atomic.Int64
	lastError atomic.Value // string
}

// OpenSerial opens the configured serial port
func OpenSerial(cfg SerialConfig, caps Capabilities, logger *slog.Logger) (*SerialSource, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port not configured")
	}
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Port, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("serial IMU bridge opened",
		"port", cfg.Port,
		"baud", mode.BaudRate,
	)
	return NewSerialSource(port, caps, logger), nil
}

// NewSerialSource reads the line protocol from any reader. OpenSerial uses
// it with a real port; tests use a pipe.
func NewSerialSource(port io.ReadCloser, caps Capabilities, logger *slog.Logger) *SerialSource {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SerialSource{
		port:   port,
		name:   "serial",
		caps:   caps,
		logger: logger,
		now:    time.Now,
	}
	s.healthy.Store(true)
	return s
}

// Subscribe delivers parsed events to h. The port has a single reader for
// its lifetime, started by the first Subscribe; later subscriptions only
// swap the handler.
func (s *SerialSource) Subscribe(h Handler) error {
	if h == nil {
		return errors.New("nil handler")
	}
	if s.closed.Load() {
		return errors.New("serial source closed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		return errors.New("serial source already subscribed")
	}

	if s.done == nil {
		s.done = make(chan struct{})
		go s.monitor(s.done)
	} else {
		select {
		case <-s.done:
			return errors.New("serial reader stopped")
		default:
		}
	}
	s.handler = h
	return nil
}

func (s *SerialSource) currentHandler() Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// monitor scans the port until it closes. Lines read while nobody is
// subscribed are discarded.
func (s *SerialSource) monitor(done chan struct{}) {
	defer close(done)

	var clock deviceClock
	scan := bufio.NewScanner(s.port)
	for scan.Scan() {
		s.lines.Add(1)
		ev, err := ParseLine(scan.Text())
		if err != nil {
			s.badLines.Add(1)
			s.lastError.Store(err.Error())
			s.logger.Debug("skipping sensor line", "error", err)
			continue
		}
		ev.Timestamp = clock.At(ev.DeviceMillis, s.now())
		if h := s.currentHandler(); h != nil {
			h(ev)
		}
	}

	if err := scan.Err(); err != nil && !s.closed.Load() {
		s.lastError.Store(err.Error())
		s.logger.Error("serial read failed", "error", err)
	}
	s.healthy.Store(false)
}

// Unsubscribe stops event delivery. The reader keeps draining the port.
func (s *SerialSource) Unsubscribe() {
	s.mu.Lock()
	s.handler = nil
	s.mu.Unlock()
}

func (s *SerialSource) Capabilities() Capabilities { return s.caps }

func (s *SerialSource) Healthy() bool { return s.healthy.Load() && !s.closed.Load() }

func (s *SerialSource) Name() string { return s.name }

// Stats returns line counters
func (s *SerialSource) Stats() map[string]interface{} {
	lastErr, _ := s.lastError.Load().(string)
	return map[string]interface{}{
		"lines":      s.lines.Load(),
		"bad_lines":  s.badLines.Load(),
		"last_error": lastErr,
	}
}

// Close stops delivery and closes the port. The reader goroutine exits once
// the blocked read returns.
func (s *SerialSource) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.Unsubscribe()
	err := s.port.Close()

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-time.After(time.Second):
			s.logger.Warn("serial reader did not stop in time")
		}
	}
	return err
}
