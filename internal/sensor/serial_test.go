package sensor

import (
	"io"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"
)

func TestSerialConfig_Mode(t *testing.T) {
	mode, err := SerialConfig{}.Mode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mode.BaudRate != 115200 {
		t.Errorf("expected default baud 115200, got %d", mode.BaudRate)
	}
	if mode.DataBits != 8 {
		t.Errorf("expected 8 data bits, got %d", mode.DataBits)
	}
	if mode.Parity != serial.NoParity {
		t.Errorf("expected no parity, got %v", mode.Parity)
	}
	if mode.StopBits != serial.OneStopBit {
		t.Errorf("expected one stop bit, got %v", mode.StopBits)
	}

	mode, err = SerialConfig{BaudRate: 9600, StopBits: 2, Parity: "even"}.Mode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mode.StopBits != serial.TwoStopBits || mode.Parity != serial.EvenParity {
		t.Errorf("unexpected mode: %+v", mode)
	}
}

func TestSerialConfig_ModeInvalid(t *testing.T) {
	tests := []SerialConfig{
		{DataBits: 9},
		{StopBits: 3},
		{Parity: "mark"},
	}
	for _, cfg := range tests {
		if _, err := cfg.Mode(); err == nil {
			t.Errorf("expected error for %+v", cfg)
		}
	}
}

func TestOpenSerial_NoPort(t *testing.T) {
	if _, err := OpenSerial(SerialConfig{}, Capabilities{}, nil); err == nil {
		t.Error("expected error with no port configured")
	}
}

func TestSerialSource_Lines(t *testing.T) {
	r, w := io.Pipe()
	source := NewSerialSource(r, Capabilities{Accelerometer: true, Compass: true}, nil)
	defer source.Close()

	var mu sync.Mutex
	var got []Event
	received := make(chan struct{}, 10)
	err := source.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		received <- struct{}{}
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	go func() {
		_, _ = io.WriteString(w, "acc,1000,0,0,9.8\n")
		_, _ = io.WriteString(w, "garbage\n")
		_, _ = io.WriteString(w, "azi,1100,45\n")
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0].Kind != KindAcceleration || got[1].Kind != KindAzimuth {
		t.Fatalf("unexpected events: %+v", got)
	}
	if d := got[1].Timestamp.Sub(got[0].Timestamp); d != 100*time.Millisecond {
		t.Errorf("expected 100ms between events, got %v", d)
	}

	stats := source.Stats()
	if stats["bad_lines"].(int64) != 1 {
		t.Errorf("expected 1 bad line, got %v", stats["bad_lines"])
	}
}

func TestSerialSource_CloseStopsReader(t *testing.T) {
	r, _ := io.Pipe()
	source := NewSerialSource(r, Capabilities{Accelerometer: true}, nil)

	if err := source.Subscribe(func(Event) {}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if !source.Healthy() {
		t.Error("expected healthy while reading")
	}

	if err := source.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if source.Healthy() {
		t.Error("expected unhealthy after close")
	}
	if err := source.Subscribe(func(Event) {}); err == nil {
		t.Error("expected subscribe after close to fail")
	}
}

func TestSerialSource_Resubscribe(t *testing.T) {
	r, w := io.Pipe()
	source := NewSerialSource(r, Capabilities{Accelerometer: true}, nil)
	defer source.Close()

	first := make(chan Event, 10)
	if err := source.Subscribe(func(ev Event) { first <- ev }); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := source.Subscribe(func(Event) {}); err == nil {
		t.Error("expected second subscribe to fail while subscribed")
	}

	go func() { _, _ = io.WriteString(w, "step,1000\n") }()
	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first event")
	}

	source.Unsubscribe()

	second := make(chan Event, 10)
	if err := source.Subscribe(func(ev Event) { second <- ev }); err != nil {
		t.Fatalf("resubscribe failed: %v", err)
	}

	go func() {
		_, _ = io.WriteString(w, "acc,1100,0,0,9.8\n")
		_, _ = io.WriteString(w, "azi,1200,90\n")
	}()

	for _, want := range []Kind{KindAcceleration, KindAzimuth} {
		select {
		case ev := <-second:
			if ev.Kind != want {
				t.Errorf("expected %s, got %s", want, ev.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	select {
	case ev := <-first:
		t.Errorf("unsubscribed handler received %+v", ev)
	default:
	}
	if lines := source.Stats()["lines"].(int64); lines != 3 {
		t.Errorf("expected 3 lines read, got %d", lines)
	}
}

func TestNewSourceWithFallback(t *testing.T) {
	source := NewSourceWithFallback(Config{Driver: "serial"}, nil)
	defer source.Close()

	if source.Name() != "mock" {
		t.Errorf("expected fallback to mock, got %s", source.Name())
	}

	if _, err := NewSource(Config{Driver: "bluetooth"}, nil); err == nil {
		t.Error("expected error for unknown driver")
	}
}
