package sensor

import (
	"errors"
	"testing"
	"time"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		kind   Kind
		ms     int64
		values []float64
	}{
		{"acceleration", "acc,1200,0.1,-0.2,9.81", KindAcceleration, 1200, []float64{0.1, -0.2, 9.81}},
		{"acceleration with spaces", " acc, 5, 1, 2, 3 \r", KindAcceleration, 5, []float64{1, 2, 3}},
		{"two axes passes through", "acc,10,1,2", KindAcceleration, 10, []float64{1, 2}},
		{"azimuth", "azi,1300,271.5", KindAzimuth, 1300, []float64{271.5}},
		{"step", "step,1400", KindStep, 1400, nil},
		{"count", "count,1500,10234", KindStepCount, 1500, []float64{10234}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseLine(tt.line)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, ev.Kind)
			}
			if ev.DeviceMillis != tt.ms {
				t.Errorf("expected ms %d, got %d", tt.ms, ev.DeviceMillis)
			}
			if len(ev.Values) != len(tt.values) {
				t.Fatalf("expected %d values, got %v", len(tt.values), ev.Values)
			}
			for i := range tt.values {
				if ev.Values[i] != tt.values[i] {
					t.Errorf("value %d: expected %f, got %f", i, tt.values[i], ev.Values[i])
				}
			}
		})
	}
}

func TestParseLine_Malformed(t *testing.T) {
	lines := []string{
		"",
		"acc",
		"acc,abc,1,2,3",
		"acc,10,1,x,3",
		"azi,10",
		"azi,10,1,2",
		"step,10,1",
		"count,10,1.5",
		"count,10",
		"gyro,10,1,2,3",
	}

	for _, line := range lines {
		_, err := ParseLine(line)
		if err == nil {
			t.Errorf("expected error for %q", line)
			continue
		}
		if !errors.Is(err, ErrMalformedLine) {
			t.Errorf("expected ErrMalformedLine for %q, got %v", line, err)
		}
	}
}

func TestFormatLine_RoundTrip(t *testing.T) {
	lines := []string{
		"acc,1200,0.1,-0.2,9.81",
		"azi,1300,271.5",
		"step,1400",
		"count,1500,10234",
	}

	for _, line := range lines {
		ev, err := ParseLine(line)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := FormatLine(ev); got != line {
			t.Errorf("expected %q, got %q", line, got)
		}
	}
}

func TestDeviceClock(t *testing.T) {
	var c deviceClock
	now := time.Unix(1000, 0)

	first := c.At(5000, now)
	if !first.Equal(now) {
		t.Errorf("first reading should anchor at now, got %v", first)
	}

	second := c.At(5250, now.Add(time.Hour))
	if got := second.Sub(first); got != 250*time.Millisecond {
		t.Errorf("expected 250ms spacing from device clock, got %v", got)
	}

	// device reboot re-anchors
	later := now.Add(2 * time.Hour)
	third := c.At(10, later)
	if !third.Equal(later) {
		t.Errorf("expected re-anchor at %v, got %v", later, third)
	}
}
