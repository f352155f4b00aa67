package sensor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedLine is returned for lines that do not follow the bridge
// protocol
var ErrMalformedLine = errors.New("malformed sensor line")

// ParseLine parses one line of the serial bridge protocol:
//
//	acc,<ms>,<x>,<y>,<z>
//	azi,<ms>,<degrees>
//	step,<ms>
//	count,<ms>,<n>
//
// The timestamp is device milliseconds and is returned in DeviceMillis.
// Accelerometer axis counts are not checked here.
func ParseLine(line string) (Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, fmt.Errorf("%w: empty line", ErrMalformedLine)
	}

	fields := strings.Split(line, ",")
	if len(fields) < 2 {
		return Event{}, fmt.Errorf("%w: %q: missing timestamp", ErrMalformedLine, line)
	}

	ms, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %q: bad timestamp: %v", ErrMalformedLine, line, err)
	}

	ev := Event{
		Kind:         Kind(strings.TrimSpace(fields[0])),
		DeviceMillis: ms,
	}
	args := fields[2:]

	switch ev.Kind {
	case KindAcceleration:
		ev.Values, err = parseFloats(args)
	case KindAzimuth:
		if len(args) != 1 {
			return Event{}, fmt.Errorf("%w: %q: azimuth takes 1 value, got %d", ErrMalformedLine, line, len(args))
		}
		ev.Values, err = parseFloats(args)
	case KindStep:
		if len(args) != 0 {
			return Event{}, fmt.Errorf("%w: %q: step takes no values", ErrMalformedLine, line)
		}
	case KindStepCount:
		if len(args) != 1 {
			return Event{}, fmt.Errorf("%w: %q: count takes 1 value, got %d", ErrMalformedLine, line, len(args))
		}
		var n int64
		n, err = strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
		ev.Values = []float64{float64(n)}
	default:
		return Event{}, fmt.Errorf("%w: %q: unknown kind %q", ErrMalformedLine, line, ev.Kind)
	}
	if err != nil {
		return Event{}, fmt.Errorf("%w: %q: %v", ErrMalformedLine, line, err)
	}
	return ev, nil
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// FormatLine renders an event in the bridge protocol
func FormatLine(ev Event) string {
	parts := []string{string(ev.Kind), strconv.FormatInt(ev.DeviceMillis, 10)}
	for _, v := range ev.Values {
		if ev.Kind == KindStepCount {
			parts = append(parts, strconv.FormatInt(int64(v), 10))
			continue
		}
		parts = append(parts, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return strings.Join(parts, ",")
}

// deviceClock maps device milliseconds onto wall time, anchored at the
// first reading.
type deviceClock struct {
	anchored bool
	offset   time.Time
	lastMs   int64
}

func (c *deviceClock) At(ms int64, now time.Time) time.Time {
	// re-anchor on the first reading and when the device reboots
	if !c.anchored || ms < c.lastMs {
		c.anchored = true
		c.offset = now.Add(-time.Duration(ms) * time.Millisecond)
	}
	c.lastMs = ms
	return c.offset.Add(time.Duration(ms) * time.Millisecond)
}
