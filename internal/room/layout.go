package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedRecord is returned by Decode when a required field is missing
var ErrMalformedRecord = errors.New("room: malformed layout record")

// WiFiReference is an access point observed during the walk, placed at an
// estimated position in the session frame. The fusion core treats it as
// opaque host data.
type WiFiReference struct {
	SSID              string `json:"ssid"`
	Strength          int    `json:"strength"` // dBm
	EstimatedPosition Point  `json:"estimatedPosition"`
}

// Layout is the room shape captured during one session
type Layout struct {
	Corners        []Point
	CreatedAt      time.Time
	WiFiReferences []WiFiReference
}

// Record is the flat persistence shape of a Layout
type Record struct {
	Timestamp      int64           `json:"timestamp"` // Unix milliseconds
	Corners        []Point         `json:"corners"`
	WiFiReferences []WiFiReference `json:"wifiReferences"`
}

// ToRecord flattens the layout for persistence
func (l Layout) ToRecord() Record {
	corners := l.Corners
	if corners == nil {
		corners = []Point{}
	}
	refs := l.WiFiReferences
	if refs == nil {
		refs = []WiFiReference{}
	}
	return Record{
		Timestamp:      l.CreatedAt.UnixMilli(),
		Corners:        corners,
		WiFiReferences: refs,
	}
}

// Layout expands a record back into a Layout
func (r Record) Layout() Layout {
	return Layout{
		Corners:        r.Corners,
		CreatedAt:      time.UnixMilli(r.Timestamp),
		WiFiReferences: r.WiFiReferences,
	}
}

// Encode serializes a layout to its JSON persistence record
func Encode(l Layout) ([]byte, error) {
	data, err := json.Marshal(l.ToRecord())
	if err != nil {
		return nil, fmt.Errorf("encode layout: %w", err)
	}
	return data, nil
}

// Decode parses a JSON persistence record. timestamp and corners are
// required; wifiReferences may be omitted.
func Decode(data []byte) (Layout, error) {
	var raw struct {
		Timestamp      *int64          `json:"timestamp"`
		Corners        *[]Point        `json:"corners"`
		WiFiReferences []WiFiReference `json:"wifiReferences"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Layout{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if raw.Timestamp == nil {
		return Layout{}, fmt.Errorf("%w: missing timestamp", ErrMalformedRecord)
	}
	if raw.Corners == nil {
		return Layout{}, fmt.Errorf("%w: missing corners", ErrMalformedRecord)
	}

	refs := raw.WiFiReferences
	if refs == nil {
		refs = []WiFiReference{}
	}

	return Record{
		Timestamp:      *raw.Timestamp,
		Corners:        *raw.Corners,
		WiFiReferences: refs,
	}.Layout(), nil
}
