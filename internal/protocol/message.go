// Package protocol defines the JSON envelope shared by the live stream and
// the collector uplink.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-pdr/internal/fusion"
	"github.com/teslashibe/go-pdr/internal/room"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Device → client messages
	TypeSnapshot MessageType = "snapshot" // Fusion snapshot
	TypeCorner   MessageType = "corner"   // Corner added
	TypeLayout   MessageType = "layout"   // Full room layout
	TypeStats    MessageType = "stats"    // Session statistics
	TypeError    MessageType = "error"    // Command failed

	// Client → device messages
	TypeReset      MessageType = "reset"       // Reset the session
	TypeMarkCorner MessageType = "mark_corner" // Mark current position as a corner
	TypeWiFi       MessageType = "wifi"        // Attach a Wi-Fi observation
	TypeGetStats   MessageType = "get_stats"   // Request statistics

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// SnapshotData is a fusion snapshot with session context
type SnapshotData struct {
	fusion.Snapshot

	SessionID     string  `json:"session_id"`
	ScreenHeading float64 `json:"screen_heading"`
	CornerCount   int     `json:"corner_count"`
}

// NewSnapshotMessage creates a snapshot message
func NewSnapshotMessage(sessionID string, snap fusion.Snapshot, cornerCount int) (*Message, error) {
	return NewMessage(TypeSnapshot, SnapshotData{
		Snapshot:      snap,
		SessionID:     sessionID,
		ScreenHeading: fusion.ScreenHeading(snap.Heading),
		CornerCount:   cornerCount,
	})
}

// GetSnapshot extracts snapshot data from a message
func (m *Message) GetSnapshot() (*SnapshotData, error) {
	var data SnapshotData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// CornerData announces a new corner
type CornerData struct {
	SessionID string     `json:"session_id"`
	Corner    room.Point `json:"corner"`
	Count     int        `json:"count"`
}

// NewCornerMessage creates a corner message
func NewCornerMessage(sessionID string, corner room.Point, count int) (*Message, error) {
	return NewMessage(TypeCorner, CornerData{
		SessionID: sessionID,
		Corner:    corner,
		Count:     count,
	})
}

// LayoutData carries a layout in its persistence record form
type LayoutData struct {
	SessionID string      `json:"session_id"`
	Layout    room.Record `json:"layout"`
}

// NewLayoutMessage creates a layout message
func NewLayoutMessage(sessionID string, l room.Layout) (*Message, error) {
	return NewMessage(TypeLayout, LayoutData{
		SessionID: sessionID,
		Layout:    l.ToRecord(),
	})
}

// GetLayout extracts layout data from a message
func (m *Message) GetLayout() (*LayoutData, error) {
	var data LayoutData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// WiFiCommand reports an access point seen at the current position
type WiFiCommand struct {
	SSID     string `json:"ssid"`
	Strength int    `json:"strength"` // dBm
}

// GetWiFiCommand extracts a Wi-Fi observation from a message
func (m *Message) GetWiFiCommand() (*WiFiCommand, error) {
	var data WiFiCommand
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.SSID == "" {
		return nil, fmt.Errorf("wifi command missing ssid")
	}
	return &data, nil
}

// ErrorData describes a failed command
type ErrorData struct {
	Command MessageType `json:"command,omitempty"`
	Message string      `json:"message"`
}

// NewErrorMessage creates an error reply
func NewErrorMessage(command MessageType, err error) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Command: command, Message: err.Error()})
}
