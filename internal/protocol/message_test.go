package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-pdr/internal/fusion"
	"github.com/teslashibe/go-pdr/internal/room"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(TypeCorner, CornerData{Count: 2})
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	if msg.Type != TypeCorner {
		t.Errorf("Type = %v, want %v", msg.Type, TypeCorner)
	}

	if msg.Timestamp == 0 {
		t.Error("Timestamp should be set")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	snap := fusion.Snapshot{
		Steps:        12,
		Distance:     9,
		FitnessLevel: fusion.FitnessBeginner,
		Stage:        fusion.StageClassification,
		Heading:      300,
		Position:     fusion.Position{X: 1.5, Y: -2},
		Timestamp:    time.UnixMilli(1700000000000),
	}

	msg, err := NewSnapshotMessage("abc", snap, 3)
	if err != nil {
		t.Fatalf("NewSnapshotMessage() error = %v", err)
	}

	bytes, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	parsed, err := ParseMessage(bytes)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	if parsed.Type != TypeSnapshot {
		t.Errorf("Type = %v, want %v", parsed.Type, TypeSnapshot)
	}

	data, err := parsed.GetSnapshot()
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}

	if data.Steps != 12 {
		t.Errorf("Steps = %v, want 12", data.Steps)
	}
	if data.Position.X != 1.5 {
		t.Errorf("Position.X = %v, want 1.5", data.Position.X)
	}
	if data.ScreenHeading != 30 {
		t.Errorf("ScreenHeading = %v, want 30", data.ScreenHeading)
	}
	if data.SessionID != "abc" || data.CornerCount != 3 {
		t.Errorf("session context lost: %+v", data)
	}
}

func TestSnapshotJSONFormat(t *testing.T) {
	msg, _ := NewSnapshotMessage("abc", fusion.Snapshot{Stage: fusion.StagePreprocessing}, 0)
	bytes, _ := msg.Bytes()

	var parsed map[string]interface{}
	if err := json.Unmarshal(bytes, &parsed); err != nil {
		t.Fatalf("JSON unmarshal failed: %v", err)
	}

	data := parsed["data"].(map[string]interface{})
	for _, key := range []string{"steps", "distance", "pace", "calories", "fitness_level", "stage", "heading", "position", "session_id"} {
		if _, ok := data[key]; !ok {
			t.Errorf("missing key %q in snapshot data", key)
		}
	}
	if data["stage"] != "PREPROCESSING" {
		t.Errorf("stage = %v, want PREPROCESSING", data["stage"])
	}
}

func TestNewLayoutMessage(t *testing.T) {
	l := room.Layout{
		Corners:   []room.Point{{X: 0, Y: 0}, {X: 25, Y: 0}},
		CreatedAt: time.UnixMilli(1700000000000),
	}

	msg, err := NewLayoutMessage("abc", l)
	if err != nil {
		t.Fatalf("NewLayoutMessage() error = %v", err)
	}

	data, err := msg.GetLayout()
	if err != nil {
		t.Fatalf("GetLayout() error = %v", err)
	}

	if len(data.Layout.Corners) != 2 {
		t.Errorf("Corners = %v, want 2", len(data.Layout.Corners))
	}
	if data.Layout.Timestamp != 1700000000000 {
		t.Errorf("Timestamp = %v, want 1700000000000", data.Layout.Timestamp)
	}
	if data.Layout.WiFiReferences == nil {
		t.Error("WiFiReferences should encode as an empty array")
	}
}

func TestGetWiFiCommand(t *testing.T) {
	msg, _ := ParseMessage([]byte(`{"type":"wifi","data":{"ssid":"lab","strength":-72}}`))

	cmd, err := msg.GetWiFiCommand()
	if err != nil {
		t.Fatalf("GetWiFiCommand() error = %v", err)
	}
	if cmd.SSID != "lab" || cmd.Strength != -72 {
		t.Errorf("unexpected command %+v", cmd)
	}

	msg, _ = ParseMessage([]byte(`{"type":"wifi","data":{"strength":-72}}`))
	if _, err := msg.GetWiFiCommand(); err == nil {
		t.Error("GetWiFiCommand should fail without ssid")
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(TypeWiFi, errors.New("boom"))
	if err != nil {
		t.Fatalf("NewErrorMessage() error = %v", err)
	}

	var data ErrorData
	if err := msg.ParseData(&data); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if data.Command != TypeWiFi || data.Message != "boom" {
		t.Errorf("unexpected error data %+v", data)
	}
}

func TestParseInvalidMessage(t *testing.T) {
	_, err := ParseMessage([]byte("not json"))
	if err == nil {
		t.Error("ParseMessage should fail for invalid JSON")
	}

	_, err = ParseMessage([]byte(`{"data":{}}`))
	if err == nil {
		t.Error("ParseMessage should fail without a type")
	}
}

func TestMessageJSONFormat(t *testing.T) {
	msg, _ := NewMessage(TypePing, nil)
	bytes, _ := msg.Bytes()

	var parsed map[string]interface{}
	if err := json.Unmarshal(bytes, &parsed); err != nil {
		t.Fatalf("JSON unmarshal failed: %v", err)
	}

	if parsed["type"] != "ping" {
		t.Errorf("type = %v, want ping", parsed["type"])
	}
	if _, ok := parsed["data"]; ok {
		t.Error("ping should carry no data")
	}
}
