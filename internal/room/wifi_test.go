package room

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateDistance(t *testing.T) {
	tests := []struct {
		dBm  float64
		want float64
	}{
		{dBm: -30, want: 20},
		{dBm: -60, want: 20},
		{dBm: -80, want: 110},
		{dBm: -100, want: 200},
		{dBm: -120, want: 200},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, EstimateDistance(tt.dBm), 1e-9, "dBm=%v", tt.dBm)
	}
}

func TestPlaceReference(t *testing.T) {
	device := Point{X: 5, Y: -5}

	ref := PlaceReference("office", -80, device)

	assert.Equal(t, "office", ref.SSID)
	assert.Equal(t, -80, ref.Strength)
	assert.InDelta(t, 110, device.DistanceTo(ref.EstimatedPosition), 1e-9)

	// same SSID, same bearing
	again := PlaceReference("office", -80, device)
	assert.Equal(t, ref.EstimatedPosition, again.EstimatedPosition)
}

func TestGeoJSON(t *testing.T) {
	l := Layout{
		Corners:   []Point{{X: 0, Y: 0}, {X: 25, Y: 0}, {X: 25, Y: 25}},
		CreatedAt: time.UnixMilli(1000),
		WiFiReferences: []WiFiReference{
			{SSID: "ap", Strength: -70, EstimatedPosition: Point{X: 3, Y: 4}},
		},
	}

	data, err := GeoJSON(l)
	require.NoError(t, err)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string          `json:"type"`
				Coordinates json.RawMessage `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &fc))

	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "LineString", fc.Features[0].Geometry.Type)
	assert.JSONEq(t, `[[0,0],[25,0],[25,25]]`, string(fc.Features[0].Geometry.Coordinates))
	assert.Equal(t, "Point", fc.Features[1].Geometry.Type)
	assert.Equal(t, "ap", fc.Features[1].Properties["ssid"])
}
