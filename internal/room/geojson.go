package room

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// GeoJSON renders the layout as a FeatureCollection: the corner polyline as
// a LineString and each Wi-Fi reference as a Point. Coordinates are the
// session's local meters, not WGS84.
func GeoJSON(l Layout) ([]byte, error) {
	fc := geojson.NewFeatureCollection()

	line := make(orb.LineString, 0, len(l.Corners))
	for _, c := range l.Corners {
		line = append(line, c.Orb())
	}
	outline := geojson.NewFeature(line)
	outline.Properties["kind"] = "outline"
	outline.Properties["corners"] = len(l.Corners)
	outline.Properties["timestamp"] = l.CreatedAt.UnixMilli()
	fc.Append(outline)

	for _, ref := range l.WiFiReferences {
		f := geojson.NewFeature(ref.EstimatedPosition.Orb())
		f.Properties["kind"] = "wifi"
		f.Properties["ssid"] = ref.SSID
		f.Properties["strength"] = ref.Strength
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal geojson: %w", err)
	}
	return data, nil
}
