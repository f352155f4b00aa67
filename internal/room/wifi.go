package room

import (
	"hash/fnv"
	"math"
)

// Signal-to-distance mapping used to place Wi-Fi references around the
// device. This is a rough linear heuristic, not a path-loss model.
const (
	nearSignalDBm  = -60.0
	signalRangeDBm = 40.0
	minRefDistance = 20.0
	maxRefDistance = 200.0
)

// EstimateDistance maps a signal strength in dBm to a display distance.
// -60 dBm maps to 20, -100 dBm to 200; results are clamped to that range.
func EstimateDistance(dBm float64) float64 {
	d := ((nearSignalDBm-dBm)/signalRangeDBm)*(maxRefDistance-minRefDistance) + minRefDistance
	return math.Max(minRefDistance, math.Min(maxRefDistance, d))
}

// ssidBearing derives a stable bearing in radians from the SSID so the same
// access point is always drawn in the same direction.
func ssidBearing(ssid string) float64 {
	h := fnv.New32a()
	h.Write([]byte(ssid))
	deg := h.Sum32() % 360
	return float64(deg) * math.Pi / 180
}

// PlaceReference estimates where an access point sits relative to device
func PlaceReference(ssid string, dBm int, device Point) WiFiReference {
	dist := EstimateDistance(float64(dBm))
	bearing := ssidBearing(ssid)
	return WiFiReference{
		SSID:     ssid,
		Strength: dBm,
		EstimatedPosition: Point{
			X: device.X + dist*math.Cos(bearing),
			Y: device.Y + dist*math.Sin(bearing),
		},
	}
}
