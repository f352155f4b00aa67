package fusion

import "math"

// ScreenOffset is added to a heading to orient it for portrait display
const ScreenOffset = 90.0

// HeadingEstimator smooths raw compass azimuths with a scalar Kalman filter.
// Each measurement is unwrapped against the current estimate so that a turn
// across north moves the estimate the short way round.
type HeadingEstimator struct {
	kalman *Kalman
}

// NewHeadingEstimator creates an estimator starting at heading 0
func NewHeadingEstimator(p KalmanParams) *HeadingEstimator {
	return &HeadingEstimator{kalman: NewKalman(p)}
}

// Update folds one azimuth (degrees) into the estimate and returns the
// smoothed heading in [0, 360).
func (h *HeadingEstimator) Update(azimuth float64) float64 {
	est := h.kalman.Estimate()
	measured := est + math.Remainder(azimuth-est, 360)
	h.kalman.Update(measured)

	// keep the internal estimate bounded across repeated full turns
	if math.Abs(h.kalman.Estimate()) >= 360 {
		h.kalman.Set(NormalizeDegrees(h.kalman.Estimate()))
	}
	return h.Heading()
}

// Heading returns the current smoothed heading in [0, 360)
func (h *HeadingEstimator) Heading() float64 {
	return NormalizeDegrees(h.kalman.Estimate())
}

// Reset returns the estimator to heading 0
func (h *HeadingEstimator) Reset() {
	h.kalman.Reset()
}

// NormalizeDegrees maps any angle into [0, 360)
func NormalizeDegrees(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

// ScreenHeading applies the fixed display offset to a heading
func ScreenHeading(deg float64) float64 {
	return NormalizeDegrees(deg + ScreenOffset)
}
