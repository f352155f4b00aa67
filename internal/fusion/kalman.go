package fusion

// Kalman is a one-dimensional Kalman filter for a scalar signal with a
// constant-state model.
type Kalman struct {
	params   KalmanParams
	estimate float64
	errEst   float64
}

// NewKalman creates a filter with estimate 0 and the configured initial error
func NewKalman(p KalmanParams) *Kalman {
	return &Kalman{params: p, errEst: p.InitialError}
}

// Update folds one measurement into the estimate and returns it
func (k *Kalman) Update(measurement float64) float64 {
	gain := k.errEst / (k.errEst + k.params.MeasurementNoise)
	k.estimate += gain * (measurement - k.estimate)
	k.errEst = (1-gain)*k.errEst + k.params.ProcessNoise
	return k.estimate
}

// Estimate returns the current estimate
func (k *Kalman) Estimate() float64 {
	return k.estimate
}

// ErrorEstimate returns the current error covariance
func (k *Kalman) ErrorEstimate() float64 {
	return k.errEst
}

// Set replaces the estimate without touching the error covariance
func (k *Kalman) Set(estimate float64) {
	k.estimate = estimate
}

// Reset restores the initial state
func (k *Kalman) Reset() {
	k.estimate = 0
	k.errEst = k.params.InitialError
}
