package fusion

import "time"

// Metrics are the fitness figures derived from steps, distance and time
type Metrics struct {
	Pace         float64      `json:"pace"`
	Calories     float64      `json:"calories"`
	FitnessLevel FitnessLevel `json:"fitness_level"`
}

// ComputeMetrics derives pace, calories and fitness level. Pace is
// PaceScale·minutes/kilometers and is 0 until both distance and elapsed
// time are positive.
func ComputeMetrics(steps int, distanceM float64, elapsed time.Duration, p MetricsParams) Metrics {
	var pace float64
	minutes := elapsed.Minutes()
	km := distanceM / 1000
	if km > 0 && minutes > 0 {
		pace = p.PaceScale * minutes / km
	}

	calories := float64(steps)*p.CaloriesPerStep +
		distanceM*p.CaloriesPerMeter +
		pace*p.CaloriesPerPace

	return Metrics{
		Pace:         pace,
		Calories:     calories,
		FitnessLevel: classify(calories, p),
	}
}

func classify(calories float64, p MetricsParams) FitnessLevel {
	switch {
	case calories > p.AdvancedCalories:
		return FitnessAdvanced
	case calories > p.IntermediateCalories:
		return FitnessIntermediate
	default:
		return FitnessBeginner
	}
}
