package executor

import (
	"time"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
)

// DefaultStages is the ride-start load profile: ramp to 20 VUs, ramp to 50,
// hold, then ramp down to zero.
func DefaultStages() []Stage {
	return []Stage{
		{Duration: 30 * time.Second, Target: 20, Name: "warm-up"},
		{Duration: 1 * time.Minute, Target: 50, Name: "ramp-up"},
		{Duration: 2 * time.Minute, Target: 50, Name: "steady"},
		{Duration: 30 * time.Second, Target: 0, Name: "ramp-down"},
	}
}

// StageAt returns the index of the stage active at elapsed, or len(stages)
// once every stage has ended.
func StageAt(stages []Stage, elapsed time.Duration) int {
	var stageStart time.Duration
	for i, stage := range stages {
		stageStart += stage.Duration
		if elapsed < stageStart {
			return i
		}
	}
	return len(stages)
}

// TargetAt calculates the target VU count at elapsed.
//
// Within a stage the target moves linearly from the previous stage's target
// (zero for the first stage) to the stage's own, rounded to the nearest
// integer. Past the last stage the final target holds.
func TargetAt(stages []Stage, elapsed time.Duration) int {
	if elapsed < 0 {
		elapsed = 0
	}

	var stageStart time.Duration
	prevTarget := 0

	for _, stage := range stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			stageProgress := float64(elapsed-stageStart) / float64(stage.Duration)
			if stageProgress < 0 {
				stageProgress = 0
			}
			if stageProgress > 1 {
				stageProgress = 1
			}

			// Linear interpolation between previous and current target
			targetVUs := float64(prevTarget) + float64(stage.Target-prevTarget)*stageProgress
			return int(targetVUs + 0.5) // Round to nearest
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return prevTarget
}

// PhaseAt classifies the stage active at elapsed by comparing its target
// with the previous one.
func PhaseAt(stages []Stage, elapsed time.Duration) metrics.Phase {
	idx := StageAt(stages, elapsed)
	if idx >= len(stages) {
		return metrics.PhaseDone
	}

	prevTarget := 0
	if idx > 0 {
		prevTarget = stages[idx-1].Target
	}

	switch target := stages[idx].Target; {
	case target > prevTarget:
		return metrics.PhaseRampUp
	case target < prevTarget:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

// MaxTarget returns the highest target across stages.
func MaxTarget(stages []Stage) int {
	max := 0
	for _, stage := range stages {
		if stage.Target > max {
			max = stage.Target
		}
	}
	return max
}

// ProfilePoint is one sample of a ramp profile. Elapsed encodes to JSON
// in nanoseconds.
type ProfilePoint struct {
	Elapsed time.Duration `json:"elapsed"`
	Target  int           `json:"target"`
	Stage   int           `json:"stage"`
	Phase   metrics.Phase `json:"phase"`
}

// Profile samples the target VU count every step, from zero through the end
// of the last stage inclusive.
func Profile(stages []Stage, step time.Duration) []ProfilePoint {
	if step <= 0 {
		step = time.Second
	}

	var total time.Duration
	for _, stage := range stages {
		total += stage.Duration
	}

	points := make([]ProfilePoint, 0, int(total/step)+2)
	for t := time.Duration(0); t < total; t += step {
		points = append(points, ProfilePoint{
			Elapsed: t,
			Target:  TargetAt(stages, t),
			Stage:   StageAt(stages, t),
			Phase:   PhaseAt(stages, t),
		})
	}
	points = append(points, ProfilePoint{
		Elapsed: total,
		Target:  TargetAt(stages, total),
		Stage:   len(stages),
		Phase:   metrics.PhaseDone,
	})
	return points
}
