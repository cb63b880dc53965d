package scheduler

import (
	"math"
	"time"

	"gpusched-backend/internal/config"
	"gpusched-backend/internal/monitor"
)

// FeedbackSource provides the recency-weighted feedback boost for a task
// category. Implementations must be immutable snapshots so priority
// recomputation stays deterministic within a scheduling tick.
type FeedbackSource interface {
	Boost(category string, now time.Time) float64
}

// NoFeedback is the zero-signal source used before any feedback exists.
type NoFeedback struct{}

func (NoFeedback) Boost(string, time.Time) float64 { return 0 }

// ComputePriority maps a task's static attributes plus live resource and
// feedback signals to a scalar. It is pure: the task is not mutated and
// identical inputs always produce identical output. The caller assigns the
// result to the task's dynamic priority.
func ComputePriority(task *Task, feedback FeedbackSource, snap monitor.Snapshot, now time.Time, weights config.PriorityWeights) float64 {
	base := 0.0
	if weights.BasePriorityScale > 0 {
		base = clamp01(task.BasePriority / weights.BasePriorityScale)
	}

	urgency := urgencyFactor(task.Deadline, now, weights.UrgencyHalfLife)

	complexity := clamp01(task.ResourceIntensity)
	if weights.ComplexityDirection < 0 {
		complexity = 1 - complexity
	}

	fit := resourceFitFactor(task.ResourceIntensity, snap.FreeFraction())

	boost := clamp01(feedback.Boost(task.Category, now))

	return weights.Base*base +
		weights.Urgency*urgency +
		weights.Complexity*complexity +
		weights.ResourceFit*fit +
		weights.Feedback*boost
}

// urgencyFactor is 1 at or past the deadline, decays exponentially with the
// remaining time, and is 0 when no deadline is set.
func urgencyFactor(deadline *time.Time, now time.Time, halfLife time.Duration) float64 {
	if deadline == nil {
		return 0
	}

	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 1
	}
	if halfLife <= 0 {
		return 0
	}

	return math.Exp2(-remaining.Seconds() / halfLife.Seconds())
}

// resourceFitFactor is highest when the task's intensity fits comfortably
// within currently free memory and 0 when it does not fit at all.
func resourceFitFactor(intensity, free float64) float64 {
	if free <= 0 || intensity > free {
		return 0
	}
	return clamp01((free - intensity) / free)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
