package scheduler

import (
	"math"

	"gpusched-backend/internal/registry"
)

// Strategy is the ephemeral plan produced when a task cannot be admitted at
// its full resource request. Exactly one of Variant or Chunks is set; it is
// applied once and discarded.
type Strategy struct {
	TargetFreeFraction float64
	QualityFloor       float64

	Variant *registry.ModelVariant
	Chunks  []ChunkSpec
}

type ChunkSpec struct {
	Index     int
	Intensity float64
}

// PlanDegradation finds a fallback that fits within the free resource
// fraction while keeping projected quality at or above the task's quality
// requirement. Variant substitution is preferred over chunking; nil, false
// means the task must stay queued.
func PlanDegradation(task *Task, freeFraction float64, reg *registry.VariantRegistry, maxChunks int) (*Strategy, bool) {
	strategy := &Strategy{
		TargetFreeFraction: freeFraction,
		QualityFloor:       task.QualityRequirement,
	}

	// Fallbacks come back highest quality first, so the first fit is the
	// best-quality option that works. The variant the task already runs as
	// is no use: reapplying it changes nothing.
	for _, variant := range reg.Fallbacks(task.ModelId) {
		if variant.Id == task.VariantId {
			continue
		}
		if variant.MemoryFraction <= freeFraction && variant.ProjectedQuality >= task.QualityRequirement {
			v := variant
			strategy.Variant = &v
			return strategy, true
		}
	}

	if freeFraction <= 0 || maxChunks < 2 {
		return nil, false
	}

	// Chunking runs the original model over splits of the input, so the
	// quality floor is preserved by construction.
	n := int(math.Ceil(task.ResourceIntensity / freeFraction))
	if n < 2 {
		n = 2
	}
	if n > maxChunks {
		return nil, false
	}

	per := task.ResourceIntensity / float64(n)
	if per > freeFraction {
		return nil, false
	}

	for i := 0; i < n; i++ {
		strategy.Chunks = append(strategy.Chunks, ChunkSpec{Index: i, Intensity: per})
	}
	return strategy, true
}
