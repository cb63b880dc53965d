package config

import "time"

// PriorityWeights tunes the priority calculator. All four factor terms are
// normalized to [0, 1] before weighting.
type PriorityWeights struct {
	Base        float64 `env:"PRIORITY_WEIGHT_BASE" envDefault:"1.0"`
	Urgency     float64 `env:"PRIORITY_WEIGHT_URGENCY" envDefault:"0.6"`
	Complexity  float64 `env:"PRIORITY_WEIGHT_COMPLEXITY" envDefault:"0.2"`
	ResourceFit float64 `env:"PRIORITY_WEIGHT_RESOURCE_FIT" envDefault:"0.4"`
	Feedback    float64 `env:"PRIORITY_WEIGHT_FEEDBACK" envDefault:"0.3"`

	// ComplexityDirection is +1 to boost resource-heavy tasks while capacity
	// is available, or -1 to favor light tasks for throughput. The source
	// material supports both policies, so it stays a tunable.
	ComplexityDirection float64 `env:"PRIORITY_COMPLEXITY_DIRECTION" envDefault:"1"`

	// BasePriorityScale is the caller-supplied priority value that maps to a
	// full base term of 1.0.
	BasePriorityScale float64 `env:"PRIORITY_BASE_SCALE" envDefault:"10"`

	UrgencyHalfLife  time.Duration `env:"PRIORITY_URGENCY_HALF_LIFE" envDefault:"5m"`
	FeedbackHalfLife time.Duration `env:"PRIORITY_FEEDBACK_HALF_LIFE" envDefault:"24h"`
}

type SchedulerConfig struct {
	TickInterval    time.Duration `env:"SCHEDULER_TICK_INTERVAL" envDefault:"500ms"`
	ForecastHorizon time.Duration `env:"SCHEDULER_FORECAST_HORIZON" envDefault:"5s"`

	// StarvationTicks is the number of consecutive admission misses after
	// which a runnable task is failed with a retriable STARVED status.
	StarvationTicks int `env:"SCHEDULER_STARVATION_TICKS" envDefault:"120"`

	// RebalanceThreshold is the aggregate queued intensity (as a fraction of
	// GPU capacity) above which the preemptive degradation sweep runs.
	RebalanceThreshold float64 `env:"SCHEDULER_REBALANCE_THRESHOLD" envDefault:"0.9"`

	// DegradePriorityFloor marks tasks below this dynamic priority as
	// non-critical during the rebalance sweep.
	DegradePriorityFloor float64 `env:"SCHEDULER_DEGRADE_PRIORITY_FLOOR" envDefault:"0.3"`

	MaxChunks int `env:"SCHEDULER_MAX_CHUNKS" envDefault:"4"`

	Weights PriorityWeights
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval:         500 * time.Millisecond,
		ForecastHorizon:      5 * time.Second,
		StarvationTicks:      120,
		RebalanceThreshold:   0.9,
		DegradePriorityFloor: 0.3,
		MaxChunks:            4,
		Weights:              DefaultPriorityWeights(),
	}
}

func DefaultPriorityWeights() PriorityWeights {
	return PriorityWeights{
		Base:                1.0,
		Urgency:             0.6,
		Complexity:          0.2,
		ResourceFit:         0.4,
		Feedback:            0.3,
		ComplexityDirection: 1,
		BasePriorityScale:   10,
		UrgencyHalfLife:     5 * time.Minute,
		FeedbackHalfLife:    24 * time.Hour,
	}
}

// FeedbackConfig bounds the integrator's rolling window and batching.
type FeedbackConfig struct {
	MaxRecords    int           `env:"FEEDBACK_MAX_RECORDS" envDefault:"1000"`
	MaxAge        time.Duration `env:"FEEDBACK_MAX_AGE" envDefault:"24h"`
	BatchSize     int           `env:"FEEDBACK_BATCH_SIZE" envDefault:"32"`
	FlushInterval time.Duration `env:"FEEDBACK_FLUSH_INTERVAL" envDefault:"10s"`
}

func DefaultFeedbackConfig() FeedbackConfig {
	return FeedbackConfig{
		MaxRecords:    1000,
		MaxAge:        24 * time.Hour,
		BatchSize:     32,
		FlushInterval: 10 * time.Second,
	}
}
