package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable point-in-time view of the GPU. Consumers outside
// this package only ever read published copies.
type Snapshot struct {
	UtilizationPercent float64
	MemoryTotalBytes   uint64
	MemoryUsedBytes    uint64
	MemoryFreeBytes    uint64
	TemperatureCelsius float64
	Timestamp          time.Time
	Stale              bool
}

func (s Snapshot) FreeFraction() float64 {
	if s.MemoryTotalBytes == 0 {
		return 0
	}
	return float64(s.MemoryFreeBytes) / float64(s.MemoryTotalBytes)
}

func (s Snapshot) UsedFraction() float64 {
	if s.MemoryTotalBytes == 0 {
		return 0
	}
	return float64(s.MemoryUsedBytes) / float64(s.MemoryTotalBytes)
}

// Forecast is a best-effort trend extrapolation. Confidence decays towards
// zero as the horizon grows past the observed history.
type Forecast struct {
	FreeFraction       float64
	UtilizationPercent float64
	Horizon            time.Duration
	Confidence         float64
}

type Probe interface {
	Read(ctx context.Context) (Snapshot, error)
}

type Options struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	HistorySize int

	// Sink receives every successful sample, e.g. for persistence. Called
	// from the poll goroutine; must not block for long.
	Sink func(Snapshot)
}

type Monitor struct {
	probe   Probe
	opts    Options
	current atomic.Pointer[Snapshot]

	mu      sync.Mutex
	history []Snapshot
}

func New(probe Probe, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 3 * opts.Interval
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 60
	}

	m := &Monitor{probe: probe, opts: opts}

	// Seed with an empty stale snapshot so Snapshot() never returns garbage
	// before the first successful probe.
	initial := Snapshot{Timestamp: time.Now(), Stale: true}
	m.current.Store(&initial)

	return m
}

// Poll reads the probe once and publishes the result. Exposed so tests and
// the run loop share one code path.
func (m *Monitor) Poll(ctx context.Context) {
	snap, err := m.probe.Read(ctx)
	if err != nil {
		// Keep scheduling on best-available information: republish the last
		// good snapshot flagged stale instead of surfacing the error.
		slog.Warn("resource probe failed, keeping last known snapshot", "error", err)
		last := *m.current.Load()
		last.Stale = true
		m.current.Store(&last)
		return
	}

	snap.Stale = false
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	m.current.Store(&snap)

	m.mu.Lock()
	m.history = append(m.history, snap)
	if len(m.history) > m.opts.HistorySize {
		m.history = m.history[len(m.history)-m.opts.HistorySize:]
	}
	m.mu.Unlock()

	if m.opts.Sink != nil {
		m.opts.Sink(snap)
	}
}

// Run polls until the context is cancelled. Intended to run concurrently
// with the scheduling loop.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Snapshot never blocks and never fails; when the probe has been quiet for
// longer than the staleness window the returned value is flagged stale.
func (m *Monitor) Snapshot() Snapshot {
	snap := *m.current.Load()
	if time.Since(snap.Timestamp) > m.opts.StaleAfter {
		snap.Stale = true
	}
	return snap
}

// Forecast extrapolates free memory and utilization over the horizon using a
// least-squares fit of the recent history.
func (m *Monitor) Forecast(horizon time.Duration) Forecast {
	m.mu.Lock()
	history := make([]Snapshot, len(m.history))
	copy(history, m.history)
	m.mu.Unlock()

	current := m.Snapshot()
	forecast := Forecast{
		FreeFraction:       current.FreeFraction(),
		UtilizationPercent: current.UtilizationPercent,
		Horizon:            horizon,
	}

	if len(history) < 2 {
		forecast.Confidence = 0
		return forecast
	}

	origin := history[0].Timestamp
	xs := make([]float64, len(history))
	frees := make([]float64, len(history))
	utils := make([]float64, len(history))
	for i, s := range history {
		xs[i] = s.Timestamp.Sub(origin).Seconds()
		frees[i] = s.FreeFraction()
		utils[i] = s.UtilizationPercent
	}

	target := history[len(history)-1].Timestamp.Add(horizon).Sub(origin).Seconds()

	forecast.FreeFraction = clamp01(extrapolate(xs, frees, target))
	forecast.UtilizationPercent = extrapolate(xs, utils, target)
	if forecast.UtilizationPercent < 0 {
		forecast.UtilizationPercent = 0
	}

	observed := history[len(history)-1].Timestamp.Sub(origin)
	forecast.Confidence = confidence(observed, horizon)
	if current.Stale {
		forecast.Confidence /= 2
	}

	return forecast
}

// extrapolate fits y = a + b*x by least squares and evaluates it at x.
func extrapolate(xs, ys []float64, x float64) float64 {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return sumY / n
	}

	b := (n*sumXY - sumX*sumY) / denom
	a := (sumY - b*sumX) / n
	return a + b*x
}

func confidence(observed, horizon time.Duration) float64 {
	if observed <= 0 {
		return 0
	}
	ratio := horizon.Seconds() / observed.Seconds()
	return clamp01(1 - ratio)
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
