package feedback

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"gpusched-backend/internal/config"
	"gpusched-backend/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Record captures the actuals of one completed execution or one explicit
// user rating. Records are immutable once created.
type Record struct {
	Id     uuid.UUID
	TaskId uuid.UUID

	Category string
	Rating   float64

	Quality            float64
	Latency            time.Duration
	UtilizationPercent float64
	MemoryUsedBytes    uint64

	Timestamp time.Time
}

// Window is an immutable snapshot of the rolling feedback window. The
// priority calculator reads boosts from whichever window was published at
// the start of its tick, so recomputation stays deterministic.
type Window struct {
	records  []Record
	halfLife time.Duration
}

// Boost returns the recency-weighted average rating for a category, in
// [0, 1]. Older records decay exponentially with the configured half-life.
func (w *Window) Boost(category string, now time.Time) float64 {
	if w == nil || len(w.records) == 0 || w.halfLife <= 0 {
		return 0
	}

	var weightedSum, weightTotal float64
	for _, r := range w.records {
		if r.Category != category {
			continue
		}
		age := now.Sub(r.Timestamp)
		if age < 0 {
			age = 0
		}
		weight := math.Exp2(-age.Seconds() / w.halfLife.Seconds())
		weightedSum += r.Rating * weight
		weightTotal += weight
	}

	if weightTotal == 0 {
		return 0
	}

	boost := weightedSum / weightTotal
	if boost < 0 {
		return 0
	}
	if boost > 1 {
		return 1
	}
	return boost
}

func (w *Window) Size() int {
	if w == nil {
		return 0
	}
	return len(w.records)
}

// Integrator folds execution actuals and user ratings into the rolling
// window the priority calculator reads. Updates are batched: a fold happens
// when the buffer reaches the batch size or the flush interval elapses,
// whichever comes first.
type Integrator struct {
	db  *gorm.DB // may be nil; persistence is best-effort
	cfg config.FeedbackConfig

	lock   sync.Mutex
	buffer []Record

	window atomic.Pointer[Window]
}

func NewIntegrator(db *gorm.DB, cfg config.FeedbackConfig) *Integrator {
	integrator := &Integrator{db: db, cfg: cfg}
	integrator.window.Store(&Window{halfLife: cfg.MaxAge})
	return integrator
}

// SetHalfLife overrides the decay half-life used by published windows.
func (i *Integrator) SetHalfLife(halfLife time.Duration) {
	i.lock.Lock()
	defer i.lock.Unlock()

	current := i.window.Load()
	i.window.Store(&Window{records: current.records, halfLife: halfLife})
}

// Add buffers a record. The window is folded once the buffer reaches the
// batch size.
func (i *Integrator) Add(record Record) {
	if record.Id == uuid.Nil {
		record.Id = uuid.New()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	i.lock.Lock()
	i.buffer = append(i.buffer, record)
	full := len(i.buffer) >= i.cfg.BatchSize
	i.lock.Unlock()

	if full {
		i.Flush(context.Background())
	}
}

// Flush folds buffered records into a freshly published window and persists
// them. Safe to call concurrently with Add and with the scheduler reading
// windows.
func (i *Integrator) Flush(ctx context.Context) {
	i.lock.Lock()

	if len(i.buffer) == 0 {
		i.lock.Unlock()
		return
	}

	batch := i.buffer
	i.buffer = nil

	current := i.window.Load()
	merged := append(append([]Record{}, current.records...), batch...)
	merged = trimWindow(merged, i.cfg.MaxRecords, i.cfg.MaxAge, time.Now())

	i.window.Store(&Window{records: merged, halfLife: current.halfLife})
	i.lock.Unlock()

	if i.db != nil {
		i.persist(ctx, batch)
	}

	slog.Debug("feedback window folded", "batch", len(batch), "window", len(merged))
}

// Run flushes on the configured interval until the context is cancelled.
// Runs concurrently with the scheduling loop; windows are published
// atomically.
func (i *Integrator) Run(ctx context.Context) {
	ticker := time.NewTicker(i.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			i.Flush(context.Background())
			return
		case <-ticker.C:
			i.Flush(ctx)
		}
	}
}

// Window returns the current immutable window snapshot.
func (i *Integrator) Window() *Window {
	return i.window.Load()
}

func (i *Integrator) persist(ctx context.Context, batch []Record) {
	rows := make([]database.FeedbackRecord, len(batch))
	for idx, r := range batch {
		rows[idx] = database.FeedbackRecord{
			Id:                 r.Id,
			TaskId:             r.TaskId,
			Category:           r.Category,
			Rating:             r.Rating,
			Quality:            r.Quality,
			LatencyMs:          r.Latency.Milliseconds(),
			UtilizationPercent: r.UtilizationPercent,
			MemoryUsedBytes:    r.MemoryUsedBytes,
			Timestamp:          r.Timestamp,
		}
	}

	if err := i.db.WithContext(ctx).Create(&rows).Error; err != nil {
		slog.Error("error persisting feedback records", "count", len(rows), "error", err)
	}
}

// trimWindow enforces the rolling bound: the most recent maxRecords records
// or maxAge of history, whichever is smaller.
func trimWindow(records []Record, maxRecords int, maxAge time.Duration, now time.Time) []Record {
	cutoff := now.Add(-maxAge)
	kept := records[:0]
	for _, r := range records {
		if maxAge > 0 && r.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}

	if maxRecords > 0 && len(kept) > maxRecords {
		kept = kept[len(kept)-maxRecords:]
	}

	out := make([]Record, len(kept))
	copy(out, kept)
	return out
}
