package scheduler

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gpusched-backend/internal/config"
	"gpusched-backend/internal/database"
	"gpusched-backend/internal/executor"
	"gpusched-backend/internal/feedback"
	"gpusched-backend/internal/messaging"
	"gpusched-backend/internal/monitor"
	"gpusched-backend/internal/registry"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

type staticMonitor struct {
	snap     monitor.Snapshot
	forecast monitor.Forecast
}

func (m *staticMonitor) Snapshot() monitor.Snapshot              { return m.snap }
func (m *staticMonitor) Forecast(time.Duration) monitor.Forecast { return m.forecast }

func (m *staticMonitor) setFree(freeFraction float64) {
	m.snap = snapshotWithFree(freeFraction)
}

type fakeRunner struct {
	mu      sync.Mutex
	block   chan struct{}
	outcome executor.Outcome
	err     error
}

func (r *fakeRunner) Run(ctx context.Context, req executor.Request) (executor.Outcome, error) {
	r.mu.Lock()
	block := r.block
	outcome, err := r.outcome, r.err
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return executor.Outcome{}, ctx.Err()
		}
	}
	return outcome, err
}

func (r *fakeRunner) set(outcome executor.Outcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome, r.err = outcome, err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []messaging.TaskEventPayload
}

func (n *recordingNotifier) Notify(event messaging.TaskEventPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) eventsFor(taskId uuid.UUID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		if e.TaskId == taskId {
			out = append(out, e.Event)
		}
	}
	return out
}

type fixture struct {
	t      *testing.T
	db     *gorm.DB
	queue  *messaging.InMemoryQueue
	runner *fakeRunner
	exec   *executor.Executor
	mon    *staticMonitor
	events *recordingNotifier
	sched  *Scheduler
}

func newFixture(t *testing.T, cfg config.SchedulerConfig, reg *registry.VariantRegistry) *fixture {
	db, err := database.NewDatabase("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	if reg == nil {
		reg = registry.NewVariantRegistry(16, time.Hour, 0)
	}

	f := &fixture{
		t:      t,
		db:     db,
		queue:  messaging.NewInMemoryQueue(),
		runner: &fakeRunner{outcome: executor.Outcome{Quality: 0.9}},
		mon:    &staticMonitor{snap: snapshotWithFree(1)},
		events: &recordingNotifier{},
	}
	f.exec = executor.New(f.runner)
	f.sched = New(db, cfg, f.mon, f.exec, feedback.NewIntegrator(nil, config.DefaultFeedbackConfig()), reg, f.queue, f.events)
	return f
}

func (f *fixture) submit(task database.Task) uuid.UUID {
	if task.Id == uuid.Nil {
		task.Id = uuid.New()
	}
	if task.Status == "" {
		task.Status = database.TaskQueued
	}
	if task.SubmissionTime.IsZero() {
		task.SubmissionTime = time.Now().UTC()
	}
	require.NoError(f.t, f.db.Create(&task).Error)

	require.NoError(f.t, f.queue.PublishSubmitTask(context.Background(), messaging.SubmitTaskPayload{TaskId: task.Id}))
	f.deliverCommand()
	return task.Id
}

// deliverCommand feeds one queued command into the scheduler, the way the
// run loop would.
func (f *fixture) deliverCommand() {
	select {
	case msg := <-f.queue.Tasks():
		f.sched.handleCommand(context.Background(), msg)
	case <-time.After(time.Second):
		f.t.Fatal("timed out waiting for command")
	}
}

// awaitResult waits for the executor to finish the running task and feeds
// the result back into the scheduler.
func (f *fixture) awaitResult() executor.Result {
	select {
	case res := <-f.exec.Results():
		f.sched.handleResult(context.Background(), res)
		return res
	case <-time.After(2 * time.Second):
		f.t.Fatal("timed out waiting for execution result")
		return executor.Result{}
	}
}

func (f *fixture) taskRecord(id uuid.UUID) database.Task {
	var record database.Task
	require.NoError(f.t, f.db.First(&record, "id = ?", id).Error)
	return record
}

func TestSchedulerDispatchAndComplete(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)

	taskId := f.submit(database.Task{ModelId: "bert", Category: "nlp", ResourceIntensity: 0.3, BasePriority: 5})

	f.sched.Tick(context.Background())
	require.True(t, f.exec.Busy())
	assert.Equal(t, database.TaskRunning, f.taskRecord(taskId).Status)

	res := f.awaitResult()
	require.NoError(t, res.Err)

	record := f.taskRecord(taskId)
	assert.Equal(t, database.TaskCompleted, record.Status)
	assert.True(t, record.CompletionTime.Valid)
	assert.Equal(t, []string{messaging.EventTaskCompleted}, f.events.eventsFor(taskId))
}

func TestSchedulerSingleTaskRunning(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)
	f.runner.block = make(chan struct{})

	first := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.2, BasePriority: 9})
	second := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.2, BasePriority: 1})

	f.sched.Tick(context.Background())
	require.True(t, f.exec.Busy())
	assert.Equal(t, database.TaskRunning, f.taskRecord(first).Status)

	// Further ticks must not start the second task while the slot is held.
	f.sched.Tick(context.Background())
	f.sched.Tick(context.Background())
	assert.NotEqual(t, database.TaskRunning, f.taskRecord(second).Status)
	assert.Equal(t, first, f.exec.Running())

	close(f.runner.block)
	f.awaitResult()

	f.sched.Tick(context.Background())
	assert.Equal(t, database.TaskRunning, f.taskRecord(second).Status)
}

func TestSchedulerUrgencyOrdering(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)
	f.mon.setFree(0.5)

	// A fits with room to spare but is not urgent; B barely fits and is due
	// in seconds. B must be admitted first.
	relaxed := time.Now().Add(2 * time.Hour)
	urgent := time.Now().Add(3 * time.Second)

	taskA := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.1, BasePriority: 5,
		Deadline: nullTime(relaxed)})
	taskB := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.45, BasePriority: 5,
		Deadline: nullTime(urgent)})

	f.sched.Tick(context.Background())
	require.True(t, f.exec.Busy())
	assert.Equal(t, taskB, f.exec.Running())
	assert.NotEqual(t, database.TaskRunning, f.taskRecord(taskA).Status)
}

func TestSchedulerDependencyBlocksExecution(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)

	dep := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.2, BasePriority: 1})
	dependent := uuid.New()
	f.submit(database.Task{
		Id: dependent, ModelId: "bert", ResourceIntensity: 0.2, BasePriority: 9,
		Dependencies: []database.TaskDependency{{TaskId: dependent, DependsOn: dep}},
	})

	// The dependent outranks its dependency but cannot run first.
	f.sched.Tick(context.Background())
	require.Equal(t, dep, f.exec.Running())

	f.awaitResult()
	f.sched.Tick(context.Background())
	assert.Equal(t, dependent, f.exec.Running())
}

func TestSchedulerVariantDegradation(t *testing.T) {
	reg := registry.NewVariantRegistry(16, time.Hour, 0)
	reg.Put(registry.ModelVariant{Id: "llama-7b", BaseModelId: "llama-70b", MemoryFraction: 0.25, ProjectedQuality: 0.8})

	f := newFixture(t, config.DefaultSchedulerConfig(), reg)
	f.mon.setFree(0.3)

	taskId := f.submit(database.Task{ModelId: "llama-70b", ResourceIntensity: 0.8, QualityRequirement: 0.7})

	f.sched.Tick(context.Background())

	record := f.taskRecord(taskId)
	assert.Equal(t, "llama-7b", record.VariantId)
	assert.InDelta(t, 0.25, record.ResourceIntensity, 1e-9)
	assert.Contains(t, f.events.eventsFor(taskId), messaging.EventTaskDegraded)

	// The degraded request fits now, so the next tick dispatches it.
	f.sched.Tick(context.Background())
	assert.Equal(t, taskId, f.exec.Running())
}

func TestSchedulerChunkDegradationAndMerge(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)
	f.mon.setFree(0.3)

	parent := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.6, QualityRequirement: 0.9})

	f.sched.Tick(context.Background())

	assert.Equal(t, database.TaskDegraded, f.taskRecord(parent).Status)

	var chunks []database.Task
	require.NoError(t, f.db.Where("parent_id = ?", parent).Order("chunk_index ASC").Find(&chunks).Error)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[1].ChunkIndex)

	// Chunks run in index order because each depends on its predecessor.
	f.sched.Tick(context.Background())
	require.Equal(t, chunks[0].Id, f.exec.Running())
	f.awaitResult()

	f.sched.Tick(context.Background())
	require.Equal(t, chunks[1].Id, f.exec.Running())
	f.awaitResult()

	assert.Equal(t, database.TaskCompleted, f.taskRecord(parent).Status)
	assert.Contains(t, f.events.eventsFor(parent), messaging.EventTaskCompleted)
}

func TestSchedulerStarvation(t *testing.T) {
	cfg := config.DefaultSchedulerConfig()
	cfg.StarvationTicks = 2

	f := newFixture(t, cfg, nil)
	f.mon.setFree(0.1)

	// 0.9 intensity in 0.1 free cannot be chunked within the limit, so the
	// task starves out after the configured number of ticks.
	taskId := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.9, QualityRequirement: 1})

	f.sched.Tick(context.Background())
	assert.NotEqual(t, database.TaskFailed, f.taskRecord(taskId).Status)

	f.sched.Tick(context.Background())

	record := f.taskRecord(taskId)
	assert.Equal(t, database.TaskFailed, record.Status)
	assert.Equal(t, database.CauseStarved, record.FailureCause)
	assert.True(t, record.Retriable)
	assert.Equal(t, 0, f.sched.QueueLen())
}

func TestSchedulerCancelQueuedTask(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)

	taskId := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.2})

	f.sched.cancelTask(context.Background(), taskId)

	assert.Equal(t, database.TaskCancelled, f.taskRecord(taskId).Status)
	assert.Equal(t, 0, f.sched.QueueLen())
	assert.Equal(t, []string{messaging.EventTaskCancelled}, f.events.eventsFor(taskId))
}

func TestSchedulerCancelRunningTaskAtCheckpoint(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)
	f.runner.block = make(chan struct{})

	taskId := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.2})

	f.sched.Tick(context.Background())
	require.Equal(t, taskId, f.exec.Running())

	// Cancellation is advisory: the status flips only once the runner
	// observes the cancelled context and reports back.
	f.sched.cancelTask(context.Background(), taskId)
	assert.Equal(t, database.TaskRunning, f.taskRecord(taskId).Status)

	res := f.awaitResult()
	assert.Equal(t, executor.CauseCancelled, res.Cause)
	assert.Equal(t, database.TaskCancelled, f.taskRecord(taskId).Status)
}

func TestSchedulerCancelUnknownTaskIsNoop(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)

	f.sched.cancelTask(context.Background(), uuid.New())
	assert.Empty(t, f.events.events)
}

func TestSchedulerTimeout(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)
	f.runner.block = make(chan struct{})

	taskId := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.2, TimeoutSeconds: 1})

	f.sched.Tick(context.Background())
	require.Equal(t, taskId, f.exec.Running())

	res := f.awaitResult()
	assert.Equal(t, executor.CauseTimeout, res.Cause)

	record := f.taskRecord(taskId)
	assert.Equal(t, database.TaskFailed, record.Status)
	assert.Equal(t, database.CauseTimeout, record.FailureCause)
	assert.False(t, record.Retriable)
}

func TestSchedulerExecutionError(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)
	f.runner.set(executor.Outcome{}, assert.AnError)

	taskId := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.2})

	f.sched.Tick(context.Background())
	res := f.awaitResult()
	assert.Equal(t, executor.CauseExecutionError, res.Cause)

	record := f.taskRecord(taskId)
	assert.Equal(t, database.TaskFailed, record.Status)
	assert.Equal(t, database.CauseExecutionError, record.FailureCause)

	var taskErrors []database.TaskError
	require.NoError(t, f.db.Where("task_id = ?", taskId).Find(&taskErrors).Error)
	assert.Len(t, taskErrors, 1)
}

func TestSchedulerResourceExhaustionRequeues(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)
	f.runner.set(executor.Outcome{}, &executor.ResourceExhaustionError{Requested: 0.5, Available: 0.2})

	taskId := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.5, QualityRequirement: 1})

	f.sched.Tick(context.Background())
	res := f.awaitResult()
	assert.Equal(t, executor.CauseResourceExhaustion, res.Cause)

	// Free capacity still covers half-size chunks, so exhaustion degrades
	// the task instead of failing it.
	assert.Equal(t, database.TaskDegraded, f.taskRecord(taskId).Status)

	var chunks []database.Task
	require.NoError(t, f.db.Where("parent_id = ?", taskId).Find(&chunks).Error)
	assert.Len(t, chunks, 2)
}

func TestSchedulerDuplicateSubmissionIgnored(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)

	taskId := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.2})

	require.NoError(t, f.queue.PublishSubmitTask(context.Background(), messaging.SubmitTaskPayload{TaskId: taskId}))
	f.deliverCommand()

	assert.Equal(t, 1, f.sched.QueueLen())
}

func TestSchedulerPriorityPersisted(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)
	f.runner.block = make(chan struct{})
	defer close(f.runner.block)

	blocker := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.2, BasePriority: 10})
	waiting := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.2, BasePriority: 5})

	f.sched.Tick(context.Background())
	require.Equal(t, blocker, f.exec.Running())

	f.sched.Tick(context.Background())
	assert.Greater(t, f.taskRecord(waiting).DynamicPriority, 0.0)
}

func TestSchedulerRestore(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)

	queued := database.Task{Id: uuid.New(), ModelId: "bert", Status: database.TaskQueued,
		ResourceIntensity: 0.2, SubmissionTime: time.Now().UTC()}
	running := database.Task{Id: uuid.New(), ModelId: "bert", Status: database.TaskRunning,
		ResourceIntensity: 0.2, SubmissionTime: time.Now().UTC()}
	done := database.Task{Id: uuid.New(), ModelId: "bert", Status: database.TaskCompleted,
		ResourceIntensity: 0.2, SubmissionTime: time.Now().UTC()}

	require.NoError(t, f.db.Create(&queued).Error)
	require.NoError(t, f.db.Create(&running).Error)
	require.NoError(t, f.db.Create(&done).Error)

	require.NoError(t, f.sched.Restore(context.Background()))

	// The interrupted RUNNING task is requeued alongside the queued one.
	assert.Equal(t, 2, f.sched.QueueLen())
	assert.Equal(t, database.TaskQueued, f.taskRecord(running.Id).Status)
}

// restart builds a fresh scheduler over the fixture's database, the way a
// new process would after a crash.
func (f *fixture) restart(cfg config.SchedulerConfig) (*Scheduler, *executor.Executor) {
	exec := executor.New(f.runner)
	sched := New(f.db, cfg, f.mon, exec, feedback.NewIntegrator(nil, config.DefaultFeedbackConfig()),
		registry.NewVariantRegistry(16, time.Hour, 0), messaging.NewInMemoryQueue(), f.events)
	require.NoError(f.t, sched.Restore(context.Background()))
	return sched, exec
}

func TestSchedulerRestoreChunkSplitParent(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)
	f.mon.setFree(0.3)

	parent := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.6, QualityRequirement: 0.9})
	f.sched.Tick(context.Background())
	require.Equal(t, database.TaskDegraded, f.taskRecord(parent).Status)

	sched, exec := f.restart(config.DefaultSchedulerConfig())

	// Only the chunks come back as live queue entries; the split parent
	// waits on the merge bookkeeping instead of competing with them.
	assert.Equal(t, 2, sched.QueueLen())
	assert.Nil(t, sched.queue.Get(parent))

	for i := 0; i < 2; i++ {
		sched.Tick(context.Background())
		select {
		case res := <-exec.Results():
			sched.handleResult(context.Background(), res)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for chunk result")
		}
	}

	assert.Equal(t, database.TaskCompleted, f.taskRecord(parent).Status)

	// The parent was never re-admitted, so no second split happened.
	var chunks []database.Task
	require.NoError(t, f.db.Where("parent_id = ?", parent).Find(&chunks).Error)
	assert.Len(t, chunks, 2)
}

func TestSchedulerRestoreVariantDegradedTask(t *testing.T) {
	reg := registry.NewVariantRegistry(16, time.Hour, 0)
	reg.Put(registry.ModelVariant{Id: "llama-7b", BaseModelId: "llama-70b", MemoryFraction: 0.25, ProjectedQuality: 0.8})

	f := newFixture(t, config.DefaultSchedulerConfig(), reg)
	f.mon.setFree(0.3)

	taskId := f.submit(database.Task{ModelId: "llama-70b", ResourceIntensity: 0.8, QualityRequirement: 0.7})
	f.sched.Tick(context.Background())
	require.Equal(t, database.TaskDegraded, f.taskRecord(taskId).Status)

	// A variant swap has no chunks, so the task itself is requeued and runs.
	sched, exec := f.restart(config.DefaultSchedulerConfig())
	assert.Equal(t, 1, sched.QueueLen())

	sched.Tick(context.Background())
	require.Equal(t, taskId, exec.Running())
}

func TestSchedulerCancelQueuedChunkCancelsSplit(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)
	f.mon.setFree(0.3)

	parent := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.6, QualityRequirement: 0.9})
	f.sched.Tick(context.Background())

	var chunks []database.Task
	require.NoError(t, f.db.Where("parent_id = ?", parent).Order("chunk_index ASC").Find(&chunks).Error)
	require.Len(t, chunks, 2)

	// Cancelling one chunk must take the sibling and the parent with it:
	// the sibling depends on the cancelled chunk and can never run.
	f.sched.cancelTask(context.Background(), chunks[0].Id)

	assert.Equal(t, database.TaskCancelled, f.taskRecord(chunks[0].Id).Status)
	assert.Equal(t, database.TaskCancelled, f.taskRecord(chunks[1].Id).Status)
	assert.Equal(t, database.TaskCancelled, f.taskRecord(parent).Status)
	assert.Equal(t, 0, f.sched.QueueLen())
	assert.Contains(t, f.events.eventsFor(parent), messaging.EventTaskCancelled)
}

func TestSchedulerCancelRunningChunkCancelsSplit(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)
	f.mon.setFree(0.3)
	f.runner.block = make(chan struct{})

	parent := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.6, QualityRequirement: 0.9})
	f.sched.Tick(context.Background())
	f.sched.Tick(context.Background())

	var chunks []database.Task
	require.NoError(t, f.db.Where("parent_id = ?", parent).Order("chunk_index ASC").Find(&chunks).Error)
	require.Len(t, chunks, 2)
	require.Equal(t, chunks[0].Id, f.exec.Running())

	f.sched.cancelTask(context.Background(), chunks[0].Id)

	res := f.awaitResult()
	assert.Equal(t, executor.CauseCancelled, res.Cause)

	assert.Equal(t, database.TaskCancelled, f.taskRecord(chunks[0].Id).Status)
	assert.Equal(t, database.TaskCancelled, f.taskRecord(chunks[1].Id).Status)
	assert.Equal(t, database.TaskCancelled, f.taskRecord(parent).Status)
	assert.Equal(t, 0, f.sched.QueueLen())
}

func TestSchedulerDegradedVariantStillUnfitStarves(t *testing.T) {
	reg := registry.NewVariantRegistry(16, time.Hour, 0)
	reg.Put(registry.ModelVariant{Id: "llama-7b", BaseModelId: "llama-70b", MemoryFraction: 0.2, ProjectedQuality: 0.8})

	cfg := config.DefaultSchedulerConfig()
	cfg.StarvationTicks = 2
	cfg.MaxChunks = 0

	f := newFixture(t, cfg, reg)
	f.mon.setFree(0.25)
	f.mon.forecast = monitor.Forecast{FreeFraction: 0.05, Confidence: 1}

	taskId := f.submit(database.Task{ModelId: "llama-70b", ResourceIntensity: 0.9, QualityRequirement: 0.7})

	// First tick swaps in the variant; the forecast still rejects it on the
	// following ticks, which must count towards starvation instead of
	// reapplying the same variant forever.
	f.sched.Tick(context.Background())
	require.Equal(t, "llama-7b", f.taskRecord(taskId).VariantId)

	f.sched.Tick(context.Background())
	f.sched.Tick(context.Background())

	record := f.taskRecord(taskId)
	assert.Equal(t, database.TaskFailed, record.Status)
	assert.Equal(t, database.CauseStarved, record.FailureCause)
	assert.True(t, record.Retriable)

	degraded := 0
	for _, event := range f.events.eventsFor(taskId) {
		if event == messaging.EventTaskDegraded {
			degraded++
		}
	}
	assert.Equal(t, 1, degraded)
}

func TestSchedulerChunkSplitClearsStarvationCounter(t *testing.T) {
	f := newFixture(t, config.DefaultSchedulerConfig(), nil)
	f.mon.setFree(0)

	taskId := f.submit(database.Task{ModelId: "bert", ResourceIntensity: 0.6, QualityRequirement: 1})

	f.sched.Tick(context.Background())
	require.Equal(t, 1, f.sched.starvation[taskId])

	// Capacity returns and the task is split; the stale starvation entry
	// must not linger for a task that no longer sits in the queue.
	f.mon.setFree(0.3)
	f.sched.Tick(context.Background())
	require.Equal(t, database.TaskDegraded, f.taskRecord(taskId).Status)

	_, tracked := f.sched.starvation[taskId]
	assert.False(t, tracked)
}
