package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	"gpusched-backend/internal/config"
	"gpusched-backend/internal/database"
	"gpusched-backend/internal/executor"
	"gpusched-backend/internal/feedback"
	"gpusched-backend/internal/messaging"
	"gpusched-backend/internal/monitor"
	"gpusched-backend/internal/notify"
	"gpusched-backend/internal/registry"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ResourceMonitor is the read-only view of the GPU the controller schedules
// against.
type ResourceMonitor interface {
	Snapshot() monitor.Snapshot
	Forecast(horizon time.Duration) monitor.Forecast
}

type mergeState struct {
	parent    *Task
	remaining int
}

// Scheduler owns the scheduling loop: it is the only component that moves a
// task into Running, and the executor is the only one that moves it out.
// All queue mutation happens on the loop goroutine, so one tick runs to
// completion before the next begins.
type Scheduler struct {
	db       *gorm.DB
	cfg      config.SchedulerConfig
	queue    *TaskQueue
	monitor  ResourceMonitor
	executor *executor.Executor
	feedback *feedback.Integrator
	registry *registry.VariantRegistry
	receiver messaging.Receiver
	notifier notify.Notifier

	starvation map[uuid.UUID]int
	merges     map[uuid.UUID]*mergeState
	dispatched *Task
}

func New(
	db *gorm.DB,
	cfg config.SchedulerConfig,
	resources ResourceMonitor,
	exec *executor.Executor,
	fb *feedback.Integrator,
	variants *registry.VariantRegistry,
	receiver messaging.Receiver,
	notifier notify.Notifier,
) *Scheduler {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}

	fb.SetHalfLife(cfg.Weights.FeedbackHalfLife)

	return &Scheduler{
		db:         db,
		cfg:        cfg,
		queue:      NewTaskQueue(),
		monitor:    resources,
		executor:   exec,
		feedback:   fb,
		registry:   variants,
		receiver:   receiver,
		notifier:   notifier,
		starvation: make(map[uuid.UUID]int),
		merges:     make(map[uuid.UUID]*mergeState),
	}
}

// Restore reloads pending tasks after a restart: anything non-terminal goes
// back into the queue, and the completed set is rebuilt so dependency checks
// survive the restart. Tasks stranded in RUNNING are requeued, since no
// execution survives the process.
func (s *Scheduler) Restore(ctx context.Context) error {
	var completed []database.Task
	if err := s.db.WithContext(ctx).Where("status = ?", database.TaskCompleted).Find(&completed).Error; err != nil {
		return err
	}
	for _, record := range completed {
		s.queue.MarkCompleted(record.Id)
	}

	var pending []database.Task
	if err := s.db.WithContext(ctx).
		Preload("Dependencies").
		Where("status IN ?", []string{database.TaskQueued, database.TaskRunnable, database.TaskRunning, database.TaskDegraded}).
		Order("submission_time ASC").
		Find(&pending).Error; err != nil {
		return err
	}

	for i := range pending {
		record := &pending[i]
		if record.Status == database.TaskRunning {
			if err := database.UpdateTaskStatus(ctx, s.db, record.Id, database.TaskQueued); err != nil {
				slog.Warn("could not requeue interrupted task", "task_id", record.Id, "error", err)
			}
			record.Status = database.TaskQueued
		}

		task := TaskFromRecord(record)

		// A parent that was chunk-split is not a live queue entry: its chunks
		// run in its place and the merge bookkeeping completes it.
		if record.Status == database.TaskDegraded {
			split, err := s.restoreMerge(ctx, task)
			if err != nil {
				return err
			}
			if split {
				continue
			}
		}

		if err := s.queue.Enqueue(task); err != nil {
			slog.Warn("skipping task during restore", "task_id", task.Id, "error", err)
		}
	}

	slog.Info("scheduler state restored", "pending", s.queue.Len(), "completed", len(completed))
	return nil
}

// restoreMerge rebuilds the chunk bookkeeping for a degraded parent.
// Returns true when the parent was chunk-split, false when the degradation
// was a variant swap and the parent itself still runs.
func (s *Scheduler) restoreMerge(ctx context.Context, parent *Task) (bool, error) {
	var chunks []database.Task
	if err := s.db.WithContext(ctx).Where("parent_id = ?", parent.Id).Find(&chunks).Error; err != nil {
		return false, err
	}
	if len(chunks) == 0 {
		return false, nil
	}

	remaining := 0
	for _, chunk := range chunks {
		if chunk.Status != database.TaskCompleted {
			remaining++
		}
	}

	s.merges[parent.Id] = &mergeState{parent: parent, remaining: max(remaining, 1)}
	if remaining == 0 {
		// Every chunk finished but the parent flip was lost in the restart.
		s.chunkFinished(ctx, parent.Id)
	}
	return true, nil
}

// Run drives the control loop until the context is cancelled. Commands,
// execution results and ticks are all handled on this one goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("starting scheduler loop", "tick_interval", s.cfg.TickInterval)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler loop stopped")
			return
		case msg, ok := <-s.receiver.Tasks():
			if !ok {
				slog.Info("command channel closed, stopping scheduler loop")
				return
			}
			s.handleCommand(ctx, msg)
		case res := <-s.executor.Results():
			s.handleResult(ctx, res)
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, msg messaging.Task) {
	var err error
	switch msg.Type() {
	case messaging.SubmitQueue:
		var payload messaging.SubmitTaskPayload
		if err = json.Unmarshal(msg.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling submit command", "error", err)
			if err := msg.Reject(); err != nil {
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = s.acceptSubmission(ctx, payload.TaskId)

	case messaging.CancelQueue:
		var payload messaging.CancelTaskPayload
		if err = json.Unmarshal(msg.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling cancel command", "error", err)
			if err := msg.Reject(); err != nil {
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		s.cancelTask(ctx, payload.TaskId)

	case messaging.FeedbackQueue:
		var payload messaging.FeedbackPayload
		if err = json.Unmarshal(msg.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling feedback command", "error", err)
			if err := msg.Reject(); err != nil {
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		s.feedback.Add(feedback.Record{
			TaskId:   payload.TaskId,
			Category: payload.Category,
			Rating:   payload.Rating,
		})

	default:
		slog.Error("received unknown command type", "queue", msg.Type())
		if err := msg.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing command", "queue", msg.Type(), "error", err)
		if err := msg.Nack(); err != nil {
			slog.Error("error reporting command failure", "error", err)
		}
	} else {
		if err := msg.Ack(); err != nil {
			slog.Error("error acknowledging command", "error", err)
		}
	}
}

func (s *Scheduler) acceptSubmission(ctx context.Context, taskId uuid.UUID) error {
	var record database.Task
	if err := s.db.WithContext(ctx).Preload("Dependencies").First(&record, "id = ?", taskId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Warn("submit command references unknown task", "task_id", taskId)
			return nil
		}
		return err
	}

	if record.Status != database.TaskQueued {
		// Cancelled (or otherwise resolved) before the scheduler picked the
		// message up.
		slog.Info("ignoring submission for task no longer queued", "task_id", taskId, "status", record.Status)
		return nil
	}

	task := TaskFromRecord(&record)
	if err := s.queue.Enqueue(task); err != nil {
		slog.Warn("duplicate submission ignored", "task_id", taskId)
		return nil
	}

	slog.Info("task accepted", "task_id", task.Id, "model_id", task.ModelId, "base_priority", task.BasePriority)
	return nil
}

// Tick runs one serialized scheduling cycle: recompute priorities, run the
// rebalance sweep, then attempt admission if the execution slot is free.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now()
	snap := s.monitor.Snapshot()
	window := s.feedback.Window()

	s.recomputePriorities(ctx, window, snap, now)
	s.markRunnable(ctx)
	s.rebalance(ctx, snap)

	if s.executor.Busy() {
		return
	}
	s.admit(ctx, snap)
}

func (s *Scheduler) recomputePriorities(ctx context.Context, window FeedbackSource, snap monitor.Snapshot, now time.Time) {
	for _, task := range s.queue.InPriorityOrder() {
		priority := ComputePriority(task, window, snap, now, s.cfg.Weights)
		if math.Abs(priority-task.DynamicPriority) < 1e-9 {
			continue
		}
		s.queue.Reprioritize(task.Id, priority)
		if err := database.UpdateTaskPriority(ctx, s.db, task.Id, priority); err != nil {
			slog.Warn("could not persist task priority", "task_id", task.Id, "error", err)
		}
	}
}

func (s *Scheduler) markRunnable(ctx context.Context) {
	for _, task := range s.queue.Runnable() {
		if task.Status == database.TaskQueued || task.Status == database.TaskDegraded {
			task.Status = database.TaskRunnable
			if err := database.UpdateTaskStatus(ctx, s.db, task.Id, database.TaskRunnable); err != nil {
				slog.Warn("could not persist runnable status", "task_id", task.Id, "error", err)
			}
		}
	}
}

// rebalance preemptively degrades non-critical tasks when aggregate queued
// demand exceeds the configured fraction of capacity, instead of letting
// them fail at execution time.
func (s *Scheduler) rebalance(ctx context.Context, snap monitor.Snapshot) {
	if s.queue.AggregateIntensity() <= s.cfg.RebalanceThreshold {
		return
	}

	for _, task := range s.queue.BelowFloor(s.cfg.DegradePriorityFloor) {
		if task.VariantId != "" {
			continue // already degraded
		}

		strategy, ok := PlanDegradation(task, snap.FreeFraction(), s.registry, 0)
		if !ok || strategy.Variant == nil {
			continue // sweep only does variant swaps, never chunking
		}
		s.applyVariant(ctx, task, strategy.Variant)
	}
}

func (s *Scheduler) admit(ctx context.Context, snap monitor.Snapshot) {
	forecast := s.monitor.Forecast(s.cfg.ForecastHorizon)

	for _, task := range s.queue.Runnable() {
		if s.fits(task, snap, forecast) {
			s.dispatch(ctx, task)
			return
		}

		// Full-request admission failed: build a degradation strategy for
		// this task before considering anything behind it.
		if strategy, ok := PlanDegradation(task, snap.FreeFraction(), s.registry, s.cfg.MaxChunks); ok {
			s.applyStrategy(ctx, task, strategy)
			return
		}

		// No viable degradation either; leave it queued and try the next
		// highest-priority task rather than blocking the queue.
		s.starvation[task.Id]++
		if s.starvation[task.Id] >= s.cfg.StarvationTicks {
			s.failStarved(ctx, task)
		}
	}
}

func (s *Scheduler) fits(task *Task, snap monitor.Snapshot, forecast monitor.Forecast) bool {
	if task.ResourceIntensity > snap.FreeFraction() {
		return false
	}
	// Respect the short-horizon forecast when it is trustworthy: a task that
	// fits now but not in a few seconds would likely die mid-run.
	if forecast.Confidence >= 0.5 && task.ResourceIntensity > forecast.FreeFraction {
		return false
	}
	return true
}

func (s *Scheduler) dispatch(ctx context.Context, task *Task) {
	s.queue.Remove(task.Id)

	req := executor.Request{
		TaskId:    task.Id,
		ModelId:   task.ModelId,
		VariantId: task.VariantId,
		Input:     task.Input,
		Timeout:   task.Timeout,
		Progress: func(p float64) {
			database.UpdateTaskProgress(context.Background(), s.db, task.Id, p) //nolint:errcheck
		},
	}

	if err := s.executor.Start(ctx, req); err != nil {
		// Slot taken between the Busy check and here should not happen on a
		// single loop goroutine, but requeue rather than lose the task.
		slog.Error("could not start task execution", "task_id", task.Id, "error", err)
		if err := s.queue.Enqueue(task); err != nil {
			slog.Error("could not requeue task after failed dispatch", "task_id", task.Id, "error", err)
		}
		return
	}

	task.Status = database.TaskRunning
	s.dispatched = task
	delete(s.starvation, task.Id)

	if err := database.UpdateTaskStatus(ctx, s.db, task.Id, database.TaskRunning); err != nil {
		slog.Warn("could not persist running status", "task_id", task.Id, "error", err)
	}
	slog.Info("task dispatched", "task_id", task.Id, "model_id", task.ModelId, "variant_id", task.VariantId)
}

func (s *Scheduler) applyStrategy(ctx context.Context, task *Task, strategy *Strategy) {
	if strategy.Variant != nil {
		s.applyVariant(ctx, task, strategy.Variant)
		return
	}
	s.applyChunks(ctx, task, strategy.Chunks)
}

func (s *Scheduler) applyVariant(ctx context.Context, task *Task, variant *registry.ModelVariant) {
	task.VariantId = variant.Id
	task.ResourceIntensity = variant.MemoryFraction
	task.Status = database.TaskDegraded

	updates := map[string]any{
		"status":             database.TaskDegraded,
		"variant_id":         variant.Id,
		"resource_intensity": variant.MemoryFraction,
	}
	if err := s.db.WithContext(ctx).Model(&database.Task{Id: task.Id}).Updates(updates).Error; err != nil {
		slog.Error("could not persist variant degradation", "task_id", task.Id, "error", err)
	}

	s.notifier.Notify(messaging.TaskEventPayload{
		TaskId:    task.Id,
		Event:     messaging.EventTaskDegraded,
		Timestamp: time.Now().UTC(),
	})
	slog.Info("task degraded to smaller variant", "task_id", task.Id, "variant_id", variant.Id, "quality", variant.ProjectedQuality)
}

// applyChunks splits a task into ordered chunk tasks. Each chunk depends on
// its predecessor so outputs complete in chunk-index order, and the parent
// completes once the final chunk does.
func (s *Scheduler) applyChunks(ctx context.Context, task *Task, chunks []ChunkSpec) {
	s.queue.Remove(task.Id)
	delete(s.starvation, task.Id)
	task.Status = database.TaskDegraded

	if err := database.UpdateTaskStatus(ctx, s.db, task.Id, database.TaskDegraded); err != nil {
		slog.Error("could not persist chunk degradation", "task_id", task.Id, "error", err)
	}

	var prevId uuid.UUID
	for _, chunk := range chunks {
		child := &Task{
			Id:                 uuid.New(),
			ParentId:           task.Id,
			ChunkIndex:         chunk.Index,
			Category:           task.Category,
			ModelId:            task.ModelId,
			Input:              task.Input,
			BasePriority:       task.BasePriority,
			ResourceIntensity:  chunk.Intensity,
			QualityRequirement: task.QualityRequirement,
			Deadline:           task.Deadline,
			Timeout:            task.Timeout,
			Status:             database.TaskQueued,
			DynamicPriority:    task.DynamicPriority,
			SubmissionTime:     time.Now().UTC(),
		}
		if prevId != uuid.Nil {
			child.Dependencies = []uuid.UUID{prevId}
		}
		prevId = child.Id

		record := database.Task{
			Id:                 child.Id,
			ParentId:           uuid.NullUUID{UUID: task.Id, Valid: true},
			ChunkIndex:         chunk.Index,
			Category:           child.Category,
			ModelId:            child.ModelId,
			Input:              datatypes.JSON(child.Input),
			BasePriority:       child.BasePriority,
			DynamicPriority:    child.DynamicPriority,
			ResourceIntensity:  child.ResourceIntensity,
			QualityRequirement: child.QualityRequirement,
			TimeoutSeconds:     int(child.Timeout / time.Second),
			Status:             database.TaskQueued,
			SubmissionTime:     child.SubmissionTime,
		}
		if child.Deadline != nil {
			record.Deadline = sql.NullTime{Time: *child.Deadline, Valid: true}
		}
		for _, dep := range child.Dependencies {
			record.Dependencies = append(record.Dependencies, database.TaskDependency{TaskId: child.Id, DependsOn: dep})
		}

		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
			slog.Error("could not persist chunk task", "task_id", child.Id, "parent_id", task.Id, "error", err)
		}
		if err := s.queue.Enqueue(child); err != nil {
			slog.Error("could not enqueue chunk task", "task_id", child.Id, "error", err)
		}
	}

	s.merges[task.Id] = &mergeState{parent: task, remaining: len(chunks)}

	s.notifier.Notify(messaging.TaskEventPayload{
		TaskId:    task.Id,
		Event:     messaging.EventTaskDegraded,
		Timestamp: time.Now().UTC(),
	})
	slog.Info("task split into chunks", "task_id", task.Id, "chunks", len(chunks))
}

func (s *Scheduler) handleResult(ctx context.Context, res executor.Result) {
	task := s.dispatched
	if task == nil || task.Id != res.TaskId {
		slog.Error("received result for unexpected task", "task_id", res.TaskId)
		return
	}
	s.dispatched = nil

	switch {
	case res.Err == nil:
		s.completeTask(ctx, task, res)

	case res.Cause == executor.CauseCancelled:
		task.Status = database.TaskCancelled
		if err := database.UpdateTaskStatus(ctx, s.db, task.Id, database.TaskCancelled); err != nil {
			slog.Warn("could not persist cancelled status", "task_id", task.Id, "error", err)
		}
		s.notifier.Notify(messaging.TaskEventPayload{
			TaskId:    task.Id,
			Event:     messaging.EventTaskCancelled,
			Timestamp: time.Now().UTC(),
		})
		slog.Info("task cancelled at execution checkpoint", "task_id", task.Id)
		if task.ParentId != uuid.Nil {
			s.cancelMerge(ctx, task.ParentId)
		}

	case res.Cause == executor.CauseResourceExhaustion:
		s.requeueDegraded(ctx, task, res)

	case res.Cause == executor.CauseTimeout:
		s.failTask(ctx, task, database.CauseTimeout, false, res.Err)

	default:
		s.failTask(ctx, task, database.CauseExecutionError, false, res.Err)
	}
}

func (s *Scheduler) completeTask(ctx context.Context, task *Task, res executor.Result) {
	task.Status = database.TaskCompleted
	s.queue.MarkCompleted(task.Id)

	if err := database.UpdateTaskStatus(ctx, s.db, task.Id, database.TaskCompleted); err != nil {
		slog.Warn("could not persist completed status", "task_id", task.Id, "error", err)
	}

	// Execution actuals seed the feedback window; explicit user ratings
	// arrive later through the feedback queue.
	s.feedback.Add(feedback.Record{
		TaskId:             task.Id,
		Category:           task.Category,
		Rating:             res.Outcome.Quality,
		Quality:            res.Outcome.Quality,
		Latency:            res.Latency,
		UtilizationPercent: res.Outcome.UtilizationPercent,
		MemoryUsedBytes:    res.Outcome.MemoryPeakBytes,
	})

	s.notifier.Notify(messaging.TaskEventPayload{
		TaskId:    task.Id,
		Event:     messaging.EventTaskCompleted,
		Timestamp: time.Now().UTC(),
	})

	if task.ParentId != uuid.Nil {
		s.chunkFinished(ctx, task.ParentId)
	}
}

func (s *Scheduler) chunkFinished(ctx context.Context, parentId uuid.UUID) {
	merge, ok := s.merges[parentId]
	if !ok {
		return
	}

	merge.remaining--
	if merge.remaining > 0 {
		return
	}
	delete(s.merges, parentId)

	merge.parent.Status = database.TaskCompleted
	s.queue.MarkCompleted(parentId)
	if err := database.UpdateTaskStatus(ctx, s.db, parentId, database.TaskCompleted); err != nil {
		slog.Warn("could not persist parent completion", "task_id", parentId, "error", err)
	}

	s.notifier.Notify(messaging.TaskEventPayload{
		TaskId:    parentId,
		Event:     messaging.EventTaskCompleted,
		Timestamp: time.Now().UTC(),
	})
	slog.Info("all chunks completed, parent task merged", "task_id", parentId)
}

// requeueDegraded handles resource exhaustion reported mid-execution: apply
// degradation retroactively and put the remainder back in the queue.
func (s *Scheduler) requeueDegraded(ctx context.Context, task *Task, res executor.Result) {
	slog.Warn("task hit resource exhaustion mid-execution", "task_id", task.Id, "error", res.Err)

	snap := s.monitor.Snapshot()
	if strategy, ok := PlanDegradation(task, snap.FreeFraction(), s.registry, s.cfg.MaxChunks); ok {
		if strategy.Variant != nil {
			if err := s.queue.Enqueue(task); err != nil {
				slog.Error("could not requeue exhausted task", "task_id", task.Id, "error", err)
				return
			}
			s.applyVariant(ctx, task, strategy.Variant)
			return
		}
		s.applyChunks(ctx, task, strategy.Chunks)
		return
	}

	// No degradation viable right now; requeue at full request and let the
	// next ticks retry admission.
	task.Status = database.TaskQueued
	if err := s.queue.Enqueue(task); err != nil {
		slog.Error("could not requeue exhausted task", "task_id", task.Id, "error", err)
		return
	}
	if err := database.UpdateTaskStatus(ctx, s.db, task.Id, database.TaskQueued); err != nil {
		slog.Warn("could not persist requeued status", "task_id", task.Id, "error", err)
	}
}

func (s *Scheduler) failTask(ctx context.Context, task *Task, cause string, retriable bool, execErr error) {
	task.Status = database.TaskFailed

	if err := database.UpdateTaskFailure(ctx, s.db, task.Id, cause, retriable); err != nil {
		slog.Warn("could not persist task failure", "task_id", task.Id, "error", err)
	}
	if execErr != nil {
		database.SaveTaskError(ctx, s.db, task.Id, execErr.Error())
	}

	s.notifier.Notify(messaging.TaskEventPayload{
		TaskId:    task.Id,
		Event:     messaging.EventTaskFailed,
		Cause:     cause,
		Timestamp: time.Now().UTC(),
	})
	slog.Warn("task failed", "task_id", task.Id, "cause", cause, "retriable", retriable)

	// A failed chunk fails the whole split: cancel the siblings and the
	// parent so nothing waits on a merge that cannot happen.
	if task.ParentId != uuid.Nil {
		s.failMerge(ctx, task.ParentId, cause)
	}
}

// cancelChunks cancels the queued chunks of parentId and requests
// cancellation of a running one.
func (s *Scheduler) cancelChunks(ctx context.Context, parentId uuid.UUID) {
	for _, queued := range s.queue.InPriorityOrder() {
		if queued.ParentId == parentId {
			s.queue.Remove(queued.Id)
			delete(s.starvation, queued.Id)
			if err := database.UpdateTaskStatus(ctx, s.db, queued.Id, database.TaskCancelled); err != nil {
				slog.Warn("could not persist chunk cancellation", "task_id", queued.Id, "error", err)
			}
		}
	}
	if s.dispatched != nil && s.dispatched.ParentId == parentId {
		s.executor.Cancel(s.dispatched.Id)
	}
}

// cancelMerge tears down a chunk split after one chunk is cancelled: the
// remaining chunks are chained on the cancelled one and can never run, so
// they and the parent must go terminal too.
func (s *Scheduler) cancelMerge(ctx context.Context, parentId uuid.UUID) {
	merge, ok := s.merges[parentId]
	if !ok {
		return
	}
	delete(s.merges, parentId)

	s.cancelChunks(ctx, parentId)

	merge.parent.Status = database.TaskCancelled
	if err := database.UpdateTaskStatus(ctx, s.db, parentId, database.TaskCancelled); err != nil {
		slog.Warn("could not persist cancelled status", "task_id", parentId, "error", err)
	}
	s.notifier.Notify(messaging.TaskEventPayload{
		TaskId:    parentId,
		Event:     messaging.EventTaskCancelled,
		Timestamp: time.Now().UTC(),
	})
	slog.Info("chunk split cancelled", "task_id", parentId)
}

func (s *Scheduler) failMerge(ctx context.Context, parentId uuid.UUID, cause string) {
	merge, ok := s.merges[parentId]
	if !ok {
		return
	}
	delete(s.merges, parentId)

	s.cancelChunks(ctx, parentId)

	merge.parent.Status = database.TaskFailed
	if err := database.UpdateTaskFailure(ctx, s.db, parentId, cause, false); err != nil {
		slog.Warn("could not persist parent failure", "task_id", parentId, "error", err)
	}
	s.notifier.Notify(messaging.TaskEventPayload{
		TaskId:    parentId,
		Event:     messaging.EventTaskFailed,
		Cause:     cause,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Scheduler) failStarved(ctx context.Context, task *Task) {
	s.queue.Remove(task.Id)
	delete(s.starvation, task.Id)

	task.Status = database.TaskFailed
	if err := database.UpdateTaskFailure(ctx, s.db, task.Id, database.CauseStarved, true); err != nil {
		slog.Warn("could not persist starvation failure", "task_id", task.Id, "error", err)
	}

	s.notifier.Notify(messaging.TaskEventPayload{
		TaskId:    task.Id,
		Event:     messaging.EventTaskFailed,
		Cause:     database.CauseStarved,
		Timestamp: time.Now().UTC(),
	})
	slog.Warn("task starved out of admission", "task_id", task.Id, "ticks", s.cfg.StarvationTicks)
}

func (s *Scheduler) cancelTask(ctx context.Context, taskId uuid.UUID) {
	// Running: advisory cancellation, the executor observes it at its next
	// checkpoint and the result path records the final state.
	if s.dispatched != nil && s.dispatched.Id == taskId {
		slog.Info("requesting cancellation of running task", "task_id", taskId)
		s.executor.Cancel(taskId)
		return
	}

	// A degraded parent waiting on chunks: cancel the chunks and the parent.
	if _, ok := s.merges[taskId]; ok {
		s.cancelMerge(ctx, taskId)
		return
	}

	// Queued (or unknown): immediate. Removing an absent id is a no-op.
	task := s.queue.Remove(taskId)
	if task == nil {
		slog.Info("cancel for task not in queue", "task_id", taskId)
		return
	}

	task.Status = database.TaskCancelled
	delete(s.starvation, taskId)
	if err := database.UpdateTaskStatus(ctx, s.db, taskId, database.TaskCancelled); err != nil {
		slog.Warn("could not persist cancelled status", "task_id", taskId, "error", err)
	}
	s.notifier.Notify(messaging.TaskEventPayload{
		TaskId:    taskId,
		Event:     messaging.EventTaskCancelled,
		Timestamp: time.Now().UTC(),
	})
	slog.Info("queued task cancelled", "task_id", taskId)

	// Cancelling one chunk strands the rest of the split behind a dependency
	// that will never complete, so the whole split goes with it.
	if task.ParentId != uuid.Nil {
		s.cancelMerge(ctx, task.ParentId)
	}
}

// QueueLen reports the number of pending tasks; used by status endpoints
// and tests.
func (s *Scheduler) QueueLen() int { return s.queue.Len() }
