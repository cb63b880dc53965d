package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request is everything the executor needs to run one task against the GPU.
type Request struct {
	TaskId    uuid.UUID
	ModelId   string
	VariantId string
	Input     []byte

	// Timeout of zero means no timeout: the task may hold the execution
	// slot until it finishes or is cancelled.
	Timeout time.Duration

	// Progress, when non-nil, receives rough completion estimates in [0, 1]
	// from the runner.
	Progress func(float64)
}

// Outcome carries the actuals a successful run reports back, which seed the
// feedback record for the run.
type Outcome struct {
	Output             []byte
	Quality            float64
	UtilizationPercent float64
	MemoryPeakBytes    uint64
}

// Runner is the opaque model execution sink. Calls may be slow and are
// expected to observe ctx at safe checkpoints (e.g. between chunks) rather
// than preempting mid-step.
type Runner interface {
	Run(ctx context.Context, req Request) (Outcome, error)
}

// ResourceExhaustionError signals that the GPU ran out of resources
// mid-execution. The controller reacts by degrading and requeueing the
// remainder instead of failing the task outright.
type ResourceExhaustionError struct {
	Requested float64
	Available float64
}

func (e *ResourceExhaustionError) Error() string {
	return fmt.Sprintf("resource exhaustion: requested %.2f of GPU memory, %.2f available", e.Requested, e.Available)
}

const (
	CauseTimeout            = "TIMEOUT"
	CauseCancelled          = "CANCELLED"
	CauseExecutionError     = "EXECUTION_ERROR"
	CauseResourceExhaustion = "RESOURCE_EXHAUSTION"
)

type Result struct {
	TaskId    uuid.UUID
	VariantId string

	Err   error
	Cause string // empty on success

	Outcome Outcome
	Latency time.Duration
}

// ErrBusy is returned by Start while another task holds the execution slot.
var ErrBusy = errors.New("executor is already running a task")

// Executor runs exactly one task at a time against the dedicated GPU. The
// slot is guarded internally so no caller mistake can start a second run.
type Executor struct {
	runner  Runner
	results chan Result

	lock    sync.Mutex
	current uuid.UUID
	cancel  context.CancelFunc
}

func New(runner Runner) *Executor {
	return &Executor{
		runner:  runner,
		results: make(chan Result, 16),
	}
}

// Start claims the execution slot and runs the request in a goroutine so the
// scheduling loop stays free to accept submissions and cancellations.
// Returns ErrBusy if a task is already running.
func (e *Executor) Start(ctx context.Context, req Request) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.current != uuid.Nil {
		return ErrBusy
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	e.current = req.TaskId
	e.cancel = cancel

	go e.run(runCtx, cancel, req)
	return nil
}

func (e *Executor) run(ctx context.Context, cancel context.CancelFunc, req Request) {
	defer cancel()

	start := time.Now()
	outcome, err := e.runner.Run(ctx, req)
	latency := time.Since(start)

	result := Result{
		TaskId:    req.TaskId,
		VariantId: req.VariantId,
		Err:       err,
		Outcome:   outcome,
		Latency:   latency,
	}
	if err != nil {
		result.Cause = classify(ctx, err)
	}

	e.lock.Lock()
	e.current = uuid.Nil
	e.cancel = nil
	e.lock.Unlock()

	slog.Info("task execution finished", "task_id", req.TaskId, "cause", result.Cause, "latency", latency)
	e.results <- result
}

func classify(ctx context.Context, err error) string {
	var exhaustion *ResourceExhaustionError
	switch {
	case errors.As(err, &exhaustion):
		return CauseResourceExhaustion
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return CauseTimeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return CauseCancelled
	default:
		return CauseExecutionError
	}
}

// Busy reports whether a task currently holds the execution slot.
func (e *Executor) Busy() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.current != uuid.Nil
}

// Running returns the id of the task holding the slot, or uuid.Nil.
func (e *Executor) Running() uuid.UUID {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.current
}

// Cancel is advisory: it cancels the run context, and the runner observes it
// at its next safe checkpoint. Cancelling a task that is not running is a
// no-op.
func (e *Executor) Cancel(taskId uuid.UUID) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.current == taskId && e.cancel != nil {
		e.cancel()
	}
}

// Results delivers one Result per started task, successes and failures both.
func (e *Executor) Results() <-chan Result {
	return e.results
}
