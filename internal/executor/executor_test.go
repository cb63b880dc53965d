package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	mu      sync.Mutex
	block   chan struct{}
	outcome Outcome
	err     error
}

func (r *stubRunner) Run(ctx context.Context, req Request) (Outcome, error) {
	r.mu.Lock()
	block := r.block
	outcome, err := r.outcome, r.err
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
	return outcome, err
}

func awaitResult(t *testing.T, e *Executor) Result {
	select {
	case res := <-e.Results():
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

func TestExecutorRunsOneTask(t *testing.T) {
	runner := &stubRunner{outcome: Outcome{Quality: 0.8, Output: []byte("ok")}}
	e := New(runner)

	taskId := uuid.New()
	require.NoError(t, e.Start(context.Background(), Request{TaskId: taskId}))

	res := awaitResult(t, e)
	assert.NoError(t, res.Err)
	assert.Equal(t, taskId, res.TaskId)
	assert.Equal(t, 0.8, res.Outcome.Quality)
	assert.False(t, e.Busy())
}

func TestExecutorSingleSlot(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	e := New(runner)

	require.NoError(t, e.Start(context.Background(), Request{TaskId: uuid.New()}))
	assert.True(t, e.Busy())

	err := e.Start(context.Background(), Request{TaskId: uuid.New()})
	assert.ErrorIs(t, err, ErrBusy)

	close(runner.block)
	awaitResult(t, e)
	assert.False(t, e.Busy())
}

func TestExecutorSlotFreedAfterFailure(t *testing.T) {
	runner := &stubRunner{err: errors.New("model exploded")}
	e := New(runner)

	require.NoError(t, e.Start(context.Background(), Request{TaskId: uuid.New()}))

	res := awaitResult(t, e)
	assert.Error(t, res.Err)
	assert.Equal(t, CauseExecutionError, res.Cause)

	// The slot must free even on failure.
	require.NoError(t, e.Start(context.Background(), Request{TaskId: uuid.New()}))
	awaitResult(t, e)
}

func TestExecutorTimeout(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	e := New(runner)

	require.NoError(t, e.Start(context.Background(), Request{TaskId: uuid.New(), Timeout: 20 * time.Millisecond}))

	res := awaitResult(t, e)
	assert.Equal(t, CauseTimeout, res.Cause)
}

func TestExecutorCancelObservedAtCheckpoint(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	e := New(runner)

	taskId := uuid.New()
	require.NoError(t, e.Start(context.Background(), Request{TaskId: taskId}))

	e.Cancel(taskId)

	res := awaitResult(t, e)
	assert.Equal(t, CauseCancelled, res.Cause)
}

func TestExecutorCancelOtherTaskIgnored(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	e := New(runner)

	taskId := uuid.New()
	require.NoError(t, e.Start(context.Background(), Request{TaskId: taskId}))

	e.Cancel(uuid.New())
	assert.True(t, e.Busy())
	assert.Equal(t, taskId, e.Running())

	close(runner.block)
	awaitResult(t, e)
}

func TestExecutorResourceExhaustionClassified(t *testing.T) {
	runner := &stubRunner{err: &ResourceExhaustionError{Requested: 0.5, Available: 0.2}}
	e := New(runner)

	require.NoError(t, e.Start(context.Background(), Request{TaskId: uuid.New()}))

	res := awaitResult(t, e)
	assert.Equal(t, CauseResourceExhaustion, res.Cause)

	var exhaustion *ResourceExhaustionError
	assert.True(t, errors.As(res.Err, &exhaustion))
}
