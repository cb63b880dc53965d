package scheduler

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePriorityOrdering(t *testing.T) {
	q := NewTaskQueue()

	low := &Task{Id: uuid.New(), DynamicPriority: 0.2}
	high := &Task{Id: uuid.New(), DynamicPriority: 0.9}
	mid := &Task{Id: uuid.New(), DynamicPriority: 0.5}

	require.NoError(t, q.Enqueue(low))
	require.NoError(t, q.Enqueue(high))
	require.NoError(t, q.Enqueue(mid))

	ordered := q.InPriorityOrder()
	require.Len(t, ordered, 3)
	assert.Equal(t, high.Id, ordered[0].Id)
	assert.Equal(t, mid.Id, ordered[1].Id)
	assert.Equal(t, low.Id, ordered[2].Id)
}

func TestQueueFIFOTieBreak(t *testing.T) {
	q := NewTaskQueue()

	first := &Task{Id: uuid.New(), DynamicPriority: 0.5}
	second := &Task{Id: uuid.New(), DynamicPriority: 0.5}
	third := &Task{Id: uuid.New(), DynamicPriority: 0.5}

	require.NoError(t, q.Enqueue(first))
	require.NoError(t, q.Enqueue(second))
	require.NoError(t, q.Enqueue(third))

	assert.Equal(t, first.Id, q.PopRunnable().Id)
	assert.Equal(t, second.Id, q.PopRunnable().Id)
	assert.Equal(t, third.Id, q.PopRunnable().Id)
}

func TestQueueDuplicateEnqueue(t *testing.T) {
	q := NewTaskQueue()
	task := &Task{Id: uuid.New(), DynamicPriority: 0.5}

	require.NoError(t, q.Enqueue(task))
	assert.ErrorIs(t, q.Enqueue(task), ErrDuplicateTask)
	assert.Equal(t, 1, q.Len())
}

func TestQueueRemoveAbsentIsNoop(t *testing.T) {
	q := NewTaskQueue()
	require.NoError(t, q.Enqueue(&Task{Id: uuid.New()}))

	assert.Nil(t, q.Remove(uuid.New()))
	assert.Equal(t, 1, q.Len())
}

func TestQueueDependenciesBlockRunnable(t *testing.T) {
	q := NewTaskQueue()

	dep := uuid.New()
	blocked := &Task{Id: uuid.New(), DynamicPriority: 0.9, Dependencies: []uuid.UUID{dep}}
	free := &Task{Id: uuid.New(), DynamicPriority: 0.1}

	require.NoError(t, q.Enqueue(blocked))
	require.NoError(t, q.Enqueue(free))

	// The blocked task outranks the free one but must not surface until its
	// dependency completes.
	assert.Equal(t, free.Id, q.PeekRunnable().Id)

	q.MarkCompleted(dep)
	assert.Equal(t, blocked.Id, q.PeekRunnable().Id)
}

func TestQueueNoRunnableTasks(t *testing.T) {
	q := NewTaskQueue()

	blocked := &Task{Id: uuid.New(), Dependencies: []uuid.UUID{uuid.New()}}
	require.NoError(t, q.Enqueue(blocked))

	assert.Nil(t, q.PeekRunnable())
	assert.Nil(t, q.PopRunnable())
	assert.Equal(t, 1, q.Len())
}

func TestQueueReprioritize(t *testing.T) {
	q := NewTaskQueue()

	a := &Task{Id: uuid.New(), DynamicPriority: 0.9}
	b := &Task{Id: uuid.New(), DynamicPriority: 0.1}

	require.NoError(t, q.Enqueue(a))
	require.NoError(t, q.Enqueue(b))
	assert.Equal(t, a.Id, q.PeekRunnable().Id)

	assert.True(t, q.Reprioritize(b.Id, 1.5))
	assert.Equal(t, b.Id, q.PeekRunnable().Id)

	assert.False(t, q.Reprioritize(uuid.New(), 0.5))
}

func TestQueueInPriorityOrderDoesNotCorruptHeap(t *testing.T) {
	q := NewTaskQueue()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(&Task{Id: uuid.New(), DynamicPriority: float64(i) / 10}))
	}

	_ = q.InPriorityOrder()
	_ = q.InPriorityOrder()

	var last float64 = 2
	for q.Len() > 0 {
		task := q.PopRunnable()
		require.NotNil(t, task)
		assert.LessOrEqual(t, task.DynamicPriority, last)
		last = task.DynamicPriority
	}
}

func TestQueueAggregateIntensityAndFloor(t *testing.T) {
	q := NewTaskQueue()

	require.NoError(t, q.Enqueue(&Task{Id: uuid.New(), DynamicPriority: 0.1, ResourceIntensity: 0.4}))
	require.NoError(t, q.Enqueue(&Task{Id: uuid.New(), DynamicPriority: 0.8, ResourceIntensity: 0.5}))

	assert.InDelta(t, 0.9, q.AggregateIntensity(), 1e-9)

	below := q.BelowFloor(0.3)
	require.Len(t, below, 1)
	assert.InDelta(t, 0.1, below[0].DynamicPriority, 1e-9)
}
