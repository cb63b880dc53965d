package scheduler

import (
	"container/heap"
	"sort"

	"github.com/google/uuid"
)

type queueItem struct {
	task  *Task
	seq   uint64
	index int
}

type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.DynamicPriority != h[j].task.DynamicPriority {
		return h[i].task.DynamicPriority > h[j].task.DynamicPriority
	}
	// FIFO tie-break: earlier submissions win, which keeps equal-priority
	// ordering stable and prevents starvation among ties.
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// TaskQueue holds pending tasks ordered by dynamic priority. It understands
// dependency-readiness and nothing else; resource admission is the
// controller's concern. The scheduling loop serializes all access, so the
// queue carries no lock of its own.
type TaskQueue struct {
	heap      taskHeap
	byId      map[uuid.UUID]*queueItem
	completed map[uuid.UUID]struct{}
	nextSeq   uint64
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		byId:      make(map[uuid.UUID]*queueItem),
		completed: make(map[uuid.UUID]struct{}),
	}
}

func (q *TaskQueue) Enqueue(task *Task) error {
	if _, exists := q.byId[task.Id]; exists {
		return ErrDuplicateTask
	}

	item := &queueItem{task: task, seq: q.nextSeq}
	q.nextSeq++

	q.byId[task.Id] = item
	heap.Push(&q.heap, item)
	return nil
}

// Remove drops a task from the queue. Removing an id that is not present is
// a no-op: cancellation of an already-gone task is not an error.
func (q *TaskQueue) Remove(id uuid.UUID) *Task {
	item, exists := q.byId[id]
	if !exists {
		return nil
	}

	delete(q.byId, id)
	heap.Remove(&q.heap, item.index)
	return item.task
}

func (q *TaskQueue) Reprioritize(id uuid.UUID, newPriority float64) bool {
	item, exists := q.byId[id]
	if !exists {
		return false
	}

	item.task.DynamicPriority = newPriority
	heap.Fix(&q.heap, item.index)
	return true
}

func (q *TaskQueue) Get(id uuid.UUID) *Task {
	if item, exists := q.byId[id]; exists {
		return item.task
	}
	return nil
}

func (q *TaskQueue) Len() int { return len(q.heap) }

// MarkCompleted records a completed dependency target. Only Completed
// dependencies unblock dependents.
func (q *TaskQueue) MarkCompleted(id uuid.UUID) {
	q.completed[id] = struct{}{}
}

func (q *TaskQueue) runnable(task *Task) bool {
	for _, dep := range task.Dependencies {
		if _, done := q.completed[dep]; !done {
			return false
		}
	}
	return true
}

// PeekRunnable returns the highest-priority task whose dependencies are all
// completed, or nil when nothing is runnable even if tasks are queued.
func (q *TaskQueue) PeekRunnable() *Task {
	for _, task := range q.InPriorityOrder() {
		if q.runnable(task) {
			return task
		}
	}
	return nil
}

// PopRunnable removes and returns the highest-priority runnable task.
func (q *TaskQueue) PopRunnable() *Task {
	task := q.PeekRunnable()
	if task == nil {
		return nil
	}
	return q.Remove(task.Id)
}

// Runnable returns every dependency-ready task in priority order. The
// controller walks this list so one unschedulable task never blocks the
// tasks behind it.
func (q *TaskQueue) Runnable() []*Task {
	var out []*Task
	for _, task := range q.InPriorityOrder() {
		if q.runnable(task) {
			out = append(out, task)
		}
	}
	return out
}

// InPriorityOrder returns all queued tasks in strict priority order without
// disturbing the queue. Sorting a snapshot keeps the heap's internal indexes
// untouched.
func (q *TaskQueue) InPriorityOrder() []*Task {
	scratch := make([]*queueItem, len(q.heap))
	copy(scratch, q.heap)

	sort.Slice(scratch, func(i, j int) bool {
		if scratch[i].task.DynamicPriority != scratch[j].task.DynamicPriority {
			return scratch[i].task.DynamicPriority > scratch[j].task.DynamicPriority
		}
		return scratch[i].seq < scratch[j].seq
	})

	out := make([]*Task, len(scratch))
	for i, item := range scratch {
		out[i] = item.task
	}
	return out
}

// AggregateIntensity is the summed resource intensity of all queued tasks,
// used by the rebalance sweep to detect overload.
func (q *TaskQueue) AggregateIntensity() float64 {
	total := 0.0
	for _, item := range q.heap {
		total += item.task.ResourceIntensity
	}
	return total
}

// BelowFloor returns queued tasks whose dynamic priority is under the given
// floor, candidates for preemptive degradation.
func (q *TaskQueue) BelowFloor(floor float64) []*Task {
	var out []*Task
	for _, item := range q.heap {
		if item.task.DynamicPriority < floor {
			out = append(out, item.task)
		}
	}
	return out
}
