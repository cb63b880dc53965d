package scheduler

import "errors"

// ErrDuplicateTask is returned when a task id is already present in the
// queue or database. Submission collisions are rejected at the boundary.
var ErrDuplicateTask = errors.New("task with this id already exists")
