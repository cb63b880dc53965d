package scheduler

import (
	"time"

	"gpusched-backend/internal/database"

	"github.com/google/uuid"
)

// Task is the scheduler's working copy of a task. The database row is the
// system of record for observability; this struct is what the queue,
// priority calculator and admission controller operate on.
type Task struct {
	Id         uuid.UUID
	ParentId   uuid.UUID // uuid.Nil unless this is a chunk task
	ChunkIndex int

	Category string
	ModelId  string
	Input    []byte

	BasePriority       float64
	ResourceIntensity  float64
	QualityRequirement float64

	Deadline *time.Time
	Timeout  time.Duration

	Dependencies []uuid.UUID

	// VariantId is set when a degradation strategy moved the task onto a
	// smaller model variant.
	VariantId string

	Status          string
	DynamicPriority float64
	SubmissionTime  time.Time
}

func TaskFromRecord(record *database.Task) *Task {
	task := &Task{
		Id:                 record.Id,
		ChunkIndex:         record.ChunkIndex,
		Category:           record.Category,
		ModelId:            record.ModelId,
		Input:              []byte(record.Input),
		BasePriority:       record.BasePriority,
		ResourceIntensity:  record.ResourceIntensity,
		QualityRequirement: record.QualityRequirement,
		Timeout:            time.Duration(record.TimeoutSeconds) * time.Second,
		Status:             record.Status,
		DynamicPriority:    record.DynamicPriority,
		SubmissionTime:     record.SubmissionTime,
	}

	task.VariantId = record.VariantId
	if record.ParentId.Valid {
		task.ParentId = record.ParentId.UUID
	}
	if record.Deadline.Valid {
		deadline := record.Deadline.Time
		task.Deadline = &deadline
	}
	for _, dep := range record.Dependencies {
		task.Dependencies = append(task.Dependencies, dep.DependsOn)
	}

	return task
}
