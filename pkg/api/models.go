package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SubmitTaskRequest struct {
	// Id is optional; when set, resubmitting the same id is rejected as a
	// duplicate instead of creating a second task.
	Id *uuid.UUID

	Category           string
	ModelId            string
	Input              json.RawMessage
	BasePriority       float64
	ResourceIntensity  float64
	QualityRequirement float64
	Deadline           *time.Time
	TimeoutSeconds     int
	Dependencies       []uuid.UUID
}

type SubmitTaskResponse struct {
	TaskId uuid.UUID
}

type Task struct {
	Id              uuid.UUID
	ParentId        *uuid.UUID
	ChunkIndex      int
	Category        string
	ModelId         string
	VariantId       string
	Status          string
	BasePriority    float64
	DynamicPriority float64

	ResourceIntensity  float64
	QualityRequirement float64
	Deadline           *time.Time

	FailureCause string
	Retriable    bool

	// Progress is a rough completion estimate in [0, 1], only meaningful
	// while the task is running.
	Progress float64

	SubmissionTime time.Time
	StartTime      *time.Time
	CompletionTime *time.Time
}

type ListTasksRequest struct {
	Status   string `schema:"status"`
	Category string `schema:"category"`
	Query    string `schema:"query"`
	Limit    int    `schema:"limit"`
}

type SubmitFeedbackRequest struct {
	Rating   float64
	Category string
}

type ResourceSnapshot struct {
	UtilizationPercent float64
	MemoryTotalBytes   uint64
	MemoryUsedBytes    uint64
	MemoryFreeBytes    uint64
	TemperatureCelsius float64
	Stale              bool
	Timestamp          time.Time
}

type TaskEvent struct {
	TaskId    uuid.UUID
	Event     string
	Cause     string `json:"Cause,omitempty"`
	Timestamp time.Time
}
