package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TaskQueued    string = "QUEUED"
	TaskRunnable  string = "RUNNABLE"
	TaskRunning   string = "RUNNING"
	TaskDegraded  string = "DEGRADED"
	TaskCompleted string = "COMPLETED"
	TaskFailed    string = "FAILED"
	TaskCancelled string = "CANCELLED"
)

const (
	CauseTimeout        string = "TIMEOUT"
	CauseExecutionError string = "EXECUTION_ERROR"
	CauseStarved        string = "STARVED"
	CauseCancelled      string = "CANCELLED"
)

func IsTerminalStatus(status string) bool {
	return status == TaskCompleted || status == TaskFailed || status == TaskCancelled
}

type Task struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ParentId   uuid.NullUUID `gorm:"type:uuid"`
	Parent     *Task         `gorm:"foreignKey:ParentId"`
	ChunkIndex int           `gorm:"default:0"`

	Category string         `gorm:"size:64"`
	ModelId  string         `gorm:"size:128;not null"`
	Input    datatypes.JSON `gorm:"type:jsonb"`

	// VariantId is set when a degradation strategy moved the task onto a
	// smaller model variant.
	VariantId string `gorm:"size:128"`

	BasePriority       float64
	DynamicPriority    float64
	ResourceIntensity  float64
	QualityRequirement float64

	Deadline       sql.NullTime
	TimeoutSeconds int `gorm:"default:0"`

	Status       string `gorm:"size:20;not null;index"`
	FailureCause string `gorm:"size:32"`
	Retriable    bool   `gorm:"default:false"`
	Progress     float64

	SubmissionTime time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	Dependencies []TaskDependency `gorm:"foreignKey:TaskId;constraint:OnDelete:CASCADE"`
	Errors       []TaskError      `gorm:"foreignKey:TaskId;constraint:OnDelete:CASCADE"`
}

type TaskDependency struct {
	TaskId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	DependsOn uuid.UUID `gorm:"type:uuid;primaryKey"`
}

type TaskError struct {
	TaskId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}

// FeedbackRecord rows are immutable once written.
type FeedbackRecord struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	TaskId uuid.UUID `gorm:"type:uuid;index"`

	Category string  `gorm:"size:64;index"`
	Rating   float64 `gorm:"not null"`

	Quality            float64
	LatencyMs          int64
	UtilizationPercent float64
	MemoryUsedBytes    uint64

	Timestamp time.Time `gorm:"index"`
}

type ResourceSample struct {
	Id        int64     `gorm:"primaryKey;autoIncrement"`
	SampledAt time.Time `gorm:"not null;index"`
	Stale     bool      `gorm:"default:false"`

	UtilizationPercent float64
	MemoryTotalBytes   uint64
	MemoryUsedBytes    uint64
	MemoryFreeBytes    uint64
	TemperatureCelsius float64
}
