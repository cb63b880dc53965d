package api

import (
	"gpusched-backend/internal/database"
	"gpusched-backend/pkg/api"
)

func convertTask(record database.Task) api.Task {
	task := api.Task{
		Id:                 record.Id,
		ChunkIndex:         record.ChunkIndex,
		Category:           record.Category,
		ModelId:            record.ModelId,
		VariantId:          record.VariantId,
		Status:             record.Status,
		BasePriority:       record.BasePriority,
		DynamicPriority:    record.DynamicPriority,
		ResourceIntensity:  record.ResourceIntensity,
		QualityRequirement: record.QualityRequirement,
		FailureCause:       record.FailureCause,
		Retriable:          record.Retriable,
		Progress:           record.Progress,
		SubmissionTime:     record.SubmissionTime,
	}

	if record.ParentId.Valid {
		parentId := record.ParentId.UUID
		task.ParentId = &parentId
	}
	if record.Deadline.Valid {
		deadline := record.Deadline.Time
		task.Deadline = &deadline
	}
	if record.StartTime.Valid {
		startTime := record.StartTime.Time
		task.StartTime = &startTime
	}
	if record.CompletionTime.Valid {
		completionTime := record.CompletionTime.Time
		task.CompletionTime = &completionTime
	}

	return task
}

func convertResourceSample(sample database.ResourceSample) api.ResourceSnapshot {
	return api.ResourceSnapshot{
		UtilizationPercent: sample.UtilizationPercent,
		MemoryTotalBytes:   sample.MemoryTotalBytes,
		MemoryUsedBytes:    sample.MemoryUsedBytes,
		MemoryFreeBytes:    sample.MemoryFreeBytes,
		TemperatureCelsius: sample.TemperatureCelsius,
		Stale:              sample.Stale,
		Timestamp:          sample.SampledAt,
	}
}
