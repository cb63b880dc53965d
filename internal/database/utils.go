package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateTaskStatus(ctx context.Context, txn *gorm.DB, taskId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == TaskRunning {
		updates["start_time"] = time.Now().UTC()
	}
	if IsTerminalStatus(status) {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Task{Id: taskId}).Updates(updates).Error; err != nil {
		slog.Error("error updating task status", "task_id", taskId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdateTaskFailure(ctx context.Context, txn *gorm.DB, taskId uuid.UUID, cause string, retriable bool) error {
	updates := map[string]any{
		"status":          TaskFailed,
		"failure_cause":   cause,
		"retriable":       retriable,
		"completion_time": time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Model(&Task{Id: taskId}).Updates(updates).Error; err != nil {
		slog.Error("error updating task failure", "task_id", taskId, "cause", cause, "error", err)
		return err
	}
	return nil
}

func UpdateTaskPriority(ctx context.Context, txn *gorm.DB, taskId uuid.UUID, priority float64) error {
	if err := txn.WithContext(ctx).Model(&Task{Id: taskId}).
		UpdateColumn("dynamic_priority", priority).Error; err != nil {
		slog.Error("error updating task priority", "task_id", taskId, "error", err)
		return err
	}
	return nil
}

func UpdateTaskProgress(ctx context.Context, txn *gorm.DB, taskId uuid.UUID, progress float64) error {
	if err := txn.WithContext(ctx).Model(&Task{Id: taskId}).
		UpdateColumn("progress", progress).Error; err != nil {
		slog.Error("error updating task progress", "task_id", taskId, "error", err)
		return err
	}
	return nil
}

func SaveTaskError(ctx context.Context, txn *gorm.DB, taskId uuid.UUID, errorMessage string) {
	taskError := TaskError{
		TaskId:    taskId,
		ErrorId:   uuid.New(),
		Error:     errorMessage,
		Timestamp: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&taskError).Error; err != nil {
		slog.Error("error saving task error", "task_id", taskId, "error", err)
	}
}

func SaveResourceSample(ctx context.Context, txn *gorm.DB, sample ResourceSample) error {
	if err := txn.WithContext(ctx).Create(&sample).Error; err != nil {
		slog.Error("error saving resource sample", "error", err)
		return err
	}
	return nil
}

func LatestResourceSample(ctx context.Context, txn *gorm.DB) (ResourceSample, error) {
	var sample ResourceSample
	err := txn.WithContext(ctx).Order("sampled_at DESC").First(&sample).Error
	return sample, err
}
