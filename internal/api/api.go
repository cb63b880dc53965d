package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gpusched-backend/internal/database"
	"gpusched-backend/internal/messaging"
	"gpusched-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultListLimit = 100

type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher
}

func NewBackendService(db *gorm.DB, pub messaging.Publisher) *BackendService {
	return &BackendService{db: db, publisher: pub}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitTask))
		r.Get("/", RestHandler(s.ListTasks))
		r.Get("/{task_id}", RestHandler(s.GetTask))
		r.Delete("/{task_id}", RestHandler(s.CancelTask))
		r.Post("/{task_id}/feedback", RestHandler(s.SubmitFeedback))
	})
	r.Get("/resources", RestHandler(s.GetResources))
}

func (s *BackendService) SubmitTask(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SubmitTaskRequest](r)
	if err != nil {
		return nil, err
	}

	if req.ModelId == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "missing required field: model_id")
	}
	if req.ResourceIntensity <= 0 || req.ResourceIntensity > 1 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "resource_intensity must be in (0, 1]")
	}
	if req.QualityRequirement < 0 || req.QualityRequirement > 1 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "quality_requirement must be in [0, 1]")
	}
	if req.TimeoutSeconds < 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "timeout_seconds must not be negative")
	}

	ctx := r.Context()

	taskId := uuid.New()
	if req.Id != nil {
		taskId = *req.Id

		var count int64
		if err := s.db.WithContext(ctx).Model(&database.Task{}).Where("id = ?", taskId).Count(&count).Error; err != nil {
			slog.Error("error checking for duplicate task", "task_id", taskId, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "error creating task entry")
		}
		if count > 0 {
			return nil, CodedErrorf(http.StatusConflict, "task %v already exists", taskId)
		}
	}

	// Every dependency must reference a known task; rejecting here keeps the
	// scheduler's dependency graph closed.
	for _, dep := range req.Dependencies {
		var count int64
		if err := s.db.WithContext(ctx).Model(&database.Task{}).Where("id = ?", dep).Count(&count).Error; err != nil {
			slog.Error("error checking task dependency", "dependency", dep, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "error creating task entry")
		}
		if count == 0 {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "unknown dependency %v", dep)
		}
	}

	task := database.Task{
		Id:                 taskId,
		Category:           req.Category,
		ModelId:            req.ModelId,
		Input:              datatypes.JSON(req.Input),
		BasePriority:       req.BasePriority,
		ResourceIntensity:  req.ResourceIntensity,
		QualityRequirement: req.QualityRequirement,
		TimeoutSeconds:     req.TimeoutSeconds,
		Status:             database.TaskQueued,
		SubmissionTime:     time.Now().UTC(),
	}
	if req.Deadline != nil {
		task.Deadline = sql.NullTime{Time: *req.Deadline, Valid: true}
	}
	for _, dep := range req.Dependencies {
		task.Dependencies = append(task.Dependencies, database.TaskDependency{TaskId: taskId, DependsOn: dep})
	}

	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		slog.Error("error creating task", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error creating task entry")
	}

	if err := s.publisher.PublishSubmitTask(ctx, messaging.SubmitTaskPayload{TaskId: taskId}); err != nil {
		slog.Error("error publishing submit task", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error queueing task")
	}

	slog.Info("task submitted", "task_id", taskId, "model_id", req.ModelId, "category", req.Category)
	return api.SubmitTaskResponse{TaskId: taskId}, nil
}

func (s *BackendService) GetTask(r *http.Request) (any, error) {
	taskId, err := URLParamUUID(r, "task_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var task database.Task
	if err := s.db.WithContext(ctx).First(&task, "id = ?", taskId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "task not found")
		}
		slog.Error("error getting task", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving task record")
	}

	return convertTask(task), nil
}

func (s *BackendService) ListTasks(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListTasksRequest](r)
	if err != nil {
		return nil, err
	}

	var filter Filter
	if params.Query != "" {
		filter, err = ParseQuery(params.Query)
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid query: %v", err)
		}
	}

	limit := params.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}

	ctx := r.Context()

	query := s.db.WithContext(ctx).Model(&database.Task{}).Order("submission_time DESC")
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Category != "" {
		query = query.Where("category = ?", params.Category)
	}

	var records []database.Task
	if err := query.Limit(limit).Find(&records).Error; err != nil {
		slog.Error("error listing tasks", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing tasks")
	}

	tasks := make([]api.Task, 0, len(records))
	for _, record := range records {
		task := convertTask(record)
		if filter != nil && !filter.Matches(task) {
			continue
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

func (s *BackendService) CancelTask(r *http.Request) (any, error) {
	taskId, err := URLParamUUID(r, "task_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var task database.Task
	if err := s.db.WithContext(ctx).First(&task, "id = ?", taskId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "task not found")
		}
		slog.Error("error getting task", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving task record")
	}

	// Cancelling a terminal task is a no-op, not an error.
	if database.IsTerminalStatus(task.Status) {
		return convertTask(task), nil
	}

	if err := s.publisher.PublishCancelTask(ctx, messaging.CancelTaskPayload{TaskId: taskId}); err != nil {
		slog.Error("error publishing cancel task", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error requesting cancellation")
	}

	slog.Info("task cancellation requested", "task_id", taskId)
	return convertTask(task), nil
}

func (s *BackendService) SubmitFeedback(r *http.Request) (any, error) {
	taskId, err := URLParamUUID(r, "task_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.SubmitFeedbackRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Rating < 0 || req.Rating > 1 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "rating must be in [0, 1]")
	}

	ctx := r.Context()

	var task database.Task
	if err := s.db.WithContext(ctx).First(&task, "id = ?", taskId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "task not found")
		}
		slog.Error("error getting task", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving task record")
	}

	category := req.Category
	if category == "" {
		category = task.Category
	}

	payload := messaging.FeedbackPayload{
		TaskId:   taskId,
		Category: category,
		Rating:   req.Rating,
	}
	if err := s.publisher.PublishFeedback(ctx, payload); err != nil {
		slog.Error("error publishing feedback", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error submitting feedback")
	}

	return nil, nil
}

func (s *BackendService) GetResources(r *http.Request) (any, error) {
	ctx := r.Context()

	sample, err := database.LatestResourceSample(ctx, s.db)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "no resource samples recorded yet")
		}
		slog.Error("error getting resource sample", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving resource sample")
	}

	return convertResourceSample(sample), nil
}
