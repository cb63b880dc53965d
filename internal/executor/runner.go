package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// HTTPRunner sends execution requests to a model serving endpoint. The
// serving side owns the GPU; this process only schedules against it.
type HTTPRunner struct {
	client *resty.Client
}

type runRequest struct {
	TaskId    string `json:"task_id"`
	ModelId   string `json:"model_id"`
	VariantId string `json:"variant_id,omitempty"`
	Input     any    `json:"input"`
}

type runResponse struct {
	Output             []byte  `json:"output"`
	Quality            float64 `json:"quality"`
	UtilizationPercent float64 `json:"utilization_percent"`
	MemoryPeakBytes    uint64  `json:"memory_peak_bytes"`

	RequestedFraction float64 `json:"requested_fraction"`
	AvailableFraction float64 `json:"available_fraction"`
}

func NewHTTPRunner(baseURL string) *HTTPRunner {
	return &HTTPRunner{
		// No client timeout: the executor enforces the per-task timeout
		// through the request context.
		client: resty.New().SetBaseURL(baseURL),
	}
}

func (r *HTTPRunner) Run(ctx context.Context, req Request) (Outcome, error) {
	var body runResponse
	res, err := r.client.R().
		SetContext(ctx).
		SetBody(runRequest{
			TaskId:    req.TaskId.String(),
			ModelId:   req.ModelId,
			VariantId: req.VariantId,
			Input:     json.RawMessage(req.Input),
		}).
		SetResult(&body).
		SetError(&body).
		Post("/run")

	if err != nil {
		return Outcome{}, fmt.Errorf("error calling model server: %w", err)
	}

	// The serving side reports out-of-memory as 507 so the scheduler can
	// degrade and retry instead of failing the task.
	if res.StatusCode() == http.StatusInsufficientStorage {
		return Outcome{}, &ResourceExhaustionError{
			Requested: body.RequestedFraction,
			Available: body.AvailableFraction,
		}
	}
	if res.IsError() {
		return Outcome{}, fmt.Errorf("model server returned status %d", res.StatusCode())
	}

	if req.Progress != nil {
		req.Progress(1)
	}

	return Outcome{
		Output:             body.Output,
		Quality:            body.Quality,
		UtilizationPercent: body.UtilizationPercent,
		MemoryPeakBytes:    body.MemoryPeakBytes,
	}, nil
}
