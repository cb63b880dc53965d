package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gpusched-backend/internal/executor"
	"gpusched-backend/internal/monitor"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func setupRabbitMQContainer(t *testing.T, ctx context.Context) string {
	container, err := rabbitmq.RunContainer(ctx,
		testcontainers.WithImage("rabbitmq:3.12-management"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate rabbitmq container: %v", err)
		}
	})

	amqpURL, err := container.AmqpURL(ctx)
	require.NoError(t, err)

	return amqpURL
}

// staticResources is a fixed-capacity GPU view for driving the scheduler
// without real telemetry.
type staticResources struct {
	free float64
}

func (m staticResources) Snapshot() monitor.Snapshot {
	const total = uint64(1) << 30
	free := uint64(m.free * float64(total))
	return monitor.Snapshot{
		MemoryTotalBytes: total,
		MemoryUsedBytes:  total - free,
		MemoryFreeBytes:  free,
		Timestamp:        time.Now(),
	}
}

func (m staticResources) Forecast(horizon time.Duration) monitor.Forecast {
	return monitor.Forecast{FreeFraction: m.free, Horizon: horizon, Confidence: 1}
}

// instantRunner completes every request immediately with a fixed quality.
type instantRunner struct {
	quality float64
	delay   time.Duration
}

func (r *instantRunner) Run(ctx context.Context, req executor.Request) (executor.Outcome, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return executor.Outcome{}, ctx.Err()
		}
	}
	if req.Progress != nil {
		req.Progress(1)
	}
	return executor.Outcome{
		Output:             []byte(`{"ok":true}`),
		Quality:            r.quality,
		UtilizationPercent: 55,
	}, nil
}

func httpRequest(t *testing.T, server *httptest.Server, method, path string, body any, result any) int {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, server.URL+path, reader)
	require.NoError(t, err)

	res, err := server.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	if result != nil && res.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(res.Body).Decode(result))
	}

	return res.StatusCode
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
