package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// TelemetryProbe polls an external GPU telemetry exporter over HTTP.
type TelemetryProbe struct {
	client *resty.Client
}

type telemetryResponse struct {
	UtilizationPercent float64 `json:"utilization_percent"`
	MemoryTotalBytes   uint64  `json:"memory_total_bytes"`
	MemoryUsedBytes    uint64  `json:"memory_used_bytes"`
	TemperatureCelsius float64 `json:"temperature_celsius"`
}

func NewTelemetryProbe(baseURL string) *TelemetryProbe {
	return &TelemetryProbe{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(5 * time.Second),
	}
}

func (p *TelemetryProbe) Read(ctx context.Context) (Snapshot, error) {
	var body telemetryResponse
	res, err := p.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/gpu")

	if err != nil {
		return Snapshot{}, fmt.Errorf("error reading gpu telemetry: %w", err)
	}
	if res.IsError() {
		return Snapshot{}, fmt.Errorf("gpu telemetry returned status %d", res.StatusCode())
	}

	free := uint64(0)
	if body.MemoryTotalBytes > body.MemoryUsedBytes {
		free = body.MemoryTotalBytes - body.MemoryUsedBytes
	}

	return Snapshot{
		UtilizationPercent: body.UtilizationPercent,
		MemoryTotalBytes:   body.MemoryTotalBytes,
		MemoryUsedBytes:    body.MemoryUsedBytes,
		MemoryFreeBytes:    free,
		TemperatureCelsius: body.TemperatureCelsius,
		Timestamp:          time.Now(),
	}, nil
}

// HostProbe reads host memory and CPU via gopsutil. It is the fallback when
// no GPU telemetry endpoint is configured, e.g. in local mode.
type HostProbe struct{}

func (HostProbe) Read(ctx context.Context) (Snapshot, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("error reading host memory: %w", err)
	}

	// Non-blocking: percentage since the previous call.
	var utilization float64
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		utilization = percents[0]
	}

	return Snapshot{
		UtilizationPercent: utilization,
		MemoryTotalBytes:   vm.Total,
		MemoryUsedBytes:    vm.Used,
		MemoryFreeBytes:    vm.Available,
		Timestamp:          time.Now(),
	}, nil
}

// StaticProbe returns a fixed snapshot or error; used in tests.
type StaticProbe struct {
	Snap Snapshot
	Err  error
}

func (p *StaticProbe) Read(ctx context.Context) (Snapshot, error) {
	if p.Err != nil {
		return Snapshot{}, p.Err
	}
	snap := p.Snap
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	return snap, nil
}
