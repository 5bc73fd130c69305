// Package jobs holds the background task definitions and the Asynq
// worker that runs them.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDashboardWarmup rebuilds the dashboard caches for every tenant.
	TaskDashboardWarmup = "dashboard:warmup"
	// TaskLowStockScan publishes alerts for variants below threshold.
	TaskLowStockScan = "lowstock:scan"
)

// DashboardWarmupPayload scopes a warmup run. A zero TenantID warms
// every tenant.
type DashboardWarmupPayload struct {
	TenantID int64 `json:"tenantId"`
}

// NewDashboardWarmupTask constructs a dashboard warmup task.
func NewDashboardWarmupTask(payload DashboardWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDashboardWarmup, data), nil
}

// LowStockScanPayload scopes a scan run. A zero TenantID scans every
// tenant.
type LowStockScanPayload struct {
	TenantID int64 `json:"tenantId"`
}

// NewLowStockScanTask constructs a low stock scan task.
func NewLowStockScanTask(payload LowStockScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}
