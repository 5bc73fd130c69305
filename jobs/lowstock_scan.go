package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/stockpilot/stockpilot/internal/jobs"
	"github.com/stockpilot/stockpilot/internal/ledger"
)

// AlertPublisher pushes low stock alerts to tenant event channels.
type AlertPublisher interface {
	PublishLowStock(ctx context.Context, tenantID int64, event ledger.LowStockEvent) error
}

// LowStockScanJob sweeps all tenants for variants at or below their
// threshold and re-publishes alerts. It backs the in-band alerts from
// the ledger for clients that were not connected when stock dropped.
type LowStockScanJob struct {
	Pool      *pgxpool.Pool
	Publisher AlertPublisher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewLowStockScanJob wires dependencies for the scan handler.
func NewLowStockScanJob(pool *pgxpool.Pool, publisher AlertPublisher, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Pool: pool, Publisher: publisher, Logger: logger, Metrics: metrics}
}

type lowStockHit struct {
	tenantID int64
	event    ledger.LowStockEvent
}

// Handle processes low stock scan tasks.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Pool == nil || j.Publisher == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskLowStockScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	start := time.Now()

	hits, err := j.scan(ctx, payload.TenantID)
	if err != nil {
		resultErr = err
		logger.Error("scan variants", slog.Any("error", err))
		return resultErr
	}

	published := 0
	perTenant := make(map[int64]int)
	for _, hit := range hits {
		if err := j.Publisher.PublishLowStock(ctx, hit.tenantID, hit.event); err != nil {
			logger.Warn("publish alert", slog.Int64("tenant", hit.tenantID), slog.String("sku", hit.event.VariantSKU), slog.Any("error", err))
			continue
		}
		published++
		perTenant[hit.tenantID]++
	}
	for tenantID, count := range perTenant {
		j.metrics().AddLowStockAlerts(tenantID, count)
	}

	logger.Info("completed low stock scan", slog.Int("alerts", published), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *LowStockScanJob) scan(ctx context.Context, only int64) ([]lowStockHit, error) {
	query := `SELECT v.tenant_id, v.id, v.sku, p.name, v.stock, v.low_stock_threshold
		FROM variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.stock <= v.low_stock_threshold`
	args := []any{}
	if only != 0 {
		query += ` AND v.tenant_id = $1`
		args = append(args, only)
	}
	query += ` ORDER BY v.tenant_id, v.sku`

	rows, err := j.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []lowStockHit
	for rows.Next() {
		var hit lowStockHit
		if err := rows.Scan(&hit.tenantID, &hit.event.VariantID, &hit.event.VariantSKU, &hit.event.ProductName, &hit.event.Stock, &hit.event.Threshold); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLowStockScan))
	}
	return slog.Default().With(slog.String("job", TaskLowStockScan))
}

func (j *LowStockScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
