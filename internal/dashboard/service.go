package dashboard

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stockpilot/stockpilot/internal/shared"
)

const (
	topSellerWindow = 30 * 24 * time.Hour
	topSellerLimit  = 5
	graphDays       = 7
)

// Repository exposes the aggregation queries behind the dashboard.
type Repository interface {
	InventoryValue(ctx context.Context, tenantID int64) (float64, error)
	ProductCount(ctx context.Context, tenantID int64) (int64, error)
	SupplierCount(ctx context.Context, tenantID int64) (int64, error)
	PendingOrderCount(ctx context.Context, tenantID int64) (int64, error)
	LowStockRows(ctx context.Context, tenantID int64) ([]LowStockRow, error)
	TopSellers(ctx context.Context, tenantID int64, since time.Time, limit int) ([]TopSeller, error)
	MovementSeries(ctx context.Context, tenantID int64, from time.Time) ([]StockPoint, error)
}

// Service coordinates aggregation queries with the cache layer.
type Service struct {
	repo  Repository
	cache *Cache
}

// NewService wires a Repository with a Cache helper.
func NewService(repo Repository, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Stats returns the tenant's headline numbers. The four queries run
// concurrently on a cache miss.
func (s *Service) Stats(ctx context.Context, actor shared.Actor) (Stats, error) {
	key, err := s.cache.BuildKey(ctx, actor.TenantID, "dashboard", "stats")
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	err = s.cache.FetchJSON(ctx, key, &stats, func(ctx context.Context) (any, error) {
		return s.loadStats(ctx, actor.TenantID)
	})
	return stats, err
}

func (s *Service) loadStats(ctx context.Context, tenantID int64) (Stats, error) {
	var stats Stats
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		value, err := s.repo.InventoryValue(ctx, tenantID)
		stats.InventoryValue = value
		return err
	})
	g.Go(func() error {
		count, err := s.repo.ProductCount(ctx, tenantID)
		stats.ProductCount = count
		return err
	})
	g.Go(func() error {
		count, err := s.repo.SupplierCount(ctx, tenantID)
		stats.SupplierCount = count
		return err
	})
	g.Go(func() error {
		count, err := s.repo.PendingOrderCount(ctx, tenantID)
		stats.PendingPOCount = count
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// LowStock lists variants at or below their threshold, with the
// quantity still expected from open purchase orders.
func (s *Service) LowStock(ctx context.Context, actor shared.Actor) ([]LowStockRow, error) {
	key, err := s.cache.BuildKey(ctx, actor.TenantID, "dashboard", "lowstock")
	if err != nil {
		return nil, err
	}
	var rows []LowStockRow
	err = s.cache.FetchJSON(ctx, key, &rows, func(ctx context.Context) (any, error) {
		loaded, err := s.repo.LowStockRows(ctx, actor.TenantID)
		if err != nil {
			return nil, err
		}
		for i := range loaded {
			loaded[i].NeedsAlert = loaded[i].Stock+loaded[i].PendingFromPO <= loaded[i].LowStockThreshold
		}
		return loaded, nil
	})
	if rows == nil {
		rows = []LowStockRow{}
	}
	return rows, err
}

// TopSellers ranks the five best selling variants over the last 30 days.
func (s *Service) TopSellers(ctx context.Context, actor shared.Actor) ([]TopSeller, error) {
	key, err := s.cache.BuildKey(ctx, actor.TenantID, "dashboard", "topsellers")
	if err != nil {
		return nil, err
	}
	var sellers []TopSeller
	err = s.cache.FetchJSON(ctx, key, &sellers, func(ctx context.Context) (any, error) {
		return s.repo.TopSellers(ctx, actor.TenantID, time.Now().Add(-topSellerWindow), topSellerLimit)
	})
	if sellers == nil {
		sellers = []TopSeller{}
	}
	return sellers, err
}

// StockGraph returns daily movement totals for the last seven days.
// Days without movement come back with zero totals.
func (s *Service) StockGraph(ctx context.Context, actor shared.Actor) ([]StockPoint, error) {
	key, err := s.cache.BuildKey(ctx, actor.TenantID, "dashboard", "graph")
	if err != nil {
		return nil, err
	}
	var points []StockPoint
	err = s.cache.FetchJSON(ctx, key, &points, func(ctx context.Context) (any, error) {
		from := startOfDay(time.Now().UTC()).AddDate(0, 0, -(graphDays - 1))
		series, err := s.repo.MovementSeries(ctx, actor.TenantID, from)
		if err != nil {
			return nil, err
		}
		return fillDays(series, from, graphDays), nil
	})
	return points, err
}

// Warm recomputes every cached aggregate for a tenant. Run from the
// background worker after the version bump so the next request hits
// warm keys.
func (s *Service) Warm(ctx context.Context, tenantID int64) error {
	if err := s.cache.Bump(ctx, tenantID); err != nil {
		return err
	}
	actor := shared.Actor{TenantID: tenantID}
	if _, err := s.Stats(ctx, actor); err != nil {
		return err
	}
	if _, err := s.LowStock(ctx, actor); err != nil {
		return err
	}
	if _, err := s.TopSellers(ctx, actor); err != nil {
		return err
	}
	_, err := s.StockGraph(ctx, actor)
	return err
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func fillDays(series []StockPoint, from time.Time, days int) []StockPoint {
	byDate := make(map[string]StockPoint, len(series))
	for _, point := range series {
		byDate[point.Date] = point
	}
	filled := make([]StockPoint, 0, days)
	for i := 0; i < days; i++ {
		date := from.AddDate(0, 0, i).Format("2006-01-02")
		if point, ok := byDate[date]; ok {
			filled = append(filled, point)
			continue
		}
		filled = append(filled, StockPoint{Date: date})
	}
	return filled
}
