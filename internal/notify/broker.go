// Package notify fans events out to connected clients. Events are
// published on a per tenant Redis channel and re-delivered over SSE.
// Delivery is best effort, a dropped event never fails the write that
// produced it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stockpilot/stockpilot/internal/ledger"
	"github.com/stockpilot/stockpilot/internal/observability"
	"github.com/stockpilot/stockpilot/internal/purchase"
)

// Envelope wraps every published event with an id, its type and a
// timestamp. The id doubles as the SSE event id so clients can detect
// gaps after a reconnect.
type Envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	At   time.Time       `json:"at"`
}

// Broker publishes events over Redis pub/sub, one channel per tenant.
type Broker struct {
	client  *redis.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewBroker constructs the broker.
func NewBroker(client *redis.Client, logger *slog.Logger, metrics *observability.Metrics) *Broker {
	return &Broker{client: client, logger: logger, metrics: metrics}
}

var (
	_ ledger.EventPublisher   = (*Broker)(nil)
	_ purchase.EventPublisher = (*Broker)(nil)
)

func tenantChannel(tenantID int64) string {
	return fmt.Sprintf("events:tenant:%d", tenantID)
}

// PublishStockUpdated announces a stock level change.
func (b *Broker) PublishStockUpdated(ctx context.Context, tenantID int64, event ledger.StockUpdatedEvent) error {
	return b.publish(ctx, tenantID, "stock.updated", event)
}

// PublishLowStock announces a variant crossing its low stock threshold.
func (b *Broker) PublishLowStock(ctx context.Context, tenantID int64, event ledger.LowStockEvent) error {
	return b.publish(ctx, tenantID, "stock.low", event)
}

// PublishOrderUpdated announces a purchase order status change.
func (b *Broker) PublishOrderUpdated(ctx context.Context, tenantID int64, event purchase.OrderUpdatedEvent) error {
	return b.publish(ctx, tenantID, "po.updated", event)
}

func (b *Broker) publish(ctx context.Context, tenantID int64, eventType string, payload any) error {
	if b == nil || b.client == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(Envelope{ID: uuid.NewString(), Type: eventType, Data: data, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, tenantChannel(tenantID), raw).Err(); err != nil {
		if b.logger != nil {
			b.logger.Warn("publish event", slog.String("type", eventType), slog.Any("error", err))
		}
		return err
	}
	if b.metrics != nil {
		b.metrics.ObserveEventPublished()
	}
	return nil
}

// Subscribe opens the tenant's event channel. The returned channel
// closes when ctx is cancelled. Consumers that fall behind miss
// events, Redis pub/sub keeps no backlog.
func (b *Broker) Subscribe(ctx context.Context, tenantID int64) (<-chan Envelope, error) {
	pubsub := b.client.Subscribe(ctx, tenantChannel(tenantID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	out := make(chan Envelope, 16)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					if b.logger != nil {
						b.logger.Warn("decode event", slog.Any("error", err))
					}
					continue
				}
				select {
				case out <- env:
				default:
					// Slow consumer, drop instead of blocking the reader.
				}
			}
		}
	}()
	return out, nil
}
