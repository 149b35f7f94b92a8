package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/clock"
	pkgkafka "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/kafka"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/logger"
)

// Kafka topics, one per aggregate family.
const (
	TopicInventory = "commerce.inventory"
	TopicCart      = "commerce.cart"
	TopicCheckout  = "commerce.checkout"
	TopicOrder     = "commerce.order"
)

// Event types.
const (
	InventoryReserved  = "inventory.reserved"
	InventoryCommitted = "inventory.committed"
	InventoryReleased  = "inventory.released"
	InventoryRestocked = "inventory.restocked"
	StockChanged       = "inventory.stock_changed"
	LowStock           = "inventory.low_stock"

	CartUpdated = "cart.updated"
	CartCleared = "cart.cleared"

	CheckoutCompleted = "checkout.completed"
	CheckoutCancelled = "checkout.cancelled"
	CheckoutExpired   = "checkout.expired"
	CheckoutFailed    = "checkout.failed"

	OrderCreated       = "order.created"
	OrderStatusChanged = "order.status_changed"
	OrderCancelled     = "order.cancelled"
)

// Source identifies events published by this engine.
const Source = "commerce-engine"

// ReservationData is the payload of the inventory reservation events.
type ReservationData struct {
	ReservationID string                   `json:"reservation_id"`
	OwnerID       string                   `json:"owner_id"`
	State         domain.ReservationState  `json:"state"`
	Lines         []domain.ReservationLine `json:"lines"`
	Reason        string                   `json:"reason,omitempty"`
}

// StockData is the payload of stock_changed and low_stock events.
type StockData struct {
	SKU               string `json:"sku"`
	OnHand            int    `json:"on_hand"`
	Reserved          int    `json:"reserved"`
	Available         int    `json:"available"`
	LowStockThreshold int    `json:"low_stock_threshold,omitempty"`
	Delta             int    `json:"delta,omitempty"`
	Reason            string `json:"reason,omitempty"`
	Actor             string `json:"actor,omitempty"`
}

// CartData is the payload of cart events.
type CartData struct {
	CartID    string            `json:"cart_id"`
	Owner     string            `json:"owner"`
	Status    domain.CartStatus `json:"status"`
	ItemCount int               `json:"item_count"`
	Total     string            `json:"total"`
	Currency  string            `json:"currency"`
}

// CheckoutData is the payload of checkout events.
type CheckoutData struct {
	SessionID     string                `json:"session_id"`
	CartID        string                `json:"cart_id"`
	Status        domain.CheckoutStatus `json:"status"`
	ReservationID string                `json:"reservation_id,omitempty"`
	OrderID       string                `json:"order_id,omitempty"`
	TransactionID string                `json:"transaction_id,omitempty"`
	Reason        string                `json:"reason,omitempty"`
	Total         string                `json:"total"`
	Currency      string                `json:"currency"`
}

// OrderData is the payload of order events.
type OrderData struct {
	OrderID    string             `json:"order_id"`
	Number     string             `json:"number"`
	CustomerID string             `json:"customer_id,omitempty"`
	From       domain.OrderStatus `json:"from,omitempty"`
	Status     domain.OrderStatus `json:"status"`
	Total      string             `json:"total"`
	Currency   string             `json:"currency"`
	Reason     string             `json:"reason,omitempty"`
}

// Producer publishes domain events. Callers treat publish errors as
// non-fatal and only log them.
type Producer struct {
	publisher pkgkafka.Publisher
	clock     clock.Clock
	logger    *slog.Logger
}

// NewProducer creates a Producer over any Publisher.
func NewProducer(publisher pkgkafka.Publisher, clk clock.Clock, logger *slog.Logger) *Producer {
	return &Producer{publisher: publisher, clock: clk, logger: logger}
}

func (p *Producer) publish(ctx context.Context, topic, eventType, aggregateID, aggregateType string, data any) error {
	evt, err := pkgkafka.NewEvent(eventType, aggregateID, aggregateType, Source, p.clock.Now(), data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	if err := p.publisher.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("event_type", eventType),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}

// PublishReservation publishes one of the inventory reservation events.
func (p *Producer) PublishReservation(ctx context.Context, eventType string, res *domain.Reservation, reason string) error {
	return p.publish(ctx, TopicInventory, eventType, res.ID, "reservation", ReservationData{
		ReservationID: res.ID,
		OwnerID:       res.OwnerID,
		State:         res.State,
		Lines:         res.Lines,
		Reason:        reason,
	})
}

// PublishStockChanged publishes an inventory.stock_changed event for a movement.
func (p *Producer) PublishStockChanged(ctx context.Context, rec *domain.StockRecord, m *domain.StockMovement) error {
	return p.publish(ctx, TopicInventory, StockChanged, rec.SKU.Key(), "stock", StockData{
		SKU:       rec.SKU.Key(),
		OnHand:    rec.OnHand,
		Reserved:  rec.Reserved,
		Available: rec.Available(),
		Delta:     m.Delta,
		Reason:    m.Reason,
		Actor:     m.Actor,
	})
}

// PublishLowStock publishes an inventory.low_stock event.
func (p *Producer) PublishLowStock(ctx context.Context, rec *domain.StockRecord) error {
	return p.publish(ctx, TopicInventory, LowStock, rec.SKU.Key(), "stock", StockData{
		SKU:               rec.SKU.Key(),
		OnHand:            rec.OnHand,
		Reserved:          rec.Reserved,
		Available:         rec.Available(),
		LowStockThreshold: rec.LowStockThreshold,
	})
}

// PublishCart publishes cart.updated or cart.cleared.
func (p *Producer) PublishCart(ctx context.Context, eventType string, cart *domain.Cart) error {
	return p.publish(ctx, TopicCart, eventType, cart.ID, "cart", CartData{
		CartID:    cart.ID,
		Owner:     cart.Owner.Key(),
		Status:    cart.Status,
		ItemCount: cart.ItemCount(),
		Total:     cart.Totals.Total.Amount.StringFixed(2),
		Currency:  cart.Currency,
	})
}

// PublishCheckout publishes one of the checkout lifecycle events.
func (p *Producer) PublishCheckout(ctx context.Context, eventType string, s *domain.CheckoutSession) error {
	return p.publish(ctx, TopicCheckout, eventType, s.ID, "checkout_session", CheckoutData{
		SessionID:     s.ID,
		CartID:        s.CartID,
		Status:        s.Status,
		ReservationID: s.ReservationID,
		OrderID:       s.OrderID,
		TransactionID: s.TransactionID,
		Reason:        s.FailureReason,
		Total:         s.Totals.Total.Amount.StringFixed(2),
		Currency:      s.Currency,
	})
}

// PublishOrder publishes one of the order events. from is empty for order.created.
func (p *Producer) PublishOrder(ctx context.Context, eventType string, o *domain.Order, from domain.OrderStatus) error {
	return p.publish(ctx, TopicOrder, eventType, o.ID, "order", OrderData{
		OrderID:    o.ID,
		Number:     o.Number,
		CustomerID: o.CustomerID,
		From:       from,
		Status:     o.Status,
		Total:      o.Totals.Total.Amount.StringFixed(2),
		Currency:   o.Currency,
		Reason:     o.CancelReason,
	})
}
