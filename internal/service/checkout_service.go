package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DanielKano/otaku-shop-sub000/internal/broker"
	"github.com/DanielKano/otaku-shop-sub000/internal/models"
	"github.com/DanielKano/otaku-shop-sub000/internal/redisclient"
	"github.com/DanielKano/otaku-shop-sub000/internal/reservation"
	"github.com/DanielKano/otaku-shop-sub000/internal/store"
	"github.com/DanielKano/otaku-shop-sub000/internal/util"
)

// CheckoutService owns order creation and cancellation. The stock decrement
// it performs is the actual correctness boundary: it re-validates under a
// row lock regardless of any reservation that was held, and never consults
// the reservation store's accounting.
type CheckoutService struct {
	store          *store.Store
	reservations   *reservation.Store
	redis          *redisclient.Client
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	store *store.Store,
	reservations *reservation.Store,
	redis *redisclient.Client,
	eventPublisher *broker.EventPublisher,
) *CheckoutService {
	return &CheckoutService{
		store:          store,
		reservations:   reservations,
		redis:          redis,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID         *int64             `json:"user_id,omitempty"`
	SessionID      *string            `json:"session_id,omitempty"`
	Items          []OrderItemRequest `json:"items" binding:"required,min=1"`
	ReservationIDs []string           `json:"reservation_ids,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

// CreateOrder creates an order and commits its stock decrement. Any line with
// insufficient stock fails the whole order; nothing is partially committed.
// Reservations named in the request are folded into the order afterwards,
// which takes them out of availability accounting without touching stock a
// second time.
func (cs *CheckoutService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateOrder")
	defer span.End()

	if (req.UserID == nil) == (req.SessionID == nil) {
		return nil, fmt.Errorf("order requires exactly one of user id or session id")
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	existingOrder, err := cs.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existingOrder != nil {
		cs.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existingOrder.ID))
		return &CreateOrderResponse{
			OrderID: existingOrder.ID,
			Status:  existingOrder.Status,
		}, nil
	}

	products, err := cs.validateOrderItems(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	order := &models.Order{
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		TotalAmount:    cs.calculateTotal(req.Items, products),
		Status:         models.OrderStatusCreated,
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := cs.store.CreateOrder(ctx, order); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		orderItem := models.OrderItem{
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: products[item.ProductID].Price,
		}

		if err := cs.store.CreateOrderItem(ctx, &orderItem); err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}
		items = append(items, orderItem)
	}

	if err := cs.commitStock(ctx, order.ID, items); err != nil {
		_ = cs.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusFailed)
		if errors.Is(err, store.ErrInsufficientStock) {
			util.InsufficientStockTotal.Inc()
			util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		} else {
			util.OrdersFailedTotal.WithLabelValues("commit_error").Inc()
		}
		return nil, err
	}

	if err := cs.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusConfirmed); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	cs.logger.Info("Order created", zap.Int64("order_id", order.ID))

	cs.confirmReservations(order.ID, req.ReservationIDs)

	for _, item := range items {
		if err := cs.redis.DecrStock(ctx, item.ProductID, item.Quantity); err != nil {
			cs.logger.Warn("Failed to lower stock cache",
				zap.Int64("product_id", item.ProductID),
				zap.Error(err))
		}
	}

	cs.publishOrderCreated(ctx, order, items)

	return &CreateOrderResponse{
		OrderID: order.ID,
		Status:  models.OrderStatusConfirmed,
	}, nil
}

// commitStock runs the authoritative decrement and records its latency
func (cs *CheckoutService) commitStock(ctx context.Context, orderID int64, items []models.OrderItem) error {
	ctx, span := util.StartSpan(ctx, "CheckoutService.commitStock")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockCommitLatency.Observe(time.Since(start).Seconds())
	}()

	if err := cs.store.CommitOrderStock(ctx, items); err != nil {
		return fmt.Errorf("stock commit for order %d failed: %w", orderID, err)
	}
	return nil
}

// confirmReservations links the buyer's holds to the created order. Holds
// that already expired or were released are simply skipped: the stock
// decrement has happened either way.
func (cs *CheckoutService) confirmReservations(orderID int64, reservationIDs []string) {
	for _, id := range reservationIDs {
		if !cs.reservations.Confirm(id, orderID) {
			cs.logger.Debug("Reservation gone before confirmation",
				zap.Int64("order_id", orderID),
				zap.String("reservation_id", id))
		}
	}
}

// CancelOrder restores the order's line quantities to stock and marks the
// order cancelled. The restore is unconditional and does not depend on any
// reservation still existing. Cancelling an already-cancelled order is a
// no-op.
func (cs *CheckoutService) CancelOrder(ctx context.Context, orderID int64, reason string) error {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CancelOrder")
	defer span.End()

	order, err := cs.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	switch order.Status {
	case models.OrderStatusCancelled:
		cs.logger.Info("Order already cancelled", zap.Int64("order_id", orderID))
		return nil
	case models.OrderStatusConfirmed:
		// stock was committed; fall through and restore it
	default:
		// CREATED or FAILED orders never held committed stock
		return fmt.Errorf("order %d in status %s cannot be cancelled", orderID, order.Status)
	}

	items, err := cs.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to get order items: %w", err)
	}

	if err := cs.store.RestoreOrderStock(ctx, items); err != nil {
		return fmt.Errorf("failed to restore stock for order %d: %w", orderID, err)
	}
	util.StockRestoredTotal.Inc()

	if err := cs.store.UpdateOrderStatus(ctx, orderID, models.OrderStatusCancelled); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	util.OrdersCancelledTotal.Inc()

	for _, item := range items {
		if err := cs.redis.DeleteStock(ctx, item.ProductID); err != nil {
			cs.logger.Warn("Failed to drop stock cache",
				zap.Int64("product_id", item.ProductID),
				zap.Error(err))
		}
	}

	cs.publishOrderCancelled(ctx, order, items, reason)

	cs.logger.Info("Order cancelled and stock restored",
		zap.Int64("order_id", orderID),
		zap.String("reason", reason))
	return nil
}

// HandleOrderCancelled processes an OrderCancelled event from the order
// topic, deduplicated through the processed_events table so redeliveries and
// our own published cancellations do not restore stock twice.
func (cs *CheckoutService) HandleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	ctx, span := util.StartSpan(ctx, "CheckoutService.HandleOrderCancelled")
	defer span.End()

	processed, err := cs.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		cs.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if err := cs.CancelOrder(ctx, event.OrderID, event.Reason); err != nil {
		return err
	}

	if err := cs.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		cs.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// GetOrder retrieves an order by ID
func (cs *CheckoutService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := cs.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	items, err := cs.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// validateOrderItems validates that all products exist
func (cs *CheckoutService) validateOrderItems(ctx context.Context, items []OrderItemRequest) (map[int64]*models.Product, error) {
	productIDs := make([]int64, len(items))
	for i, item := range items {
		productIDs[i] = item.ProductID
	}

	products, err := cs.store.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	productMap := make(map[int64]*models.Product)
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}

	for _, item := range items {
		if _, ok := productMap[item.ProductID]; !ok {
			return nil, fmt.Errorf("product not found: %d", item.ProductID)
		}
	}

	return productMap, nil
}

// calculateTotal calculates the total amount for an order
func (cs *CheckoutService) calculateTotal(items []OrderItemRequest, products map[int64]*models.Product) int64 {
	var total int64
	for _, item := range items {
		total += products[item.ProductID].Price * int64(item.Quantity)
	}
	return total
}

func (cs *CheckoutService) publishOrderCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	eventItems := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		eventItems = append(eventItems, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	created := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		UserID:      order.UserID,
		SessionID:   order.SessionID,
		TotalAmount: order.TotalAmount,
		Items:       eventItems,
	}
	if err := cs.eventPublisher.PublishOrderCreated(ctx, created); err != nil {
		cs.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	committed := &models.StockCommittedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeStockCommitted,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
		Items:   eventItems,
	}
	if err := cs.eventPublisher.PublishStockCommitted(ctx, committed); err != nil {
		cs.logger.Error("Failed to publish StockCommitted event", zap.Error(err))
	}
}

func (cs *CheckoutService) publishOrderCancelled(ctx context.Context, order *models.Order, items []models.OrderItem, reason string) {
	eventItems := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		eventItems = append(eventItems, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	cancelled := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
		Reason:  reason,
	}
	if err := cs.eventPublisher.PublishOrderCancelled(ctx, cancelled); err != nil {
		cs.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}

	restored := &models.StockRestoredEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeStockRestored,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
		Items:   eventItems,
	}
	if err := cs.eventPublisher.PublishStockRestored(ctx, restored); err != nil {
		cs.logger.Error("Failed to publish StockRestored event", zap.Error(err))
	}
}
