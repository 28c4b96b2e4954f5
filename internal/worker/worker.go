package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/DanielKano/otaku-shop-sub000/internal/broker"
	"github.com/DanielKano/otaku-shop-sub000/internal/service"
	"github.com/DanielKano/otaku-shop-sub000/internal/util"
)

// CancellationWorker consumes OrderCancelled events from the order topic and
// restores committed stock through the checkout service. External
// collaborators (payment timeouts, fraud review) cancel orders by publishing
// the same event; redeliveries are deduplicated downstream.
type CancellationWorker struct {
	consumer        *broker.Consumer
	eventHandler    *broker.EventHandler
	checkoutService *service.CheckoutService
	logger          *zap.Logger
}

// NewCancellationWorker creates a new cancellation worker
func NewCancellationWorker(
	consumer *broker.Consumer,
	checkoutService *service.CheckoutService,
) *CancellationWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderCancelled(checkoutService.HandleOrderCancelled)

	return &CancellationWorker{
		consumer:        consumer,
		eventHandler:    eventHandler,
		checkoutService: checkoutService,
		logger:          util.GetLogger(),
	}
}

// Start starts the worker
func (w *CancellationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting cancellation worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CancellationWorker) Stop() error {
	w.logger.Info("Stopping cancellation worker")
	return w.consumer.Close()
}
