package runtime

import (
	"context"
	"time"

	"github.com/drblury/kitchenflow/internal/kitchen"
	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/kitchenflow/internal/runtime/logging"
)

// OrderContext describes one handled order to hooks.
type OrderContext struct {
	// CorrelationID is generated per inbound message.
	CorrelationID string
	// Topic is the concrete inbound topic.
	Topic string
	// OrderID and Table are set once the order validated.
	OrderID string
	Table   int
	// PrepMs is the drawn preparation time, zero for rejected orders.
	PrepMs int64
	// Context carries the order's span.
	Context context.Context
	// StartedAt is when handling began.
	StartedAt time.Time
	// Duration is set for OnOrderDone and OnOrderError.
	Duration time.Duration
}

// OrderHooks defines callbacks for the order lifecycle.
// All hooks are optional - nil hooks are simply not called.
type OrderHooks struct {
	// OnOrderStart is called before the payload is decoded.
	OnOrderStart func(ctx OrderContext)

	// OnOrderDone is called after an event was published, for ready and
	// error events alike.
	OnOrderDone func(ctx OrderContext, evt kitchen.FoodEvent)

	// OnOrderError is called for every failure while handling an order:
	// rejected payloads, failed publishes and recovered panics. An invalid
	// order therefore reports OnOrderError and then OnOrderDone for its
	// error event.
	OnOrderError func(ctx OrderContext, err error)
}

// Merge combines two OrderHooks, creating a new OrderHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h OrderHooks) Merge(other OrderHooks) OrderHooks {
	return OrderHooks{
		OnOrderStart: chainStartHooks(h.OnOrderStart, other.OnOrderStart),
		OnOrderDone:  chainDoneHooks(h.OnOrderDone, other.OnOrderDone),
		OnOrderError: chainErrorHooks(h.OnOrderError, other.OnOrderError),
	}
}

func chainStartHooks(a, b func(OrderContext)) func(OrderContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx OrderContext) {
		a(ctx)
		b(ctx)
	}
}

func chainDoneHooks(a, b func(OrderContext, kitchen.FoodEvent)) func(OrderContext, kitchen.FoodEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx OrderContext, evt kitchen.FoodEvent) {
		a(ctx, evt)
		b(ctx, evt)
	}
}

func chainErrorHooks(a, b func(OrderContext, error)) func(OrderContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx OrderContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h OrderHooks) start(ctx OrderContext) {
	if h.OnOrderStart != nil {
		h.OnOrderStart(ctx)
	}
}

func (h OrderHooks) done(ctx OrderContext, evt kitchen.FoodEvent) {
	if h.OnOrderDone != nil {
		h.OnOrderDone(ctx, evt)
	}
}

func (h OrderHooks) fail(ctx OrderContext, err error) {
	if h.OnOrderError != nil {
		h.OnOrderError(ctx, err)
	}
}

// LoggingHooks returns hooks that log the order lifecycle at debug level.
func LoggingHooks(logger loggingpkg.ServiceLogger) OrderHooks {
	return OrderHooks{
		OnOrderStart: func(ctx OrderContext) {
			logger.Debug("order_started", loggingpkg.LogFields{
				"correlation_id": ctx.CorrelationID,
				"topic":          ctx.Topic,
			})
		},
		OnOrderDone: func(ctx OrderContext, evt kitchen.FoodEvent) {
			logger.Debug("order_completed", loggingpkg.LogFields{
				"correlation_id": ctx.CorrelationID,
				"topic":          ctx.Topic,
				"status":         string(evt.Status),
				"duration_ms":    ctx.Duration.Milliseconds(),
			})
		},
		OnOrderError: func(ctx OrderContext, err error) {
			logger.Debug("order_failed", loggingpkg.LogFields{
				"correlation_id": ctx.CorrelationID,
				"topic":          ctx.Topic,
				"category":       string(errspkg.Classify(err)),
				"error":          err.Error(),
				"duration_ms":    ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns hooks that record order metrics on m.
func MetricsHooks(m *Metrics) OrderHooks {
	return OrderHooks{
		OnOrderStart: func(OrderContext) {
			m.orderReceived()
		},
		OnOrderDone: func(ctx OrderContext, evt kitchen.FoodEvent) {
			m.eventPublished(evt.Status)
			if evt.Status == kitchen.StatusReady {
				m.observePrep(ctx.PrepMs)
			}
		},
		OnOrderError: func(_ OrderContext, err error) {
			m.orderFailed(errspkg.Classify(err))
		},
	}
}

// AlertingHooks returns hooks that trigger alerts on order errors.
func AlertingHooks(alertFunc func(ctx OrderContext, err error)) OrderHooks {
	return OrderHooks{
		OnOrderError: alertFunc,
	}
}
