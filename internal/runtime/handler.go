package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/kitchenflow/internal/kitchen"
	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
	"github.com/drblury/kitchenflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/kitchenflow/internal/runtime/logging"
)

const tracerName = "github.com/drblury/kitchenflow/internal/runtime"

// InternalErrorMessage is published when handling an order failed for a
// reason other than its payload.
const InternalErrorMessage = "internal error"

// Publisher sends an encoded event. transport.Broker satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Processor handles one inbound order message to completion.
type Processor interface {
	Handle(ctx context.Context, topic string, payload []byte) (kitchen.FoodEvent, error)
}

// HandlerConfig configures an OrderHandler.
type HandlerConfig struct {
	Topics    kitchen.Topics
	MinPrepMs int
	MaxPrepMs int
	// Timer defaults to a randomly seeded kitchen.PrepTimer.
	Timer *kitchen.PrepTimer
	Hooks OrderHooks
}

// OrderHandler runs the per-order pipeline: decode, validate, wait the
// preparation time and publish the resulting event.
type OrderHandler struct {
	topics    kitchen.Topics
	minPrepMs int
	maxPrepMs int
	timer     *kitchen.PrepTimer
	hooks     OrderHooks

	publisher Publisher
	logger    loggingpkg.ServiceLogger
	tracer    trace.Tracer

	sleep func(time.Duration)
}

// NewOrderHandler validates the prep range and returns a handler that
// publishes through pub.
func NewOrderHandler(cfg HandlerConfig, pub Publisher, logger loggingpkg.ServiceLogger) (*OrderHandler, error) {
	if pub == nil {
		return nil, errspkg.ErrBrokerRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := kitchen.CheckRange(cfg.MinPrepMs, cfg.MaxPrepMs); err != nil {
		return nil, err
	}
	timer := cfg.Timer
	if timer == nil {
		timer = kitchen.NewRandomPrepTimer()
	}
	return &OrderHandler{
		topics:    kitchen.NewTopics(cfg.Topics.OrderPrefix, cfg.Topics.FoodPrefix),
		minPrepMs: cfg.MinPrepMs,
		maxPrepMs: cfg.MaxPrepMs,
		timer:     timer,
		hooks:     cfg.Hooks,
		publisher: pub,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		sleep:     time.Sleep,
	}, nil
}

// Handle processes one message and returns the event it published (or
// tried to publish). Every accepted message yields exactly one event. The
// returned error is the rejection reason for invalid orders, a
// *errors.PublishError when publishing failed, or ErrHandlerPanicked.
func (h *OrderHandler) Handle(ctx context.Context, topic string, payload []byte) (evt kitchen.FoodEvent, err error) {
	oc := OrderContext{
		CorrelationID: ids.CreateULID(),
		Topic:         topic,
		StartedAt:     time.Now(),
	}
	ctx, span := h.tracer.Start(ctx, "kitchen.HandleOrder",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.String("kitchen.correlation_id", oc.CorrelationID),
		),
	)
	defer span.End()
	oc.Context = ctx

	log := h.logger.With(loggingpkg.LogFields{
		"correlation_id": oc.CorrelationID,
		"topic":          topic,
	})

	var p kitchen.Payload
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		panicErr := fmt.Errorf("%w: %v", errspkg.ErrHandlerPanicked, r)
		log.Error("order_handler_panic", panicErr, loggingpkg.LogFields{"stack": string(debug.Stack())})
		evt, err = h.fail(ctx, log, span, oc, p, panicErr)
	}()

	h.hooks.start(oc)

	p = kitchen.DecodePayload(payload)
	order, verr := kitchen.ValidatePayload(p)
	if verr != nil {
		log.Info("invalid_order", loggingpkg.LogFields{
			"error":        verr.Error(),
			"payload_kind": p.Kind.String(),
		})
		span.SetAttributes(attribute.String("kitchen.status", string(kitchen.StatusError)))
		oc.Duration = time.Since(oc.StartedAt)
		h.hooks.fail(oc, verr)

		evt = kitchen.MakeErrorEvent(p, kitchen.InvalidOrderMessage)
		oc.Table = evt.Table
		oc.OrderID = evt.OrderID
		if perr := h.publishEvent(ctx, log, span, oc, evt); perr != nil {
			return evt, perr
		}
		return evt, verr
	}

	ms, derr := h.timer.Draw(h.minPrepMs, h.maxPrepMs)
	if derr != nil {
		return h.fail(ctx, log, span, oc, p, derr)
	}

	oc.OrderID = order.OrderID
	oc.Table = order.Table
	oc.PrepMs = int64(ms)
	span.SetAttributes(
		attribute.String("kitchen.order_id", order.OrderID),
		attribute.Int("kitchen.table", order.Table),
		attribute.Int("kitchen.prep_ms", ms),
	)
	log.Info("order_received", loggingpkg.LogFields{
		"order_id": order.OrderID,
		"table":    order.Table,
		"food":     order.Food,
		"prep_ms":  ms,
	})

	h.sleep(kitchen.Millis(ms))

	evt = kitchen.MakeSuccessEvent(order, int64(ms))
	if perr := h.publishEvent(ctx, log, span, oc, evt); perr != nil {
		return evt, perr
	}
	log.Info("food_published", loggingpkg.LogFields{
		"order_id": order.OrderID,
		"table":    order.Table,
		"prep_ms":  ms,
	})
	return evt, nil
}

// fail reports cause and publishes an error event built from whatever p
// carries.
func (h *OrderHandler) fail(ctx context.Context, log loggingpkg.ServiceLogger, span trace.Span, oc OrderContext, p kitchen.Payload, cause error) (kitchen.FoodEvent, error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	oc.Duration = time.Since(oc.StartedAt)
	h.hooks.fail(oc, cause)

	evt := kitchen.MakeErrorEvent(p, InternalErrorMessage)
	oc.Table = evt.Table
	oc.OrderID = evt.OrderID
	if perr := h.safePublish(ctx, log, span, oc, evt); perr != nil {
		return evt, perr
	}
	return evt, cause
}

// safePublish is publishEvent for the panic path: a second panic is logged
// instead of escaping the handling goroutine.
func (h *OrderHandler) safePublish(ctx context.Context, log loggingpkg.ServiceLogger, span trace.Span, oc OrderContext, evt kitchen.FoodEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.PublishError{Topic: evt.Topic(h.topics), Cause: fmt.Errorf("%w: %v", errspkg.ErrHandlerPanicked, r)}
			log.Error("food_publish_failed", err, nil)
		}
	}()
	return h.publishEvent(ctx, log, span, oc, evt)
}

func (h *OrderHandler) publishEvent(ctx context.Context, log loggingpkg.ServiceLogger, span trace.Span, oc OrderContext, evt kitchen.FoodEvent) error {
	topic := evt.Topic(h.topics)
	err := h.publish(ctx, topic, evt)
	oc.Duration = time.Since(oc.StartedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		log.Error("food_publish_failed", err, loggingpkg.LogFields{
			"food_topic": topic,
			"status":     string(evt.Status),
		})
		h.hooks.fail(oc, err)
		return err
	}
	h.hooks.done(oc, evt)
	return nil
}

func (h *OrderHandler) publish(ctx context.Context, topic string, evt kitchen.FoodEvent) error {
	data, err := evt.Marshal()
	if err != nil {
		return &errspkg.PublishError{Topic: topic, Cause: err}
	}
	if err := h.publisher.Publish(ctx, topic, data); err != nil {
		return &errspkg.PublishError{Topic: topic, Cause: err}
	}
	return nil
}
