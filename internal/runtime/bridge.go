package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/drblury/kitchenflow/internal/kitchen"
	configpkg "github.com/drblury/kitchenflow/internal/runtime/config"
	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/kitchenflow/internal/runtime/logging"
	"github.com/drblury/kitchenflow/transport"
)

// State is the connection state of a Bridge.
type State int32

// Bridge states. StateStopped is terminal.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var errConnectionLost = errors.New("connection lost")

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Topics kitchen.Topics
	// ReconnectDelay is the fixed wait between connection attempts.
	ReconnectDelay time.Duration
	// MaxInFlight caps concurrently handled orders. Zero means no cap.
	MaxInFlight int
}

// BridgeConfigFromConfig extracts the bridge settings from conf.
func BridgeConfigFromConfig(conf *configpkg.Config) BridgeConfig {
	return BridgeConfig{
		Topics:         conf.Topics(),
		ReconnectDelay: conf.ReconnectDelay,
		MaxInFlight:    conf.MaxInFlight,
	}
}

// Bridge connects a transport.Broker to a Processor. It keeps one broker
// session open at a time, reconnecting after a fixed delay for as long as it
// runs, and hands every message received on an order topic to its own
// goroutine.
type Bridge struct {
	cfg       BridgeConfig
	broker    transport.Broker
	processor Processor
	logger    loggingpkg.ServiceLogger
	metrics   *Metrics

	queue *Queue
	sem   *semaphore.Weighted

	state    atomic.Int32
	running  atomic.Bool
	// lingering is set when Run returned with the last session still
	// connected so in-flight orders can publish. Drain disconnects it.
	lingering atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	inFlight sync.WaitGroup
}

// NewBridge returns a bridge in StateDisconnected. metrics may be nil.
func NewBridge(cfg BridgeConfig, broker transport.Broker, processor Processor, logger loggingpkg.ServiceLogger, metrics *Metrics) (*Bridge, error) {
	if broker == nil {
		return nil, errspkg.ErrBrokerRequired
	}
	if processor == nil {
		return nil, errspkg.ErrProcessorRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if cfg.MaxInFlight < 0 {
		return nil, errspkg.NewConfigurationError("MaxInFlight", "must not be negative", nil)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = configpkg.DefaultReconnectDelay
	}
	cfg.Topics = kitchen.NewTopics(cfg.Topics.OrderPrefix, cfg.Topics.FoodPrefix)

	b := &Bridge{
		cfg:       cfg,
		broker:    broker,
		processor: processor,
		logger:    logger.With(loggingpkg.LogFields{"component": "bridge"}),
		metrics:   metrics,
		queue:     NewQueue(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if cfg.MaxInFlight > 0 {
		b.sem = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	return b, nil
}

// State returns the current connection state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	for {
		cur := b.state.Load()
		if State(cur) == StateStopped {
			return
		}
		if b.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Run connects, dispatches and reconnects until ctx is done or Stop is
// called. Connection failures are retried forever. It returns nil on a
// regular shutdown; a Bridge runs at most once.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errspkg.ErrBridgeRunning
	}
	defer close(b.done)
	defer b.shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for ctx.Err() == nil {
		b.runSession(ctx)
		if !b.wait(ctx, b.cfg.ReconnectDelay) {
			break
		}
	}
	return nil
}

// Stop asks Run to return. In-flight orders keep running; use Drain to wait
// for them. Stop is idempotent.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
}

// Drain waits for Run to return and for every in-flight order to finish,
// or until ctx is done. Call it after Stop. The broker session kept open
// for in-flight publishes is disconnected when Drain returns.
func (b *Bridge) Drain(ctx context.Context) error {
	defer b.release()

	if b.running.Load() {
		select {
		case <-b.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	idle := make(chan struct{})
	go func() {
		b.inFlight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) release() {
	if b.lingering.CompareAndSwap(true, false) {
		b.broker.Disconnect()
		b.logger.Info("mqtt_disconnected", loggingpkg.LogFields{"reason": "drained"})
	}
}

func (b *Bridge) shutdown() {
	b.setState(StateStopped)
	if dropped := b.queue.Close(); dropped > 0 {
		b.logger.Info("Dropped queued messages on shutdown", loggingpkg.LogFields{"count": dropped})
	}
}

func (b *Bridge) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runSession performs one connect attempt and, when it succeeds, dispatches
// until the session ends.
func (b *Bridge) runSession(ctx context.Context) {
	b.setState(StateConnecting)
	sessCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	sess := &session{bridge: b, ctx: sessCtx, cancel: cancel}

	err := b.broker.Connect(sessCtx, sess)
	if err != nil {
		b.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		b.metrics.connectAttempt(err)
		b.logger.Error("mqtt_connect_error", err, loggingpkg.LogFields{
			"retry_in": b.cfg.ReconnectDelay.String(),
		})
		return
	}
	b.metrics.connectAttempt(nil)

	b.dispatchLoop(ctx, sessCtx)

	if ctx.Err() != nil && errors.Is(context.Cause(sessCtx), context.Cause(ctx)) {
		// Stopping: in-flight orders still publish on this session.
		b.lingering.Store(true)
		return
	}
	b.broker.Disconnect()
	b.setState(StateDisconnected)
	if ctx.Err() == nil {
		b.logger.Info("mqtt_disconnected", loggingpkg.LogFields{
			"reason":   context.Cause(sessCtx).Error(),
			"retry_in": b.cfg.ReconnectDelay.String(),
		})
	}
}

func (b *Bridge) onConnect(s *session) {
	if s.ctx.Err() != nil {
		return
	}
	b.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected))

	pattern := b.cfg.Topics.OrderWildcard()
	b.logger.Info("mqtt_connected", loggingpkg.LogFields{"subscribe": pattern})
	if err := b.broker.Subscribe(s.ctx, pattern); err != nil {
		b.logger.Error("mqtt_subscribe_error", err, loggingpkg.LogFields{"pattern": pattern})
		s.cancel(&errspkg.TransportError{Op: "subscribe", Cause: err})
	}
}

func (b *Bridge) enqueue(topic string, payload []byte) {
	if !b.queue.Push(topic, payload) {
		b.metrics.messageDropped()
		b.logger.Info("Dropped message, bridge is stopped", loggingpkg.LogFields{"topic": topic})
	}
}

// dispatchLoop pops messages until the session ends. Messages still queued
// at that point wait for the next session.
func (b *Bridge) dispatchLoop(runCtx, sessCtx context.Context) {
	for sessCtx.Err() == nil {
		item, err := b.queue.Pop(sessCtx)
		if err != nil {
			return
		}
		b.dispatch(runCtx, item)
	}
}

func (b *Bridge) dispatch(runCtx context.Context, item Inbound) {
	if !b.cfg.Topics.IsOrderTopic(item.Topic) {
		b.metrics.messageDiscarded()
		b.logger.Debug("message_discarded", loggingpkg.LogFields{"topic": item.Topic})
		return
	}
	if b.sem != nil {
		if err := b.sem.Acquire(runCtx, 1); err != nil {
			b.metrics.messageDropped()
			b.logger.Info("Dropped order, bridge is stopping", loggingpkg.LogFields{"topic": item.Topic})
			return
		}
	}

	b.inFlight.Add(1)
	b.metrics.inFlightAdd(1)
	go func() {
		defer b.inFlight.Done()
		defer b.metrics.inFlightAdd(-1)
		if b.sem != nil {
			defer b.sem.Release(1)
		}
		b.handle(context.WithoutCancel(runCtx), item)
	}()
}

func (b *Bridge) handle(ctx context.Context, item Inbound) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("order_task_panic", fmt.Errorf("%w: %v", errspkg.ErrHandlerPanicked, r), loggingpkg.LogFields{"topic": item.Topic})
		}
	}()
	_, _ = b.processor.Handle(ctx, item.Topic, item.Payload)
}

// session is the transport.Handlers of one broker session.
type session struct {
	bridge *Bridge
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func (s *session) OnConnect() {
	s.bridge.onConnect(s)
}

func (s *session) OnConnectionLost(err error) {
	if err == nil {
		err = errConnectionLost
	}
	s.bridge.logger.Error("mqtt_connection_lost", err, nil)
	s.cancel(err)
}

func (s *session) OnMessage(topic string, payload []byte) {
	s.bridge.enqueue(topic, payload)
}
