// Package channel provides an in-memory hub transport for kitchenflow.
// Brokers attached to the same Hub exchange messages with MQTT topic
// semantics. This transport is useful for testing and local development.
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
	"github.com/drblury/kitchenflow/internal/runtime/ids"
	"github.com/drblury/kitchenflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// MetadataTopic carries the concrete topic of a hub message.
const MetadataTopic = "topic"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

// DefaultHub is shared by brokers built through the registry.
var DefaultHub = NewHub(watermill.NopLogger{})

var errHubClosed = errors.New("channel hub is closed")

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
	transport.RegisterWithCapabilities("gochannel", Build, transport.ChannelCapabilities)
}

// Hub routes messages between brokers in one process. Each subscribed
// pattern is a gochannel topic; Publish fans a message out to every
// pattern that matches its topic.
type Hub struct {
	pubSub *gochannel.GoChannel

	mu       sync.RWMutex
	patterns map[string]int
	closed   bool
}

// NewHub returns an empty hub.
func NewHub(logger watermill.LoggerAdapter) *Hub {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Hub{
		pubSub:   Factory(gochannel.Config{}, logger),
		patterns: make(map[string]int),
	}
}

// Publish delivers payload to every subscription whose pattern matches
// topic. Messages with no matching subscription are dropped.
func (h *Hub) Publish(topic string, payload []byte) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return errHubClosed
	}
	var targets []string
	for pattern := range h.patterns {
		if transport.MatchTopic(pattern, topic) {
			targets = append(targets, pattern)
		}
	}
	h.mu.RUnlock()

	msg := message.NewMessage(ids.CreateULID(), payload)
	msg.Metadata.Set(MetadataTopic, topic)

	for _, pattern := range targets {
		if err := h.pubSub.Publish(pattern, msg.Copy()); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hub) subscribe(ctx context.Context, pattern string) (<-chan *message.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errHubClosed
	}

	msgs, err := h.pubSub.Subscribe(ctx, pattern)
	if err != nil {
		return nil, err
	}
	h.patterns[pattern]++

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		h.patterns[pattern]--
		if h.patterns[pattern] <= 0 {
			delete(h.patterns, pattern)
		}
	}()
	return msgs, nil
}

// Close shuts the hub down; attached brokers can no longer connect.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.pubSub.Close()
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

type session struct {
	ctx      context.Context
	cancel   context.CancelFunc
	handlers transport.Handlers
}

// Broker is a transport.Broker attached to a Hub.
type Broker struct {
	hub    *Hub
	logger watermill.LoggerAdapter

	mu   sync.Mutex
	sess *session
}

// Build creates a broker on DefaultHub.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Broker, error) {
	return NewBroker(DefaultHub, logger), nil
}

// NewBroker returns a broker attached to hub.
func NewBroker(hub *Hub, logger watermill.LoggerAdapter) *Broker {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Broker{hub: hub, logger: logger.With(watermill.LogFields{"transport": TransportName})}
}

// Connect opens a session on the hub and reports OnConnect before returning.
func (b *Broker) Connect(ctx context.Context, h transport.Handlers) error {
	if err := ctx.Err(); err != nil {
		return &errspkg.TransportError{Op: "connect", Cause: err}
	}
	if b.hub.isClosed() {
		return &errspkg.TransportError{Op: "connect", Cause: errHubClosed}
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{ctx: sessCtx, cancel: cancel, handlers: h}

	b.mu.Lock()
	if b.sess != nil {
		b.sess.cancel()
	}
	b.sess = sess
	b.mu.Unlock()

	h.OnConnect()
	return nil
}

// Subscribe starts forwarding hub messages matching pattern to the session
// handlers until the session ends.
func (b *Broker) Subscribe(ctx context.Context, pattern string) error {
	if pattern == "" {
		return errspkg.ErrTopicRequired
	}
	sess, err := b.current()
	if err != nil {
		return &errspkg.TransportError{Op: "subscribe", Cause: err}
	}

	msgs, err := b.hub.subscribe(sess.ctx, pattern)
	if err != nil {
		return &errspkg.TransportError{Op: "subscribe", Cause: err}
	}

	go func() {
		for msg := range msgs {
			sess.handlers.OnMessage(msg.Metadata.Get(MetadataTopic), msg.Payload)
			msg.Ack()
		}
	}()
	return nil
}

// Publish hands payload to the hub.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if _, err := b.current(); err != nil {
		return &errspkg.TransportError{Op: "publish", Cause: err}
	}
	if err := b.hub.Publish(topic, payload); err != nil {
		return &errspkg.TransportError{Op: "publish", Cause: err}
	}
	return nil
}

// Disconnect ends the current session and its subscriptions.
func (b *Broker) Disconnect() {
	b.mu.Lock()
	sess := b.sess
	b.sess = nil
	b.mu.Unlock()

	if sess != nil {
		sess.cancel()
	}
}

// Interrupt ends the current session as if the connection dropped and
// reports err through OnConnectionLost.
func (b *Broker) Interrupt(err error) {
	b.mu.Lock()
	sess := b.sess
	b.sess = nil
	b.mu.Unlock()

	if sess == nil {
		return
	}
	sess.cancel()
	b.logger.Info("Channel session interrupted", watermill.LogFields{"error": err})
	sess.handlers.OnConnectionLost(&errspkg.TransportError{Op: "connection", Cause: err})
}

func (b *Broker) current() (*session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess == nil {
		return nil, errspkg.ErrNotConnected
	}
	return b.sess, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
