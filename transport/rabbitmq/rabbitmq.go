// Package rabbitmq provides a RabbitMQ/AMQP transport for kitchenflow.
// Topics travel on a topic exchange; MQTT topics become routing keys
// ("/" becomes ".", "+" becomes "*", "#" stays "#").
package rabbitmq

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/rabbitmq/amqp091-go"

	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
	"github.com/drblury/kitchenflow/internal/runtime/ids"
	"github.com/drblury/kitchenflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// Channel is the subset of *amqp.Channel the broker needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Connection is the subset of *amqp.Connection the broker needs.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialFactory allows overriding the connection creation for testing.
var DialFactory = func(url string, cfg amqp.Config) (Connection, error) {
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

var errNack = errors.New("publish NACK from broker")

// Register registers the RabbitMQ transport with the default registry.
// This should be called from an init() function in an importing package,
// or explicitly before using the transport.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

func init() {
	Register()
}

type session struct {
	conn     Connection
	ch       Channel
	handlers transport.Handlers
	closing  atomic.Bool

	// pubMu serialises publishes so each confirmation pairs with its publish.
	pubMu sync.Mutex
	acks  chan amqp.Confirmation
}

// Broker is an AMQP 0-9-1 transport.Broker bound to one topic exchange.
type Broker struct {
	url      string
	exchange string
	clientID string
	amqpCfg  amqp.Config
	logger   watermill.LoggerAdapter

	mu   sync.Mutex
	sess *session
}

// Build creates a new RabbitMQ broker.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Broker, error) {
	url := cfg.GetBrokerURL()
	if url == "" {
		return nil, errspkg.NewConfigurationError("broker url", "is required for rabbitmq", nil)
	}
	if cfg.GetRabbitMQExchange() == "" {
		return nil, errspkg.NewConfigurationError("rabbitmq exchange", "is required", nil)
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	props := amqp.NewConnectionProperties()
	if id := cfg.GetClientID(); id != "" {
		props.SetClientConnectionName(id)
	}
	amqpCfg := amqp.Config{
		Heartbeat:  cfg.GetKeepAlive(),
		Properties: props,
		Locale:     "en_US",
	}
	if d := cfg.GetConnectTimeout(); d > 0 {
		amqpCfg.Dial = amqp.DefaultDial(d)
	}
	if strings.HasPrefix(url, "amqps://") {
		amqpCfg.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &Broker{
		url:      url,
		exchange: cfg.GetRabbitMQExchange(),
		clientID: cfg.GetClientID(),
		amqpCfg:  amqpCfg,
		logger:   logger.With(watermill.LogFields{"transport": TransportName, "exchange": cfg.GetRabbitMQExchange()}),
	}, nil
}

// Connect dials the server, declares the exchange, enables publisher
// confirms and reports OnConnect before returning.
func (b *Broker) Connect(ctx context.Context, h transport.Handlers) error {
	if err := ctx.Err(); err != nil {
		return &errspkg.TransportError{Op: "connect", Cause: err}
	}

	conn, err := DialFactory(b.url, b.amqpCfg)
	if err != nil {
		return &errspkg.TransportError{Op: "connect", Cause: err}
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return &errspkg.TransportError{Op: "connect", Cause: err}
	}
	if err := ch.ExchangeDeclare(b.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return &errspkg.TransportError{Op: "declare exchange", Cause: err}
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return &errspkg.TransportError{Op: "confirm", Cause: err}
	}

	sess := &session{conn: conn, ch: ch, handlers: h}
	sess.acks = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go b.watch(sess, closed)

	b.mu.Lock()
	b.sess = sess
	b.mu.Unlock()

	h.OnConnect()
	return nil
}

func (b *Broker) watch(sess *session, closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed
	if !ok || amqpErr == nil || sess.closing.Load() {
		return
	}
	b.logger.Error("RabbitMQ connection lost", amqpErr, nil)
	sess.handlers.OnConnectionLost(&errspkg.TransportError{Op: "connection", Cause: amqpErr})
}

// Subscribe binds an exclusive, auto-deleted queue to the exchange with the
// routing key equivalent of pattern and starts consuming it.
func (b *Broker) Subscribe(ctx context.Context, pattern string) error {
	if pattern == "" {
		return errspkg.ErrTopicRequired
	}
	sess, err := b.current()
	if err != nil {
		return &errspkg.TransportError{Op: "subscribe", Cause: err}
	}

	q, err := sess.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return &errspkg.TransportError{Op: "subscribe", Cause: err}
	}
	key := transport.ToDotted(pattern, "#")
	if err := sess.ch.QueueBind(q.Name, key, b.exchange, false, nil); err != nil {
		return &errspkg.TransportError{Op: "subscribe", Cause: err}
	}
	deliveries, err := sess.ch.Consume(q.Name, b.clientID, true, true, false, false, nil)
	if err != nil {
		return &errspkg.TransportError{Op: "subscribe", Cause: err}
	}

	go func() {
		for d := range deliveries {
			sess.handlers.OnMessage(transport.FromDotted(d.RoutingKey), d.Body)
		}
	}()

	b.logger.Debug("RabbitMQ subscribed", watermill.LogFields{"queue": q.Name, "routing_key": key})
	return nil
}

// Publish sends payload to the exchange and waits for the publisher
// confirmation.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	sess, err := b.current()
	if err != nil {
		return &errspkg.TransportError{Op: "publish", Cause: err}
	}

	sess.pubMu.Lock()
	defer sess.pubMu.Unlock()

	err = sess.ch.PublishWithContext(ctx, b.exchange, transport.ToDotted(topic, "#"), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    ids.CreateULID(),
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		return &errspkg.TransportError{Op: "publish", Cause: err}
	}

	select {
	case conf, ok := <-sess.acks:
		if !ok {
			return &errspkg.TransportError{Op: "publish", Cause: amqp.ErrClosed}
		}
		if !conf.Ack {
			return &errspkg.TransportError{Op: "publish", Cause: errNack}
		}
		return nil
	case <-ctx.Done():
		return &errspkg.TransportError{Op: "publish", Cause: ctx.Err()}
	}
}

// Disconnect closes the channel and connection, if any.
func (b *Broker) Disconnect() {
	b.mu.Lock()
	sess := b.sess
	b.sess = nil
	b.mu.Unlock()

	if sess == nil {
		return
	}
	sess.closing.Store(true)
	_ = sess.ch.Close()
	_ = sess.conn.Close()
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
	return transport.RabbitMQCapabilities
}
