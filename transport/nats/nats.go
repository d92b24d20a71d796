// Package nats provides a NATS Core transport for kitchenflow. MQTT topics
// are mapped onto NATS subjects ("/" becomes ".", "+" becomes "*" and "#"
// becomes ">").
package nats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
	"github.com/drblury/kitchenflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// Conn is the subset of *nats.Conn the broker needs.
type Conn interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// ConnectFactory allows overriding the connection creation for testing.
var ConnectFactory = func(url string, opts ...nats.Option) (Conn, error) {
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

var errServerClosed = errors.New("nats connection closed by server")

// Register registers the NATS transport with the default registry.
// This should be called from an init() function in an importing package,
// or explicitly before using the transport.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

func init() {
	Register()
}

type session struct {
	conn     Conn
	handlers transport.Handlers
	closing  atomic.Bool
}

// Broker is a NATS core transport.Broker. Reconnection is left to the
// bridge, so the client is built with NoReconnect.
type Broker struct {
	url    string
	opts   []nats.Option
	logger watermill.LoggerAdapter

	mu   sync.Mutex
	sess *session
}

// Build creates a new NATS broker.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Broker, error) {
	if cfg.GetBrokerURL() == "" {
		return nil, errspkg.NewConfigurationError("broker url", "is required for nats", nil)
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	opts := []nats.Option{nats.NoReconnect()}
	if id := cfg.GetClientID(); id != "" {
		opts = append(opts, nats.Name(id))
	}
	if d := cfg.GetConnectTimeout(); d > 0 {
		opts = append(opts, nats.Timeout(d))
	}
	if d := cfg.GetKeepAlive(); d > 0 {
		opts = append(opts, nats.PingInterval(d))
	}

	return &Broker{
		url:    cfg.GetBrokerURL(),
		opts:   opts,
		logger: logger.With(watermill.LogFields{"transport": TransportName}),
	}, nil
}

// Connect dials the server and reports OnConnect before returning.
func (b *Broker) Connect(ctx context.Context, h transport.Handlers) error {
	if err := ctx.Err(); err != nil {
		return &errspkg.TransportError{Op: "connect", Cause: err}
	}

	sess := &session{handlers: h}
	opts := append([]nats.Option{}, b.opts...)
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if sess.closing.Load() {
			return
		}
		if err == nil {
			err = errServerClosed
		}
		b.logger.Error("NATS connection lost", err, nil)
		h.OnConnectionLost(&errspkg.TransportError{Op: "connection", Cause: err})
	}))

	conn, err := ConnectFactory(b.url, opts...)
	if err != nil {
		return &errspkg.TransportError{Op: "connect", Cause: err}
	}
	sess.conn = conn

	b.mu.Lock()
	b.sess = sess
	b.mu.Unlock()

	h.OnConnect()
	return nil
}

// Subscribe subscribes to the subject equivalent of pattern and flushes so
// the server has registered the interest before returning.
func (b *Broker) Subscribe(ctx context.Context, pattern string) error {
	if pattern == "" {
		return errspkg.ErrTopicRequired
	}
	sess, err := b.current()
	if err != nil {
		return &errspkg.TransportError{Op: "subscribe", Cause: err}
	}

	subject := transport.ToDotted(pattern, ">")
	_, err = sess.conn.Subscribe(subject, func(msg *nats.Msg) {
		sess.handlers.OnMessage(transport.FromDotted(msg.Subject), msg.Data)
	})
	if err != nil {
		return &errspkg.TransportError{Op: "subscribe", Cause: err}
	}
	if err := sess.conn.FlushWithContext(ctx); err != nil {
		return &errspkg.TransportError{Op: "subscribe", Cause: err}
	}
	b.logger.Debug("NATS subscribed", watermill.LogFields{"subject": subject})
	return nil
}

// Publish sends payload and flushes. NATS core has no acknowledgements, so
// a successful flush is the strongest guarantee available.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	sess, err := b.current()
	if err != nil {
		return &errspkg.TransportError{Op: "publish", Cause: err}
	}
	if err := sess.conn.Publish(transport.ToDotted(topic, ">"), payload); err != nil {
		return &errspkg.TransportError{Op: "publish", Cause: err}
	}
	if err := sess.conn.FlushWithContext(ctx); err != nil {
		return &errspkg.TransportError{Op: "publish", Cause: err}
	}
	return nil
}

// Disconnect closes the current connection, if any.
func (b *Broker) Disconnect() {
	b.mu.Lock()
	sess := b.sess
	b.sess = nil
	b.mu.Unlock()

	if sess != nil {
		sess.closing.Store(true)
		sess.conn.Close()
	}
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
	return transport.NATSCapabilities
}
