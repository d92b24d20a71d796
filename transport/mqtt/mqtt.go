// Package mqtt provides an MQTT over WebSocket transport for kitchenflow.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/drblury/kitchenflow/internal/runtime/endpoint"
	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
	"github.com/drblury/kitchenflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "mqtt"

// disconnectQuiesce is how long Disconnect lets in-flight work settle, in ms.
const disconnectQuiesce = 250

// ClientFactory allows overriding the paho client creation for testing.
var ClientFactory = func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	return pahomqtt.NewClient(opts)
}

var errSubscribeRejected = errors.New("broker rejected subscription")

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.MQTTCapabilities)
}

// Options configures a Broker.
type Options struct {
	Endpoint       endpoint.WsEndpoint
	ClientID       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	// TLSConfig overrides the default TLS settings used for wss endpoints.
	TLSConfig *tls.Config
}

// Broker is a paho backed transport.Broker. Paho's own reconnect logic is
// disabled; the bridge owns reconnection.
type Broker struct {
	opts   Options
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	client pahomqtt.Client
}

// Build creates a new MQTT broker from cfg. The broker URL must be a ws://
// or wss:// URL.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Broker, error) {
	ep, err := endpoint.Parse(cfg.GetBrokerURL())
	if err != nil {
		return nil, err
	}
	return New(Options{
		Endpoint:       ep,
		ClientID:       cfg.GetClientID(),
		KeepAlive:      cfg.GetKeepAlive(),
		ConnectTimeout: cfg.GetConnectTimeout(),
	}, logger), nil
}

// New returns a Broker for opts.
func New(opts Options, logger watermill.LoggerAdapter) *Broker {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Broker{
		opts:   opts,
		logger: logger.With(watermill.LogFields{"transport": TransportName, "broker": opts.Endpoint.URL()}),
	}
}

func (b *Broker) clientOptions(h transport.Handlers) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(b.opts.Endpoint.URL()).
		SetClientID(b.opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false)

	if b.opts.KeepAlive > 0 {
		opts.SetKeepAlive(b.opts.KeepAlive)
	}
	if b.opts.ConnectTimeout > 0 {
		opts.SetConnectTimeout(b.opts.ConnectTimeout)
	}
	if b.opts.Endpoint.Secure {
		tlsCfg := b.opts.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: b.opts.Endpoint.Host}
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		h.OnConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		b.logger.Error("MQTT connection lost", err, nil)
		h.OnConnectionLost(&errspkg.TransportError{Op: "connection", Cause: err})
	})
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		h.OnMessage(msg.Topic(), msg.Payload())
	})
	return opts
}

// Connect dials the broker and waits for CONNACK. A refused CONNACK is
// returned as a *errors.TransportError like any socket failure.
func (b *Broker) Connect(ctx context.Context, h transport.Handlers) error {
	client := ClientFactory(b.clientOptions(h))

	b.mu.Lock()
	b.client = client
	b.mu.Unlock()

	token := client.Connect()
	if err := wait(ctx, token); err != nil {
		fields := watermill.LogFields{}
		if ct, ok := token.(*pahomqtt.ConnectToken); ok {
			fields["return_code"] = ct.ReturnCode()
		}
		b.logger.Debug("MQTT connect failed", fields)
		b.drop(client)
		return &errspkg.TransportError{Op: "connect", Cause: err}
	}
	return nil
}

// Subscribe registers pattern at QoS 1. Matching messages reach the
// handlers passed to Connect.
func (b *Broker) Subscribe(ctx context.Context, pattern string) error {
	if pattern == "" {
		return errspkg.ErrTopicRequired
	}
	client, err := b.current()
	if err != nil {
		return &errspkg.TransportError{Op: "subscribe", Cause: err}
	}

	token := client.Subscribe(pattern, transport.QoSAtLeastOnce, nil)
	if err := wait(ctx, token); err != nil {
		return &errspkg.TransportError{Op: "subscribe", Cause: err}
	}
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[pattern]; found && code == 0x80 {
			return &errspkg.TransportError{Op: "subscribe", Cause: fmt.Errorf("%w: %s", errSubscribeRejected, pattern)}
		}
	}
	b.logger.Debug("MQTT subscribed", watermill.LogFields{"pattern": pattern})
	return nil
}

// Publish sends payload at QoS 1 and waits for PUBACK.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	client, err := b.current()
	if err != nil {
		return &errspkg.TransportError{Op: "publish", Cause: err}
	}
	if err := wait(ctx, client.Publish(topic, transport.QoSAtLeastOnce, false, payload)); err != nil {
		return &errspkg.TransportError{Op: "publish", Cause: err}
	}
	return nil
}

// Disconnect closes the current session, if any.
func (b *Broker) Disconnect() {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.mu.Unlock()

	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(disconnectQuiesce)
	}
}

func (b *Broker) current() (pahomqtt.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, errspkg.ErrNotConnected
	}
	return b.client, nil
}

func (b *Broker) drop(client pahomqtt.Client) {
	b.mu.Lock()
	if b.client == client {
		b.client = nil
	}
	b.mu.Unlock()
}

func wait(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.MQTTCapabilities
}
