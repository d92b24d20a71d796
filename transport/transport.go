// Package transport defines the broker interface the kitchen bridge talks to.
// Each transport implementation (mqtt, nats, rabbitmq, channel) lives in its
// own sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// QoSAtLeastOnce is the delivery level used for subscriptions and publishes.
const QoSAtLeastOnce byte = 1

// Handlers receives session events from a Broker. Implementations are
// called on transport goroutines and must not block.
type Handlers interface {
	// OnConnect fires once the session is established, possibly before
	// Connect returns. Brokers never hold their own locks while calling it,
	// so it may call Subscribe.
	OnConnect()
	// OnConnectionLost fires when an established session ends without a
	// Disconnect call.
	OnConnectionLost(err error)
	// OnMessage delivers an inbound message with its concrete topic.
	OnMessage(topic string, payload []byte)
}

// Broker is a single broker session at a time. Topics and patterns use
// MQTT syntax ("/" separated levels, "+" and "#" wildcards); transports
// with other conventions translate them.
type Broker interface {
	// Connect opens a session and returns once it is established or failed.
	Connect(ctx context.Context, h Handlers) error
	// Subscribe registers pattern at QoS 1 on the current session.
	Subscribe(ctx context.Context, pattern string) error
	// Publish sends payload at QoS 1 and waits for the broker to accept it.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Disconnect closes the current session. It is safe to call repeatedly.
	Disconnect()
}

// Builder is the function signature for creating a broker from config.
// Each transport package should provide a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Broker, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	GetBrokerURL() string
	GetClientID() string
	GetKeepAlive() time.Duration
	GetConnectTimeout() time.Duration

	// RabbitMQ
	GetRabbitMQExchange() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
