package transport

// Capabilities describes the features supported by a transport backend.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// SupportsWildcards indicates "+" and "#" patterns are honoured, either
	// natively or by translation.
	SupportsWildcards bool

	// SupportsAtLeastOnce indicates the broker acknowledges publishes and
	// redelivers unacknowledged messages.
	SupportsAtLeastOnce bool

	// SupportsPublishConfirm indicates Publish returns only after the broker
	// accepted the message.
	SupportsPublishConfirm bool

	// SupportsTLS indicates the transport can connect over TLS.
	SupportsTLS bool

	// InProcess indicates the transport never leaves the process.
	InProcess bool

	// TopicSeparator is the level separator the broker uses natively.
	TopicSeparator string
}

// RequiresTopicTranslation returns true when MQTT topics must be rewritten
// before they reach the broker.
func (c Capabilities) RequiresTopicTranslation() bool {
	return c.TopicSeparator != "" && c.TopicSeparator != "/"
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery with publisher confirmation.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAtLeastOnce && c.SupportsPublishConfirm
}

// Predefined capability sets for the built-in transports.
var (
	// MQTTCapabilities for MQTT over WebSocket.
	MQTTCapabilities = Capabilities{
		Name:                   "mqtt",
		SupportsWildcards:      true,
		SupportsAtLeastOnce:    true,
		SupportsPublishConfirm: true,
		SupportsTLS:            true,
		TopicSeparator:         "/",
	}

	// NATSCapabilities for NATS core. Delivery is at most once.
	NATSCapabilities = Capabilities{
		Name:                   "nats",
		SupportsWildcards:      true,
		SupportsAtLeastOnce:    false,
		SupportsPublishConfirm: false,
		SupportsTLS:            true,
		TopicSeparator:         ".",
	}

	// RabbitMQCapabilities for an AMQP topic exchange with publisher confirms.
	RabbitMQCapabilities = Capabilities{
		Name:                   "rabbitmq",
		SupportsWildcards:      true,
		SupportsAtLeastOnce:    true,
		SupportsPublishConfirm: true,
		SupportsTLS:            true,
		TopicSeparator:         ".",
	}

	// ChannelCapabilities for the in-memory hub.
	ChannelCapabilities = Capabilities{
		Name:                   "channel",
		SupportsWildcards:      true,
		SupportsAtLeastOnce:    true,
		SupportsPublishConfirm: true,
		InProcess:              true,
		TopicSeparator:         "/",
	}
)
