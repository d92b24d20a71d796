// Package kitchenflow is the kitchen side of a restaurant order pipeline. It
// subscribes to orders on an MQTT broker reached over WebSocket, simulates
// preparing each dish for a random time, and publishes a food event per
// order back to the broker. The transport is read from Config: MQTT over
// ws:// or wss:// by default, with NATS, RabbitMQ and an in-process channel
// hub registered as alternatives.
//
// Service hosts the Bridge and the OrderHandler. The Bridge owns the broker
// session: it connects, subscribes to restaurant/orders/#, reconnects after
// a fixed delay whenever the session ends, and queues inbound messages in
// arrival order. Every order is handled on its own goroutine, so a slow dish
// never delays the next one. A minimal setup fills Config (or calls
// ConfigFromEnv), creates a Service, and calls Start; see cmd/kitchen for the
// process entry point.
//
// # Orders and food events
//
// An order is a JSON object with orderId, table, food and ts. Valid orders
// produce a "ready" event on restaurant/foods/<table> carrying the measured
// preparation time. Anything else, including payloads that are not JSON,
// produces an "error" event with the message "invalid order" on the table
// topic that could be recovered from the payload, or restaurant/foods/0.
//
// # Transports
//
// Kitchenflow supports 4 message transports out of the box:
//   - mqtt: MQTT 3.1.1 over WebSocket (the default)
//   - nats: Core NATS subjects with MQTT-style wildcards translated
//   - rabbitmq: AMQP topic exchange with a per-client queue
//   - channel: In-process hub for tests and local runs
//
// # Order Hooks
//
// OrderHooks provides OnOrderStart, OnOrderDone, and OnOrderError callbacks
// for custom logging, metrics collection, and alerting around order
// handling. LoggingHooks and MetricsHooks are installed by the Service;
// extra hooks are passed through ServiceDependencies.Hooks.
package kitchenflow
