/*
Package runtime runs the kitchen worker: it bridges a broker session to the
order pipeline and publishes one food event per accepted order.

# Architecture Overview

Transport callbacks push inbound messages onto an unbounded Queue. The
Bridge pops them, discards everything outside the order prefix and hands
each order to its own goroutine, where the OrderHandler decodes, validates,
waits the drawn preparation time and publishes the result.

## Bridge (bridge.go, queue.go)

The Bridge owns the connection lifecycle:

	Disconnected -> Connecting -> Connected -> Disconnected -> ...
	                                        \-> Stopped (terminal)

A failed connect or a lost session is followed by a fixed ReconnectDelay.
Stop ends the retry and dispatch loops without cancelling orders in flight.
The last broker session stays open so those orders can still publish; Drain
waits for them and then disconnects it.

## Order handling (handler.go, hooks.go)

OrderHandler runs one span per order, tags its logs with a ULID correlation
id and turns rejected payloads and recovered panics into error events.
OrderHooks observe the lifecycle; LoggingHooks and MetricsHooks are
installed by the Service.

## Service (service.go, health.go, metrics.go)

Service builds the broker from the transport registry, wires the handler
and the bridge, and serves GET /health and /metrics next to them.

# Sub-packages

  - config/: environment configuration with validation
  - endpoint/: ws:// and wss:// broker URL parsing
  - errors/: sentinel errors, typed errors and Classify
  - ids/: ULID generation
  - jsoncodec/: JSON encoding backed by sonic
  - logging/: ServiceLogger and its watermill adapters

# Usage Example

	conf := config.Default()
	svc := runtime.NewService(&conf, logger, ctx, runtime.ServiceDependencies{})
	go svc.Start(ctx)

	<-signals
	svc.Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), conf.ShutdownGrace)
	defer cancel()
	svc.Drain(drainCtx)
*/
package runtime
