// Command kitchen runs the kitchen worker: it consumes orders from the
// broker, prepares them and publishes food events.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/kitchenflow"
	_ "github.com/drblury/kitchenflow/transport/transports"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.LookupEnv, os.Stdout, kitchenflow.ServiceDependencies{}); err != nil {
		fmt.Fprintf(os.Stderr, "kitchen: %v\n", err)
		os.Exit(1)
	}
}

// run loads the configuration from lookup and serves until ctx is done. The
// bridge is then stopped and in-flight orders get ShutdownGrace to finish.
func run(ctx context.Context, lookup func(string) (string, bool), out io.Writer, deps kitchenflow.ServiceDependencies) error {
	conf, err := kitchenflow.ConfigFromEnv(lookup)
	if err != nil {
		return err
	}
	if err := conf.Validate(); err != nil {
		return err
	}

	level, err := kitchenflow.ParseLogLevel(conf.LogLevel)
	if err != nil {
		return err
	}
	logger := kitchenflow.NewJSONServiceLogger(out, level)

	if conf.ClientIDSuffix {
		conf.ClientID = kitchenflow.NewClientID(conf.ClientID)
	}

	svc, err := kitchenflow.TryNewService(&conf, logger, context.WithoutCancel(ctx), deps)
	if err != nil {
		return err
	}

	logger.Info("kitchen_starting", kitchenflow.LogFields{
		"client_id":    conf.ClientID,
		"order_topics": conf.Topics().OrderWildcard(),
	})

	startErr := svc.Start(ctx)

	svc.Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), conf.ShutdownGrace)
	defer cancel()
	if err := svc.Drain(drainCtx); err != nil {
		logger.Error("kitchen_drain_timeout", err, kitchenflow.LogFields{"grace": conf.ShutdownGrace.String()})
	}
	logger.Info("kitchen_stopped", nil)

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		return startErr
	}
	return nil
}
