package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/kitchenflow/internal/kitchen"
	configpkg "github.com/drblury/kitchenflow/internal/runtime/config"
	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/kitchenflow/internal/runtime/logging"
	"github.com/drblury/kitchenflow/transport"
)

const readHeaderTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults.
type ServiceDependencies struct {
	// Broker skips the transport registry when set.
	Broker transport.Broker
	// Registry builds the broker named by Conf.PubSubSystem. Defaults to
	// transport.DefaultRegistry.
	Registry *transport.Registry
	// Registerer and Gatherer back the metrics endpoint. Default to the
	// Prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// Hooks run after the built-in logging and metrics hooks.
	Hooks OrderHooks
	// PrepTimer makes preparation times reproducible.
	PrepTimer *kitchen.PrepTimer
}

// Service wires the broker, the order handler, the bridge and the HTTP side
// servers (health and metrics).
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	broker       transport.Broker
	capabilities transport.Capabilities
	handler      *OrderHandler
	bridge       *Bridge
	metrics      *Metrics

	httpServers   map[int]*chi.Mux
	httpServersMu sync.Mutex
}

// NewService constructs a Service for the supplied configuration and panics
// when it cannot be built. Use TryNewService to handle the error.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService validates conf, builds the transport and wires the bridge.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, err
	}
	log.Info("Creating kitchen service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf.String(),
	})

	s := &Service{Conf: conf, Logger: log}

	registry := deps.Registry
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	broker := deps.Broker
	if broker == nil {
		var err error
		broker, err = registry.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
		if err != nil {
			return nil, fmt.Errorf("build %q transport: %w", conf.PubSubSystem, err)
		}
	}
	s.broker = broker
	s.capabilities = registry.GetCapabilities(conf.GetPubSubSystem())
	if provider, ok := broker.(transport.CapabilitiesProvider); ok {
		s.capabilities = provider.Capabilities()
	}
	s.logCapabilities(log)

	hooks := LoggingHooks(log)
	if conf.MetricsEnabled {
		s.metrics = NewMetrics()
		if err := s.metrics.Register(deps.Registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		hooks = hooks.Merge(MetricsHooks(s.metrics))
		if conf.MetricsPort > 0 {
			gatherer := deps.Gatherer
			if gatherer == nil {
				gatherer = prometheus.DefaultGatherer
			}
			s.RegisterHTTPHandler(conf.MetricsPort, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		}
	}
	hooks = hooks.Merge(deps.Hooks)

	handler, err := NewOrderHandler(HandlerConfig{
		Topics:    conf.Topics(),
		MinPrepMs: conf.MinPrepMs,
		MaxPrepMs: conf.MaxPrepMs,
		Timer:     deps.PrepTimer,
		Hooks:     hooks,
	}, broker, log)
	if err != nil {
		return nil, err
	}
	s.handler = handler

	bridge, err := NewBridge(BridgeConfigFromConfig(conf), broker, handler, log, s.metrics)
	if err != nil {
		return nil, err
	}
	s.bridge = bridge

	if conf.HealthPort > 0 {
		s.routerFor(conf.HealthPort).Get(HealthPath, HealthHandler())
	}
	return s, nil
}

// Bridge exposes the running bridge, mainly for its State.
func (s *Service) Bridge() *Bridge {
	return s.bridge
}

// Capabilities reports what the configured transport guarantees.
func (s *Service) Capabilities() transport.Capabilities {
	return s.capabilities
}

// logCapabilities warns when food events may be lost on the way out.
func (s *Service) logCapabilities(log loggingpkg.ServiceLogger) {
	caps := s.capabilities
	fields := loggingpkg.LogFields{
		"transport":         caps.Name,
		"topic_translation": caps.RequiresTopicTranslation(),
	}
	if caps.SupportsReliableDelivery() {
		log.Debug("transport_capabilities", fields)
		return
	}
	fields["at_least_once"] = caps.SupportsAtLeastOnce
	fields["publish_confirm"] = caps.SupportsPublishConfirm
	log.Info("transport_delivery_at_most_once", fields)
}

// Start runs the bridge and the HTTP servers until ctx is cancelled or Stop
// is called.
func (s *Service) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)

	servers := s.startHTTPServers(g)

	g.Go(func() error {
		defer cancel()
		return s.bridge.Run(runCtx)
	})
	g.Go(func() error {
		<-runCtx.Done()
		return s.shutdownHTTPServers(servers)
	})
	return g.Wait()
}

// Stop stops the bridge; Start returns once it has.
func (s *Service) Stop() {
	s.bridge.Stop()
}

// Drain waits for in-flight orders until ctx is done, then disconnects the
// broker.
func (s *Service) Drain(ctx context.Context) error {
	return s.bridge.Drain(ctx)
}

// RegisterHTTPHandler mounts handler on the server listening on port.
// Handlers must be registered before Start.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.routerFor(port).Handle(pattern, handler)
}

// HTTPHandler returns the router served on port, or nil.
func (s *Service) HTTPHandler(port int) http.Handler {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	mux, ok := s.httpServers[port]
	if !ok {
		return nil
	}
	return mux
}

func (s *Service) routerFor(port int) *chi.Mux {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*chi.Mux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = chi.NewMux()
		s.httpServers[port] = mux
	}
	return mux
}

func (s *Service) startHTTPServers(g *errgroup.Group) []*http.Server {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	ports := make([]int, 0, len(s.httpServers))
	for port := range s.httpServers {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	servers := make([]*http.Server, 0, len(ports))
	for _, port := range ports {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           s.httpServers[port],
			ReadHeaderTimeout: readHeaderTimeout,
		}
		servers = append(servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
			return nil
		})
	}
	return servers
}

func (s *Service) shutdownHTTPServers(servers []*http.Server) error {
	grace := s.Conf.ShutdownGrace
	if grace <= 0 {
		grace = configpkg.DefaultShutdownGrace
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	return errors.Join(errs...)
}
