package kitchenflow

import (
	"github.com/drblury/kitchenflow/internal/kitchen"
	runtimepkg "github.com/drblury/kitchenflow/internal/runtime"
	configpkg "github.com/drblury/kitchenflow/internal/runtime/config"
	endpointpkg "github.com/drblury/kitchenflow/internal/runtime/endpoint"
	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
	idspkg "github.com/drblury/kitchenflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/kitchenflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/kitchenflow/internal/runtime/logging"
	"github.com/drblury/kitchenflow/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	Bridge       = runtimepkg.Bridge
	BridgeConfig = runtimepkg.BridgeConfig
	BridgeState  = runtimepkg.State
	Queue        = runtimepkg.Queue
	Inbound      = runtimepkg.Inbound

	OrderHandler  = runtimepkg.OrderHandler
	HandlerConfig = runtimepkg.HandlerConfig
	Processor     = runtimepkg.Processor
	Publisher     = runtimepkg.Publisher
	Metrics       = runtimepkg.Metrics

	// Order lifecycle hooks
	OrderContext = runtimepkg.OrderContext
	OrderHooks   = runtimepkg.OrderHooks

	// Domain types
	Order       = kitchen.Order
	FoodEvent   = kitchen.FoodEvent
	FoodStatus  = kitchen.Status
	Payload     = kitchen.Payload
	PayloadKind = kitchen.PayloadKind
	PrepTimer   = kitchen.PrepTimer
	Topics      = kitchen.Topics

	Endpoint = endpointpkg.WsEndpoint

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Error types
	ConfigurationError = errspkg.ConfigurationError
	DecodeError        = errspkg.DecodeError
	ValidationError    = errspkg.ValidationError
	InvalidRangeError  = errspkg.InvalidRangeError
	TransportError     = errspkg.TransportError
	PublishError       = errspkg.PublishError
	ErrorCategory      = errspkg.Category

	// Transport types
	Broker                = transport.Broker
	BrokerHandlers        = transport.Handlers
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	NewService      = runtimepkg.NewService
	TryNewService   = runtimepkg.TryNewService
	NewBridge       = runtimepkg.NewBridge
	NewQueue        = runtimepkg.NewQueue
	NewOrderHandler = runtimepkg.NewOrderHandler
	NewMetrics      = runtimepkg.NewMetrics
	NewHealthRouter = runtimepkg.NewHealthRouter

	DefaultConfig  = configpkg.Default
	ConfigFromEnv  = configpkg.FromEnv
	ValidateConfig = configpkg.ValidateConfig

	// Order lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	// Domain operations
	ValidateOrder    = kitchen.ValidateOrder
	DecodePayload    = kitchen.DecodePayload
	ValidatePayload  = kitchen.ValidatePayload
	MakeSuccessEvent = kitchen.MakeSuccessEvent
	MakeErrorEvent   = kitchen.MakeErrorEvent
	PrepTime         = kitchen.PrepTime
	NewPrepTimer     = kitchen.NewPrepTimer
	DefaultTopics    = kitchen.DefaultTopics
	NewTopics        = kitchen.NewTopics

	ParseEndpoint = endpointpkg.Parse

	// Modular transport registry.
	// Import individual transports via: _ "github.com/drblury/kitchenflow/transport/mqtt"
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	ClassifyError = errspkg.Classify

	ErrConfiguration     = errspkg.ErrConfiguration
	ErrDecode            = errspkg.ErrDecode
	ErrValidation        = errspkg.ErrValidation
	ErrInvalidRange      = errspkg.ErrInvalidRange
	ErrTransport         = errspkg.ErrTransport
	ErrPublish           = errspkg.ErrPublish
	ErrBrokerRequired    = errspkg.ErrBrokerRequired
	ErrProcessorRequired = errspkg.ErrProcessorRequired
	ErrTopicRequired     = errspkg.ErrTopicRequired
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrUnknownPubSub     = errspkg.ErrUnknownPubSub

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewJSONServiceLogger = loggingpkg.NewJSONServiceLogger
	NewNopLogger         = loggingpkg.NewNopLogger
	ParseLogLevel        = loggingpkg.ParseLevel

	CreateULID  = idspkg.CreateULID
	NewClientID = idspkg.NewClientID
)

// Bridge states.
const (
	StateDisconnected = runtimepkg.StateDisconnected
	StateConnecting   = runtimepkg.StateConnecting
	StateConnected    = runtimepkg.StateConnected
	StateStopped      = runtimepkg.StateStopped
)

// Food event statuses.
const (
	StatusReady = kitchen.StatusReady
	StatusError = kitchen.StatusError

	InvalidOrderMessage  = kitchen.InvalidOrderMessage
	InternalErrorMessage = runtimepkg.InternalErrorMessage
)

// Error category constants for ClassifyError.
const (
	ErrorCategoryNone       = errspkg.CategoryNone
	ErrorCategoryValidation = errspkg.CategoryValidation
	ErrorCategoryTransport  = errspkg.CategoryTransport
	ErrorCategoryDownstream = errspkg.CategoryDownstream
	ErrorCategoryOther      = errspkg.CategoryOther
)
