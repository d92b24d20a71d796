package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfiguration = sterrors.New("kitchen: invalid configuration")
	ErrDecode        = sterrors.New("kitchen: payload is not valid JSON")
	ErrValidation    = sterrors.New("kitchen: invalid order")
	ErrInvalidRange  = sterrors.New("kitchen: invalid prep time range")
	ErrTransport     = sterrors.New("kitchen: transport failure")
	ErrPublish       = sterrors.New("kitchen: publish failed")

	ErrBrokerRequired  = sterrors.New("kitchen: broker is required")
	ErrConfigRequired  = sterrors.New("kitchen: configuration is required")
	ErrLoggerRequired  = sterrors.New("kitchen: logger is required")
	ErrTopicRequired   = sterrors.New("kitchen: topic is required")
	ErrNotConnected    = sterrors.New("kitchen: broker is not connected")
	ErrQueueClosed     = sterrors.New("kitchen: inbound queue is closed")
	ErrUnknownPubSub   = sterrors.New("kitchen: unknown pubsub system")
	ErrHandlerPanicked = sterrors.New("kitchen: order handler panicked")

	ErrProcessorRequired = sterrors.New("kitchen: order processor is required")
	ErrBridgeRunning     = sterrors.New("kitchen: bridge is already running")
)

// ConfigurationError reports a setting that prevents the process from
// running. Cause is optional.
type ConfigurationError struct {
	Field  string
	Reason string
	Cause  error
}

// NewConfigurationError returns a ConfigurationError for field.
func NewConfigurationError(field, reason string, cause error) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason, Cause: cause}
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("kitchen: invalid configuration %s: %s", e.Field, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// DecodeError wraps a payload that could not be decoded as JSON.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Cause == nil {
		return ErrDecode.Error()
	}
	return ErrDecode.Error() + ": " + e.Cause.Error()
}

func (e *DecodeError) Unwrap() error { return e.Cause }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// ValidationError reports the first order field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "kitchen: invalid order: " + e.Reason
	}
	return fmt.Sprintf("kitchen: invalid order: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidRangeError is returned for a prep time range with Min > Max or Min < 0.
type InvalidRangeError struct {
	Min int
	Max int
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("kitchen: invalid prep time range [%d, %d]", e.Min, e.Max)
}

func (e *InvalidRangeError) Is(target error) bool { return target == ErrInvalidRange }

// TransportError wraps connection level failures such as DNS resolution,
// socket errors, or a refused session.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("kitchen: transport %s failed", e.Op)
	}
	return fmt.Sprintf("kitchen: transport %s failed: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// PublishError wraps a failed outbound publish. Publishes are never retried.
type PublishError struct {
	Topic string
	Cause error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("kitchen: publish to %q failed: %v", e.Topic, e.Cause)
}

func (e *PublishError) Unwrap() error { return e.Cause }

func (e *PublishError) Is(target error) bool { return target == ErrPublish }

// Category groups errors for metrics labels.
type Category string

const (
	CategoryNone       Category = "none"
	CategoryValidation Category = "validation"
	CategoryTransport  Category = "transport"
	CategoryDownstream Category = "downstream"
	CategoryOther      Category = "other"
)

// Classify maps err onto a Category. Decode and validation failures share
// the validation bucket; a PublishError counts as downstream even when it
// wraps a TransportError.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case sterrors.Is(err, ErrValidation), sterrors.Is(err, ErrDecode):
		return CategoryValidation
	case sterrors.Is(err, ErrPublish):
		return CategoryDownstream
	case sterrors.Is(err, ErrTransport):
		return CategoryTransport
	default:
		return CategoryOther
	}
}
