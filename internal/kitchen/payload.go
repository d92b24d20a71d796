package kitchen

import (
	"errors"
	"unicode/utf8"

	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
	"github.com/drblury/kitchenflow/internal/runtime/jsoncodec"
)

// PayloadKind tells which shape an inbound payload decoded into.
type PayloadKind int

const (
	// PayloadObject is a JSON object; its fields are in Payload.Object.
	PayloadObject PayloadKind = iota
	// PayloadMalformed means the bytes were not valid UTF-8 JSON.
	PayloadMalformed
	// PayloadWrongShape is valid JSON that is not an object.
	PayloadWrongShape
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadObject:
		return "object"
	case PayloadMalformed:
		return "malformed"
	case PayloadWrongShape:
		return "wrong_shape"
	default:
		return "unknown"
	}
}

// Payload is the result of decoding an inbound message body.
type Payload struct {
	Kind   PayloadKind
	Object map[string]any
	Value  any
	Err    error
}

var errInvalidUTF8 = errors.New("payload is not valid UTF-8")

// DecodePayload decodes raw message bytes. It never fails; decoding problems
// are reported through a PayloadMalformed result carrying a *errors.DecodeError.
func DecodePayload(data []byte) Payload {
	if !utf8.Valid(data) {
		return Payload{Kind: PayloadMalformed, Err: &errspkg.DecodeError{Cause: errInvalidUTF8}}
	}
	v, err := jsoncodec.UnmarshalAny(data)
	if err != nil {
		return Payload{Kind: PayloadMalformed, Err: &errspkg.DecodeError{Cause: err}}
	}
	if obj, ok := v.(map[string]any); ok {
		return Payload{Kind: PayloadObject, Object: obj, Value: obj}
	}
	return Payload{Kind: PayloadWrongShape, Value: v}
}

// ObjectPayload wraps already decoded fields.
func ObjectPayload(fields map[string]any) Payload {
	if fields == nil {
		fields = map[string]any{}
	}
	return Payload{Kind: PayloadObject, Object: fields, Value: fields}
}

// ValidatePayload returns the decode error for malformed payloads and
// otherwise validates the decoded value.
func ValidatePayload(p Payload) (Order, error) {
	switch p.Kind {
	case PayloadMalformed:
		if p.Err == nil {
			return Order{}, &errspkg.DecodeError{}
		}
		return Order{}, p.Err
	case PayloadObject:
		return ValidateOrder(p.Object)
	default:
		return ValidateOrder(p.Value)
	}
}
