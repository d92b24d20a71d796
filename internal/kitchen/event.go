package kitchen

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/drblury/kitchenflow/internal/runtime/jsoncodec"
)

// Status is the outcome carried by a FoodEvent.
type Status string

// Event statuses.
const (
	StatusReady Status = "ready"
	StatusError Status = "error"
)

// InvalidOrderMessage is the error text published for rejected orders.
const InvalidOrderMessage = "invalid order"

// FoodEvent is published once per processed order. Exactly one of PrepMs
// and Error is set, matching Status.
type FoodEvent struct {
	OrderID string  `json:"orderId"`
	Table   int     `json:"table"`
	Food    string  `json:"food"`
	Status  Status  `json:"status"`
	PrepMs  *int64  `json:"prepMs,omitempty"`
	Error   *string `json:"error,omitempty"`
}

// MakeSuccessEvent builds the ready event for order.
func MakeSuccessEvent(order Order, measuredMs int64) FoodEvent {
	ms := measuredMs
	return FoodEvent{
		OrderID: order.OrderID,
		Table:   order.Table,
		Food:    order.Food,
		Status:  StatusReady,
		PrepMs:  &ms,
	}
}

// MakeErrorEvent builds an error event from whatever p carries. It never
// fails: table falls back to 0 and orderId/food to "" when they cannot be
// recovered.
func MakeErrorEvent(p Payload, message string) FoodEvent {
	msg := message
	evt := FoodEvent{Status: StatusError, Error: &msg}
	if p.Kind != PayloadObject || p.Object == nil {
		return evt
	}
	evt.Table = bestEffortTable(p.Object["table"])
	evt.OrderID = bestEffortString(p.Object, "orderId")
	evt.Food = bestEffortString(p.Object, "food")
	return evt
}

// Topic returns the outbound topic for the event's table.
func (e FoodEvent) Topic(t Topics) string {
	return t.FoodTopic(e.Table)
}

// Marshal encodes the event as JSON.
func (e FoodEvent) Marshal() ([]byte, error) {
	return jsoncodec.Marshal(e)
}

func bestEffortTable(v any) int {
	var n int64
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			n = i
		} else if f, err := x.Float64(); err == nil {
			n = truncate(f)
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			n = i
		}
	case float64:
		n = truncate(x)
	case float32:
		n = truncate(float64(x))
	default:
		if i, ok := strictPositiveInt(v); ok {
			n = i
		}
	}
	if n <= 0 || n > math.MaxInt {
		return 0
	}
	return int(n)
}

func truncate(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0
	}
	return int64(f)
}

func bestEffortString(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	if data, err := jsoncodec.Marshal(v); err == nil {
		return string(data)
	}
	return ""
}
