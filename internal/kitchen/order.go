package kitchen

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
)

// Order is a validated request to prepare Food for Table.
type Order struct {
	OrderID string `json:"orderId"`
	Table   int    `json:"table"`
	Food    string `json:"food"`
	TS      int64  `json:"ts"`
}

// ValidateOrder checks an untyped decoded payload and returns the Order it
// describes. raw must be a map[string]any (as produced by a JSON decode).
// orderId and food must be non-blank strings and are trimmed; table and ts
// must be positive integers given either as integers or digit-only strings.
// Every failure is a *errors.ValidationError.
func ValidateOrder(raw any) (Order, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Order{}, &errspkg.ValidationError{Reason: "payload must be a JSON object"}
	}

	orderID, ok := nonBlankString(obj["orderId"])
	if !ok {
		return Order{}, &errspkg.ValidationError{Field: "orderId", Reason: "must be a non-empty string"}
	}

	table, ok := strictPositiveInt(obj["table"])
	if !ok || table > math.MaxInt {
		return Order{}, &errspkg.ValidationError{Field: "table", Reason: "must be a positive integer"}
	}

	food, ok := nonBlankString(obj["food"])
	if !ok {
		return Order{}, &errspkg.ValidationError{Field: "food", Reason: "must be a non-empty string"}
	}

	ts, ok := strictPositiveInt(obj["ts"])
	if !ok {
		return Order{}, &errspkg.ValidationError{Field: "ts", Reason: "must be a positive integer"}
	}

	return Order{OrderID: orderID, Table: int(table), Food: food, TS: ts}, nil
}

func nonBlankString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// strictPositiveInt accepts Go integers, integral json.Numbers and
// digit-only strings. Floats, booleans and signed strings are rejected.
func strictPositiveInt(v any) (int64, bool) {
	var n int64
	switch x := v.(type) {
	case json.Number:
		parsed, err := strconv.ParseInt(x.String(), 10, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	case string:
		if !isDigits(x) {
			return 0, false
		}
		parsed, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		n = int64(x)
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		n = int64(x)
	default:
		return 0, false
	}
	return n, n > 0
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
