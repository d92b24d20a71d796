package kitchenflow

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestServiceExportsPropagateErrors(t *testing.T) {
	if _, err := TryNewService(nil, NewNopLogger(), context.Background(), ServiceDependencies{}); !errors.Is(err, ErrConfigRequired) {
		t.Fatalf("expected config required error, got %v", err)
	}

	conf := DefaultConfig()
	if _, err := TryNewService(&conf, nil, context.Background(), ServiceDependencies{}); !errors.Is(err, ErrLoggerRequired) {
		t.Fatalf("expected logger required error, got %v", err)
	}

	if _, err := NewBridge(BridgeConfig{}, nil, nil, nil, nil); !errors.Is(err, ErrBrokerRequired) {
		t.Fatalf("expected broker required error, got %v", err)
	}
}

func TestDomainExports(t *testing.T) {
	order, err := ValidateOrder(map[string]any{"orderId": " o-1 ", "table": "4", "food": "Soup", "ts": 1700000000})
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if order.OrderID != "o-1" || order.Table != 4 {
		t.Fatalf("unexpected order %#v", order)
	}

	evt := MakeSuccessEvent(order, 1200)
	if evt.Status != StatusReady || evt.PrepMs == nil || *evt.PrepMs != 1200 {
		t.Fatalf("unexpected ready event %#v", evt)
	}

	bad := MakeErrorEvent(DecodePayload([]byte(`{"table":"x"}`)), InvalidOrderMessage)
	if bad.Status != StatusError || bad.Table != 0 {
		t.Fatalf("unexpected error event %#v", bad)
	}

	if got := DefaultTopics().FoodTopic(order.Table); got != "restaurant/foods/4" {
		t.Fatalf("expected restaurant/foods/4, got %q", got)
	}

	ms, err := PrepTime(10, 10)
	if err != nil || ms != 10 {
		t.Fatalf("expected 10ms, got %d (%v)", ms, err)
	}
	if _, err := PrepTime(5, 1); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected invalid range error, got %v", err)
	}
}

func TestLoggerExports(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONServiceLogger(&buf, slog.LevelInfo)
	logger.Info("boot", LogFields{"component": "test"})
	if !strings.Contains(buf.String(), `"component":"test"`) {
		t.Fatalf("expected component field in %q", buf.String())
	}

	if _, err := ParseLogLevel("debug"); err != nil {
		t.Fatalf("unexpected level error: %v", err)
	}
	NewSlogServiceLogger(slog.Default()).Debug("ignored", nil)
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestIDExports(t *testing.T) {
	if CreateULID() == CreateULID() {
		t.Fatal("expected distinct ULIDs")
	}
	if id := NewClientID("backend-kitchen"); !strings.HasPrefix(id, "backend-kitchen") {
		t.Fatalf("expected client id prefix, got %q", id)
	}
}

func TestBridgeStateConstants(t *testing.T) {
	if StateConnected.String() != "connected" {
		t.Fatalf("expected connected, got %q", StateConnected.String())
	}
	if StateStopped.String() != "stopped" {
		t.Fatalf("expected stopped, got %q", StateStopped.String())
	}
}

func TestErrorCategoryConstants(t *testing.T) {
	if ErrorCategoryNone != "none" {
		t.Fatalf("expected ErrorCategoryNone to be 'none', got %q", ErrorCategoryNone)
	}
	if ErrorCategoryValidation != "validation" {
		t.Fatalf("expected ErrorCategoryValidation to be 'validation', got %q", ErrorCategoryValidation)
	}
	if ErrorCategoryTransport != "transport" {
		t.Fatalf("expected ErrorCategoryTransport to be 'transport', got %q", ErrorCategoryTransport)
	}
	if ErrorCategoryDownstream != "downstream" {
		t.Fatalf("expected ErrorCategoryDownstream to be 'downstream', got %q", ErrorCategoryDownstream)
	}
	if ErrorCategoryOther != "other" {
		t.Fatalf("expected ErrorCategoryOther to be 'other', got %q", ErrorCategoryOther)
	}

	if got := ClassifyError(&ValidationError{Field: "food", Reason: "blank"}); got != ErrorCategoryValidation {
		t.Fatalf("expected validation category, got %q", got)
	}
}
