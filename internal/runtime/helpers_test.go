package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drblury/kitchenflow/internal/kitchen"
	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
	"github.com/drblury/kitchenflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/kitchenflow/internal/runtime/logging"
	"github.com/drblury/kitchenflow/transport"
)

type loggedEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

type logRecorder struct {
	mu   sync.Mutex
	logs []loggedEntry
}

// recordingLogger is a ServiceLogger that keeps every entry, with fields
// from With merged in.
type recordingLogger struct {
	recorder *logRecorder
	fields   loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{recorder: &logRecorder{}}
}

func (l *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{recorder: l.recorder, fields: merged}
}

func (l *recordingLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := loggingpkg.LogFields{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	l.recorder.mu.Lock()
	defer l.recorder.mu.Unlock()
	l.recorder.logs = append(l.recorder.logs, loggedEntry{level: level, msg: msg, err: err, fields: merged})
}

func (l *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	l.record("debug", msg, nil, fields)
}

func (l *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	l.record("info", msg, nil, fields)
}

func (l *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.record("error", msg, err, fields)
}

func (l *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	l.record("trace", msg, nil, fields)
}

func (l *recordingLogger) entries(msg string) []loggedEntry {
	l.recorder.mu.Lock()
	defer l.recorder.mu.Unlock()
	var out []loggedEntry
	for _, e := range l.recorder.logs {
		if e.msg == msg {
			out = append(out, e)
		}
	}
	return out
}

func (l *recordingLogger) count(msg string) int {
	return len(l.entries(msg))
}

type published struct {
	topic   string
	payload []byte
}

func (p published) event(t *testing.T) kitchen.FoodEvent {
	t.Helper()
	var evt kitchen.FoodEvent
	require.NoError(t, jsoncodec.Unmarshal(p.payload, &evt))
	return evt
}

// recordingPublisher captures publishes. failWith makes every publish fail;
// panicOnce panics on the first call only.
type recordingPublisher struct {
	mu        sync.Mutex
	calls     int
	failWith  error
	panicOnce bool
	out       chan published
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{out: make(chan published, 64)}
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()

	if p.panicOnce && first {
		panic("publisher exploded")
	}
	if p.failWith != nil {
		return p.failWith
	}
	p.out <- published{topic: topic, payload: payload}
	return nil
}

func (p *recordingPublisher) next(t *testing.T) published {
	t.Helper()
	select {
	case msg := <-p.out:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
		return published{}
	}
}

func (p *recordingPublisher) assertNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case msg := <-p.out:
		t.Fatalf("unexpected publish on %q", msg.topic)
	case <-time.After(within):
	}
}

// fakeBroker is a scriptable transport.Broker. Connect fails while
// connectErr is set; Subscribe fails for the first subscribeFailures calls.
// Publish fails with ErrNotConnected outside a session.
type fakeBroker struct {
	*recordingPublisher

	mu                sync.Mutex
	connectErr        error
	subscribeFailures int
	connects          []time.Time
	subscriptions     []string
	disconnects       int
	connected         bool
	handlers          transport.Handlers
}

var _ transport.Broker = (*fakeBroker)(nil)

func newFakeBroker() *fakeBroker {
	return &fakeBroker{recordingPublisher: newRecordingPublisher()}
}

func (b *fakeBroker) Connect(_ context.Context, h transport.Handlers) error {
	b.mu.Lock()
	b.connects = append(b.connects, time.Now())
	err := b.connectErr
	if err == nil {
		b.handlers = h
		b.connected = true
	}
	b.mu.Unlock()

	if err != nil {
		return err
	}
	h.OnConnect()
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, pattern string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeFailures > 0 {
		b.subscribeFailures--
		return errors.New("subscription refused")
	}
	b.subscriptions = append(b.subscriptions, pattern)
	return nil
}

func (b *fakeBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if !b.isConnected() {
		return &errspkg.TransportError{Op: "publish", Cause: errspkg.ErrNotConnected}
	}
	return b.recordingPublisher.Publish(ctx, topic, payload)
}

func (b *fakeBroker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects++
	b.connected = false
}

// drop ends the session as a lost connection would.
func (b *fakeBroker) drop(err error) {
	b.mu.Lock()
	h := b.handlers
	b.connected = false
	b.mu.Unlock()
	if h != nil {
		h.OnConnectionLost(err)
	}
}

func (b *fakeBroker) isConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) disconnectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnects
}

func (b *fakeBroker) connectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.connects)
}

func (b *fakeBroker) subscribed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subscriptions...)
}

func (b *fakeBroker) currentHandlers() transport.Handlers {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers
}

// deliver plays an inbound message through the current session.
func (b *fakeBroker) deliver(t *testing.T, topic string, payload string) {
	t.Helper()
	h := b.currentHandlers()
	require.NotNil(t, h, "broker has no session")
	h.OnMessage(topic, []byte(payload))
}

// blockingProcessor records started orders and holds each one until
// release is closed.
type blockingProcessor struct {
	started  chan string
	release  chan struct{}
	finished chan error
}

func newBlockingProcessor() *blockingProcessor {
	return &blockingProcessor{
		started:  make(chan string, 16),
		release:  make(chan struct{}),
		finished: make(chan error, 16),
	}
}

func (p *blockingProcessor) Handle(ctx context.Context, topic string, _ []byte) (kitchen.FoodEvent, error) {
	p.started <- topic
	<-p.release
	p.finished <- ctx.Err()
	return kitchen.FoodEvent{}, nil
}

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func orderPayload(orderID string, table int, food string) string {
	data, err := jsoncodec.Marshal(map[string]any{
		"orderId": orderID,
		"table":   table,
		"food":    food,
		"ts":      1700000000000,
	})
	if err != nil {
		panic(err)
	}
	return string(data)
}
