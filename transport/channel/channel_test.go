package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
	"github.com/drblury/kitchenflow/transport"
)

type mockConfig struct{}

func (m *mockConfig) GetPubSubSystem() string          { return TransportName }
func (m *mockConfig) GetBrokerURL() string             { return "" }
func (m *mockConfig) GetClientID() string              { return "" }
func (m *mockConfig) GetKeepAlive() time.Duration      { return 0 }
func (m *mockConfig) GetConnectTimeout() time.Duration { return 0 }
func (m *mockConfig) GetRabbitMQExchange() string      { return "" }

type delivery struct {
	topic   string
	payload string
}

type recordingHandlers struct {
	mu       sync.Mutex
	connects int
	lost     []error
	received chan delivery
}

func newRecordingHandlers() *recordingHandlers {
	return &recordingHandlers{received: make(chan delivery, 16)}
}

func (h *recordingHandlers) OnConnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connects++
}

func (h *recordingHandlers) OnConnectionLost(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lost = append(h.lost, err)
}

func (h *recordingHandlers) OnMessage(topic string, payload []byte) {
	h.received <- delivery{topic: topic, payload: string(payload)}
}

func receive(t *testing.T, h *recordingHandlers) delivery {
	t.Helper()
	select {
	case d := <-h.received:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return delivery{}
	}
}

func assertNothingReceived(t *testing.T, h *recordingHandlers) {
	t.Helper()
	select {
	case d := <-h.received:
		t.Fatalf("unexpected message on %q", d.topic)
	case <-time.After(100 * time.Millisecond):
	}
}

func newHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(watermill.NopLogger{})
	t.Cleanup(func() { _ = hub.Close() })
	return hub
}

func TestBuild(t *testing.T) {
	b, err := Build(context.Background(), &mockConfig{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.True(t, transport.DefaultRegistry.Has("gochannel"))
}

func TestFactoryIsUsed(t *testing.T) {
	orig := Factory
	defer func() { Factory = orig }()

	called := false
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
		called = true
		return gochannel.NewGoChannel(cfg, logger)
	}

	hub := NewHub(nil)
	defer hub.Close()
	assert.True(t, called)
}

func TestWildcardRouting(t *testing.T) {
	hub := newHub(t)
	kitchen := NewBroker(hub, nil)
	frontend := NewBroker(hub, nil)

	h := newRecordingHandlers()
	require.NoError(t, kitchen.Connect(context.Background(), h))
	assert.Equal(t, 1, h.connects)
	require.NoError(t, kitchen.Subscribe(context.Background(), "restaurant/orders/#"))

	require.NoError(t, frontend.Connect(context.Background(), newRecordingHandlers()))
	require.NoError(t, frontend.Publish(context.Background(), "restaurant/orders/3", []byte(`{"table":3}`)))

	got := receive(t, h)
	assert.Equal(t, "restaurant/orders/3", got.topic)
	assert.Equal(t, `{"table":3}`, got.payload)

	require.NoError(t, frontend.Publish(context.Background(), "restaurant/foods/3", []byte(`{}`)))
	assertNothingReceived(t, h)
}

func TestOverlappingPatternsEachDeliver(t *testing.T) {
	hub := newHub(t)
	b := NewBroker(hub, nil)
	h := newRecordingHandlers()
	require.NoError(t, b.Connect(context.Background(), h))
	require.NoError(t, b.Subscribe(context.Background(), "restaurant/#"))
	require.NoError(t, b.Subscribe(context.Background(), "restaurant/foods/+"))

	require.NoError(t, b.Publish(context.Background(), "restaurant/foods/1", []byte(`x`)))

	assert.Equal(t, "restaurant/foods/1", receive(t, h).topic)
	assert.Equal(t, "restaurant/foods/1", receive(t, h).topic)
}

func TestDisconnectStopsDelivery(t *testing.T) {
	hub := newHub(t)
	sub := NewBroker(hub, nil)
	pub := NewBroker(hub, nil)
	h := newRecordingHandlers()

	require.NoError(t, sub.Connect(context.Background(), h))
	require.NoError(t, sub.Subscribe(context.Background(), "restaurant/orders/#"))
	require.NoError(t, pub.Connect(context.Background(), newRecordingHandlers()))

	sub.Disconnect()
	sub.Disconnect()
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.patterns) == 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, pub.Publish(context.Background(), "restaurant/orders/1", []byte(`{}`)))
	assertNothingReceived(t, h)
	assert.Empty(t, h.lost)
}

func TestNotConnected(t *testing.T) {
	b := NewBroker(newHub(t), nil)
	assert.ErrorIs(t, b.Publish(context.Background(), "a/b", nil), errspkg.ErrNotConnected)
	assert.ErrorIs(t, b.Subscribe(context.Background(), "a/#"), errspkg.ErrNotConnected)
	assert.ErrorIs(t, b.Publish(context.Background(), "", nil), errspkg.ErrTopicRequired)
}

func TestInterruptReportsConnectionLost(t *testing.T) {
	b := NewBroker(newHub(t), nil)
	h := newRecordingHandlers()
	require.NoError(t, b.Connect(context.Background(), h))

	cause := errors.New("cable pulled")
	b.Interrupt(cause)
	b.Interrupt(cause)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.lost, 1)
	assert.ErrorIs(t, h.lost[0], errspkg.ErrTransport)
	assert.ErrorIs(t, h.lost[0], cause)
}

func TestClosedHubRefusesConnect(t *testing.T) {
	hub := NewHub(nil)
	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	err := NewBroker(hub, nil).Connect(context.Background(), newRecordingHandlers())
	assert.ErrorIs(t, err, errspkg.ErrTransport)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
	assert.True(t, Capabilities().InProcess)
}
