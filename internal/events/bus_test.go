package events

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testBus(t *testing.T, config *BusConfig) *Bus {
	t.Helper()
	bus := NewBus(config)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func recvFrame(t *testing.T, sub *Subscription) Frame {
	t.Helper()
	select {
	case frame, ok := <-sub.Frames():
		require.True(t, ok, "subscription closed unexpectedly")
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return Frame{}
	}
}

func TestBus_ConnectedFrameFirst(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(&BusConfig{QueueSize: 8})
	defer bus.Close()

	sub := bus.Subscribe("corr-1")
	defer sub.Close()

	frame := recvFrame(t, sub)
	assert.Equal(t, EventConnected, frame.Event)
	assert.Equal(t, "corr-1", frame.Payload.CorrelationID)
}

func TestBus_PublishOrderPreserved(t *testing.T) {
	bus := testBus(t, &BusConfig{QueueSize: 16})

	sub := bus.Subscribe("corr-1")
	defer sub.Close()
	recvFrame(t, sub) // connected

	bus.Publish("corr-1", EventStageStarted, Payload{Stage: "initial"})
	bus.Publish("corr-1", EventProviderCompleted, Payload{Stage: "initial", Provider: "claude", LatencyMs: 42})
	bus.Publish("corr-1", EventStageCompleted, Payload{Stage: "initial"})

	assert.Equal(t, EventStageStarted, recvFrame(t, sub).Event)

	provider := recvFrame(t, sub)
	assert.Equal(t, EventProviderCompleted, provider.Event)
	assert.Equal(t, "claude", provider.Payload.Provider)
	assert.Equal(t, int64(42), provider.Payload.LatencyMs)

	assert.Equal(t, EventStageCompleted, recvFrame(t, sub).Event)
}

func TestBus_CorrelationIsolation(t *testing.T) {
	bus := testBus(t, &BusConfig{QueueSize: 8})

	subA := bus.Subscribe("corr-a")
	defer subA.Close()
	subB := bus.Subscribe("corr-b")
	defer subB.Close()
	recvFrame(t, subA)
	recvFrame(t, subB)

	bus.Publish("corr-a", EventPipelineStarted, Payload{})

	assert.Equal(t, EventPipelineStarted, recvFrame(t, subA).Event)
	select {
	case frame := <-subB.Frames():
		t.Fatalf("subscriber for corr-b received %q", frame.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SlowSubscriberDropsOldest(t *testing.T) {
	bus := testBus(t, &BusConfig{QueueSize: 4})

	sub := bus.Subscribe("corr-1")
	defer sub.Close()

	// Never drain: the connected frame plus three published frames fill the
	// queue, then each further publish evicts the oldest.
	for i := 0; i < 10; i++ {
		bus.Publish("corr-1", EventProviderCompleted, Payload{Data: i})
	}

	var got []int
	for len(sub.Frames()) > 0 {
		frame := <-sub.Frames()
		if frame.Event == EventProviderCompleted {
			got = append(got, frame.Payload.Data.(int))
		}
	}

	require.Len(t, got, 4)
	assert.Equal(t, []int{6, 7, 8, 9}, got)
	assert.Greater(t, bus.Metrics().FramesDelivered, int64(0))
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := testBus(t, &BusConfig{QueueSize: 2})

	sub := bus.Subscribe("corr-1")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish("corr-1", EventProviderCompleted, Payload{Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBus_Heartbeat(t *testing.T) {
	bus := testBus(t, &BusConfig{QueueSize: 8, HeartbeatInterval: 20 * time.Millisecond})

	sub := bus.Subscribe("corr-1")
	defer sub.Close()
	recvFrame(t, sub)

	frame := recvFrame(t, sub)
	assert.Equal(t, EventHeartbeat, frame.Event)
	assert.Equal(t, "corr-1", frame.Payload.CorrelationID)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := testBus(t, nil)

	sub := bus.Subscribe("corr-1")
	recvFrame(t, sub)
	assert.Equal(t, 1, bus.SubscriberCount("corr-1"))

	sub.Close()
	assert.Equal(t, 0, bus.SubscriberCount("corr-1"))

	_, ok := <-sub.Frames()
	assert.False(t, ok)
}

func TestBus_CloseClosesAllSubscriptions(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(&BusConfig{QueueSize: 8, HeartbeatInterval: time.Hour})
	subs := make([]*Subscription, 0, 3)
	for i := 0; i < 3; i++ {
		subs = append(subs, bus.Subscribe(fmt.Sprintf("corr-%d", i)))
	}

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close()) // idempotent

	for _, sub := range subs {
		for {
			if _, ok := <-sub.Frames(); !ok {
				break
			}
		}
	}

	// Publishing after close is a no-op.
	bus.Publish("corr-0", EventPipelineStarted, Payload{})
}

func TestEncodeSSE(t *testing.T) {
	frame := Frame{
		Event: EventProviderCompleted,
		Payload: Payload{
			Stage:         "initial",
			Provider:      "claude",
			Model:         "claude-3-5-sonnet-20241022",
			CorrelationID: "corr-1",
			LatencyMs:     120,
		},
	}

	encoded, err := EncodeSSE(frame)
	require.NoError(t, err)

	text := string(encoded)
	assert.True(t, strings.HasPrefix(text, "event: provider.completed\ndata: "))
	assert.True(t, strings.HasSuffix(text, "\n\n"))
	assert.Contains(t, text, `"correlationId":"corr-1"`)
	assert.Contains(t, text, `"latencyMs":120`)
}
