package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/jumpsense/internal/sensor"
)

func TestHubDeliversToAllSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	hub.now = func() time.Time { return fixed }
	go hub.Run(ctx)

	a := hub.Subscribe()
	b := hub.Subscribe()

	sample := sensor.TimestampedSample{TimestampMillis: 42}
	hub.OnSample(sample)

	for _, ch := range []chan Packet{a, b} {
		select {
		case pkt := <-ch:
			assert.Equal(t, fixed, pkt.Received)
			assert.Equal(t, sample, pkt.Sample)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive packet")
		}
	}
}

func TestHubDoesNotBlockOnSlowConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(WithBroadcastBuffer(64), WithClientBuffer(1))
	go hub.Run(ctx)

	fast := hub.SubscribeWithBuffer(128)
	slow := hub.SubscribeWithBuffer(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			hub.OnSample(sensor.TimestampedSample{TimestampMillis: uint16(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnSample blocked on slow consumer")
	}

	// Everything that entered the broadcast loop reaches the fast consumer.
	want := 50 - int(hub.Dropped())
	received := 0
	timeout := time.After(time.Second)
	for received < want {
		select {
		case <-fast:
			received++
		case <-timeout:
			t.Fatalf("fast consumer timeout after %d packets", received)
		}
	}

	count := 0
	for {
		select {
		case <-slow:
			count++
		default:
			assert.LessOrEqual(t, count, 1, "slow consumer buffer holds at most one packet")
			return
		}
	}
}

func TestHubOnSampleDropsWhenBroadcastFull(t *testing.T) {
	hub := NewHub(WithBroadcastBuffer(2))
	// Run is not started, so nothing drains the broadcast buffer.
	hub.OnSample(sensor.TimestampedSample{})
	hub.OnSample(sensor.TimestampedSample{})
	hub.OnSample(sensor.TimestampedSample{})

	assert.Equal(t, uint64(1), hub.Dropped())
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	ch := hub.Subscribe()
	hub.Unsubscribe(ch)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Unsubscribe")
	}
}

func TestHubRunClosesSubscribersOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	ch := hub.Subscribe()
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, ok := <-ch
	assert.False(t, ok)

	// After Run exits, subscribing and publishing must not block.
	late := hub.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
	hub.Unsubscribe(late)
	require.False(t, hub.Publish(Packet{Sample: sensor.TimestampedSample{}}))
}
