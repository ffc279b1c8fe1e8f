// Package sink fans decoded samples out to consumers: JSONL files,
// InfluxDB, the log and the terminal monitor.
package sink

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/chaz8081/jumpsense/internal/sensor"
)

// Packet is a sample stamped with its host receive time.
type Packet struct {
	Received time.Time
	Sample   sensor.Sample
}

// Hub broadcasts packets to subscribers. OnSample never blocks: when the
// broadcast buffer is full the packet is dropped, and a subscriber whose
// buffer is full misses the packet.
type Hub struct {
	broadcast  chan Packet
	register   chan chan Packet
	unregister chan chan Packet
	clients    map[chan Packet]struct{}
	clientBuf  int
	done       chan struct{}
	dropped    atomic.Uint64
	now        func() time.Time
}

type Option func(*Hub)

func WithBroadcastBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.broadcast = make(chan Packet, size)
		}
	}
}

func WithClientBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.clientBuf = size
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		broadcast:  make(chan Packet, 256),
		register:   make(chan chan Packet),
		unregister: make(chan chan Packet),
		clients:    make(map[chan Packet]struct{}),
		clientBuf:  100,
		done:       make(chan struct{}),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Compile-time check that Hub implements sensor.Sink.
var _ sensor.Sink = (*Hub)(nil)

// Run delivers packets until ctx is cancelled, then closes every subscriber
// channel. It must be called exactly once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for ch := range h.clients {
				close(ch)
			}
			return
		case ch := <-h.register:
			h.clients[ch] = struct{}{}
		case ch := <-h.unregister:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		case packet := <-h.broadcast:
			for ch := range h.clients {
				select {
				case ch <- packet:
				default:
				}
			}
		}
	}
}

func (h *Hub) Subscribe() chan Packet {
	return h.SubscribeWithBuffer(h.clientBuf)
}

// SubscribeWithBuffer registers a new subscriber. After Run has returned it
// yields an already closed channel.
func (h *Hub) SubscribeWithBuffer(size int) chan Packet {
	if size <= 0 {
		size = h.clientBuf
	}
	ch := make(chan Packet, size)
	select {
	case h.register <- ch:
	case <-h.done:
		close(ch)
	}
	return ch
}

func (h *Hub) Unsubscribe(ch chan Packet) {
	select {
	case h.unregister <- ch:
	case <-h.done:
	}
}

// Publish queues packet for broadcast. It reports false if the packet was
// dropped.
func (h *Hub) Publish(packet Packet) bool {
	select {
	case <-h.done:
		h.dropped.Add(1)
		return false
	default:
	}
	select {
	case h.broadcast <- packet:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// OnSample stamps s with the current time and publishes it.
func (h *Hub) OnSample(s sensor.Sample) {
	h.Publish(Packet{Received: h.now(), Sample: s})
}

// Dropped returns how many packets never reached the broadcast loop.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
