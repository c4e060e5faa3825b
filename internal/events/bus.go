package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Standard progress event names.
const (
	EventConnected         = "connected"
	EventHeartbeat         = "heartbeat"
	EventPipelineStarted   = "pipeline.started"
	EventPipelineCompleted = "pipeline.completed"
	EventPipelineFailed    = "pipeline.failed"
	EventStageStarted      = "stage.started"
	EventStageCompleted    = "stage.completed"
	EventProviderCompleted = "provider.completed"
	EventCacheHit          = "cache.hit"
)

// Payload is the body carried by every progress frame.
type Payload struct {
	Stage         string      `json:"stage,omitempty"`
	Model         string      `json:"model,omitempty"`
	Provider      string      `json:"provider,omitempty"`
	CorrelationID string      `json:"correlationId"`
	LatencyMs     int64       `json:"latencyMs,omitempty"`
	Data          interface{} `json:"data,omitempty"`
}

// Frame is one named progress event.
type Frame struct {
	Event   string
	Payload Payload
}

// BusConfig holds configuration for the progress bus.
type BusConfig struct {
	QueueSize         int           // Per-subscriber buffer; oldest frames drop when full
	HeartbeatInterval time.Duration // Interval between heartbeat frames to idle subscribers
}

// DefaultBusConfig returns default bus configuration.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		QueueSize:         64,
		HeartbeatInterval: 15 * time.Second,
	}
}

// BusMetrics tracks bus statistics.
type BusMetrics struct {
	FramesPublished   int64
	FramesDelivered   int64
	FramesDropped     int64
	SubscribersActive int64
}

// Subscription is one observer's view of a correlation id's progress. Frames
// arrive in publish order; when the subscriber falls behind the oldest
// buffered frame is discarded rather than blocking the pipeline.
type Subscription struct {
	id            string
	correlationID string
	ch            chan Frame
	bus           *Bus

	mu     sync.Mutex
	closed bool
}

// Frames returns the subscription's frame channel. The channel is closed
// when the subscription or the bus is closed.
func (s *Subscription) Frames() <-chan Frame { return s.ch }

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// push enqueues a frame, dropping the oldest buffered frame when full.
// Returns false when the frame could not be delivered at all.
func (s *Subscription) push(frame Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.ch <- frame:
		return true
	default:
	}

	// Full: evict the oldest frame and retry once.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- frame:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Bus fans pipeline progress out to per-correlation-id subscribers. Frames
// are not persisted: a subscriber only sees what is published while it is
// attached, plus the initial connected frame.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]*Subscription
	config  *BusConfig
	metrics *BusMetrics
	done    chan struct{}
	closed  bool
}

// NewBus creates a progress bus and starts its heartbeat loop.
func NewBus(config *BusConfig) *Bus {
	if config == nil {
		config = DefaultBusConfig()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultBusConfig().QueueSize
	}

	b := &Bus{
		subs:    make(map[string][]*Subscription),
		config:  config,
		metrics: &BusMetrics{},
		done:    make(chan struct{}),
	}

	if config.HeartbeatInterval > 0 {
		go b.heartbeatLoop()
	}

	return b
}

// Publish delivers a named frame to every subscriber of the correlation id.
// Publishing never blocks on a slow subscriber.
func (b *Bus) Publish(correlationID, event string, payload Payload) {
	payload.CorrelationID = correlationID
	frame := Frame{Event: event, Payload: payload}

	b.mu.RLock()
	subs := b.subs[correlationID]
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}

	atomic.AddInt64(&b.metrics.FramesPublished, 1)
	for _, sub := range subs {
		if sub.push(frame) {
			atomic.AddInt64(&b.metrics.FramesDelivered, 1)
		} else {
			atomic.AddInt64(&b.metrics.FramesDropped, 1)
		}
	}
}

// Subscribe attaches an observer to a correlation id. The first frame on the
// channel is always a connected event.
func (b *Bus) Subscribe(correlationID string) *Subscription {
	sub := &Subscription{
		id:            uuid.New().String(),
		correlationID: correlationID,
		ch:            make(chan Frame, b.config.QueueSize),
		bus:           b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub
	}
	b.subs[correlationID] = append(b.subs[correlationID], sub)
	atomic.AddInt64(&b.metrics.SubscribersActive, 1)
	b.mu.Unlock()

	sub.push(Frame{Event: EventConnected, Payload: Payload{CorrelationID: correlationID}})
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	subs := b.subs[sub.correlationID]
	for i, candidate := range subs {
		if candidate.id == sub.id {
			b.subs[sub.correlationID] = append(subs[:i], subs[i+1:]...)
			atomic.AddInt64(&b.metrics.SubscribersActive, -1)
			break
		}
	}
	if len(b.subs[sub.correlationID]) == 0 {
		delete(b.subs, sub.correlationID)
	}
	b.mu.Unlock()

	sub.close()
}

func (b *Bus) heartbeatLoop() {
	ticker := time.NewTicker(b.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.mu.RLock()
			for correlationID, subs := range b.subs {
				frame := Frame{Event: EventHeartbeat, Payload: Payload{CorrelationID: correlationID}}
				for _, sub := range subs {
					sub.push(frame)
				}
			}
			b.mu.RUnlock()
		}
	}
}

// SubscriberCount returns the number of subscribers for a correlation id.
func (b *Bus) SubscriberCount(correlationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[correlationID])
}

// Metrics returns a snapshot of current bus metrics.
func (b *Bus) Metrics() BusMetrics {
	return BusMetrics{
		FramesPublished:   atomic.LoadInt64(&b.metrics.FramesPublished),
		FramesDelivered:   atomic.LoadInt64(&b.metrics.FramesDelivered),
		FramesDropped:     atomic.LoadInt64(&b.metrics.FramesDropped),
		SubscribersActive: atomic.LoadInt64(&b.metrics.SubscribersActive),
	}
}

// Close shuts the bus down and closes every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	subs := b.subs
	b.subs = make(map[string][]*Subscription)
	b.mu.Unlock()

	for _, list := range subs {
		for _, sub := range list {
			sub.close()
		}
	}
	return nil
}
