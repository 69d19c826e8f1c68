// Package events implements a publish/subscribe bus for runtime lifecycle
// events — plugin state transitions, timeout breaches, fatal errors — so
// a host program can observe pipeline health without polling. Adapted
// from the retained event bus idiom: buffered per-subscriber channels with
// backpressure dropped (never blocking the publisher) and published/dropped
// counts exported via the metrics Provider.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qcsim/qcsim/telemetry/metrics"
	"github.com/qcsim/qcsim/telemetry/tracing"
)

const (
	CategoryPlugin    = "plugin"
	CategoryPipeline  = "pipeline"
	CategoryTimeout   = "timeout"
	CategoryError     = "error"
	CategoryRepro     = "reproduction"
)

// Event is one runtime lifecycle occurrence.
type Event struct {
	Time     time.Time
	Category string
	Type     string
	Plugin   string
	TraceID  string
	SpanID   string
	Fields   map[string]any
}

// Subscription is a live subscriber's channel handle.
type Subscription interface {
	C() <-chan Event
	Close() error
	ID() int64
}

// BusStats summarizes the bus's lifetime counters.
type BusStats struct {
	Subscribers        int64
	Published          uint64
	Dropped            uint64
	PerSubscriberDrops map[int64]uint64
}

// Bus publishes runtime events to any number of subscribers.
type Bus interface {
	Publish(ev Event)
	PublishCtx(ctx context.Context, ev Event)
	Subscribe(buffer int) Subscription
	Unsubscribe(sub Subscription)
	Stats() BusStats
}

type eventBus struct {
	mu        sync.RWMutex
	subs      map[int64]*subscriber
	nextID    int64
	published atomic.Uint64
	dropped   atomic.Uint64

	provider   metrics.Provider
	mPublished metrics.Counter
	mDropped   metrics.Counter
}

// NewBus returns a Bus. provider may be nil to skip metrics registration.
func NewBus(provider metrics.Provider) Bus {
	b := &eventBus{subs: make(map[int64]*subscriber), provider: provider}
	if provider != nil {
		b.mPublished = provider.NewCounter(metrics.CommonOpts{
			Namespace: "qcsim", Subsystem: "events", Name: "published_total", Help: "total events published",
		})
		b.mDropped = provider.NewCounter(metrics.CommonOpts{
			Namespace: "qcsim", Subsystem: "events", Name: "dropped_total", Help: "total events dropped due to backpressure",
			Labels: []string{"subscriber"},
		})
	}
	return b
}

func (b *eventBus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	b.published.Add(1)
	if b.mPublished != nil {
		b.mPublished.Inc(1)
	}
	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
			if b.mDropped != nil {
				b.mDropped.Inc(1, fmt.Sprintf("%d", s.id))
			}
		}
	}
}

func (b *eventBus) PublishCtx(ctx context.Context, ev Event) {
	if ev.TraceID == "" && ev.SpanID == "" {
		if traceID, spanID := tracing.ExtractIDs(ctx); traceID != "" {
			ev.TraceID = traceID
			ev.SpanID = spanID
		}
	}
	b.Publish(ev)
}

func (b *eventBus) Subscribe(buffer int) Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	id := atomic.AddInt64(&b.nextID, 1)
	sub := &subscriber{id: id, ch: make(chan Event, buffer), bus: b}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	return sub
}

func (b *eventBus) Unsubscribe(sub Subscription) {
	if sub == nil {
		return
	}
	id := sub.ID()
	b.mu.Lock()
	s := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if s != nil {
		close(s.ch)
	}
}

func (b *eventBus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stats := BusStats{Subscribers: int64(len(b.subs)), Published: b.published.Load(), Dropped: b.dropped.Load(), PerSubscriberDrops: map[int64]uint64{}}
	for id, s := range b.subs {
		stats.PerSubscriberDrops[id] = s.dropped.Load()
	}
	return stats
}

type subscriber struct {
	id      int64
	ch      chan Event
	bus     *eventBus
	dropped atomic.Uint64
}

func (s *subscriber) C() <-chan Event { return s.ch }
func (s *subscriber) ID() int64       { return s.id }
func (s *subscriber) Close() error    { s.bus.Unsubscribe(s); return nil }
