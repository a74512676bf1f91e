// Package events provides the per-run progress event fan-out: a subscriber
// registry, broadcast writes with per-sink failure isolation, and periodic
// heartbeats.
package events

import (
	"log"
	"sync"
	"time"
)

// Sink is an abstract write/close target for run events, typically an SSE
// connection.
type Sink interface {
	Write(event string, payload map[string]any) error
	Close() error
}

// DefaultHeartbeatInterval is used when the broadcaster is constructed
// with a non-positive interval.
const DefaultHeartbeatInterval = 15 * time.Second

type subscription struct {
	runID string
	sink  Sink
	stop  chan struct{}
	once  sync.Once
}

func (s *subscription) cancel() {
	s.once.Do(func() { close(s.stop) })
}

// Broadcaster maintains per-run subscriber sets. All state is owned by the
// instance so independent broadcasters can coexist in tests.
type Broadcaster struct {
	heartbeat time.Duration

	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

// NewBroadcaster creates a broadcaster with the given heartbeat interval.
func NewBroadcaster(heartbeat time.Duration) *Broadcaster {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Broadcaster{
		heartbeat: heartbeat,
		subs:      make(map[string]map[*subscription]struct{}),
	}
}

// Subscribe registers a sink for a run's events and starts its heartbeat.
// The returned cancel function detaches the sink; it is safe to call more
// than once.
func (b *Broadcaster) Subscribe(runID string, sink Sink) func() {
	sub := &subscription{runID: runID, sink: sink, stop: make(chan struct{})}

	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[*subscription]struct{})
	}
	b.subs[runID][sub] = struct{}{}
	b.mu.Unlock()

	go b.heartbeatLoop(sub)

	return func() {
		sub.cancel()
		b.detach(sub)
	}
}

// SubscriberCount returns the number of live sinks for a run.
func (b *Broadcaster) SubscriberCount(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}

// Publish writes an event to every sink subscribed to the run. A no-op when
// no subscribers exist. Individual write failures detach the broken sink
// without blocking delivery to the others.
func (b *Broadcaster) Publish(runID, pipelineID, event string, payload map[string]any) {
	subs := b.snapshot(runID)
	if len(subs) == 0 {
		return
	}

	envelope := map[string]any{
		"runId":      runID,
		"pipelineId": pipelineID,
		"at":         time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range payload {
		envelope[k] = v
	}

	for _, sub := range subs {
		if err := sub.sink.Write(event, envelope); err != nil {
			log.Printf("[events] dropping subscriber for run %s: %v", runID, err)
			sub.cancel()
			b.detach(sub)
			_ = sub.sink.Close()
		}
	}
}

// CloseRun gracefully ends every sink for a run and discards the
// subscriber set. Used when a run reaches a terminal state.
func (b *Broadcaster) CloseRun(runID string) {
	b.mu.Lock()
	subs := b.subs[runID]
	delete(b.subs, runID)
	b.mu.Unlock()

	for sub := range subs {
		sub.cancel()
		if err := sub.sink.Close(); err != nil {
			log.Printf("[events] failed to close subscriber for run %s: %v", runID, err)
		}
	}
}

func (b *Broadcaster) heartbeatLoop(sub *subscription) {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
			payload := map[string]any{
				"runId": sub.runID,
				"at":    time.Now().UTC().Format(time.RFC3339Nano),
			}
			if err := sub.sink.Write("heartbeat", payload); err != nil {
				sub.cancel()
				b.detach(sub)
				_ = sub.sink.Close()
				return
			}
		}
	}
}

func (b *Broadcaster) snapshot(runID string) []*subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*subscription, 0, len(b.subs[runID]))
	for sub := range b.subs[runID] {
		out = append(out, sub)
	}
	return out
}

func (b *Broadcaster) detach(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.runID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.runID)
		}
	}
}
