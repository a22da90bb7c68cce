// Package stream delivers ordered run lifecycle events to live subscribers.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// Streamer fans run events out to stream sessions. Events are not stored: a
// session only sees events published after it subscribed.
//
// Publish calls for the same run must not overlap; callers serialize them per
// run. Calls for different runs may run concurrently.
type Streamer struct {
	bufferSize int
	logger     *slog.Logger

	mu   sync.RWMutex
	runs map[string]map[string]*Subscription
}

// New creates a Streamer whose sessions buffer up to bufferSize events.
func New(bufferSize int, logger *slog.Logger) *Streamer {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		bufferSize: bufferSize,
		logger:     logger,
		runs:       make(map[string]map[string]*Subscription),
	}
}

// Subscription is one stream session of a run.
type Subscription struct {
	ID    string
	RunID string

	events    chan domain.StreamEvent
	done      chan struct{}
	closeOnce sync.Once
	endOnce   sync.Once
	streamer  *Streamer
}

// Events yields the run's events in publication order. The channel is closed
// after the terminal event.
func (s *Subscription) Events() <-chan domain.StreamEvent {
	return s.events
}

// Done is closed when the subscriber detaches.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close detaches the session. Pending events are dropped and publishers no
// longer wait on it.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.streamer != nil {
			s.streamer.remove(s)
		}
	})
}

func (s *Subscription) end() {
	s.endOnce.Do(func() { close(s.events) })
}

// Subscribe opens a session on a live run.
func (st *Streamer) Subscribe(runID string) *Subscription {
	sub := &Subscription{
		ID:       uuid.NewString(),
		RunID:    runID,
		events:   make(chan domain.StreamEvent, st.bufferSize),
		done:     make(chan struct{}),
		streamer: st,
	}

	st.mu.Lock()
	if st.runs[runID] == nil {
		st.runs[runID] = make(map[string]*Subscription)
	}
	st.runs[runID][sub.ID] = sub
	st.mu.Unlock()

	st.logger.Debug("stream session opened", "run_id", runID, "session_id", sub.ID)
	return sub
}

// Closed returns a session that is already finished, for runs that reached a
// terminal status before the subscriber arrived.
func (st *Streamer) Closed(runID string) *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		RunID:  runID,
		events: make(chan domain.StreamEvent),
		done:   make(chan struct{}),
	}
	sub.end()
	return sub
}

// Publish delivers event to every session of its run, blocking while a
// session's buffer is full until it drains, detaches or ctx ends. A terminal
// event closes the run's sessions after delivery.
func (st *Streamer) Publish(ctx context.Context, event domain.StreamEvent) (domain.StreamEvent, error) {
	if event.ID == "" {
		event.ID = "evt_" + ulid.Make().String()
	}
	if event.Ts == 0 {
		event.Ts = time.Now().UnixMilli()
	}

	for _, sub := range st.sessions(event.RunID) {
		select {
		case sub.events <- event:
		case <-sub.done:
		case <-ctx.Done():
			return event, ctx.Err()
		}
	}

	if event.Type.IsTerminal() {
		st.finish(event.RunID)
	}
	return event, nil
}

// SessionCount returns the number of open sessions of a run.
func (st *Streamer) SessionCount(runID string) int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.runs[runID])
}

// Shutdown ends every open session. It must only be called once publishers
// have stopped.
func (st *Streamer) Shutdown() {
	st.mu.Lock()
	runs := st.runs
	st.runs = make(map[string]map[string]*Subscription)
	st.mu.Unlock()

	for _, subs := range runs {
		for _, sub := range subs {
			sub.end()
		}
	}
}

func (st *Streamer) sessions(runID string) []*Subscription {
	st.mu.RLock()
	defer st.mu.RUnlock()
	subs := make([]*Subscription, 0, len(st.runs[runID]))
	for _, sub := range st.runs[runID] {
		subs = append(subs, sub)
	}
	return subs
}

func (st *Streamer) finish(runID string) {
	st.mu.Lock()
	subs := st.runs[runID]
	delete(st.runs, runID)
	st.mu.Unlock()

	for _, sub := range subs {
		sub.end()
	}
	if len(subs) > 0 {
		st.logger.Debug("stream sessions finished", "run_id", runID, "sessions", len(subs))
	}
}

func (st *Streamer) remove(sub *Subscription) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if subs, ok := st.runs[sub.RunID]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(st.runs, sub.RunID)
		}
	}
}
