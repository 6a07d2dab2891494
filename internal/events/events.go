// Package events implements the live event publisher (spec §4.11, C11): a
// process-wide, ordered, at-least-once event bus the orchestrator (C12)
// exposes over SSE. There is no teacher analog — blackcoderx/falcon has no
// live-run event stream — so this is grounded on the grafana-k6 manifest's
// r3labs/sse dependency, adopted here as the transport for the same
// publish/subscribe shape.
package events

import (
	"sync"
	"time"
)

// Kind enumerates the closed set of event kinds a run emits (spec §4.11).
type Kind string

const (
	RunRegistered  Kind = "run_registered"
	RunStarted     Kind = "run_started"
	SuiteStarted   Kind = "suite_started"
	SuiteCompleted Kind = "suite_completed"
	StepCompleted  Kind = "step_completed"
	RunError       Kind = "run_error"
	RunCompleted   Kind = "run_completed"
)

// Event is one entry on a run's event log (spec §4.11: every event is
// "{run_id, timestamp, payload}").
type Event struct {
	Seq       int64
	RunID     string
	Kind      Kind
	Payload   any
	Timestamp int64 // unix millis
}

// Bus is a per-process, ordered, replayable event log (spec §4.11
// "replay-from-beginning subscription semantics"): subscribers receive
// every event from sequence 1 onward, not just events published after they
// subscribed, so a late dashboard connection still sees the full history.
type Bus struct {
	mu       sync.Mutex
	seq      int64
	history  []Event
	subs     map[int]chan Event
	nextSub  int
	lastTS   map[string]int64 // run_id -> last-assigned timestamp, for invariant 8
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event), lastTS: make(map[string]int64)}
}

// Publish appends an event and fans it out to every live subscriber.
// Publish never blocks on a slow subscriber: a subscriber channel is
// buffered, and a full channel drops the live push (the event is still
// recorded in History).
//
// Timestamp is wall-clock time in millis, clamped to be non-decreasing per
// run_id (spec §4.11 invariant 8: "non-decreasing timestamps" per run):
// two events published within the same millisecond, or a clock that steps
// backward, still produce a monotonically non-decreasing sequence for that run_id.
func (b *Bus) Publish(runID string, kind Kind, payload any) Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	ts := time.Now().UnixMilli()
	if last, ok := b.lastTS[runID]; ok && ts < last {
		ts = last
	}
	b.lastTS[runID] = ts
	ev := Event{Seq: b.seq, RunID: runID, Kind: kind, Payload: payload, Timestamp: ts}
	b.history = append(b.history, ev)
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Subscribe returns a channel of live events plus the full history recorded
// so far. Callers should drain history before consuming the channel.
func (b *Bus) Subscribe() (id int, history []Event, live <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id = b.nextSub
	b.nextSub++
	ch := make(chan Event, 256)
	b.subs[id] = ch
	hist := make([]Event, len(b.history))
	copy(hist, b.history)
	return id, hist, ch
}

// Unsubscribe closes and removes a subscriber's channel.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// History returns every event published for runID, in order.
func (b *Bus) History(runID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, ev := range b.history {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out
}
