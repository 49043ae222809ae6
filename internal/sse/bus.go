package sse

import (
	"log/slog"
	"sync"

	"github.com/evalsvc/docreview/internal/core"
)

const ringCapacity = 500

// jobLog is the append-only bounded ring of events for a single job, plus
// the set of live subscribers currently attached to it. The teacher's
// EventBus drops silently on a full subscriber channel; this type keeps a
// persistent window so a late subscriber can be back-filled on connect.
type jobLog struct {
	mu      sync.Mutex
	entries []Event
	start   int // logical index of entries[0]
	subs    map[chan Event]struct{}
	closed  bool
}

func newJobLog() *jobLog {
	return &jobLog{subs: make(map[chan Event]struct{})}
}

func (l *jobLog) append(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.entries = append(l.entries, ev)
	if len(l.entries) > ringCapacity {
		dropped := len(l.entries) - ringCapacity
		l.entries = l.entries[dropped:]
		l.start += dropped
	}
	for ch := range l.subs {
		select {
		case ch <- ev:
		default:
			// slow subscriber: never block the producer; it will catch up
			// from the ring log on its own cadence.
		}
	}
	if ev.Type.IsTerminal() {
		l.closed = true
		for ch := range l.subs {
			close(ch)
		}
		l.subs = make(map[chan Event]struct{})
	}
}

func (l *jobLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *jobLog) subscribe() (history []Event, live chan Event, closedNow bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	history = make([]Event, len(l.entries))
	copy(history, l.entries)
	if l.closed {
		return history, nil, true
	}
	ch := make(chan Event, 64)
	l.subs[ch] = struct{}{}
	return history, ch, false
}

func (l *jobLog) unsubscribe(ch chan Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[ch]; ok {
		delete(l.subs, ch)
	}
}

// Bus is the per-job event log keyed by job id. It holds weak references to
// jobs: a finished job's log lingers until explicitly dropped, so a
// reconnecting observer can still replay history.
type Bus struct {
	mu     sync.RWMutex
	logs   map[core.JobID]*jobLog
	logger *slog.Logger
}

// NewBus constructs an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logs: make(map[core.JobID]*jobLog), logger: logger}
}

func (b *Bus) logFor(jobID core.JobID) *jobLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.logs[jobID]
	if !ok {
		l = newJobLog()
		b.logs[jobID] = l
	}
	return l
}

// Publish appends an event to its job's log and fans it out to current
// subscribers. Never blocks: slow subscribers fall behind and resync from
// history on their own cadence.
func (b *Bus) Publish(jobID core.JobID, typ EventType, data interface{}) {
	b.logFor(jobID).append(NewEvent(jobID, typ, data))
}

// Subscribe replays a job's history then returns a live channel delivering
// new events until the job reaches a terminal state, at which point the
// channel is closed. If the job already terminated before Subscribe was
// called, the returned channel is nil and closedNow is true; callers should
// treat history as the complete event sequence in that case.
func (b *Bus) Subscribe(jobID core.JobID) (history []Event, live <-chan Event, closedNow bool) {
	h, ch, done := b.logFor(jobID).subscribe()
	if done {
		return h, nil, true
	}
	return h, ch, false
}

// Unsubscribe detaches a previously-returned live channel.
func (b *Bus) Unsubscribe(jobID core.JobID, ch <-chan Event) {
	b.mu.RLock()
	l, ok := b.logs[jobID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	if c, ok := ch.(chan Event); ok {
		l.unsubscribe(c)
	}
}

// History returns the current ring contents for a job without subscribing.
func (b *Bus) History(jobID core.JobID) []Event {
	return b.logFor(jobID).snapshot()
}

// Drop removes a job's log entirely, releasing memory once no observer will
// ever reconnect (e.g. after explicit job deletion).
func (b *Bus) Drop(jobID core.JobID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.logs, jobID)
}
