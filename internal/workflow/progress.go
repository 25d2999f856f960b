package workflow

import (
	"context"
	"sync"
	"time"

	"tbloader/internal/updater"
)

// Progress event kinds.
const (
	EventStarted  = "started"
	EventStep     = "step"
	EventDetail   = "detail"
	EventLog      = "log"
	EventFinished = "finished"
)

// ProgressEvent is one progress notification from a running session.
type ProgressEvent struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id,omitempty"`
	Device    string    `json:"device"`
	Kind      string    `json:"kind"`
	Step      string    `json:"step,omitempty"`
	Percent   int       `json:"percent,omitempty"`
	Message   string    `json:"message,omitempty"`
	Success   *bool     `json:"success,omitempty"`
}

// ProgressHub keeps recent progress events and wakes waiters when new ones
// arrive.
type ProgressHub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []ProgressEvent
	nextSeq  uint64
}

// NewProgressHub constructs a bounded in-memory fan-out buffer.
func NewProgressHub(capacity int) *ProgressHub {
	if capacity <= 0 {
		capacity = 512
	}
	h := &ProgressHub{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish appends evt to the hub.
func (h *ProgressHub) Publish(evt ProgressEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Fetch returns the events with a sequence greater than since. When wait is
// true it blocks until at least one event is available or ctx ends.
func (h *ProgressHub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]ProgressEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	stop := make(chan struct{})
	defer close(stop)
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-stop:
			}
		}()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		events, next := h.snapshotLocked(since, limit)
		if len(events) > 0 || !wait {
			return events, next, ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
	}
}

// Tail returns the most recent limit events without blocking.
func (h *ProgressHub) Tail(limit int) ([]ProgressEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	start := len(h.buffer) - limit
	if start < 0 {
		start = 0
	}
	out := make([]ProgressEvent, len(h.buffer)-start)
	copy(out, h.buffer[start:])
	return out, h.nextSeq
}

func (h *ProgressHub) snapshotLocked(since uint64, limit int) ([]ProgressEvent, uint64) {
	start := len(h.buffer)
	for i, evt := range h.buffer {
		if evt.Sequence > since {
			start = i
			break
		}
	}
	end := start + limit
	if end > len(h.buffer) {
		end = len(h.buffer)
	}
	if start == end {
		return nil, h.nextSeq
	}
	out := make([]ProgressEvent, end-start)
	copy(out, h.buffer[start:end])
	return out, out[len(out)-1].Sequence
}

// sessionProgress adapts the hub to updater.ProgressSink for one device and
// forwards to an optional caller sink.
type sessionProgress struct {
	hub       *ProgressHub
	sessionID string
	device    string
	next      updater.ProgressSink

	mu      sync.Mutex
	step    updater.Step
	percent int
}

func (p *sessionProgress) publish(evt ProgressEvent) {
	if evt.Kind == EventStep {
		p.mu.Lock()
		p.step = updater.Step(evt.Step)
		p.percent = evt.Percent
		p.mu.Unlock()
	}
	evt.SessionID = p.sessionID
	evt.Device = p.device
	p.hub.Publish(evt)
}

func (p *sessionProgress) current() (updater.Step, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.step, p.percent
}

func (p *sessionProgress) Step(step updater.Step, percent int, label string) {
	p.publish(ProgressEvent{Kind: EventStep, Step: string(step), Percent: percent, Message: label})
	if p.next != nil {
		p.next.Step(step, percent, label)
	}
}

func (p *sessionProgress) Detail(line string) {
	p.publish(ProgressEvent{Kind: EventDetail, Message: line})
	if p.next != nil {
		p.next.Detail(line)
	}
}

func (p *sessionProgress) Log(line string) {
	p.publish(ProgressEvent{Kind: EventLog, Message: line})
	if p.next != nil {
		p.next.Log(line)
	}
}
