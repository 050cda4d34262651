package streaming

import (
	"context"
	"sync"
)

// Event types, in the order a well-formed stream emits them.
const (
	EventThinking = "thinking"
	EventAnswer   = "answer"
	EventSources  = "sources"
	EventMetadata = "metadata"
	EventDone     = "done"
	EventError    = "error"
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// isFinal marks events that must survive buffer pressure.
func (e Event) isFinal() bool {
	return e.Type == EventDone || e.Type == EventError ||
		e.Type == EventSources || e.Type == EventMetadata
}

const defaultBufferSize = 256

// Multiplexer is the bounded event queue between the turn pipeline and one
// SSE connection. A slow client sheds the oldest non-final events; terminal
// and summary events are never dropped.
type Multiplexer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []Event
	max    int
	closed bool
}

func NewMultiplexer(size int) *Multiplexer {
	if size <= 0 {
		size = defaultBufferSize
	}
	m := &Multiplexer{max: size}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish enqueues an event. When the buffer is full the oldest droppable
// event is discarded first; if every buffered event is final the buffer
// grows instead, since final events may not be lost.
func (m *Multiplexer) Publish(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	if len(m.buf) >= m.max {
		for i, queued := range m.buf {
			if !queued.isFinal() {
				m.buf = append(m.buf[:i], m.buf[i+1:]...)
				break
			}
		}
	}

	m.buf = append(m.buf, ev)
	m.cond.Signal()
}

// Close wakes any blocked reader; pending events still drain.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.cond.Broadcast()
}

// Next blocks until an event is available. The second return is false when
// the queue is closed and drained, or the context ended.
func (m *Multiplexer) Next(ctx context.Context) (Event, bool) {
	// Waking the cond wait when the context dies, since Cond has no
	// context-aware wait.
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if len(m.buf) > 0 {
			ev := m.buf[0]
			m.buf = m.buf[1:]
			return ev, true
		}
		if m.closed || ctx.Err() != nil {
			return Event{}, false
		}
		m.cond.Wait()
	}
}
