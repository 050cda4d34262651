package streaming

import (
	"context"
	"testing"
	"time"
)

func drain(t *testing.T, m *Multiplexer) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var out []Event
	for {
		ev, ok := m.Next(ctx)
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func TestMultiplexer_FIFO(t *testing.T) {
	m := NewMultiplexer(8)
	m.Publish(Event{Type: EventThinking, Data: "a"})
	m.Publish(Event{Type: EventAnswer, Data: "b"})
	m.Publish(Event{Type: EventDone})
	m.Close()

	got := drain(t, m)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Type != EventThinking || got[1].Type != EventAnswer || got[2].Type != EventDone {
		t.Fatalf("order wrong: %+v", got)
	}
}

func TestMultiplexer_DropsOldestNonFinal(t *testing.T) {
	m := NewMultiplexer(3)
	m.Publish(Event{Type: EventAnswer, Data: "1"})
	m.Publish(Event{Type: EventAnswer, Data: "2"})
	m.Publish(Event{Type: EventAnswer, Data: "3"})
	// Buffer full; oldest answer goes.
	m.Publish(Event{Type: EventDone})
	m.Close()

	got := drain(t, m)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Data != "2" {
		t.Fatalf("oldest non-final not dropped: %+v", got)
	}
	if got[2].Type != EventDone {
		t.Fatalf("done must survive pressure: %+v", got)
	}
}

func TestMultiplexer_FinalEventsNeverDropped(t *testing.T) {
	m := NewMultiplexer(2)
	m.Publish(Event{Type: EventSources})
	m.Publish(Event{Type: EventMetadata})
	// No droppable event; buffer grows rather than losing a final.
	m.Publish(Event{Type: EventDone})
	m.Close()

	got := drain(t, m)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
}

func TestMultiplexer_NextUnblocksOnContextCancel(t *testing.T) {
	m := NewMultiplexer(4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := m.Next(ctx)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("Next returned an event after cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("Next did not unblock on context cancel")
	}
}

func TestSplitter_RoutesThinkingAndAnswer(t *testing.T) {
	m := NewMultiplexer(16)
	s := NewSplitter(m)

	s.Feed("<thinking>step one</thinking>the answer")
	s.Flush()
	m.Close()

	got := drain(t, m)
	var thinking, answer string
	for _, ev := range got {
		switch ev.Type {
		case EventThinking:
			thinking += ev.Data.(string)
		case EventAnswer:
			answer += ev.Data.(string)
		}
	}
	if thinking != "step one" {
		t.Fatalf("thinking = %q", thinking)
	}
	if answer != "the answer" {
		t.Fatalf("answer = %q", answer)
	}
}

func TestSplitter_TagSplitAcrossDeltas(t *testing.T) {
	m := NewMultiplexer(32)
	s := NewSplitter(m)

	for _, delta := range []string{"<thi", "nking>rea", "soning</thin", "king>ans", "wer"} {
		s.Feed(delta)
	}
	s.Flush()
	m.Close()

	got := drain(t, m)
	var thinking, answer string
	for _, ev := range got {
		switch ev.Type {
		case EventThinking:
			thinking += ev.Data.(string)
		case EventAnswer:
			answer += ev.Data.(string)
		}
	}
	if thinking != "reasoning" {
		t.Fatalf("thinking = %q", thinking)
	}
	if answer != "answer" {
		t.Fatalf("answer = %q", answer)
	}
}

func TestSplitter_AngleBracketWithoutTagPassesThrough(t *testing.T) {
	m := NewMultiplexer(16)
	s := NewSplitter(m)

	s.Feed("a < b and x<y")
	s.Flush()
	m.Close()

	got := drain(t, m)
	var answer string
	for _, ev := range got {
		if ev.Type == EventAnswer {
			answer += ev.Data.(string)
		}
	}
	if answer != "a < b and x<y" {
		t.Fatalf("answer = %q", answer)
	}
}
