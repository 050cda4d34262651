package streaming

import "strings"

const (
	openTag  = "<thinking>"
	closeTag = "</thinking>"
)

// Splitter routes raw model deltas into thinking and answer events as they
// arrive. Tags may be split across delta boundaries, so a suffix that could
// still grow into a tag is held back until the next delta decides it.
type Splitter struct {
	mux        *Multiplexer
	inThinking bool
	carry      string
}

func NewSplitter(mux *Multiplexer) *Splitter {
	return &Splitter{mux: mux}
}

func (s *Splitter) Feed(delta string) {
	text := s.carry + delta
	s.carry = ""

	for text != "" {
		tag := openTag
		if s.inThinking {
			tag = closeTag
		}

		idx := indexFold(text, tag)
		if idx >= 0 {
			s.emit(text[:idx])
			s.inThinking = !s.inThinking
			text = text[idx+len(tag):]
			continue
		}

		// No full tag; hold back a trailing partial match.
		hold := partialSuffix(text, tag)
		s.emit(text[:len(text)-hold])
		s.carry = text[len(text)-hold:]
		return
	}
}

// Flush emits any held-back text. An unclosed thinking section stays routed
// as thinking.
func (s *Splitter) Flush() {
	if s.carry != "" {
		s.emit(s.carry)
		s.carry = ""
	}
}

func (s *Splitter) emit(text string) {
	if text == "" {
		return
	}
	kind := EventAnswer
	if s.inThinking {
		kind = EventThinking
	}
	s.mux.Publish(Event{Type: kind, Data: text})
}

func indexFold(s, substr string) int {
	return strings.Index(strings.ToLower(s), substr)
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	lower := strings.ToLower(s)
	max := len(tag) - 1
	if max > len(lower) {
		max = len(lower)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(tag, lower[len(lower)-n:]) {
			return n
		}
	}
	return 0
}
