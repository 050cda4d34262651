package agent

import (
	"sync"

	"github.com/vimaru-ai/seatutor-backend/internal/retriever"
)

// Collector accumulates what the tools did during one turn: retrieval
// citations for the sources block and the tool call trace for metadata.
// One collector per turn; never shared across turns.
type Collector struct {
	mu             sync.Mutex
	citations      []retriever.Citation
	evidenceImages []retriever.EvidenceImage
	toolsUsed      []string
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) RecordRetrieval(res *retriever.SearchResult) {
	if res == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.citations = append(c.citations, res.Citations...)
	c.evidenceImages = append(c.evidenceImages, res.EvidenceImages...)
}

func (c *Collector) RecordToolUse(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsUsed = append(c.toolsUsed, name)
}

func (c *Collector) Citations() []retriever.Citation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]retriever.Citation, len(c.citations))
	copy(out, c.citations)
	return out
}

// EvidenceImages dedupes across multiple retrieval calls in one turn.
func (c *Collector) EvidenceImages() []retriever.EvidenceImage {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := map[string]bool{}
	out := []retriever.EvidenceImage{}
	for _, img := range c.evidenceImages {
		key := img.DocumentID + "|" + img.ImageURL
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, img)
	}
	return out
}

func (c *Collector) ToolsUsed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.toolsUsed))
	copy(out, c.toolsUsed)
	return out
}
