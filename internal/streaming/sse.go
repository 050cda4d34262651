package streaming

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// WriteSSE drains the multiplexer onto one SSE connection until the queue
// closes or the client disconnects.
func WriteSSE(c *gin.Context, mux *Multiplexer) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		ev, ok := mux.Next(ctx)
		if !ok {
			return
		}
		payload, err := json.Marshal(ev.Data)
		if err != nil {
			continue
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, payload)
		c.Writer.Flush()
		if ev.Type == EventDone || ev.Type == EventError {
			return
		}
	}
}
