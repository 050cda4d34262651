package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vimaru-ai/seatutor-backend/internal/clients/gcp"
	"github.com/vimaru-ai/seatutor-backend/internal/clients/openai"
	"github.com/vimaru-ai/seatutor-backend/internal/clients/redisx"
	"github.com/vimaru-ai/seatutor-backend/internal/db"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
)

type ComponentHealth struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Message   string `json:"message,omitempty"`
}

type HealthHandler struct {
	log      *logger.Logger
	postgres *db.PostgresService
	oai      openai.Client
	bucket   gcp.BucketService
	redis    redisx.Cache // optional
}

func NewHealthHandler(log *logger.Logger, postgres *db.PostgresService, oai openai.Client, bucket gcp.BucketService, redis redisx.Cache) *HealthHandler {
	return &HealthHandler{
		log:      log.With("handler", "HealthHandler"),
		postgres: postgres,
		oai:      oai,
		bucket:   bucket,
		redis:    redis,
	}
}

// Shallow never touches the database.
func (h *HealthHandler) Shallow(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) Deep(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	components := map[string]ComponentHealth{
		"postgres": check(func() error { return h.postgres.Ping() }),
		"embedder": check(func() error {
			ectx, ecancel := context.WithTimeout(ctx, 5*time.Second)
			defer ecancel()
			_, err := h.oai.Embed(ectx, []string{"ping"})
			return err
		}),
		"blob_store": check(func() error { return h.bucket.Ping(ctx) }),
	}
	if h.redis != nil {
		components["redis"] = check(func() error { return h.redis.Ping(ctx) })
	}

	overall := "ok"
	for _, comp := range components {
		if comp.Status != "ok" {
			overall = "degraded"
			break
		}
	}

	status := http.StatusOK
	if overall != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": overall, "components": components})
}

func check(fn func() error) ComponentHealth {
	started := time.Now()
	err := fn()
	out := ComponentHealth{
		Status:    "ok",
		LatencyMS: time.Since(started).Milliseconds(),
	}
	if err != nil {
		out.Status = "down"
		out.Message = err.Error()
	}
	return out
}
