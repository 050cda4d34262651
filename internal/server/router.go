package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vimaru-ai/seatutor-backend/internal/handlers"
	"github.com/vimaru-ai/seatutor-backend/internal/middleware"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log          *logger.Logger
	APIKey       string
	AllowOrigins []string

	Health    *handlers.HealthHandler
	Chat      *handlers.ChatHandler
	History   *handlers.HistoryHandler
	Memories  *handlers.MemoriesHandler
	Sources   *handlers.SourcesHandler
	Knowledge *handlers.KnowledgeHandler
	Sessions  *handlers.SessionsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("seatutor-backend"))
	router.Use(middleware.RequestLog(cfg.Log))

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/health", cfg.Health.Shallow)
	router.GET("/health/db", cfg.Health.Deep)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api/v1")
	api.Use(middleware.APIKeyAuth(cfg.Log, cfg.APIKey))

	api.POST("/chat", cfg.Chat.Chat)
	api.POST("/chat/stream", cfg.Chat.ChatStream)

	api.GET("/history/:user_id", cfg.History.Get)
	api.DELETE("/chat/history/:user_id", cfg.History.Delete)

	api.GET("/memories/:user_id", cfg.Memories.Get)
	api.GET("/sessions/:user_id", cfg.Sessions.ListByUser)

	api.GET("/sources/", cfg.Sources.List)
	api.GET("/sources/:node_id", cfg.Sources.Get)

	api.POST("/knowledge/ingest-multimodal", cfg.Knowledge.IngestMultimodal)
	api.GET("/knowledge/jobs/:job_id", cfg.Knowledge.Job)
	api.GET("/knowledge/list", cfg.Knowledge.List)
	api.GET("/knowledge/stats", cfg.Knowledge.Stats)
	api.DELETE("/knowledge/:document_id", cfg.Knowledge.DeleteDocument)

	return router
}
