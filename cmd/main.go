package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vimaru-ai/seatutor-backend/internal/agent"
	"github.com/vimaru-ai/seatutor-backend/internal/clients/gcp"
	"github.com/vimaru-ai/seatutor-backend/internal/clients/openai"
	"github.com/vimaru-ai/seatutor-backend/internal/clients/redisx"
	"github.com/vimaru-ai/seatutor-backend/internal/db"
	"github.com/vimaru-ai/seatutor-backend/internal/handlers"
	"github.com/vimaru-ai/seatutor-backend/internal/ingestion"
	"github.com/vimaru-ai/seatutor-backend/internal/intent"
	"github.com/vimaru-ai/seatutor-backend/internal/memory"
	"github.com/vimaru-ai/seatutor-backend/internal/moderation"
	"github.com/vimaru-ai/seatutor-backend/internal/observability"
	"github.com/vimaru-ai/seatutor-backend/internal/orchestrator"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/envutil"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/platform/localmedia"
	"github.com/vimaru-ai/seatutor-backend/internal/repos"
	"github.com/vimaru-ai/seatutor-backend/internal/retriever"
	"github.com/vimaru-ai/seatutor-backend/internal/server"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "seatutor-backend",
		Environment: envutil.GetEnv("DEPLOY_ENV", "development", log),
		Version:     envutil.GetEnv("SERVICE_VERSION", "dev", log),
	})

	// Env
	log.Info("Loading environment variables from main...")
	apiKey := envutil.GetEnv("API_KEY", "", log)
	port := envutil.GetEnv("PORT", "8080", log)
	allowOrigins := splitCSV(envutil.GetEnv("CORS_ALLOW_ORIGINS", "", log))

	memoryCap := envutil.GetEnvAsInt("MEMORY_CAP", 50, log)
	historyWindow := envutil.GetEnvAsInt("HISTORY_WINDOW", 50, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	knowledgeRepo := repos.NewKnowledgeRepo(thePG, log)
	sessionRepo := repos.NewSessionRepo(thePG, log)
	messageRepo := repos.NewMessageRepo(thePG, log)
	profileRepo := repos.NewProfileRepo(thePG, log)
	factRepo := repos.NewFactRepo(thePG, log)

	// Clients
	log.Info("Setting up clients from main...")
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	bucketService, err := gcp.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	// GCP Vision is optional; without it, scanned pages run through the
	// multimodal model instead of the OCR API.
	visionClient, err := gcp.NewVision(log)
	if err != nil {
		log.Warn("Vision client unavailable; scanned pages fall back to the multimodal model", "error", err)
		visionClient = nil
	}
	if visionClient != nil {
		defer visionClient.Close()
	}

	var redisCache redisx.Cache
	if os.Getenv("REDIS_ADDR") != "" {
		redisCache, err = redisx.NewCache(log)
		if err != nil {
			log.Warn("Redis unavailable; moderation cache is in-process only", "error", err)
			redisCache = nil
		}
	}

	mediaTools := localmedia.New(log)
	if err := mediaTools.AssertReady(ctx); err != nil {
		log.Warn("PDF tooling not ready; ingestion will fail until poppler is installed", "error", err)
	}

	// Ingestion
	jobStore := ingestion.NewJobStore()
	pipeline := ingestion.NewPipeline(log, thePG, mediaTools, bucketService, visionClient, openaiClient, knowledgeRepo, jobStore, ingestion.PipelineConfig{
		PageConcurrency:        envutil.GetEnvAsInt("INGESTION_PAGE_CONCURRENCY", 4, log),
		VisionDPI:              envutil.GetEnvAsInt("VISION_DPI", 200, log),
		TextUsabilityThreshold: envutil.GetEnvAsFloat("TEXT_USABILITY_THRESHOLD", 0.5, log),
		ChunkSizeMax:           envutil.GetEnvAsInt("CHUNK_SIZE_MAX", 1000, log),
		ChunkSizeMin:           envutil.GetEnvAsInt("CHUNK_SIZE_MIN", 120, log),
	})

	// Services
	log.Info("Setting up services from main...")
	ret := retriever.New(log, openaiClient, knowledgeRepo, retriever.Config{
		DenseWeight:       envutil.GetEnvAsFloat("DENSE_WEIGHT", 0.6, log),
		TopK:              envutil.GetEnvAsInt("TOP_K", 8, log),
		DenseCandidates:   envutil.GetEnvAsInt("DENSE_CANDIDATES", 0, log),
		LexicalCandidates: envutil.GetEnvAsInt("LEXICAL_CANDIDATES", 0, log),
	})

	gate := moderation.NewGate(log, openaiClient, redisCache, moderation.Config{
		EnableLLM: envutil.GetEnvAsBool("MODERATION_ENABLE_LLM", true, log),
		Timeout:   time.Duration(envutil.GetEnvAsInt("MODERATION_TIMEOUT_MS", 3000, log)) * time.Millisecond,
		CacheTTL:  time.Duration(envutil.GetEnvAsInt("MODERATION_CACHE_TTL_S", 600, log)) * time.Second,
	})

	classifier := intent.NewClassifier(intent.Config{
		PhraseBoost:     envutil.GetEnvAsInt("INTENT_PHRASE_BOOST", 2, log),
		AggressiveBoost: envutil.GetEnvAsInt("INTENT_AGGRESSIVE_BOOST", 1, log),
	})
	window := memory.NewWindow(log, messageRepo, factRepo, historyWindow)
	insights := memory.NewExtractor(log, openaiClient, factRepo,
		envutil.GetEnvAsInt("INSIGHT_CONCURRENCY", 16, log), memoryCap)

	registry := agent.NewRegistry(log, ret, factRepo)
	tutorAgent := agent.New(log, openaiClient, registry, agent.Config{
		MaxToolCalls: envutil.GetEnvAsInt("MAX_TOOL_CALLS", 6, log),
		ToolTimeout:  time.Duration(envutil.GetEnvAsInt("TOOL_TIMEOUT_S", 30, log)) * time.Second,
	})

	orch := orchestrator.New(log, thePG, gate, classifier, window, insights, tutorAgent, openaiClient,
		sessionRepo, messageRepo, profileRepo, orchestrator.Config{
			TurnTimeout:   time.Duration(envutil.GetEnvAsInt("TURN_TIMEOUT_S", 120, log)) * time.Second,
			HistoryWindow: historyWindow,
		})

	// Handlers
	log.Info("Setting up handlers from main...")
	healthHandler := handlers.NewHealthHandler(log, postgresService, openaiClient, bucketService, redisCache)
	chatHandler := handlers.NewChatHandler(log, orch)
	historyHandler := handlers.NewHistoryHandler(log, thePG, messageRepo, sessionRepo)
	memoriesHandler := handlers.NewMemoriesHandler(log, factRepo, memoryCap)
	sourcesHandler := handlers.NewSourcesHandler(log, knowledgeRepo)
	knowledgeHandler := handlers.NewKnowledgeHandler(log, pipeline, knowledgeRepo, bucketService)
	sessionsHandler := handlers.NewSessionsHandler(log, sessionRepo)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		Log:          log,
		APIKey:       apiKey,
		AllowOrigins: allowOrigins,
		Health:       healthHandler,
		Chat:         chatHandler,
		History:      historyHandler,
		Memories:     memoriesHandler,
		Sources:      sourcesHandler,
		Knowledge:    knowledgeHandler,
		Sessions:     sessionsHandler,
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	if otelShutdown != nil {
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("Tracer shutdown incomplete", "error", err)
		}
	}
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
