package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/api/handlers"
	"github.com/sop-forge/backend/internal/cache/redis"
	"github.com/sop-forge/backend/internal/clustering"
	"github.com/sop-forge/backend/internal/embedding"
	"github.com/sop-forge/backend/internal/ingestion"
	"github.com/sop-forge/backend/internal/metrics"
	"github.com/sop-forge/backend/internal/middleware/ratelimit"
	"github.com/sop-forge/backend/internal/middleware/security"
	reqvalidation "github.com/sop-forge/backend/internal/middleware/validation"
	"github.com/sop-forge/backend/internal/pipeline"
	"github.com/sop-forge/backend/internal/rag"
	"github.com/sop-forge/backend/internal/servicenow"
	"github.com/sop-forge/backend/internal/sop"
	"github.com/sop-forge/backend/internal/storage/sqlite"
	"github.com/sop-forge/backend/internal/validation"
	"github.com/sop-forge/backend/internal/vector/milvus"
	"github.com/sop-forge/backend/pkg/config"
	appLogger "github.com/sop-forge/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting SOP Forge API Server")

	metrics.Init()

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, running without cache", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	var embedCache embedding.Cache
	if cache != nil {
		embedCache = cache
	}
	encoder := embedding.NewEncoder(
		cfg.Embedding.APIKey,
		cfg.Embedding.BaseURL,
		cfg.Embedding.Model,
		cfg.Embedding.BatchSize,
		cfg.Embedding.TimeoutSec,
		embedCache,
	)

	var index rag.SearchIndex
	if cfg.Milvus.Enabled {
		milvusIndex, err := milvus.NewIndex(cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus index", zap.Error(err))
		}
		defer milvusIndex.Close()
		index = milvusIndex
	} else {
		index = rag.NewMemoryIndex()
	}

	finder := rag.NewFinder(
		encoder,
		index,
		cfg.Retrieval.TopK,
		cfg.Retrieval.MinSimilarity,
		cfg.Retrieval.MinResolutionChars,
		cfg.Retrieval.MinDescriptionChars,
	)

	validator := validation.NewValidator(
		cfg.Validation.RequiredFields,
		cfg.Validation.MinDescriptionLength,
		cfg.Validation.MinResolutionLength,
	)
	clusterer := clustering.NewDensityClusterer(
		cfg.Clustering.MinClusterSize,
		cfg.Clustering.MinSamples,
		cfg.Clustering.SimilarityThreshold,
	)
	analyzer := clustering.NewAnalyzer(cfg.Clustering.TopKeywords)
	extractor := sop.NewExtractor(cfg.SOP.MaxSteps)
	generator := sop.NewGenerator(cfg.SOP.MinIncidents, cfg.SOP.OutputFormat, extractor)

	orchestrator := pipeline.NewOrchestrator(store, validator, encoder, clusterer, analyzer, generator, finder, cfg.SOP.OutputDir)

	// Warm the retrieval index from stored incidents so suggestions work
	// before the first pipeline run.
	go func() {
		incidents, err := store.ListIncidents("", 0)
		if err != nil {
			appLogger.Warn("Failed to load incidents for index warmup", zap.Error(err))
			return
		}
		if len(incidents) == 0 {
			return
		}
		if _, err := finder.Rebuild(context.Background(), incidents); err != nil {
			appLogger.Warn("Knowledge base warmup failed", zap.Error(err))
		}
	}()

	if cfg.ServiceNow.Instance != "" {
		snClient := servicenow.NewClient(
			cfg.ServiceNow.Instance,
			cfg.ServiceNow.Username,
			cfg.ServiceNow.Password,
			cfg.ServiceNow.PageSize,
		)
		go syncServiceNow(snClient, store, cfg.ServiceNow.DaysBack)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		RouteCost: map[string]int{
			"/sops/generate":   10,
			"/incidents/import": 5,
		},
		Logger: appLogger.GetLogger(),
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(limiter.Middleware())
	app.Use(reqvalidation.Middleware(reqvalidation.Config{
		MaxUploadSize: cfg.Server.BodyLimit,
		Logger:        appLogger.GetLogger(),
	}))

	incidentHandler := handlers.NewIncidentHandler(store, validator, ingestion.NewCSVImporter(), finder)
	sopHandler := handlers.NewSOPHandler(store, orchestrator, generator, cache)
	suggestHandler := handlers.NewSuggestHandler(finder, store, cache)
	wsHandler := handlers.NewWebSocketHandler(orchestrator)

	api := app.Group("/api/v1")

	api.Post("/incidents", incidentHandler.AddIncident)
	api.Get("/incidents", incidentHandler.ListIncidents)
	api.Post("/incidents/import", incidentHandler.ImportCSV)

	api.Post("/sops/generate", sopHandler.GenerateSOPs)
	api.Get("/sops", sopHandler.ListSOPs)
	api.Get("/sops/summary", sopHandler.GetSummary)
	api.Get("/quality-report", sopHandler.GetQualityReport)

	api.Post("/suggest", suggestHandler.Suggest)
	api.Post("/knowledge-base", suggestHandler.AddKnowledgeBase)

	api.Get("/ws/runs", websocket.New(wsHandler.HandleConnection))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// syncServiceNow pulls recent closed incidents at startup. Failures are
// logged and skipped; the API works from whatever is already stored.
func syncServiceNow(client *servicenow.Client, store *sqlite.Client, daysBack int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := client.TestConnection(ctx); err != nil {
		appLogger.Warn("ServiceNow sync skipped", zap.Error(err))
		return
	}

	incidents, err := client.FetchIncidents(ctx, "closed", daysBack, 0)
	if err != nil {
		appLogger.Warn("ServiceNow fetch failed", zap.Error(err))
		return
	}

	stored, err := store.InsertIncidents(incidents)
	if err != nil {
		appLogger.Warn("Failed to store ServiceNow incidents", zap.Error(err))
		return
	}

	appLogger.Info("ServiceNow sync complete",
		zap.Int("fetched", len(incidents)),
		zap.Int("stored", stored),
	)
}
