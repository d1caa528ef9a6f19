package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/cache/redis"
	"github.com/sop-forge/backend/internal/pipeline"
	"github.com/sop-forge/backend/internal/sop"
	"github.com/sop-forge/backend/internal/storage/sqlite"
	"github.com/sop-forge/backend/pkg/logger"
)

type SOPHandler struct {
	store        *sqlite.Client
	orchestrator *pipeline.Orchestrator
	generator    *sop.Generator
	cache        *redis.Client
}

func NewSOPHandler(store *sqlite.Client, orchestrator *pipeline.Orchestrator, generator *sop.Generator, cache *redis.Client) *SOPHandler {
	return &SOPHandler{
		store:        store,
		orchestrator: orchestrator,
		generator:    generator,
		cache:        cache,
	}
}

// GenerateSOPs runs the full pipeline over stored incidents. Synchronous;
// progress streams over the websocket endpoint for callers who want it.
func (h *SOPHandler) GenerateSOPs(c *fiber.Ctx) error {
	var req struct {
		Category string `json:"category"`
		Limit    int    `json:"limit"`
	}
	// Body is optional; an empty POST runs over everything.
	_ = c.BodyParser(&req)

	if req.Limit <= 0 {
		req.Limit = 0
	}

	incidents, err := h.store.ListIncidents(req.Category, req.Limit)
	if err != nil {
		logger.Error("Failed to load incidents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load incidents",
		})
	}

	if len(incidents) == 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "No incidents available for SOP generation",
		})
	}

	report, err := h.orchestrator.Run(c.Context(), incidents)
	if err != nil {
		logger.Error("Pipeline run failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "SOP generation failed",
		})
	}

	// Suggestions computed against the old index are stale now.
	if h.cache != nil {
		if err := h.cache.InvalidateSuggestions(c.Context()); err != nil {
			logger.Warn("Failed to invalidate suggestion cache", zap.Error(err))
		}
	}

	return c.JSON(report)
}

func (h *SOPHandler) ListSOPs(c *fiber.Ctx) error {
	sops, err := h.store.ListSOPs()
	if err != nil {
		logger.Error("Failed to list SOPs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list SOPs",
		})
	}

	return c.JSON(fiber.Map{
		"sops":  sops,
		"count": len(sops),
	})
}

// GetSummary renders the markdown overview of all generated SOPs.
func (h *SOPHandler) GetSummary(c *fiber.Ctx) error {
	sops, err := h.store.ListSOPs()
	if err != nil {
		logger.Error("Failed to list SOPs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build summary",
		})
	}

	return c.JSON(fiber.Map{
		"total_sops": len(sops),
		"report":     h.generator.GenerateSummaryReport(sops),
	})
}

// GetQualityReport returns the most recent data-quality report.
func (h *SOPHandler) GetQualityReport(c *fiber.Ctx) error {
	report, err := h.store.LatestQualityReport()
	if err != nil {
		logger.Error("Failed to load quality report", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load quality report",
		})
	}
	if report == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No quality report available yet",
		})
	}

	return c.JSON(report)
}
