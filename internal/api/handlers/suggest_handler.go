package handlers

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/cache/redis"
	"github.com/sop-forge/backend/internal/metrics"
	"github.com/sop-forge/backend/internal/rag"
	"github.com/sop-forge/backend/internal/storage/models"
	"github.com/sop-forge/backend/internal/storage/sqlite"
	"github.com/sop-forge/backend/pkg/logger"
	"github.com/sop-forge/backend/pkg/utils"
)

const suggestionCacheTTL = time.Hour

type SuggestHandler struct {
	finder *rag.Finder
	store  *sqlite.Client
	cache  *redis.Client
}

func NewSuggestHandler(finder *rag.Finder, store *sqlite.Client, cache *redis.Client) *SuggestHandler {
	return &SuggestHandler{
		finder: finder,
		store:  store,
		cache:  cache,
	}
}

// Suggest answers "how was this solved before" against the knowledge base.
// A below-threshold result is an explicit not-found with a manual-entry
// hint, never a weak guess.
func (h *SuggestHandler) Suggest(c *fiber.Ctx) error {
	var req struct {
		Problem  string `json:"problem"`
		Category string `json:"category"`
		Symptoms string `json:"symptoms"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Problem == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Problem description is required",
		})
	}

	started := time.Now()
	queryHash := utils.HashString(req.Problem + "|" + req.Category + "|" + req.Symptoms)

	if h.cache != nil {
		var cached rag.Suggestion
		if hit, err := h.cache.GetSuggestion(c.Context(), queryHash, &cached); err == nil && hit {
			metrics.CacheHits.WithLabelValues("suggestion").Inc()
			return c.JSON(suggestResponse(&cached))
		}
		metrics.CacheMisses.WithLabelValues("suggestion").Inc()
	}

	suggestion, err := h.finder.Suggest(c.Context(), req.Problem, req.Category, req.Symptoms)
	if err != nil {
		logger.Error("Suggestion failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to find resolution suggestion",
		})
	}

	latency := time.Since(started)
	metrics.SuggestionDuration.Observe(latency.Seconds())
	metrics.SuggestionTotal.WithLabelValues(fmt.Sprintf("%t", suggestion.Found)).Inc()
	if suggestion.Found {
		metrics.SuggestionConfidence.Observe(suggestion.Confidence)
	}

	if h.cache != nil {
		if err := h.cache.SetSuggestion(c.Context(), queryHash, suggestion, suggestionCacheTTL); err != nil {
			logger.Warn("Failed to cache suggestion", zap.Error(err))
		}
	}

	h.recordSuggestion(req.Problem, req.Category, suggestion, latency)

	return c.JSON(suggestResponse(suggestion))
}

// AddKnowledgeBase stores a resolved incident and inserts it into the live
// retrieval index without a full rebuild.
func (h *SuggestHandler) AddKnowledgeBase(c *fiber.Ctx) error {
	var inc models.Incident
	if err := c.BodyParser(&inc); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if inc.Number == "" {
		inc.Number = utils.GenerateIncidentNumber()
	}
	if !h.finder.Eligible(inc) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Incident needs a substantial resolution or description to enter the knowledge base",
		})
	}

	inc.Source = "Knowledge Base"
	inc.ImportedAt = time.Now().UTC().Format(time.RFC3339)

	if err := h.store.InsertIncident(&inc); err != nil && err != sqlite.ErrDuplicateIncident {
		logger.Error("Failed to store knowledge base incident", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store incident",
		})
	}

	if err := h.finder.Add(c.Context(), inc); err != nil {
		logger.Error("Failed to index incident", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to index incident",
		})
	}

	if h.cache != nil {
		if err := h.cache.InvalidateSuggestions(c.Context()); err != nil {
			logger.Warn("Failed to invalidate suggestion cache", zap.Error(err))
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"number":  inc.Number,
		"indexed": true,
	})
}

func (h *SuggestHandler) recordSuggestion(problem, category string, s *rag.Suggestion, latency time.Duration) {
	rec := &models.SuggestionRecord{
		ID:          uuid.New().String(),
		ProblemText: problem,
		Category:    category,
		Found:       s.Found,
		Confidence:  s.Confidence,
		LatencyMS:   int(latency.Milliseconds()),
		CreatedAt:   time.Now().UTC(),
	}
	if s.PrimarySource != nil {
		rec.SourceIncident = s.PrimarySource.IncidentNumber
	}

	if err := h.store.InsertSuggestion(rec); err != nil {
		logger.Warn("Failed to record suggestion", zap.Error(err))
	}
}

func suggestResponse(s *rag.Suggestion) fiber.Map {
	if !s.Found {
		return fiber.Map{
			"success":              false,
			"message":              s.Message,
			"suggested_resolution": "No resolution suggestions available. Please enter resolution manually or add more historical data to knowledge base.",
		}
	}

	return fiber.Map{
		"success":              true,
		"suggested_resolution": s.SuggestedResolution,
		"confidence":           s.Confidence,
		"primary_source":       s.PrimarySource,
		"alternatives":         s.Alternatives,
	}
}
