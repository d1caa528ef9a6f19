package handlers

import (
	"bytes"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/ingestion"
	"github.com/sop-forge/backend/internal/rag"
	"github.com/sop-forge/backend/internal/storage/models"
	"github.com/sop-forge/backend/internal/storage/sqlite"
	"github.com/sop-forge/backend/internal/validation"
	"github.com/sop-forge/backend/pkg/logger"
	"github.com/sop-forge/backend/pkg/utils"
)

type IncidentHandler struct {
	store     *sqlite.Client
	validator *validation.Validator
	importer  *ingestion.CSVImporter
	finder    *rag.Finder
}

func NewIncidentHandler(store *sqlite.Client, validator *validation.Validator, importer *ingestion.CSVImporter, finder *rag.Finder) *IncidentHandler {
	return &IncidentHandler{
		store:     store,
		validator: validator,
		importer:  importer,
		finder:    finder,
	}
}

// AddIncident stores one incident. Validation diagnostics come back in the
// response but do not block storage; only a duplicate number is rejected.
func (h *IncidentHandler) AddIncident(c *fiber.Ctx) error {
	var inc models.Incident
	if err := c.BodyParser(&inc); err != nil {
		logger.Error("Failed to parse incident body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if inc.Number == "" {
		inc.Number = utils.GenerateIncidentNumber()
	}
	if inc.Source == "" {
		inc.Source = "API"
	}
	inc.ImportedAt = time.Now().UTC().Format(time.RFC3339)

	result := h.validator.ValidateIncident(inc)

	if err := h.store.InsertIncident(&inc); err != nil {
		if errors.Is(err, sqlite.ErrDuplicateIncident) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":  "Incident already exists",
				"number": inc.Number,
			})
		}
		logger.Error("Failed to store incident", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store incident",
		})
	}

	// Resolved incidents with enough substance become searchable right
	// away instead of waiting for the next full rebuild.
	if h.finder != nil && h.finder.Eligible(inc) {
		if err := h.finder.Add(c.Context(), inc); err != nil {
			logger.Warn("Failed to index incident for retrieval",
				zap.String("number", inc.Number),
				zap.Error(err),
			)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"number":            inc.Number,
		"is_valid":          result.IsValid,
		"validation_errors": result.Errors,
	})
}

// ListIncidents returns stored incidents, optionally filtered by category.
func (h *IncidentHandler) ListIncidents(c *fiber.Ctx) error {
	category := c.Query("category")
	limit := c.QueryInt("limit", 100)

	incidents, err := h.store.ListIncidents(category, limit)
	if err != nil {
		logger.Error("Failed to list incidents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list incidents",
		})
	}

	return c.JSON(fiber.Map{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// ImportCSV ingests a ticket-export CSV uploaded as multipart form data.
// Row problems are reported as warnings; duplicates already in storage are
// skipped.
func (h *IncidentHandler) ImportCSV(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "CSV file is required",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		logger.Error("Failed to open uploaded file", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to read uploaded file",
		})
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(file); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to read uploaded file",
		})
	}

	incidents, summary, err := h.importer.Import(&buf)
	if err != nil {
		logger.Error("CSV import failed", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	stored, err := h.store.InsertIncidents(incidents)
	if err != nil {
		logger.Error("Failed to store imported incidents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store imported incidents",
		})
	}

	return c.JSON(fiber.Map{
		"total_rows": summary.TotalRows,
		"imported":   summary.Imported,
		"stored":     stored,
		"duplicates": summary.Imported - stored,
		"skipped":    summary.Skipped,
		"warnings":   summary.Warnings,
	})
}
