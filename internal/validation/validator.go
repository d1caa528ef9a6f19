package validation

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/storage/models"
	"github.com/sop-forge/backend/pkg/logger"
)

// placeholderMarkers and invalidCategories are data tables, not control
// flow, so the heuristics can be tuned without touching the checks.
var placeholderMarkers = []string{
	"lorem ipsum",
	"test test",
	"placeholder",
	"sample text",
	"tbd",
	"to be determined",
	"xxx",
	"n/a",
}

var invalidCategories = map[string]struct{}{
	"none":    {},
	"other":   {},
	"unknown": {},
	"n/a":     {},
	"tbd":     {},
}

type Validator struct {
	requiredFields       []string
	minDescriptionLength int
	minResolutionLength  int
}

type Result struct {
	IsValid        bool
	Errors         []models.ValidationError
	IncidentNumber string
}

func NewValidator(requiredFields []string, minDescriptionLength, minResolutionLength int) *Validator {
	return &Validator{
		requiredFields:       requiredFields,
		minDescriptionLength: minDescriptionLength,
		minResolutionLength:  minResolutionLength,
	}
}

// ValidateIncidents partitions a batch into valid and invalid sets. Invalid
// incidents carry their error list for diagnostics; nothing aborts the batch.
func (v *Validator) ValidateIncidents(incidents []models.Incident) ([]models.Incident, []models.Incident) {
	logger.Info("Validating incidents", zap.Int("count", len(incidents)))

	valid := make([]models.Incident, 0, len(incidents))
	invalid := make([]models.Incident, 0)

	for _, inc := range incidents {
		result := v.ValidateIncident(inc)
		if result.IsValid {
			valid = append(valid, inc)
		} else {
			inc.ValidationErrors = result.Errors
			invalid = append(invalid, inc)
		}
	}

	logger.Info("Validation complete",
		zap.Int("valid", len(valid)),
		zap.Int("invalid", len(invalid)),
	)

	return valid, invalid
}

// ValidateIncident is a pure function of the incident and the validator
// configuration. A record is valid iff it produces zero errors.
func (v *Validator) ValidateIncident(inc models.Incident) Result {
	var errors []models.ValidationError

	if missing := v.missingRequiredFields(inc); len(missing) > 0 {
		errors = append(errors, models.ValidationError{
			Type:     "missing_fields",
			Fields:   missing,
			Severity: "critical",
		})
	}

	description := strings.TrimSpace(inc.Description)
	if len(description) < v.minDescriptionLength {
		errors = append(errors, models.ValidationError{
			Type:     "insufficient_description",
			Message:  fmt.Sprintf("Description too short (%d chars)", len(description)),
			Severity: "high",
		})
	}

	resolution := strings.TrimSpace(inc.Resolution())
	if len(resolution) < v.minResolutionLength {
		errors = append(errors, models.ValidationError{
			Type:     "insufficient_resolution",
			Message:  fmt.Sprintf("Resolution notes too short (%d chars)", len(resolution)),
			Severity: "high",
		})
	}

	if hasPlaceholderContent(inc) {
		errors = append(errors, models.ValidationError{
			Type:     "placeholder_content",
			Message:  "Contains placeholder or template content",
			Severity: "medium",
		})
	}

	if !hasValidCategory(inc) {
		errors = append(errors, models.ValidationError{
			Type:     "invalid_category",
			Message:  "Missing or invalid category information",
			Severity: "medium",
		})
	}

	number := inc.Number
	if number == "" {
		number = "UNKNOWN"
	}

	return Result{
		IsValid:        len(errors) == 0,
		Errors:         errors,
		IncidentNumber: number,
	}
}

func (v *Validator) missingRequiredFields(inc models.Incident) []string {
	var missing []string
	for _, field := range v.requiredFields {
		if strings.TrimSpace(fieldValue(inc, field)) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

func fieldValue(inc models.Incident, field string) string {
	switch field {
	case "number":
		return inc.Number
	case "short_description":
		return inc.ShortDescription
	case "description":
		return inc.Description
	case "resolution_notes":
		return inc.Resolution()
	case "category":
		return inc.Category
	case "priority":
		return inc.Priority
	case "state":
		return inc.State
	case "assignment_group":
		return inc.AssignmentGroup
	case "assigned_to":
		return inc.AssignedTo
	default:
		return ""
	}
}

func hasPlaceholderContent(inc models.Incident) bool {
	textFields := []string{
		inc.Description,
		inc.ShortDescription,
		inc.ResolutionNotes,
		inc.CloseNotes,
	}

	for _, content := range textFields {
		lower := strings.ToLower(content)
		for _, marker := range placeholderMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}

	return false
}

func hasValidCategory(inc models.Incident) bool {
	category := strings.TrimSpace(inc.Category)
	if category == "" {
		return false
	}
	_, bad := invalidCategories[strings.ToLower(category)]
	return !bad
}

// DetectDuplicates groups incidents sharing a normalized short description.
// Diagnostic only: duplicates still flow through clustering, where repeated
// issues legitimately reinforce a cluster's weight.
func DetectDuplicates(incidents []models.Incident) [][]models.Incident {
	seen := make(map[string][]models.Incident)
	order := make([]string, 0)

	for _, inc := range incidents {
		key := strings.ToLower(strings.TrimSpace(inc.ShortDescription))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; !ok {
			order = append(order, key)
		}
		seen[key] = append(seen[key], inc)
	}

	var groups [][]models.Incident
	for _, key := range order {
		if len(seen[key]) > 1 {
			groups = append(groups, seen[key])
		}
	}

	logger.Info("Duplicate detection complete", zap.Int("groups", len(groups)))
	return groups
}

// GenerateQualityReport summarizes a validation pass. The score is advisory
// and never blocks processing.
func GenerateQualityReport(valid, invalid []models.Incident) *models.QualityReport {
	total := len(valid) + len(invalid)

	errorSummary := make(map[string]int)
	for _, inc := range invalid {
		for _, e := range inc.ValidationErrors {
			errorSummary[e.Type]++
		}
	}

	score := 0.0
	if total > 0 {
		score = float64(len(valid)) / float64(total) * 100
	}

	return &models.QualityReport{
		TotalIncidents:   total,
		ValidIncidents:   len(valid),
		InvalidIncidents: len(invalid),
		QualityScore:     score,
		ErrorSummary:     errorSummary,
		Timestamp:        time.Now(),
	}
}
