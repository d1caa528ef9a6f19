package validation

import (
	"testing"

	"github.com/sop-forge/backend/internal/storage/models"
)

func goodIncident() models.Incident {
	return models.Incident{
		Number:           "INC0001",
		ShortDescription: "Email not syncing on mobile",
		Description:      "User reports email stopped syncing on their phone yesterday",
		ResolutionNotes:  "Removed and re-added the mail account. Verified sync works.",
		Category:         "Email",
	}
}

func errorTypes(errs []models.ValidationError) map[string]bool {
	types := make(map[string]bool)
	for _, e := range errs {
		types[e.Type] = true
	}
	return types
}

func TestValidateIncident(t *testing.T) {
	v := NewValidator([]string{"number", "short_description"}, 20, 30)

	tests := []struct {
		name     string
		mutate   func(*models.Incident)
		wantType string
		severity string
	}{
		{
			name:     "missing number",
			mutate:   func(inc *models.Incident) { inc.Number = "" },
			wantType: "missing_fields",
			severity: "critical",
		},
		{
			name:     "short description text",
			mutate:   func(inc *models.Incident) { inc.Description = "broken" },
			wantType: "insufficient_description",
			severity: "high",
		},
		{
			name: "short resolution",
			mutate: func(inc *models.Incident) {
				inc.ResolutionNotes = "fixed"
				inc.CloseNotes = ""
			},
			wantType: "insufficient_resolution",
			severity: "high",
		},
		{
			name:     "placeholder content",
			mutate:   func(inc *models.Incident) { inc.Description = "Lorem ipsum dolor sit amet and more" },
			wantType: "placeholder_content",
			severity: "medium",
		},
		{
			name:     "invalid category",
			mutate:   func(inc *models.Incident) { inc.Category = "Unknown" },
			wantType: "invalid_category",
			severity: "medium",
		},
		{
			name:     "empty category",
			mutate:   func(inc *models.Incident) { inc.Category = "  " },
			wantType: "invalid_category",
			severity: "medium",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inc := goodIncident()
			tt.mutate(&inc)

			result := v.ValidateIncident(inc)
			if result.IsValid {
				t.Fatal("expected invalid result")
			}
			if !errorTypes(result.Errors)[tt.wantType] {
				t.Errorf("missing error type %s in %+v", tt.wantType, result.Errors)
			}
			for _, e := range result.Errors {
				if e.Type == tt.wantType && e.Severity != tt.severity {
					t.Errorf("got severity %s, want %s", e.Severity, tt.severity)
				}
			}
		})
	}
}

func TestValidateIncidentClean(t *testing.T) {
	v := NewValidator([]string{"number", "short_description"}, 20, 30)

	result := v.ValidateIncident(goodIncident())
	if !result.IsValid {
		t.Errorf("expected valid, got errors %+v", result.Errors)
	}
	if result.IncidentNumber != "INC0001" {
		t.Errorf("got number %s", result.IncidentNumber)
	}
}

func TestValidateIncidentCloseNotesFallback(t *testing.T) {
	v := NewValidator(nil, 20, 30)

	inc := goodIncident()
	inc.ResolutionNotes = ""
	inc.CloseNotes = "Re-added the mail account and confirmed sync restored."

	result := v.ValidateIncident(inc)
	if errorTypes(result.Errors)["insufficient_resolution"] {
		t.Errorf("close notes should satisfy the resolution check: %+v", result.Errors)
	}
}

func TestValidateIncidentsPartition(t *testing.T) {
	v := NewValidator([]string{"number", "short_description"}, 20, 30)

	bad := goodIncident()
	bad.Number = ""

	valid, invalid := v.ValidateIncidents([]models.Incident{goodIncident(), bad})

	if len(valid) != 1 || len(invalid) != 1 {
		t.Fatalf("got %d valid, %d invalid", len(valid), len(invalid))
	}
	if len(invalid[0].ValidationErrors) == 0 {
		t.Error("invalid incident lost its diagnostics")
	}
}

func TestDetectDuplicates(t *testing.T) {
	incidents := []models.Incident{
		{Number: "INC1", ShortDescription: "Printer offline"},
		{Number: "INC2", ShortDescription: "printer offline  "},
		{Number: "INC3", ShortDescription: "VPN down"},
		{Number: "INC4", ShortDescription: ""},
	}

	groups := DetectDuplicates(incidents)

	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if len(groups[0]) != 2 || groups[0][0].Number != "INC1" {
		t.Errorf("unexpected group: %+v", groups[0])
	}
}

func TestGenerateQualityReport(t *testing.T) {
	invalid := []models.Incident{
		{ValidationErrors: []models.ValidationError{{Type: "missing_fields"}}},
		{ValidationErrors: []models.ValidationError{{Type: "missing_fields"}, {Type: "invalid_category"}}},
	}
	valid := []models.Incident{{}, {}, {}, {}, {}, {}}

	report := GenerateQualityReport(valid, invalid)

	if report.TotalIncidents != 8 {
		t.Errorf("got total %d, want 8", report.TotalIncidents)
	}
	if report.QualityScore != 75.0 {
		t.Errorf("got score %f, want 75.0", report.QualityScore)
	}
	if report.ErrorSummary["missing_fields"] != 2 {
		t.Errorf("error summary wrong: %v", report.ErrorSummary)
	}
}

func TestGenerateQualityReportEmpty(t *testing.T) {
	report := GenerateQualityReport(nil, nil)

	if report.QualityScore != 0 {
		t.Errorf("got score %f, want 0", report.QualityScore)
	}
}
