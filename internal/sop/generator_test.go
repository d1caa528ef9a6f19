package sop

import (
	"strings"
	"testing"

	"github.com/sop-forge/backend/internal/clustering"
	"github.com/sop-forge/backend/internal/storage/models"
)

func testAnalysis() *clustering.Analysis {
	return &clustering.Analysis{
		ClusterID:     3,
		IncidentCount: 3,
		CommonCategories: []clustering.CategoryCount{
			{Category: "Network", Count: 2},
			{Category: "Hardware", Count: 1},
		},
		PriorityDistribution: map[string]int{"2 - High": 2, "3 - Moderate": 1},
		AvgResolutionHours:   4.5,
		Representative:       "INC2",
	}
}

func testIncidents() []models.Incident {
	return []models.Incident{
		{
			Number:           "INC1",
			ShortDescription: "VPN connection drops",
			Description:      "User reports VPN drops every few minutes",
			ResolutionNotes:  "Restarted the VPN service. Verified stable connection.",
			Category:         "Network",
		},
		{
			Number:           "INC2",
			ShortDescription: "VPN disconnects frequently",
			Description:      "Remote user cannot keep VPN session alive",
			ResolutionNotes:  "Restarted the VPN service. Updated client software.",
			Category:         "Network",
		},
		{
			Number:           "INC3",
			ShortDescription: "VPN connection drops",
			ResolutionNotes:  "Restarted the VPN service.",
			Category:         "Hardware",
		},
	}
}

func TestGenerateBelowMinimum(t *testing.T) {
	g := NewGenerator(5, "markdown", NewExtractor(20))

	if doc := g.Generate(testAnalysis(), testIncidents()); doc != nil {
		t.Errorf("expected nil for cluster below minimum, got %+v", doc)
	}
}

func TestGenerateDocument(t *testing.T) {
	g := NewGenerator(3, "markdown", NewExtractor(20))

	doc := g.Generate(testAnalysis(), testIncidents())
	if doc == nil {
		t.Fatal("expected a document")
	}

	if doc.ID() != "SOP-0003" {
		t.Errorf("got id %s, want SOP-0003", doc.ID())
	}
	if doc.Category != "Network" {
		t.Errorf("got category %s, want Network", doc.Category)
	}
	if doc.Representative != "INC2" {
		t.Errorf("got representative %s, want INC2", doc.Representative)
	}
	if len(doc.Steps) == 0 {
		t.Fatal("expected resolution steps")
	}
	if doc.Steps[0] != "Restart the VPN service." {
		t.Errorf("got first step %q", doc.Steps[0])
	}

	for _, section := range []string{
		"# Standard Operating Procedure",
		"## SOP Information",
		"**SOP ID**: SOP-0003",
		"## Problem Statement",
		"## Symptoms",
		"## Prerequisites",
		"## Resolution Steps",
		"### Step 1",
		"## Verification",
		"## Related Incidents",
		"**Representative Incident**: INC2",
		"## Priority Distribution",
		"## Notes",
	} {
		if !strings.Contains(doc.Content, section) {
			t.Errorf("content missing %q", section)
		}
	}

	// Distinct problems only; INC1 and INC3 share a short description.
	if strings.Count(doc.Content, "VPN connection drops") != 1 {
		t.Errorf("duplicate problem listed:\n%s", doc.Content)
	}
}

func TestGenerateRecordRoundTrip(t *testing.T) {
	g := NewGenerator(3, "markdown", NewExtractor(20))

	doc := g.Generate(testAnalysis(), testIncidents())
	rec := doc.Record()

	if rec.ID != "SOP-0003" || rec.ClusterID != 3 {
		t.Errorf("record identity wrong: %+v", rec)
	}
	if rec.Content != doc.Content {
		t.Error("record content differs from document")
	}
	if rec.Format != "markdown" {
		t.Errorf("got format %s", rec.Format)
	}
}

func TestGenerateSummaryReport(t *testing.T) {
	g := NewGenerator(3, "markdown", NewExtractor(20))

	report := g.GenerateSummaryReport([]models.SOPRecord{
		{ID: "SOP-0001", Category: "Network", IncidentCount: 6, AvgResolutionHrs: 2},
		{ID: "SOP-0002", Category: "Network", IncidentCount: 4, AvgResolutionHrs: 8},
		{ID: "SOP-0003", Category: "Email", IncidentCount: 5, AvgResolutionHrs: 1},
	})

	for _, want := range []string{
		"**Total SOPs Created**: 3",
		"- Total incidents analyzed: 15",
		"- Average incidents per SOP: 5.0",
		"- Network: 2 SOPs",
		"- Email: 1 SOPs",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q", want)
		}
	}
}
