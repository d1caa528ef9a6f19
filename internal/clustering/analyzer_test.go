package clustering

import (
	"math"
	"testing"

	"github.com/sop-forge/backend/internal/storage/models"
)

func TestAnalyzeDistributions(t *testing.T) {
	incidents := []models.Incident{
		{Number: "INC1", Category: "Network", Priority: "2 - High"},
		{Number: "INC2", Category: "Network", Priority: "2 - High"},
		{Number: "INC3", Category: "Email", Priority: ""},
	}
	vectors := [][]float32{
		unit(1, 0, 0),
		unit(1, 0.01, 0),
		unit(1, 0.02, 0),
	}

	a := NewAnalyzer(10)
	analysis := a.Analyze(7, incidents, vectors)

	if analysis.ClusterID != 7 {
		t.Errorf("got cluster id %d, want 7", analysis.ClusterID)
	}
	if analysis.IncidentCount != 3 {
		t.Errorf("got incident count %d, want 3", analysis.IncidentCount)
	}

	if len(analysis.CommonCategories) != 2 {
		t.Fatalf("got %d categories, want 2", len(analysis.CommonCategories))
	}
	if analysis.CommonCategories[0].Category != "Network" || analysis.CommonCategories[0].Count != 2 {
		t.Errorf("top category wrong: %+v", analysis.CommonCategories[0])
	}

	if analysis.PriorityDistribution["2 - High"] != 2 {
		t.Errorf("priority distribution wrong: %v", analysis.PriorityDistribution)
	}
	if analysis.PriorityDistribution["Unknown"] != 1 {
		t.Errorf("empty priority not mapped to Unknown: %v", analysis.PriorityDistribution)
	}
}

func TestAnalyzeRepresentativeIsClusterMember(t *testing.T) {
	incidents := []models.Incident{
		{Number: "INC1"},
		{Number: "INC2"},
		{Number: "INC3"},
	}
	// INC2 sits between the others, closest to the centroid.
	vectors := [][]float32{
		unit(1, 0, 0),
		unit(1, 0.1, 0),
		unit(1, 0.2, 0),
	}

	a := NewAnalyzer(10)
	analysis := a.Analyze(0, incidents, vectors)

	if analysis.Representative != "INC2" {
		t.Errorf("got representative %s, want INC2", analysis.Representative)
	}
}

func TestAnalyzeRepresentativeFallback(t *testing.T) {
	incidents := []models.Incident{{Number: "INC9"}}

	a := NewAnalyzer(10)
	analysis := a.Analyze(0, incidents, nil)

	if analysis.Representative != "INC9" {
		t.Errorf("got representative %s, want INC9", analysis.Representative)
	}
}

func TestAvgResolutionHoursSkipsBadTimestamps(t *testing.T) {
	incidents := []models.Incident{
		{CreatedAt: "2024-01-01T00:00:00Z", ResolvedAt: "2024-01-01T04:00:00Z"},
		{CreatedAt: "2024-01-01T00:00:00Z", ResolvedAt: "2024-01-01T08:00:00Z"},
		{CreatedAt: "not a date", ResolvedAt: "2024-01-01T08:00:00Z"},
		{CreatedAt: "", ResolvedAt: ""},
	}

	got := avgResolutionHours(incidents)
	if math.Abs(got-6.0) > 1e-9 {
		t.Errorf("got %f hours, want 6.0", got)
	}
}

func TestAvgResolutionHoursAllUnparseable(t *testing.T) {
	incidents := []models.Incident{
		{CreatedAt: "yesterday", ResolvedAt: "today"},
	}

	if got := avgResolutionHours(incidents); got != 0 {
		t.Errorf("got %f, want 0", got)
	}
}

func TestExtractKeywords(t *testing.T) {
	a := NewAnalyzer(3)

	texts := []string{
		"Restarted the print spooler service on the server",
		"Print spooler service was stuck, restarted spooler",
	}

	keywords := a.extractKeywords(texts)

	if len(keywords) > 3 {
		t.Fatalf("got %d keywords, want at most 3", len(keywords))
	}

	found := false
	for _, kw := range keywords {
		if kw == "spooler" {
			found = true
		}
		if len(kw) < minKeywordLength {
			t.Errorf("keyword %q below length floor", kw)
		}
	}
	if !found {
		t.Errorf("expected spooler in keywords, got %v", keywords)
	}
}
