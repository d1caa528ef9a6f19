package sop

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/clustering"
	"github.com/sop-forge/backend/internal/storage/models"
	"github.com/sop-forge/backend/pkg/logger"
)

const (
	maxProblems         = 5
	maxSymptoms         = 5
	maxRelatedIncidents = 10
	symptomExcerptLen   = 200
)

// Document is a fully assembled procedure for one cluster, ready to persist
// or render.
type Document struct {
	ClusterID          int
	Category           string
	IncidentCount      int
	AvgResolutionHours float64
	Representative     string
	Steps              []string
	Content            string
	Format             string
	GeneratedAt        time.Time
}

// Generator assembles SOP documents from analyzed clusters.
type Generator struct {
	minIncidents int
	format       string
	extractor    *Extractor
}

func NewGenerator(minIncidents int, format string, extractor *Extractor) *Generator {
	if minIncidents <= 0 {
		minIncidents = 3
	}
	if format == "" {
		format = "markdown"
	}
	return &Generator{
		minIncidents: minIncidents,
		format:       format,
		extractor:    extractor,
	}
}

// Generate builds the SOP for one cluster, or returns nil when the cluster
// is below the evidence floor. Only markdown is rendered today; unknown
// formats fall back to markdown rather than failing the run.
func (g *Generator) Generate(analysis *clustering.Analysis, incidents []models.Incident) *Document {
	if len(incidents) < g.minIncidents {
		logger.Warn("Cluster below SOP minimum, skipping",
			zap.Int("cluster_id", analysis.ClusterID),
			zap.Int("incidents", len(incidents)),
			zap.Int("min_required", g.minIncidents),
		)
		return nil
	}

	logger.Info("Generating SOP", zap.Int("cluster_id", analysis.ClusterID))

	problems := distinctLimited(incidents, maxProblems, func(inc models.Incident) string {
		return inc.ShortDescription
	})
	symptoms := distinctLimited(incidents, maxSymptoms, func(inc models.Incident) string {
		return excerpt(inc.Description, symptomExcerptLen)
	})

	var resolutions []string
	for _, inc := range incidents {
		if res := inc.Resolution(); res != "" {
			resolutions = append(resolutions, res)
		}
	}
	steps := g.extractor.ExtractSteps(resolutions)

	category := "General"
	if len(analysis.CommonCategories) > 0 {
		category = analysis.CommonCategories[0].Category
	}

	related := make([]string, 0, maxRelatedIncidents)
	for _, inc := range incidents {
		if len(related) == maxRelatedIncidents {
			break
		}
		related = append(related, inc.Number)
	}

	doc := &Document{
		ClusterID:          analysis.ClusterID,
		Category:           category,
		IncidentCount:      len(incidents),
		AvgResolutionHours: analysis.AvgResolutionHours,
		Representative:     analysis.Representative,
		Steps:              steps,
		Format:             "markdown",
		GeneratedAt:        time.Now().UTC(),
	}
	doc.Content = renderMarkdown(doc, problems, symptoms, analysis.PriorityDistribution, related)

	return doc
}

// ID returns the stable document identifier, derived from the cluster id.
func (d *Document) ID() string {
	return fmt.Sprintf("SOP-%04d", d.ClusterID)
}

// Record converts the document to its persisted form.
func (d *Document) Record() models.SOPRecord {
	return models.SOPRecord{
		ID:                d.ID(),
		ClusterID:         d.ClusterID,
		Category:          d.Category,
		IncidentCount:     d.IncidentCount,
		AvgResolutionHrs:  d.AvgResolutionHours,
		RepresentativeInc: d.Representative,
		Content:           d.Content,
		Format:            d.Format,
		GeneratedAt:       d.GeneratedAt,
	}
}

func renderMarkdown(doc *Document, problems, symptoms []string, priorities map[string]int, related []string) string {
	timestamp := doc.GeneratedAt.Format("2006-01-02 15:04:05")

	var b strings.Builder

	b.WriteString("# Standard Operating Procedure\n\n")
	b.WriteString("## SOP Information\n")
	fmt.Fprintf(&b, "- **SOP ID**: %s\n", doc.ID())
	fmt.Fprintf(&b, "- **Category**: %s\n", doc.Category)
	fmt.Fprintf(&b, "- **Based on**: %d incidents\n", doc.IncidentCount)
	fmt.Fprintf(&b, "- **Generated**: %s\n", timestamp)
	fmt.Fprintf(&b, "- **Average Resolution Time**: %.1f hours\n", doc.AvgResolutionHours)

	b.WriteString("\n---\n\n## Overview\n\n")
	fmt.Fprintf(&b,
		"This SOP provides step-by-step instructions for resolving incidents related to **%s**. "+
			"This procedure has been created by analyzing %d similar incidents.\n",
		doc.Category, doc.IncidentCount)

	b.WriteString("\n---\n\n## Problem Statement\n\nCommon problems addressed by this SOP:\n\n")
	for i, problem := range problems {
		fmt.Fprintf(&b, "%d. %s\n", i+1, problem)
	}

	b.WriteString("\n---\n\n## Symptoms\n\nUsers may experience the following symptoms:\n\n")
	for i, symptom := range symptoms {
		fmt.Fprintf(&b, "%d. %s...\n", i+1, symptom)
	}

	b.WriteString("\n---\n\n## Prerequisites\n\n")
	b.WriteString("- Access to relevant systems\n")
	b.WriteString("- Appropriate permissions\n")
	b.WriteString("- User information and affected systems identified\n")

	b.WriteString("\n---\n\n## Resolution Steps\n\n")
	if len(doc.Steps) > 0 {
		for i, step := range doc.Steps {
			fmt.Fprintf(&b, "### Step %d\n\n%s\n\n", i+1, step)
		}
	} else {
		b.WriteString("_No structured steps available. Please refer to related incidents below._\n\n")
	}

	b.WriteString("---\n\n## Verification\n\nAfter completing the resolution steps:\n\n")
	b.WriteString("1. Verify the issue is resolved with the user\n")
	b.WriteString("2. Confirm all systems are functioning normally\n")
	b.WriteString("3. Document the resolution in the incident ticket\n")
	b.WriteString("4. Close the incident\n")

	b.WriteString("\n---\n\n## Related Incidents\n\nThis SOP is based on the following incidents:\n\n")
	for _, number := range related {
		fmt.Fprintf(&b, "- %s\n", number)
	}
	fmt.Fprintf(&b, "\n**Representative Incident**: %s\n", doc.Representative)

	b.WriteString("\n---\n\n## Priority Distribution\n\n")
	for _, priority := range sortedKeys(priorities) {
		fmt.Fprintf(&b, "- Priority %s: %d incidents\n", priority, priorities[priority])
	}

	b.WriteString("\n---\n\n## Notes\n\n")
	b.WriteString("- This SOP was automatically generated from incident analysis\n")
	b.WriteString("- Review and customize based on your environment\n")
	b.WriteString("- Update as new information becomes available\n")
	fmt.Fprintf(&b, "- Last updated: %s\n", timestamp)

	return b.String()
}

// GenerateSummaryReport renders a markdown overview of all generated SOPs.
func (g *Generator) GenerateSummaryReport(sops []models.SOPRecord) string {
	timestamp := time.Now().UTC().Format("2006-01-02 15:04:05")

	var b strings.Builder

	b.WriteString("# SOP Generation Summary Report\n\n")
	fmt.Fprintf(&b, "**Generated**: %s\n", timestamp)
	fmt.Fprintf(&b, "**Total SOPs Created**: %d\n", len(sops))
	b.WriteString("\n---\n\n## SOPs Overview\n\n")

	for i, sop := range sops {
		fmt.Fprintf(&b, "### %d. %s\n", i+1, sop.ID)
		fmt.Fprintf(&b, "- **Category**: %s\n", sop.Category)
		fmt.Fprintf(&b, "- **Incidents Analyzed**: %d\n", sop.IncidentCount)
		fmt.Fprintf(&b, "- **Avg Resolution Time**: %.1f hours\n", sop.AvgResolutionHrs)
		fmt.Fprintf(&b, "- **File**: `%s.md`\n\n", sop.ID)
	}

	b.WriteString("---\n\n## Statistics\n\n")

	totalIncidents := 0
	categories := make(map[string]int)
	for _, sop := range sops {
		totalIncidents += sop.IncidentCount
		categories[sop.Category]++
	}

	avgPerSOP := 0.0
	if len(sops) > 0 {
		avgPerSOP = float64(totalIncidents) / float64(len(sops))
	}

	fmt.Fprintf(&b, "- Total incidents analyzed: %d\n", totalIncidents)
	fmt.Fprintf(&b, "- Average incidents per SOP: %.1f\n", avgPerSOP)

	b.WriteString("\n### SOPs by Category\n\n")

	type catCount struct {
		category string
		count    int
	}
	ranked := make([]catCount, 0, len(categories))
	for cat, n := range categories {
		ranked = append(ranked, catCount{cat, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].category < ranked[j].category
	})
	for _, cc := range ranked {
		fmt.Fprintf(&b, "- %s: %d SOPs\n", cc.category, cc.count)
	}

	return b.String()
}

// distinctLimited collects up to limit distinct non-empty values in input
// order.
func distinctLimited(incidents []models.Incident, limit int, extract func(models.Incident) string) []string {
	seen := make(map[string]struct{})
	var out []string

	for _, inc := range incidents {
		if len(out) == limit {
			break
		}
		value := extract(inc)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}

	return out
}

func excerpt(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
