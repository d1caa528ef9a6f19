package ingestion

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/storage/models"
	"github.com/sop-forge/backend/pkg/logger"
	"github.com/sop-forge/backend/pkg/utils"
)

// headerVariations maps canonical incident fields to the column names
// commonly seen in ticket exports. Matching is substring-based on the
// lower-cased header, so "Incident Number" hits "number".
var headerVariations = map[string][]string{
	"number":            {"ticket", "incident", "incident_number", "ticket_number", "id", "number"},
	"short_description": {"short_description", "summary", "title", "subject", "brief"},
	"description":       {"description", "details", "problem", "problem_statement"},
	"category":          {"category", "type", "incident_type", "classification"},
	"subcategory":       {"subcategory", "sub_category", "subtype"},
	"priority":          {"priority", "severity", "impact"},
	"resolution_notes":  {"resolution", "resolution_notes", "solution", "fix", "fix_description"},
	"assignment_group":  {"assignment_group", "assigned_group", "team"},
	"assigned_to":       {"assigned_to", "assignee", "owner"},
	"state":             {"status", "state", "incident_state"},
	"created_at":        {"created_date", "created_on", "date_created", "sys_created_on"},
	"resolved_at":       {"resolved_date", "resolved_at", "date_resolved"},
}

// fieldOrder fixes mapping precedence so a header matching several fields
// resolves deterministically. Longer, more specific fields come first.
var fieldOrder = []string{
	"short_description",
	"resolution_notes",
	"assignment_group",
	"assigned_to",
	"subcategory",
	"description",
	"created_at",
	"resolved_at",
	"category",
	"priority",
	"state",
	"number",
}

var importDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"2006-01-02",
}

// ImportSummary describes one CSV import run. Row problems are warnings,
// not failures; the batch always imports what it can.
type ImportSummary struct {
	TotalRows int      `json:"total_rows"`
	Imported  int      `json:"imported"`
	Skipped   int      `json:"skipped"`
	Warnings  []string `json:"warnings,omitempty"`
}

// CSVImporter turns ticket-export CSV files into canonical incidents.
type CSVImporter struct{}

func NewCSVImporter() *CSVImporter {
	return &CSVImporter{}
}

// Import reads the whole CSV, auto-detects the column mapping from the
// header row, and converts each row. Undecodable UTF-8 is retried as
// Latin-1, the usual encoding of older ticket-system exports.
func (im *CSVImporter) Import(r io.Reader) ([]models.Incident, *ImportSummary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv: %w", err)
	}

	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(data) {
		data = decodeLatin1(data)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("csv file is empty or has no headers: %w", err)
	}

	mapping := detectMapping(header)
	if len(mapping) == 0 {
		return nil, nil, fmt.Errorf("no recognizable incident columns in header: %v", header)
	}

	summary := &ImportSummary{}
	var incidents []models.Incident

	rowNumber := 1
	for {
		rowNumber++

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			summary.Skipped++
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("row %d: %v", rowNumber, err))
			continue
		}

		summary.TotalRows++
		incidents = append(incidents, rowToIncident(row, header, mapping, rowNumber))
		summary.Imported++
	}

	logger.Info("CSV import parsed",
		zap.Int("rows", summary.TotalRows),
		zap.Int("imported", summary.Imported),
		zap.Int("skipped", summary.Skipped),
	)

	return incidents, summary, nil
}

// detectMapping resolves each header column to a canonical field, first
// match in precedence order wins. Unrecognized columns are ignored.
func detectMapping(header []string) map[int]string {
	mapping := make(map[int]string)
	taken := make(map[string]bool)

	for i, column := range header {
		lower := strings.ToLower(strings.TrimSpace(column))
		if lower == "" {
			continue
		}

		for _, field := range fieldOrder {
			if taken[field] {
				continue
			}
			if matchesField(lower, headerVariations[field]) {
				mapping[i] = field
				taken[field] = true
				break
			}
		}
	}

	return mapping
}

func matchesField(header string, variations []string) bool {
	for _, v := range variations {
		if strings.Contains(header, v) {
			return true
		}
	}
	return false
}

func rowToIncident(row, header []string, mapping map[int]string, rowNumber int) models.Incident {
	var inc models.Incident

	for i, value := range row {
		field, ok := mapping[i]
		if !ok || i >= len(header) {
			continue
		}

		value = stripHTML(strings.TrimSpace(value))

		switch field {
		case "number":
			inc.Number = value
		case "short_description":
			inc.ShortDescription = value
		case "description":
			inc.Description = value
		case "category":
			inc.Category = value
		case "subcategory":
			inc.Subcategory = value
		case "priority":
			inc.Priority = value
		case "resolution_notes":
			inc.ResolutionNotes = value
		case "assignment_group":
			inc.AssignmentGroup = value
		case "assigned_to":
			inc.AssignedTo = value
		case "state":
			inc.State = value
		case "created_at":
			inc.CreatedAt = normalizeDate(value)
		case "resolved_at":
			inc.ResolvedAt = normalizeDate(value)
		}
	}

	if inc.Number == "" {
		inc.Number = utils.GenerateIncidentNumber()
	}
	if inc.ShortDescription == "" {
		if inc.Description != "" {
			inc.ShortDescription = excerpt(inc.Description, 100)
		} else {
			inc.ShortDescription = fmt.Sprintf("Imported Incident %d", rowNumber)
		}
	}

	inc.Source = "CSV Import"
	inc.ImportedAt = time.Now().UTC().Format(time.RFC3339)

	return inc
}

// stripHTML flattens markup that ticket systems embed in text exports.
// Plain text passes through untouched.
func stripHTML(value string) string {
	if !strings.ContainsAny(value, "<&") {
		return value
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(value))
	if err != nil {
		return value
	}
	return strings.TrimSpace(doc.Text())
}

// normalizeDate converts known date formats to RFC3339. Unparseable values
// pass through unchanged; downstream parsing excludes them at the point of
// use.
func normalizeDate(value string) string {
	if value == "" {
		return value
	}

	for _, layout := range importDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(time.RFC3339)
		}
	}
	return value
}

func decodeLatin1(data []byte) []byte {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		b.WriteRune(rune(c))
	}
	return []byte(b.String())
}

func excerpt(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
