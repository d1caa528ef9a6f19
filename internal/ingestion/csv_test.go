package ingestion

import (
	"strings"
	"testing"
)

func TestImportDetectsHeaderVariants(t *testing.T) {
	csvData := "Incident Number,Summary,Details,Type,Severity,Fix Description,Status,sys_created_on\n" +
		"INC100,Printer offline,Printer shows offline for the whole floor,Hardware,2 - High,Power cycled the printer,Closed,2024-01-02 10:00:00\n"

	incidents, summary, err := NewCSVImporter().Import(strings.NewReader(csvData))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Imported != 1 || summary.TotalRows != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	inc := incidents[0]
	if inc.Number != "INC100" {
		t.Errorf("got number %q", inc.Number)
	}
	if inc.ShortDescription != "Printer offline" {
		t.Errorf("got short description %q", inc.ShortDescription)
	}
	if inc.Description != "Printer shows offline for the whole floor" {
		t.Errorf("got description %q", inc.Description)
	}
	if inc.Category != "Hardware" {
		t.Errorf("got category %q", inc.Category)
	}
	if inc.Priority != "2 - High" {
		t.Errorf("got priority %q", inc.Priority)
	}
	if inc.ResolutionNotes != "Power cycled the printer" {
		t.Errorf("got resolution %q", inc.ResolutionNotes)
	}
	if inc.State != "Closed" {
		t.Errorf("got state %q", inc.State)
	}
	if inc.CreatedAt != "2024-01-02T10:00:00Z" {
		t.Errorf("date not normalized: %q", inc.CreatedAt)
	}
	if inc.Source != "CSV Import" {
		t.Errorf("got source %q", inc.Source)
	}
	if inc.ImportedAt == "" {
		t.Error("imported_at not set")
	}
}

func TestImportStripsBOM(t *testing.T) {
	csvData := "\xEF\xBB\xBFnumber,description\nINC1,The VPN is down for remote staff\n"

	incidents, _, err := NewCSVImporter().Import(strings.NewReader(csvData))
	if err != nil {
		t.Fatal(err)
	}
	if incidents[0].Number != "INC1" {
		t.Errorf("BOM broke header detection: %+v", incidents[0])
	}
}

func TestImportLatin1Fallback(t *testing.T) {
	// 0xE9 is a Latin-1 e-acute and invalid on its own as UTF-8.
	csvData := "number,description\nINC1,Caf\xe9 wifi down in the lobby\n"

	incidents, _, err := NewCSVImporter().Import(strings.NewReader(csvData))
	if err != nil {
		t.Fatal(err)
	}
	if incidents[0].Description != "Café wifi down in the lobby" {
		t.Errorf("got description %q", incidents[0].Description)
	}
}

func TestImportFillsDefaults(t *testing.T) {
	csvData := "description,resolution\n" +
		"Mail client crashes on startup every morning,Reinstalled the client\n" +
		",Cleared temp files\n"

	incidents, _, err := NewCSVImporter().Import(strings.NewReader(csvData))
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(incidents[0].Number, "INC") {
		t.Errorf("number not generated: %q", incidents[0].Number)
	}
	if incidents[0].ShortDescription != "Mail client crashes on startup every morning" {
		t.Errorf("short description not derived: %q", incidents[0].ShortDescription)
	}
	if incidents[1].ShortDescription != "Imported Incident 3" {
		t.Errorf("got placeholder %q", incidents[1].ShortDescription)
	}
}

func TestImportSkipsMalformedRows(t *testing.T) {
	csvData := "description,resolution\n" +
		"first good row imported fine,fixed\n" +
		"bad \"quote,oops\n" +
		"second good row imported fine,done\n"

	incidents, summary, err := NewCSVImporter().Import(strings.NewReader(csvData))
	if err != nil {
		t.Fatal(err)
	}

	if len(incidents) != 2 {
		t.Fatalf("got %d incidents, want 2", len(incidents))
	}
	if summary.Skipped != 1 || len(summary.Warnings) != 1 {
		t.Errorf("malformed row not reported: %+v", summary)
	}
	if !strings.Contains(summary.Warnings[0], "row 3") {
		t.Errorf("warning missing row number: %q", summary.Warnings[0])
	}
}

func TestImportStripsHTML(t *testing.T) {
	csvData := "number,description\n" +
		"INC1,<p>Printer &amp; scanner offline</p>\n"

	incidents, _, err := NewCSVImporter().Import(strings.NewReader(csvData))
	if err != nil {
		t.Fatal(err)
	}
	if incidents[0].Description != "Printer & scanner offline" {
		t.Errorf("got description %q", incidents[0].Description)
	}
}

func TestImportUnrecognizedHeader(t *testing.T) {
	csvData := "foo,bar\n1,2\n"

	if _, _, err := NewCSVImporter().Import(strings.NewReader(csvData)); err == nil {
		t.Fatal("expected error for unrecognizable header")
	}
}

func TestDetectMappingPrecedence(t *testing.T) {
	mapping := detectMapping([]string{"incident_state", "short_description", "incident", "resolution notes"})

	want := map[int]string{
		0: "state",
		1: "short_description",
		2: "number",
		3: "resolution_notes",
	}
	for i, field := range want {
		if mapping[i] != field {
			t.Errorf("column %d mapped to %q, want %q", i, mapping[i], field)
		}
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-03-05 14:30:00", "2024-03-05T14:30:00Z"},
		{"03/05/2024", "2024-03-05T00:00:00Z"},
		{"2024-03-05T14:30:00Z", "2024-03-05T14:30:00Z"},
		{"not a date", "not a date"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := normalizeDate(tt.in); got != tt.want {
			t.Errorf("normalizeDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
