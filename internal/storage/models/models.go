package models

import "time"

// Incident is the canonical ticket record. Text timestamps stay as the
// ISO-8601 strings the source systems hand us; parsing happens at the point
// of use so one bad date cannot poison a whole batch.
type Incident struct {
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	ResolutionNotes  string `json:"resolution_notes"`
	CloseNotes       string `json:"close_notes"`
	Category         string `json:"category"`
	Subcategory      string `json:"subcategory"`
	Priority         string `json:"priority"`
	State            string `json:"state"`
	AssignmentGroup  string `json:"assignment_group"`
	AssignedTo       string `json:"assigned_to"`
	CreatedAt        string `json:"created_at"`
	ResolvedAt       string `json:"resolved_at"`
	Source           string `json:"source,omitempty"`
	ImportedAt       string `json:"imported_at,omitempty"`

	// Transient fields, never persisted as part of the canonical record.
	ValidationErrors []ValidationError `json:"_validation_errors,omitempty"`
	SimilarityScore  float64           `json:"similarity_score,omitempty"`
}

// Resolution returns the resolution text, falling back to close notes.
func (i Incident) Resolution() string {
	if i.ResolutionNotes != "" {
		return i.ResolutionNotes
	}
	return i.CloseNotes
}

type ValidationError struct {
	Type     string   `json:"type"`
	Message  string   `json:"message,omitempty"`
	Fields   []string `json:"fields,omitempty"`
	Severity string   `json:"severity"`
}

type QualityReport struct {
	TotalIncidents   int            `json:"total_incidents"`
	ValidIncidents   int            `json:"valid_incidents"`
	InvalidIncidents int            `json:"invalid_incidents"`
	QualityScore     float64        `json:"quality_score"`
	ErrorSummary     map[string]int `json:"error_summary"`
	Timestamp        time.Time      `json:"timestamp"`
}

// SOPRecord is the persisted form of a generated procedure document.
type SOPRecord struct {
	ID                string    `json:"id"`
	ClusterID         int       `json:"cluster_id"`
	Category          string    `json:"category"`
	IncidentCount     int       `json:"incident_count"`
	AvgResolutionHrs  float64   `json:"avg_resolution_hours"`
	RepresentativeInc string    `json:"representative_incident"`
	Content           string    `json:"content"`
	Format            string    `json:"format"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// SuggestionRecord keeps an audit trail of resolution suggestions served.
type SuggestionRecord struct {
	ID             string    `json:"id"`
	ProblemText    string    `json:"problem_text"`
	Category       string    `json:"category"`
	Found          bool      `json:"found"`
	SourceIncident string    `json:"source_incident"`
	Confidence     float64   `json:"confidence"`
	LatencyMS      int       `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

type RunRecord struct {
	ID             string    `json:"id"`
	TotalIncidents int       `json:"total_incidents"`
	ValidCount     int       `json:"valid_count"`
	InvalidCount   int       `json:"invalid_count"`
	ClusterCount   int       `json:"cluster_count"`
	NoiseCount     int       `json:"noise_count"`
	SOPCount       int       `json:"sop_count"`
	SkippedCount   int       `json:"skipped_count"`
	LatencyMS      int       `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
