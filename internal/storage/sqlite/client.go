package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/storage/models"
	"github.com/sop-forge/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

// ErrDuplicateIncident is returned when an insert collides with an existing
// incident number. Duplicates are rejected, never overwritten.
var ErrDuplicateIncident = fmt.Errorf("incident number already exists")

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS incidents (
		number TEXT PRIMARY KEY,
		short_description TEXT NOT NULL,
		description TEXT,
		resolution_notes TEXT,
		close_notes TEXT,
		category TEXT,
		subcategory TEXT,
		priority TEXT,
		state TEXT,
		assignment_group TEXT,
		assigned_to TEXT,
		created_at TEXT,
		resolved_at TEXT,
		source TEXT,
		imported_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_category ON incidents(category);
	CREATE INDEX IF NOT EXISTS idx_incidents_state ON incidents(state);

	CREATE TABLE IF NOT EXISTS sops (
		id TEXT PRIMARY KEY,
		cluster_id INTEGER NOT NULL,
		category TEXT,
		incident_count INTEGER NOT NULL,
		avg_resolution_hours REAL,
		representative_incident TEXT,
		content TEXT NOT NULL,
		format TEXT NOT NULL,
		generated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sops_category ON sops(category);
	CREATE INDEX IF NOT EXISTS idx_sops_generated ON sops(generated_at);

	CREATE TABLE IF NOT EXISTS quality_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		total_incidents INTEGER NOT NULL,
		valid_incidents INTEGER NOT NULL,
		invalid_incidents INTEGER NOT NULL,
		quality_score REAL NOT NULL,
		error_summary TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS suggestion_history (
		id TEXT PRIMARY KEY,
		problem_text TEXT NOT NULL,
		category TEXT,
		found INTEGER NOT NULL,
		source_incident TEXT,
		confidence REAL,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_suggestions_created ON suggestion_history(created_at);

	CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		total_incidents INTEGER NOT NULL,
		valid_count INTEGER NOT NULL,
		invalid_count INTEGER NOT NULL,
		cluster_count INTEGER NOT NULL,
		noise_count INTEGER NOT NULL,
		sop_count INTEGER NOT NULL,
		skipped_count INTEGER NOT NULL,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertIncident(inc *models.Incident) error {
	query := `
		INSERT INTO incidents (number, short_description, description, resolution_notes,
			close_notes, category, subcategory, priority, state, assignment_group,
			assigned_to, created_at, resolved_at, source, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		inc.Number,
		inc.ShortDescription,
		inc.Description,
		inc.ResolutionNotes,
		inc.CloseNotes,
		inc.Category,
		inc.Subcategory,
		inc.Priority,
		inc.State,
		inc.AssignmentGroup,
		inc.AssignedTo,
		inc.CreatedAt,
		inc.ResolvedAt,
		inc.Source,
		time.Now().Unix(),
	)

	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateIncident
		}
		return fmt.Errorf("failed to insert incident: %w", err)
	}

	logger.Debug("Incident inserted", zap.String("number", inc.Number))
	return nil
}

// InsertIncidents stores a batch, skipping duplicates. Returns the number
// actually inserted.
func (c *Client) InsertIncidents(incidents []models.Incident) (int, error) {
	inserted := 0
	for i := range incidents {
		err := c.InsertIncident(&incidents[i])
		if err == ErrDuplicateIncident {
			logger.Debug("Duplicate incident skipped", zap.String("number", incidents[i].Number))
			continue
		}
		if err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func (c *Client) GetIncident(number string) (*models.Incident, error) {
	query := `
		SELECT number, short_description, description, resolution_notes, close_notes,
			category, subcategory, priority, state, assignment_group, assigned_to,
			created_at, resolved_at, source
		FROM incidents WHERE number = ?
	`

	var inc models.Incident
	err := c.db.QueryRow(query, number).Scan(
		&inc.Number,
		&inc.ShortDescription,
		&inc.Description,
		&inc.ResolutionNotes,
		&inc.CloseNotes,
		&inc.Category,
		&inc.Subcategory,
		&inc.Priority,
		&inc.State,
		&inc.AssignmentGroup,
		&inc.AssignedTo,
		&inc.CreatedAt,
		&inc.ResolvedAt,
		&inc.Source,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}

	return &inc, nil
}

func (c *Client) ListIncidents(category string, limit int) ([]models.Incident, error) {
	query := `
		SELECT number, short_description, description, resolution_notes, close_notes,
			category, subcategory, priority, state, assignment_group, assigned_to,
			created_at, resolved_at, source
		FROM incidents
	`
	args := []interface{}{}

	if category != "" {
		query += ` WHERE category = ? COLLATE NOCASE`
		args = append(args, strings.TrimSpace(category))
	}
	query += ` ORDER BY imported_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		var inc models.Incident
		err := rows.Scan(
			&inc.Number,
			&inc.ShortDescription,
			&inc.Description,
			&inc.ResolutionNotes,
			&inc.CloseNotes,
			&inc.Category,
			&inc.Subcategory,
			&inc.Priority,
			&inc.State,
			&inc.AssignmentGroup,
			&inc.AssignedTo,
			&inc.CreatedAt,
			&inc.ResolvedAt,
			&inc.Source,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		incidents = append(incidents, inc)
	}

	return incidents, rows.Err()
}

func (c *Client) CountIncidents() (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM incidents`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count incidents: %w", err)
	}
	return count, nil
}

func (c *Client) InsertSOP(rec *models.SOPRecord) error {
	query := `
		INSERT INTO sops (id, cluster_id, category, incident_count, avg_resolution_hours,
			representative_incident, content, format, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			incident_count = excluded.incident_count,
			avg_resolution_hours = excluded.avg_resolution_hours,
			representative_incident = excluded.representative_incident,
			content = excluded.content,
			generated_at = excluded.generated_at
	`

	_, err := c.db.Exec(
		query,
		rec.ID,
		rec.ClusterID,
		rec.Category,
		rec.IncidentCount,
		rec.AvgResolutionHrs,
		rec.RepresentativeInc,
		rec.Content,
		rec.Format,
		rec.GeneratedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert SOP: %w", err)
	}

	logger.Debug("SOP stored", zap.String("sop_id", rec.ID))
	return nil
}

func (c *Client) ListSOPs() ([]models.SOPRecord, error) {
	query := `
		SELECT id, cluster_id, category, incident_count, avg_resolution_hours,
			representative_incident, content, format, generated_at
		FROM sops ORDER BY generated_at DESC
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list SOPs: %w", err)
	}
	defer rows.Close()

	var records []models.SOPRecord
	for rows.Next() {
		var rec models.SOPRecord
		var generatedAt int64

		err := rows.Scan(
			&rec.ID,
			&rec.ClusterID,
			&rec.Category,
			&rec.IncidentCount,
			&rec.AvgResolutionHrs,
			&rec.RepresentativeInc,
			&rec.Content,
			&rec.Format,
			&generatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rec.GeneratedAt = time.Unix(generatedAt, 0)
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (c *Client) InsertQualityReport(report *models.QualityReport) error {
	summaryJSON, _ := json.Marshal(report.ErrorSummary)

	query := `
		INSERT INTO quality_reports (total_incidents, valid_incidents, invalid_incidents,
			quality_score, error_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		report.TotalIncidents,
		report.ValidIncidents,
		report.InvalidIncidents,
		report.QualityScore,
		string(summaryJSON),
		report.Timestamp.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert quality report: %w", err)
	}

	return nil
}

func (c *Client) LatestQualityReport() (*models.QualityReport, error) {
	query := `
		SELECT total_incidents, valid_incidents, invalid_incidents, quality_score,
			error_summary, created_at
		FROM quality_reports ORDER BY created_at DESC LIMIT 1
	`

	var report models.QualityReport
	var summaryJSON string
	var createdAt int64

	err := c.db.QueryRow(query).Scan(
		&report.TotalIncidents,
		&report.ValidIncidents,
		&report.InvalidIncidents,
		&report.QualityScore,
		&summaryJSON,
		&createdAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quality report: %w", err)
	}

	json.Unmarshal([]byte(summaryJSON), &report.ErrorSummary)
	report.Timestamp = time.Unix(createdAt, 0)

	return &report, nil
}

func (c *Client) InsertSuggestion(rec *models.SuggestionRecord) error {
	query := `
		INSERT INTO suggestion_history (id, problem_text, category, found,
			source_incident, confidence, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	found := 0
	if rec.Found {
		found = 1
	}

	_, err := c.db.Exec(
		query,
		rec.ID,
		rec.ProblemText,
		rec.Category,
		found,
		rec.SourceIncident,
		rec.Confidence,
		rec.LatencyMS,
		rec.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert suggestion: %w", err)
	}

	return nil
}

func (c *Client) InsertRun(rec *models.RunRecord) error {
	query := `
		INSERT INTO pipeline_runs (id, total_incidents, valid_count, invalid_count,
			cluster_count, noise_count, sop_count, skipped_count, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		rec.ID,
		rec.TotalIncidents,
		rec.ValidCount,
		rec.InvalidCount,
		rec.ClusterCount,
		rec.NoiseCount,
		rec.SOPCount,
		rec.SkippedCount,
		rec.LatencyMS,
		rec.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert run record: %w", err)
	}

	logger.Info("Pipeline run recorded",
		zap.String("run_id", rec.ID),
		zap.Int("sops", rec.SOPCount),
	)

	return nil
}
