package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/clustering"
	"github.com/sop-forge/backend/internal/metrics"
	"github.com/sop-forge/backend/internal/rag"
	"github.com/sop-forge/backend/internal/sop"
	"github.com/sop-forge/backend/internal/storage/models"
	"github.com/sop-forge/backend/internal/storage/sqlite"
	"github.com/sop-forge/backend/internal/validation"
	"github.com/sop-forge/backend/pkg/logger"
)

// Stage names reported in progress events.
const (
	StageValidation = "validation"
	StageEmbedding  = "embedding"
	StageClustering = "clustering"
	StageGeneration = "generation"
	StageIndexing   = "indexing"
	StageDone       = "done"
	StageFailed     = "failed"
)

// Event is one progress update emitted while a run advances.
type Event struct {
	RunID   string    `json:"run_id"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Report is the outcome of one full pipeline run.
type Report struct {
	RunID          string                 `json:"run_id"`
	TotalIncidents int                    `json:"total_incidents"`
	ValidCount     int                    `json:"valid_count"`
	InvalidCount   int                    `json:"invalid_count"`
	ClusterCount   int                    `json:"cluster_count"`
	NoiseCount     int                    `json:"noise_count"`
	SOPCount       int                    `json:"sop_count"`
	SkippedCount   int                    `json:"skipped_count"`
	LatencyMS      int                    `json:"latency_ms"`
	Quality        *models.QualityReport  `json:"quality_report"`
	SOPs           []models.SOPRecord     `json:"sops"`
	Analyses       []*clustering.Analysis `json:"cluster_analyses"`
}

// Embedder is the slice of the encoder the pipeline needs.
type Embedder interface {
	EncodeIncidents(ctx context.Context, incidents []models.Incident) ([][]float32, error)
}

// Orchestrator drives the full flow: validate, embed, cluster, analyze,
// generate, persist, reindex. One run at a time; concurrent calls queue on
// the run lock.
type Orchestrator struct {
	store     *sqlite.Client
	validator *validation.Validator
	embedder  Embedder
	clusterer clustering.Clusterer
	analyzer  *clustering.Analyzer
	generator *sop.Generator
	finder    *rag.Finder
	outputDir string

	runMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []func(Event)
}

func NewOrchestrator(
	store *sqlite.Client,
	validator *validation.Validator,
	embedder Embedder,
	clusterer clustering.Clusterer,
	analyzer *clustering.Analyzer,
	generator *sop.Generator,
	finder *rag.Finder,
	outputDir string,
) *Orchestrator {
	return &Orchestrator{
		store:     store,
		validator: validator,
		embedder:  embedder,
		clusterer: clusterer,
		analyzer:  analyzer,
		generator: generator,
		finder:    finder,
		outputDir: outputDir,
	}
}

// Subscribe registers a progress listener. Listeners must not block; slow
// consumers should buffer on their side.
func (o *Orchestrator) Subscribe(fn func(Event)) {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()
	o.listeners = append(o.listeners, fn)
}

func (o *Orchestrator) emit(runID, stage, message string) {
	event := Event{RunID: runID, Stage: stage, Message: message, Time: time.Now().UTC()}

	o.listenersMu.RLock()
	defer o.listenersMu.RUnlock()
	for _, fn := range o.listeners {
		fn(event)
	}
}

// Run executes the pipeline over the given incidents. Validation problems
// route records to the invalid bucket without aborting; an embedding
// failure is fatal to the run.
func (o *Orchestrator) Run(ctx context.Context, incidents []models.Incident) (*Report, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	runID := uuid.New().String()
	started := time.Now()

	logger.Info("Pipeline run started",
		zap.String("run_id", runID),
		zap.Int("incidents", len(incidents)),
	)

	report, err := o.run(ctx, runID, incidents)

	latency := time.Since(started)
	metrics.PipelineDuration.Observe(latency.Seconds())

	if err != nil {
		metrics.PipelineRuns.WithLabelValues("error").Inc()
		o.emit(runID, StageFailed, err.Error())
		logger.Error("Pipeline run failed", zap.String("run_id", runID), zap.Error(err))
		return nil, err
	}

	report.LatencyMS = int(latency.Milliseconds())
	metrics.PipelineRuns.WithLabelValues("success").Inc()

	if err := o.store.InsertRun(&models.RunRecord{
		ID:             runID,
		TotalIncidents: report.TotalIncidents,
		ValidCount:     report.ValidCount,
		InvalidCount:   report.InvalidCount,
		ClusterCount:   report.ClusterCount,
		NoiseCount:     report.NoiseCount,
		SOPCount:       report.SOPCount,
		SkippedCount:   report.SkippedCount,
		LatencyMS:      report.LatencyMS,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		logger.Warn("Failed to persist run record", zap.Error(err))
	}

	o.emit(runID, StageDone, fmt.Sprintf("%d SOPs generated", report.SOPCount))
	logger.Info("Pipeline run complete",
		zap.String("run_id", runID),
		zap.Int("sops", report.SOPCount),
		zap.Duration("latency", latency),
	)

	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, runID string, incidents []models.Incident) (*Report, error) {
	report := &Report{RunID: runID, TotalIncidents: len(incidents)}

	// Validation. Duplicates are reported, never merged; distinct ticket
	// numbers stay distinct records.
	o.emit(runID, StageValidation, fmt.Sprintf("validating %d incidents", len(incidents)))

	valid, invalid := o.validator.ValidateIncidents(incidents)
	report.ValidCount = len(valid)
	report.InvalidCount = len(invalid)
	report.Quality = validation.GenerateQualityReport(valid, invalid)

	metrics.IncidentsProcessed.WithLabelValues("valid").Add(float64(len(valid)))
	metrics.IncidentsProcessed.WithLabelValues("invalid").Add(float64(len(invalid)))

	if dupes := validation.DetectDuplicates(valid); len(dupes) > 0 {
		logger.Warn("Duplicate short descriptions detected",
			zap.String("run_id", runID),
			zap.Int("groups", len(dupes)),
		)
	}

	if err := o.store.InsertQualityReport(report.Quality); err != nil {
		logger.Warn("Failed to persist quality report", zap.Error(err))
	}

	if len(valid) == 0 {
		return report, nil
	}

	// Embedding. No partial degradation: without vectors there is nothing
	// to cluster.
	o.emit(runID, StageEmbedding, fmt.Sprintf("encoding %d incidents", len(valid)))

	vectors, err := o.embedder.EncodeIncidents(ctx, valid)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	metrics.EmbeddingRequests.WithLabelValues("success").Inc()

	// Clustering.
	o.emit(runID, StageClustering, "grouping incidents by similarity")

	labels := o.clusterer.Cluster(vectors)
	grouping := clustering.GroupByLabel(labels, valid, vectors)
	report.ClusterCount = len(grouping.Clusters)
	report.NoiseCount = grouping.NoiseCount

	metrics.ClustersFound.Observe(float64(report.ClusterCount))
	metrics.NoiseFraction.Set(grouping.NoiseFraction)

	// SOP generation, in stable cluster-id order.
	o.emit(runID, StageGeneration, fmt.Sprintf("generating SOPs for %d clusters", report.ClusterCount))

	clusterIDs := make([]int, 0, len(grouping.Clusters))
	for id := range grouping.Clusters {
		clusterIDs = append(clusterIDs, id)
	}
	sort.Ints(clusterIDs)

	for _, id := range clusterIDs {
		members := grouping.Clusters[id]
		analysis := o.analyzer.Analyze(id, members, grouping.VectorsByID[id])
		report.Analyses = append(report.Analyses, analysis)

		doc := o.generator.Generate(analysis, members)
		if doc == nil {
			report.SkippedCount++
			continue
		}

		rec := doc.Record()
		if err := o.store.InsertSOP(&rec); err != nil {
			logger.Warn("Failed to persist SOP",
				zap.String("sop_id", rec.ID),
				zap.Error(err),
			)
		}
		o.writeDocument(rec)
		report.SOPs = append(report.SOPs, rec)
		metrics.SOPsGenerated.Inc()
	}
	report.SOPCount = len(report.SOPs)

	// Retrieval index refresh so new resolutions are searchable right
	// away.
	if o.finder != nil {
		o.emit(runID, StageIndexing, "rebuilding knowledge base index")

		size, err := o.finder.Rebuild(ctx, valid)
		if err != nil {
			logger.Warn("Knowledge base rebuild failed", zap.String("run_id", runID), zap.Error(err))
		} else {
			metrics.KnowledgeBaseSize.Set(float64(size))
		}
	}

	return report, nil
}

// writeDocument mirrors a generated SOP to the output directory. The SQLite
// record is the source of truth; file problems are logged and skipped.
func (o *Orchestrator) writeDocument(rec models.SOPRecord) {
	if o.outputDir == "" {
		return
	}

	if err := os.MkdirAll(o.outputDir, 0o755); err != nil {
		logger.Warn("Failed to create SOP output directory", zap.Error(err))
		return
	}

	path := filepath.Join(o.outputDir, rec.ID+".md")
	if err := os.WriteFile(path, []byte(rec.Content), 0o644); err != nil {
		logger.Warn("Failed to write SOP file",
			zap.String("sop_id", rec.ID),
			zap.Error(err),
		)
	}
}
