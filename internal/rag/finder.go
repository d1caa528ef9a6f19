package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/storage/models"
	"github.com/sop-forge/backend/pkg/logger"
)

// Embedder is the slice of the encoder the finder needs.
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Match is one knowledge-base hit with its similarity score.
type Match struct {
	Incident   models.Incident `json:"incident"`
	Similarity float64         `json:"similarity"`
}

// SearchIndex answers nearest-neighbor queries over the knowledge base.
// The in-memory snapshot index is the default; a vector database backend
// can stand in for large knowledge bases.
type SearchIndex interface {
	Load(ctx context.Context, incidents []models.Incident, vectors [][]float32) error
	Add(ctx context.Context, incident models.Incident, vector []float32) error
	Search(ctx context.Context, vector []float32, topK int) ([]Match, error)
	Size() int
}

// snapshot is an immutable view of the knowledge base. Queries read whole
// snapshots; rebuilds and additions swap in a new one.
type snapshot struct {
	incidents []models.Incident
	vectors   [][]float32
}

// MemoryIndex is a brute-force dot-product index over unit-norm vectors.
// Readers never block: the current snapshot is swapped atomically, so a
// query sees either the old knowledge base or the new one, never a mix.
type MemoryIndex struct {
	current atomic.Pointer[snapshot]
}

func NewMemoryIndex() *MemoryIndex {
	idx := &MemoryIndex{}
	idx.current.Store(&snapshot{})
	return idx
}

// Load replaces the index contents in one atomic swap.
func (m *MemoryIndex) Load(_ context.Context, incidents []models.Incident, vectors [][]float32) error {
	if len(incidents) != len(vectors) {
		return fmt.Errorf("index load mismatch: %d incidents, %d vectors", len(incidents), len(vectors))
	}

	m.current.Store(&snapshot{incidents: incidents, vectors: vectors})
	return nil
}

// Add appends one entry via copy-on-write so in-flight queries are
// undisturbed.
func (m *MemoryIndex) Add(_ context.Context, incident models.Incident, vector []float32) error {
	old := m.current.Load()

	next := &snapshot{
		incidents: make([]models.Incident, len(old.incidents), len(old.incidents)+1),
		vectors:   make([][]float32, len(old.vectors), len(old.vectors)+1),
	}
	copy(next.incidents, old.incidents)
	copy(next.vectors, old.vectors)
	next.incidents = append(next.incidents, incident)
	next.vectors = append(next.vectors, vector)

	m.current.Store(next)
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, vector []float32, topK int) ([]Match, error) {
	snap := m.current.Load()
	if len(snap.incidents) == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(snap.incidents))
	for i, vec := range snap.vectors {
		matches = append(matches, Match{
			Incident:   snap.incidents[i],
			Similarity: dot(vector, vec),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *MemoryIndex) Size() int {
	return len(m.current.Load().incidents)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Source labels the primary incident backing a suggestion.
type Source struct {
	IncidentNumber string  `json:"incident_number"`
	Similarity     float64 `json:"similarity"`
	Resolution     string  `json:"resolution,omitempty"`
	Category       string  `json:"category,omitempty"`
}

// Suggestion is the caller-facing answer to "how was this solved before".
type Suggestion struct {
	Found               bool     `json:"found"`
	Message             string   `json:"message,omitempty"`
	SuggestedResolution string   `json:"suggested_resolution,omitempty"`
	Confidence          float64  `json:"confidence"`
	PrimarySource       *Source  `json:"primary_source,omitempty"`
	Alternatives        []Source `json:"alternatives,omitempty"`
}

// Finder retrieves resolutions for new problems from past resolved
// incidents.
type Finder struct {
	embedder Embedder
	index    SearchIndex

	topK               int
	minSimilarity      float64
	minResolutionChars int
	minDescriptionChars int
}

func NewFinder(embedder Embedder, index SearchIndex, topK int, minSimilarity float64, minResolutionChars, minDescriptionChars int) *Finder {
	if topK <= 0 {
		topK = 5
	}
	if minSimilarity <= 0 {
		minSimilarity = 0.6
	}
	return &Finder{
		embedder:            embedder,
		index:               index,
		topK:                topK,
		minSimilarity:       minSimilarity,
		minResolutionChars:  minResolutionChars,
		minDescriptionChars: minDescriptionChars,
	}
}

// Eligible reports whether an incident carries enough substance to enter
// the knowledge base.
func (f *Finder) Eligible(inc models.Incident) bool {
	return len(inc.Resolution()) > f.minResolutionChars ||
		len(inc.Description) > f.minDescriptionChars
}

// indexText is the searchable text for a knowledge-base entry: what the
// problem looked like, not how it was fixed, so queries phrased as problems
// land near it.
func indexText(inc models.Incident) string {
	return strings.TrimSpace(strings.Join([]string{
		inc.ShortDescription,
		inc.Description,
		inc.Category,
	}, " "))
}

// Rebuild re-derives the index from scratch out of the given incidents,
// keeping only eligible ones. The index is fully built before it goes live.
func (f *Finder) Rebuild(ctx context.Context, incidents []models.Incident) (int, error) {
	eligible := make([]models.Incident, 0, len(incidents))
	for _, inc := range incidents {
		if f.Eligible(inc) {
			eligible = append(eligible, inc)
		}
	}

	if len(eligible) == 0 {
		if err := f.index.Load(ctx, nil, nil); err != nil {
			return 0, err
		}
		logger.Info("Knowledge base rebuilt empty")
		return 0, nil
	}

	texts := make([]string, len(eligible))
	for i, inc := range eligible {
		texts[i] = indexText(inc)
	}

	vectors, err := f.embedder.EncodeBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed knowledge base: %w", err)
	}

	if err := f.index.Load(ctx, eligible, vectors); err != nil {
		return 0, err
	}

	logger.Info("Knowledge base rebuilt",
		zap.Int("eligible", len(eligible)),
		zap.Int("skipped", len(incidents)-len(eligible)),
	)
	return len(eligible), nil
}

// Add inserts a single resolved incident into the live index.
func (f *Finder) Add(ctx context.Context, inc models.Incident) error {
	if !f.Eligible(inc) {
		return fmt.Errorf("incident %s has insufficient resolution or description text", inc.Number)
	}

	vector, err := f.embedder.Encode(ctx, indexText(inc))
	if err != nil {
		return fmt.Errorf("failed to embed incident %s: %w", inc.Number, err)
	}

	return f.index.Add(ctx, inc, vector)
}

// FindSimilar returns knowledge-base entries above the given similarity
// floor, optionally restricted to one category. Category matching is
// case-insensitive with surrounding whitespace ignored.
func (f *Finder) FindSimilar(ctx context.Context, problem, category string, topK int, minSimilarity float64) ([]Match, error) {
	if f.index.Size() == 0 {
		return nil, nil
	}

	vector, err := f.embedder.Encode(ctx, problem)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := f.index.Search(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge base search failed: %w", err)
	}

	wantCategory := strings.ToLower(strings.TrimSpace(category))

	filtered := matches[:0]
	for _, match := range matches {
		if match.Similarity < minSimilarity {
			continue
		}
		if wantCategory != "" && strings.ToLower(strings.TrimSpace(match.Incident.Category)) != wantCategory {
			continue
		}
		filtered = append(filtered, match)
	}

	return filtered, nil
}

// Suggest answers a resolution query. A miss below the similarity floor is
// an explicit not-found, never a low-confidence guess.
func (f *Finder) Suggest(ctx context.Context, problem, category, symptoms string) (*Suggestion, error) {
	query := problem
	if symptoms != "" {
		query += " " + symptoms
	}
	if category != "" {
		query += " " + category
	}

	matches, err := f.FindSimilar(ctx, query, category, f.topK, f.minSimilarity)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return &Suggestion{
			Found:   false,
			Message: "No similar past incidents found",
		}, nil
	}

	top := matches[0]
	resolution := top.Incident.Resolution()

	// Corroboration from a second near-identical incident raises trust in
	// the suggestion.
	if len(matches) > 1 && matches[1].Similarity > 0.8 {
		resolution += fmt.Sprintf("\n\n[Note: Based on %d similar resolved incidents]", len(matches))
	}

	alternatives := make([]Source, 0, 3)
	for _, match := range matches[1:] {
		if len(alternatives) == 3 {
			break
		}
		alternatives = append(alternatives, Source{
			IncidentNumber: match.Incident.Number,
			Similarity:     match.Similarity,
			Resolution:     match.Incident.Resolution(),
			Category:       match.Incident.Category,
		})
	}

	return &Suggestion{
		Found:               true,
		SuggestedResolution: resolution,
		Confidence:          top.Similarity * 100,
		PrimarySource: &Source{
			IncidentNumber: top.Incident.Number,
			Similarity:     top.Similarity,
			Resolution:     top.Incident.Resolution(),
		},
		Alternatives: alternatives,
	}, nil
}
