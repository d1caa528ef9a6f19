package milvus

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/rag"
	"github.com/sop-forge/backend/internal/storage/models"
	"github.com/sop-forge/backend/pkg/logger"
)

// Index is a Milvus-backed knowledge-base index for deployments whose
// knowledge base outgrows the in-memory one. Vectors are unit-norm, so
// inner product equals cosine similarity.
type Index struct {
	client         client.Client
	collectionName string
	vectorDim      int
	size           atomic.Int64
}

func NewIndex(endpoint, collectionName string, vectorDim int) (*Index, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus index initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Index{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Index) Close() error {
	return m.client.Close()
}

func (m *Index) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Resolved incident embeddings",
		Fields: []*entity.Field{
			{
				Name:       "number",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "short_description",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "resolution",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "4096",
				},
			},
			{
				Name:     "category",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index params: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

// Load drops any existing collection and re-inserts the full knowledge
// base.
func (m *Index) Load(ctx context.Context, incidents []models.Incident, vectors [][]float32) error {
	if len(incidents) != len(vectors) {
		return fmt.Errorf("index load mismatch: %d incidents, %d vectors", len(incidents), len(vectors))
	}

	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		if err := m.client.DropCollection(ctx, m.collectionName); err != nil {
			return fmt.Errorf("failed to drop collection: %w", err)
		}
	}

	if err := m.ensureCollection(ctx); err != nil {
		return err
	}

	if err := m.insert(ctx, incidents, vectors); err != nil {
		return err
	}

	m.size.Store(int64(len(incidents)))
	logger.Info("Knowledge base loaded into vector DB", zap.Int("count", len(incidents)))

	return nil
}

// Add inserts a single incident into the live collection.
func (m *Index) Add(ctx context.Context, incident models.Incident, vector []float32) error {
	if err := m.ensureCollection(ctx); err != nil {
		return err
	}

	if err := m.insert(ctx, []models.Incident{incident}, [][]float32{vector}); err != nil {
		return err
	}

	m.size.Add(1)
	return nil
}

func (m *Index) insert(ctx context.Context, incidents []models.Incident, vectors [][]float32) error {
	if len(incidents) == 0 {
		return nil
	}

	numbers := make([]string, len(incidents))
	shortDescs := make([]string, len(incidents))
	resolutions := make([]string, len(incidents))
	categories := make([]string, len(incidents))

	for i, inc := range incidents {
		numbers[i] = inc.Number
		shortDescs[i] = inc.ShortDescription
		resolutions[i] = inc.Resolution()
		categories[i] = inc.Category
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("number", numbers),
		entity.NewColumnFloatVector("embedding", m.vectorDim, vectors),
		entity.NewColumnVarChar("short_description", shortDescs),
		entity.NewColumnVarChar("resolution", resolutions),
		entity.NewColumnVarChar("category", categories),
	)
	if err != nil {
		return fmt.Errorf("failed to insert incidents: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return nil
}

// Search returns the topK nearest knowledge-base entries. Only the fields
// retrieval needs come back; the full record lives in SQLite.
func (m *Index) Search(ctx context.Context, vector []float32, topK int) ([]rag.Match, error) {
	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		"",
		[]string{"number", "short_description", "resolution", "category"},
		[]entity.Vector{entity.FloatVector(vector)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]rag.Match, 0)
	for _, sr := range searchResult {
		numberCol := sr.Fields.GetColumn("number")
		shortDescCol := sr.Fields.GetColumn("short_description")
		resolutionCol := sr.Fields.GetColumn("resolution")
		categoryCol := sr.Fields.GetColumn("category")

		for i := 0; i < sr.ResultCount; i++ {
			number, _ := numberCol.Get(i)
			shortDesc, _ := shortDescCol.Get(i)
			resolution, _ := resolutionCol.Get(i)
			category, _ := categoryCol.Get(i)

			matches = append(matches, rag.Match{
				Incident: models.Incident{
					Number:           number.(string),
					ShortDescription: shortDesc.(string),
					ResolutionNotes:  resolution.(string),
					Category:         strings.TrimSpace(category.(string)),
				},
				Similarity: float64(sr.Scores[i]),
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(matches)),
	)

	return matches, nil
}

func (m *Index) Size() int {
	return int(m.size.Load())
}
