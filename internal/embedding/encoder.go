package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/storage/models"
	"github.com/sop-forge/backend/pkg/circuitbreaker"
	"github.com/sop-forge/backend/pkg/logger"
	"github.com/sop-forge/backend/pkg/retry"
	"github.com/sop-forge/backend/pkg/utils"
)

const cacheTTL = 24 * time.Hour

// Cache is the slice of the redis client the encoder needs.
type Cache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// Encoder turns incident text into unit-norm vectors via an external
// embedding API. The underlying client is created once per process; an
// encoder failure is fatal to the run that needed it, there is no partial
// degradation.
type Encoder struct {
	apiKey    string
	baseURL   string
	model     string
	batchSize int
	timeout   time.Duration
	cache     Cache

	initOnce sync.Once
	client   *openai.Client

	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewEncoder(apiKey, baseURL, model string, batchSize, timeoutSec int, cache Cache) *Encoder {
	if batchSize <= 0 {
		batchSize = 100
	}

	cb := circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	return &Encoder{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		batchSize:   batchSize,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cache:       cache,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (e *Encoder) init() {
	e.initOnce.Do(func() {
		cfg := openai.DefaultConfig(e.apiKey)
		if e.baseURL != "" {
			cfg.BaseURL = e.baseURL
		}
		e.client = openai.NewClientWithConfig(cfg)

		logger.Info("Embedding client initialized", zap.String("model", e.model))
	})
}

// BuildIncidentText assembles the text fed to the embedding model: labeled
// segments in fixed order, empty segments omitted. The labels keep the
// model aware of which part of the ticket each fragment came from.
func BuildIncidentText(inc models.Incident) string {
	var parts []string

	if inc.ShortDescription != "" {
		parts = append(parts, "Problem: "+inc.ShortDescription)
	}
	if inc.Description != "" {
		parts = append(parts, "Details: "+inc.Description)
	}
	if resolution := inc.Resolution(); resolution != "" {
		parts = append(parts, "Resolution: "+resolution)
	}
	if inc.Category != "" {
		parts = append(parts, "Category: "+inc.Category)
	}
	if inc.Subcategory != "" {
		parts = append(parts, "Subcategory: "+inc.Subcategory)
	}

	if len(parts) == 0 {
		return "Unknown incident"
	}
	return strings.Join(parts, " | ")
}

// EncodeIncidents encodes a batch of incidents in one pass.
func (e *Encoder) EncodeIncidents(ctx context.Context, incidents []models.Incident) ([][]float32, error) {
	texts := make([]string, len(incidents))
	for i, inc := range incidents {
		texts[i] = BuildIncidentText(inc)
	}
	return e.EncodeBatch(ctx, texts)
}

// EncodeBatch embeds all texts, batched for throughput, and L2-normalizes
// every vector so downstream similarity is a plain dot product.
func (e *Encoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	e.init()

	vectors := make([][]float32, len(texts))
	var missing []int

	for i, text := range texts {
		if cached, ok := e.cachedVector(ctx, text); ok {
			vectors[i] = cached
		} else {
			missing = append(missing, i)
		}
	}

	for start := 0; start < len(missing); start += e.batchSize {
		end := start + e.batchSize
		if end > len(missing) {
			end = len(missing)
		}

		batchIdx := missing[start:end]
		batch := make([]string, len(batchIdx))
		for j, idx := range batchIdx {
			batch[j] = texts[idx]
		}

		embedded, err := e.embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(embedded) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embedded), len(batch))
		}

		for j, idx := range batchIdx {
			vec := embedded[j]
			normalize(vec)
			vectors[idx] = vec
			e.storeVector(ctx, texts[idx], vec)
		}
	}

	logger.Debug("Batch embeddings generated",
		zap.Int("total", len(texts)),
		zap.Int("computed", len(missing)),
	)

	return vectors, nil
}

// Encode embeds a single text. Used by retrieval queries and incremental
// index updates.
func (e *Encoder) Encode(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Encoder) embed(ctx context.Context, batch []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var embeddings [][]float32

	err := e.cb.Execute(ctx, func() error {
		return retry.Do(ctx, e.retryConfig, func() error {
			resp, err := e.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(e.model),
				},
			)

			if err != nil {
				return fmt.Errorf("embedding request failed: %w", err)
			}

			embeddings = make([][]float32, 0, len(resp.Data))
			for _, data := range resp.Data {
				vec := make([]float32, len(data.Embedding))
				copy(vec, data.Embedding)
				embeddings = append(embeddings, vec)
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return embeddings, nil
}

func (e *Encoder) cachedVector(ctx context.Context, text string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}

	vec, ok, err := e.cache.GetEmbedding(ctx, utils.HashString(text))
	if err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
		return nil, false
	}
	return vec, ok
}

func (e *Encoder) storeVector(ctx context.Context, text string, vec []float32) {
	if e.cache == nil {
		return
	}

	if err := e.cache.SetEmbedding(ctx, utils.HashString(text), vec, cacheTTL); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
}

// normalize scales vec to unit L2 norm in place. Zero vectors stay zero.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}

	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
