package clustering

import (
	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/storage/models"
	"github.com/sop-forge/backend/pkg/logger"
)

// Noise is the label for incidents that fit no stable cluster.
const Noise = -1

// Clusterer assigns a cluster label to each input vector. Implementations
// are swappable; the rest of the pipeline only sees labels.
type Clusterer interface {
	Cluster(vectors [][]float32) []int
}

// DensityClusterer groups unit-norm vectors by density over cosine
// distance. A point is a core point when at least minSamples vectors
// (itself included) fall within epsilon; clusters grow from core points and
// any resulting cluster smaller than minClusterSize is dissolved back to
// noise, which favors a few stable clusters over many fragile ones.
type DensityClusterer struct {
	minClusterSize int
	minSamples     int
	epsilon        float64
}

func NewDensityClusterer(minClusterSize, minSamples int, similarityThreshold float64) *DensityClusterer {
	if minClusterSize < 2 {
		minClusterSize = 2
	}
	if minSamples < 1 {
		minSamples = 1
	}

	// Unit vectors make cosine distance 1 - dot(a, b).
	epsilon := 1.0 - similarityThreshold
	if epsilon <= 0 {
		epsilon = 0.05
	}

	return &DensityClusterer{
		minClusterSize: minClusterSize,
		minSamples:     minSamples,
		epsilon:        epsilon,
	}
}

func (c *DensityClusterer) Cluster(vectors [][]float32) []int {
	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}

	// Too few points for any cluster to reach minClusterSize.
	if n < c.minClusterSize {
		return labels
	}

	neighbors := c.neighborLists(vectors)

	nextLabel := 0
	for i := 0; i < n; i++ {
		if labels[i] != Noise {
			continue
		}
		if len(neighbors[i]) < c.minSamples {
			continue
		}

		c.expand(i, nextLabel, labels, neighbors)
		nextLabel++
	}

	c.dissolveSmallClusters(labels, nextLabel)

	return relabel(labels)
}

func (c *DensityClusterer) neighborLists(vectors [][]float32) [][]int {
	n := len(vectors)
	neighbors := make([][]int, n)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if CosineDistance(vectors[i], vectors[j]) <= c.epsilon {
				neighbors[i] = append(neighbors[i], j)
			}
		}
	}

	return neighbors
}

func (c *DensityClusterer) expand(seed, label int, labels []int, neighbors [][]int) {
	labels[seed] = label
	queue := append([]int(nil), neighbors[seed]...)

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		if labels[p] != Noise {
			continue
		}
		labels[p] = label

		// Only core points extend the frontier; border points join but
		// do not recruit.
		if len(neighbors[p]) >= c.minSamples {
			queue = append(queue, neighbors[p]...)
		}
	}
}

func (c *DensityClusterer) dissolveSmallClusters(labels []int, clusterCount int) {
	sizes := make([]int, clusterCount)
	for _, l := range labels {
		if l != Noise {
			sizes[l]++
		}
	}

	for i, l := range labels {
		if l != Noise && sizes[l] < c.minClusterSize {
			labels[i] = Noise
		}
	}
}

// relabel compacts surviving cluster ids to 0..k-1 in first-seen order.
func relabel(labels []int) []int {
	mapping := make(map[int]int)
	next := 0

	for i, l := range labels {
		if l == Noise {
			continue
		}
		if _, ok := mapping[l]; !ok {
			mapping[l] = next
			next++
		}
		labels[i] = mapping[l]
	}

	return labels
}

// CosineDistance between two unit-norm vectors.
func CosineDistance(a, b []float32) float64 {
	return 1.0 - Dot(a, b)
}

func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Centroid is the arithmetic mean of the vectors.
func Centroid(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}

	centroid := make([]float32, len(vectors[0]))
	for _, vec := range vectors {
		for i, v := range vec {
			centroid[i] += v
		}
	}

	n := float32(len(vectors))
	for i := range centroid {
		centroid[i] /= n
	}

	return centroid
}

// Grouping holds the result of a clustering pass: members per cluster id
// (noise excluded) plus noise accounting.
type Grouping struct {
	Clusters      map[int][]models.Incident
	VectorsByID   map[int][][]float32
	NoiseCount    int
	NoiseFraction float64
}

// GroupByLabel builds the cluster map from parallel label/incident/vector
// slices, skipping noise. Member order follows input order.
func GroupByLabel(labels []int, incidents []models.Incident, vectors [][]float32) Grouping {
	clusters := make(map[int][]models.Incident)
	vectorsByID := make(map[int][][]float32)
	noise := 0

	for idx, label := range labels {
		if label == Noise {
			noise++
			continue
		}
		clusters[label] = append(clusters[label], incidents[idx])
		vectorsByID[label] = append(vectorsByID[label], vectors[idx])
	}

	fraction := 0.0
	if len(labels) > 0 {
		fraction = float64(noise) / float64(len(labels))
	}

	logger.Info("Clustering complete",
		zap.Int("clusters", len(clusters)),
		zap.Int("noise", noise),
		zap.Float64("noise_fraction", fraction),
	)

	return Grouping{
		Clusters:      clusters,
		VectorsByID:   vectorsByID,
		NoiseCount:    noise,
		NoiseFraction: fraction,
	}
}
