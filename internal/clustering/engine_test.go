package clustering

import (
	"math"
	"testing"

	"github.com/sop-forge/backend/internal/storage/models"
)

func unit(values ...float32) []float32 {
	var sum float64
	for _, v := range values {
		sum += float64(v) * float64(v)
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = v / norm
	}
	return out
}

func TestClusterNearIdenticalVectors(t *testing.T) {
	vectors := [][]float32{
		unit(1, 0.00, 0),
		unit(1, 0.01, 0),
		unit(1, 0.02, 0),
		unit(1, 0.01, 0.01),
		unit(1, 0.00, 0.02),
	}

	c := NewDensityClusterer(3, 3, 0.75)
	labels := c.Cluster(vectors)

	for i, label := range labels {
		if label != 0 {
			t.Errorf("vector %d: got label %d, want 0", i, label)
		}
	}
}

func TestClusterSeparatesDistantGroups(t *testing.T) {
	vectors := [][]float32{
		unit(1, 0, 0),
		unit(1, 0.01, 0),
		unit(1, 0.02, 0),
		unit(0, 1, 0),
		unit(0, 1, 0.01),
		unit(0, 1, 0.02),
		unit(0, 0, 1),
	}

	c := NewDensityClusterer(3, 3, 0.75)
	labels := c.Cluster(vectors)

	if labels[0] != labels[1] || labels[1] != labels[2] {
		t.Errorf("first group split: %v", labels[:3])
	}
	if labels[3] != labels[4] || labels[4] != labels[5] {
		t.Errorf("second group split: %v", labels[3:6])
	}
	if labels[0] == labels[3] {
		t.Errorf("distant groups merged: %v", labels)
	}
	if labels[6] != Noise {
		t.Errorf("isolated vector: got label %d, want noise", labels[6])
	}
}

func TestClusterTooFewPoints(t *testing.T) {
	vectors := [][]float32{
		unit(1, 0, 0),
		unit(1, 0.01, 0),
	}

	c := NewDensityClusterer(5, 3, 0.75)
	labels := c.Cluster(vectors)

	for i, label := range labels {
		if label != Noise {
			t.Errorf("vector %d: got label %d, want noise", i, label)
		}
	}
}

func TestClusterDissolvesSmallClusters(t *testing.T) {
	// Three tight points form a dense group, but minClusterSize demands
	// four, so the whole group dissolves to noise.
	vectors := [][]float32{
		unit(1, 0, 0),
		unit(1, 0.01, 0),
		unit(1, 0.02, 0),
		unit(0, 1, 0),
	}

	c := NewDensityClusterer(4, 3, 0.75)
	labels := c.Cluster(vectors)

	for i, label := range labels {
		if label != Noise {
			t.Errorf("vector %d: got label %d, want noise", i, label)
		}
	}
}

func TestClusterLabelsAreCompact(t *testing.T) {
	vectors := [][]float32{
		unit(1, 0, 0),
		unit(1, 0.01, 0),
		unit(1, 0.02, 0),
		unit(0, 0, 1),
		unit(0, 1, 0),
		unit(0, 1, 0.01),
		unit(0, 1, 0.02),
	}

	c := NewDensityClusterer(3, 3, 0.75)
	labels := c.Cluster(vectors)

	seen := make(map[int]bool)
	maxLabel := -1
	for _, label := range labels {
		if label == Noise {
			continue
		}
		seen[label] = true
		if label > maxLabel {
			maxLabel = label
		}
	}

	if len(seen) != maxLabel+1 {
		t.Errorf("labels not compact: %v", labels)
	}
}

func TestClusterDeterministic(t *testing.T) {
	vectors := [][]float32{
		unit(1, 0, 0),
		unit(1, 0.01, 0),
		unit(1, 0.02, 0),
		unit(0, 1, 0.01),
		unit(0, 1, 0),
		unit(0, 1, 0.02),
	}

	c := NewDensityClusterer(3, 3, 0.75)

	first := c.Cluster(append([][]float32(nil), vectors...))
	for run := 0; run < 5; run++ {
		again := c.Cluster(append([][]float32(nil), vectors...))
		for i := range first {
			if first[i] != again[i] {
				t.Fatalf("run %d: labels changed from %v to %v", run, first, again)
			}
		}
	}
}

func TestGroupByLabel(t *testing.T) {
	incidents := []models.Incident{
		{Number: "INC1"},
		{Number: "INC2"},
		{Number: "INC3"},
		{Number: "INC4"},
	}
	vectors := [][]float32{
		unit(1, 0, 0),
		unit(1, 0, 0),
		unit(0, 1, 0),
		unit(0, 0, 1),
	}
	labels := []int{0, 0, 1, Noise}

	g := GroupByLabel(labels, incidents, vectors)

	if len(g.Clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(g.Clusters))
	}
	if len(g.Clusters[0]) != 2 || g.Clusters[0][0].Number != "INC1" {
		t.Errorf("cluster 0 wrong: %+v", g.Clusters[0])
	}
	if g.NoiseCount != 1 {
		t.Errorf("got noise count %d, want 1", g.NoiseCount)
	}
	if want := 0.25; g.NoiseFraction != want {
		t.Errorf("got noise fraction %f, want %f", g.NoiseFraction, want)
	}
	if len(g.VectorsByID[0]) != 2 {
		t.Errorf("cluster 0 vectors wrong: %d", len(g.VectorsByID[0]))
	}
}
