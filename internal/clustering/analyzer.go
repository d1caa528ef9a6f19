package clustering

import (
	"sort"
	"strings"
	"time"
	"unicode"

	prose "github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/sop-forge/backend/internal/storage/models"
	"github.com/sop-forge/backend/pkg/logger"
)

// minKeywordLength filters out short filler tokens before frequency ranking.
const minKeywordLength = 5

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Analysis is a read-only summary of one cluster.
type Analysis struct {
	ClusterID            int            `json:"cluster_id"`
	IncidentCount        int            `json:"incident_count"`
	CommonCategories     []CategoryCount `json:"common_categories"`
	PriorityDistribution map[string]int `json:"priority_distribution"`
	AvgResolutionHours   float64        `json:"avg_resolution_time"`
	CommonKeywords       []string       `json:"common_keywords"`
	Representative       string         `json:"representative_incident"`
}

type Analyzer struct {
	topKeywords int
}

func NewAnalyzer(topKeywords int) *Analyzer {
	if topKeywords <= 0 {
		topKeywords = 10
	}
	return &Analyzer{topKeywords: topKeywords}
}

// Analyze summarizes a cluster. vectors must be parallel to incidents; the
// representative is always a true member of the cluster.
func (a *Analyzer) Analyze(clusterID int, incidents []models.Incident, vectors [][]float32) *Analysis {
	logger.Info("Analyzing cluster",
		zap.Int("cluster_id", clusterID),
		zap.Int("incidents", len(incidents)),
	)

	var resolutions []string
	for _, inc := range incidents {
		if res := inc.Resolution(); res != "" {
			resolutions = append(resolutions, res)
		}
	}

	return &Analysis{
		ClusterID:            clusterID,
		IncidentCount:        len(incidents),
		CommonCategories:     categoryDistribution(incidents),
		PriorityDistribution: priorityDistribution(incidents),
		AvgResolutionHours:   avgResolutionHours(incidents),
		CommonKeywords:       a.extractKeywords(resolutions),
		Representative:       representativeIncident(incidents, vectors),
	}
}

func categoryDistribution(incidents []models.Incident) []CategoryCount {
	counts := make(map[string]int)
	for _, inc := range incidents {
		if inc.Category != "" {
			counts[inc.Category]++
		}
	}

	dist := make([]CategoryCount, 0, len(counts))
	for cat, n := range counts {
		dist = append(dist, CategoryCount{Category: cat, Count: n})
	}

	sort.Slice(dist, func(i, j int) bool {
		if dist[i].Count != dist[j].Count {
			return dist[i].Count > dist[j].Count
		}
		return dist[i].Category < dist[j].Category
	})

	return dist
}

func priorityDistribution(incidents []models.Incident) map[string]int {
	dist := make(map[string]int)
	for _, inc := range incidents {
		priority := inc.Priority
		if priority == "" {
			priority = "Unknown"
		}
		dist[priority]++
	}
	return dist
}

// avgResolutionHours averages over members where both timestamps parse;
// unparseable timestamps are silently excluded rather than failing the
// analysis.
func avgResolutionHours(incidents []models.Incident) float64 {
	var total float64
	var count int

	for _, inc := range incidents {
		created, ok := parseTimestamp(inc.CreatedAt)
		if !ok {
			continue
		}
		resolved, ok := parseTimestamp(inc.ResolvedAt)
		if !ok {
			continue
		}

		total += resolved.Sub(created).Hours()
		count++
	}

	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// representativeIncident picks the member closest to the cluster centroid
// (highest dot product; vectors are unit-norm).
func representativeIncident(incidents []models.Incident, vectors [][]float32) string {
	if len(incidents) == 0 {
		return ""
	}
	if len(vectors) != len(incidents) {
		return incidents[0].Number
	}

	centroid := Centroid(vectors)

	best := 0
	bestScore := Dot(vectors[0], centroid)
	for i := 1; i < len(vectors); i++ {
		if score := Dot(vectors[i], centroid); score > bestScore {
			best = i
			bestScore = score
		}
	}

	return incidents[best].Number
}

// extractKeywords is a coarse topic signal over resolution text: lowercase
// tokens above the length floor, ranked by frequency. Best effort only; SOP
// step extraction does not depend on it.
func (a *Analyzer) extractKeywords(texts []string) []string {
	freq := make(map[string]int)

	for _, text := range texts {
		doc, err := prose.NewDocument(text,
			prose.WithTagging(false),
			prose.WithExtraction(false),
			prose.WithSegmentation(false),
		)
		if err != nil {
			logger.Warn("Keyword tokenization failed", zap.Error(err))
			continue
		}

		for _, tok := range doc.Tokens() {
			word := strings.ToLower(tok.Text)
			if len(word) < minKeywordLength || !isWord(word) {
				continue
			}
			freq[word]++
		}
	}

	type wordCount struct {
		word  string
		count int
	}

	ranked := make([]wordCount, 0, len(freq))
	for w, n := range freq {
		ranked = append(ranked, wordCount{w, n})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	if len(ranked) > a.topKeywords {
		ranked = ranked[:a.topKeywords]
	}

	keywords := make([]string, len(ranked))
	for i, wc := range ranked {
		keywords[i] = wc.word
	}
	return keywords
}

func isWord(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
