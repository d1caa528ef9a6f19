package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/sop-forge/backend/internal/storage/models"
)

// stubEmbedder maps keyword hits to fixed unit vectors so similarity is
// fully deterministic.
type stubEmbedder struct{}

func (stubEmbedder) Encode(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "vpn"):
		return []float32{1, 0, 0}, nil
	case strings.Contains(lower, "printer"):
		return []float32{0, 1, 0}, nil
	default:
		return []float32{0, 0, 1}, nil
	}
}

func (s stubEmbedder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.Encode(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func kbIncidents() []models.Incident {
	return []models.Incident{
		{
			Number:           "INC1",
			ShortDescription: "VPN drops constantly",
			Description:      "User cannot hold a VPN session for more than a minute",
			ResolutionNotes:  "Restarted the VPN concentrator and updated the client.",
			Category:         "Network",
		},
		{
			Number:           "INC2",
			ShortDescription: "VPN will not connect",
			Description:      "Remote user gets timeout when connecting to VPN",
			ResolutionNotes:  "Reset the user VPN certificate and re-enrolled the device.",
			Category:         "Network",
		},
		{
			Number:           "INC3",
			ShortDescription: "Printer offline",
			Description:      "Office printer shows offline for all users on the floor",
			ResolutionNotes:  "Power cycled the printer and cleared the stuck queue.",
			Category:         "Hardware",
		},
	}
}

func newTestFinder(t *testing.T) *Finder {
	t.Helper()

	finder := NewFinder(stubEmbedder{}, NewMemoryIndex(), 5, 0.6, 20, 30)
	if _, err := finder.Rebuild(context.Background(), kbIncidents()); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	return finder
}

func TestSuggestFindsMatch(t *testing.T) {
	finder := newTestFinder(t)

	s, err := finder.Suggest(context.Background(), "vpn keeps dropping", "", "")
	if err != nil {
		t.Fatal(err)
	}

	if !s.Found {
		t.Fatalf("expected a match, got %+v", s)
	}
	if s.PrimarySource == nil || !strings.HasPrefix(s.PrimarySource.IncidentNumber, "INC") {
		t.Errorf("primary source wrong: %+v", s.PrimarySource)
	}
	if s.Confidence < 60 || s.Confidence > 100 {
		t.Errorf("confidence out of range: %f", s.Confidence)
	}
	if len(s.Alternatives) > 3 {
		t.Errorf("too many alternatives: %d", len(s.Alternatives))
	}
}

func TestSuggestCorroborationNote(t *testing.T) {
	finder := newTestFinder(t)

	// Both VPN incidents embed identically, so the runner-up similarity
	// clears the corroboration bar.
	s, err := finder.Suggest(context.Background(), "vpn session issues", "", "")
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(s.SuggestedResolution, "similar resolved incidents]") {
		t.Errorf("missing corroboration note: %q", s.SuggestedResolution)
	}
}

func TestSuggestNotFoundBelowThreshold(t *testing.T) {
	finder := newTestFinder(t)

	s, err := finder.Suggest(context.Background(), "coffee machine is broken", "", "")
	if err != nil {
		t.Fatal(err)
	}

	if s.Found {
		t.Fatalf("expected not found, got %+v", s)
	}
	if s.Message == "" {
		t.Error("not-found response missing message")
	}
	if s.SuggestedResolution != "" {
		t.Errorf("not-found response carries a resolution: %q", s.SuggestedResolution)
	}
}

func TestFindSimilarCategoryFilter(t *testing.T) {
	finder := newTestFinder(t)

	matches, err := finder.FindSimilar(context.Background(), "vpn problems", "  network  ", 5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}

	matches, err = finder.FindSimilar(context.Background(), "vpn problems", "Hardware", 5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("category filter leaked: %+v", matches)
	}
}

func TestEligibility(t *testing.T) {
	finder := NewFinder(stubEmbedder{}, NewMemoryIndex(), 5, 0.6, 20, 30)

	tests := []struct {
		name string
		inc  models.Incident
		want bool
	}{
		{
			name: "substantial resolution",
			inc:  models.Incident{ResolutionNotes: "Power cycled the access point twice"},
			want: true,
		},
		{
			name: "substantial description only",
			inc:  models.Incident{Description: "Detailed description of the failing login workflow"},
			want: true,
		},
		{
			name: "close notes count as resolution",
			inc:  models.Incident{CloseNotes: "Replaced the faulty switch port cable"},
			want: true,
		},
		{
			name: "too thin",
			inc:  models.Incident{ResolutionNotes: "fixed", Description: "broken"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := finder.Eligible(tt.inc); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRebuildSkipsIneligible(t *testing.T) {
	finder := NewFinder(stubEmbedder{}, NewMemoryIndex(), 5, 0.6, 20, 30)

	incidents := append(kbIncidents(), models.Incident{
		Number:          "INC4",
		ResolutionNotes: "done",
	})

	size, err := finder.Rebuild(context.Background(), incidents)
	if err != nil {
		t.Fatal(err)
	}
	if size != 3 {
		t.Errorf("got index size %d, want 3", size)
	}
}

func TestAddUpdatesLiveIndex(t *testing.T) {
	finder := newTestFinder(t)

	err := finder.Add(context.Background(), models.Incident{
		Number:           "INC9",
		ShortDescription: "Printer jams on duplex",
		ResolutionNotes:  "Cleaned the duplex rollers and realigned the tray.",
		Category:         "Hardware",
	})
	if err != nil {
		t.Fatal(err)
	}

	matches, err := finder.FindSimilar(context.Background(), "printer issue", "", 5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d printer matches, want 2", len(matches))
	}
}

func TestMemoryIndexSnapshotIsolation(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	if err := idx.Load(ctx, kbIncidents(), [][]float32{{1, 0, 0}, {1, 0, 0}, {0, 1, 0}}); err != nil {
		t.Fatal(err)
	}

	before, err := idx.Search(ctx, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}

	if err := idx.Add(ctx, models.Incident{Number: "INC9"}, []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}

	// The earlier result set is untouched by the append.
	if len(before) != 3 {
		t.Errorf("prior search results changed: %d", len(before))
	}
	if idx.Size() != 4 {
		t.Errorf("got size %d, want 4", idx.Size())
	}
}

func TestMemoryIndexLoadMismatch(t *testing.T) {
	idx := NewMemoryIndex()

	err := idx.Load(context.Background(), kbIncidents(), [][]float32{{1, 0, 0}})
	if err == nil {
		t.Fatal("expected mismatch error")
	}
}
