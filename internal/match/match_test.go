package match

import (
	"math"
	"testing"

	"github.com/andresmejia3/faceguard/internal/config"
	"github.com/andresmejia3/faceguard/internal/types"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a    []float64
		b    []float64
		want float64
	}{
		{"identical", []float64{0.3, 0.4, 0.5}, []float64{0.3, 0.4, 0.5}, 0},
		{"scaled copy", []float64{1, 0}, []float64{5, 0}, 0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, math.Sqrt2},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, 2},
		{"zero vectors", []float64{0, 0}, []float64{0, 0}, 0},
		{"different lengths", []float64{1, 0, 0}, []float64{1, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-5 {
				t.Errorf("Distance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDistanceToSelfIsZero(t *testing.T) {
	vectors := [][]float64{
		{0.1, 0.9, 0.3, 0.2},
		{12, -4, 7, 0.5},
		make([]float64, 128),
	}
	for i, v := range vectors {
		if d := Distance(v, v); d > 1e-9 {
			t.Errorf("Vector %d: expected zero self distance, got %g", i, d)
		}
	}
}

func TestThresholdFor(t *testing.T) {
	cfg := config.MatchingConfig{ThresholdModel: 0.8, ThresholdDescriptor: 1.15}
	if got := ThresholdFor(types.MethodModel, cfg); got != 0.8 {
		t.Errorf("Expected 0.8 for model encodings, got %f", got)
	}
	if got := ThresholdFor(types.MethodDescriptor, cfg); got != 1.15 {
		t.Errorf("Expected 1.15 for descriptor encodings, got %f", got)
	}
}

func TestMatch(t *testing.T) {
	ids := []types.Identity{
		{ID: "E1", Centroid: []float64{1, 0, 0}},
		{ID: "E2", Centroid: []float64{0, 1, 0}},
		{ID: "E3", Centroid: []float64{0, 0, 1}},
	}
	m := New(ids, 0.8)

	tests := []struct {
		name   string
		probe  []float64
		wantID string
		wantOK bool
	}{
		{"exact E2", []float64{0, 2, 0}, "E2", true},
		{"near E1", []float64{1, 0.2, 0}, "E1", true},
		{"between all", []float64{1, 1, 1}, "", false},
		{"opposite of everything", []float64{-1, -1, -1}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, dist, ok := m.Match(tt.probe)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("Match() = (%q, %f, %v), want (%q, _, %v)", id, dist, ok, tt.wantID, tt.wantOK)
			}
			if !ok && math.IsInf(dist, 1) {
				t.Error("A miss against a non-empty matcher must report the minimum distance")
			}
		})
	}
}

func TestMatchTieKeepsInsertionOrder(t *testing.T) {
	ids := []types.Identity{
		{ID: "first", Centroid: []float64{1, 0}},
		{ID: "second", Centroid: []float64{0, 1}},
	}
	id, _, ok := New(ids, 1.15).Match([]float64{1, 1})
	if !ok || id != "first" {
		t.Errorf("Expected the first identity to win a tie, got %q (ok=%v)", id, ok)
	}
}

func TestMatchMonotonicity(t *testing.T) {
	// A is closer to the probe than B, both below the threshold.
	ids := []types.Identity{
		{ID: "B", Centroid: []float64{1, 0.5}},
		{ID: "A", Centroid: []float64{1, 0.1}},
	}
	probe := []float64{1, 0}
	if Distance(probe, ids[1].Centroid) >= Distance(probe, ids[0].Centroid) {
		t.Fatal("Test setup: A must be closer than B")
	}
	id, _, ok := New(ids, 1.15).Match(probe)
	if !ok || id != "A" {
		t.Errorf("Expected A, got %q", id)
	}
}

func TestMatchBoundaryIsExclusive(t *testing.T) {
	ids := []types.Identity{{ID: "E1", Centroid: []float64{1, 0}}}
	dist := Distance([]float64{0, 1}, ids[0].Centroid)
	if _, _, ok := New(ids, dist).Match([]float64{0, 1}); ok {
		t.Error("A distance equal to the threshold must not match")
	}
}

func TestMatchEmpty(t *testing.T) {
	id, dist, ok := New(nil, 0.8).Match([]float64{1, 2, 3})
	if ok || id != "" || !math.IsInf(dist, 1) {
		t.Errorf("Expected (\"\", +Inf, false), got (%q, %f, %v)", id, dist, ok)
	}
}
