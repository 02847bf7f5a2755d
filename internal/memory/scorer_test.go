package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/driftline/gardener/internal/store"
)

func newNode(id, summary string) *store.MemoryNode {
	now := time.Now().UnixMilli()
	return &store.MemoryNode{
		ID:        id,
		Level:     store.LevelRaw,
		Summary:   summary,
		TsStart:   now,
		TsEnd:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestScoreAlwaysInUnitRange(t *testing.T) {
	s := NewScorer(DefaultWeights())
	now := time.Now()

	nodes := []*store.MemoryNode{
		newNode("a", "grasped the red mug and failed to place it"),
		newNode("b", ""),
		newNode("c", "navigated to the dock, completed charging, first time success"),
	}
	nodes[2].AccessCount = 500
	la := now.UnixMilli()
	nodes[2].LastAccess = &la

	var population []store.MemoryNode
	for _, n := range nodes {
		population = append(population, *n)
	}

	for _, n := range nodes {
		u := s.Score(context.Background(), n, now, population, nil)
		if u < 0 || u > 1 {
			t.Errorf("Score(%s) = %v, outside [0,1]", n.ID, u)
		}
	}
}

func TestNeverAccessedFloor(t *testing.T) {
	s := NewScorer(DefaultWeights())
	n := newNode("cold", "unremarkable ambient reading")
	n.CreatedAt = time.Now().Add(-365 * 24 * time.Hour).UnixMilli()

	if got := s.accessScore(n, time.Now()); got != 0.1 {
		t.Errorf("never-accessed score = %v, want floor 0.1", got)
	}
}

func TestAccessScoreDecays(t *testing.T) {
	s := NewScorer(DefaultWeights())
	now := time.Now()

	fresh := newNode("fresh", "x")
	fresh.AccessCount = 100
	la := now.UnixMilli()
	fresh.LastAccess = &la

	stale := newNode("stale", "x")
	stale.AccessCount = 100
	old := now.Add(-200 * 24 * time.Hour).UnixMilli()
	stale.LastAccess = &old

	fs := s.accessScore(fresh, now)
	ss := s.accessScore(stale, now)
	if ss >= fs {
		t.Errorf("stale score %v >= fresh score %v", ss, fs)
	}
}

func TestHeuristicSalienceBuckets(t *testing.T) {
	cases := []struct {
		summary string
		want    float64
	}{
		{"gripper collision with the table edge", 0.9},
		{"the plate fell and shattered", 0.9},
		{"completed the sorting task", 0.7},
		{"grasped the handle and opened the drawer", 0.5},
		{"ambient temperature reading stable", 0.3},
	}
	for _, tc := range cases {
		if got := HeuristicSalience(tc.summary); got != tc.want {
			t.Errorf("HeuristicSalience(%q) = %v, want %v", tc.summary, got, tc.want)
		}
	}
}

func TestSalienceFallbackOnError(t *testing.T) {
	s := NewScorer(DefaultWeights())
	s.Salience = func(ctx context.Context, summary string) (float64, error) {
		return 0, fmt.Errorf("collaborator down")
	}

	got := s.salienceScore(context.Background(), "the arm got stuck in the doorway")
	if got != 0.9 {
		t.Errorf("salience with failing collaborator = %v, want heuristic 0.9", got)
	}
}

func TestDensitySingletonPopulation(t *testing.T) {
	s := NewScorer(DefaultWeights())
	n := newNode("only", "the one and only memory")

	if got := s.densityScore(n, []store.MemoryNode{*n}, nil); got != 1.0 {
		t.Errorf("singleton density = %v, want 1.0", got)
	}
}

func TestDensityPenalizesDuplicates(t *testing.T) {
	s := NewScorer(DefaultWeights())
	dup1 := newNode("d1", "corridor patrol scan segment alpha")
	dup2 := newNode("d2", "corridor patrol scan segment alpha")
	unique := newNode("u1", "kitchen window latch inspection")

	population := []store.MemoryNode{*dup1, *dup2, *unique}

	dd := s.densityScore(dup1, population, nil)
	ud := s.densityScore(unique, population, nil)
	if dd >= ud {
		t.Errorf("duplicate density %v >= unique density %v", dd, ud)
	}
	if dd != 0 {
		t.Errorf("exact duplicate density = %v, want 0", dd)
	}
}

func TestDensityPrefersVectors(t *testing.T) {
	s := NewScorer(DefaultWeights())
	a := newNode("a", "text one")
	b := newNode("b", "text two")
	population := []store.MemoryNode{*a, *b}

	// Orthogonal vectors: maximally unique regardless of text overlap.
	vectors := map[string][]float64{
		"a": {1, 0},
		"b": {0, 1},
	}
	if got := s.densityScore(a, population, vectors); got != 1.0 {
		t.Errorf("orthogonal-vector density = %v, want 1.0", got)
	}
}

func TestColdRoutineNodeLandsBelowMed(t *testing.T) {
	// A never-accessed node with routine language and nothing unusual should
	// fall below the downgrade threshold so the cycle strips its payload.
	s := NewScorer(DefaultWeights())
	n := newNode("cold", "ambient corridor reading nominal")
	other := newNode("other", "docking station battery telemetry")
	population := []store.MemoryNode{*n, *other}

	u := s.Score(context.Background(), n, time.Now(), population, nil)
	if u >= 0.4 {
		t.Errorf("cold routine node utility = %v, want < 0.4", u)
	}
	if u < 0.2 {
		t.Errorf("distinct cold node utility = %v, should stay above the merge band", u)
	}
}

func TestWeightsNormalized(t *testing.T) {
	s := NewScorer(Weights{Alpha: 5, Beta: 3, Gamma: 2})
	w := s.Weights
	if w.Alpha != 0.5 || w.Beta != 0.3 || w.Gamma != 0.2 {
		t.Errorf("normalized weights = %+v", w)
	}

	// Degenerate weights fall back to the defaults.
	s = NewScorer(Weights{})
	if s.Weights != DefaultWeights() {
		t.Errorf("zero weights = %+v, want defaults", s.Weights)
	}
}
