package memory

import (
	"math"
	"testing"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("Grasped the RED mug, twice! (at t=5)")
	want := []string{"grasped", "the", "red", "mug", "twice", "at"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTokenizeDropsSingleChars(t *testing.T) {
	got := Tokenize("a b c go ok")
	if len(got) != 2 || got[0] != "go" || got[1] != "ok" {
		t.Errorf("Tokenize = %v, want [go ok]", got)
	}
}

func TestJaccard(t *testing.T) {
	if got := Jaccard("red mug cabinet", "red mug cabinet"); got != 1.0 {
		t.Errorf("identical Jaccard = %v, want 1.0", got)
	}
	if got := Jaccard("red mug cabinet", "blue plate drawer"); got != 0.0 {
		t.Errorf("disjoint Jaccard = %v, want 0.0", got)
	}
	if got := Jaccard("", "anything here"); got != 0.0 {
		t.Errorf("empty Jaccard = %v, want 0.0", got)
	}

	// {red, mug} vs {red, plate}: 1 shared, 3 union.
	got := Jaccard("red mug", "red plate")
	if math.Abs(got-1.0/3.0) > 1e-12 {
		t.Errorf("partial Jaccard = %v, want 1/3", got)
	}
}

func TestOverlap(t *testing.T) {
	a := TokenSet("the cup was on the left shelf")
	b := TokenSet("left shelf inspection complete")
	if got := Overlap(a, b); got != 2 {
		t.Errorf("Overlap = %d, want 2 (left, shelf)", got)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Errorf("orthogonal cosine = %v, want 0", got)
	}
	if got := CosineSimilarity([]float64{2, 0}, []float64{5, 0}); math.Abs(got-1) > 1e-12 {
		t.Errorf("parallel cosine = %v, want 1", got)
	}
	if got := CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}); got != 0 {
		t.Errorf("mismatched-length cosine = %v, want 0", got)
	}
	if got := CosineSimilarity(nil, nil); got != 0 {
		t.Errorf("empty cosine = %v, want 0", got)
	}
}
