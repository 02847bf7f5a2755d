package store

import (
	"math"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)
	n := mustCreate(t, db, root.ID, LevelRaw, "embedded memory")

	vec := []float64{0.1, -0.5, 0.93, 0}
	if err := db.SaveVector(n.ID, vec, "tfidf"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}

	got, err := db.GetVector(n.ID)
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if got == nil {
		t.Fatal("vector not found")
	}
	if got.Model != "tfidf" || got.Dimensions != 4 {
		t.Errorf("model = %q dims = %d", got.Model, got.Dimensions)
	}
	for i := range vec {
		if math.Abs(got.Embedding[i]-vec[i]) > 1e-12 {
			t.Errorf("embedding[%d] = %v, want %v", i, got.Embedding[i], vec[i])
		}
	}
}

func TestGetVectorMissing(t *testing.T) {
	db := testDB(t)

	got, err := db.GetVector("no-such-node")
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing vector")
	}
}

func TestSaveVectorReplaces(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)
	n := mustCreate(t, db, root.ID, LevelRaw, "re-embedded memory")

	if err := db.SaveVector(n.ID, []float64{1, 2}, "tfidf"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}
	if err := db.SaveVector(n.ID, []float64{3, 4, 5}, "ollama:nomic"); err != nil {
		t.Fatalf("SaveVector replace: %v", err)
	}

	got, _ := db.GetVector(n.ID)
	if got.Dimensions != 3 || got.Model != "ollama:nomic" {
		t.Errorf("after replace: dims = %d model = %q", got.Dimensions, got.Model)
	}
}

func TestDeleteVector(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)
	n := mustCreate(t, db, root.ID, LevelRaw, "fleeting embedding")

	if err := db.SaveVector(n.ID, []float64{1}, "tfidf"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}
	if err := db.DeleteVector(n.ID); err != nil {
		t.Fatalf("DeleteVector: %v", err)
	}
	if got, _ := db.GetVector(n.ID); got != nil {
		t.Error("vector survived delete")
	}
}
