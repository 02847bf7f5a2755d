package store

import (
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// mustCreate inserts a node under the given parent and returns it.
func mustCreate(t *testing.T, db *DB, parentID string, level Level, summary string) *MemoryNode {
	t.Helper()
	n := &MemoryNode{
		ParentID: parentID,
		Level:    level,
		Summary:  summary,
		TsStart:  1000,
		TsEnd:    2000,
		Utility:  0.5,
	}
	if err := db.CreateNode(n); err != nil {
		t.Fatalf("CreateNode(%q): %v", summary, err)
	}
	return n
}

func mustRoot(t *testing.T, db *DB) *MemoryNode {
	t.Helper()
	root, err := db.Root()
	if err != nil || root == nil {
		t.Fatalf("Root: %v", err)
	}
	return root
}

func TestCreateAndGetNode(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	n := mustCreate(t, db, root.ID, LevelRaw, "picked up the mug")

	got, err := db.GetNode(n.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got == nil {
		t.Fatal("node not found after create")
	}
	if got.Summary != "picked up the mug" {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.ParentID != root.ID {
		t.Errorf("parent = %q, want %q", got.ParentID, root.ID)
	}
	if got.Level != LevelRaw {
		t.Errorf("level = %q", got.Level)
	}
}

func TestGetNodeMissing(t *testing.T) {
	db := testDB(t)

	got, err := db.GetNode("no-such-id")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing node")
	}
}

func TestCreateNodeValidation(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	cases := []struct {
		name string
		node MemoryNode
	}{
		{"empty summary", MemoryNode{ParentID: root.ID, Level: LevelRaw, Summary: "  ", TsEnd: 1}},
		{"invalid level", MemoryNode{ParentID: root.ID, Level: "L9", Summary: "x y", TsEnd: 1}},
		{"inverted range", MemoryNode{ParentID: root.ID, Level: LevelRaw, Summary: "x y", TsStart: 5, TsEnd: 1}},
		{"no parent", MemoryNode{Level: LevelRaw, Summary: "x y", TsEnd: 1}},
		{"missing parent", MemoryNode{ParentID: "ghost", Level: LevelRaw, Summary: "x y", TsEnd: 1}},
	}
	for _, tc := range cases {
		n := tc.node
		if err := db.CreateNode(&n); err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}
}

func TestChildrenOrdered(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	a := mustCreate(t, db, root.ID, LevelEvent, "first event")
	b := mustCreate(t, db, root.ID, LevelEvent, "second event")
	c := mustCreate(t, db, root.ID, LevelEvent, "third event")

	children, err := db.Children(root.ID)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("children = %d, want 3", len(children))
	}
	want := []string{a.ID, b.ID, c.ID}
	for i, id := range want {
		if children[i].ID != id {
			t.Errorf("child[%d] = %s, want %s", i, children[i].ID, id)
		}
	}
}

func TestAncestorsNearestFirst(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	goal := mustCreate(t, db, root.ID, LevelGoal, "tidy the kitchen")
	event := mustCreate(t, db, goal.ID, LevelEvent, "washed dishes")
	leaf := mustCreate(t, db, event.ID, LevelRaw, "turned on the tap")

	ancestors, err := db.Ancestors(leaf.ID)
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	want := []string{event.ID, goal.ID, root.ID}
	if len(ancestors) != len(want) {
		t.Fatalf("ancestors = %v, want %v", ancestors, want)
	}
	for i := range want {
		if ancestors[i] != want[i] {
			t.Errorf("ancestor[%d] = %s, want %s", i, ancestors[i], want[i])
		}
	}
}

func TestLeafDescendants(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	event := mustCreate(t, db, root.ID, LevelEvent, "made breakfast")
	leafA := mustCreate(t, db, event.ID, LevelRaw, "cracked eggs")
	leafB := mustCreate(t, db, event.ID, LevelRaw, "toasted bread")

	leaves, err := db.LeafDescendants(event.ID)
	if err != nil {
		t.Fatalf("LeafDescendants: %v", err)
	}
	if len(leaves) != 2 {
		t.Fatalf("leaves = %d, want 2", len(leaves))
	}
	got := map[string]bool{leaves[0].ID: true, leaves[1].ID: true}
	if !got[leafA.ID] || !got[leafB.ID] {
		t.Errorf("leaves = %v", got)
	}

	// A leaf is its own only leaf descendant.
	self, err := db.LeafDescendants(leafA.ID)
	if err != nil {
		t.Fatalf("LeafDescendants(leaf): %v", err)
	}
	if len(self) != 1 || self[0].ID != leafA.ID {
		t.Errorf("leaf descendants of a leaf = %v", self)
	}
}

func TestUpdateSummaryLockedRefused(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	n := mustCreate(t, db, root.ID, LevelRaw, "original text")
	if err := db.SetLocked(n.ID, true); err != nil {
		t.Fatalf("SetLocked: %v", err)
	}

	if err := db.UpdateSummary(n.ID, "rewritten text", true); err == nil {
		t.Error("expected error updating locked node")
	}

	got, _ := db.GetNode(n.ID)
	if got.Summary != "original text" {
		t.Errorf("locked summary changed to %q", got.Summary)
	}
}

func TestTouch(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)
	n := mustCreate(t, db, root.ID, LevelRaw, "observed shelf contents")

	for i := 0; i < 3; i++ {
		if err := db.Touch(n.ID); err != nil {
			t.Fatalf("Touch: %v", err)
		}
	}

	got, _ := db.GetNode(n.ID)
	if got.AccessCount != 3 {
		t.Errorf("access_count = %d, want 3", got.AccessCount)
	}
	if got.LastAccess == nil {
		t.Error("last_access not set")
	}
}

func TestStripPayload(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	payload := []byte("raw image bytes here")
	if err := db.PutPayload("payload/x", payload, "image/png"); err != nil {
		t.Fatalf("PutPayload: %v", err)
	}
	n := &MemoryNode{
		ParentID:   root.ID,
		Level:      LevelRaw,
		Summary:    "saw the charging dock",
		TsStart:    1000,
		TsEnd:      2000,
		PayloadKey: "payload/x",
		Detail:     "dock detail",
	}
	if err := db.CreateNode(n); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}

	freed, err := db.StripPayload(n.ID)
	if err != nil {
		t.Fatalf("StripPayload: %v", err)
	}
	want := int64(len(payload) + len("dock detail"))
	if freed != want {
		t.Errorf("freed = %d, want %d", freed, want)
	}

	got, _ := db.GetNode(n.ID)
	if got.PayloadKey != "" || got.Detail != "" {
		t.Error("payload fields survived strip")
	}
	if got.Summary != "saw the charging dock" {
		t.Error("summary lost on strip")
	}

	data, _ := db.GetPayload("payload/x")
	if data != nil {
		t.Error("payload blob survived strip")
	}
}

func TestStripPayloadLockedNoop(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	if err := db.PutPayload("payload/y", []byte("data"), ""); err != nil {
		t.Fatalf("PutPayload: %v", err)
	}
	n := &MemoryNode{
		ParentID: root.ID, Level: LevelRaw, Summary: "precious moment",
		TsStart: 1, TsEnd: 2, PayloadKey: "payload/y",
	}
	if err := db.CreateNode(n); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := db.SetLocked(n.ID, true); err != nil {
		t.Fatalf("SetLocked: %v", err)
	}

	freed, err := db.StripPayload(n.ID)
	if err != nil {
		t.Fatalf("StripPayload: %v", err)
	}
	if freed != 0 {
		t.Errorf("freed = %d on locked node", freed)
	}
	got, _ := db.GetNode(n.ID)
	if got.PayloadKey == "" {
		t.Error("locked node lost its payload")
	}
}

func TestDeleteSubtreeTwoPhase(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	event := mustCreate(t, db, root.ID, LevelEvent, "corridor sweep")
	leaf := mustCreate(t, db, event.ID, LevelRaw, "passed doorway")

	ids, _, err := db.DeleteSubtree(event.ID)
	if err != nil {
		t.Fatalf("DeleteSubtree: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("deleted %d nodes, want 2", len(ids))
	}

	for _, id := range []string{event.ID, leaf.ID} {
		if got, _ := db.GetNode(id); got != nil {
			t.Errorf("node %s survived delete", id)
		}
		retired, err := db.IsTombstoned(id)
		if err != nil {
			t.Fatalf("IsTombstoned: %v", err)
		}
		if !retired {
			t.Errorf("node %s not tombstoned", id)
		}
	}
}

func TestDeletedIDNeverReused(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	n := mustCreate(t, db, root.ID, LevelRaw, "to be retired")
	if _, _, err := db.DeleteSubtree(n.ID); err != nil {
		t.Fatalf("DeleteSubtree: %v", err)
	}

	reborn := &MemoryNode{
		ID: n.ID, ParentID: root.ID, Level: LevelRaw,
		Summary: "same id again", TsStart: 1, TsEnd: 2,
	}
	if err := db.CreateNode(reborn); err == nil {
		t.Error("expected error recreating retired id")
	}
}

func TestDeleteSubtreeLockedAborts(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	event := mustCreate(t, db, root.ID, LevelEvent, "treasured trip")
	leaf := mustCreate(t, db, event.ID, LevelRaw, "sunset photo")
	if err := db.SetLocked(leaf.ID, true); err != nil {
		t.Fatalf("SetLocked: %v", err)
	}

	if _, _, err := db.DeleteSubtree(event.ID); err == nil {
		t.Fatal("expected error deleting subtree with locked descendant")
	}

	// Nothing was deleted or retired.
	for _, id := range []string{event.ID, leaf.ID} {
		if got, _ := db.GetNode(id); got == nil {
			t.Errorf("node %s deleted despite lock", id)
		}
		if retired, _ := db.IsTombstoned(id); retired {
			t.Errorf("node %s tombstoned despite lock", id)
		}
	}
}

func TestDeleteSubtreeRefusesRoot(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	if _, _, err := db.DeleteSubtree(root.ID); err == nil {
		t.Error("expected error deleting the root")
	}
}

func TestDeleteSubtreeFreesPayloads(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	payload := []byte("sixteen payload bytes...")
	if err := db.PutPayload("payload/z", payload, ""); err != nil {
		t.Fatalf("PutPayload: %v", err)
	}
	n := &MemoryNode{
		ParentID: root.ID, Level: LevelRaw, Summary: "with payload",
		TsStart: 1, TsEnd: 2, PayloadKey: "payload/z",
	}
	if err := db.CreateNode(n); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}

	_, freed, err := db.DeleteSubtree(n.ID)
	if err != nil {
		t.Fatalf("DeleteSubtree: %v", err)
	}
	if freed != int64(len(payload)) {
		t.Errorf("freed = %d, want %d", freed, len(payload))
	}
	if data, _ := db.GetPayload("payload/z"); data != nil {
		t.Error("payload survived subtree delete")
	}
}

func TestReparent(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	oldParent := mustCreate(t, db, root.ID, LevelHigher, "week one")
	newParent := mustCreate(t, db, root.ID, LevelHigher, "week two")
	child := mustCreate(t, db, oldParent.ID, LevelEvent, "moved house")

	if err := db.Reparent(child.ID, newParent.ID); err != nil {
		t.Fatalf("Reparent: %v", err)
	}

	got, _ := db.GetNode(child.ID)
	if got.ParentID != newParent.ID {
		t.Errorf("parent = %q, want %q", got.ParentID, newParent.ID)
	}
}

func TestLineageRoundTrip(t *testing.T) {
	db := testDB(t)
	root := mustRoot(t, db)

	n := &MemoryNode{
		ParentID: root.ID, Level: LevelEvent,
		Summary: "merged patrol summaries",
		TsStart: 1, TsEnd: 2,
		Lineage: []string{"01AAA", "01BBB"},
	}
	if err := db.CreateNode(n); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}

	got, _ := db.GetNode(n.ID)
	if len(got.Lineage) != 2 || got.Lineage[0] != "01AAA" || got.Lineage[1] != "01BBB" {
		t.Errorf("lineage = %v", got.Lineage)
	}
}
