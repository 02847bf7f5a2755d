package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Level tags a node's place in the hierarchy: raw instant, scene instant,
// event, goal, higher summary. A tagged discriminant, not a type hierarchy.
type Level string

const (
	LevelRaw    Level = "L0"
	LevelScene  Level = "L1"
	LevelEvent  Level = "L2"
	LevelGoal   Level = "L3"
	LevelHigher Level = "L4+"
)

var levelRank = map[Level]int{
	LevelRaw:    0,
	LevelScene:  1,
	LevelEvent:  2,
	LevelGoal:   3,
	LevelHigher: 4,
}

// Valid reports whether l is a known level tag.
func (l Level) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Rank returns the numeric band of the level, L0=0 through L4+=4.
func (l Level) Rank() int { return levelRank[l] }

// MemoryNode is a node in the memory tree. Children are addressed by id
// through the parent_id edge; nodes carry no object back-pointers.
type MemoryNode struct {
	ID       string
	ParentID string // empty for the root
	Ord      int
	Level    Level
	Summary  string

	TsStart int64
	TsEnd   int64

	Utility     float64
	Locked      bool
	AccessCount int
	LastAccess  *int64

	PayloadKey        string // empty when absent or forgotten
	PayloadCompressed bool
	Detail            string

	Lineage []string

	Corrected       bool
	Downgraded      bool
	PriorConfidence *float64

	CreatedAt int64
	UpdatedAt int64
}

// IsRoot reports whether the node is the tree root.
func (n *MemoryNode) IsRoot() bool { return n.ParentID == "" }

const nodeColumns = `id, parent_id, ord, level, summary, ts_start, ts_end,
	utility, locked, access_count, last_access,
	payload_key, payload_compressed, detail, lineage,
	corrected, downgraded, prior_confidence, created_at, updated_at`

// ensureRoot creates the single tree root if the database has none.
func (db *DB) ensureRoot() error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM mem_nodes WHERE parent_id IS NULL").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO mem_nodes (id, parent_id, ord, level, summary, ts_start, ts_end, utility, created_at, updated_at)
		VALUES (?, NULL, 0, ?, ?, ?, ?, 1.0, ?, ?)
	`, db.NewID(), string(LevelHigher), "Lifetime experience of this agent.", now, now, now, now)
	return err
}

// Root returns the tree root.
func (db *DB) Root() (*MemoryNode, error) {
	return db.getWhere("parent_id IS NULL")
}

// GetNode returns a node by id, or nil if not found.
func (db *DB) GetNode(id string) (*MemoryNode, error) {
	return db.getWhere("id = ?", id)
}

func (db *DB) getWhere(where string, args ...any) (*MemoryNode, error) {
	row := db.QueryRow("SELECT "+nodeColumns+" FROM mem_nodes WHERE "+where, args...)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	return n, nil
}

// CreateNode inserts a new node. The id must be fresh (never tombstoned),
// the summary non-empty, the level valid, and the parent present.
func (db *DB) CreateNode(n *MemoryNode) error {
	if strings.TrimSpace(n.Summary) == "" {
		return fmt.Errorf("create node: empty summary")
	}
	if !n.Level.Valid() {
		return fmt.Errorf("create node: invalid level %q", n.Level)
	}
	if n.TsStart > n.TsEnd {
		return fmt.Errorf("create node: ts_start after ts_end")
	}
	if n.ID == "" {
		n.ID = db.NewID()
	}

	retired, err := db.IsTombstoned(n.ID)
	if err != nil {
		return err
	}
	if retired {
		return fmt.Errorf("create node: id %s is retired", n.ID)
	}

	// The root is created once at open time; every other node needs a parent.
	if n.ParentID == "" {
		return fmt.Errorf("create node: parent id required")
	}
	parent, err := db.GetNode(n.ParentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("create node: parent %s does not exist", n.ParentID)
	}

	var maxOrd sql.NullInt64
	if err := db.QueryRow("SELECT MAX(ord) FROM mem_nodes WHERE parent_id = ?", n.ParentID).Scan(&maxOrd); err != nil {
		return fmt.Errorf("sibling ord: %w", err)
	}
	n.Ord = int(maxOrd.Int64) + 1

	now := time.Now().UnixMilli()
	lineage, err := encodeLineage(n.Lineage)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO mem_nodes (id, parent_id, ord, level, summary, ts_start, ts_end,
			utility, locked, access_count, last_access,
			payload_key, payload_compressed, detail, lineage,
			corrected, downgraded, prior_confidence, created_at, updated_at)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?)
	`, n.ID, n.ParentID, n.Ord, string(n.Level), n.Summary, n.TsStart, n.TsEnd,
		n.Utility, boolInt(n.Locked), n.AccessCount, n.LastAccess,
		n.PayloadKey, boolInt(n.PayloadCompressed), n.Detail, lineage,
		boolInt(n.Corrected), boolInt(n.Downgraded), n.PriorConfidence, now, now)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	n.CreatedAt = now
	n.UpdatedAt = now
	return nil
}

// Children returns the ordered direct children of a node.
func (db *DB) Children(id string) ([]MemoryNode, error) {
	rows, err := db.Query("SELECT "+nodeColumns+" FROM mem_nodes WHERE parent_id = ? ORDER BY ord", id)
	if err != nil {
		return nil, fmt.Errorf("children: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// AllNodes returns every node, creation-ordered.
func (db *DB) AllNodes() ([]MemoryNode, error) {
	rows, err := db.Query("SELECT " + nodeColumns + " FROM mem_nodes ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("all nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// CountNodes returns the number of live nodes.
func (db *DB) CountNodes() (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM mem_nodes").Scan(&count)
	return count, err
}

// Ancestors returns the ids of all ancestors of a node, nearest-first,
// ending at the root.
func (db *DB) Ancestors(id string) ([]string, error) {
	var out []string
	seen := map[string]bool{id: true}
	cur := id
	for {
		var parent sql.NullString
		err := db.QueryRow("SELECT parent_id FROM mem_nodes WHERE id = ?", cur).Scan(&parent)
		if err == sql.ErrNoRows {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("ancestors: %w", err)
		}
		if !parent.Valid || parent.String == "" {
			return out, nil
		}
		if seen[parent.String] {
			return nil, fmt.Errorf("ancestors: cycle at %s", parent.String)
		}
		seen[parent.String] = true
		out = append(out, parent.String)
		cur = parent.String
	}
}

// SubtreeIDs returns the id of a node and all its descendants, parent
// before children.
func (db *DB) SubtreeIDs(id string) ([]string, error) {
	out := []string{id}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := db.Children(cur)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			out = append(out, c.ID)
			queue = append(queue, c.ID)
		}
	}
	return out, nil
}

// LeafDescendants returns the leaves beneath a node (nodes with no
// children). A node that is itself a leaf returns just itself.
func (db *DB) LeafDescendants(id string) ([]MemoryNode, error) {
	node, err := db.GetNode(id)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, nil
	}

	children, err := db.Children(id)
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return []MemoryNode{*node}, nil
	}

	var out []MemoryNode
	for _, c := range children {
		leaves, err := db.LeafDescendants(c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, leaves...)
	}
	return out, nil
}

// UpdateSummary replaces a node's summary and optionally sets the
// corrected flag. Locked nodes are left untouched.
func (db *DB) UpdateSummary(id, summary string, corrected bool) error {
	if strings.TrimSpace(summary) == "" {
		return fmt.Errorf("update summary: empty summary")
	}
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE mem_nodes SET summary = ?, corrected = corrected | ?, updated_at = ?
		WHERE id = ? AND locked = 0
	`, summary, boolInt(corrected), now, id)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update summary: node %s missing or locked", id)
	}
	return nil
}

// SetUtility persists a freshly computed utility score.
func (db *DB) SetUtility(id string, utility float64) error {
	_, err := db.Exec("UPDATE mem_nodes SET utility = ? WHERE id = ? AND locked = 0", utility, id)
	if err != nil {
		return fmt.Errorf("set utility: %w", err)
	}
	return nil
}

// SetLocked toggles a node's protection flag. The only mutation that may
// touch a locked node.
func (db *DB) SetLocked(id string, locked bool) error {
	res, err := db.Exec("UPDATE mem_nodes SET locked = ?, updated_at = ? WHERE id = ?",
		boolInt(locked), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set locked: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set locked: node %s not found", id)
	}
	return nil
}

// Touch records a retrieval: bumps access_count and last_access.
func (db *DB) Touch(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE mem_nodes SET access_count = access_count + 1, last_access = ?
		WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("touch: %w", err)
	}
	return nil
}

// MarkDowngraded flags a node whose storage tier was reduced.
func (db *DB) MarkDowngraded(id string) error {
	_, err := db.Exec("UPDATE mem_nodes SET downgraded = 1, updated_at = ? WHERE id = ? AND locked = 0",
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark downgraded: %w", err)
	}
	return nil
}

// MarkPayloadCompressed flags the payload as stored compressed, without
// deleting it.
func (db *DB) MarkPayloadCompressed(id string) error {
	_, err := db.Exec(`
		UPDATE mem_nodes SET payload_compressed = 1, downgraded = 1, updated_at = ?
		WHERE id = ? AND locked = 0
	`, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark payload compressed: %w", err)
	}
	return nil
}

// StripPayload forgets a node's raw payload and detail fields, returning the
// number of payload bytes freed. The summary always survives.
func (db *DB) StripPayload(id string) (int64, error) {
	node, err := db.GetNode(id)
	if err != nil {
		return 0, err
	}
	if node == nil || node.Locked {
		return 0, nil
	}

	var freed int64
	if node.PayloadKey != "" {
		freed, err = db.DeletePayload(node.PayloadKey)
		if err != nil {
			return 0, err
		}
	}
	freed += int64(len(node.Detail))

	_, err = db.Exec(`
		UPDATE mem_nodes SET payload_key = NULL, payload_compressed = 0, detail = NULL, updated_at = ?
		WHERE id = ?
	`, time.Now().UnixMilli(), id)
	if err != nil {
		return freed, fmt.Errorf("strip payload: %w", err)
	}
	return freed, nil
}

// Reparent moves a node under a new parent, appended after the parent's
// existing children.
func (db *DB) Reparent(id, newParentID string) error {
	var maxOrd sql.NullInt64
	if err := db.QueryRow("SELECT MAX(ord) FROM mem_nodes WHERE parent_id = ?", newParentID).Scan(&maxOrd); err != nil {
		return fmt.Errorf("reparent ord: %w", err)
	}
	res, err := db.Exec(`
		UPDATE mem_nodes SET parent_id = ?, ord = ?, updated_at = ?
		WHERE id = ? AND locked = 0
	`, newParentID, int(maxOrd.Int64)+1, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("reparent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reparent: node %s missing or locked", id)
	}
	return nil
}

// DeleteSubtree tombstones and removes a node and all its descendants in one
// transaction. Deletion is two-phase: every id is marked (tombstoned) before
// any row is unlinked, so a failure mid-delete never leaves an un-retired
// id behind. Locked nodes abort the delete. Returns the deleted ids and the
// payload bytes freed.
func (db *DB) DeleteSubtree(id string) ([]string, int64, error) {
	node, err := db.GetNode(id)
	if err != nil {
		return nil, 0, err
	}
	if node == nil {
		return nil, 0, nil
	}
	if node.IsRoot() {
		return nil, 0, fmt.Errorf("delete subtree: refusing to delete the root")
	}

	ids, err := db.SubtreeIDs(id)
	if err != nil {
		return nil, 0, err
	}

	// Collect payload keys and sizes before mutating anything.
	var freed int64
	var payloadKeys []string
	for _, nid := range ids {
		n, err := db.GetNode(nid)
		if err != nil {
			return nil, 0, err
		}
		if n == nil {
			continue
		}
		if n.Locked {
			return nil, 0, fmt.Errorf("delete subtree: node %s is locked", nid)
		}
		if n.PayloadKey != "" {
			size, err := db.PayloadSize(n.PayloadKey)
			if err != nil {
				return nil, 0, err
			}
			freed += size
			payloadKeys = append(payloadKeys, n.PayloadKey)
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, 0, fmt.Errorf("delete subtree: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()

	// Phase 1: mark. Retire every id before touching structure.
	for _, nid := range ids {
		var level string
		if err := tx.QueryRow("SELECT level FROM mem_nodes WHERE id = ?", nid).Scan(&level); err != nil {
			return nil, 0, fmt.Errorf("tombstone %s: %w", nid, err)
		}
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO tombstones (id, level, deleted_at) VALUES (?, ?, ?)",
			nid, level, now,
		); err != nil {
			return nil, 0, fmt.Errorf("tombstone %s: %w", nid, err)
		}
	}

	// Phase 2: unlink. Children before parents so the parent_id foreign key
	// never dangles mid-transaction.
	for i := len(ids) - 1; i >= 0; i-- {
		if _, err := tx.Exec("DELETE FROM corrections WHERE node_id = ?", ids[i]); err != nil {
			return nil, 0, fmt.Errorf("delete corrections %s: %w", ids[i], err)
		}
		if _, err := tx.Exec("DELETE FROM mem_vectors WHERE node_id = ?", ids[i]); err != nil {
			return nil, 0, fmt.Errorf("delete vector %s: %w", ids[i], err)
		}
		if _, err := tx.Exec("DELETE FROM mem_nodes WHERE id = ?", ids[i]); err != nil {
			return nil, 0, fmt.Errorf("delete node %s: %w", ids[i], err)
		}
	}

	for _, key := range payloadKeys {
		if _, err := tx.Exec("DELETE FROM payloads WHERE key = ?", key); err != nil {
			return nil, 0, fmt.Errorf("delete payload %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("delete subtree: %w", err)
	}
	return ids, freed, nil
}

// IsTombstoned reports whether an id has been retired.
func (db *DB) IsTombstoned(id string) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM tombstones WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("is tombstoned: %w", err)
	}
	return count > 0, nil
}

func encodeLineage(ids []string) (any, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode lineage: %w", err)
	}
	return string(data), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*MemoryNode, error) {
	var n MemoryNode
	var parentID, payloadKey, detail, lineage sql.NullString
	var lastAccess sql.NullInt64
	var priorConf sql.NullFloat64
	var locked, compressed, corrected, downgraded int
	var level string

	err := row.Scan(&n.ID, &parentID, &n.Ord, &level, &n.Summary, &n.TsStart, &n.TsEnd,
		&n.Utility, &locked, &n.AccessCount, &lastAccess,
		&payloadKey, &compressed, &detail, &lineage,
		&corrected, &downgraded, &priorConf, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}

	n.ParentID = parentID.String
	n.Level = Level(level)
	n.Locked = locked != 0
	n.PayloadKey = payloadKey.String
	n.PayloadCompressed = compressed != 0
	n.Detail = detail.String
	n.Corrected = corrected != 0
	n.Downgraded = downgraded != 0
	if lastAccess.Valid {
		n.LastAccess = &lastAccess.Int64
	}
	if priorConf.Valid {
		n.PriorConfidence = &priorConf.Float64
	}
	if lineage.Valid && lineage.String != "" {
		if err := json.Unmarshal([]byte(lineage.String), &n.Lineage); err != nil {
			return nil, fmt.Errorf("decode lineage: %w", err)
		}
	}
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]MemoryNode, error) {
	var nodes []MemoryNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}
