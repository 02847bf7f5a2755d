package store

import (
	"fmt"
	"time"
)

// Correction is one retroactive-edit record on a node.
type Correction struct {
	ID            int64
	NodeID        string
	Original      string
	Correction    string
	NewSummary    string
	Method        string // "direct", "user_priority", "verifier"
	VerifierClaim string
	CreatedAt     int64
}

// AddCorrection appends a correction record to a node's history, trimming
// the history to maxLen entries (oldest dropped first).
func (db *DB) AddCorrection(c *Correction, maxLen int) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO corrections (node_id, original, correction, new_summary, method, verifier_claim, created_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?)
	`, c.NodeID, c.Original, c.Correction, c.NewSummary, c.Method, c.VerifierClaim, now)
	if err != nil {
		return fmt.Errorf("add correction: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	c.CreatedAt = now

	if maxLen > 0 {
		_, err = db.Exec(`
			DELETE FROM corrections WHERE node_id = ? AND id NOT IN (
				SELECT id FROM corrections WHERE node_id = ?
				ORDER BY created_at DESC, id DESC LIMIT ?
			)
		`, c.NodeID, c.NodeID, maxLen)
		if err != nil {
			return fmt.Errorf("trim corrections: %w", err)
		}
	}
	return nil
}

// Corrections returns a node's correction history, oldest first.
func (db *DB) Corrections(nodeID string) ([]Correction, error) {
	rows, err := db.Query(`
		SELECT id, node_id, original, correction, new_summary, method, COALESCE(verifier_claim, ''), created_at
		FROM corrections WHERE node_id = ?
		ORDER BY created_at, id
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("corrections: %w", err)
	}
	defer rows.Close()

	var out []Correction
	for rows.Next() {
		var c Correction
		if err := rows.Scan(&c.ID, &c.NodeID, &c.Original, &c.Correction, &c.NewSummary,
			&c.Method, &c.VerifierClaim, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// feedbackCap bounds the verification ledger; older outcomes age out.
const feedbackCap = 100

// AddFeedback records whether a past user correction survived verification.
func (db *DB) AddFeedback(verified bool) error {
	now := time.Now().UnixMilli()
	if _, err := db.Exec("INSERT INTO feedback (verified, created_at) VALUES (?, ?)",
		boolInt(verified), now); err != nil {
		return fmt.Errorf("add feedback: %w", err)
	}
	_, err := db.Exec(`
		DELETE FROM feedback WHERE id NOT IN (
			SELECT id FROM feedback ORDER BY created_at DESC, id DESC LIMIT ?
		)
	`, feedbackCap)
	if err != nil {
		return fmt.Errorf("trim feedback: %w", err)
	}
	return nil
}

// UserAccuracy returns the fraction of user corrections confirmed by
// verification. With no history the user is assumed fairly reliable (0.8).
func (db *DB) UserAccuracy() (float64, error) {
	var total, correct int
	err := db.QueryRow("SELECT COUNT(*), COALESCE(SUM(verified), 0) FROM feedback").Scan(&total, &correct)
	if err != nil {
		return 0, fmt.Errorf("user accuracy: %w", err)
	}
	if total == 0 {
		return 0.8, nil
	}
	return float64(correct) / float64(total), nil
}
