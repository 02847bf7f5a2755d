package engine

import (
	"fmt"
	"strings"

	"github.com/driftline/gardener/internal/memory"
	"github.com/driftline/gardener/internal/store"
)

// IngestRequest describes one new observation to record.
type IngestRequest struct {
	ParentID string      `json:"parent_id"` // empty: attach under the root
	Level    store.Level `json:"level"`
	Summary  string      `json:"summary"`
	TsStart  int64       `json:"ts_start"`
	TsEnd    int64       `json:"ts_end"`
	Detail   string      `json:"detail,omitempty"`
	Payload  []byte      `json:"payload,omitempty"`
}

// Ingest records a new memory node, storing its raw payload when present.
// The node starts at full utility; decay is the cycle's job.
func (e *Engine) Ingest(req IngestRequest) (*store.MemoryNode, error) {
	if strings.TrimSpace(req.Summary) == "" {
		return nil, &memory.ValidationError{Field: "summary", Reason: "must not be empty"}
	}
	if req.Level == "" {
		req.Level = store.LevelRaw
	}
	if !req.Level.Valid() {
		return nil, &memory.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %q", req.Level)}
	}
	if req.TsStart > req.TsEnd {
		return nil, &memory.ValidationError{Field: "ts_start", Reason: "starts after ts_end"}
	}

	e.treeMu.Lock()
	defer e.treeMu.Unlock()

	parentID := req.ParentID
	if parentID == "" {
		root, err := e.DB.Root()
		if err != nil {
			return nil, err
		}
		if root == nil {
			return nil, fmt.Errorf("ingest: tree has no root")
		}
		parentID = root.ID
	} else {
		parent, err := e.DB.GetNode(parentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, memory.ErrNotFound
		}
	}

	node := &store.MemoryNode{
		ID:       e.DB.NewID(),
		ParentID: parentID,
		Level:    req.Level,
		Summary:  req.Summary,
		TsStart:  req.TsStart,
		TsEnd:    req.TsEnd,
		Detail:   req.Detail,
		Utility:  1.0,
	}

	if len(req.Payload) > 0 {
		key := "payload/" + node.ID
		if err := e.DB.PutPayload(key, req.Payload, "application/octet-stream"); err != nil {
			return nil, err
		}
		node.PayloadKey = key
	}

	if err := e.DB.CreateNode(node); err != nil {
		if node.PayloadKey != "" {
			if _, derr := e.DB.DeletePayload(node.PayloadKey); derr != nil {
				return nil, fmt.Errorf("ingest: %w (orphan payload %s: %v)", err, node.PayloadKey, derr)
			}
		}
		return nil, err
	}
	return node, nil
}
