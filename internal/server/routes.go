package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/driftline/gardener/internal/engine"
	"github.com/driftline/gardener/internal/memory"
	"github.com/driftline/gardener/internal/store"
)

type nodeJSON struct {
	ID          string   `json:"id"`
	ParentID    string   `json:"parent_id,omitempty"`
	Level       string   `json:"level"`
	Summary     string   `json:"summary"`
	TsStart     int64    `json:"ts_start"`
	TsEnd       int64    `json:"ts_end"`
	Utility     float64  `json:"utility"`
	Locked      bool     `json:"locked"`
	AccessCount int      `json:"access_count"`
	HasPayload  bool     `json:"has_payload"`
	Compressed  bool     `json:"compressed,omitempty"`
	Detail      string   `json:"detail,omitempty"`
	Lineage     []string `json:"lineage,omitempty"`
	Corrected   bool     `json:"corrected,omitempty"`
	Downgraded  bool     `json:"downgraded,omitempty"`
	Children    int      `json:"children,omitempty"`
}

func toNodeJSON(n *store.MemoryNode) nodeJSON {
	return nodeJSON{
		ID:          n.ID,
		ParentID:    n.ParentID,
		Level:       string(n.Level),
		Summary:     n.Summary,
		TsStart:     n.TsStart,
		TsEnd:       n.TsEnd,
		Utility:     n.Utility,
		Locked:      n.Locked,
		AccessCount: n.AccessCount,
		HasPayload:  n.PayloadKey != "",
		Compressed:  n.PayloadCompressed,
		Detail:      n.Detail,
		Lineage:     n.Lineage,
		Corrected:   n.Corrected,
		Downgraded:  n.Downgraded,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses: bad input 400, missing
// nodes 404, everything else 500.
func writeError(w http.ResponseWriter, err error) {
	var verr *memory.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error()})
	case errors.Is(err, memory.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req engine.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	node, err := s.engine.Ingest(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toNodeJSON(node))
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeID")

	node, err := s.db.GetNode(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if node == nil {
		writeError(w, memory.ErrNotFound)
		return
	}

	// Reading a memory is an access.
	if err := s.db.Touch(id); err == nil {
		node.AccessCount++
	}

	out := toNodeJSON(node)
	children, err := s.db.Children(id)
	if err == nil {
		out.Children = len(children)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	s.setLocked(w, chi.URLParam(r, "nodeID"), true)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	s.setLocked(w, chi.URLParam(r, "nodeID"), false)
}

func (s *Server) setLocked(w http.ResponseWriter, id string, locked bool) {
	node, err := s.db.GetNode(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if node == nil {
		writeError(w, memory.ErrNotFound)
		return
	}
	if err := s.db.SetLocked(id, locked); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "locked": locked})
}

func (s *Server) handleCorrections(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeID")

	node, err := s.db.GetNode(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if node == nil {
		writeError(w, memory.ErrNotFound)
		return
	}

	history, err := s.db.Corrections(id)
	if err != nil {
		writeError(w, err)
		return
	}

	type correctionJSON struct {
		Original      string `json:"original"`
		Correction    string `json:"correction"`
		NewSummary    string `json:"new_summary"`
		Method        string `json:"method"`
		VerifierClaim string `json:"verifier_claim,omitempty"`
		CreatedAt     int64  `json:"created_at"`
	}
	out := make([]correctionJSON, len(history))
	for i, c := range history {
		out[i] = correctionJSON{c.Original, c.Correction, c.NewSummary, c.Method, c.VerifierClaim, c.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"node_id": id, "corrections": out})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")

	var node *store.MemoryNode
	var err error
	if id == "" {
		node, err = s.db.Root()
	} else {
		node, err = s.db.GetNode(id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if node == nil {
		writeError(w, memory.ErrNotFound)
		return
	}

	children, err := s.db.Children(node.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]nodeJSON, len(children))
	for i := range children {
		out[i] = toNodeJSON(&children[i])
		grand, err := s.db.Children(children[i].ID)
		if err == nil {
			out[i].Children = len(grand)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node":     toNodeJSON(node),
		"children": out,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q parameter required"})
		return
	}

	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	level := store.Level(r.URL.Query().Get("level"))
	if level != "" && !level.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown level"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	results, err := s.engine.Search(ctx, query, level, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	type resultJSON struct {
		nodeJSON
		Similarity float64 `json:"similarity"`
	}
	out := make([]resultJSON, len(results))
	for i, res := range results {
		out[i] = resultJSON{toNodeJSON(&res.Node), res.Similarity}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(out),
		"results": out,
	})
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	stats, err := s.engine.RunCycle(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totals := s.engine.Stats()
	count, err := s.db.CountNodes()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes":  count,
		"totals": totals,
	})
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req engine.CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	result, err := s.engine.Correct(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.CheckConsistency()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
