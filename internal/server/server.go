package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/driftline/gardener/internal/engine"
	"github.com/driftline/gardener/internal/store"
)

// Server is the gardener HTTP API server.
type Server struct {
	db      *store.DB
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server with the given database, engine, and version
// string.
func New(db *store.DB, eng *engine.Engine, version string) *Server {
	s := &Server{
		db:      db,
		engine:  eng,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/nodes", s.handleIngest)
		r.Get("/nodes/{nodeID}", s.handleGetNode)
		r.Post("/nodes/{nodeID}/lock", s.handleLock)
		r.Post("/nodes/{nodeID}/unlock", s.handleUnlock)
		r.Get("/nodes/{nodeID}/corrections", s.handleCorrections)
		r.Get("/tree", s.handleTree)
		r.Get("/search", s.handleSearch)

		r.Post("/maintenance/cycle", s.handleRunCycle)
		r.Get("/maintenance/stats", s.handleStats)
		r.Post("/corrections", s.handleCorrect)
		r.Post("/consistency", s.handleConsistency)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	count, _ := s.db.CountNodes()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
		"nodes":   count,
	})
}
