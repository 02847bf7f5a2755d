// Package engine hosts the maintenance core of the memory tree: the
// utility-driven eviction cycle, the retroactive editing engine, and the
// consistency checker, all scheduled by an explicit owner with a start/stop
// lifecycle.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/driftline/gardener/internal/config"
	"github.com/driftline/gardener/internal/llm"
	"github.com/driftline/gardener/internal/memory"
	"github.com/driftline/gardener/internal/store"
)

// Engine owns the memory tree's background maintenance. EvictionCycle and
// the editing path are each non-reentrant: a trigger arriving while a run is
// active queues behind it on the respective mutex. Structural mutation is
// guarded by a coarse tree lock so readers never observe a half-merged
// subtree.
type Engine struct {
	DB       *store.DB
	LLM      llm.Client
	Embedder Embedder
	Scorer   *memory.Scorer
	Policy   memory.Policy

	interval       time.Duration
	timeout        time.Duration // bound on any single collaborator call
	maxHistory     int
	confidenceHigh float64
	confidenceLow  float64

	treeMu  sync.Mutex // structural mutation
	cycleMu sync.Mutex // serializes eviction cycles
	editMu  sync.Mutex // serializes corrections

	stopCh   chan struct{}
	stopOnce sync.Once

	statsMu sync.Mutex
	totals  Totals
}

// Totals accumulates maintenance work across the engine's lifetime.
type Totals struct {
	CyclesRun       int   `json:"cycles_run"`
	NodesForgotten  int   `json:"nodes_forgotten"`
	NodesDowngraded int   `json:"nodes_downgraded"`
	NodesMerged     int   `json:"nodes_merged"`
	NodesDeleted    int   `json:"nodes_deleted"`
	EditsPerformed  int   `json:"edits_performed"`
	StorageSaved    int64 `json:"storage_saved_bytes"`
}

// New creates an Engine. client may be nil; every generation/verification
// call then uses its local fallback.
func New(db *store.DB, client llm.Client, cfg config.MaintenanceConfig) *Engine {
	scorer := memory.NewScorer(memory.Weights{Alpha: cfg.Alpha, Beta: cfg.Beta, Gamma: cfg.Gamma})
	if cfg.LambdaDecay > 0 {
		scorer.LambdaDecay = cfg.LambdaDecay
	}

	e := &Engine{
		DB:             db,
		LLM:            client,
		Scorer:         scorer,
		Policy:         memory.Policy{High: cfg.ThresholdHigh, Med: cfg.ThresholdMed, Low: cfg.ThresholdLow},
		interval:       time.Duration(cfg.IntervalMinutes) * time.Minute,
		timeout:        time.Duration(cfg.CollaboratorTimeoutSecs) * time.Second,
		maxHistory:     cfg.MaxCorrectionHistory,
		confidenceHigh: cfg.ConfidenceHigh,
		confidenceLow:  cfg.ConfidenceLow,
		stopCh:         make(chan struct{}),
	}
	if e.interval <= 0 {
		e.interval = time.Hour
	}
	if e.timeout <= 0 {
		e.timeout = 30 * time.Second
	}
	if e.maxHistory <= 0 {
		e.maxHistory = 20
	}
	if e.confidenceHigh <= 0 {
		e.confidenceHigh = 0.9
	}
	if e.confidenceLow <= 0 {
		e.confidenceLow = 0.5
	}
	if client != nil {
		e.Scorer.Salience = e.llmSalience
	}
	return e
}

// SetEmbedder configures the embedding provider.
func (e *Engine) SetEmbedder(emb Embedder) {
	e.Embedder = emb
}

// StartMaintenance runs an eviction cycle immediately and then on the
// configured interval until Stop is called. A cycle failure is logged and
// retried on the next tick; the scheduler itself never dies.
func (e *Engine) StartMaintenance() {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.interval)
		defer cancel()
		if stats, err := e.RunCycle(ctx); err != nil {
			log.Printf("cycle: aborted: %v", err)
		} else {
			log.Printf("cycle: processed=%d forgotten=%d downgraded=%d merged=%d deleted=%d saved=%dB",
				stats.Processed, stats.Forgotten, stats.Downgraded, stats.Merged, stats.Deleted, stats.StorageSaved)
		}
	}

	run()

	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				run()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the maintenance loop.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Stats returns a snapshot of lifetime maintenance totals.
func (e *Engine) Stats() Totals {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.totals
}

func (e *Engine) addTotals(delta Totals) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.totals.CyclesRun += delta.CyclesRun
	e.totals.NodesForgotten += delta.NodesForgotten
	e.totals.NodesDowngraded += delta.NodesDowngraded
	e.totals.NodesMerged += delta.NodesMerged
	e.totals.NodesDeleted += delta.NodesDeleted
	e.totals.EditsPerformed += delta.EditsPerformed
	e.totals.StorageSaved += delta.StorageSaved
}
