package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftline/gardener/internal/config"
	"github.com/driftline/gardener/internal/engine"
	"github.com/driftline/gardener/internal/llm"
	"github.com/driftline/gardener/internal/server"
	"github.com/driftline/gardener/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and background maintenance",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Default()

	// Check for ANTHROPIC_API_KEY env override
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.Provider = "anthropic"
		cfg.LLM.AnthropicKey = key
	}

	db, err := openDB(&cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// LLM is optional: without it the engine degrades to its deterministic
	// fallbacks for summarization and salience.
	var llmClient llm.Client
	if client, err := llm.NewClient(cfg.LLM); err != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), using local fallbacks\n", err)
	} else {
		llmClient = client
		fmt.Fprintf(os.Stderr, "  llm: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	}

	eng := engine.New(db, llmClient, cfg.Maintenance)
	configureEmbedder(eng, db, cfg)
	eng.StartMaintenance()
	defer eng.Stop()

	srv := server.New(db, eng, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "gardener serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", db.Path)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}

// openDB resolves the database path (GARDENER_DB env, config, then the
// default under the home dir) and opens it.
func openDB(cfg *config.Config) (*store.DB, error) {
	dbPath := os.Getenv("GARDENER_DB")
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// configureEmbedder probes Ollama for a real embedding model and falls back
// to a TF-IDF model built from the current tree.
func configureEmbedder(eng *engine.Engine, db *store.DB, cfg config.Config) {
	ollamaURL := cfg.LLM.OllamaURL
	if ollamaURL == "" {
		ollamaURL = "http://localhost:11434"
	}
	embeddingModel := cfg.LLM.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "nomic-embed-text"
	}

	if engine.ProbeOllama(ollamaURL, embeddingModel) {
		eng.SetEmbedder(engine.NewOllamaEmbedder(ollamaURL, embeddingModel, 768))
		fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", embeddingModel)
		return
	}

	emb, err := engine.NewTFIDFEmbedder(db, 512)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: tfidf embedder init failed: %v\n", err)
		return
	}
	eng.SetEmbedder(emb)
	fmt.Fprintf(os.Stderr, "  embedder: tfidf (fallback)\n")
}
