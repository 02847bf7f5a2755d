package config

import "fmt"

// Config holds all gardener configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	LLM         LLMConfig         `toml:"llm"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LLMConfig struct {
	Provider       string `toml:"provider"` // "anthropic", "ollama"
	Model          string `toml:"model"`
	OllamaURL      string `toml:"ollama_url"`
	OllamaModel    string `toml:"ollama_model"`
	EmbeddingModel string `toml:"embedding_model"` // e.g. "nomic-embed-text"
	AnthropicKey   string `toml:"anthropic_key"`
}

// MaintenanceConfig tunes the eviction/editing core.
type MaintenanceConfig struct {
	IntervalMinutes int `toml:"interval_minutes"` // eviction cycle period

	// Forgetting thresholds, high > med > low.
	ThresholdHigh float64 `toml:"threshold_high"`
	ThresholdMed  float64 `toml:"threshold_med"`
	ThresholdLow  float64 `toml:"threshold_low"`

	// Utility weights (access, salience, density). Normalized at use.
	Alpha float64 `toml:"alpha"`
	Beta  float64 `toml:"beta"`
	Gamma float64 `toml:"gamma"`

	// Access decay coefficient, per day.
	LambdaDecay float64 `toml:"lambda_decay"`

	// Correction history kept per node; oldest entries dropped beyond this.
	MaxCorrectionHistory int `toml:"max_correction_history"`

	// Upper bound on any single collaborator call (LLM, VLM, embedder).
	CollaboratorTimeoutSecs int `toml:"collaborator_timeout_secs"`

	// Confidence gates for the correction strategy.
	ConfidenceHigh float64 `toml:"confidence_high"`
	ConfidenceLow  float64 `toml:"confidence_low"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37791,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider: "",
			Model:    "claude-haiku-4-5-20251001",
		},
		Maintenance: MaintenanceConfig{
			IntervalMinutes:         60,
			ThresholdHigh:           0.7,
			ThresholdMed:            0.4,
			ThresholdLow:            0.2,
			Alpha:                   0.5,
			Beta:                    0.3,
			Gamma:                   0.2,
			LambdaDecay:             0.01,
			MaxCorrectionHistory:    20,
			CollaboratorTimeoutSecs: 30,
			ConfidenceHigh:          0.9,
			ConfidenceLow:           0.5,
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
