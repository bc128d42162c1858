package filegpt

import (
	"os"
	"path/filepath"
)

// Config holds every setting the Engine needs to start, grounded on the
// teacher's Config shape (struct-of-sections, a DefaultConfig
// constructor, a resolve*Path helper) but narrowed to spec §6's
// explicit list: model runtime host/model, session storage mode and
// path, and the data directory layout spec §6 "Persisted state layout"
// names.
type Config struct {
	// DataDir is the root of the persisted-state layout (spec §6):
	// catalog.db, vectors/, bm25.snapshot, sessions.db, logs/engine.log
	// all live under it.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// WatchRoots are the filesystem directories scanned on startup and
	// watched thereafter.
	WatchRoots []string `json:"watch_roots" yaml:"watch_roots"`

	// Model runtime connection (spec §6 "Environment variables: model
	// runtime host, model name").
	ModelHost  string `json:"model_host" yaml:"model_host"`
	ChatModel  string `json:"chat_model" yaml:"chat_model"`
	EmbedModel string `json:"embed_model" yaml:"embed_model"`

	// SessionMode is "memory" or "persistent" (spec §6).
	SessionMode string `json:"session_mode" yaml:"session_mode"`
	// SessionDBPath overrides the default sessions.db location.
	SessionDBPath string `json:"session_db_path" yaml:"session_db_path"`

	// Listen is the HTTP surface's bind address (cmd/engined).
	Listen string `json:"listen" yaml:"listen"`
}

// DefaultConfig returns a Config pointed at a local Ollama-compatible
// runtime and a data directory under the user's home, following the
// teacher's DefaultConfig's "sensible local defaults" convention.
func DefaultConfig() Config {
	return Config{
		DataDir:     defaultDataDir(),
		ModelHost:   "http://localhost:11434",
		ChatModel:   "llama3.1:8b",
		EmbedModel:  "nomic-embed-text",
		SessionMode: "persistent",
		Listen:      ":8711",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".filegpt"
	}
	return filepath.Join(home, ".filegpt")
}

// ConfigFromEnv overlays environment variables onto cfg (spec §6:
// "Environment variables: model runtime host, model name, session
// storage mode, session database path"). Unset variables leave the
// existing value untouched.
func ConfigFromEnv(cfg Config) Config {
	if v := os.Getenv("FILEGPT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("FILEGPT_MODEL_HOST"); v != "" {
		cfg.ModelHost = v
	}
	if v := os.Getenv("FILEGPT_CHAT_MODEL"); v != "" {
		cfg.ChatModel = v
	}
	if v := os.Getenv("FILEGPT_EMBED_MODEL"); v != "" {
		cfg.EmbedModel = v
	}
	if v := os.Getenv("FILEGPT_SESSION_MODE"); v != "" {
		cfg.SessionMode = v
	}
	if v := os.Getenv("FILEGPT_SESSION_DB_PATH"); v != "" {
		cfg.SessionDBPath = v
	}
	if v := os.Getenv("FILEGPT_LISTEN"); v != "" {
		cfg.Listen = v
	}
	return cfg
}

// CatalogPath, VectorDir, KeywordSnapshotPath, SessionDBPath, and
// LogPath resolve the data-directory-relative layout spec §6 names.

func (c Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

func (c Config) VectorDir() string {
	return filepath.Join(c.DataDir, "vectors")
}

func (c Config) KeywordSnapshotPath() string {
	return filepath.Join(c.DataDir, "bm25.snapshot")
}

func (c Config) sessionDBPath() string {
	if c.SessionDBPath != "" {
		return c.SessionDBPath
	}
	return filepath.Join(c.DataDir, "sessions.db")
}

func (c Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "engine.log")
}
