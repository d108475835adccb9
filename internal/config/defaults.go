package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultHome returns the default archive state directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lifearch"
	}
	return filepath.Join(home, ".lifearch")
}

// newDefaultViper returns a viper instance carrying only the defaults.
func newDefaultViper() *viper.Viper {
	v := viper.New()
	setViperDefaults(v)
	return v
}

// setViperDefaults registers default values for all configuration keys.
func setViperDefaults(v *viper.Viper) {
	archHome := DefaultHome()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", filepath.Join(archHome, "logs", "lifearch.log"))

	v.SetDefault("home", archHome)
	v.SetDefault("vault_path", filepath.Join(archHome, "vault"))

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.connect_timeout", 5)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "lifearch_chunks")
	v.SetDefault("qdrant.dimensions", 768)

	v.SetDefault("llm.ollama_url", "http://localhost:11434/v1")
	v.SetDefault("llm.model", "llama3.1:8b")
	v.SetDefault("llm.embedding_model", "nomic-embed-text")
	v.SetDefault("llm.timeout_seconds", 300)

	v.SetDefault("chunk.size", 2600)
	v.SetDefault("chunk.overlap", 200)

	v.SetDefault("watch.debounce_seconds", 2.0)
	v.SetDefault("watch.ingestion_concurrency", 5)
	v.SetDefault("watch.max_folders", 100)
	v.SetDefault("watch.max_file_size_bytes", int64(100*1024*1024))

	v.SetDefault("worker.enrichment_enabled", true)
	v.SetDefault("worker.max_restarts", 5)

	v.SetDefault("tracker.backend", "redis")
	v.SetDefault("tracker.json_path", filepath.Join(archHome, "tracker.json"))
}
