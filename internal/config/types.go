package config

// Config is the root configuration structure for the archive.
type Config struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	LogFile  string `yaml:"log_file" mapstructure:"log_file"`

	// Home is the archive's state directory (lifearch_home). The vault,
	// exports, and the JSON tracker backend (when enabled) live under it.
	Home      string `yaml:"home" mapstructure:"home"`
	VaultPath string `yaml:"vault_path" mapstructure:"vault_path"`

	Redis   RedisConfig   `yaml:"redis" mapstructure:"redis"`
	Qdrant  QdrantConfig  `yaml:"qdrant" mapstructure:"qdrant"`
	LLM     LLMConfig     `yaml:"llm" mapstructure:"llm"`
	Chunk   ChunkConfig   `yaml:"chunk" mapstructure:"chunk"`
	Watch   WatchConfig   `yaml:"watch" mapstructure:"watch"`
	Worker  WorkerConfig  `yaml:"worker" mapstructure:"worker"`
	Tracker TrackerConfig `yaml:"tracker" mapstructure:"tracker"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	ConnectTimeout int    `yaml:"connect_timeout" mapstructure:"connect_timeout"` // seconds
}

// QdrantConfig holds vector store configuration.
type QdrantConfig struct {
	Host       string `yaml:"host" mapstructure:"host"`
	Port       int    `yaml:"port" mapstructure:"port"`
	Collection string `yaml:"collection" mapstructure:"collection"`
	Dimensions int    `yaml:"dimensions" mapstructure:"dimensions"`
}

// LLMConfig holds language model and embedding runtime configuration.
// The runtime is any OpenAI-compatible endpoint; by default a local
// Ollama server.
type LLMConfig struct {
	OllamaURL      string `yaml:"ollama_url" mapstructure:"ollama_url"`
	Model          string `yaml:"model" mapstructure:"model"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// ChunkConfig holds sentence-splitter parameters.
type ChunkConfig struct {
	Size    int `yaml:"size" mapstructure:"size"`
	Overlap int `yaml:"overlap" mapstructure:"overlap"`
}

// WatchConfig holds folder-watch tunables.
type WatchConfig struct {
	DebounceSeconds      float64 `yaml:"debounce_seconds" mapstructure:"debounce_seconds"`
	IngestionConcurrency int     `yaml:"ingestion_concurrency" mapstructure:"ingestion_concurrency"`
	MaxFolders           int     `yaml:"max_folders" mapstructure:"max_folders"`
	MaxFileSizeBytes     int64   `yaml:"max_file_size_bytes" mapstructure:"max_file_size_bytes"`
}

// WorkerConfig holds enrichment-worker tunables.
type WorkerConfig struct {
	EnrichmentEnabled bool `yaml:"enrichment_enabled" mapstructure:"enrichment_enabled"`
	MaxRestarts       int  `yaml:"max_restarts" mapstructure:"max_restarts"`
}

// TrackerConfig selects the document tracker backend.
type TrackerConfig struct {
	// Backend is "redis" or "jsonfile".
	Backend string `yaml:"backend" mapstructure:"backend"`
	// JSONPath is the store file for the jsonfile backend; defaults to
	// <home>/tracker.json.
	JSONPath string `yaml:"json_path" mapstructure:"json_path"`
}
