package config

import (
	"fmt"
)

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Chunk.Size <= 0 {
		return fmt.Errorf("chunk.size must be positive, got %d", c.Chunk.Size)
	}
	if c.Chunk.Overlap < 0 {
		return fmt.Errorf("chunk.overlap must be non-negative, got %d", c.Chunk.Overlap)
	}
	if c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunk.overlap (%d) must be smaller than chunk.size (%d)", c.Chunk.Overlap, c.Chunk.Size)
	}

	if c.Watch.IngestionConcurrency <= 0 {
		return fmt.Errorf("watch.ingestion_concurrency must be positive, got %d", c.Watch.IngestionConcurrency)
	}
	if c.Watch.DebounceSeconds < 0 {
		return fmt.Errorf("watch.debounce_seconds must be non-negative, got %f", c.Watch.DebounceSeconds)
	}
	if c.Watch.MaxFolders <= 0 {
		return fmt.Errorf("watch.max_folders must be positive, got %d", c.Watch.MaxFolders)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url must not be empty")
	}

	switch c.Tracker.Backend {
	case "redis", "jsonfile":
	default:
		return fmt.Errorf("tracker.backend must be \"redis\" or \"jsonfile\", got %q", c.Tracker.Backend)
	}

	if c.Qdrant.Dimensions <= 0 {
		return fmt.Errorf("qdrant.dimensions must be positive, got %d", c.Qdrant.Dimensions)
	}

	return nil
}
