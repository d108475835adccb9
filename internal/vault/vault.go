// Package vault implements the content-addressed blob store. A stored
// object's identity is the SHA-256 of its bytes; a given hash maps to
// exactly one file under content/, with thumbnails mirrored under
// thumbnails/ and in-flight uploads staged under temp/.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lifearch/internal/metrics"
)

// hashChunkSize is the streaming buffer used when hashing files.
const hashChunkSize = 8 * 1024

// tempMaxAge is the default age after which temp files are reclaimable.
const tempMaxAge = 24 * time.Hour

// Vault is the content-addressed blob store rooted at a single directory.
type Vault struct {
	root   string
	logger *slog.Logger
}

// PutResult describes the outcome of storing a file.
type PutResult struct {
	Hash    string
	Path    string
	Size    int64
	Existed bool
}

// ClearStats summarises a Clear operation.
type ClearStats struct {
	FilesDeleted   int   `json:"files_deleted"`
	BytesReclaimed int64 `json:"bytes_reclaimed"`
	Orphans        int   `json:"orphans"`
	Errors         int   `json:"errors"`
}

// Stats aggregates per-subtree object counts and byte totals.
type Stats struct {
	ContentFiles   int   `json:"content_files"`
	ContentBytes   int64 `json:"content_bytes"`
	ThumbnailFiles int   `json:"thumbnail_files"`
	ThumbnailBytes int64 `json:"thumbnail_bytes"`
	TempFiles      int   `json:"temp_files"`
	TempBytes      int64 `json:"temp_bytes"`
	ExportFiles    int   `json:"export_files"`
	ExportBytes    int64 `json:"export_bytes"`
}

// Option configures the Vault.
type Option func(*Vault)

// WithLogger sets the logger for the vault.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		v.logger = logger
	}
}

// New creates a Vault rooted at root, creating the subtree layout.
func New(root string, opts ...Option) (*Vault, error) {
	v := &Vault{
		root:   root,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}

	for _, sub := range []string{"content", "thumbnails", "temp", "exports"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create vault directory %s; %w", sub, err)
		}
	}

	return v, nil
}

// Root returns the vault root directory.
func (v *Vault) Root() string {
	return v.root
}

// HashFile computes the SHA-256 of a file's contents, streaming in 8 KiB
// chunks.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing; %w", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("failed to hash file; %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// contentPath returns the sharded content path for a hash and extension.
// Layout: content/<hash[0:2]>/<hash[2:4]>/<hash[4:]>.<ext>.
func (v *Vault) contentPath(hash, ext string) string {
	name := hash[4:]
	if ext != "" {
		name += "." + ext
	}
	return filepath.Join(v.root, "content", hash[0:2], hash[2:4], name)
}

// thumbnailPath returns the sharded thumbnail path for a hash.
func (v *Vault) thumbnailPath(hash string) string {
	return filepath.Join(v.root, "thumbnails", hash[0:2], hash[2:4], hash[4:]+"_thumb.webp")
}

// NormalizeExt returns the lowercase extension of a path without the dot.
func NormalizeExt(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// Put stores a file by content hash. When hash is empty it is computed by
// streaming the file. If an object with the same hash already exists the
// call returns Existed=true without copying. For image MIME types a
// 256x256 WEBP thumbnail is generated; thumbnail failure is non-fatal.
func (v *Vault) Put(sourcePath, hash, mimeType string) (*PutResult, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source; %w", err)
	}

	if hash == "" {
		hash, err = HashFile(sourcePath)
		if err != nil {
			return nil, err
		}
	}
	if len(hash) != 64 {
		return nil, fmt.Errorf("invalid content hash %q", hash)
	}

	ext := NormalizeExt(sourcePath)
	target := v.contentPath(hash, ext)

	if _, err := os.Stat(target); err == nil {
		return &PutResult{Hash: hash, Path: target, Size: info.Size(), Existed: true}, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create content directory; %w", err)
	}

	// Stage into temp/ then rename so concurrent puts of the same hash
	// race only on the final rename, which is atomic on one filesystem.
	if err := v.copyAtomic(sourcePath, target); err != nil {
		return nil, err
	}
	metrics.VaultBytesStored.Add(float64(info.Size()))

	if strings.HasPrefix(mimeType, "image/") {
		if err := v.generateThumbnail(sourcePath, hash, info.Size()); err != nil {
			v.logger.Warn("thumbnail generation failed", "hash", hash, "error", err)
		}
	}

	return &PutResult{Hash: hash, Path: target, Size: info.Size(), Existed: false}, nil
}

// copyAtomic copies src into the vault via a temp file and rename.
func (v *Vault) copyAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source; %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Join(v.root, "temp"), "put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file; %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to copy into vault; %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file; %w", err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move into vault; %w", err)
	}
	return nil
}

// Get returns the content path for a hash and extension, or empty string
// when absent.
func (v *Vault) Get(hash, ext string) string {
	if len(hash) != 64 {
		return ""
	}
	p := v.contentPath(hash, ext)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// Has reports whether any content object exists for the hash, regardless
// of extension. Used by the folder watcher's dedup pre-check.
func (v *Vault) Has(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	dir := filepath.Join(v.root, "content", hash[0:2], hash[2:4])
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	prefix := hash[4:]
	for _, e := range entries {
		name := e.Name()
		if name == prefix || strings.HasPrefix(name, prefix+".") {
			return true
		}
	}
	return false
}

// GetThumbnail returns the thumbnail path for a hash, or empty string.
func (v *Vault) GetThumbnail(hash string) string {
	if len(hash) != 64 {
		return ""
	}
	p := v.thumbnailPath(hash)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// Delete removes the content file and its thumbnail if present. The
// return value reflects whether the content file existed at entry.
func (v *Vault) Delete(hash, ext string) bool {
	if len(hash) != 64 {
		return false
	}
	target := v.contentPath(hash, ext)
	_, statErr := os.Stat(target)
	existed := statErr == nil

	if existed {
		if err := os.Remove(target); err != nil {
			v.logger.Warn("failed to remove content file", "hash", hash, "error", err)
		}
	}

	thumb := v.thumbnailPath(hash)
	if _, err := os.Stat(thumb); err == nil {
		if err := os.Remove(thumb); err != nil {
			v.logger.Warn("failed to remove thumbnail", "hash", hash, "error", err)
		}
	}

	return existed
}

// Clear removes the given hashes, or everything under content/ and
// thumbnails/ when hashes is empty. Hidden OS metadata files are skipped.
func (v *Vault) Clear(hashes []string) ClearStats {
	var stats ClearStats

	if len(hashes) > 0 {
		for _, h := range hashes {
			if len(h) != 64 {
				stats.Errors++
				continue
			}
			dir := filepath.Join(v.root, "content", h[0:2], h[2:4])
			entries, err := os.ReadDir(dir)
			if err != nil {
				stats.Orphans++
				continue
			}
			prefix := h[4:]
			found := false
			for _, e := range entries {
				name := e.Name()
				if name != prefix && !strings.HasPrefix(name, prefix+".") {
					continue
				}
				found = true
				p := filepath.Join(dir, name)
				if info, err := os.Stat(p); err == nil {
					stats.BytesReclaimed += info.Size()
				}
				if err := os.Remove(p); err != nil {
					stats.Errors++
				} else {
					stats.FilesDeleted++
				}
			}
			if !found {
				stats.Orphans++
			}
			if thumb := v.thumbnailPath(h); fileExists(thumb) {
				if info, err := os.Stat(thumb); err == nil {
					stats.BytesReclaimed += info.Size()
				}
				if err := os.Remove(thumb); err != nil {
					stats.Errors++
				} else {
					stats.FilesDeleted++
				}
			}
		}
		return stats
	}

	for _, sub := range []string{"content", "thumbnails"} {
		root := filepath.Join(v.root, sub)
		filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info == nil || info.IsDir() {
				return nil
			}
			if isHiddenMetadata(info.Name()) {
				return nil
			}
			stats.BytesReclaimed += info.Size()
			if err := os.Remove(path); err != nil {
				stats.Errors++
			} else {
				stats.FilesDeleted++
			}
			return nil
		})
	}

	return stats
}

// CleanupTemp removes temp files older than the given age. A zero age
// uses the 24 hour default.
func (v *Vault) CleanupTemp(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = tempMaxAge
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	tempDir := filepath.Join(v.root, "temp")
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(tempDir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed
}

// CollectStats walks all subtrees and aggregates counts and bytes.
func (v *Vault) CollectStats() Stats {
	var s Stats
	count := func(sub string) (int, int64) {
		var files int
		var bytes int64
		filepath.Walk(filepath.Join(v.root, sub), func(path string, info os.FileInfo, err error) error {
			if err != nil || info == nil || info.IsDir() || isHiddenMetadata(info.Name()) {
				return nil
			}
			files++
			bytes += info.Size()
			return nil
		})
		return files, bytes
	}

	s.ContentFiles, s.ContentBytes = count("content")
	s.ThumbnailFiles, s.ThumbnailBytes = count("thumbnails")
	s.TempFiles, s.TempBytes = count("temp")
	s.ExportFiles, s.ExportBytes = count("exports")
	return s
}

// ExportDir returns the exports directory path.
func (v *Vault) ExportDir() string {
	return filepath.Join(v.root, "exports")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// isHiddenMetadata reports OS metadata files excluded from clear/stats.
func isHiddenMetadata(name string) bool {
	return strings.HasPrefix(name, ".") || name == "Thumbs.db" || name == "desktop.ini"
}
