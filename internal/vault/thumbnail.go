package vault

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	_ "golang.org/x/image/webp" // register WebP decoding for source images
)

const (
	thumbnailSize    = 256
	thumbnailQuality = 80

	// thumbnailMaxSourceBytes caps the source size for thumbnail
	// generation; larger images are skipped with a warning.
	thumbnailMaxSourceBytes = 50 * 1024 * 1024
)

// generateThumbnail renders a 256x256 WEBP thumbnail for an image source.
// A partial thumbnail file is removed on any failure so the thumbnail tree
// never holds truncated objects.
func (v *Vault) generateThumbnail(sourcePath, hash string, sourceSize int64) error {
	if sourceSize > thumbnailMaxSourceBytes {
		v.logger.Warn("image too large for thumbnail, skipping",
			"hash", hash, "size", sourceSize, "max", thumbnailMaxSourceBytes)
		return nil
	}

	img, err := imaging.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to decode image; %w", err)
	}

	thumb := imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos)

	target := v.thumbnailPath(hash)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create thumbnail directory; %w", err)
	}

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create thumbnail file; %w", err)
	}

	if err := webp.Encode(out, thumb, &webp.Options{Quality: thumbnailQuality}); err != nil {
		out.Close()
		os.Remove(target)
		return fmt.Errorf("failed to encode thumbnail; %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(target)
		return fmt.Errorf("failed to finalise thumbnail; %w", err)
	}

	return nil
}
