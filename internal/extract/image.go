package extract

import (
	"fmt"
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// exifDateLayout is the EXIF datetime format.
const exifDateLayout = "2006:01:02 15:04:05"

// extractImageMetadata decodes EXIF tags from an image. Images without
// an EXIF block yield an empty map.
func extractImageMetadata(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image; %w", err)
	}
	defer f.Close()

	ex, err := exif.Decode(f)
	if err != nil {
		return map[string]any{}, nil
	}

	meta := map[string]any{}

	if v, ok := exifString(ex, exif.Make); ok {
		meta["camera_make"] = v
	}
	if v, ok := exifString(ex, exif.Model); ok {
		meta["camera_model"] = v
	}
	if v, ok := exifString(ex, exif.Software); ok {
		meta["software"] = v
	}

	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized, exif.DateTime} {
		raw, ok := exifString(ex, field)
		if !ok {
			continue
		}
		if t, err := time.Parse(exifDateLayout, raw); err == nil {
			meta["date_taken"] = t.UTC().Format(time.RFC3339)
			break
		}
	}

	return meta, nil
}

// exifString fetches a string-valued EXIF tag, reporting whether it was
// present and non-empty.
func exifString(ex *exif.Exif, field exif.FieldName) (string, bool) {
	tag, err := ex.Get(field)
	if err != nil {
		return "", false
	}
	v, err := tag.StringVal()
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}
