package extract

import (
	"mime"
	"path/filepath"
	"strings"
)

// DetectMIME determines the MIME type for a file from its extension,
// falling back to a table of document formats the archive cares about.
func DetectMIME(path string) string {
	ext := strings.ToLower(filepath.Ext(path))

	// Try the standard mime package first.
	mimeType := mime.TypeByExtension(ext)
	if mimeType != "" {
		// Strip parameters like charset
		if idx := strings.Index(mimeType, ";"); idx != -1 {
			mimeType = strings.TrimSpace(mimeType[:idx])
		}
		return mimeType
	}

	return extensionToMIME(ext)
}

// extensionToMIME maps extensions to MIME types for formats the mime
// package may not know on minimal platforms.
func extensionToMIME(ext string) string {
	mimeMap := map[string]string{
		".pdf":  "application/pdf",
		".docx": mimeDOCX,
		".doc":  "application/msword",
		".xlsx": mimeXLSX,
		".xls":  "application/vnd.ms-excel",
		".odt":  "application/vnd.oasis.opendocument.text",
		".rtf":  "application/rtf",
		".txt":  "text/plain",
		".md":   "text/markdown",
		".csv":  "text/csv",
		".json": "application/json",
		".xml":  "application/xml",
		".html": "text/html",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".gif":  "image/gif",
		".webp": "image/webp",
		".tiff": "image/tiff",
		".heic": "image/heic",
	}

	if mt, ok := mimeMap[ext]; ok {
		return mt
	}
	return "application/octet-stream"
}
