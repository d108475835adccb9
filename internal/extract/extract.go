// Package extract harvests plaintext and format-internal metadata from
// archived files. Extraction is dispatched by MIME type; unknown types
// yield empty output rather than failing the ingestion pipeline.
package extract

import (
	"context"
	"log/slog"
	"strings"
)

// Method identifies the text extraction method used, recorded in
// document provenance.
type Method string

const (
	MethodTextFile Method = "text_file"
	MethodPDF      Method = "pdf"
	MethodDOCX     Method = "docx"
	MethodXLSX     Method = "xlsx"
	MethodOCR      Method = "ocr"
	MethodUnknown  Method = "unknown"
)

// TextResult is the outcome of text extraction.
type TextResult struct {
	Text   string
	Method Method
}

// mimeDOCX and mimeXLSX are the OOXML MIME types.
const (
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Extractor dispatches per-format text and metadata extraction.
type Extractor struct {
	logger *slog.Logger
}

// Option configures the Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Text extracts plaintext from the file at path according to its MIME
// type. Unknown types return an empty result with MethodUnknown; errors
// on known types degrade to an empty result so ingestion can proceed.
func (e *Extractor) Text(ctx context.Context, path, mimeType string) TextResult {
	if err := ctx.Err(); err != nil {
		return TextResult{Method: MethodUnknown}
	}

	switch {
	case isTextMIME(mimeType):
		text, err := extractTextFile(path)
		if err != nil {
			e.logger.Warn("text extraction failed", "path", path, "error", err)
			return TextResult{Method: MethodTextFile}
		}
		return TextResult{Text: text, Method: MethodTextFile}

	case mimeType == "application/pdf":
		text, err := extractPDFText(path)
		if err != nil {
			e.logger.Warn("pdf extraction failed", "path", path, "error", err)
			return TextResult{Method: MethodPDF}
		}
		return TextResult{Text: text, Method: MethodPDF}

	case mimeType == mimeDOCX:
		text, err := extractDOCXText(path)
		if err != nil {
			e.logger.Warn("docx extraction failed", "path", path, "error", err)
			return TextResult{Method: MethodDOCX}
		}
		return TextResult{Text: text, Method: MethodDOCX}

	case mimeType == mimeXLSX:
		text, err := extractXLSXText(path)
		if err != nil {
			e.logger.Warn("xlsx extraction failed", "path", path, "error", err)
			return TextResult{Method: MethodXLSX}
		}
		return TextResult{Text: text, Method: MethodXLSX}

	default:
		return TextResult{Method: MethodUnknown}
	}
}

// Metadata harvests format-internal metadata (creation date, author,
// camera model, ...) from the file at path. The result maps metadata
// field names to values; unknown types return an empty map.
func (e *Extractor) Metadata(ctx context.Context, path, mimeType string) map[string]any {
	if err := ctx.Err(); err != nil {
		return map[string]any{}
	}

	var (
		meta map[string]any
		err  error
	)

	switch {
	case mimeType == "application/pdf":
		meta, err = extractPDFMetadata(path)
	case mimeType == mimeDOCX || mimeType == mimeXLSX:
		meta, err = extractOfficeMetadata(path)
	case strings.HasPrefix(mimeType, "image/"):
		meta, err = extractImageMetadata(path)
	default:
		return map[string]any{}
	}

	if err != nil {
		e.logger.Warn("metadata extraction failed", "path", path, "mime", mimeType, "error", err)
		return map[string]any{}
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return meta
}

// isTextMIME reports MIME types read directly as plaintext.
func isTextMIME(mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	switch mimeType {
	case "application/json", "application/xml", "application/x-ndjson", "application/rtf":
		return true
	}
	return false
}
