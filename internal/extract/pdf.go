package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// extractPDFText pulls text from every page of a PDF. Content streams
// use PostScript-like operators; text lives in literal strings inside
// Tj/TJ operators, which is what the stream scanner targets.
func extractPDFText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf; %w", err)
	}

	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return "", fmt.Errorf("failed to parse pdf; %w", err)
	}

	var pages []string
	for i := 1; i <= pdfCtx.PageCount; i++ {
		reader, err := pdfcpu.ExtractPageContent(pdfCtx, i)
		if err != nil {
			continue
		}
		contentBytes, err := io.ReadAll(reader)
		if err != nil {
			continue
		}
		if text := textFromContentStream(contentBytes); text != "" {
			pages = append(pages, text)
		}
	}

	return strings.Join(pages, "\n\n"), nil
}

// textFromContentStream extracts readable text from a PDF content
// stream by collecting literal strings, honoring paren nesting and the
// standard escape sequences.
func textFromContentStream(content []byte) string {
	var text strings.Builder
	str := string(content)

	inParens := 0
	var current strings.Builder

	for i := 0; i < len(str); i++ {
		ch := str[i]

		switch {
		case ch == '(' && (i == 0 || str[i-1] != '\\'):
			inParens++
			if inParens == 1 {
				current.Reset()
			}
		case ch == ')' && (i == 0 || str[i-1] != '\\'):
			if inParens > 0 {
				inParens--
				if inParens == 0 {
					if extracted := current.String(); len(extracted) > 0 {
						text.WriteString(extracted)
						text.WriteString(" ")
					}
				}
			}
		case inParens > 0:
			if ch == '\\' && i+1 < len(str) {
				next := str[i+1]
				switch next {
				case 'n':
					current.WriteString("\n")
					i++
				case 'r':
					current.WriteString("\r")
					i++
				case 't':
					current.WriteString("\t")
					i++
				case '(', ')', '\\':
					current.WriteByte(next)
					i++
				default:
					current.WriteByte(ch)
				}
			} else {
				current.WriteByte(ch)
			}
		}
	}

	return strings.Join(strings.Fields(text.String()), " ")
}

// extractPDFMetadata reads the document information dictionary fields
// the validator lifts onto the xref table. Date strings are normalised
// from the PDF date format to ISO-8601.
func extractPDFMetadata(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf; %w", err)
	}

	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf; %w", err)
	}

	meta := map[string]any{}
	xref := pdfCtx.XRefTable

	putNonEmpty(meta, "title", xref.Title)
	putNonEmpty(meta, "author", xref.Author)
	putNonEmpty(meta, "subject", xref.Subject)
	putNonEmpty(meta, "keywords", xref.Keywords)
	putNonEmpty(meta, "producer", xref.Producer)
	putNonEmpty(meta, "creator", xref.Creator)

	if iso, ok := normalizePDFDate(xref.CreationDate); ok {
		meta["creation_date"] = iso
	}
	if iso, ok := normalizePDFDate(xref.ModDate); ok {
		meta["modification_date"] = iso
	}
	meta["page_count"] = pdfCtx.PageCount

	return meta, nil
}

func putNonEmpty(meta map[string]any, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		meta[key] = v
	}
}
