package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCX XML structures, covering the subset of word/document.xml needed
// for plaintext recovery.

type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    docxBody `xml:"body"`
}

type docxBody struct {
	Paragraphs []docxParagraph `xml:"p"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Texts []docxText `xml:"t"`
}

type docxText struct {
	Value string `xml:",chardata"`
}

// extractDOCXText reads word/document.xml from the DOCX container and
// joins paragraph runs, separating paragraphs with blank lines.
func extractDOCXText(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open docx as zip; %w", err)
	}
	defer zr.Close()

	data, err := readZipFile(&zr.Reader, "word/document.xml")
	if err != nil {
		return "", fmt.Errorf("failed to read document.xml; %w", err)
	}

	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("failed to parse document.xml; %w", err)
	}

	var paragraphs []string
	for _, p := range doc.Body.Paragraphs {
		var sb strings.Builder
		for _, r := range p.Runs {
			for _, t := range r.Texts {
				sb.WriteString(t.Value)
			}
		}
		if text := strings.TrimSpace(sb.String()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}

	return strings.Join(paragraphs, "\n\n"), nil
}

// coreProperties models docProps/core.xml, shared by DOCX and XLSX.
type coreProperties struct {
	XMLName        xml.Name `xml:"coreProperties"`
	Title          string   `xml:"title"`
	Subject        string   `xml:"subject"`
	Creator        string   `xml:"creator"`
	Keywords       string   `xml:"keywords"`
	Description    string   `xml:"description"`
	LastModifiedBy string   `xml:"lastModifiedBy"`
	Created        string   `xml:"created"`
	Modified       string   `xml:"modified"`
}

// extractOfficeMetadata reads the OOXML core properties part common to
// DOCX and XLSX containers.
func extractOfficeMetadata(path string) (map[string]any, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document as zip; %w", err)
	}
	defer zr.Close()

	data, err := readZipFile(&zr.Reader, "docProps/core.xml")
	if err != nil {
		// Containers without core properties are valid.
		return map[string]any{}, nil
	}

	var core coreProperties
	if err := xml.Unmarshal(data, &core); err != nil {
		return nil, fmt.Errorf("failed to parse core.xml; %w", err)
	}

	meta := map[string]any{}
	putNonEmpty(meta, "title", core.Title)
	putNonEmpty(meta, "subject", core.Subject)
	putNonEmpty(meta, "author", core.Creator)
	putNonEmpty(meta, "keywords", core.Keywords)
	putNonEmpty(meta, "description", core.Description)
	putNonEmpty(meta, "last_modified_by", core.LastModifiedBy)

	if iso, ok := normalizeISODate(core.Created); ok {
		meta["creation_date"] = iso
	}
	if iso, ok := normalizeISODate(core.Modified); ok {
		meta["modification_date"] = iso
	}

	return meta, nil
}

// readZipFile returns the contents of a named entry in a zip archive.
func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s; %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("entry %s not found", name)
}
