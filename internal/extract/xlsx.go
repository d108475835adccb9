package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// XLSX XML structures for shared strings and inline sheet cells.

type xlsxSharedStrings struct {
	XMLName xml.Name         `xml:"sst"`
	Items   []xlsxStringItem `xml:"si"`
}

type xlsxStringItem struct {
	Text string     `xml:"t"`
	Runs []xlsxText `xml:"r>t"`
}

type xlsxText struct {
	Value string `xml:",chardata"`
}

type xlsxWorksheet struct {
	XMLName xml.Name  `xml:"worksheet"`
	Rows    []xlsxRow `xml:"sheetData>row"`
}

type xlsxRow struct {
	Cells []xlsxCell `xml:"c"`
}

type xlsxCell struct {
	Type   string `xml:"t,attr"`
	Value  string `xml:"v"`
	Inline string `xml:"is>t"`
}

// extractXLSXText reads a workbook's shared strings and walks each
// worksheet row by row, emitting tab-separated cell values with one
// line per row and a blank line between sheets.
func extractXLSXText(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open xlsx as zip; %w", err)
	}
	defer zr.Close()

	shared := loadSharedStrings(&zr.Reader)

	var sheetNames []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/") && strings.HasSuffix(f.Name, ".xml") {
			sheetNames = append(sheetNames, f.Name)
		}
	}
	sort.Strings(sheetNames)

	var sheets []string
	for _, name := range sheetNames {
		data, err := readZipFile(&zr.Reader, name)
		if err != nil {
			continue
		}
		var ws xlsxWorksheet
		if err := xml.Unmarshal(data, &ws); err != nil {
			continue
		}

		var lines []string
		for _, row := range ws.Rows {
			var cells []string
			for _, c := range row.Cells {
				if v := cellValue(c, shared); v != "" {
					cells = append(cells, v)
				}
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, "\t"))
			}
		}
		if len(lines) > 0 {
			sheets = append(sheets, strings.Join(lines, "\n"))
		}
	}

	return strings.Join(sheets, "\n\n"), nil
}

// loadSharedStrings parses xl/sharedStrings.xml; an absent part is fine
// for workbooks using only inline or numeric cells.
func loadSharedStrings(zr *zip.Reader) []string {
	data, err := readZipFile(zr, "xl/sharedStrings.xml")
	if err != nil {
		return nil
	}
	var sst xlsxSharedStrings
	if err := xml.Unmarshal(data, &sst); err != nil {
		return nil
	}

	out := make([]string, 0, len(sst.Items))
	for _, item := range sst.Items {
		if item.Text != "" {
			out = append(out, item.Text)
			continue
		}
		var sb strings.Builder
		for _, r := range item.Runs {
			sb.WriteString(r.Value)
		}
		out = append(out, sb.String())
	}
	return out
}

// cellValue resolves a cell's display value: shared-string cells index
// into the shared table, inline and literal cells carry their own text.
func cellValue(c xlsxCell, shared []string) string {
	switch c.Type {
	case "s":
		idx, err := strconv.Atoi(strings.TrimSpace(c.Value))
		if err != nil || idx < 0 || idx >= len(shared) {
			return ""
		}
		return strings.TrimSpace(shared[idx])
	case "inlineStr":
		return strings.TrimSpace(c.Inline)
	default:
		return strings.TrimSpace(c.Value)
	}
}
