// Package chunk splits extracted document text into overlapping,
// linked nodes sized for embedding.
package chunk

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultSize is the target chunk length in characters.
	DefaultSize = 2600
	// DefaultOverlap is the number of trailing characters repeated at
	// the start of the next chunk.
	DefaultOverlap = 200

	// boundaryWindow bounds how far back from the hard cut a paragraph
	// break may be and still be preferred over a mid-paragraph cut.
	boundaryWindow = 400
)

// Node is one chunk of a document, linked to its neighbours.
type Node struct {
	ID     string
	Text   string
	Index  int
	PrevID string
	NextID string
}

// Splitter produces linked nodes from document text.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter creates a Splitter. Non-positive size or overlap fall
// back to the defaults; overlap is clamped below size.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Splitter{size: size, overlap: overlap}
}

// Split divides text into overlapping nodes. Cuts prefer a paragraph
// break near the target size over a mid-paragraph cut. Empty or
// whitespace-only text yields no nodes.
func (s *Splitter) Split(text string) []Node {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var nodes []Node

	start := 0
	for start < len(runes) {
		end := start + s.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = softBoundary(runes, start, end)
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			nodes = append(nodes, Node{
				ID:    uuid.NewString(),
				Text:  piece,
				Index: len(nodes),
			})
		}

		if end == len(runes) {
			break
		}
		next := end - s.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	for i := range nodes {
		if i > 0 {
			nodes[i].PrevID = nodes[i-1].ID
		}
		if i < len(nodes)-1 {
			nodes[i].NextID = nodes[i+1].ID
		}
	}

	return nodes
}

// softBoundary moves the cut point at end back to the nearest paragraph
// break ("\n\n") within the boundary window, if one exists.
func softBoundary(runes []rune, start, end int) int {
	low := end - boundaryWindow
	if low < start+1 {
		low = start + 1
	}
	for i := end; i > low; i-- {
		if runes[i-1] == '\n' && i >= 2 && runes[i-2] == '\n' {
			return i
		}
	}
	return end
}
