package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmpty(t *testing.T) {
	s := NewSplitter(2600, 200)
	assert.Nil(t, s.Split(""))
	assert.Nil(t, s.Split("   \n\t  "))
}

func TestSplitShortTextSingleNode(t *testing.T) {
	s := NewSplitter(2600, 200)
	nodes := s.Split("a short document")
	require.Len(t, nodes, 1)
	assert.Equal(t, "a short document", nodes[0].Text)
	assert.Empty(t, nodes[0].PrevID)
	assert.Empty(t, nodes[0].NextID)
	assert.NotEmpty(t, nodes[0].ID)
}

func TestSplitOverlapAndLinks(t *testing.T) {
	s := NewSplitter(100, 20)
	text := strings.Repeat("abcdefghij", 30) // 300 chars, no paragraph breaks
	nodes := s.Split(text)
	require.Greater(t, len(nodes), 1)

	for i, n := range nodes {
		assert.Equal(t, i, n.Index)
		if i == 0 {
			assert.Empty(t, n.PrevID)
		} else {
			assert.Equal(t, nodes[i-1].ID, n.PrevID)
			// Overlap: each chunk begins with the tail of its predecessor.
			prev := nodes[i-1].Text
			assert.True(t, strings.HasPrefix(n.Text, prev[len(prev)-20:]))
		}
		if i == len(nodes)-1 {
			assert.Empty(t, n.NextID)
		} else {
			assert.Equal(t, nodes[i+1].ID, n.NextID)
		}
	}
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	s := NewSplitter(100, 10)
	para1 := strings.Repeat("x", 80)
	para2 := strings.Repeat("y", 80)
	nodes := s.Split(para1 + "\n\n" + para2)
	require.Len(t, nodes, 2)
	assert.Equal(t, para1, nodes[0].Text)
	assert.True(t, strings.HasSuffix(nodes[1].Text, para2))
}

func TestSplitCoversAllText(t *testing.T) {
	s := NewSplitter(50, 10)
	text := strings.Repeat("0123456789", 25)
	nodes := s.Split(text)
	var rebuilt strings.Builder
	for i, n := range nodes {
		if i == 0 {
			rebuilt.WriteString(n.Text)
		} else {
			rebuilt.WriteString(n.Text[10:])
		}
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestNewSplitterClampsOverlap(t *testing.T) {
	s := NewSplitter(100, 150)
	assert.Equal(t, 25, s.overlap)

	s = NewSplitter(0, -1)
	assert.Equal(t, DefaultSize, s.size)
	assert.Equal(t, DefaultOverlap, s.overlap)
}
