package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCounter approximates tokens by whitespace-separated words so tests
// stay deterministic and offline.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func newTestChunker() *Chunker {
	return NewChunker(wordCounter{}, Config{})
}

func TestChunkPythonFunctions(t *testing.T) {
	content := `import os
import sys

def a():
    value = os.getenv("A")
    return value

def b():
    x = 2
    y = x * 2
    return y

def c():
    return sys.platform
`
	c := newTestChunker()
	strategy, frags := c.Chunk("handlers.py", []byte(content))

	require.Equal(t, "python", strategy.Language)
	require.Len(t, frags, 3)

	assert.Equal(t, ChunkTypeFunction, frags[0].Type)
	assert.Equal(t, "a", frags[0].SymbolName)
	assert.Equal(t, 1, frags[0].StartLine, "first chunk absorbs leading imports")
	assert.Contains(t, frags[0].Imports, "os")
	assert.Contains(t, frags[0].Imports, "sys")

	assert.Equal(t, "b", frags[1].SymbolName)
	assert.Equal(t, ChunkTypeFunction, frags[1].Type)
	assert.Equal(t, "c", frags[2].SymbolName)

	for _, f := range frags {
		assert.GreaterOrEqual(t, f.EndLine, f.StartLine)
	}
	// Each chunk brackets its own function.
	lines := strings.Split(content, "\n")
	for i, name := range []string{"def a", "def b", "def c"} {
		found := false
		for ln := frags[i].StartLine; ln <= frags[i].EndLine; ln++ {
			if strings.HasPrefix(lines[ln-1], name) {
				found = true
			}
		}
		assert.True(t, found, "chunk %d should contain %q", i, name)
	}
}

func TestChunkClassWithMethods(t *testing.T) {
	content := `class Parser:
    def parse(self):
        return 1

    def render(self):
        return 2
`
	c := newTestChunker()
	_, frags := c.Chunk("parser.py", []byte(content))

	require.Len(t, frags, 1, "a class that fits the budget stays whole")
	assert.Equal(t, ChunkTypeClass, frags[0].Type)
	assert.Equal(t, "Parser", frags[0].SymbolName)
}

func TestChunkCoverageRoundTrip(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 400; i++ {
		sb.WriteString("alpha beta gamma delta epsilon zeta\n")
		if i%25 == 24 {
			sb.WriteString("\n")
		}
	}
	content := strings.TrimSuffix(sb.String(), "\n")

	c := newTestChunker()
	_, frags := c.Chunk("notes.txt", []byte(content))
	require.Greater(t, len(frags), 1)

	parts := make([]string, len(frags))
	prevEnd := 0
	for i, f := range frags {
		parts[i] = f.Content
		assert.Equal(t, prevEnd+1, f.StartLine, "fragments must be contiguous")
		prevEnd = f.EndLine
	}
	assert.Equal(t, content, strings.Join(parts, "\n"))
}

func TestChunkTokenBound(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 600; i++ {
		sb.WriteString("one two three four five six seven\n")
		if i%10 == 9 {
			sb.WriteString("\n")
		}
	}
	c := newTestChunker()
	_, frags := c.Chunk("notes.txt", []byte(sb.String()))

	counter := wordCounter{}
	for _, f := range frags {
		if f.Oversize {
			continue
		}
		lines := strings.Split(f.Content, "\n")
		total := 0
		for _, line := range lines {
			total += counter.Count(line) + 1
		}
		assert.LessOrEqual(t, total, profileDocs.MaxTokens,
			"fragment %d-%d exceeds budget", f.StartLine, f.EndLine)
	}
}

func TestChunkEmptyContent(t *testing.T) {
	c := newTestChunker()
	_, frags := c.Chunk("empty.py", []byte("   \n\t\n  "))
	assert.Empty(t, frags)
}

func TestChunkOversizeSingleLine(t *testing.T) {
	line := strings.Repeat("word ", 3000)
	c := newTestChunker()
	_, frags := c.Chunk("blob.txt", []byte(line))

	require.Len(t, frags, 1)
	assert.True(t, frags[0].Oversize)
}

func TestChunkOverlap(t *testing.T) {
	content := `def a():
    return 1

def b():
    return 2
`
	c := NewChunker(wordCounter{}, Config{OverlapTokens: 10})
	_, frags := c.Chunk("m.py", []byte(content))

	require.Len(t, frags, 2)
	assert.Empty(t, frags[0].Overlap)
	assert.NotEmpty(t, frags[1].Overlap)
	assert.True(t, strings.HasPrefix(frags[1].Content, "def b"),
		"overlap must not leak into content")
}

func TestChunkBinaryContent(t *testing.T) {
	payload := append([]byte("PNG"), 0x00, 0x01, 0x02)
	c := newTestChunker()
	strategy, frags := c.Chunk("logo.png", payload)

	assert.Equal(t, "binary", strategy.Language)
	require.Len(t, frags, 1)
	assert.Equal(t, ChunkTypeFallback, frags[0].Type)
	assert.Contains(t, frags[0].Content, "logo.png")
	assert.Contains(t, frags[0].Content, "bytes")
}

func TestChunkGoFunctions(t *testing.T) {
	content := `package server

import "fmt"

func Start() error {
	return nil
}

func Stop() error {
	fmt.Println("bye")
	return nil
}
`
	c := newTestChunker()
	strategy, frags := c.Chunk("server.go", []byte(content))

	require.Equal(t, "go", strategy.Language)
	require.Len(t, frags, 2)
	assert.Equal(t, "Start", frags[0].SymbolName)
	assert.Equal(t, "Stop", frags[1].SymbolName)
}
