package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkNotebookCells(t *testing.T) {
	content := `{
  "cells": [
    {"cell_type": "markdown", "source": ["# Analysis\n", "Exploring the dataset."]},
    {"cell_type": "code", "source": ["import pandas as pd\n", "df = pd.read_csv('data.csv')"]},
    {"cell_type": "code", "source": ""}
  ],
  "nbformat": 4
}`
	c := newTestChunker()
	strategy, frags := c.Chunk("analysis.ipynb", []byte(content))

	require.Equal(t, "jupyter", strategy.Language)
	require.Len(t, frags, 2, "empty cells are dropped")

	assert.Equal(t, ChunkTypeMarkdownSection, frags[0].Type)
	assert.Contains(t, frags[0].Content, "# Analysis")
	assert.Equal(t, ChunkTypeCell, frags[1].Type)
	assert.Contains(t, frags[1].Content, "import pandas")
	assert.Equal(t, "code_cell_2", frags[1].SymbolName)
}

func TestChunkNotebookMalformedFallsBack(t *testing.T) {
	c := newTestChunker()
	_, frags := c.Chunk("broken.ipynb", []byte("not a notebook"))

	require.NotEmpty(t, frags)
	assert.Equal(t, ChunkTypeFallback, frags[0].Type)
}
