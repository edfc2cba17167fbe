package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkJSONTopLevelMembers(t *testing.T) {
	content := `{
  "server": {
    "host": "localhost",
    "port": 8080
  },
  "features": {
    "search": true
  }
}`
	c := newTestChunker()
	strategy, frags := c.Chunk("config.json", []byte(content))

	require.Equal(t, "json", strategy.Language)
	require.GreaterOrEqual(t, len(frags), 2)

	names := make([]string, 0, len(frags))
	for _, f := range frags {
		assert.Equal(t, ChunkTypeConfigBlock, f.Type)
		names = append(names, f.SymbolName)
	}
	assert.Contains(t, names, "server")
	assert.Contains(t, names, "features")
}

func TestChunkInvalidJSONFallsBack(t *testing.T) {
	c := newTestChunker()
	_, frags := c.Chunk("broken.json", []byte(`{"a": [1, 2,`))

	require.NotEmpty(t, frags)
	assert.Equal(t, ChunkTypeFallback, frags[0].Type)
}

func TestChunkYAMLTopLevelKeys(t *testing.T) {
	content := `database:
  host: localhost
  port: 5432
queue:
  url: http://localhost:4566
`
	c := newTestChunker()
	_, frags := c.Chunk("settings.yaml", []byte(content))

	require.Len(t, frags, 2)
	assert.Equal(t, "database", frags[0].SymbolName)
	assert.Equal(t, "queue", frags[1].SymbolName)
	for _, f := range frags {
		assert.Equal(t, ChunkTypeConfigBlock, f.Type)
	}
}

func TestChunkTOMLSections(t *testing.T) {
	content := `[server]
host = "localhost"

[client]
timeout = 30
`
	c := newTestChunker()
	_, frags := c.Chunk("app.toml", []byte(content))

	require.Len(t, frags, 2)
	assert.Equal(t, "server", frags[0].SymbolName)
	assert.Equal(t, "client", frags[1].SymbolName)
}

func TestChunkOversizedMemberSplitsAtMidpoint(t *testing.T) {
	var lines []string
	lines = append(lines, "items:")
	for i := 0; i < 600; i++ {
		lines = append(lines, "  - alpha beta gamma delta")
	}
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}

	c := newTestChunker()
	_, frags := c.Chunk("big.yaml", []byte(content))

	require.Greater(t, len(frags), 1)
	for _, f := range frags {
		assert.Equal(t, "items", f.SymbolName)
	}
}
