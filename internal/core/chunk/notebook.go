package chunk

import (
	"encoding/json"
	"strconv"
	"strings"
)

// nbFormat is the subset of the Jupyter notebook schema the chunker reads.
type nbFormat struct {
	Cells []nbCell `json:"cells"`
}

type nbCell struct {
	CellType string `json:"cell_type"`
	Source   any    `json:"source"`
}

func (c nbCell) text() string {
	switch v := c.Source.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, part := range v {
			if s, ok := part.(string); ok {
				sb.WriteString(s)
			}
		}
		return sb.String()
	default:
		return ""
	}
}

// chunkNotebook emits one fragment per notebook cell. Markdown cells are
// markdown sections, code cells are cells. Line numbers refer to cell
// order, not raw JSON lines, since the JSON layout is an encoding detail.
func (c *Chunker) chunkNotebook(text string, p Profile) []Fragment {
	var nb nbFormat
	if err := json.Unmarshal([]byte(text), &nb); err != nil || len(nb.Cells) == 0 {
		return c.fallbackChunk(strings.Split(text, "\n"), 1, p)
	}

	var frags []Fragment
	line := 1
	for i, cell := range nb.Cells {
		content := NormalizeLineEndings(cell.text())
		if strings.TrimSpace(content) == "" {
			continue
		}
		cellLines := strings.Count(content, "\n") + 1
		kind := ChunkTypeCell
		if cell.CellType == "markdown" {
			kind = ChunkTypeMarkdownSection
		}
		oversize := c.tokenizer.Count(content) > p.MaxTokens
		frags = append(frags, Fragment{
			StartLine:  line,
			EndLine:    line + cellLines - 1,
			Content:    content,
			Type:       kind,
			SymbolName: cellName(i, cell.CellType),
			Oversize:   oversize,
		})
		line += cellLines
	}
	return frags
}

func cellName(index int, cellType string) string {
	return cellType + "_cell_" + strconv.Itoa(index+1)
}
