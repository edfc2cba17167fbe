package chunk

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const previewBytes = 500

// summaryFragment represents binary or opaque files as a single
// describable chunk: name, size, and a short preview when the head of the
// file looks textual.
func (c *Chunker) summaryFragment(path string, content []byte) []Fragment {
	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s\n", filepath.Base(path))
	fmt.Fprintf(&sb, "Size: %d bytes\n", len(content))

	head := content
	if len(head) > previewBytes {
		head = head[:previewBytes]
	}
	if utf8.Valid(head) && !strings.ContainsRune(string(head), 0) {
		preview := strings.TrimSpace(NormalizeLineEndings(string(head)))
		if preview != "" {
			fmt.Fprintf(&sb, "Preview:\n%s\n", preview)
		}
	}

	return []Fragment{{
		StartLine:  1,
		EndLine:    1,
		Content:    sb.String(),
		Type:       ChunkTypeFallback,
		SymbolName: filepath.Base(path),
	}}
}
