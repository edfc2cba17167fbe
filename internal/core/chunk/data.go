package chunk

import (
	"encoding/json"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	yamlTopLevelKey = regexp.MustCompile(`^[\w"'-]+\s*:`)
	iniSectionLine  = regexp.MustCompile(`^\s*\[[^\]]+\]`)
	jsonMemberKey   = regexp.MustCompile(`^\s*"((?:[^"\\]|\\.)*)"\s*:`)
)

// chunkData splits structured data along top-level members. Oversized
// members recurse into their children; arrays and flat runs split at the
// midpoint. Content that fails to parse degrades to fallback splitting.
func (c *Chunker) chunkData(lines []string, s *Strategy, p Profile) []Fragment {
	text := strings.Join(lines, "\n")
	switch s.Language {
	case "json":
		if !json.Valid([]byte(text)) {
			return c.fallbackChunk(lines, 1, p)
		}
	case "yaml":
		var v any
		if err := yaml.Unmarshal([]byte(text), &v); err != nil {
			return c.fallbackChunk(lines, 1, p)
		}
	}

	bounds := dataMemberBounds(lines, s.Language)
	if len(bounds) == 0 {
		return c.sizedDataChunks(lines, 0, len(lines), "", p)
	}

	var frags []Fragment
	names := make([]string, 0, len(bounds)+1)
	starts := make([]int, 0, len(bounds)+1)
	if bounds[0].index > 0 {
		starts = append(starts, 0)
		names = append(names, "")
	}
	for _, b := range bounds {
		starts = append(starts, b.index)
		names = append(names, b.name)
	}
	for i, start := range starts {
		end := len(lines)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		frags = append(frags, c.sizedDataChunks(lines, start, end, names[i], p)...)
	}
	return frags
}

type dataBound struct {
	index int
	name  string
}

// dataMemberBounds finds top-level member starts per format.
func dataMemberBounds(lines []string, language string) []dataBound {
	var bounds []dataBound
	switch language {
	case "json":
		depth := 0
		for i, line := range lines {
			if depth == 1 {
				if m := jsonMemberKey.FindStringSubmatch(line); m != nil {
					bounds = append(bounds, dataBound{index: i, name: m[1]})
				}
			}
			for _, r := range line {
				switch r {
				case '{', '[':
					depth++
				case '}', ']':
					depth--
				}
			}
		}
	case "toml", "ini":
		for i, line := range lines {
			if iniSectionLine.MatchString(line) {
				name := strings.Trim(strings.TrimSpace(line), "[]")
				bounds = append(bounds, dataBound{index: i, name: name})
			}
		}
	default: // yaml, dotenv and friends: indentation-structured
		for i, line := range lines {
			if indentDepth(line) == 0 && yamlTopLevelKey.MatchString(line) {
				name := strings.TrimSpace(strings.SplitN(line, ":", 2)[0])
				bounds = append(bounds, dataBound{index: i, name: strings.Trim(name, `"'`)})
			}
		}
	}
	return bounds
}

// sizedDataChunks emits a member as one config_block when it fits, and
// otherwise splits it by midpoint until the pieces fit.
func (c *Chunker) sizedDataChunks(lines []string, start, end int, name string, p Profile) []Fragment {
	if start >= end {
		return nil
	}
	content := strings.Join(lines[start:end], "\n")
	if strings.TrimSpace(content) == "" {
		return nil
	}
	meta := segmentMeta{kind: ChunkTypeConfigBlock, symbol: name}
	if c.tokenizer.Count(content) <= p.MaxTokens {
		return []Fragment{c.fragment(lines, start, end, meta, nil, false)}
	}
	if end-start == 1 {
		return []Fragment{c.fragment(lines, start, end, meta, nil, true)}
	}
	mid := start + (end-start)/2
	out := c.sizedDataChunks(lines, start, mid, name, p)
	return append(out, c.sizedDataChunks(lines, mid, end, name, p)...)
}
