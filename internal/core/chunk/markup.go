package chunk

import (
	"regexp"
	"strings"
)

var (
	openTagPattern  = regexp.MustCompile(`<([A-Za-z][\w:-]*)(?:\s[^<>]*)?>`)
	closeTagPattern = regexp.MustCompile(`</([A-Za-z][\w:-]*)\s*>`)
	selfClosing     = regexp.MustCompile(`<[A-Za-z][\w:-]*(?:\s[^<>]*)?/>`)
	voidElements    = map[string]struct{}{
		"area": {}, "base": {}, "br": {}, "col": {}, "embed": {}, "hr": {},
		"img": {}, "input": {}, "link": {}, "meta": {}, "source": {},
		"track": {}, "wbr": {}, "!doctype": {},
	}
)

// chunkMarkup splits HTML/XML along element boundaries: each depth-1
// element becomes a block. An element over budget splits along its child
// elements, and a flat run of lines falls back to size-only splitting.
func (c *Chunker) chunkMarkup(lines []string, s *Strategy, p Profile) []Fragment {
	kind := ChunkTypeHTMLBlock
	if s.Language == "xml" {
		kind = ChunkTypeXMLNode
	}
	depths := markupLineDepths(lines)

	// Element boundaries: lines where a new element opens at the minimum
	// document depth.
	minDepth := 0
	type block struct{ start, end int }
	var blocks []block
	segStart := 0
	for i := 1; i < len(lines); i++ {
		if depths[i] == minDepth && strings.Contains(lines[i], "<") {
			blocks = append(blocks, block{segStart, i})
			segStart = i
		}
	}
	blocks = append(blocks, block{segStart, len(lines)})

	var frags []Fragment
	for _, b := range blocks {
		content := strings.Join(lines[b.start:b.end], "\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		name := firstTagName(content)
		meta := segmentMeta{kind: kind, symbol: name}
		if c.tokenizer.Count(content) <= p.MaxTokens {
			frags = append(frags, c.fragment(lines, b.start, b.end, meta, nil, false))
			continue
		}
		frags = append(frags, c.splitMarkupBlock(lines, depths, b.start, b.end, meta, p)...)
	}
	return frags
}

// splitMarkupBlock cuts an oversized element at child-element openings;
// when no children exist the block degrades to fallback splitting.
func (c *Chunker) splitMarkupBlock(lines []string, depths []int, start, end int, meta segmentMeta, p Profile) []Fragment {
	childDepth := depths[start] + 1
	var breaks []int
	for i := start + 1; i < end; i++ {
		if depths[i] == childDepth && openTagPattern.MatchString(lines[i]) {
			breaks = append(breaks, i)
		}
	}
	if len(breaks) == 0 {
		sub := c.fallbackChunk(lines[start:end], start+1, p)
		for i := range sub {
			sub[i].Type = meta.kind
			sub[i].SymbolName = meta.symbol
		}
		return sub
	}

	tokens := c.lineTokens(lines)
	var frags []Fragment
	segStart := start
	acc := 0
	for i := start; i < end; i++ {
		if acc+tokens[i] > p.MaxTokens && i > segStart {
			cut := lastBreakBefore(breaks, segStart, i)
			if cut <= segStart {
				cut = i
			}
			frags = append(frags, c.fragment(lines, segStart, cut, meta, nil, false))
			segStart = cut
			acc = 0
			for j := cut; j <= i; j++ {
				acc += tokens[j]
			}
			continue
		}
		acc += tokens[i]
	}
	if segStart < end {
		oversize := end-segStart == 1 && tokens[segStart] > p.MaxTokens
		frags = append(frags, c.fragment(lines, segStart, end, meta, nil, oversize))
	}
	return frags
}

// markupLineDepths computes the element nesting depth at the start of
// each line.
func markupLineDepths(lines []string) []int {
	depths := make([]int, len(lines))
	depth := 0
	for i, line := range lines {
		depths[i] = depth
		stripped := selfClosing.ReplaceAllString(line, "")
		for _, m := range openTagPattern.FindAllStringSubmatch(stripped, -1) {
			if _, void := voidElements[strings.ToLower(m[1])]; !void {
				depth++
			}
		}
		depth -= len(closeTagPattern.FindAllString(stripped, -1))
		if depth < 0 {
			depth = 0
		}
	}
	return depths
}

func firstTagName(content string) string {
	if m := openTagPattern.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return ""
}
