package chunk

import (
	"regexp"
	"strings"
)

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// chunkMarkdown splits at heading lines, keeping the ancestor heading
// chain in Parents. Headings inside fenced code blocks are ignored.
// Oversized sections degrade to blank-line, then list-item, then sentence,
// then arbitrary line splits.
func (c *Chunker) chunkMarkdown(lines []string, p Profile) []Fragment {
	type section struct {
		start   int // 0-based
		end     int // exclusive
		title   string
		level   int
		parents []string
	}

	var sections []section
	cur := section{start: 0, level: 0}
	stack := make([]string, 0, 6) // heading titles by level, 1-based index
	levels := make([]int, 0, 6)
	inCodeBlock := false

	flush := func(end int) {
		if end > cur.start {
			cur.end = end
			sections = append(sections, cur)
		}
	}

	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCodeBlock = !inCodeBlock
			continue
		}
		if inCodeBlock {
			continue
		}
		m := headingPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		flush(i)
		level := len(m[1])
		// Pop headings at or below this level off the ancestor stack.
		for len(levels) > 0 && levels[len(levels)-1] >= level {
			levels = levels[:len(levels)-1]
			stack = stack[:len(stack)-1]
		}
		parents := make([]string, len(stack))
		copy(parents, stack)
		cur = section{start: i, title: strings.TrimSpace(m[2]), level: level, parents: parents}
		stack = append(stack, cur.title)
		levels = append(levels, level)
	}
	flush(len(lines))

	// A blank-only prelude folds into the first heading's section so the
	// chunk sequence still covers every line of the file.
	if len(sections) > 1 && strings.TrimSpace(strings.Join(lines[sections[0].start:sections[0].end], "\n")) == "" {
		sections[1].start = sections[0].start
		sections = sections[1:]
	}

	var frags []Fragment
	for _, sec := range sections {
		content := strings.Join(lines[sec.start:sec.end], "\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		meta := segmentMeta{kind: ChunkTypeMarkdownSection, symbol: sec.title, parents: sec.parents}
		if c.tokenizer.Count(content) <= p.MaxTokens {
			frags = append(frags, c.fragment(lines, sec.start, sec.end, meta, nil, false))
			continue
		}
		frags = append(frags, c.splitMarkdownSection(lines, sec.start, sec.end, meta, p)...)
	}
	return frags
}

var listItemPattern = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s`)

// splitMarkdownSection breaks an oversized section at the best boundary
// class available inside each window.
func (c *Chunker) splitMarkdownSection(lines []string, start, end int, meta segmentMeta, p Profile) []Fragment {
	tokens := c.lineTokens(lines[start:end])

	var frags []Fragment
	segStart := 0
	acc := 0
	rel := func(i int) int { return start + i }
	for i := 0; i < end-start; i++ {
		if acc+tokens[i] > p.MaxTokens && i > segStart {
			cut := c.markdownBreak(lines, start, segStart, i)
			if cut <= segStart {
				cut = i
			}
			frags = append(frags, c.fragment(lines, rel(segStart), rel(cut), meta, nil, false))
			segStart = cut
			acc = 0
			for j := cut; j <= i; j++ {
				acc += tokens[j]
			}
			continue
		}
		acc += tokens[i]
	}
	if segStart < end-start {
		oversize := end-start-segStart == 1 && tokens[segStart] > p.MaxTokens
		frags = append(frags, c.fragment(lines, rel(segStart), end, meta, nil, oversize))
	}

	// Sentence-level split for single lines that still exceed the budget.
	out := frags[:0]
	for _, f := range frags {
		if !f.Oversize || !strings.Contains(f.Content, ". ") {
			out = append(out, f)
			continue
		}
		out = append(out, c.splitSentences(f, p)...)
	}
	return out
}

// markdownBreak finds the best split index in (min, max]: the last blank
// line, else the last list-item start, else max.
func (c *Chunker) markdownBreak(lines []string, base, min, max int) int {
	blank, item := -1, -1
	for i := min + 1; i <= max; i++ {
		line := lines[base+i]
		if strings.TrimSpace(line) == "" {
			blank = i
		} else if listItemPattern.MatchString(line) {
			item = i
		}
	}
	if blank > min {
		return blank
	}
	if item > min {
		return item
	}
	return max
}

// splitSentences is the last resort before arbitrary splits: pack whole
// sentences up to the budget. Line numbering stays on the source line.
func (c *Chunker) splitSentences(f Fragment, p Profile) []Fragment {
	sentences := strings.SplitAfter(f.Content, ". ")
	var frags []Fragment
	var sb strings.Builder
	acc := 0
	emit := func() {
		if sb.Len() == 0 {
			return
		}
		frags = append(frags, Fragment{
			StartLine:  f.StartLine,
			EndLine:    f.EndLine,
			Content:    sb.String(),
			Type:       f.Type,
			SymbolName: f.SymbolName,
			Parents:    f.Parents,
		})
		sb.Reset()
		acc = 0
	}
	for _, s := range sentences {
		t := c.tokenizer.Count(s)
		if acc+t > p.MaxTokens && sb.Len() > 0 {
			emit()
		}
		sb.WriteString(s)
		acc += t
	}
	emit()
	return frags
}
