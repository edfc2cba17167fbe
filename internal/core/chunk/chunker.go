package chunk

import (
	"strings"
)

// Fragment is a chunker-emitted span before metadata assembly. Line
// numbers are 1-based and inclusive.
type Fragment struct {
	StartLine  int
	EndLine    int
	Content    string
	Type       ChunkType
	SymbolName string
	Parents    []string
	Imports    []string

	// Overlap is trailing context from the previous fragment, prepended
	// for embedding only.
	Overlap string

	// Oversize marks a single indivisible unit that exceeds the token
	// budget. Flagged, never rejected.
	Oversize bool
}

// Config tunes the chunker. The zero value is the default configuration.
type Config struct {
	// OverlapTokens of trailing context carried into the next fragment.
	OverlapTokens int
}

// Chunker splits file content into semantically bounded fragments. It is
// a pure function of input and config: no state survives a call, so one
// instance is safe for concurrent use.
type Chunker struct {
	tokenizer TokenCounter
	cfg       Config
}

// NewChunker builds a Chunker around the shared tokenizer.
func NewChunker(tokenizer TokenCounter, cfg Config) *Chunker {
	return &Chunker{tokenizer: tokenizer, cfg: cfg}
}

// Chunk splits content according to the strategy resolved for path. It
// never fails: malformed input degrades to size-only fallback fragments.
func (c *Chunker) Chunk(path string, content []byte) (*Strategy, []Fragment) {
	strategy := StrategyForFile(path, content)
	text := NormalizeLineEndings(string(content))
	if strings.TrimSpace(text) == "" {
		return strategy, nil
	}

	complexity := EstimateComplexity(text, strategy)
	profile := strategy.EffectiveProfile(complexity)
	lines := strings.Split(text, "\n")

	var frags []Fragment
	switch strategy.engine {
	case engineMarkdown:
		frags = c.chunkMarkdown(lines, profile)
	case engineMarkup:
		frags = c.chunkMarkup(lines, strategy, profile)
	case engineData:
		frags = c.chunkData(lines, strategy, profile)
	case engineNotebook:
		frags = c.chunkNotebook(text, profile)
	case engineSummary:
		frags = c.summaryFragment(path, content)
	default:
		frags = c.chunkCode(lines, strategy, profile)
	}

	if len(frags) == 0 && strings.TrimSpace(text) != "" {
		frags = c.fallbackChunk(lines, 1, profile)
	}
	c.applyOverlap(frags)
	return strategy, frags
}

// chunkCode is the pattern-driven engine for source files. It finds
// top-level declaration boundaries, keeps whole units together when they
// fit the budget, and splits oversized units at blank lines or top-level
// statements.
func (c *Chunker) chunkCode(lines []string, s *Strategy, p Profile) []Fragment {
	tokens := c.lineTokens(lines)
	bounds := c.declarationBounds(lines, s)

	if len(bounds) == 0 {
		return c.splitSegment(lines, tokens, 0, len(lines), segmentMeta{kind: ChunkTypeModule}, s, p)
	}

	var frags []Fragment
	for bi, b := range bounds {
		start := b.index
		if bi == 0 {
			// The first unit absorbs leading imports and comments.
			start = 0
		}
		end := len(lines)
		if bi+1 < len(bounds) {
			end = bounds[bi+1].index
		}
		meta := segmentMeta{kind: b.kind, symbol: b.symbol, parents: b.parents}
		frags = append(frags, c.splitSegment(lines, tokens, start, end, meta, s, p)...)
	}
	return frags
}

type declBound struct {
	index   int
	kind    ChunkType
	symbol  string
	parents []string
}

type segmentMeta struct {
	kind    ChunkType
	symbol  string
	parents []string
}

// declarationBounds scans for top-level function and class declarations.
// Declarations nested inside a class stay within the class segment and
// surface later as split points.
func (c *Chunker) declarationBounds(lines []string, s *Strategy) []declBound {
	var bounds []declBound
	for i, line := range lines {
		if indentDepth(line) > 0 {
			continue
		}
		if s.ClassPattern != nil {
			if m := s.ClassPattern.FindStringSubmatch(line); m != nil {
				bounds = append(bounds, declBound{index: i, kind: ChunkTypeClass, symbol: firstGroup(m)})
				continue
			}
		}
		if s.FunctionPattern != nil {
			if m := s.FunctionPattern.FindStringSubmatch(line); m != nil {
				bounds = append(bounds, declBound{index: i, kind: ChunkTypeFunction, symbol: firstGroup(m)})
			}
		}
	}
	return bounds
}

// splitSegment emits one fragment when the segment fits the budget, and
// otherwise splits it, preferring nested declarations, then blank lines,
// then top-level statements, then single lines.
func (c *Chunker) splitSegment(lines []string, tokens []int, start, end int, meta segmentMeta, s *Strategy, p Profile) []Fragment {
	if start >= end {
		return nil
	}
	total := 0
	for i := start; i < end; i++ {
		total += tokens[i]
	}

	imports := c.collectImports(lines[start:end], s)

	if total <= p.MaxTokens {
		return []Fragment{c.fragment(lines, start, end, meta, imports, false)}
	}

	// Oversized unit: break at the best boundaries available.
	breaks := c.segmentBreaks(lines, start, end, s, meta.kind)
	var frags []Fragment
	cur := meta
	segStart := start
	acc := 0
	for i := start; i < end; i++ {
		if acc+tokens[i] > p.MaxTokens && i > segStart {
			cut := lastBreakBefore(breaks, segStart, i)
			if cut <= segStart {
				cut = i
			}
			frags = append(frags, c.fragment(lines, segStart, cut, cur, nil, false))
			// A method starting at the cut owns the next fragment.
			if meta.kind == ChunkTypeClass {
				if sym := c.methodAt(lines[cut], s); sym != "" {
					cur = segmentMeta{kind: ChunkTypeMethod, symbol: sym, parents: appendParent(meta.parents, meta.symbol)}
				}
			}
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
		frags = append(frags, c.fragment(lines, segStart, end, cur, nil, oversize))
	}
	// A single line can still blow the budget; flag it rather than drop it.
	for i := range frags {
		if frags[i].EndLine == frags[i].StartLine && tokens[frags[i].StartLine-1] > p.MaxTokens {
			frags[i].Oversize = true
		}
	}
	if len(frags) > 0 {
		frags[0].Imports = imports
	}
	return frags
}

// segmentBreaks lists preferred split indices inside [start, end): nested
// declarations first, then blank lines, then top-level statements.
func (c *Chunker) segmentBreaks(lines []string, start, end int, s *Strategy, kind ChunkType) []int {
	var breaks []int
	for i := start + 1; i < end; i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		switch {
		case kind == ChunkTypeClass && c.methodAt(line, s) != "":
			breaks = append(breaks, i)
		case trimmed == "":
			breaks = append(breaks, i)
		case indentDepth(line) == 0:
			breaks = append(breaks, i)
		}
	}
	return breaks
}

func (c *Chunker) methodAt(line string, s *Strategy) string {
	if s.FunctionPattern == nil || indentDepth(line) == 0 {
		return ""
	}
	if m := s.FunctionPattern.FindStringSubmatch(line); m != nil {
		return firstGroup(m)
	}
	return ""
}

func (c *Chunker) collectImports(lines []string, s *Strategy) []string {
	if s.ImportPattern == nil {
		return nil
	}
	var imports []string
	for _, line := range lines {
		if m := s.ImportPattern.FindStringSubmatch(line); m != nil {
			if imp := firstGroup(m); imp != "" {
				imports = append(imports, imp)
			}
		}
	}
	return imports
}

// fallbackChunk is size-only splitting for content no engine understood.
// startLine anchors the numbering when chunking a sub-range.
func (c *Chunker) fallbackChunk(lines []string, startLine int, p Profile) []Fragment {
	tokens := c.lineTokens(lines)
	var frags []Fragment
	segStart := 0
	acc := 0
	for i := range lines {
		if acc+tokens[i] > p.MaxTokens && i > segStart {
			frags = append(frags, c.offsetFragment(lines, segStart, i, startLine, ChunkTypeFallback, tokens))
			segStart = i
			acc = 0
		}
		acc += tokens[i]
	}
	if segStart < len(lines) {
		frags = append(frags, c.offsetFragment(lines, segStart, len(lines), startLine, ChunkTypeFallback, tokens))
	}
	return frags
}

func (c *Chunker) fragment(lines []string, start, end int, meta segmentMeta, imports []string, oversize bool) Fragment {
	return Fragment{
		StartLine:  start + 1,
		EndLine:    end,
		Content:    strings.Join(lines[start:end], "\n"),
		Type:       meta.kind,
		SymbolName: meta.symbol,
		Parents:    meta.parents,
		Imports:    imports,
		Oversize:   oversize,
	}
}

func (c *Chunker) offsetFragment(lines []string, start, end, base int, kind ChunkType, tokens []int) Fragment {
	oversize := end-start == 1 && tokens[start] > maxBoundTokens
	return Fragment{
		StartLine: base + start,
		EndLine:   base + end - 1,
		Content:   strings.Join(lines[start:end], "\n"),
		Type:      kind,
		Oversize:  oversize,
	}
}

func (c *Chunker) lineTokens(lines []string) []int {
	tokens := make([]int, len(lines))
	for i, line := range lines {
		// +1 accounts for the newline joining lines back together.
		tokens[i] = c.tokenizer.Count(line) + 1
	}
	return tokens
}

// applyOverlap copies trailing context between adjacent fragments when
// overlap is configured. Overlap is never part of Content.
func (c *Chunker) applyOverlap(frags []Fragment) {
	if c.cfg.OverlapTokens <= 0 {
		return
	}
	for i := 1; i < len(frags); i++ {
		frags[i].Overlap = c.tailTokens(frags[i-1].Content, c.cfg.OverlapTokens)
	}
}

// tailTokens returns the trailing lines of content totalling at most n
// tokens, whole lines only.
func (c *Chunker) tailTokens(content string, n int) string {
	lines := strings.Split(content, "\n")
	acc := 0
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		t := c.tokenizer.Count(lines[i]) + 1
		if acc+t > n {
			break
		}
		acc += t
		start = i
	}
	if start >= len(lines) {
		return ""
	}
	return strings.Join(lines[start:], "\n")
}

func lastBreakBefore(breaks []int, min, max int) int {
	best := -1
	for _, b := range breaks {
		if b > min && b <= max && b > best {
			best = b
		}
	}
	if best < 0 {
		return min
	}
	return best
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

func appendParent(parents []string, name string) []string {
	if name == "" {
		return parents
	}
	out := make([]string, 0, len(parents)+1)
	out = append(out, parents...)
	return append(out, name)
}
