package chunk

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Record is the canonical chunk: identity, content, structure, quality
// signals, and lifecycle state. It is what gets embedded and persisted as
// vector metadata.
type Record struct {
	ChunkID    string `json:"chunk_id"`
	ContentSHA string `json:"content_sha"`
	Repository string `json:"repository"`
	Ref        string `json:"ref"`
	FilePath   string `json:"file_path"`
	LineStart  int    `json:"line_start"`
	LineEnd    int    `json:"line_end"`

	Content       string   `json:"content"`
	Language      string   `json:"language"`
	FileExtension string   `json:"file_extension"`
	FileType      FileType `json:"file_type"`

	ChunkType  ChunkType `json:"chunk_type"`
	SymbolName string    `json:"symbol_name,omitempty"`
	Parents    []string  `json:"parents,omitempty"`
	Imports    []string  `json:"imports,omitempty"`

	TokenCount           int     `json:"token_count"`
	ContentLength        int     `json:"content_length"`
	CyclomaticComplexity int     `json:"cyclomatic_complexity"`
	NestingDepth         int     `json:"nesting_depth"`
	HasDocstring         bool    `json:"has_docstring"`
	HasErrorHandling     bool    `json:"has_error_handling"`
	HasLogging           bool    `json:"has_logging"`
	HasValidation        bool    `json:"has_validation"`
	CommentRatio         float64 `json:"comment_ratio"`

	Live         bool      `json:"live"`
	LastModified time.Time `json:"timestamp_last_modified"`

	// Overlap is leading context copied from the previous chunk. It is
	// embedded but never counted in TokenCount.
	Overlap string `json:"overlap,omitempty"`

	Violations []string `json:"violations,omitempty"`
}

// EmbeddingText is what goes to the embedding provider: content only,
// with any overlap context prepended. Paths and metadata stay out.
func (r *Record) EmbeddingText() string {
	if r.Overlap == "" {
		return r.Content
	}
	return r.Overlap + "\n" + r.Content
}

// SummaryLine is a one-line description of the chunk, used as the
// summary input when hybrid embedding is enabled.
func (r *Record) SummaryLine() string {
	var sb strings.Builder
	if r.Language != "" {
		sb.WriteString(r.Language)
		sb.WriteByte(' ')
	}
	sb.WriteString(string(r.ChunkType))
	if r.SymbolName != "" {
		sb.WriteByte(' ')
		sb.WriteString(r.SymbolName)
	}
	fmt.Fprintf(&sb, " in %s lines %d-%d", r.FilePath, r.LineStart, r.LineEnd)
	return sb.String()
}

// NormalizeLineEndings rewrites CRLF and bare CR to LF.
func NormalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// ContentSHA hashes LF-normalized content. Always recomputed, never
// accepted from input.
func ContentSHA(content string) string {
	sum := sha256.Sum256([]byte(NormalizeLineEndings(content)))
	return fmt.Sprintf("%x", sum)
}

// ChunkID derives the stable vector identity. Two ingestions of the same
// commit produce the same IDs.
func ChunkID(repository, ref, filePath string, lineStart, lineEnd int, contentSHA string) string {
	key := fmt.Sprintf("%s|%s|%s|%d:%d|%s", repository, ref, filePath, lineStart, lineEnd, contentSHA)
	sum := sha1.Sum([]byte(key))
	return fmt.Sprintf("%x", sum)
}

// FileContext carries the repository-level identity of the file being
// assembled.
type FileContext struct {
	Repository string
	Ref        string
	FilePath   string
	FileLines  int
}

// Assembler turns chunker fragments into canonical records.
type Assembler struct {
	tokenizer TokenCounter
	now       func() time.Time
}

// NewAssembler returns an Assembler using the given tokenizer.
func NewAssembler(tokenizer TokenCounter) *Assembler {
	return &Assembler{tokenizer: tokenizer, now: time.Now}
}

// Assemble builds one record per fragment. Records are staged: Live is
// false until commit activation flips it. Bound violations are recorded,
// not fatal.
func (a *Assembler) Assemble(fc FileContext, strategy *Strategy, profile Profile, fragments []Fragment) []*Record {
	records := make([]*Record, 0, len(fragments))
	ext := ""
	if i := strings.LastIndex(fc.FilePath, "."); i >= 0 {
		ext = fc.FilePath[i:]
	}

	for _, frag := range fragments {
		contentSHA := ContentSHA(frag.Content)
		rec := &Record{
			ChunkID:       ChunkID(fc.Repository, fc.Ref, fc.FilePath, frag.StartLine, frag.EndLine, contentSHA),
			ContentSHA:    contentSHA,
			Repository:    fc.Repository,
			Ref:           fc.Ref,
			FilePath:      fc.FilePath,
			LineStart:     frag.StartLine,
			LineEnd:       frag.EndLine,
			Content:       frag.Content,
			Language:      strategy.Language,
			FileExtension: ext,
			FileType:      strategy.FileType,
			ChunkType:     frag.Type,
			SymbolName:    frag.SymbolName,
			Parents:       frag.Parents,
			Imports:       frag.Imports,
			TokenCount:    a.tokenizer.Count(frag.Content),
			ContentLength: len(frag.Content),
			Overlap:       frag.Overlap,
			Live:          false,
			LastModified:  a.now().UTC(),
		}
		fillSignals(rec)
		a.validate(rec, fc, profile, frag.Oversize)
		records = append(records, rec)
	}
	return records
}

func (a *Assembler) validate(rec *Record, fc FileContext, profile Profile, oversize bool) {
	if rec.TokenCount > profile.MaxTokens && !oversize {
		rec.Violations = append(rec.Violations,
			fmt.Sprintf("token_count %d exceeds max %d", rec.TokenCount, profile.MaxTokens))
	}
	if oversize && rec.TokenCount > profile.MaxTokens {
		rec.Violations = append(rec.Violations, "indivisible unit exceeds token budget")
	}
	if rec.LineEnd < rec.LineStart {
		rec.Violations = append(rec.Violations,
			fmt.Sprintf("line_end %d before line_start %d", rec.LineEnd, rec.LineStart))
	}
	if fc.FileLines > 0 && rec.LineEnd > fc.FileLines {
		rec.Violations = append(rec.Violations,
			fmt.Sprintf("line_end %d beyond file length %d", rec.LineEnd, fc.FileLines))
	}
}

var (
	docstringPattern    = regexp.MustCompile(`"""|'''|/\*\*|^\s*///`)
	errHandlingPattern  = regexp.MustCompile(`\b(try|except|catch|rescue|recover)\b|if\s+err\s*!?=`)
	loggingPattern      = regexp.MustCompile(`\b(log|logger|logging|slog|console)\s*[.(]`)
	validationPattern   = regexp.MustCompile(`\b(validate|validation|assert|require|is_valid|isValid)\b`)
	cyclomaticPattern   = regexp.MustCompile(`\b(if|elif|else if|for|while|case|when|catch|except|&&|\|\|)\b|&&|\|\|`)
	commentLinePattern  = regexp.MustCompile(`^\s*(#|//|/\*|\*|--|<!--)`)
)

func fillSignals(rec *Record) {
	content := rec.Content
	rec.HasDocstring = docstringPattern.MatchString(content)
	rec.HasErrorHandling = errHandlingPattern.MatchString(content)
	rec.HasLogging = loggingPattern.MatchString(content)
	rec.HasValidation = validationPattern.MatchString(content)
	rec.CyclomaticComplexity = len(cyclomaticPattern.FindAllString(content, -1)) + 1

	lines := strings.Split(content, "\n")
	nonEmpty, comments, maxDepth := 0, 0, 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		nonEmpty++
		if commentLinePattern.MatchString(line) {
			comments++
		}
		if d := indentDepth(line); d > maxDepth {
			maxDepth = d
		}
	}
	rec.NestingDepth = maxDepth
	if nonEmpty > 0 {
		rec.CommentRatio = float64(comments) / float64(nonEmpty)
	}
}
