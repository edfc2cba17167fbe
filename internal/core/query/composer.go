package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// NoAnswerSentence is what the assistant must say when the context does
// not contain the answer. The composer returns it verbatim for empty
// result sets so callers can rely on the exact wording.
const NoAnswerSentence = "The answer is not available in the indexed codebase."

// blockDelimiter separates context blocks in the prompt.
const blockDelimiter = "\n\n---\n\n"

// LLM generates the final answer.
type LLM interface {
	GenerateCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Composer builds grounded prompts from fused hits and renders the
// final answer with a source footer.
type Composer struct {
	llm    LLM
	logger *slog.Logger
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithComposerLogger sets the logger.
func WithComposerLogger(logger *slog.Logger) ComposerOption {
	return func(c *Composer) {
		c.logger = logger
	}
}

// NewComposer creates a Composer.
func NewComposer(llm LLM, opts ...ComposerOption) *Composer {
	c := &Composer{llm: llm, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose answers the query from the given hits. With no hits it
// returns the fixed no-answer sentence without calling the model.
func (c *Composer) Compose(ctx context.Context, queryText string, hits []Hit) (string, error) {
	if len(hits) == 0 {
		return NoAnswerSentence, nil
	}

	answer, err := c.llm.GenerateCompletion(ctx, systemPrompt(), userPrompt(queryText, hits))
	if err != nil {
		return "", fmt.Errorf("failed to compose answer: %w", err)
	}

	return answer + footer(hits), nil
}

func systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are a technical assistant answering questions about indexed source code repositories.\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Answer only from the context blocks provided. Do not use outside knowledge about these repositories.\n")
	sb.WriteString("- Cite the file paths you drew from.\n")
	sb.WriteString("- If the context is insufficient to answer, reply exactly: ")
	sb.WriteString(NoAnswerSentence)
	sb.WriteString("\n")
	return sb.String()
}

func userPrompt(queryText string, hits []Hit) string {
	blocks := make([]string, 0, len(hits))
	for _, h := range hits {
		blocks = append(blocks, fmt.Sprintf("File: %s\nRepository: %s\n\n%s",
			h.Record.FilePath, h.Record.Repository, h.Record.Content))
	}

	var sb strings.Builder
	sb.WriteString("Context:\n\n")
	sb.WriteString(strings.Join(blocks, blockDelimiter))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(queryText)
	return sb.String()
}

func footer(hits []Hit) string {
	seen := make(map[string]bool)
	var repos []string
	for _, h := range hits {
		if h.Record.Repository != "" && !seen[h.Record.Repository] {
			seen[h.Record.Repository] = true
			repos = append(repos, h.Record.Repository)
		}
	}
	sort.Strings(repos)

	return fmt.Sprintf("\n\n---\nSearched %s · %d result(s) used",
		strings.Join(repos, ", "), len(hits))
}
