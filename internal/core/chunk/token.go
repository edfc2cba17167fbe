package chunk

import (
	"crypto/sha256"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"
)

// EncodingName is the BPE used for all token accounting. It matches the
// tokenizer of the embedding model, so chunk budgets line up with what the
// provider actually sees.
const EncodingName = "cl100k_base"

const tokenCacheSize = 2048

// TokenCounter counts model tokens. The production implementation is
// Tokenizer; tests substitute cheaper counters.
type TokenCounter interface {
	Count(text string) int
}

// Tokenizer counts model tokens with a small cache keyed by content hash.
// Safe for concurrent use.
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
	cache    *lru.Cache[[32]byte, int]
}

var _ TokenCounter = (*Tokenizer)(nil)

// NewTokenizer initializes the cl100k_base encoding.
func NewTokenizer() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(EncodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", EncodingName, err)
	}
	cache, err := lru.New[[32]byte, int](tokenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cache: %w", err)
	}
	return &Tokenizer{encoding: enc, cache: cache}, nil
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	key := sha256.Sum256([]byte(text))
	if n, ok := t.cache.Get(key); ok {
		return n
	}
	n := len(t.encoding.Encode(text, nil, nil))
	t.cache.Add(key, n)
	return n
}

// TrimToTokenLimit cuts text down so it encodes to at most maxTokens.
func (t *Tokenizer) TrimToTokenLimit(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	ids := t.encoding.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return t.encoding.Decode(ids[:maxTokens])
}
