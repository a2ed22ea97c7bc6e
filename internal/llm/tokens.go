package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter estimates token counts for providers that do not report
// usage. Uses the model's tiktoken encoding when known, cl100k_base
// otherwise, and falls back to a rough word-based estimate when the
// encoding cannot be loaded at all.
type tokenCounter struct {
	once sync.Once
	name string
	enc  *tiktoken.Tiktoken
}

func newTokenCounter(modelName string) *tokenCounter {
	return &tokenCounter{name: modelName}
}

func (c *tokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(c.name)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err == nil {
			c.enc = enc
		}
	})

	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	// Rough heuristic: a token is about three quarters of a word.
	words := len(strings.Fields(text))
	return words + words/3
}
