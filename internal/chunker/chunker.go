// Package chunker splits document text into ordered, overlapping segments
// sized for independent LLM context windows.
package chunker

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Mode selects the splitting strategy.
type Mode string

const (
	ModeFixed    Mode = "fixed"
	ModeSemantic Mode = "semantic"
)

// Chunk is one contiguous slice of document text. Chunks are ephemeral:
// recomputed per run, never persisted.
type Chunk struct {
	Index int
	Text  string
}

// Config defines chunking parameters.
type Config struct {
	Mode Mode
	// Size: maximum chunk length in characters
	Size int
	// OverlapFraction: fraction of Size duplicated from the previous chunk
	OverlapFraction float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeSemantic,
		Size:            1500,
		OverlapFraction: 0.2,
	}
}

var errNoSentences = errors.New("no sentence boundaries found")

// Split divides text into chunks. It is a pure function of its inputs:
// the same text and config always yield the same sequence. Non-empty
// input never yields an empty sequence, and text shorter than Size
// yields exactly one chunk. If semantic splitting cannot be applied the
// function degrades to fixed-size chunking and logs the fallback.
func Split(text string, cfg Config, logger *slog.Logger) ([]Chunk, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if len(text) <= cfg.Size {
		return []Chunk{{Index: 0, Text: text}}, nil
	}

	switch cfg.Mode {
	case ModeFixed:
		return splitFixed(text, cfg), nil
	case ModeSemantic:
		chunks, err := splitSemantic(text, cfg)
		if err != nil {
			if logger != nil {
				logger.Warn("semantic chunking degraded to fixed",
					"reason", err,
					"text_len", len(text))
			}
			return splitFixed(text, cfg), nil
		}
		return chunks, nil
	default:
		return nil, fmt.Errorf("unknown chunk mode %q", cfg.Mode)
	}
}

func validate(cfg Config) error {
	if cfg.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", cfg.Size)
	}
	if cfg.OverlapFraction < 0 || cfg.OverlapFraction >= 1 {
		return fmt.Errorf("overlap fraction must be in [0, 1), got %v", cfg.OverlapFraction)
	}
	return nil
}

// splitFixed cuts the text on a fixed character budget. Each chunk after
// the first starts overlap characters before the previous chunk's end, so
// the sequence covers the whole input with no gaps. Cut points are backed
// off to rune boundaries so multibyte characters are never severed.
func splitFixed(text string, cfg Config) []Chunk {
	overlap := int(cfg.OverlapFraction * float64(cfg.Size))
	step := cfg.Size - overlap
	if step <= 0 {
		step = 1
	}

	var chunks []Chunk
	for start := 0; start < len(text); {
		end := start + cfg.Size
		if end >= len(text) {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: text[start:]})
			break
		}
		end = runeBoundaryBefore(text, end)
		if end <= start {
			// Budget smaller than the rune under the cursor: keep it whole.
			_, w := utf8.DecodeRuneInString(text[start:])
			end = start + w
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: text[start:end]})

		next := runeBoundaryBefore(text, start+step)
		if next <= start {
			_, w := utf8.DecodeRuneInString(text[start:])
			next = start + w
		}
		start = next
	}
	return chunks
}

// runeBoundaryBefore backs pos off to the nearest rune start at or
// before it.
func runeBoundaryBefore(s string, pos int) int {
	for pos > 0 && !utf8.RuneStart(s[pos]) {
		pos--
	}
	return pos
}

// splitSemantic accumulates whole sentences until the budget is reached,
// then duplicates trailing sentences of the finished chunk into the next
// one to honor the overlap ratio.
func splitSemantic(text string, cfg Config) ([]Chunk, error) {
	sentences := splitSentences(text)
	if len(sentences) < 2 {
		return nil, errNoSentences
	}

	overlapBudget := int(cfg.OverlapFraction * float64(cfg.Size))

	var chunks []Chunk
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  strings.TrimSpace(strings.Join(current, " ")),
		})
		// Carry trailing sentences into the next chunk as overlap.
		carry, carryLen := tailWithin(current, overlapBudget)
		current = carry
		currentLen = carryLen
	}

	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		// A single sentence over budget gets hard-split on its own.
		if len(sentence) > cfg.Size {
			flush()
			current = nil
			currentLen = 0
			for _, piece := range splitFixed(sentence, cfg) {
				chunks = append(chunks, Chunk{Index: len(chunks), Text: piece.Text})
			}
			continue
		}
		if currentLen+len(sentence) > cfg.Size && currentLen > 0 {
			flush()
		}
		current = append(current, sentence)
		currentLen += len(sentence) + 1
	}

	if len(current) > 0 {
		last := strings.TrimSpace(strings.Join(current, " "))
		// Skip a trailing chunk that is pure overlap carried from flush.
		if len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1].Text, last) {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: last})
		}
	}

	if len(chunks) == 0 {
		return nil, errNoSentences
	}
	return chunks, nil
}

// tailWithin returns the longest run of trailing sentences whose combined
// length fits the budget.
func tailWithin(sentences []string, budget int) ([]string, int) {
	if budget <= 0 {
		return nil, 0
	}
	total := 0
	start := len(sentences)
	for i := len(sentences) - 1; i >= 0; i-- {
		next := total + len(sentences[i]) + 1
		if next > budget {
			break
		}
		total = next
		start = i
	}
	if start == len(sentences) {
		return nil, 0
	}
	carry := make([]string, len(sentences)-start)
	copy(carry, sentences[start:])
	return carry, total
}

// splitSentences splits text into sentences.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			// Look ahead for space or end
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				// Not an abbreviation (simple heuristic)
				if i > 1 && unicode.IsUpper(runes[i-1]) {
					continue // Likely abbreviation like "Dr."
				}
				sentences = append(sentences, current.String())
				current.Reset()
			}
		}
	}

	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}

	return sentences
}
