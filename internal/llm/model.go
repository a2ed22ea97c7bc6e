package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/models"
)

const mcqSystemPrompt = `You are an expert exam MCQ writer. Given a chunk of study material, produce MCQs in valid JSON only.
Each MCQ must have: question (string), options (object with contiguous uppercase letter keys starting at A, either A-D or A-E), correct_option (one of the option keys), explanation (string), difficulty (easy|medium|hard), topic_tag (exactly one slug from the allowed list).
Output a JSON array of such objects, no markdown or extra text.`

const critiqueSystemPrompt = `You are a critic for exam MCQs. Review the given MCQ and respond with a short critique: is the correct answer actually correct? Is the question clear? If the key is wrong or ambiguous, say "incorrect key" or similar. Otherwise approve briefly. One paragraph only.`

const summarizeSystemPrompt = `You summarize text concisely. Output only the summary, no preamble.`

// Characters of chunk text sent per generation call. Keeps prompts inside
// the context window for any supported model.
const maxChunkPromptChars = 12000

// Usage records token consumption of one or more LLM calls.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates another call's usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Model wraps langchaingo LLM for MCQ generation, critique and
// summarization. All calls retry transient provider failures.
type Model struct {
	llm       llms.Model
	modelName string
	counter   *tokenCounter
	maxTokens int
}

// NewModel creates an LLM model based on configuration.
func NewModel(cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:       model,
		modelName: cfg.LLMModel,
		counter:   newTokenCounter(cfg.LLMModel),
		maxTokens: cfg.MaxOutputTokens,
	}, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// MCQRequest describes one generation call for a single worker's slice.
type MCQRequest struct {
	// Text is the combined chunk text for this batch.
	Text string
	// Count is the number of MCQs requested.
	Count int
	// Difficulty requested for the whole batch.
	Difficulty models.Difficulty
	// TopicSlugs is the controlled topic vocabulary, injected verbatim
	// into the prompt.
	TopicSlugs []string
	// DefaultTopic replaces any topic tag the model invents.
	DefaultTopic string
	// Outline is optional global context prepended to the chunk text.
	Outline string
	// Retrieved holds optional similarity-retrieved chunks appended as
	// extra context.
	Retrieved []string
}

// GenerateMCQs asks for req.Count questions in one shot and parses the
// response. Unknown topic tags are remapped, structurally invalid
// candidates are dropped.
func (m *Model) GenerateMCQs(ctx context.Context, req MCQRequest) ([]models.MCQ, Usage, error) {
	userPrompt := buildMCQPrompt(req)

	out, usage, err := m.generateWithSystem(ctx, mcqSystemPrompt, userPrompt)
	if err != nil {
		return nil, usage, fmt.Errorf("generate mcqs: %w", err)
	}

	mcqs := ParseMCQs(out, ParseOptions{
		TopicSlugs:   req.TopicSlugs,
		DefaultTopic: req.DefaultTopic,
		Difficulty:   req.Difficulty,
	})
	return mcqs, usage, nil
}

// Critique asks the model to review one MCQ and returns the raw critique
// text.
func (m *Model) Critique(ctx context.Context, mcq models.MCQ) (string, Usage, error) {
	blob, err := json.Marshal(struct {
		Question      string            `json:"question"`
		Options       map[string]string `json:"options"`
		CorrectOption string            `json:"correct_option"`
		Explanation   string            `json:"explanation"`
	}{
		Question:      mcq.Stem,
		Options:       optionMap(mcq.Options),
		CorrectOption: mcq.CorrectOption,
		Explanation:   mcq.Explanation,
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshal mcq: %w", err)
	}

	out, usage, err := m.generateWithSystem(ctx, critiqueSystemPrompt, string(blob))
	if err != nil {
		return "", usage, fmt.Errorf("critique: %w", err)
	}
	return strings.TrimSpace(out), usage, nil
}

// SummarizeChunk produces a 1-3 sentence summary of one chunk.
func (m *Model) SummarizeChunk(ctx context.Context, text string) (string, Usage, error) {
	if strings.TrimSpace(text) == "" {
		return "", Usage{}, nil
	}
	prompt := "Summarize the following study material chunk in 1-3 sentences. Preserve key concepts and terms.\n\n" + truncate(text, maxChunkPromptChars)

	out, usage, err := m.generateWithSystem(ctx, summarizeSystemPrompt, prompt)
	if err != nil {
		return "", usage, fmt.Errorf("summarize chunk: %w", err)
	}
	return strings.TrimSpace(out), usage, nil
}

// SynthesizeOutline combines chunk summaries into one short outline.
func (m *Model) SynthesizeOutline(ctx context.Context, summaries []string) (string, Usage, error) {
	var sb strings.Builder
	for i, s := range summaries {
		if strings.TrimSpace(s) == "" {
			continue
		}
		fmt.Fprintf(&sb, "Chunk %d: %s\n\n", i+1, s)
	}
	if sb.Len() == 0 {
		return "", Usage{}, nil
	}

	prompt := "Create a short global outline (bullet points or numbered) that reflects the structure and main topics of the document. Output only the outline.\n\n" + sb.String()

	out, usage, err := m.generateWithSystem(ctx, summarizeSystemPrompt, prompt)
	if err != nil {
		return "", usage, fmt.Errorf("synthesize outline: %w", err)
	}
	return strings.TrimSpace(out), usage, nil
}

// generateWithSystem issues one chat call with retry and token accounting.
func (m *Model) generateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	var response *llms.ContentResponse
	err := withRetry(ctx, func() error {
		var callErr error
		response, callErr = m.llm.GenerateContent(ctx, messages,
			llms.WithMaxTokens(m.maxTokens),
			llms.WithTemperature(0.3),
		)
		return callErr
	})
	if err != nil {
		return "", Usage{}, wrapFatalError(err)
	}

	if len(response.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no response choices")
	}
	choice := response.Choices[0]

	usage := usageFromGenerationInfo(choice.GenerationInfo)
	if usage == (Usage{}) {
		// Provider did not report usage, estimate locally.
		usage = Usage{
			InputTokens:  m.counter.Count(systemPrompt) + m.counter.Count(userPrompt),
			OutputTokens: m.counter.Count(choice.Content),
		}
	}

	return choice.Content, usage, nil
}

func buildMCQPrompt(req MCQRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Generate exactly %d MCQs at %s difficulty.\n", req.Count, strings.ToLower(string(req.Difficulty)))
	fmt.Fprintf(&sb, "topic_tag must be exactly one of (output verbatim, no other value): %s\n\n", strings.Join(req.TopicSlugs, ", "))

	if strings.TrimSpace(req.Outline) != "" {
		sb.WriteString("Document outline:\n")
		sb.WriteString(req.Outline)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Text chunk:\n")
	sb.WriteString(truncate(req.Text, maxChunkPromptChars))

	if len(req.Retrieved) > 0 {
		sb.WriteString("\n\nRelated passages:\n")
		sb.WriteString(truncate(strings.Join(req.Retrieved, "\n\n"), maxChunkPromptChars/2))
	}

	return sb.String()
}

func usageFromGenerationInfo(info map[string]any) Usage {
	var u Usage
	for key, dst := range map[string]*int{
		"PromptTokens":      &u.InputTokens,
		"prompt_tokens":     &u.InputTokens,
		"input_tokens":      &u.InputTokens,
		"CompletionTokens":  &u.OutputTokens,
		"completion_tokens": &u.OutputTokens,
		"output_tokens":     &u.OutputTokens,
	} {
		if v, ok := info[key]; ok {
			switch n := v.(type) {
			case int:
				*dst = n
			case float64:
				*dst = int(n)
			}
		}
	}
	return u
}

func optionMap(options []models.Option) map[string]string {
	out := make(map[string]string, len(options))
	for _, o := range options {
		out[o.Label] = o.Text
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
