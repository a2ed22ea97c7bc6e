package llm

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/quizforge/quizforge/internal/models"
)

// wireMCQ mirrors the JSON shape the generation prompt asks for.
type wireMCQ struct {
	Question      string            `json:"question"`
	Options       map[string]string `json:"options"`
	CorrectOption string            `json:"correct_option"`
	Explanation   string            `json:"explanation"`
	Difficulty    string            `json:"difficulty"`
	TopicTag      string            `json:"topic_tag"`
}

// ParseOptions controls validation and normalization of parsed MCQs.
type ParseOptions struct {
	// TopicSlugs is the controlled vocabulary. An MCQ whose tag is not in
	// it gets DefaultTopic instead of being rejected.
	TopicSlugs   []string
	DefaultTopic string
	// Difficulty fills in candidates whose difficulty tag is missing or
	// unrecognized.
	Difficulty models.Difficulty
}

// ParseMCQs extracts MCQs from a model response. Invalid JSON yields an
// empty slice, structurally broken candidates are dropped, unknown topic
// tags are remapped to the default.
func ParseMCQs(content string, opts ParseOptions) []models.MCQ {
	raw := parseWire(content)

	allowed := make(map[string]bool, len(opts.TopicSlugs))
	for _, s := range opts.TopicSlugs {
		allowed[s] = true
	}

	var out []models.MCQ
	for _, w := range raw {
		mcq, ok := normalizeMCQ(w, allowed, opts)
		if !ok {
			continue
		}
		out = append(out, mcq)
	}
	return out
}

// parseWire handles the response wrapping variants models produce: bare
// array, fenced array, or an object with a "questions" key.
func parseWire(content string) []wireMCQ {
	content = stripCodeFence(strings.TrimSpace(content))
	if content == "" {
		return nil
	}

	var arr []wireMCQ
	if err := json.Unmarshal([]byte(content), &arr); err == nil {
		return arr
	}

	var wrapped struct {
		Questions []wireMCQ `json:"questions"`
	}
	if err := json.Unmarshal([]byte(content), &wrapped); err == nil && len(wrapped.Questions) > 0 {
		return wrapped.Questions
	}

	var single wireMCQ
	if err := json.Unmarshal([]byte(content), &single); err == nil && single.Question != "" {
		return []wireMCQ{single}
	}

	slog.Warn("model returned unparseable MCQ JSON", "head", truncate(content, 200))
	return nil
}

func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 1 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[1 : len(lines)-1]
	} else {
		lines = lines[1:]
	}
	return strings.Join(lines, "\n")
}

func normalizeMCQ(w wireMCQ, allowed map[string]bool, opts ParseOptions) (models.MCQ, bool) {
	stem := strings.TrimSpace(w.Question)
	explanation := strings.TrimSpace(w.Explanation)
	correct := strings.ToUpper(strings.TrimSpace(w.CorrectOption))
	if stem == "" || explanation == "" || correct == "" {
		return models.MCQ{}, false
	}

	options, ok := normalizeOptions(w.Options)
	if !ok {
		return models.MCQ{}, false
	}

	correctFound := false
	for _, o := range options {
		if o.Label == correct {
			correctFound = true
			break
		}
	}
	if !correctFound {
		return models.MCQ{}, false
	}

	difficulty := strings.ToLower(strings.TrimSpace(w.Difficulty))
	switch difficulty {
	case "easy", "medium", "hard":
	default:
		difficulty = strings.ToLower(string(opts.Difficulty))
	}

	topic := strings.ToLower(strings.TrimSpace(w.TopicTag))
	if !allowed[topic] {
		slog.Info("unknown topic tag from model, remapping",
			"tag", topic,
			"default", opts.DefaultTopic)
		topic = opts.DefaultTopic
	}

	return models.MCQ{
		Stem:          stem,
		Options:       options,
		CorrectOption: correct,
		Explanation:   explanation,
		Difficulty:    difficulty,
		TopicTag:      topic,
	}, true
}

// normalizeOptions requires 4 or 5 options with contiguous labels
// starting at A.
func normalizeOptions(raw map[string]string) ([]models.Option, bool) {
	if len(raw) != 4 && len(raw) != 5 {
		return nil, false
	}

	options := make([]models.Option, 0, len(raw))
	for label, text := range raw {
		label = strings.ToUpper(strings.TrimSpace(label))
		text = strings.TrimSpace(text)
		if len(label) != 1 || text == "" {
			return nil, false
		}
		options = append(options, models.Option{Label: label, Text: text})
	}
	sort.Slice(options, func(i, j int) bool { return options[i].Label < options[j].Label })

	for i, o := range options {
		if o.Label != string(rune('A'+i)) {
			return nil, false
		}
	}
	return options, true
}
