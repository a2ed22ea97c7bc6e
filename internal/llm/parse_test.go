package llm

import (
	"testing"

	"github.com/quizforge/quizforge/internal/models"
)

var testParseOpts = ParseOptions{
	TopicSlugs:   []string{"polity", "economy", "history"},
	DefaultTopic: "polity",
	Difficulty:   models.DifficultyMedium,
}

const validMCQJSON = `[{
	"question": "Which organ interprets the constitution?",
	"options": {"A": "Legislature", "B": "Executive", "C": "Judiciary", "D": "Election commission"},
	"correct_option": "C",
	"explanation": "Judicial review rests with the courts.",
	"difficulty": "easy",
	"topic_tag": "polity"
}]`

func TestParseMCQs_Valid(t *testing.T) {
	mcqs := ParseMCQs(validMCQJSON, testParseOpts)
	if len(mcqs) != 1 {
		t.Fatalf("ParseMCQs() got %d MCQs, want 1", len(mcqs))
	}

	m := mcqs[0]
	if m.Stem != "Which organ interprets the constitution?" {
		t.Errorf("Stem = %q", m.Stem)
	}
	if len(m.Options) != 4 {
		t.Fatalf("got %d options, want 4", len(m.Options))
	}
	for i, want := range []string{"A", "B", "C", "D"} {
		if m.Options[i].Label != want {
			t.Errorf("option[%d].Label = %q, want %q", i, m.Options[i].Label, want)
		}
	}
	if m.CorrectOption != "C" {
		t.Errorf("CorrectOption = %q, want C", m.CorrectOption)
	}
	if m.Difficulty != "easy" {
		t.Errorf("Difficulty = %q, want easy", m.Difficulty)
	}
	if m.TopicTag != "polity" {
		t.Errorf("TopicTag = %q, want polity", m.TopicTag)
	}
}

func TestParseMCQs_Wrappers(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{name: "bare array", content: validMCQJSON, want: 1},
		{name: "code fence", content: "```json\n" + validMCQJSON + "\n```", want: 1},
		{name: "fence without language", content: "```\n" + validMCQJSON + "\n```", want: 1},
		{name: "questions wrapper", content: `{"questions": ` + validMCQJSON + `}`, want: 1},
		{name: "empty array", content: "[]", want: 0},
		{name: "prose not json", content: "I cannot generate questions for this text.", want: 0},
		{name: "empty string", content: "", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMCQs(tt.content, testParseOpts)
			if len(got) != tt.want {
				t.Errorf("ParseMCQs() got %d MCQs, want %d", len(got), tt.want)
			}
		})
	}
}

func TestParseMCQs_DropsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		content string
	}{
		{
			name: "missing stem",
			content: `[{"question": "", "options": {"A":"1","B":"2","C":"3","D":"4"},
				"correct_option": "A", "explanation": "x", "difficulty": "easy", "topic_tag": "polity"}]`,
		},
		{
			name: "three options",
			content: `[{"question": "Q?", "options": {"A":"1","B":"2","C":"3"},
				"correct_option": "A", "explanation": "x", "difficulty": "easy", "topic_tag": "polity"}]`,
		},
		{
			name: "six options",
			content: `[{"question": "Q?", "options": {"A":"1","B":"2","C":"3","D":"4","E":"5","F":"6"},
				"correct_option": "A", "explanation": "x", "difficulty": "easy", "topic_tag": "polity"}]`,
		},
		{
			name: "non-contiguous labels",
			content: `[{"question": "Q?", "options": {"A":"1","B":"2","C":"3","E":"5"},
				"correct_option": "A", "explanation": "x", "difficulty": "easy", "topic_tag": "polity"}]`,
		},
		{
			name: "correct option absent",
			content: `[{"question": "Q?", "options": {"A":"1","B":"2","C":"3","D":"4"},
				"correct_option": "E", "explanation": "x", "difficulty": "easy", "topic_tag": "polity"}]`,
		},
		{
			name: "empty option text",
			content: `[{"question": "Q?", "options": {"A":"1","B":"","C":"3","D":"4"},
				"correct_option": "A", "explanation": "x", "difficulty": "easy", "topic_tag": "polity"}]`,
		},
		{
			name: "missing explanation",
			content: `[{"question": "Q?", "options": {"A":"1","B":"2","C":"3","D":"4"},
				"correct_option": "A", "explanation": "", "difficulty": "easy", "topic_tag": "polity"}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMCQs(tt.content, testParseOpts)
			if len(got) != 0 {
				t.Errorf("ParseMCQs() got %d MCQs, want 0", len(got))
			}
		})
	}
}

func TestParseMCQs_FiveOptions(t *testing.T) {
	content := `[{"question": "Q?", "options": {"A":"1","B":"2","C":"3","D":"4","E":"5"},
		"correct_option": "E", "explanation": "x", "difficulty": "hard", "topic_tag": "economy"}]`

	got := ParseMCQs(content, testParseOpts)
	if len(got) != 1 {
		t.Fatalf("ParseMCQs() got %d MCQs, want 1", len(got))
	}
	if len(got[0].Options) != 5 {
		t.Errorf("got %d options, want 5", len(got[0].Options))
	}
	if got[0].CorrectOption != "E" {
		t.Errorf("CorrectOption = %q, want E", got[0].CorrectOption)
	}
}

func TestParseMCQs_TopicRemap(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		want  string
	}{
		{name: "known slug kept", topic: "economy", want: "economy"},
		{name: "case normalized", topic: "Economy", want: "economy"},
		{name: "unknown remapped", topic: "astrophysics", want: "polity"},
		{name: "empty remapped", topic: "", want: "polity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := `[{"question": "Q?", "options": {"A":"1","B":"2","C":"3","D":"4"},
				"correct_option": "A", "explanation": "x", "difficulty": "medium",
				"topic_tag": "` + tt.topic + `"}]`

			got := ParseMCQs(content, testParseOpts)
			if len(got) != 1 {
				t.Fatalf("ParseMCQs() got %d MCQs, want 1", len(got))
			}
			if got[0].TopicTag != tt.want {
				t.Errorf("TopicTag = %q, want %q", got[0].TopicTag, tt.want)
			}
		})
	}
}

func TestParseMCQs_DifficultyFallback(t *testing.T) {
	content := `[{"question": "Q?", "options": {"A":"1","B":"2","C":"3","D":"4"},
		"correct_option": "A", "explanation": "x", "difficulty": "impossible", "topic_tag": "polity"}]`

	got := ParseMCQs(content, testParseOpts)
	if len(got) != 1 {
		t.Fatalf("ParseMCQs() got %d MCQs, want 1", len(got))
	}
	if got[0].Difficulty != "medium" {
		t.Errorf("Difficulty = %q, want requested fallback medium", got[0].Difficulty)
	}
}
