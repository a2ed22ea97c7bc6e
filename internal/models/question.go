package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Option is one answer choice with its ordered label ("A".."E").
type Option struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// MCQ is one generated multiple-choice question before persistence.
// The candidate generator creates it, the critique filter annotates it,
// and the selector assigns no state of its own (ordering is positional).
type MCQ struct {
	Stem          string   `json:"question"`
	Options       []Option `json:"options"`
	CorrectOption string   `json:"correct_option"`
	Explanation   string   `json:"explanation"`
	Difficulty    string   `json:"difficulty"` // easy | medium | hard
	TopicTag      string   `json:"topic_tag"`

	// Critique filter annotations.
	Critique     string  `json:"critique,omitempty"`
	QualityScore float64 `json:"quality_score,omitempty"`
}

// Labels returns the option labels in order.
func (m MCQ) Labels() []string {
	labels := make([]string, len(m.Options))
	for i, o := range m.Options {
		labels[i] = o.Label
	}
	return labels
}

// HasOption reports whether label is among the MCQ's option labels.
func (m MCQ) HasOption(label string) bool {
	for _, o := range m.Options {
		if o.Label == label {
			return true
		}
	}
	return false
}

// Question is one persisted MCQ belonging to a run, unique by
// (run, sort_order).
type Question struct {
	ID  surrealmodels.RecordID `json:"id"`
	Run surrealmodels.RecordID `json:"run"`

	SortOrder     int      `json:"sort_order"`
	Stem          string   `json:"question"`
	Options       []Option `json:"options"`
	CorrectOption string   `json:"correct_option"`
	Explanation   string   `json:"explanation"`
	Difficulty    string   `json:"difficulty"`
	TopicTag      string   `json:"topic_tag"`

	Critique     *string  `json:"critique,omitempty"`
	QualityScore *float64 `json:"quality_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QuestionInput is the input structure for manual question insertion
// and faculty edits.
type QuestionInput struct {
	Stem          string   `json:"question"`
	Options       []Option `json:"options"`
	CorrectOption string   `json:"correct_option"`
	Explanation   string   `json:"explanation"`
	Difficulty    string   `json:"difficulty"`
	TopicTag      string   `json:"topic_tag"`
}
