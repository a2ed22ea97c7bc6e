// Package models defines data structures for the quizforge generation pipeline.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// DocumentStatus tracks the extraction lifecycle of an uploaded document.
// The generation core only reads it; the extraction subsystem owns the
// transitions.
type DocumentStatus string

const (
	DocumentPending          DocumentStatus = "pending"
	DocumentProcessing       DocumentStatus = "processing"
	DocumentReady            DocumentStatus = "ready"
	DocumentExtractionFailed DocumentStatus = "extraction_failed"
	DocumentRejected         DocumentStatus = "rejected"
)

// Document is one source text unit (a PDF upload or pasted text).
type Document struct {
	ID surrealmodels.RecordID `json:"id"`

	Filename *string        `json:"filename,omitempty"`
	Title    *string        `json:"title,omitempty"`
	Status   DocumentStatus `json:"status"`

	// ExtractedText is nil until extraction completes.
	ExtractedText *string `json:"extracted_text,omitempty"`
	WordCount     int     `json:"word_count"`
	PageCount     int     `json:"page_count"`
	// PagesExtracted is the per-page extraction progress counter.
	PagesExtracted int `json:"pages_extracted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentInput is the input structure for creating documents.
type DocumentInput struct {
	Filename      *string        `json:"filename,omitempty"`
	Title         *string        `json:"title,omitempty"`
	Status        DocumentStatus `json:"status"`
	ExtractedText *string        `json:"extracted_text,omitempty"`
	WordCount     int            `json:"word_count"`
	PageCount     int            `json:"page_count"`
}

// CountWords returns the whitespace-delimited word count of text.
// Used for the minimum-extraction-words gate before generation.
func CountWords(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			inWord = false
		case !inWord:
			inWord = true
			count++
		}
	}
	return count
}
