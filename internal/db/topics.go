package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	"gopkg.in/yaml.v3"

	"github.com/quizforge/quizforge/internal/models"
)

//go:embed topics.yaml
var defaultTopicsYAML []byte

// TopicSeed is one entry of the embedded default vocabulary.
type TopicSeed struct {
	Slug      string `yaml:"slug"`
	Name      string `yaml:"name"`
	SortOrder int    `yaml:"sort_order"`
}

// DefaultTopics parses the embedded topic vocabulary.
func DefaultTopics() ([]TopicSeed, error) {
	var doc struct {
		Topics []TopicSeed `yaml:"topics"`
	}
	if err := yaml.Unmarshal(defaultTopicsYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse default topics: %w", err)
	}
	return doc.Topics, nil
}

// SeedTopics upserts the topic vocabulary. Slug is the record ID, so
// seeding is idempotent and never duplicates entries.
func (c *Client) SeedTopics(ctx context.Context, topics []TopicSeed) error {
	for _, t := range topics {
		_, err := surrealdb.Query[any](ctx, c.db, `
			UPSERT type::record("topic_list", $slug) SET
				slug = $slug,
				name = $name,
				sort_order = $sort_order
		`, map[string]any{
			"slug":       t.Slug,
			"name":       t.Name,
			"sort_order": t.SortOrder,
		})
		if err != nil {
			return fmt.Errorf("seed topic %s: %w", t.Slug, wrapQueryError(err))
		}
	}
	return nil
}

// ListTopics returns the vocabulary ordered for display.
func (c *Client) ListTopics(ctx context.Context) ([]models.Topic, error) {
	results, err := surrealdb.Query[[]models.Topic](ctx, c.db, `
		SELECT * FROM topic_list ORDER BY sort_order ASC, slug ASC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Topic{}, nil
	}
	return (*results)[0].Result, nil
}

// TopicSlugs returns the ordered slug list for prompt injection.
func (c *Client) TopicSlugs(ctx context.Context) ([]string, error) {
	topics, err := c.ListTopics(ctx)
	if err != nil {
		return nil, err
	}
	slugs := make([]string, len(topics))
	for i, t := range topics {
		slugs[i] = t.Slug
	}
	return slugs, nil
}
