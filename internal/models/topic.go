package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Topic is one entry of the controlled topic vocabulary. Generated
// questions must carry a topic tag that is one of these slugs; unknown
// tags are remapped to the default before persistence.
type Topic struct {
	ID        surrealmodels.RecordID `json:"id"`
	Slug      string                 `json:"slug"`
	Name      string                 `json:"name"`
	SortOrder int                    `json:"sort_order"`
	CreatedAt time.Time              `json:"created_at"`
}
