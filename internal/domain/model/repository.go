package model

import "time"

// Repository is a source repository whose pipelines are tracked.
// Slug is the provider's "owner/name" identifier and is unique.
type Repository struct {
	ID        int64
	Name      string
	Slug      string
	Workspace string
	CreatedAt time.Time
}
