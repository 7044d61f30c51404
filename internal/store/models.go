package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrSlugTaken is returned when an insert collides on (owner_slug, app_slug).
// Callers draw a fresh slug and retry.
var ErrSlugTaken = errors.New("slug already taken for owner")

// Artifact is one persisted generated page.
type Artifact struct {
	StorageKey  string // UUID, permanent identity
	OwnerSlug   string
	AppSlug     string
	Category    string
	Brief       string
	RequestText string // original natural-language request
	HTML        string
	DataKey     string // storage key scoping the page's saved data; usually == StorageKey
	CompanionOf string // public page's storage key, set only on admin companions
	CreatedAt   time.Time
}
