// Package slug allocates human-readable artifact names unique within one
// owner's namespace.
package slug

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// maxAttempts bounds the redraw loop before falling back to a time suffix.
const maxAttempts = 50

// Checker reports whether an owner already has an artifact under a slug.
type Checker interface {
	ExistsForOwner(ctx context.Context, owner, slug string) (bool, error)
}

// Allocator draws three-word slugs and resolves collisions against the
// backing store.
type Allocator struct {
	checker Checker
	logger  *slog.Logger
	now     func() time.Time
	intn    func(n int) int
}

// New creates an Allocator backed by the given existence checker.
func New(checker Checker, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		checker: checker,
		logger:  logger,
		now:     time.Now,
		intn:    rand.IntN,
	}
}

// Draw returns one random descriptor-subject-action slug without any
// uniqueness guarantee.
func (a *Allocator) Draw() string {
	return fmt.Sprintf("%s-%s-%s",
		descriptors[a.intn(len(descriptors))],
		subjects[a.intn(len(subjects))],
		actions[a.intn(len(actions))],
	)
}

// Allocate returns a slug not currently used by owner. It redraws on
// collision up to maxAttempts, then appends a compact time suffix and stops
// retrying. Collisions are expected under concurrent load and are never
// surfaced as errors; only checker failures propagate.
//
// The existence check and the eventual insert are not one transaction: the
// store's insert can still report a unique-constraint violation, and the
// caller is expected to loop back here when it does.
func (a *Allocator) Allocate(ctx context.Context, owner string) (string, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		candidate := a.Draw()
		exists, err := a.checker.ExistsForOwner(ctx, owner, candidate)
		if err != nil {
			return "", fmt.Errorf("checking slug %s for %s: %w", candidate, owner, err)
		}
		if !exists {
			return candidate, nil
		}
		a.logger.Debug("slug collision, redrawing", "owner", owner, "slug", candidate, "attempt", attempt)
	}

	// Time suffix guarantees uniqueness at second granularity; good enough
	// given 50 straight collisions means the namespace is badly crowded.
	suffixed := fmt.Sprintf("%s-%s", a.Draw(), a.now().UTC().Format("150405"))
	a.logger.Warn("slug attempts exhausted, using time suffix", "owner", owner, "slug", suffixed)
	return suffixed, nil
}
