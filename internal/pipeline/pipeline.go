// Package pipeline wires the processing stages together: one claimed request
// goes through classification, generation, sanitization and persistence, and
// ends archived or failed. All stage dependencies are narrow interfaces so
// tests can script each one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"forgelet/internal/chain"
	"forgelet/internal/classify"
	"forgelet/internal/generate"
	"forgelet/internal/queue"
	"forgelet/internal/store"
)

// insertAttempts bounds the allocate-insert retry loop. Each retry draws a
// fresh slug, so hitting the cap means the store is rejecting everything.
const insertAttempts = 5

// Hints the carrier collaborator may attach to a request. Anything else is
// forwarded to the classifier as a category hint.
const (
	HintClassifyOnly   = "classify-only"
	HintAdminCompanion = "admin-companion"
	hintStackPrefix    = "stack:"
)

type Classifier interface {
	Classify(ctx context.Context, text, hint string) (classify.Result, error)
}

type Generator interface {
	Generate(ctx context.Context, res classify.Result, dualPage bool) (*generate.Output, error)
}

type Cleaner interface {
	Clean(html, storageKey string) (string, error)
}

type SlugAllocator interface {
	Allocate(ctx context.Context, owner string) (string, error)
}

type Artifacts interface {
	Insert(ctx context.Context, a store.Artifact) (string, error)
	GetByStorageKey(ctx context.Context, key string) (store.Artifact, error)
}

type Disposer interface {
	Archive(t *queue.Task) error
	Fail(t *queue.Task, cause error, diag any) error
}

// Notifier delivers user-visible outcome messages back to the sender.
type Notifier interface {
	Notify(ctx context.Context, t *queue.Task, message string) error
}

// LogNotifier writes outcome messages to the log. It stands in wherever no
// carrier integration is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, t *queue.Task, message string) error {
	n.Logger.Info("notify", "sender", t.Sender, "owner", t.Owner, "message", message)
	return nil
}

// Runner processes claimed tasks end to end.
type Runner struct {
	classifier Classifier
	generator  Generator
	cleaner    Cleaner
	slugs      SlugAllocator
	artifacts  Artifacts
	disposer   Disposer
	notifier   Notifier
	baseURL    string
	logger     *slog.Logger
}

// New creates a Runner. baseURL is the public serving root used in success
// messages, e.g. "https://pages.example.com".
func New(classifier Classifier, generator Generator, cleaner Cleaner, slugs SlugAllocator, artifacts Artifacts, disposer Disposer, notifier Notifier, baseURL string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &Runner{
		classifier: classifier,
		generator:  generator,
		cleaner:    cleaner,
		slugs:      slugs,
		artifacts:  artifacts,
		disposer:   disposer,
		notifier:   notifier,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// Handle runs one claimed task to its terminal disposition. The returned
// error reports the failure to the dispatcher; the file itself has already
// been archived or failed by the time Handle returns.
func (r *Runner) Handle(ctx context.Context, t *queue.Task) error {
	classifyOnly := t.Hint == HintClassifyOnly
	dualPage := t.Hint == HintAdminCompanion
	stackKey := strings.TrimPrefix(t.Hint, hintStackPrefix)
	stacked := stackKey != t.Hint

	categoryHint := t.Hint
	if classifyOnly || dualPage || stacked {
		categoryHint = ""
	}

	res, err := r.classifier.Classify(ctx, t.Text, categoryHint)
	if err != nil {
		return r.fail(ctx, t, err, nil)
	}
	r.logger.Info("classified request", "file", t.Name, "category", res.Category)

	if classifyOnly {
		msg := fmt.Sprintf("Classified as %s: %s", res.Category, res.Brief)
		if err := r.notifier.Notify(ctx, t, msg); err != nil {
			r.logger.Warn("notify failed", "error", err)
		}
		return r.disposer.Archive(t)
	}

	// Stacked apps write into an existing artifact's data scope; resolve it
	// before spending model tokens.
	dataKey := ""
	if stacked {
		existing, err := r.artifacts.GetByStorageKey(ctx, stackKey)
		if err != nil {
			return r.fail(ctx, t, fmt.Errorf("resolving stack target %s: %w", stackKey, err), nil)
		}
		dataKey = existing.DataKey
	}

	gen, err := r.generator.Generate(ctx, res, dualPage)
	if err != nil {
		return r.fail(ctx, t, err, attemptDiag(err))
	}
	r.logger.Info("generated artifact", "file", t.Name, "tier", gen.Tier, "attempts", len(gen.Attempts))

	storageKey := uuid.NewString()
	if dataKey == "" {
		dataKey = storageKey
	}

	html := r.personalize(gen.HTML, t, res)
	html, err = r.cleaner.Clean(html, dataKey)
	if err != nil {
		return r.fail(ctx, t, err, attemptDiag(err))
	}

	appSlug, err := r.insert(ctx, store.Artifact{
		StorageKey:  storageKey,
		OwnerSlug:   t.Owner,
		Category:    string(res.Category),
		Brief:       res.Brief,
		RequestText: t.Text,
		HTML:        html,
		DataKey:     dataKey,
	}, "")
	if err != nil {
		return r.fail(ctx, t, err, nil)
	}

	urls := []string{r.url(t.Owner, appSlug)}

	if gen.AdminHTML != "" {
		adminHTML, err := r.cleaner.Clean(gen.AdminHTML, dataKey)
		if err != nil {
			return r.fail(ctx, t, err, nil)
		}
		adminSlug, err := r.insert(ctx, store.Artifact{
			OwnerSlug:   t.Owner,
			Category:    string(res.Category),
			Brief:       res.Brief,
			RequestText: t.Text,
			HTML:        adminHTML,
			DataKey:     dataKey,
			CompanionOf: storageKey,
		}, appSlug+"-admin")
		if err != nil {
			return r.fail(ctx, t, err, nil)
		}
		urls = append(urls, r.url(t.Owner, adminSlug))
	}

	msg := "Your page is live: " + urls[0]
	if len(urls) > 1 {
		msg += "\nOwner dashboard (keep private): " + urls[1]
	}
	if err := r.notifier.Notify(ctx, t, msg); err != nil {
		r.logger.Warn("notify failed", "error", err)
	}

	return r.disposer.Archive(t)
}

// insert persists an artifact, drawing slugs until one sticks. preferred is
// tried first when set; every retry after a collision draws fresh.
func (r *Runner) insert(ctx context.Context, a store.Artifact, preferred string) (string, error) {
	for attempt := 0; attempt < insertAttempts; attempt++ {
		slug := preferred
		preferred = ""
		if slug == "" {
			var err error
			slug, err = r.slugs.Allocate(ctx, a.OwnerSlug)
			if err != nil {
				return "", err
			}
		}
		a.AppSlug = slug

		if _, err := r.artifacts.Insert(ctx, a); err != nil {
			if errors.Is(err, store.ErrSlugTaken) {
				r.logger.Debug("slug lost insert race, retrying", "owner", a.OwnerSlug, "slug", slug)
				continue
			}
			return "", err
		}
		return slug, nil
	}
	return "", fmt.Errorf("inserting artifact for %s: %w", a.OwnerSlug, store.ErrSlugTaken)
}

// personalize fills the contact placeholder when the sender address is
// usable. An unfilled placeholder is left for the owner to edit.
func (r *Runner) personalize(html string, t *queue.Task, res classify.Result) string {
	if res.NeedsContactPlaceholder && strings.Contains(t.Sender, "@") {
		return strings.ReplaceAll(html, "[CONTACT_EMAIL]", t.Sender)
	}
	return html
}

func (r *Runner) url(owner, slug string) string {
	return fmt.Sprintf("%s/%s/%s", r.baseURL, owner, slug)
}

// fail records the terminal failure, notifies the sender once, and returns
// the original cause for the dispatcher's counters. A run cut short by
// shutdown is not a verdict on the request: the file stays claimed in
// processing/ for the staleness sweep to readmit, and the sender hears
// nothing.
func (r *Runner) fail(ctx context.Context, t *queue.Task, cause error, diag any) error {
	if ctx.Err() != nil || errors.Is(cause, context.Canceled) {
		r.logger.Info("request interrupted, leaving claim for readmission", "file", t.Name)
		return cause
	}
	if err := r.notifier.Notify(ctx, t, "Sorry, that request could not be completed."); err != nil {
		r.logger.Warn("notify failed", "error", err)
	}
	if err := r.disposer.Fail(t, cause, diag); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// attemptDiag pulls the per-attempt history out of a chain exhaustion error
// for the diagnostics sidecar.
func attemptDiag(err error) any {
	var ex *chain.ExhaustedError
	if errors.As(err, &ex) {
		return ex.Attempts
	}
	return nil
}
