// Package classify turns raw request text into a typed intent category and a
// structured brief that the generation stage consumes verbatim.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"forgelet/internal/chain"
)

// Category is the closed set of request intents. The decision tree is
// evaluated top-down: contact page, then collaborative, then form review,
// then the routed-app fallback. Narrow categories win over broad ones.
type Category string

const (
	CategoryContactPage   Category = "contact-page"
	CategoryCollaborative Category = "collaborative"
	CategoryFormReview    Category = "form-review"
	CategoryRoutedApp     Category = "routed-app"
)

// Categories lists all valid categories in decision order.
var Categories = []Category{
	CategoryContactPage,
	CategoryCollaborative,
	CategoryFormReview,
	CategoryRoutedApp,
}

func validCategory(c Category) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// Archetype is the interaction shape for collaborative apps.
type Archetype string

const (
	ArchetypeBoard   Archetype = "board"
	ArchetypeJournal Archetype = "journal"
	ArchetypeTracker Archetype = "tracker"
	ArchetypeChat    Archetype = "chat"
	ArchetypePoll    Archetype = "poll"
)

var archetypes = []Archetype{ArchetypeBoard, ArchetypeJournal, ArchetypeTracker, ArchetypeChat, ArchetypePoll}

func validArchetype(a Archetype) bool {
	for _, v := range archetypes {
		if v == a {
			return true
		}
	}
	return false
}

// Plan is the implementation plan for a collaborative app. It is produced
// once here and consumed verbatim by the generation stage.
type Plan struct {
	Archetype Archetype `json:"archetype"`
	Capacity  int       `json:"capacity"` // 2 for pairs, 5 for small groups
	UIShape   string    `json:"ui_shape"`
}

// Result is the output of the classification stage. Brief is always
// non-empty; Plan is set only for CategoryCollaborative.
type Result struct {
	Category                Category `json:"category"`
	Brief                   string   `json:"brief"`
	Plan                    *Plan    `json:"plan,omitempty"`
	NeedsContactPlaceholder bool     `json:"needs_contact_placeholder"`
}

// Runner is the single-call chain primitive the classifier uses.
type Runner interface {
	Run(ctx context.Context, tiers []chain.Tier, p chain.Prompt, validate chain.Validator) (*chain.Result, error)
}

// Classifier performs one structured model call per request.
type Classifier struct {
	runner Runner
	tiers  []chain.Tier
}

// New creates a Classifier. The tiers are usually a single fast model; retry
// semantics come from the chain itself.
func New(runner Runner, tiers []chain.Tier) *Classifier {
	return &Classifier{runner: runner, tiers: tiers}
}

// Classify returns a Result for the given request text. A category hint, if
// present, is a trusted signal from the carrier collaborator and
// short-circuits the model call entirely.
func (c *Classifier) Classify(ctx context.Context, text, hint string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, errors.New("classification failed: empty request text")
	}

	if hinted, ok := hintedCategory(hint); ok {
		res := Result{Category: hinted, Brief: strings.TrimSpace(text)}
		if hinted == CategoryCollaborative {
			res.Plan = defaultPlan()
		}
		return res, nil
	}

	p := chain.Prompt{
		System:      classifierSystemPrompt,
		User:        strings.TrimSpace(text),
		Temperature: 0.2,
	}

	chainRes, err := c.runner.Run(ctx, c.tiers, p, validateClassification)
	if err != nil {
		return Result{}, fmt.Errorf("classification failed: %w", err)
	}

	res, err := parseResult(chainRes.Output)
	if err != nil {
		// The validator already accepted this output; a parse failure here
		// means the validator and parser disagree, which is a bug.
		return Result{}, fmt.Errorf("classification failed: %w", err)
	}
	if res.Brief == "" {
		res.Brief = strings.TrimSpace(text)
	}
	return res, nil
}

// hintedCategory maps trusted carrier hints onto categories.
func hintedCategory(hint string) (Category, bool) {
	switch strings.TrimSpace(strings.ToLower(hint)) {
	case "contact-page":
		return CategoryContactPage, true
	case "collaborative", "collaborative-app":
		return CategoryCollaborative, true
	case "form-review", "admin-dual-page":
		return CategoryFormReview, true
	case "routed-app":
		return CategoryRoutedApp, true
	}
	return "", false
}

func defaultPlan() *Plan {
	return &Plan{Archetype: ArchetypeBoard, Capacity: 5, UIShape: "shared list with per-user entries"}
}

// rawResult mirrors the JSON the classifier model is instructed to emit.
type rawResult struct {
	Category                string `json:"category"`
	Brief                   string `json:"brief"`
	Archetype               string `json:"archetype"`
	Capacity                int    `json:"capacity"`
	UIShape                 string `json:"ui_shape"`
	NeedsContactPlaceholder bool   `json:"needs_contact_placeholder"`
}

func parseResult(output string) (Result, error) {
	var raw rawResult
	if err := json.Unmarshal([]byte(extractJSON(output)), &raw); err != nil {
		return Result{}, fmt.Errorf("parsing classifier output: %w", err)
	}

	cat := Category(raw.Category)
	if !validCategory(cat) {
		return Result{}, fmt.Errorf("category %q outside the closed set", raw.Category)
	}

	res := Result{
		Category:                cat,
		Brief:                   strings.TrimSpace(raw.Brief),
		NeedsContactPlaceholder: raw.NeedsContactPlaceholder,
	}

	if cat == CategoryCollaborative {
		plan := &Plan{
			Archetype: Archetype(raw.Archetype),
			Capacity:  raw.Capacity,
			UIShape:   strings.TrimSpace(raw.UIShape),
		}
		if !validArchetype(plan.Archetype) {
			return Result{}, fmt.Errorf("archetype %q outside the closed set", raw.Archetype)
		}
		if plan.Capacity != 2 {
			plan.Capacity = 5
		}
		res.Plan = plan
	}
	return res, nil
}

// validateClassification is the chain validator: the output must parse and
// name exactly one category from the closed set (plus a valid archetype for
// collaborative results).
func validateClassification(output string) error {
	_, err := parseResult(output)
	return err
}

// extractJSON strips a markdown code fence if the model wrapped its JSON.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
