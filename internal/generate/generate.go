// Package generate turns a classification brief into a runnable HTML
// artifact via the model fallback chain.
package generate

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"time"

	"forgelet/internal/chain"
	"forgelet/internal/classify"
)

//go:embed prompts/*.txt
var promptFS embed.FS

// AdminDelimiter separates the public and admin pages in dual-page builder
// output. The admin builder template instructs the model to emit it.
const AdminDelimiter = "<!-- FORGELET_ADMIN_PAGE -->"

// Tiers groups the configured generation tiers by role.
type Tiers struct {
	Premium  chain.Tier // high capability, first choice
	Standard chain.Tier // cheaper, mid budget
	Large    chain.Tier // highest token budget, last resort
}

// Output is a validated, extracted generation result. AdminHTML is set only
// for dual-page builds.
type Output struct {
	HTML      string
	AdminHTML string
	Tier      string
	Attempts  []chain.Attempt
}

// Runner is the chain primitive; it is an interface so tests can script it.
type Runner interface {
	Run(ctx context.Context, tiers []chain.Tier, p chain.Prompt, validate chain.Validator) (*chain.Result, error)
}

// Generator builds artifacts from classification results.
type Generator struct {
	runner Runner
	tiers  Tiers
}

// New creates a Generator.
func New(runner Runner, tiers Tiers) *Generator {
	return &Generator{runner: runner, tiers: tiers}
}

// TiersFor returns the fallback order for a category. The standard tier's
// token budget cannot complete collaborative artifacts, so that category
// skips it rather than paying for a guaranteed-failed attempt.
func (g *Generator) TiersFor(category classify.Category) []chain.Tier {
	if category == classify.CategoryCollaborative {
		return []chain.Tier{g.tiers.Premium, g.tiers.Large}
	}
	return []chain.Tier{g.tiers.Premium, g.tiers.Standard, g.tiers.Large}
}

// Generate runs the fallback chain for the classified request and returns
// the extracted page (or page pair). DualPage forces the admin builder even
// when the category alone would not select it.
func (g *Generator) Generate(ctx context.Context, res classify.Result, dualPage bool) (*Output, error) {
	system, err := g.systemPrompt(res, dualPage)
	if err != nil {
		return nil, err
	}

	p := chain.Prompt{
		System:      system,
		User:        buildUserPrompt(res),
		Temperature: 0.7,
	}

	wantAdmin := dualPage || res.Category == classify.CategoryFormReview
	validate := validatorFor(res, wantAdmin)

	chainRes, err := g.runner.Run(ctx, g.TiersFor(res.Category), p, validate)
	if err != nil {
		return nil, fmt.Errorf("generation: %w", err)
	}

	code := ExtractCode(chainRes.Output)
	out := &Output{Tier: chainRes.Tier, Attempts: chainRes.Attempts}
	if wantAdmin {
		out.HTML, out.AdminHTML = SplitAdmin(code)
	} else {
		out.HTML = code
	}
	return out, nil
}

func (g *Generator) systemPrompt(res classify.Result, dualPage bool) (string, error) {
	name := builderFor(res.Category, dualPage)
	data, err := promptFS.ReadFile("prompts/" + name)
	if err != nil {
		return "", fmt.Errorf("loading builder prompt %s: %w", name, err)
	}
	return string(data), nil
}

func builderFor(category classify.Category, dualPage bool) string {
	if dualPage || category == classify.CategoryFormReview {
		return "builder-admin.txt"
	}
	switch category {
	case classify.CategoryContactPage:
		return "builder-contact.txt"
	case classify.CategoryCollaborative:
		return "builder-collab.txt"
	default:
		return "builder-app.txt"
	}
}

// buildUserPrompt assembles the user message from the brief and, for
// collaborative requests, the implementation plan chosen by the classifier.
// The plan is passed through verbatim; the builder never re-derives it.
func buildUserPrompt(res classify.Result) string {
	var b strings.Builder
	b.WriteString(res.Brief)
	if res.Plan != nil {
		fmt.Fprintf(&b, "\n\nIMPLEMENTATION PLAN (follow exactly):\n")
		fmt.Fprintf(&b, "- interaction archetype: %s\n", res.Plan.Archetype)
		fmt.Fprintf(&b, "- participant capacity: %d\n", res.Plan.Capacity)
		if res.Plan.UIShape != "" {
			fmt.Fprintf(&b, "- UI shape: %s\n", res.Plan.UIShape)
		}
	}
	if res.NeedsContactPlaceholder {
		b.WriteString("\n\nUse the exact placeholder [CONTACT_EMAIL] wherever a contact address appears. Never invent an address.")
	}
	return b.String()
}

// DefaultTiers builds the Tiers set from model names, budgets and a shared
// per-attempt timeout.
func DefaultTiers(premiumModel string, premiumTokens int, standardModel string, standardTokens int, largeModel string, largeTokens int, timeout time.Duration) Tiers {
	return Tiers{
		Premium:  chain.Tier{Name: "premium", Model: premiumModel, MaxTokens: premiumTokens, Timeout: timeout},
		Standard: chain.Tier{Name: "standard", Model: standardModel, MaxTokens: standardTokens, Timeout: timeout},
		Large:    chain.Tier{Name: "large", Model: largeModel, MaxTokens: largeTokens, Timeout: timeout},
	}
}
