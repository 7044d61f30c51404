package generate

import (
	"fmt"
	"strings"

	"forgelet/internal/chain"
	"forgelet/internal/classify"
	"forgelet/internal/sanitize"
)

// elisionPhrases are continuation markers that mean the model truncated its
// own output. Their presence makes a response incomplete even when the call
// itself succeeded.
var elisionPhrases = []string{
	"rest of the code",
	"rest of code",
	"remains the same",
	"remains unchanged",
	"code continues",
	"rest omitted",
	"previous implementation",
	"same as before",
	"... (truncated",
}

// requiredMarkers lists the structural symbols each category's artifact must
// contain. Collaborative pages are driven by the serving layer's helper
// functions, so the markup must actually invoke them, auth bootstrap
// included.
func requiredMarkers(category classify.Category, wantAdmin bool) []string {
	markers := []string{"<html"}
	switch category {
	case classify.CategoryCollaborative:
		markers = append(markers, "initAuth(", "save(", "load(")
	case classify.CategoryFormReview:
		markers = append(markers, "<form")
	}
	if wantAdmin {
		markers = append(markers, AdminDelimiter)
	}
	return markers
}

// submitMarkers are the ways a form can be wired to a submit handler; a
// form-review page must carry at least one, matched case-insensitively.
var submitMarkers = []string{
	"onsubmit",
	"addeventlistener('submit'",
	`addeventlistener("submit"`,
}

// validatorFor builds the chain validator for one generation run: code must
// extract, carry every required marker, and contain no elision phrase.
func validatorFor(res classify.Result, wantAdmin bool) chain.Validator {
	markers := requiredMarkers(res.Category, wantAdmin)
	return func(output string) error {
		code := ExtractCode(output)
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("no code block in response")
		}

		lower := strings.ToLower(code)
		for _, phrase := range elisionPhrases {
			if strings.Contains(lower, phrase) {
				return fmt.Errorf("incomplete response: contains elision phrase %q", phrase)
			}
		}

		for _, m := range markers {
			if !strings.Contains(code, m) {
				return fmt.Errorf("missing required marker %q", m)
			}
		}

		if res.Category == classify.CategoryFormReview {
			wired := false
			for _, m := range submitMarkers {
				if strings.Contains(lower, m) {
					wired = true
					break
				}
			}
			if !wired {
				return fmt.Errorf("form has no submit handler")
			}
		}

		// A store-access pattern the sanitizer cannot rewrite fails the
		// attempt now, while a fallback tier can still try.
		if err := sanitize.Precheck(code); err != nil {
			return fmt.Errorf("unsanitizable output: %w", err)
		}
		return nil
	}
}
