// Package sanitize rewrites generated markup before it is persisted: direct
// data-store access is replaced with the serving layer's save/load
// indirection, and every identifier placeholder or self-invented app id is
// substituted with the artifact's real storage key.
//
// The whole pass is deterministic and idempotent; sanitizer output is final
// and is never sent back to a model for fixing.
package sanitize

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrUnsanitizable means the output contains a direct-store pattern the
// rewrite rules did not cover. Unsanitized output is a security defect, so
// this surfaces as a validation failure, never as a silent pass-through.
var ErrUnsanitizable = errors.New("unrecognized data-store access pattern")

var (
	// Client bootstrap script tag loading the store library.
	bootstrapScriptRe = regexp.MustCompile(`(?i)<script[^>]*src\s*=\s*["'][^"']*storekit[^"']*["'][^>]*>\s*</script>`)

	// Direct client construction, with or without assignment.
	clientConstructRe = regexp.MustCompile(`(?m)^\s*(?:const|let|var)\s+\w+\s*=\s*window\.storekit\.createClient\([^)]*\);?\s*$`)
	bareConstructRe   = regexp.MustCompile(`window\.storekit\.createClient\([^)]*\)`)

	// Direct writes against the restricted submissions table.
	insertCallRe = regexp.MustCompile(`(?s)await\s+\w+\.from\(['"]submissions['"]\)\.insert\(\s*\{[^}]*\}\s*\)`)

	// Direct reads against the restricted submissions table.
	selectCallRe = regexp.MustCompile(`await\s+\w+\.from\(['"]submissions['"]\)\s*\.select\([^)]*\)(?:\s*\.eq\([^)]*\))?(?:\s*\.order\([^)]*\))?`)
)

var (
	// APP_ID assignment with a random suffix the model invented. Checked
	// before the plain assignment so the whole expression is consumed.
	randomAppIDRe = regexp.MustCompile(`(?:const|let|var)\s+APP_ID\s*=\s*['"][^'"]*['"]\s*\+\s*Math\.random\(\)[^;\n]*;?`)

	// Plain APP_ID assignment to any string literal.
	appIDAssignRe = regexp.MustCompile(`(const|let|var)(\s+APP_ID\s*=\s*)['"][^'"]*['"](;?)`)

	// Object-literal field carrying a self-invented id.
	appIDFieldRe = regexp.MustCompile(`app_id\s*:\s*['"][^'"]*['"]`)

	// Equality filter against a hardcoded id.
	appIDFilterRe = regexp.MustCompile(`\.eq\(\s*['"]app_id['"]\s*,\s*['"][^'"]*['"]\s*\)`)

	// The documented placeholder itself.
	placeholderRe = regexp.MustCompile(`\bAPP_TABLE_ID\b`)
)

// Sanitizer holds no state; all rules are package-level and deterministic.
type Sanitizer struct{}

// New returns a Sanitizer.
func New() *Sanitizer { return &Sanitizer{} }

// precheckKey stands in for the storage key when sanitizability is tested
// before any key exists.
const precheckKey = "00000000-0000-4000-8000-000000000000"

// Precheck reports whether a page would survive the full sanitization pass.
// The rules are deterministic, so a page that prechecks clean also cleans
// with the real storage key. Generation validators use this to reject output
// with an unrecognized store-access pattern while cheaper tiers remain.
func Precheck(html string) error {
	_, err := New().Clean(html, precheckKey)
	return err
}

// Clean runs the full pass over one page: defensive repairs, removal of
// direct store access, storage-key substitution, then verification that no
// direct-store pattern survived. storageKey must be the artifact's real key.
func (s *Sanitizer) Clean(html, storageKey string) (string, error) {
	if storageKey == "" {
		return "", fmt.Errorf("sanitize: empty storage key")
	}

	out := RepairText(html)
	out = stripClientAccess(out)
	out = SubstituteKey(out, storageKey)

	if err := Verify(out); err != nil {
		return "", err
	}
	return out, nil
}

// stripClientAccess removes the bootstrap tag and client construction and
// rewrites restricted-table calls to the approved indirection. The rewrites
// leave nothing for a second run to match, so the pass is idempotent.
func stripClientAccess(html string) string {
	out := bootstrapScriptRe.ReplaceAllString(html, "<!-- storage client removed; serving layer provides save()/load() -->")
	out = insertCallRe.ReplaceAllString(out, "await save('submission', formData)")
	out = selectCallRe.ReplaceAllString(out, "await load('submission')")
	out = clientConstructRe.ReplaceAllString(out, "// storage client removed; using save()/load() helpers")
	out = bareConstructRe.ReplaceAllString(out, "null /* storage client removed */")
	return out
}

// SubstituteKey replaces every identifier placeholder and self-invented app
// id with the real storage key. Covered shapes: constant assignment (const,
// let, var, including random-suffix concatenation), object-literal field,
// and equality filter, plus the bare APP_TABLE_ID placeholder. Running it on
// already-substituted output replaces the key with itself, so it is
// idempotent by construction.
func SubstituteKey(html, storageKey string) string {
	out := randomAppIDRe.ReplaceAllString(html, "const APP_ID = '"+storageKey+"';")
	out = appIDAssignRe.ReplaceAllString(out, "${1}${2}'"+storageKey+"'${3}")
	out = appIDFieldRe.ReplaceAllString(out, "app_id: '"+storageKey+"'")
	out = appIDFilterRe.ReplaceAllString(out, ".eq('app_id', '"+storageKey+"')")
	out = placeholderRe.ReplaceAllString(out, storageKey)
	return out
}
