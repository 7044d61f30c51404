package sanitize

import (
	"regexp"
	"strings"
)

// Generation output occasionally corrupts itself in two known ways:
// duplicated top-level declarations (the model restates its state block
// mid-file) and malformed escaped quotes inside single-quoted JS strings.
// RepairText fixes both without touching anything else.

// duplicateDeclRe matches the state declarations the models are known to
// restate. Only exact duplicate lines are collapsed.
var duplicateDeclRe = regexp.MustCompile(`^\s*(?:let|const|var)\s+(currentUser|userState|appState|pollInterval)\s*=.*;$`)

// malformedQuoteRe matches a single-quoted string containing a backslash
// escaped quote, e.g. 'it\'s broken'. The repair rewrites the string with
// double quotes. Attributes that legitimately contain a plain single quote
// never match because the backslash is required.
var malformedQuoteRe = regexp.MustCompile(`'([^'\\]*)\\'([^'\\]*)'`)

// blankRunRe collapses the triple blank lines left behind by removed
// duplicate declarations.
var blankRunRe = regexp.MustCompile(`\n\s*\n\s*\n`)

// RepairText applies the defensive text-level repairs. It is idempotent:
// repaired output contains neither duplicates nor malformed escapes, so a
// second run changes nothing.
func RepairText(html string) string {
	out := collapseDuplicateDecls(html)
	out = malformedQuoteRe.ReplaceAllString(out, `"$1'$2"`)
	return out
}

func collapseDuplicateDecls(html string) string {
	lines := strings.Split(html, "\n")
	seen := make(map[string]bool)
	changed := false

	for i, line := range lines {
		if !duplicateDeclRe.MatchString(line) {
			continue
		}
		key := strings.TrimSpace(line)
		if seen[key] {
			lines[i] = ""
			changed = true
			continue
		}
		seen[key] = true
	}

	if !changed {
		return html
	}
	return blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}
