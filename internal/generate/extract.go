package generate

import (
	"regexp"
	"strings"
)

var (
	htmlFenceRe = regexp.MustCompile("(?is)```html\\s*(.*?)```")
	bareFenceRe = regexp.MustCompile("(?s)```\\s*(.*?)```")
	rawHTMLRe   = regexp.MustCompile(`(?i)^\s*(<!DOCTYPE html>|<html)`)
)

// ExtractCode pulls the HTML payload out of raw model output. Fenced
// ` ```html ` blocks win; then bare fences; then raw HTML with no fence at
// all. Returns "" when no code can be found.
//
// Dual-page output arrives either as two fenced blocks with the admin
// delimiter between them, or as one block containing the delimiter inside;
// both collapse to a single string joined on the delimiter.
func ExtractCode(text string) string {
	if matches := htmlFenceRe.FindAllStringSubmatch(text, -1); matches != nil {
		if len(matches) > 1 && strings.Contains(text, AdminDelimiter) {
			return strings.TrimSpace(matches[0][1]) + "\n" + AdminDelimiter + "\n" + strings.TrimSpace(matches[1][1])
		}
		return strings.TrimSpace(matches[0][1])
	}

	if m := bareFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	if rawHTMLRe.MatchString(text) {
		return strings.TrimSpace(text)
	}
	return ""
}

// SplitAdmin splits dual-page output into (public, admin). When the
// delimiter is absent the whole payload is the public page and admin is "".
func SplitAdmin(code string) (public, admin string) {
	before, after, found := strings.Cut(code, AdminDelimiter)
	if !found {
		return strings.TrimSpace(code), ""
	}
	return strings.TrimSpace(before), strings.TrimSpace(after)
}
