package sanitize

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Verify parses the sanitized page and walks it for any surviving
// direct-store access: a script tag still loading the store library, a
// client construction the rewrite rules did not recognize, or a restricted
// table call in any inline script. Any hit is ErrUnsanitizable — a novel
// pattern must fail the generation attempt, not slip through.
func Verify(page string) error {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return fmt.Errorf("%w: unparseable markup: %v", ErrUnsanitizable, err)
	}

	for n := range doc.Descendants() {
		if n.Type != html.ElementNode || n.Data != "script" {
			continue
		}
		for _, attr := range n.Attr {
			if attr.Key == "src" && strings.Contains(strings.ToLower(attr.Val), "storekit") {
				return fmt.Errorf("%w: script tag loads %q", ErrUnsanitizable, attr.Val)
			}
		}
		if text := scriptText(n); text != "" {
			if err := verifyScript(text); err != nil {
				return err
			}
		}
	}
	return nil
}

func scriptText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// forbiddenScriptPatterns are the substrings no sanitized inline script may
// contain. Comment markers left by the rewrite rules don't trip these
// because the rules remove the call text itself.
var forbiddenScriptPatterns = []string{
	"window.storekit",
	"createClient(",
	".from('submissions')",
	`.from("submissions")`,
}

func verifyScript(text string) error {
	for _, p := range forbiddenScriptPatterns {
		if strings.Contains(text, p) {
			return fmt.Errorf("%w: inline script contains %q", ErrUnsanitizable, p)
		}
	}
	return nil
}
