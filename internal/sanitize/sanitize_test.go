package sanitize

import (
	"errors"
	"strings"
	"testing"
)

const testKey = "3f1c9a2e-8d4b-4f6a-9c0e-1b2d3e4f5a6b"

func clean(t *testing.T, html string) string {
	t.Helper()
	out, err := New().Clean(html, testKey)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	return out
}

func TestClean_RemovesBootstrapScript(t *testing.T) {
	in := `<html><head><script src="https://unpkg.com/@storekit/client@2"></script></head><body></body></html>`
	out := clean(t, in)
	if strings.Contains(out, "unpkg.com/@storekit") {
		t.Errorf("bootstrap script survived:\n%s", out)
	}
}

func TestClean_RewritesClientConstruction(t *testing.T) {
	in := `<html><body><script>
const store = window.storekit.createClient('YOUR_STORE_URL', 'YOUR_STORE_KEY');
</script></body></html>`
	out := clean(t, in)
	if strings.Contains(out, "createClient") {
		t.Errorf("client construction survived:\n%s", out)
	}
}

func TestClean_RewritesInsertToSave(t *testing.T) {
	in := `<html><body><script>
async function submit(formData) {
  await store.from('submissions').insert({
    app_id: 'APP_TABLE_ID',
    payload: formData
  });
}
</script></body></html>`
	out := clean(t, in)
	if !strings.Contains(out, "await save('submission', formData)") {
		t.Errorf("insert not rewritten to save():\n%s", out)
	}
	if strings.Contains(out, ".from('submissions')") {
		t.Errorf("direct table write survived:\n%s", out)
	}
}

func TestClean_RewritesSelectToLoad(t *testing.T) {
	in := `<html><body><script>
const rows = await store.from('submissions').select('*').eq('app_id', 'APP_TABLE_ID').order('created_at');
</script></body></html>`
	out := clean(t, in)
	if !strings.Contains(out, "await load('submission')") {
		t.Errorf("select not rewritten to load():\n%s", out)
	}
}

func TestSubstituteKey_AllShapes(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"const assignment", `const APP_ID = 'my-cool-app';`, `const APP_ID = '` + testKey + `';`},
		{"let assignment", `let APP_ID = "whatever"`, `let APP_ID = '` + testKey + `'`},
		{"random suffix", `const APP_ID = 'app_' + Math.random().toString(36).slice(2);`, `const APP_ID = '` + testKey + `';`},
		{"object field", `{ app_id: 'invented-id', payload: d }`, `{ app_id: '` + testKey + `', payload: d }`},
		{"equality filter", `.eq('app_id', 'invented-id')`, `.eq('app_id', '` + testKey + `')`},
		{"placeholder", `const APP_ID = APP_TABLE_ID_MARKER;`, `const APP_ID = APP_TABLE_ID_MARKER;`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SubstituteKey(tc.in, testKey); got != tc.want {
				t.Errorf("SubstituteKey = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSubstituteKey_BarePlaceholder(t *testing.T) {
	got := SubstituteKey("scope: APP_TABLE_ID", testKey)
	if got != "scope: "+testKey {
		t.Errorf("got %q", got)
	}
}

func TestClean_Idempotent(t *testing.T) {
	in := `<html><body>
<script src="https://unpkg.com/@storekit/client@2"></script>
<script>
const store = window.storekit.createClient('YOUR_STORE_URL', 'YOUR_STORE_KEY');
const APP_ID = 'APP_TABLE_ID';
async function submit(formData) {
  await store.from('submissions').insert({ app_id: 'APP_TABLE_ID', payload: formData });
}
const rows = await store.from('submissions').select('*').eq('app_id', 'APP_TABLE_ID');
</script></body></html>`

	once := clean(t, in)
	twice := clean(t, once)
	if once != twice {
		t.Errorf("second pass changed output:\nfirst:\n%s\nsecond:\n%s", once, twice)
	}
	if !strings.Contains(once, "const APP_ID = '"+testKey+"'") {
		t.Errorf("key not substituted:\n%s", once)
	}
}

func TestClean_UnrecognizedPatternFails(t *testing.T) {
	// A realtime subscription is not covered by the rewrite rules; it must
	// fail loudly instead of shipping with direct store access.
	in := `<html><body><script>
window.storekit.channel('room').subscribe();
</script></body></html>`
	_, err := New().Clean(in, testKey)
	if !errors.Is(err, ErrUnsanitizable) {
		t.Fatalf("err = %v, want ErrUnsanitizable", err)
	}
}

func TestClean_SurvivingScriptTagFails(t *testing.T) {
	// Inline body keeps this tag outside the bootstrap rewrite rule, so only
	// the parse-walk can catch it.
	in := `<html><head><script src="/vendor/storekit.min.js">/* init */</script></head></html>`
	_, err := New().Clean(in, testKey)
	if !errors.Is(err, ErrUnsanitizable) {
		t.Fatalf("err = %v, want ErrUnsanitizable", err)
	}
}

func TestClean_EmptyKey(t *testing.T) {
	if _, err := New().Clean("<html></html>", ""); err == nil {
		t.Fatal("empty storage key must fail")
	}
}

func TestRepairText_MalformedQuotes(t *testing.T) {
	in := `<p>alert('it\'s broken')</p>`
	got := RepairText(in)
	want := `<p>alert("it's broken")</p>`
	if got != want {
		t.Errorf("RepairText = %q, want %q", got, want)
	}
	if again := RepairText(got); again != got {
		t.Errorf("repair not idempotent: %q -> %q", got, again)
	}
}

func TestRepairText_CollapsesDuplicateDecls(t *testing.T) {
	in := "let currentUser = null;\nlet other = 1;\nlet currentUser = null;\n"
	got := RepairText(in)
	if n := strings.Count(got, "currentUser"); n != 1 {
		t.Errorf("currentUser declared %d times after repair:\n%s", n, got)
	}
	if !strings.Contains(got, "let other = 1;") {
		t.Errorf("unrelated line lost:\n%s", got)
	}
}

func TestRepairText_KeepsDistinctDecls(t *testing.T) {
	in := "let appState = {};\nlet appState = { mode: 'edit' };\n"
	got := RepairText(in)
	if n := strings.Count(got, "appState"); n != 2 {
		t.Errorf("distinct declarations collapsed:\n%s", got)
	}
}
