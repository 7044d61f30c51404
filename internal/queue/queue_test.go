package queue

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return q
}

func writeRequest(t *testing.T, q *Queue, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(q.Dir(), name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

const goodRequest = "SENDER: alice@example.com\nOWNER: alice\n\nbuild me a dice roller\n"

func TestEnqueueAndScan(t *testing.T) {
	q := openTestQueue(t)

	first, err := q.Enqueue("alice@example.com", "alice", "", "first request")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := q.Enqueue("bob@example.com", "bob", "classify-only", "second request")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	names, err := q.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("Scan returned %d files, want 2", len(names))
	}
	if names[0] != first || names[1] != second {
		t.Errorf("scan order = %v, want [%s %s]", names, first, second)
	}

	depth, err := q.Depth()
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 2 {
		t.Errorf("Depth = %d, want 2", depth)
	}
}

func TestClaim_ParsesRequest(t *testing.T) {
	q := openTestQueue(t)
	writeRequest(t, q, "0001.txt", "SENDER: alice@example.com\nOWNER: alice\nHINT: admin-companion\n\nsignup form\nfor my club\n")

	task, err := q.Claim("0001.txt")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if task.Sender != "alice@example.com" || task.Owner != "alice" || task.Hint != "admin-companion" {
		t.Errorf("headers = %q/%q/%q", task.Sender, task.Owner, task.Hint)
	}
	if task.Text != "signup form\nfor my club" {
		t.Errorf("Text = %q", task.Text)
	}
	if !strings.Contains(task.Path, claimPrefix) {
		t.Errorf("claimed path %q missing claim prefix", task.Path)
	}
	if _, err := os.Stat(filepath.Join(q.Dir(), "0001.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Error("claimed file still present in watch directory")
	}
}

func TestClaim_ExactlyOneWinner(t *testing.T) {
	q := openTestQueue(t)
	writeRequest(t, q, "0001.txt", goodRequest)

	const workers = 8
	type outcome struct {
		task *Task
		err  error
	}
	results := make(chan outcome, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			<-start
			task, err := q.Claim("0001.txt")
			results <- outcome{task, err}
		}()
	}
	close(start)

	var wins, races int
	for i := 0; i < workers; i++ {
		o := <-results
		switch {
		case o.err == nil:
			wins++
		case errors.Is(o.err, ErrAlreadyClaimed):
			races++
		default:
			t.Errorf("unexpected error: %v", o.err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if races != workers-1 {
		t.Errorf("races = %d, want %d", races, workers-1)
	}
}

func TestClaim_UnparseableMovesToFailed(t *testing.T) {
	q := openTestQueue(t)
	writeRequest(t, q, "bad.txt", "no headers here, just text")

	if _, err := q.Claim("bad.txt"); err == nil {
		t.Fatal("unparseable request must fail the claim")
	}
	if _, err := os.Stat(filepath.Join(q.failed, "bad.txt")); err != nil {
		t.Errorf("unparseable file not moved to failed/: %v", err)
	}
	if _, err := os.Stat(filepath.Join(q.failed, "bad.txt.diag.json")); err != nil {
		t.Errorf("diagnostics sidecar missing: %v", err)
	}
}

func TestArchive(t *testing.T) {
	q := openTestQueue(t)
	writeRequest(t, q, "0001.txt", goodRequest)

	task, err := q.Claim("0001.txt")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := q.Archive(task); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(q.archive, "0001.txt")); err != nil {
		t.Errorf("archived file missing: %v", err)
	}
}

func TestFail_WritesDiagnostics(t *testing.T) {
	q := openTestQueue(t)
	writeRequest(t, q, "0001.txt", goodRequest)

	task, err := q.Claim("0001.txt")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	diag := map[string]string{"tier": "large"}
	if err := q.Fail(task, errors.New("no tier produced valid output"), diag); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(q.failed, "0001.txt.diag.json"))
	if err != nil {
		t.Fatalf("reading sidecar: %v", err)
	}
	var sidecar struct {
		Error  string            `json:"error"`
		Detail map[string]string `json:"detail"`
	}
	if err := json.Unmarshal(data, &sidecar); err != nil {
		t.Fatalf("decoding sidecar: %v", err)
	}
	if sidecar.Error != "no tier produced valid output" {
		t.Errorf("sidecar error = %q", sidecar.Error)
	}
	if sidecar.Detail["tier"] != "large" {
		t.Errorf("sidecar detail = %v", sidecar.Detail)
	}
}

func TestReadmitStuck(t *testing.T) {
	q := openTestQueue(t)
	writeRequest(t, q, "0001.txt", goodRequest)
	writeRequest(t, q, "0002.txt", goodRequest)

	stale, err := q.Claim("0001.txt")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := q.Claim("0002.txt"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// Age only the first claim past the grace period.
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale.Path, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	readmitted, err := q.ReadmitStuck(10 * time.Minute)
	if err != nil {
		t.Fatalf("ReadmitStuck: %v", err)
	}
	if len(readmitted) != 1 || readmitted[0] != "0001.txt" {
		t.Fatalf("readmitted = %v, want [0001.txt]", readmitted)
	}

	names, err := q.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(names) != 1 || names[0] != "0001.txt" {
		t.Errorf("pending after readmit = %v, want [0001.txt]", names)
	}
}

// A request that waited in pending longer than the grace period must not be
// treated as stuck the moment a worker claims it; the staleness clock starts
// at the claim, not the enqueue.
func TestReadmitStuck_FreshClaimOfOldRequest(t *testing.T) {
	q := openTestQueue(t)
	writeRequest(t, q, "0001.txt", goodRequest)

	// Backlogged request: pending for an hour before anyone claims it.
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(q.dir, "0001.txt"), old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	if _, err := q.Claim("0001.txt"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	readmitted, err := q.ReadmitStuck(10 * time.Minute)
	if err != nil {
		t.Fatalf("ReadmitStuck: %v", err)
	}
	if len(readmitted) != 0 {
		t.Fatalf("file claimed moments ago was readmitted: %v", readmitted)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	q := openTestQueue(t)
	if _, err := q.Enqueue("cli", "", "", "text"); err == nil {
		t.Error("enqueue without owner must fail")
	}
	if _, err := q.Enqueue("cli", "alice", "", "   "); err == nil {
		t.Error("enqueue without text must fail")
	}
}

func TestParseRequest_Errors(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing owner", "SENDER: x\n\nsome text\n"},
		{"no blank line", "SENDER: x\nOWNER: y\nsome text"},
		{"unknown header", "OWNER: y\nPRIORITY: high\n\ntext\n"},
		{"empty body", "OWNER: y\n\n   \n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseRequest(tc.content); err == nil {
				t.Errorf("parseRequest accepted %q", tc.content)
			}
		})
	}
}
