// Package queue implements the filesystem work queue. Requests arrive as
// plain text files in the watch directory; workers claim them by atomically
// renaming into the processing directory, so at most one worker ever owns a
// file. Finished work moves to archive/, terminal failures to failed/ with a
// diagnostics sidecar.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// claimPrefix marks a request file as owned by a worker.
const claimPrefix = "PROCESSING_"

// ErrAlreadyClaimed is returned when another worker renamed the file first.
// It is the expected outcome of a claim race and callers skip to the next file.
var ErrAlreadyClaimed = errors.New("request already claimed")

// Task is one parsed request claimed from the queue.
type Task struct {
	Name   string // original filename in the watch directory
	Path   string // current location (under processing/ once claimed)
	Sender string
	Owner  string
	Hint   string
	Text   string
}

// Queue manages one watch directory and its processing/archive/failed
// subdirectories.
type Queue struct {
	dir        string
	processing string
	archive    string
	failed     string
}

// Open prepares the watch directory and its subdirectories.
func Open(dir string) (*Queue, error) {
	q := &Queue{
		dir:        dir,
		processing: filepath.Join(dir, "processing"),
		archive:    filepath.Join(dir, "archive"),
		failed:     filepath.Join(dir, "failed"),
	}
	for _, d := range []string{q.dir, q.processing, q.archive, q.failed} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating queue directory %s: %w", d, err)
		}
	}
	return q, nil
}

// Dir returns the watch directory path.
func (q *Queue) Dir() string { return q.dir }

// Scan lists pending request filenames oldest first. Filenames embed a
// timestamp, so lexical order is chronological.
func (q *Queue) Scan() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("scanning queue: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Depth returns the number of pending request files.
func (q *Queue) Depth() (int, error) {
	names, err := q.Scan()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Claim takes exclusive ownership of a pending request by renaming it into
// processing/. The rename is atomic on POSIX filesystems: exactly one of N
// racing workers succeeds, the rest get ErrAlreadyClaimed. The claimed file
// is then parsed; an unparseable file moves straight to failed/.
func (q *Queue) Claim(name string) (*Task, error) {
	src := filepath.Join(q.dir, name)
	dst := filepath.Join(q.processing, claimPrefix+name)

	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("claiming %s: %w", name, err)
	}

	// The rename keeps the enqueue mtime, so a request that sat pending past
	// the grace would look stuck the moment it was claimed. Stamp the claim
	// time; the staleness sweep measures from here.
	now := time.Now()
	if err := os.Chtimes(dst, now, now); err != nil {
		return nil, fmt.Errorf("stamping claim time for %s: %w", name, err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		return nil, fmt.Errorf("reading claimed %s: %w", name, err)
	}

	task, err := parseRequest(string(data))
	if err != nil {
		ferr := fmt.Errorf("parsing %s: %w", name, err)
		if mvErr := q.failTo(name, dst, ferr, nil); mvErr != nil {
			return nil, errors.Join(ferr, mvErr)
		}
		return nil, ferr
	}
	task.Name = name
	task.Path = dst
	return task, nil
}

// Archive moves a completed task's file out of processing/.
func (q *Queue) Archive(t *Task) error {
	dst := filepath.Join(q.archive, t.Name)
	if err := os.Rename(t.Path, dst); err != nil {
		return fmt.Errorf("archiving %s: %w", t.Name, err)
	}
	t.Path = dst
	return nil
}

// Fail moves a task's file to failed/ and writes a JSON diagnostics sidecar
// next to it. diag may be nil.
func (q *Queue) Fail(t *Task, cause error, diag any) error {
	return q.failTo(t.Name, t.Path, cause, diag)
}

func (q *Queue) failTo(name, path string, cause error, diag any) error {
	dst := filepath.Join(q.failed, name)
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("moving %s to failed: %w", name, err)
	}

	sidecar := struct {
		Error    string    `json:"error"`
		FailedAt time.Time `json:"failed_at"`
		Detail   any       `json:"detail,omitempty"`
	}{
		Error:    cause.Error(),
		FailedAt: time.Now().UTC(),
		Detail:   diag,
	}
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding diagnostics for %s: %w", name, err)
	}
	if err := os.WriteFile(dst+".diag.json", data, 0o644); err != nil {
		return fmt.Errorf("writing diagnostics for %s: %w", name, err)
	}
	return nil
}

// ReadmitStuck returns claimed files older than grace to the watch
// directory, stripping the claim prefix. Claim stamps the file's mtime, so
// age here is time since the claim; a file past the grace means its worker
// died or was shut down mid-run, and readmitting lets a live worker pick it
// up. Returns the readmitted original filenames.
func (q *Queue) ReadmitStuck(grace time.Duration) ([]string, error) {
	entries, err := os.ReadDir(q.processing)
	if err != nil {
		return nil, fmt.Errorf("scanning processing directory: %w", err)
	}

	cutoff := time.Now().Add(-grace)
	var readmitted []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), claimPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		name := strings.TrimPrefix(e.Name(), claimPrefix)
		src := filepath.Join(q.processing, e.Name())
		if err := os.Rename(src, filepath.Join(q.dir, name)); err != nil {
			return readmitted, fmt.Errorf("readmitting %s: %w", name, err)
		}
		readmitted = append(readmitted, name)
	}
	return readmitted, nil
}

// Enqueue writes a new request file. The write goes to a temp name first and
// is renamed into place so watchers never see a partial file. Returns the
// enqueued filename.
func (q *Queue) Enqueue(sender, owner, hint, text string) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("enqueue requires an owner")
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("enqueue requires request text")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SENDER: %s\n", sender)
	fmt.Fprintf(&b, "OWNER: %s\n", owner)
	if hint != "" {
		fmt.Fprintf(&b, "HINT: %s\n", hint)
	}
	b.WriteString("\n")
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}

	name := fmt.Sprintf("%s-%s.txt",
		time.Now().UTC().Format("20060102T150405.000000000"),
		uuid.NewString()[:8],
	)
	tmp := filepath.Join(q.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing request file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(q.dir, name)); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("publishing request file: %w", err)
	}
	return name, nil
}

// parseRequest reads the header block (SENDER, OWNER, optional HINT), a
// blank line, then the request text.
func parseRequest(content string) (*Task, error) {
	head, body, found := strings.Cut(content, "\n\n")
	if !found {
		return nil, fmt.Errorf("missing blank line after headers")
	}

	t := &Task{}
	for _, line := range strings.Split(head, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		val = strings.TrimSpace(val)
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "SENDER":
			t.Sender = val
		case "OWNER":
			t.Owner = val
		case "HINT":
			t.Hint = val
		default:
			return nil, fmt.Errorf("unknown header %q", key)
		}
	}

	if t.Owner == "" {
		return nil, fmt.Errorf("missing OWNER header")
	}
	t.Text = strings.TrimSpace(body)
	if t.Text == "" {
		return nil, fmt.Errorf("empty request text")
	}
	return t, nil
}
