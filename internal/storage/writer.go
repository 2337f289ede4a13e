package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Writer renders processed calls as markdown files under dir, one file per
// call grouped by creation date.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// WriteCall writes (or rewrites) the markdown file for c and returns its path.
func (w *Writer) WriteCall(c Call) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dateDir := filepath.Join(w.dir, c.CreatedAt.Format("2006-01-02"))
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dateDir, err)
	}

	path := filepath.Join(dateDir, c.ID+".md")
	if err := os.WriteFile(path, []byte(FormatCallMarkdown(c)), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func FormatCallMarkdown(c Call) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", c.Title)
	fmt.Fprintf(&b, "- Call: %s\n", c.ID)
	fmt.Fprintf(&b, "- Date: %s\n", c.CreatedAt.Format("2006-01-02 15:04"))
	if c.Duration > 0 {
		fmt.Fprintf(&b, "- Duration: %ds\n", c.Duration)
	}
	if len(c.Topics) > 0 {
		fmt.Fprintf(&b, "- Topics: %s\n", strings.Join(c.Topics, ", "))
	}
	if c.Summary != "" {
		fmt.Fprintf(&b, "\n## Summary\n\n%s\n", strings.TrimSpace(c.Summary))
	}
	fmt.Fprintf(&b, "\n## Transcript\n\n%s\n", strings.TrimSpace(c.Transcript))
	return b.String()
}
