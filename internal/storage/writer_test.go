package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterWritesCallMarkdown(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	call := Call{
		ID:         "call-1",
		Title:      "Acme discovery",
		Transcript: "Dana: We need forty seats.\nSam: Great.\n",
		Summary:    "Acme wants forty seats.",
		Topics:     []string{"pricing", "seats"},
		CreatedAt:  time.Date(2026, 2, 26, 10, 30, 0, 0, time.Local),
	}

	path, err := w.WriteCall(call)
	if err != nil {
		t.Fatalf("WriteCall failed: %v", err)
	}
	if path != filepath.Join(dir, "2026-02-26", "call-1.md") {
		t.Fatalf("unexpected path %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	content := string(data)
	for _, want := range []string{"# Acme discovery", "Topics: pricing, seats", "## Summary", "Dana: We need forty seats."} {
		if !strings.Contains(content, want) {
			t.Errorf("expected %q in content, got: %s", want, content)
		}
	}
}

func TestWriterOverwritesOnRewrite(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	call := Call{ID: "call-2", Title: "First", Transcript: "a", CreatedAt: time.Now()}

	if _, err := w.WriteCall(call); err != nil {
		t.Fatalf("WriteCall failed: %v", err)
	}
	call.Title = "Second"
	path, err := w.WriteCall(call)
	if err != nil {
		t.Fatalf("WriteCall failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "First") || !strings.Contains(string(data), "Second") {
		t.Fatalf("expected rewritten file, got: %s", data)
	}
}
