package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakePipeline struct {
	mu       sync.Mutex
	ingested []string
	removed  []string
}

func (f *fakePipeline) Ingest(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, path)
	return nil
}

func (f *fakePipeline) Remove(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakePipeline) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ingested), len(f.removed)
}

type extRegistry struct{ exts map[string]bool }

func (r extRegistry) Accepts(path string) bool {
	return r.exts[filepath.Ext(path)]
}

func TestScanIgnoresDotAndVendorDirectories(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "keep.txt"), "hello")
	mustWrite(t, filepath.Join(dir, ".git", "config"), "ignored")
	mustWrite(t, filepath.Join(dir, "node_modules", "pkg.txt"), "ignored")
	mustWrite(t, filepath.Join(dir, "sub", "also.txt"), "hello again")

	pipeline := &fakePipeline{}
	w := New(dir, pipeline, extRegistry{exts: map[string]bool{".txt": true}}, Config{}, nil)

	if err := w.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	ingested, _ := pipeline.counts()
	if ingested != 2 {
		t.Errorf("expected 2 files ingested, got %d: %v", ingested, pipeline.ingested)
	}
}

func TestScanSkipsUnsupportedExtensions(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "image.png"), "binary")
	mustWrite(t, filepath.Join(dir, "doc.txt"), "text")

	pipeline := &fakePipeline{}
	w := New(dir, pipeline, extRegistry{exts: map[string]bool{".txt": true}}, Config{}, nil)
	if err := w.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	ingested, _ := pipeline.counts()
	if ingested != 1 {
		t.Errorf("expected 1 file ingested, got %d", ingested)
	}
}

func TestScanRespectsIgnoreGlobs(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "keep.txt"), "hello")
	mustWrite(t, filepath.Join(dir, "generated", "skip.txt"), "generated")

	pipeline := &fakePipeline{}
	w := New(dir, pipeline, extRegistry{exts: map[string]bool{".txt": true}}, Config{
		IgnoreGlobs: []string{"generated/**"},
	}, nil)
	if err := w.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	ingested, _ := pipeline.counts()
	if ingested != 1 {
		t.Errorf("expected 1 file ingested, got %d: %v", ingested, pipeline.ingested)
	}
}

func TestWatchIngestsNewFile(t *testing.T) {
	dir := t.TempDir()
	pipeline := &fakePipeline{}
	w := New(dir, pipeline, extRegistry{exts: map[string]bool{".txt": true}}, Config{Debounce: 20 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	mustWrite(t, filepath.Join(dir, "new.txt"), "hello")

	waitForCount(t, func() int { i, _ := pipeline.counts(); return i }, 1)
}

func TestWatchRemovesDeletedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	mustWrite(t, path, "hello")

	pipeline := &fakePipeline{}
	w := New(dir, pipeline, extRegistry{exts: map[string]bool{".txt": true}}, Config{Debounce: 20 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	waitForCount(t, func() int { _, r := pipeline.counts(); return r }, 1)
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func waitForCount(t *testing.T, get func() int, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if get() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("count did not reach %d before deadline, got %d", want, get())
}
