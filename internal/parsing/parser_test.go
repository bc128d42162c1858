package parsing

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammad-wq/filegpt/internal/apperr"
)

func TestRegistryBuiltInParsers(t *testing.T) {
	reg := NewRegistry()

	for _, format := range []string{"pdf", "txt", "go", "md", "json"} {
		t.Run(format, func(t *testing.T) {
			p, err := reg.Get("file." + format)
			if err != nil {
				t.Fatalf("Get(file.%s) returned error: %v", format, err)
			}
			found := false
			for _, f := range p.SupportedFormats() {
				if f == format {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("parser for %q does not list it in SupportedFormats()", format)
			}
		})
	}
}

func TestRegistryUnknownFormat(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("file.rtf")
	if err == nil {
		t.Fatal("expected an error for an unregistered extension")
	}
	if apperr.KindOf(err) != apperr.KindUnsupported {
		t.Errorf("kind: got %v, want %v", apperr.KindOf(err), apperr.KindUnsupported)
	}
}

func TestTextParserParse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("line one\nline two\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	reg := NewRegistry()
	text, err := reg.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(text, "line one") || !strings.Contains(text, "line two") {
		t.Errorf("unexpected text: %q", text)
	}
}

func TestTextParserTooLarge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "huge.txt")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating fixture: %v", err)
	}
	if err := f.Truncate(MaxPlainTextBytes + 1); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	f.Close()

	p := &TextParser{}
	_, err = p.Parse(context.Background(), path)
	if err == nil {
		t.Fatal("expected a too-large error")
	}
	if apperr.KindOf(err) != apperr.KindTooLarge {
		t.Errorf("kind: got %v, want %v", apperr.KindOf(err), apperr.KindTooLarge)
	}
}

func TestTextParserEmptyFileReturnsUnsupported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	p := &TextParser{}
	_, err := p.Parse(context.Background(), path)
	if apperr.KindOf(err) != apperr.KindUnsupported {
		t.Errorf("Parse(empty file) kind = %v, want %v", apperr.KindOf(err), apperr.KindUnsupported)
	}
}
