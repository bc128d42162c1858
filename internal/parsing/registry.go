package parsing

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mohammad-wq/filegpt/internal/apperr"
)

// Registry dispatches to a Parser by file extension, grounded on the
// teacher's parser/registry.go map-of-parsers pattern.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds a registry with the two built-in parsers: plain
// text/code (extension allowlist) and PDF.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&TextParser{}, &PDFParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Register adds or overrides the parser for format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}

// Get returns the parser registered for path's extension.
func (r *Registry) Get(path string) (Parser, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	p, ok := r.parsers[ext]
	if !ok {
		return nil, apperr.New(apperr.KindUnsupported, fmt.Sprintf("no parser for extension %q", ext))
	}
	return p, nil
}

// Parse looks up the parser for path's extension and runs it. It is the
// single entry point the ingestion pipeline calls (spec §4.9 step 1).
func (r *Registry) Parse(ctx context.Context, path string) (string, error) {
	p, err := r.Get(path)
	if err != nil {
		return "", err
	}
	return p.Parse(ctx, path)
}

// Accepts reports whether path's extension has a registered parser,
// letting the scanner and watcher (spec §4.10) skip files before ever
// invoking the pipeline.
func (r *Registry) Accepts(path string) bool {
	_, err := r.Get(path)
	return err == nil
}
