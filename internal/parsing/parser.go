// Package parsing implements the parser capability (C2): turning a file
// on disk into plain text, or a typed reason why not. Grounded on the
// teacher's parser/parser.go Parser interface and parser/registry.go
// extension-keyed dispatch, narrowed to the spec's single-string-out
// contract (spec §4.2) — no sections, no images, no parse method tagging.
package parsing

import (
	"context"

	"github.com/mohammad-wq/filegpt/internal/apperr"
)

// Size ceilings per spec §4.2.
const (
	MaxPlainTextBytes = 10 * 1024 * 1024
	MaxDocumentBytes  = 50 * 1024 * 1024
)

// Parser extracts text from one file format.
type Parser interface {
	// Parse reads path and returns its text content. A non-text result
	// (unsupported format, oversized input, or an extraction failure) is
	// reported as an *apperr.Error with KindUnsupported or KindTooLarge;
	// the engine's contract is "skip and record nothing" for anything
	// but a non-empty string (spec §4.2).
	Parse(ctx context.Context, path string) (string, error)
	SupportedFormats() []string
}
