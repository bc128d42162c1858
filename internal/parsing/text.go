package parsing

import (
	"context"
	"fmt"
	"os"

	"github.com/mohammad-wq/filegpt/internal/apperr"
)

// textExtensions lists the plain-text and source-code extensions this
// parser accepts. Grounded on the teacher's TextParser, widened per
// spec §4.2's "plain text/code" wording rather than ".txt" alone.
var textExtensions = map[string]bool{
	"txt": true, "md": true, "markdown": true, "rst": true,
	"go": true, "py": true, "js": true, "ts": true, "java": true,
	"c": true, "h": true, "cpp": true, "hpp": true, "rs": true,
	"json": true, "yaml": true, "yml": true, "toml": true, "ini": true,
	"sh": true, "sql": true, "html": true, "css": true, "csv": true,
}

// TextParser handles plain text and source files directly via os.ReadFile.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string {
	formats := make([]string, 0, len(textExtensions))
	for f := range textExtensions {
		formats = append(formats, f)
	}
	return formats
}

func (p *TextParser) Parse(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", apperr.Wrap(apperr.KindStorage, "stat text file", err)
	}
	if info.Size() > MaxPlainTextBytes {
		return "", apperr.New(apperr.KindTooLarge, fmt.Sprintf("text file exceeds %d bytes", MaxPlainTextBytes))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperr.Wrap(apperr.KindStorage, "reading text file", err)
	}
	if len(data) == 0 {
		return "", apperr.New(apperr.KindUnsupported, "empty file")
	}
	return string(data), nil
}
