package parsing

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/mohammad-wq/filegpt/internal/apperr"
)

// PDFParser extracts plain text from PDF files using ledongthuc/pdf,
// grounded on the teacher's parser/pdf.go. Narrowed to the spec's
// text-only contract: no section/heading detection, no image
// extraction — those serve the teacher's document-structure reasoning,
// which is out of scope here (spec §4.2 wants text, nothing else).
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", apperr.Wrap(apperr.KindStorage, "stat pdf file", err)
	}
	if info.Size() > MaxDocumentBytes {
		return "", apperr.New(apperr.KindTooLarge, fmt.Sprintf("pdf exceeds %d bytes", MaxDocumentBytes))
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnsupported, "opening pdf", err)
	}
	defer f.Close()

	var pages []string
	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := extractPageTextOrdered(page)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text != "" {
			pages = append(pages, text)
		}
	}

	joined := strings.TrimSpace(strings.Join(pages, "\n\n"))
	if joined == "" {
		return "", apperr.New(apperr.KindUnsupported, "pdf contains no extractable text")
	}
	return joined, nil
}

// extractPageTextOrdered groups a page's content-stream text fragments
// into visual lines by Y proximity, then orders the lines top-to-bottom
// so the result follows reading order rather than PDF object order.
// Grounded verbatim on the teacher's function of the same name.
func extractPageTextOrdered(page pdf.Page) (string, error) {
	content := page.Content()
	if len(content.Text) == 0 {
		return page.GetPlainText(nil)
	}

	const lineTolerance = 3.0

	type visualLine struct {
		y   float64
		buf strings.Builder
	}

	var lines []*visualLine
	var cur *visualLine

	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > lineTolerance {
			lines = append(lines, &visualLine{y: t.Y})
			cur = lines[len(lines)-1]
		}
		cur.buf.WriteString(t.S)
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].y > lines[j].y
	})

	var parts []string
	for _, l := range lines {
		text := strings.TrimSpace(l.buf.String())
		if text != "" {
			parts = append(parts, text)
		}
	}

	result := strings.Join(parts, "\n")
	if strings.TrimSpace(result) == "" {
		return page.GetPlainText(nil)
	}
	return result, nil
}
