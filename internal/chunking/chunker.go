// Package chunking implements the recursive text splitter (C3): a
// deterministic, finite splitter over a five-level separator priority,
// producing overlapping windows of roughly fixed character width.
// Grounded on the teacher's chunker/chunker.go splitContent/
// splitBySentences two-level recursive descent, generalized from a
// token-estimate, paragraph/sentence split to the spec's five-level
// separator cascade measured in characters (spec §4.3).
package chunking

import "strings"

// Config controls the chunker's window size.
type Config struct {
	// TargetChars is the target window size in characters. Defaults to 600.
	TargetChars int
	// OverlapChars is the overlap carried into the next window. Defaults to 100.
	OverlapChars int
}

// separators tried in priority order, per spec §4.3. The empty string is
// the last resort: a hard character split with no natural boundary.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker splits text into an ordered, finite sequence of non-empty
// chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration. Zero-value fields
// fall back to the spec's defaults.
func New(cfg Config) *Chunker {
	if cfg.TargetChars <= 0 {
		cfg.TargetChars = 600
	}
	if cfg.OverlapChars <= 0 {
		cfg.OverlapChars = 100
	}
	return &Chunker{cfg: cfg}
}

// Chunk splits text into an ordered sequence of chunks. The result is
// never empty for non-empty input, and no element is the empty string.
func (c *Chunker) Chunk(text string) []string {
	return c.split(text, separators)
}

func (c *Chunker) split(text string, seps []string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if runeLen(text) <= c.cfg.TargetChars {
		return []string{text}
	}
	if len(seps) == 0 || seps[0] == "" {
		return c.hardSplit(text)
	}

	pieces := splitKeepSeparator(text, seps[0])
	if len(pieces) <= 1 {
		// This separator never occurs in text; fall through to the next
		// priority level rather than looping forever.
		return c.split(text, seps[1:])
	}
	return c.merge(pieces, seps[1:])
}

// merge greedily packs pieces into windows of at most TargetChars,
// recursing into any single piece that alone exceeds the window using
// the next separator level, and carrying trailing overlap text forward
// into the next window — grounded on the teacher's splitContent loop.
func (c *Chunker) merge(pieces []string, nextSeps []string) []string {
	var result []string
	var cur strings.Builder
	curLen := 0

	flush := func() string {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			result = append(result, s)
		}
		prev := cur.String()
		cur.Reset()
		curLen = 0
		return prev
	}

	for _, p := range pieces {
		pLen := runeLen(p)

		if pLen > c.cfg.TargetChars {
			prev := ""
			if curLen > 0 {
				prev = flush()
			}
			sub := c.split(p, nextSeps)
			result = append(result, sub...)
			if len(sub) > 0 {
				prev = sub[len(sub)-1]
			}
			overlap := extractOverlap(prev, c.cfg.OverlapChars)
			if overlap != "" {
				cur.WriteString(overlap)
				curLen = runeLen(overlap)
			}
			continue
		}

		if curLen+pLen > c.cfg.TargetChars && curLen > 0 {
			prev := flush()
			overlap := extractOverlap(prev, c.cfg.OverlapChars)
			if overlap != "" {
				cur.WriteString(overlap)
				curLen = runeLen(overlap)
			}
		}

		cur.WriteString(p)
		curLen += pLen
	}
	flush()
	return result
}

// hardSplit is the base case when no separator applies: fixed-width,
// overlapping windows over the raw rune sequence.
func (c *Chunker) hardSplit(text string) []string {
	runes := []rune(text)
	step := c.cfg.TargetChars - c.cfg.OverlapChars
	if step <= 0 {
		step = c.cfg.TargetChars
	}

	var out []string
	for i := 0; i < len(runes); i += step {
		end := i + c.cfg.TargetChars
		if end > len(runes) {
			end = len(runes)
		}
		s := strings.TrimSpace(string(runes[i:end]))
		if s != "" {
			out = append(out, s)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// splitKeepSeparator splits text on sep, reattaching sep to every piece
// but the last so the pieces reconstruct the input when concatenated.
func splitKeepSeparator(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// extractOverlap returns the trailing maxChars runes of text, trimmed,
// used to seed the next window so neighbouring chunks share context.
func extractOverlap(text string, maxChars int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 || maxChars <= 0 {
		return ""
	}
	if maxChars > len(runes) {
		maxChars = len(runes)
	}
	return strings.TrimSpace(string(runes[len(runes)-maxChars:]))
}

func runeLen(s string) int { return len([]rune(s)) }
