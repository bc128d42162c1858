// Package rag implements the self-correcting retrieval workflow (C12):
// an explicit {Retrieve, Grade, Decide, Transform, Generate, Done} state
// machine bounded to three transform attempts. Grounded on the
// teacher's reasoning.Engine.Reason shape (round-based loop, a Step
// trace, a Source struct carrying path/content/score) but restructured
// from the teacher's fixed confidence-threshold generate/validate/
// refine loop into the explicit state machine
// backend/services/rag_workflow.py drives via LangGraph, with the
// batched, tolerant grading parser of backend/services/rag_grader.py
// (JSON array, "DOC N: DECISION" lines, bare token lists, keep-on-
// parse-failure).
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxAttempts bounds query-transform retries (spec §4.12:
// "max_attempts = 3"). Retrieve is visited at most MaxAttempts+1 times.
const MaxAttempts = 3

// gradeBatchSize is how many chunks are graded per model call (spec
// §4.12: "Batched — up to 5 chunks per prompt").
const gradeBatchSize = 5

// Retriever is the subset of internal/retrieval.Engine the workflow needs.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]Source, *RetrievalTrace, error)
}

// Source mirrors internal/retrieval.Result's fields the workflow needs
// to grade and cite.
type Source struct {
	Content          string
	SourcePath       string
	Summary          string
	Score            float64
	ProcessingStatus string
}

// RetrievalTrace is an opaque per-search trace the caller may log;
// the workflow itself doesn't interpret it.
type RetrievalTrace struct {
	VectorResults  int
	KeywordResults int
	FusedResults   int
}

// ModelRuntime is the subset of internal/modelclient.Client the
// workflow needs for grading, transforming, and generating.
type ModelRuntime interface {
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error)
}

// Message mirrors internal/modelclient.Message, kept local so this
// package doesn't import modelclient directly.
type Message struct {
	Role    string
	Content string
}

// ChatOptions mirrors the subset of internal/modelclient.Options the
// workflow sets.
type ChatOptions struct {
	Temperature float64
}

// CircuitBreaker is the subset of internal/health.Breaker the workflow
// consults before calling the model runtime for optional steps (spec
// §4.12: "If the model runtime is unavailable ... the workflow
// short-circuits at Grade").
type CircuitBreaker interface {
	Available() bool
}

// Answer is the terminal result of Run.
type Answer struct {
	Text       string
	Sources    []Source
	Rounds     int
	Attempts   int
	Steps      []Step
	GradeStats GradeStats
	Failed     bool
}

// GradeStats is logged to the catalog's query audit trail (spec §9
// supplemented feature).
type GradeStats struct {
	Retrieved int `json:"retrieved"`
	Graded    int `json:"graded"`
	Attempts  int `json:"attempts"`
}

// Step records one state transition, for tracing/debugging.
type Step struct {
	State string
	Note  string
}

// Workflow runs the spec §4.12 state machine.
type Workflow struct {
	retriever Retriever
	model     ModelRuntime
	breaker   CircuitBreaker
	gradeModel,
	transformModel,
	generateModel string
}

// New constructs a Workflow. Model names may be empty to use the
// runtime's configured default for every call.
func New(retriever Retriever, model ModelRuntime, breaker CircuitBreaker, gradeModel, transformModel, generateModel string) *Workflow {
	return &Workflow{
		retriever:      retriever,
		model:          model,
		breaker:        breaker,
		gradeModel:     gradeModel,
		transformModel: transformModel,
		generateModel:  generateModel,
	}
}

// state carries everything spec §4.12 says the machine threads through
// its transitions.
type state struct {
	originalQuery string
	currentQuery  string
	k             int
	candidates    []Source
	graded        []Source
	attempts      int
}

// Run drives the state machine to completion; Done is always reached
// (spec §4.12).
func (w *Workflow) Run(ctx context.Context, query string, k int) (*Answer, error) {
	st := &state{originalQuery: query, currentQuery: query, k: k}
	var steps []Step
	var lastTrace *RetrievalTrace

	current := "Retrieve"
	for current != "Done" {
		switch current {
		case "Retrieve":
			candidates, trace, err := w.retriever.Search(ctx, st.currentQuery, st.k)
			if err != nil {
				return &Answer{Text: "", Sources: nil, Failed: true, Steps: append(steps, Step{State: "Retrieve", Note: err.Error()})}, nil
			}
			st.candidates = candidates
			lastTrace = trace
			steps = append(steps, Step{State: "Retrieve", Note: fmt.Sprintf("query=%q k=%d results=%d", st.currentQuery, st.k, len(candidates))})
			current = "Grade"

		case "Grade":
			if w.breaker != nil && !w.breaker.Available() {
				steps = append(steps, Step{State: "Grade", Note: "model runtime unavailable, skipping grading"})
				st.graded = st.candidates
				current = "Generate"
				continue
			}
			graded, err := w.gradeCandidates(ctx, st.originalQuery, st.candidates)
			if err != nil {
				// A grading failure is not fatal: the spec's tolerant
				// parser already treats unparseable responses as
				// "keep everything"; a hard transport error falls back
				// to the same safe default.
				graded = st.candidates
			}
			st.graded = graded
			steps = append(steps, Step{State: "Grade", Note: fmt.Sprintf("retrieved=%d graded=%d", len(st.candidates), len(st.graded))})
			current = "Decide"

		case "Decide":
			if len(st.graded) > 0 {
				current = "Generate"
			} else {
				current = "Transform"
			}

		case "Transform":
			if st.attempts >= MaxAttempts {
				steps = append(steps, Step{State: "Transform", Note: "max attempts reached, generating with what exists"})
				current = "Generate"
				continue
			}
			rewritten, err := w.transformQuery(ctx, st.originalQuery)
			st.attempts++
			if err != nil || rewritten == "" || strings.EqualFold(strings.TrimSpace(rewritten), strings.TrimSpace(st.currentQuery)) {
				steps = append(steps, Step{State: "Transform", Note: "rewrite empty or unchanged, generating with what exists"})
				current = "Generate"
				continue
			}
			st.currentQuery = rewritten
			steps = append(steps, Step{State: "Transform", Note: fmt.Sprintf("attempt=%d rewritten=%q", st.attempts, rewritten)})
			current = "Retrieve"

		case "Generate":
			docs := st.graded
			if len(docs) == 0 {
				docs = st.candidates
			}
			if len(docs) == 0 {
				return &Answer{
					Text:       "",
					Sources:    nil,
					Rounds:     st.attempts + 1,
					Attempts:   st.attempts,
					Steps:      append(steps, Step{State: "Generate", Note: "no candidates, returning empty answer"}),
					GradeStats: GradeStats{Retrieved: traceFused(lastTrace), Graded: 0, Attempts: st.attempts},
					Failed:     true,
				}, nil
			}
			if w.breaker != nil && !w.breaker.Available() {
				return &Answer{
					Text:       "",
					Sources:    docs,
					Rounds:     st.attempts + 1,
					Attempts:   st.attempts,
					Steps:      append(steps, Step{State: "Generate", Note: "model runtime unavailable"}),
					GradeStats: GradeStats{Retrieved: traceFused(lastTrace), Graded: len(st.graded), Attempts: st.attempts},
					Failed:     true,
				}, nil
			}
			text, err := w.generate(ctx, st.originalQuery, docs)
			if err != nil {
				return &Answer{
					Text:       "",
					Sources:    docs,
					Rounds:     st.attempts + 1,
					Attempts:   st.attempts,
					Steps:      append(steps, Step{State: "Generate", Note: err.Error()}),
					GradeStats: GradeStats{Retrieved: traceFused(lastTrace), Graded: len(st.graded), Attempts: st.attempts},
					Failed:     true,
				}, nil
			}
			return &Answer{
				Text:       text,
				Sources:    docs,
				Rounds:     st.attempts + 1,
				Attempts:   st.attempts,
				Steps:      append(steps, Step{State: "Generate", Note: "generated answer"}),
				GradeStats: GradeStats{Retrieved: traceFused(lastTrace), Graded: len(st.graded), Attempts: st.attempts},
			}, nil
		}
	}
	return &Answer{Steps: steps}, nil
}

func traceFused(t *RetrievalTrace) int {
	if t == nil {
		return 0
	}
	return t.FusedResults
}

var docDecisionPattern = regexp.MustCompile(`(?i)DOC\s*(\d+)\s*[:\-]\s*(RELEVANT|NOT_RELEVANT)`)
var tokenPattern = regexp.MustCompile(`(?i)\b(RELEVANT|NOT_RELEVANT)\b`)

// gradeCandidates grades st.candidates in batches of gradeBatchSize,
// per spec §4.12 / rag_grader.py. It never returns fewer total
// candidates than were fed in unless the model explicitly marks some
// NOT_RELEVANT and the parse succeeded cleanly.
func (w *Workflow) gradeCandidates(ctx context.Context, query string, candidates []Source) ([]Source, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var graded []Source
	for start := 0; start < len(candidates); start += gradeBatchSize {
		end := start + gradeBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]
		decisions, err := w.gradeBatch(ctx, query, batch)
		if err != nil || len(decisions) != len(batch) {
			// Parse failure or transport error: keep the whole batch,
			// the spec's explicit safe default.
			graded = append(graded, batch...)
			continue
		}
		for i, keep := range decisions {
			if keep {
				graded = append(graded, batch[i])
			}
		}
	}
	return graded, nil
}

func (w *Workflow) gradeBatch(ctx context.Context, query string, batch []Source) ([]bool, error) {
	var b strings.Builder
	for i, c := range batch {
		fmt.Fprintf(&b, "[DOC %d]\nFile: %s\nContent: %s\n\n", i+1, c.SourcePath, truncate(c.Content, 500))
	}
	prompt := fmt.Sprintf(`You are a strict document relevance evaluator.

User Question: %s

Documents to grade:
%s
For each document, decide RELEVANT or NOT_RELEVANT. Respond with a JSON array of decisions, one per document, in order.`, query, b.String())

	resp, err := w.model.Chat(ctx, w.gradeModel, []Message{{Role: "user", Content: prompt}}, ChatOptions{Temperature: 0})
	if err != nil {
		return nil, err
	}
	return parseGradeDecisions(resp, len(batch)), nil
}

// parseGradeDecisions implements the tolerant multi-format parser of
// rag_grader.py: JSON array, "DOC N: DECISION" lines, or a bare
// newline/comma token list. Returns nil (caller keeps the batch) on
// any parse failure or length mismatch.
func parseGradeDecisions(resp string, n int) []bool {
	resp = strings.TrimSpace(resp)

	var arr []string
	if err := json.Unmarshal([]byte(resp), &arr); err == nil && len(arr) == n {
		return tokensToBools(arr, n)
	}

	if matches := docDecisionPattern.FindAllStringSubmatch(resp, -1); len(matches) > 0 {
		decisions := make([]string, n)
		for _, m := range matches {
			idx, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			idx--
			if idx >= 0 && idx < n {
				decisions[idx] = strings.ToUpper(m[2])
			}
		}
		for _, d := range decisions {
			if d == "" {
				return nil
			}
		}
		return tokensToBools(decisions, n)
	}

	if tokens := tokenPattern.FindAllString(resp, -1); len(tokens) == n {
		return tokensToBools(tokens, n)
	}

	cleaned := strings.NewReplacer(",", "\n", ";", "\n").Replace(resp)
	var lines []string
	for _, ln := range strings.Split(cleaned, "\n") {
		ln = strings.ToUpper(strings.TrimSpace(ln))
		if ln == "RELEVANT" || ln == "NOT_RELEVANT" {
			lines = append(lines, ln)
		}
	}
	if len(lines) == n {
		return tokensToBools(lines, n)
	}

	return nil
}

func tokensToBools(tokens []string, n int) []bool {
	out := make([]bool, n)
	for i, t := range tokens {
		if i >= n {
			break
		}
		out[i] = strings.EqualFold(strings.TrimSpace(t), "RELEVANT")
	}
	return out
}

// transformQuery asks the model runtime to rewrite originalQuery into a
// more specific search query of at most 15 tokens (spec §4.12).
func (w *Workflow) transformQuery(ctx context.Context, originalQuery string) (string, error) {
	prompt := fmt.Sprintf(`Rewrite the following search query to be more specific and likely to retrieve relevant documents. Respond with only the rewritten query, at most 15 words, no explanation.

Query: %s`, originalQuery)
	resp, err := w.model.Chat(ctx, w.transformModel, []Message{{Role: "user", Content: prompt}}, ChatOptions{Temperature: 0.2})
	if err != nil {
		return "", err
	}
	rewritten := strings.TrimSpace(resp)
	words := strings.Fields(rewritten)
	if len(words) > 15 {
		rewritten = strings.Join(words[:15], " ")
	}
	return rewritten, nil
}

// generate constructs a grounded, source-citing prompt and asks the
// model runtime for the final answer (spec §4.12).
func (w *Workflow) generate(ctx context.Context, query string, docs []Source) (string, error) {
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "--- Source %d: %s", i+1, d.SourcePath)
		if d.Summary != "" {
			fmt.Fprintf(&b, " | %s", d.Summary)
		}
		b.WriteString(" ---\n")
		b.WriteString(d.Content)
		b.WriteString("\n\n")
	}
	prompt := fmt.Sprintf(`Context:
%s
Question: %s

Provide a concise answer based only on the context above. Cite sources by filename.`, b.String(), query)

	return w.model.Chat(ctx, w.generateModel, []Message{
		{Role: "system", Content: "You are a precise document analysis assistant. Answer questions based ONLY on the provided context, and cite sources by filename."},
		{Role: "user", Content: prompt},
	}, ChatOptions{Temperature: 0})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
