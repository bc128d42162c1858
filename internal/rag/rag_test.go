package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeRetriever struct {
	calls   []string
	byQuery map[string][]Source
}

func (f *fakeRetriever) Search(ctx context.Context, query string, k int) ([]Source, *RetrievalTrace, error) {
	f.calls = append(f.calls, query)
	results := f.byQuery[query]
	return results, &RetrievalTrace{FusedResults: len(results)}, nil
}

type fakeModel struct {
	gradeResponses     []string
	transformResponses []string
	generateResponse   string
	generateErr        error
	gradeCalls         int
	transformCalls     int
	generateCalls      int
}

func (f *fakeModel) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	last := messages[len(messages)-1].Content
	switch {
	case strings.Contains(last, "relevance evaluator") || strings.Contains(last, "grade"):
		idx := f.gradeCalls
		f.gradeCalls++
		if idx < len(f.gradeResponses) {
			return f.gradeResponses[idx], nil
		}
		return "", nil
	case strings.Contains(last, "Rewrite the following"):
		idx := f.transformCalls
		f.transformCalls++
		if idx < len(f.transformResponses) {
			return f.transformResponses[idx], nil
		}
		return "", nil
	default:
		f.generateCalls++
		if f.generateErr != nil {
			return "", f.generateErr
		}
		return f.generateResponse, nil
	}
}

type fakeBreaker struct{ available bool }

func (f fakeBreaker) Available() bool { return f.available }

func TestRunGeneratesWhenFirstRetrieveHasRelevantDocs(t *testing.T) {
	docs := []Source{{SourcePath: "a.txt", Content: "alpha content"}}
	retriever := &fakeRetriever{byQuery: map[string][]Source{"alpha question": docs}}
	model := &fakeModel{
		gradeResponses:   []string{`["RELEVANT"]`},
		generateResponse: "The answer is alpha, per a.txt.",
	}
	wf := New(retriever, model, fakeBreaker{available: true}, "", "", "")

	answer, err := wf.Run(context.Background(), "alpha question", 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer.Failed {
		t.Fatalf("expected success, got failed answer: %+v", answer)
	}
	if answer.Text != "The answer is alpha, per a.txt." {
		t.Errorf("Text = %q", answer.Text)
	}
	if len(retriever.calls) != 1 {
		t.Errorf("expected exactly one Retrieve call, got %d: %v", len(retriever.calls), retriever.calls)
	}
	if answer.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", answer.Attempts)
	}
}

func TestRunTransformsQueryWhenNothingGraded(t *testing.T) {
	retriever := &fakeRetriever{byQuery: map[string][]Source{
		"vague question":    {{SourcePath: "x.txt", Content: "irrelevant"}},
		"specific question": {{SourcePath: "y.txt", Content: "on point"}},
	}}
	model := &fakeModel{
		gradeResponses:     []string{`["NOT_RELEVANT"]`, `["RELEVANT"]`},
		transformResponses: []string{"specific question"},
		generateResponse:   "Answer grounded in y.txt.",
	}
	wf := New(retriever, model, fakeBreaker{available: true}, "", "", "")

	answer, err := wf.Run(context.Background(), "vague question", 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer.Failed {
		t.Fatalf("expected success: %+v", answer)
	}
	if len(retriever.calls) != 2 {
		t.Fatalf("expected 2 Retrieve calls (original + transformed), got %d: %v", len(retriever.calls), retriever.calls)
	}
	if retriever.calls[1] != "specific question" {
		t.Errorf("second retrieve used %q, want the transformed query", retriever.calls[1])
	}
	if answer.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", answer.Attempts)
	}
	if answer.Sources[0].SourcePath != "y.txt" {
		t.Errorf("expected the second round's source to be used, got %+v", answer.Sources)
	}
}

func TestRunStopsAfterMaxAttemptsAndGeneratesAnyway(t *testing.T) {
	retriever := &fakeRetriever{byQuery: map[string][]Source{
		"q":  {{SourcePath: "never.txt", Content: "always irrelevant"}},
		"q1": {{SourcePath: "never.txt", Content: "always irrelevant"}},
		"q2": {{SourcePath: "never.txt", Content: "always irrelevant"}},
		"q3": {{SourcePath: "never.txt", Content: "always irrelevant"}},
	}}
	model := &fakeModel{
		gradeResponses: []string{
			`["NOT_RELEVANT"]`, `["NOT_RELEVANT"]`, `["NOT_RELEVANT"]`, `["NOT_RELEVANT"]`,
		},
		transformResponses: []string{"q1", "q2", "q3"},
		generateResponse:   "best effort answer",
	}
	wf := New(retriever, model, fakeBreaker{available: true}, "", "", "")

	answer, err := wf.Run(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer.Attempts != MaxAttempts {
		t.Errorf("Attempts = %d, want %d", answer.Attempts, MaxAttempts)
	}
	if answer.Failed {
		t.Fatalf("expected Generate to still run with best-effort candidates: %+v", answer)
	}
	if answer.Text != "best effort answer" {
		t.Errorf("Text = %q", answer.Text)
	}
}

func TestRunSkipsGradingWhenBreakerUnavailable(t *testing.T) {
	docs := []Source{{SourcePath: "a.txt", Content: "alpha"}}
	retriever := &fakeRetriever{byQuery: map[string][]Source{"q": docs}}
	model := &fakeModel{generateResponse: "answer without grading"}
	wf := New(retriever, model, &recoveringBreaker{}, "", "", "")

	answer, err := wf.Run(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if model.gradeCalls != 0 {
		t.Errorf("expected grading to be skipped, got %d grade calls", model.gradeCalls)
	}
	if answer.Failed {
		t.Fatalf("expected the breaker to only affect Grade, not Generate, once available again: %+v", answer)
	}
}

func TestRunReturnsEmptyAnswerWhenNoCandidatesAnywhere(t *testing.T) {
	retriever := &fakeRetriever{byQuery: map[string][]Source{}}
	model := &fakeModel{transformResponses: []string{"", "", ""}}
	wf := New(retriever, model, fakeBreaker{available: true}, "", "", "")

	answer, err := wf.Run(context.Background(), "nothing matches", 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !answer.Failed {
		t.Fatalf("expected a failed/empty answer, got %+v", answer)
	}
	if answer.Text != "" {
		t.Errorf("Text = %q, want empty", answer.Text)
	}
	if len(answer.Sources) != 0 {
		t.Errorf("Sources = %v, want empty", answer.Sources)
	}
}

func TestRunReturnsFailedAnswerWhenGenerateUnavailable(t *testing.T) {
	docs := []Source{{SourcePath: "a.txt", Content: "alpha"}}
	retriever := &fakeRetriever{byQuery: map[string][]Source{"q": docs}}
	model := &fakeModel{gradeResponses: []string{`["RELEVANT"]`}}
	breaker := &toggleBreaker{available: true}
	wf := New(retriever, model, breaker, "", "", "")
	breaker.flipAfterGrade = true

	answer, err := wf.Run(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !answer.Failed {
		t.Fatalf("expected Generate-unavailable to produce a failed answer: %+v", answer)
	}
	if len(answer.Sources) != 1 {
		t.Errorf("expected the graded candidate to still be surfaced as a source, got %v", answer.Sources)
	}
}

// toggleBreaker flips to unavailable after grading happens, so Generate
// sees the runtime go down mid-workflow.
type toggleBreaker struct {
	available     bool
	flipAfterGrade bool
	checks        int
}

func (t *toggleBreaker) Available() bool {
	t.checks++
	if t.checks > 1 && t.flipAfterGrade {
		return false
	}
	return t.available
}

// recoveringBreaker reports unavailable on its first check (Grade) and
// available afterwards, so Generate sees the runtime come back.
type recoveringBreaker struct{ checks int }

func (r *recoveringBreaker) Available() bool {
	r.checks++
	return r.checks > 1
}

func TestParseGradeDecisionsJSONArray(t *testing.T) {
	got := parseGradeDecisions(`["RELEVANT", "NOT_RELEVANT", "RELEVANT"]`, 3)
	want := []bool{true, false, true}
	assertBools(t, got, want)
}

func TestParseGradeDecisionsDocLines(t *testing.T) {
	resp := "DOC 1: RELEVANT\nDOC 2: NOT_RELEVANT\nDOC 3: RELEVANT"
	got := parseGradeDecisions(resp, 3)
	want := []bool{true, false, true}
	assertBools(t, got, want)
}

func TestParseGradeDecisionsBareTokens(t *testing.T) {
	resp := "RELEVANT NOT_RELEVANT RELEVANT"
	got := parseGradeDecisions(resp, 3)
	want := []bool{true, false, true}
	assertBools(t, got, want)
}

func TestParseGradeDecisionsCommaSeparated(t *testing.T) {
	resp := "RELEVANT, NOT_RELEVANT, RELEVANT"
	got := parseGradeDecisions(resp, 3)
	want := []bool{true, false, true}
	assertBools(t, got, want)
}

func TestParseGradeDecisionsReturnsNilOnGarbage(t *testing.T) {
	got := parseGradeDecisions("I cannot help with that.", 3)
	if got != nil {
		t.Errorf("expected nil on unparseable input, got %v", got)
	}
}

func TestParseGradeDecisionsReturnsNilOnLengthMismatch(t *testing.T) {
	got := parseGradeDecisions(`["RELEVANT"]`, 3)
	if got != nil {
		t.Errorf("expected nil on length mismatch, got %v", got)
	}
}

func TestGradeCandidatesKeepsBatchOnParseFailure(t *testing.T) {
	retriever := &fakeRetriever{}
	model := &fakeModel{gradeResponses: []string{"not parseable at all"}}
	wf := New(retriever, model, fakeBreaker{available: true}, "", "", "")

	candidates := []Source{{SourcePath: "a.txt"}, {SourcePath: "b.txt"}}
	graded, err := wf.gradeCandidates(context.Background(), "q", candidates)
	if err != nil {
		t.Fatalf("gradeCandidates: %v", err)
	}
	if len(graded) != 2 {
		t.Errorf("expected both candidates kept on parse failure, got %d", len(graded))
	}
}

func TestGradeCandidatesBatchesAtFive(t *testing.T) {
	retriever := &fakeRetriever{}
	model := &fakeModel{
		gradeResponses: []string{
			`["RELEVANT","RELEVANT","RELEVANT","RELEVANT","RELEVANT"]`,
			`["NOT_RELEVANT","NOT_RELEVANT"]`,
		},
	}
	wf := New(retriever, model, fakeBreaker{available: true}, "", "", "")

	var candidates []Source
	for i := 0; i < 7; i++ {
		candidates = append(candidates, Source{SourcePath: string(rune('a' + i))})
	}
	graded, err := wf.gradeCandidates(context.Background(), "q", candidates)
	if err != nil {
		t.Fatalf("gradeCandidates: %v", err)
	}
	if model.gradeCalls != 2 {
		t.Errorf("expected 2 batched grade calls for 7 candidates, got %d", model.gradeCalls)
	}
	if len(graded) != 5 {
		t.Errorf("expected 5 kept (all of batch 1, none of batch 2), got %d", len(graded))
	}
}

func TestRunPropagatesGenerateError(t *testing.T) {
	docs := []Source{{SourcePath: "a.txt", Content: "alpha"}}
	retriever := &fakeRetriever{byQuery: map[string][]Source{"q": docs}}
	model := &fakeModel{
		gradeResponses: []string{`["RELEVANT"]`},
		generateErr:    errors.New("model runtime timed out"),
	}
	wf := New(retriever, model, fakeBreaker{available: true}, "", "", "")

	answer, err := wf.Run(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !answer.Failed {
		t.Fatalf("expected a failed answer on generate error, got %+v", answer)
	}
}

func assertBools(t *testing.T, got, want []bool) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d (got %v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d = %v, want %v", i, got[i], want[i])
		}
	}
}
