// Package retrieval implements the hybrid retriever (C11): a dense
// branch over the vector index and a keyword branch over the BM25
// index, merged by weighted-max with a boost for results whose path or
// summary contains a query keyword.
// Grounded on the teacher's retrieval.Engine.Search shape (Config,
// SearchOptions, SearchTrace, concurrent branch dispatch via
// retrieval/retrieval.go) with the fusion math replaced: the teacher
// fuses vector/FTS/graph with RRF, but spec §4.11 is explicit that this
// is a weighted-max fusion, not RRF — "the test suite asserts the exact
// boost and max-merge behaviour" — so the ranking formula here is a
// from-scratch implementation of that formula, not an adaptation of
// fuseRRF.
package retrieval

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/mohammad-wq/filegpt/internal/apperr"
)

// filenameSummaryBoost is the fixed bonus spec §4.11 step 3 applies
// when a surviving keyword appears in the chunk's path or summary.
const filenameSummaryBoost = 0.3

// genericTerms is the small stop-like word set stripped from the
// keyword branch only (spec §4.11 step 2).
var genericTerms = map[string]bool{
	"find": true, "show": true, "search": true, "the": true, "a": true,
	"an": true, "of": true, "for": true, "me": true, "please": true,
	"what": true, "is": true, "are": true, "in": true, "on": true,
}

// Embedder is the subset of internal/embedding.Provider the dense
// branch needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorRecord mirrors internal/vectorindex.Record's exported surface.
type VectorRecord struct {
	ID       string
	Document string
	Metadata string
	Distance float64
}

// Score converts Distance into a [0,1] similarity, identically to
// vectorindex.Record.Score.
func (r VectorRecord) Score() float64 {
	s := 1 - r.Distance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// VectorIndex is the subset of internal/vectorindex.Index the dense
// branch needs.
type VectorIndex interface {
	Query(ctx context.Context, embedding []float32, k int) ([]VectorRecord, error)
}

// KeywordResult mirrors internal/keyword.Result.
type KeywordResult struct {
	Score float64
	I     int
}

// KeywordIndex is the subset of internal/keyword.Index the keyword
// branch needs.
type KeywordIndex interface {
	Query(text string, k int) []KeywordResult
	Record(i int) (path, text string, metadata map[string]string, ok bool)
}

// FileMeta is what the catalog knows about a surviving result's owning
// file: its summary and processing status.
type FileMeta struct {
	Summary          string
	ProcessingStatus string
}

// Catalog is the subset of internal/catalog.Catalog needed to resolve
// per-file metadata for surviving results (spec §4.11 step 5).
type Catalog interface {
	Meta(ctx context.Context, path string) (FileMeta, error)
}

// SummaryQueue lets the retriever enqueue a missing summary without
// depending on internal/worker directly.
type SummaryQueue interface {
	EnqueueSummary(path string)
}

// pendingSummarySentinel is substituted for a missing or still-pending
// summary (spec §4.11 step 5).
const pendingSummarySentinel = "[Summary pending]"

// pendingStatus is the processing status that means "no summary yet,
// and none in flight" — used to decide whether to enqueue one.
const pendingStatus = "pending_summary"

// Config carries the dense/keyword branch sizing.
type Config struct {
	// K is the default result count if a caller passes 0.
	K int
}

// Result is one ranked hit (spec §4.11: "{content, source_path,
// summary, score, processing_status}").
type Result struct {
	Content          string  `json:"content"`
	SourcePath       string  `json:"source_path"`
	Summary          string  `json:"summary"`
	Score            float64 `json:"score"`
	ProcessingStatus string  `json:"processing_status"`
}

// Trace records the branch-level breakdown of a single Search call,
// grounded on the teacher's SearchTrace.
type Trace struct {
	VectorResults  int `json:"vector_results"`
	KeywordResults int `json:"keyword_results"`
	FusedResults   int `json:"fused_results"`
}

// Engine performs the hybrid search of spec §4.11.
type Engine struct {
	embedder Embedder
	vectors  VectorIndex
	keyword  KeywordIndex
	catalog  Catalog
	queue    SummaryQueue
	cfg      Config
}

// New constructs an Engine.
func New(embedder Embedder, vectors VectorIndex, keyword KeywordIndex, catalog Catalog, queue SummaryQueue, cfg Config) *Engine {
	if cfg.K <= 0 {
		cfg.K = 10
	}
	return &Engine{embedder: embedder, vectors: vectors, keyword: keyword, catalog: catalog, queue: queue, cfg: cfg}
}

type chunkMetadata struct {
	Path       string `json:"path"`
	ChunkIndex int    `json:"chunk_index"`
}

type candidate struct {
	path    string
	content string
	scoreF  float64
}

// Search runs the full spec §4.11 algorithm: dense branch, keyword
// branch, max-merge by source_path, filename/summary boost, sort, and
// per-result metadata resolution.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]Result, *Trace, error) {
	if k <= 0 {
		k = e.cfg.K
	}
	trace := &Trace{}

	byPath := map[string]*candidate{}

	// 1. Dense branch.
	vecResults, err := e.denseBranch(ctx, query, k)
	if err != nil {
		return nil, trace, err
	}
	trace.VectorResults = len(vecResults)
	for _, r := range vecResults {
		mergeMax(byPath, r.path, r.content, r.scoreF)
	}

	// 2. Keyword branch: strip generic words for this branch only.
	keywordQuery := stripGenericTerms(query)
	survivingTerms := strings.Fields(strings.ToLower(keywordQuery))
	kwResults := e.keyword.Query(keywordQuery, k)
	trace.KeywordResults = len(kwResults)
	for _, r := range kwResults {
		if r.Score <= 0 {
			continue
		}
		path, text, _, ok := e.keyword.Record(r.I)
		if !ok {
			continue
		}
		mergeMax(byPath, path, text, r.Score)
	}

	// 3. Merge already happened via mergeMax; apply the filename/summary
	// boost now that every candidate's winning chunk is known. "Either"
	// in spec §4.11 step 3 means the path or the catalog summary, so the
	// boost needs each candidate's metadata before scoring is final.
	metas := make(map[string]FileMeta, len(byPath))
	for path, c := range byPath {
		meta, err := e.catalog.Meta(ctx, path)
		if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
			return nil, trace, err
		}
		metas[path] = meta
		if termsAppearIn(survivingTerms, path, meta.Summary) {
			c.scoreF += filenameSummaryBoost
		}
	}

	results := make([]Result, 0, len(byPath))
	for path, c := range byPath {
		results = append(results, Result{Content: c.content, SourcePath: path, Score: c.scoreF})
	}

	// 4. Sort descending, take first k.
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}

	// 5. Resolve summary/status, substitute the pending sentinel, and
	// enqueue a summarization if one isn't already in flight.
	for i := range results {
		meta := metas[results[i].SourcePath]
		results[i].ProcessingStatus = meta.ProcessingStatus
		if meta.Summary == "" || meta.Summary == pendingSummarySentinel {
			results[i].Summary = pendingSummarySentinel
			if meta.ProcessingStatus != pendingStatus && e.queue != nil {
				e.queue.EnqueueSummary(results[i].SourcePath)
			}
		} else {
			results[i].Summary = meta.Summary
		}
	}

	trace.FusedResults = len(results)
	return results, trace, nil
}

type denseHit struct {
	path    string
	content string
	scoreF  float64
}

func (e *Engine) denseBranch(ctx context.Context, query string, k int) ([]denseHit, error) {
	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	records, err := e.vectors.Query(ctx, vectors[0], k)
	if err != nil {
		return nil, err
	}
	hits := make([]denseHit, 0, len(records))
	for _, r := range records {
		var m chunkMetadata
		path := r.Metadata
		if json.Unmarshal([]byte(r.Metadata), &m) == nil && m.Path != "" {
			path = m.Path
		}
		hits = append(hits, denseHit{path: path, content: r.Document, scoreF: r.Score()})
	}
	return hits, nil
}

// mergeMax keeps, for each source_path, only the single highest-scoring
// chunk (spec §4.11 step 3).
func mergeMax(byPath map[string]*candidate, path, content string, score float64) {
	if existing, ok := byPath[path]; ok {
		if score > existing.scoreF {
			existing.content = content
			existing.scoreF = score
		}
		return
	}
	byPath[path] = &candidate{path: path, content: content, scoreF: score}
}

func stripGenericTerms(query string) string {
	fields := strings.Fields(query)
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if !genericTerms[strings.ToLower(f)] {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

func termsAppearIn(terms []string, path, content string) bool {
	haystack := strings.ToLower(path + " " + content)
	for _, t := range terms {
		if t != "" && strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}
