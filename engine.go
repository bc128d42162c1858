// Package filegpt wires the full local file-indexing and retrieval
// engine together: catalog, parsing, chunking, keyword and vector
// indexes, the background worker, ingestion pipeline, filesystem
// watcher, hybrid retriever, self-correcting RAG workflow, session
// store, circuit breaker, rate limiter, and intent router. Grounded on
// the teacher's goreason.go: a functional-options-configured New
// constructor building every subsystem from one Config and returning a
// single façade type (here Engine, there the goreason.Engine
// interface).
package filegpt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mohammad-wq/filegpt/internal/apperr"
	"github.com/mohammad-wq/filegpt/internal/catalog"
	"github.com/mohammad-wq/filegpt/internal/chunking"
	"github.com/mohammad-wq/filegpt/internal/embedding"
	"github.com/mohammad-wq/filegpt/internal/health"
	"github.com/mohammad-wq/filegpt/internal/ingest"
	"github.com/mohammad-wq/filegpt/internal/intent"
	"github.com/mohammad-wq/filegpt/internal/keyword"
	"github.com/mohammad-wq/filegpt/internal/modelclient"
	"github.com/mohammad-wq/filegpt/internal/parsing"
	"github.com/mohammad-wq/filegpt/internal/rag"
	"github.com/mohammad-wq/filegpt/internal/ratelimit"
	"github.com/mohammad-wq/filegpt/internal/retrieval"
	"github.com/mohammad-wq/filegpt/internal/session"
	"github.com/mohammad-wq/filegpt/internal/vectorindex"
	"github.com/mohammad-wq/filegpt/internal/watch"
	"github.com/mohammad-wq/filegpt/internal/worker"
)

// embeddingDim is the fixed vector width every component agrees on.
// nomic-embed-text (the default EmbedModel) produces 768-dimensional
// vectors.
const embeddingDim = 768

// Engine is the façade the HTTP surface (cmd/engined) and any embedder
// drives: every spec §6 endpoint maps to one Engine method.
type Engine struct {
	cfg Config
	log *slog.Logger

	store     *catalog.Catalog
	parsers   *parsing.Registry
	chunker   *chunking.Chunker
	kwIndex   *keyword.Index
	vectors   *vectorindex.Index
	model     *modelclient.Client
	embedder  *embedding.Provider
	bgWorker  *worker.Worker
	pipeline  *ingest.Pipeline
	retriever *retrieval.Engine
	ragFlow   *rag.Workflow
	sessions  session.Store
	breaker   *health.Breaker
	limiter   *ratelimit.Limiter

	watchersMu sync.Mutex
	watchers   []*watch.Watcher

	workerCancel  context.CancelFunc
	breakerCancel context.CancelFunc
}

// SearchResult is the spec §6 `/search` and `/ask*` sources[] element
// shape: `{path, source, summary, relevance_score, processing_status,
// content}`.
type SearchResult struct {
	Path             string  `json:"path"`
	Source           string  `json:"source"`
	Summary          string  `json:"summary"`
	RelevanceScore   float64 `json:"relevance_score"`
	ProcessingStatus string  `json:"processing_status"`
	Content          string  `json:"content"`
}

// AskResult is the `/ask` response shape (spec §6).
type AskResult struct {
	Answer    string         `json:"answer"`
	Sources   []SearchResult `json:"sources"`
	Intent    string         `json:"intent"`
	ToolUsed  string         `json:"tool_used"`
	SessionID string         `json:"session_id"`
}

// AskRAGResult is the `/ask_rag` response shape (spec §6).
type AskRAGResult struct {
	Answer       string         `json:"answer"`
	Sources      []SearchResult `json:"sources"`
	GradingStats rag.GradeStats `json:"grading_stats"`
	SessionID    string         `json:"session_id"`
}

// Stats summarizes index sizes and queue depths for `/stats`.
type Stats struct {
	Catalog catalog.Stats `json:"catalog"`
	Health  health.Status `json:"health"`
}

// New builds an Engine from cfg, opening every persisted store and
// wiring the long-lived actors spec §5 names, the same way the
// teacher's goreason.New opens its store and constructs every
// subsystem from one Config before returning the façade.
func New(cfg Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}

	store, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	kwIndex, err := keyword.Open(cfg.KeywordSnapshotPath())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening keyword index: %w", err)
	}

	vectors, err := vectorindex.Open(cfg.VectorDir(), embeddingDim)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening vector index: %w", err)
	}

	model := modelclient.New(modelclient.Config{BaseURL: cfg.ModelHost, Model: cfg.ChatModel})
	embedClient := modelclient.New(modelclient.Config{BaseURL: cfg.ModelHost, Model: cfg.EmbedModel})
	embedder := embedding.New(embedClient, embeddingDim)

	sessions, err := session.Open(session.Mode(cfg.SessionMode), cfg.sessionDBPath(), session.DefaultTTL)
	if err != nil {
		store.Close()
		vectors.Close()
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	breaker := health.New(model, health.DefaultProbeInterval, log)

	parsers := parsing.NewRegistry()
	chunker := chunking.New(chunking.Config{})

	bgWorker := worker.New(embedder, vectors, store, &summarizer{store: store, model: model, chatModel: cfg.ChatModel}, log)

	pipeline := &ingest.Pipeline{
		Parser:   parsers,
		Catalog:  store,
		Chunker:  chunker,
		Keyword:  kwIndex,
		Vectors:  vectors,
		Embedder: bgWorker,
		Digest:   catalog.Digest,
		Log:      log,
	}

	retriever := retrieval.New(
		embedder,
		&vectorQueryAdapter{index: vectors},
		&keywordQueryAdapter{index: kwIndex},
		&catalogMetaAdapter{store: store},
		bgWorker,
		retrieval.Config{},
	)

	ragFlow := rag.New(
		&retrieverAdapter{engine: retriever},
		&ragModelAdapter{client: model},
		breaker,
		cfg.ChatModel, cfg.ChatModel, cfg.ChatModel,
	)

	limiter := ratelimit.New(map[string]ratelimit.Rate{
		"/ask":     ratelimit.PerMinute(20),
		"/ask_rag": ratelimit.PerMinute(10),
		"/search":  ratelimit.PerSecond(5),
	})

	return &Engine{
		cfg:       cfg,
		log:       log,
		store:     store,
		parsers:   parsers,
		chunker:   chunker,
		kwIndex:   kwIndex,
		vectors:   vectors,
		model:     model,
		embedder:  embedder,
		bgWorker:  bgWorker,
		pipeline:  pipeline,
		retriever: retriever,
		ragFlow:   ragFlow,
		sessions:  sessions,
		breaker:   breaker,
		limiter:   limiter,
	}, nil
}

// Start launches the three long-lived actors spec §5 names that this
// process owns beyond the HTTP loop: the background worker, one
// filesystem watcher per configured root, and the circuit breaker's
// prober. Run once, after New and before serving requests.
func (e *Engine) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, root := range e.cfg.WatchRoots {
		root := root
		g.Go(func() error {
			if _, err := e.startWatching(gctx, root); err != nil {
				return fmt.Errorf("watching %s: %w", root, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	workerCtx, workerCancel := context.WithCancel(ctx)
	e.workerCancel = workerCancel
	go e.bgWorker.Run(workerCtx)

	breakerCtx, breakerCancel := context.WithCancel(ctx)
	e.breakerCancel = breakerCancel
	go e.breaker.Run(breakerCtx)

	return nil
}

// startWatching scans root for already-present files and then begins
// watching it for changes, registering the resulting Watcher so Close
// can stop it later.
func (e *Engine) startWatching(ctx context.Context, root string) (*watch.Watcher, error) {
	w := watch.New(root, e.pipeline, e.parsers, watch.Config{}, e.log)
	if err := w.Scan(ctx); err != nil {
		return nil, fmt.Errorf("initial scan of %s: %w", root, err)
	}
	if err := w.Watch(ctx); err != nil {
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}

	e.watchersMu.Lock()
	e.watchers = append(e.watchers, w)
	e.watchersMu.Unlock()
	return w, nil
}

// Close shuts down every long-lived actor and closes the persisted
// stores. Idempotent-ish: safe to call once after Start.
func (e *Engine) Close() error {
	if e.workerCancel != nil {
		e.workerCancel()
	}
	if e.breakerCancel != nil {
		e.breakerCancel()
	}
	e.bgWorker.Stop()
	e.breaker.Stop()

	e.watchersMu.Lock()
	for _, w := range e.watchers {
		w.Stop()
	}
	e.watchersMu.Unlock()

	var firstErr error
	for _, closer := range []func() error{e.store.Close, e.vectors.Close, e.sessions.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Search implements POST /search: `{query, k?} → {results[], count}`.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	results, _, err := e.retriever.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return toSearchResults(results), nil
}

// Ask implements POST /ask: intent classification followed by dispatch
// (spec.md §9), with Read/List/Move stubbed through to Chat.
func (e *Engine) Ask(ctx context.Context, query string, k int, sessionID string) (*AskResult, error) {
	sessionID, err := e.sessions.Create(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.sessions.Append(ctx, sessionID, "user", query); err != nil {
		e.log.Warn("recording user turn failed", "error", err)
	}

	classified := intent.Classify(query)
	var answer string
	var sources []SearchResult
	toolUsed := "chat"

	switch classified.Tag {
	case intent.Search:
		results, searchErr := e.Search(ctx, classified.Query, k)
		if searchErr != nil {
			return nil, searchErr
		}
		sources = results
		toolUsed = "search"
		answer = summarizeSearchResults(classified.Query, results)
	default:
		reply, chatErr := e.model.Chat(ctx, e.cfg.ChatModel, []modelclient.Message{
			{Role: "user", Content: query},
		}, modelclient.Options{Temperature: 0.3})
		if chatErr != nil {
			e.breaker.RecordFailure()
			return nil, chatErr
		}
		e.breaker.RecordSuccess()
		answer = reply
	}

	if err := e.sessions.Append(ctx, sessionID, "assistant", answer); err != nil {
		e.log.Warn("recording assistant turn failed", "error", err)
	}

	return &AskResult{
		Answer:    answer,
		Sources:   sources,
		Intent:    string(classified.Tag),
		ToolUsed:  toolUsed,
		SessionID: sessionID,
	}, nil
}

// AskRAG implements POST /ask_rag: the self-correcting RAG workflow.
func (e *Engine) AskRAG(ctx context.Context, query string, k int, sessionID string) (*AskRAGResult, error) {
	sessionID, err := e.sessions.Create(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.sessions.Append(ctx, sessionID, "user", query); err != nil {
		e.log.Warn("recording user turn failed", "error", err)
	}

	answer, err := e.ragFlow.Run(ctx, query, k)
	if err != nil {
		return nil, err
	}

	if err := e.sessions.Append(ctx, sessionID, "assistant", answer.Text); err != nil {
		e.log.Warn("recording assistant turn failed", "error", err)
	}
	if err := e.store.LogQuery(ctx, query, answer.Text, answer.Rounds, gradeStatsJSON(answer.GradeStats)); err != nil {
		e.log.Warn("logging query failed", "error", err)
	}

	return &AskRAGResult{
		Answer:       answer.Text,
		Sources:      toRAGSearchResults(answer.Sources),
		GradingStats: answer.GradeStats,
		SessionID:    sessionID,
	}, nil
}

// AddFolder implements POST /add_folder: scans path and adds it to the
// watch set.
func (e *Engine) AddFolder(ctx context.Context, path string) (filesIndexed int, err error) {
	before, err := e.store.Stats(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := e.startWatching(ctx, path); err != nil {
		return 0, err
	}
	e.cfg.WatchRoots = append(e.cfg.WatchRoots, path)

	after, err := e.store.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return after.TotalFiles - before.TotalFiles, nil
}

// WatchedFolders implements GET /watched_folders.
func (e *Engine) WatchedFolders() []string {
	return append([]string(nil), e.cfg.WatchRoots...)
}

// HealthStatus implements GET /health.
func (e *Engine) HealthStatus() health.Status {
	return e.breaker.Status()
}

// Stats implements GET /stats.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	catStats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Catalog: *catStats, Health: e.breaker.Status()}, nil
}

// RateLimit applies the per-endpoint, per-client rate limit configured
// in New (spec §4.15) and reports the admit/reject decision.
func (e *Engine) RateLimit(endpoint, client string) ratelimit.Decision {
	return e.limiter.Allow(endpoint, client)
}

func toSearchResults(results []retrieval.Result) []SearchResult {
	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{
			Path:             r.SourcePath,
			Source:           r.SourcePath,
			Summary:          r.Summary,
			RelevanceScore:   r.Score,
			ProcessingStatus: r.ProcessingStatus,
			Content:          r.Content,
		}
	}
	return out
}

func toRAGSearchResults(sources []rag.Source) []SearchResult {
	out := make([]SearchResult, len(sources))
	for i, s := range sources {
		out[i] = SearchResult{
			Path:             s.SourcePath,
			Source:           s.SourcePath,
			Summary:          s.Summary,
			RelevanceScore:   s.Score,
			ProcessingStatus: s.ProcessingStatus,
			Content:          s.Content,
		}
	}
	return out
}

func summarizeSearchResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No files matched %q.", query)
	}
	return fmt.Sprintf("Found %d matching file(s) for %q.", len(results), query)
}

func gradeStatsJSON(stats rag.GradeStats) string {
	return fmt.Sprintf(`{"retrieved":%d,"graded":%d,"attempts":%d}`, stats.Retrieved, stats.Graded, stats.Attempts)
}

// --- Adapters bridging each leaf package's narrow consumer-defined
// interface to the concrete types this engine wires together. Each
// leaf package (ingest, worker, retrieval, rag) deliberately defines
// its own interfaces rather than importing its neighbors, so the
// adapters live here, at the one place that imports everything.

type summarizer struct {
	store     *catalog.Catalog
	model     *modelclient.Client
	chatModel string
}

// Summarize reads the file's content from the catalog and asks the
// model runtime for a one-sentence summary (spec §4.8's summarization
// step, worker.Summarizer's documented contract).
func (s *summarizer) Summarize(ctx context.Context, path string) (string, error) {
	content, err := s.store.GetContent(ctx, path)
	if err != nil {
		return "", err
	}
	const maxChars = 4000
	if len(content) > maxChars {
		content = content[:maxChars]
	}
	return s.model.Chat(ctx, s.chatModel, []modelclient.Message{
		{Role: "system", Content: "Summarize the following file in one concise sentence."},
		{Role: "user", Content: content},
	}, modelclient.Options{Temperature: 0})
}

type vectorQueryAdapter struct{ index *vectorindex.Index }

func (a *vectorQueryAdapter) Query(ctx context.Context, embedding []float32, k int) ([]retrieval.VectorRecord, error) {
	records, err := a.index.Query(ctx, embedding, k)
	if err != nil {
		return nil, err
	}
	out := make([]retrieval.VectorRecord, len(records))
	for i, r := range records {
		out[i] = retrieval.VectorRecord{ID: r.ID, Document: r.Document, Metadata: r.Metadata, Distance: r.Distance}
	}
	return out, nil
}

type keywordQueryAdapter struct{ index *keyword.Index }

func (a *keywordQueryAdapter) Query(text string, k int) []retrieval.KeywordResult {
	results := a.index.Query(text, k)
	out := make([]retrieval.KeywordResult, len(results))
	for i, r := range results {
		out[i] = retrieval.KeywordResult{Score: r.Score, I: r.I}
	}
	return out
}

func (a *keywordQueryAdapter) Record(i int) (string, string, map[string]string, bool) {
	return a.index.Record(i)
}

type catalogMetaAdapter struct{ store *catalog.Catalog }

func (a *catalogMetaAdapter) Meta(ctx context.Context, path string) (retrieval.FileMeta, error) {
	m, err := a.store.Meta(ctx, path)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return retrieval.FileMeta{}, nil
		}
		return retrieval.FileMeta{}, err
	}
	return retrieval.FileMeta{Summary: m.Summary, ProcessingStatus: m.ProcessingStatus}, nil
}

type retrieverAdapter struct{ engine *retrieval.Engine }

func (a *retrieverAdapter) Search(ctx context.Context, query string, k int) ([]rag.Source, *rag.RetrievalTrace, error) {
	results, trace, err := a.engine.Search(ctx, query, k)
	if err != nil {
		return nil, nil, err
	}
	sources := make([]rag.Source, len(results))
	for i, r := range results {
		sources[i] = rag.Source{
			Content:          r.Content,
			SourcePath:       r.SourcePath,
			Summary:          r.Summary,
			Score:            r.Score,
			ProcessingStatus: r.ProcessingStatus,
		}
	}
	return sources, &rag.RetrievalTrace{
		VectorResults:  trace.VectorResults,
		KeywordResults: trace.KeywordResults,
		FusedResults:   trace.FusedResults,
	}, nil
}

type ragModelAdapter struct{ client *modelclient.Client }

func (a *ragModelAdapter) Chat(ctx context.Context, model string, messages []rag.Message, opts rag.ChatOptions) (string, error) {
	out := make([]modelclient.Message, len(messages))
	for i, m := range messages {
		out[i] = modelclient.Message{Role: m.Role, Content: m.Content}
	}
	return a.client.Chat(ctx, model, out, modelclient.Options{Temperature: opts.Temperature})
}
