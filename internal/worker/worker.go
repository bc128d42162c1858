package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Embedder is the subset of internal/embedding.Provider the worker needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter is the subset of internal/vectorindex.Index the worker needs.
type VectorWriter interface {
	Add(ctx context.Context, path string, ids []string, embeddings [][]float32, documents []string, metadata []string) error
}

// StatusStore is the subset of internal/catalog.Catalog the worker needs
// to advance a file through its processing lifecycle.
type StatusStore interface {
	UpdateStatus(ctx context.Context, path, status string) error
	UpdateSummary(ctx context.Context, path, summary string) error
}

// Summarizer asks the model runtime for a one-sentence summary of the
// file at path, reading its content from wherever the caller's
// implementation keeps it (the catalog, in practice). Errors are
// tolerated: the file simply stays pending_summary and is retried on
// the next enqueue.
type Summarizer interface {
	Summarize(ctx context.Context, path string) (string, error)
}

const (
	// statusPendingSummary mirrors catalog's StatusPendingSummary
	// without importing the catalog package, so worker stays a leaf
	// dependency the same way embedding/modelclient do.
	statusPendingSummary = "pending_summary"
)

// BatchSize is B from spec §4.8: the worker drains up to this many
// Q_embed items as a single batch per loop iteration.
const BatchSize = 20

// idlePause is how long the loop sleeps when both queues are empty,
// before checking again.
const idlePause = 200 * time.Millisecond

// Worker is the single cooperative background worker of spec §4.8: it
// owns both priority queues and drains them in a loop, embedding
// chunks and requesting summaries without ever running concurrently
// with itself.
type Worker struct {
	embed     Embedder
	vectors   VectorWriter
	status    StatusStore
	summarize Summarizer
	log       *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	embedQ  *queue
	sumQ    *queue
	paused  bool
	running bool
}

// New constructs a Worker. Call Run in its own goroutine to start the
// loop, and Enqueue* from any goroutine to feed it.
func New(embed Embedder, vectors VectorWriter, status StatusStore, summarize Summarizer, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		embed:     embed,
		vectors:   vectors,
		status:    status,
		summarize: summarize,
		log:       log,
		embedQ:    newQueue(),
		sumQ:      newQueue(),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// EnqueueEmbed adds a file's chunks to Q_embed. Priority is the chunk
// count, so smaller files win (spec §4.8).
func (w *Worker) EnqueueEmbed(path string, chunks, metadata []string) {
	w.mu.Lock()
	w.embedQ.push(len(chunks), EmbedJob{Path: path, Chunks: chunks, Metadata: metadata})
	w.mu.Unlock()
	w.cond.Signal()
}

// EnqueueSummary adds a file to Q_summarize. Priority is uniform, so
// ordering falls back entirely to monotonic_seq (FIFO).
func (w *Worker) EnqueueSummary(path string) {
	w.mu.Lock()
	w.sumQ.push(0, SummaryJob{Path: path})
	w.mu.Unlock()
	w.cond.Signal()
}

// Pause stops the loop from draining either queue until Resume is
// called. A paused worker holds no external resource beyond its
// internal locks (spec §4.8), so pausing is safe to do at any time,
// including mid-batch — the in-flight batch finishes first.
func (w *Worker) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// Resume wakes a paused worker.
func (w *Worker) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Stop requests the loop exit after its current iteration. In-flight
// items are allowed to finish (spec §4.8): Stop does not cancel ctx
// itself, it only clears the running flag Run checks at the top of
// each iteration and while waiting.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Run drives the worker loop until ctx is cancelled or Stop is called.
// It blocks the calling goroutine; callers run it with `go w.Run(ctx)`.
func (w *Worker) Run(ctx context.Context) {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	for {
		w.mu.Lock()
		for w.running && w.paused {
			w.cond.Wait()
		}
		if !w.running {
			w.mu.Unlock()
			return
		}
		embedBatch := w.drainEmbedLocked(BatchSize)
		var sumJob *SummaryJob
		if len(embedBatch) == 0 {
			if payload, ok := w.sumQ.pop(); ok {
				j := payload.(SummaryJob)
				sumJob = &j
			}
		}
		w.mu.Unlock()

		if len(embedBatch) == 0 && sumJob == nil {
			w.waitOrSleep(ctx)
			continue
		}

		if len(embedBatch) > 0 {
			w.runEmbedBatch(ctx, embedBatch)
		}
		if sumJob != nil {
			w.runSummary(ctx, *sumJob)
		}
	}
}

func (w *Worker) drainEmbedLocked(max int) []EmbedJob {
	var batch []EmbedJob
	for len(batch) < max {
		payload, ok := w.embedQ.pop()
		if !ok {
			break
		}
		batch = append(batch, payload.(EmbedJob))
	}
	return batch
}

// waitOrSleep blocks until work arrives, the worker is stopped, or a
// short idle interval elapses — whichever comes first. The idle sleep
// is what lets the loop notice ctx cancellation promptly even when no
// one ever signals the condition variable again.
func (w *Worker) waitOrSleep(ctx context.Context) {
	woke := make(chan struct{})
	go func() {
		w.mu.Lock()
		w.cond.Wait()
		w.mu.Unlock()
		close(woke)
	}()
	select {
	case <-woke:
	case <-time.After(idlePause):
		w.cond.Broadcast() // release the waiter goroutine above
		<-woke
	case <-ctx.Done():
		w.cond.Broadcast()
		<-woke
	}
}

// runEmbedBatch embeds every job's chunks and writes them into the
// vector index, then advances each file to pending_summary and enqueues
// its summary (spec §4.9 step 7). A job that fails is left exactly
// where it was — status stays pending_embedding and it is not
// re-enqueued here, matching spec §4.6's "transient ingestion failure"
// contract: the next watcher/scan pass will re-ingest and re-enqueue it.
func (w *Worker) runEmbedBatch(ctx context.Context, batch []EmbedJob) {
	for _, job := range batch {
		if len(job.Chunks) == 0 {
			continue
		}
		vectors, err := w.embed.Embed(ctx, job.Chunks)
		if err != nil {
			w.log.Warn("embedding batch failed", "path", job.Path, "error", err)
			continue
		}
		ids := make([]string, len(job.Chunks))
		for i := range job.Chunks {
			ids[i] = fmt.Sprintf("%s:chunk:%d", job.Path, i)
		}
		if err := w.vectors.Add(ctx, job.Path, ids, vectors, job.Chunks, job.Metadata); err != nil {
			w.log.Warn("writing vectors failed", "path", job.Path, "error", err)
			continue
		}
		if err := w.status.UpdateStatus(ctx, job.Path, statusPendingSummary); err != nil {
			w.log.Warn("updating status to pending_summary failed", "path", job.Path, "error", err)
			continue
		}
		w.EnqueueSummary(job.Path)
	}
}

// runSummary asks the model runtime for a one-sentence summary and
// records it (spec §4.9 step 8). Failure leaves the file
// pending_summary, which is harmless: summaries are cosmetic and never
// required for retrieval correctness (spec §4.9).
func (w *Worker) runSummary(ctx context.Context, job SummaryJob) {
	summary, err := w.summarize.Summarize(ctx, job.Path)
	if err != nil {
		w.log.Warn("summarization failed", "path", job.Path, "error", err)
		return
	}
	if err := w.status.UpdateSummary(ctx, job.Path, summary); err != nil {
		w.log.Warn("recording summary failed", "path", job.Path, "error", err)
	}
}
