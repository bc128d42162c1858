// Package worker implements the background worker (C8): two priority
// queues feeding a single cooperative worker loop that turns freshly
// chunked files into vector entries and, later, one-sentence summaries.
//
// Grounded on the two-queue priority/FIFO semantics of
// backend/services/background_worker.py (original_source) and on
// container/heap usage in
// other_examples/72206c2b_NebulousLabs-Sia__modules-renter-uploadheap.go.go's
// uploadChunkHeap: a heap.Interface slice with a monotonic tie-breaking
// sequence standing in for Sia's pieces-completed ratio. The queues do
// not de-duplicate: the same path can be queued more than once for the
// same stage.
package worker

import "container/heap"

// EmbedJob is one unit of work for Q_embed: a file's freshly produced
// chunks, waiting to be embedded and written into the vector index.
type EmbedJob struct {
	Path     string
	Chunks   []string
	Metadata []string
}

// SummaryJob is one unit of work for Q_summarize: a file whose vectors
// are in place and which now needs a one-sentence summary.
type SummaryJob struct {
	Path string
}

// item is one heap entry: a payload plus the ordering fields spec §4.8
// requires — priority (smaller wins), then monotonic_seq to break ties
// and guarantee FIFO within a priority level.
type item struct {
	priority int
	seq      int64
	payload  any
}

// priorityHeap implements heap.Interface exactly as uploadChunkHeap
// does, swapping Sia's pieces-completed ratio for the (priority, seq)
// pair spec §4.8 specifies.
type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// queue is a mutex-free priority queue; callers (the Worker) hold the
// lock. Not exported: the worker package is the only consumer.
type queue struct {
	heap priorityHeap
	seq  int64
}

func newQueue() *queue {
	q := &queue{}
	heap.Init(&q.heap)
	return q
}

func (q *queue) push(priority int, payload any) {
	q.seq++
	heap.Push(&q.heap, &item{priority: priority, seq: q.seq, payload: payload})
}

func (q *queue) pop() (any, bool) {
	if q.heap.Len() == 0 {
		return nil, false
	}
	it := heap.Pop(&q.heap).(*item)
	return it.payload, true
}

func (q *queue) len() int { return q.heap.Len() }
