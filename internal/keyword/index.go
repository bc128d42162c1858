// Package keyword implements the in-memory BM25 keyword index (C4): the
// corpus lives as a list of chunk strings with parallel metadata,
// queried by lowercase/whitespace tokenisation, with scores normalised
// into [0,1] for fusion with the vector index (spec §4.4).
//
// The teacher relies on SQLite FTS5 for keyword search rather than a
// standalone scorer, so this package is grounded instead on the BM25
// index shapes surfaced across the retrieved pack — in particular the
// K1/B parameterisation and Save/Load persistence contract in
// Aman-CERP-amanmcp's store.BM25Index/BM25Config — reimplemented
// in-process with Go's standard BM25 term-saturation formula.
package keyword

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mohammad-wq/filegpt/internal/apperr"
)

// BM25 tuning parameters, the conventional defaults used across the
// pack's own BM25Config types.
const (
	k1 = 1.2
	b  = 0.75
)

// Result is one ranked hit: Score is positive and I is the index of the
// matching record at the time of the query (spec §4.4: "(score, i)").
type Result struct {
	Score float64
	I     int
}

type record struct {
	Path      string
	Text      string
	Metadata  map[string]string
	termFreq  map[string]int
	docLength int
}

// snapshot is the gob-serialisable on-disk form of the index.
type snapshot struct {
	Records []snapshotRecord
}

type snapshotRecord struct {
	Path     string
	Text     string
	Metadata map[string]string
}

// Index is an in-memory BM25 keyword index over chunk text, guarded by
// a single lock (spec describes no concurrent-reader requirement beyond
// safety).
type Index struct {
	mu           sync.Mutex
	records      []record
	docFreq      map[string]int // term -> number of records containing it
	totalLength  int
	snapshotPath string
}

// Open loads path if it exists and is a valid snapshot; on a missing or
// corrupt snapshot it starts empty and lets re-indexing repopulate it
// (spec §4.4 "on corruption, rebuild empty").
func Open(path string) (*Index, error) {
	idx := &Index{
		docFreq:      make(map[string]int),
		snapshotPath: path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return idx, nil
	}

	var snap snapshot
	if err := decodeSnapshot(data, &snap); err != nil {
		return idx, nil
	}
	for _, r := range snap.Records {
		idx.insertLocked(r.Path, r.Text, r.Metadata)
	}
	return idx, nil
}

// tokenize lowercases and splits on whitespace (spec §4.4).
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// AddChunks replaces path's existing entries with chunks/metadata, then
// persists a snapshot.
func (idx *Index) AddChunks(path string, chunks []string, metadata []map[string]string) error {
	idx.mu.Lock()
	idx.deleteLocked(path)
	for i, c := range chunks {
		var m map[string]string
		if i < len(metadata) {
			m = metadata[i]
		}
		idx.insertLocked(path, c, m)
	}
	idx.mu.Unlock()
	return idx.persist()
}

// Delete removes every record for path, then persists a snapshot.
func (idx *Index) Delete(path string) error {
	idx.mu.Lock()
	idx.deleteLocked(path)
	idx.mu.Unlock()
	return idx.persist()
}

func (idx *Index) insertLocked(path, text string, metadata map[string]string) {
	terms := tokenize(text)
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	for t := range tf {
		idx.docFreq[t]++
	}
	idx.records = append(idx.records, record{
		Path:      path,
		Text:      text,
		Metadata:  metadata,
		termFreq:  tf,
		docLength: len(terms),
	})
	idx.totalLength += len(terms)
}

func (idx *Index) deleteLocked(path string) {
	kept := idx.records[:0]
	for _, r := range idx.records {
		if r.Path == path {
			for t := range r.termFreq {
				idx.docFreq[t]--
				if idx.docFreq[t] <= 0 {
					delete(idx.docFreq, t)
				}
			}
			idx.totalLength -= r.docLength
			continue
		}
		kept = append(kept, r)
	}
	idx.records = kept
}

// Query returns the top-k (score, i) matches for text, scores
// normalised into [0,1] by dividing by the maximum returned score
// (spec §4.4). Returns nil if nothing matches.
func (idx *Index) Query(text string, k int) []Result {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := len(idx.records)
	if n == 0 {
		return nil
	}
	avgDocLen := float64(idx.totalLength) / float64(n)
	if avgDocLen == 0 {
		avgDocLen = 1
	}

	terms := tokenize(text)
	if len(terms) == 0 {
		return nil
	}

	scores := make([]float64, n)
	for _, term := range terms {
		df := idx.docFreq[term]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
		for i, r := range idx.records {
			tf := r.termFreq[term]
			if tf == 0 {
				continue
			}
			denom := float64(tf) + k1*(1-b+b*float64(r.docLength)/avgDocLen)
			scores[i] += idf * (float64(tf) * (k1 + 1)) / denom
		}
	}

	var results []Result
	for i, s := range scores {
		if s > 0 {
			results = append(results, Result{Score: s, I: i})
		}
	}
	sortResultsDescending(results)

	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return normalize(results)
}

// normalize divides every score by the maximum so fused results live in
// [0,1] (spec §4.4).
func normalize(results []Result) []Result {
	if len(results) == 0 {
		return results
	}
	max := results[0].Score
	for _, r := range results {
		if r.Score > max {
			max = r.Score
		}
	}
	if max <= 0 {
		return results
	}
	for i := range results {
		results[i].Score /= max
	}
	return results
}

func sortResultsDescending(results []Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// Record returns the record at position i, as returned by Query.
func (idx *Index) Record(i int) (path, text string, metadata map[string]string, ok bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if i < 0 || i >= len(idx.records) {
		return "", "", nil, false
	}
	r := idx.records[i]
	return r.Path, r.Text, r.Metadata, true
}

// persist atomically rewrites the on-disk snapshot: write to a temp
// file in the same directory, then rename, so a crash mid-write never
// leaves a corrupt file in place (spec §4.4).
func (idx *Index) persist() error {
	idx.mu.Lock()
	snap := snapshot{Records: make([]snapshotRecord, 0, len(idx.records))}
	for _, r := range idx.records {
		snap.Records = append(snap.Records, snapshotRecord{Path: r.Path, Text: r.Text, Metadata: r.Metadata})
	}
	idx.mu.Unlock()

	if idx.snapshotPath == "" {
		return nil
	}

	data, err := encodeSnapshot(snap)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "encoding keyword snapshot", err)
	}

	dir := filepath.Dir(idx.snapshotPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindStorage, "creating keyword snapshot directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".keyword-snapshot-*")
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "creating keyword snapshot temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperr.Wrap(apperr.KindStorage, "writing keyword snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.Wrap(apperr.KindStorage, "closing keyword snapshot temp file", err)
	}
	if err := os.Rename(tmpPath, idx.snapshotPath); err != nil {
		os.Remove(tmpPath)
		return apperr.Wrap(apperr.KindStorage, "renaming keyword snapshot into place", err)
	}
	return nil
}
