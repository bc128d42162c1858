//go:build cgo

package filegpt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer fakes just enough of an Ollama-compatible runtime for
// the engine to ingest, embed, and answer against: tag listing for
// health pings, deterministic embeddings keyed off input content, and a
// canned chat reply, mirroring the teacher's own warmModel/warmEmbedModel
// probes in goreason_integration_test.go but served locally instead of
// against a live runtime.
func newTestServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		embeddings := make([][]float64, len(req.Input))
		for i, text := range req.Input {
			vec := make([]float64, dim)
			for j := range vec {
				if strings.Contains(strings.ToLower(text), "merge") {
					vec[j] = 1
				}
			}
			embeddings[i] = vec
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "keep"}},
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()

	srv := newTestServer(t, embeddingDim)
	dataDir := t.TempDir()
	watchDir := t.TempDir()

	cfg := Config{
		DataDir:     dataDir,
		ModelHost:   srv.URL,
		ChatModel:   "test-chat",
		EmbedModel:  "test-embed",
		SessionMode: "memory",
		Listen:      ":0",
	}

	e, err := New(cfg, nil)
	require.NoError(t, err, "New")
	t.Cleanup(func() { e.Close() })
	return e, watchDir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAddFolderIndexesFilesAndSearchFindsThem(t *testing.T) {
	e, watchDir := newTestEngine(t)
	writeFile(t, watchDir, "mergesort.py", "def merge_sort(arr):\n    pass\n")
	writeFile(t, watchDir, "notes.txt", "grocery list\n")

	ctx := context.Background()
	indexed, err := e.AddFolder(ctx, watchDir)
	require.NoError(t, err)
	require.Equal(t, 2, indexed)

	results, err := e.Search(ctx, "merge sort", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results, "expected at least one search result for mergesort.py")

	var paths []string
	for _, r := range results {
		paths = append(paths, r.Path)
	}
	found := false
	for _, p := range paths {
		if strings.HasSuffix(p, "mergesort.py") {
			found = true
		}
	}
	assert.True(t, found, "expected mergesort.py among results: %v", paths)
}

func TestSearchSurfacesResultsBeforeWorkerDrains(t *testing.T) {
	e, watchDir := newTestEngine(t)
	writeFile(t, watchDir, "mergesort.py", "def merge_sort(arr):\n    pass\n")

	ctx := context.Background()
	_, err := e.AddFolder(ctx, watchDir)
	require.NoError(t, err)

	results, err := e.Search(ctx, "merge sort", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, results, "expected a result immediately after add_folder, before the worker embeds")
}

func TestAskRoutesSearchIntentThroughSearch(t *testing.T) {
	e, watchDir := newTestEngine(t)
	writeFile(t, watchDir, "mergesort.py", "def merge_sort(arr):\n    pass\n")

	ctx := context.Background()
	_, err := e.AddFolder(ctx, watchDir)
	require.NoError(t, err)

	result, err := e.Ask(ctx, "find my merge sort code", 5, "")
	require.NoError(t, err)
	assert.Equal(t, "search", result.Intent)
	assert.Equal(t, "search", result.ToolUsed)
	assert.NotEmpty(t, result.SessionID)
}

func TestAskRoutesChatIntentThroughModel(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.Ask(context.Background(), "hello there", 0, "")
	require.NoError(t, err)
	assert.Equal(t, "chat", result.Intent)
	assert.Equal(t, "keep", result.Answer)
}

func TestAskRAGReturnsAnswerWithSources(t *testing.T) {
	e, watchDir := newTestEngine(t)
	writeFile(t, watchDir, "mergesort.py", "def merge_sort(arr):\n    pass\n")

	ctx := context.Background()
	_, err := e.AddFolder(ctx, watchDir)
	require.NoError(t, err)

	result, err := e.AskRAG(ctx, "how does merge sort work", 5, "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Greater(t, result.GradingStats.Retrieved, 0, "expected grading stats to record at least one retrieved candidate")
}

func TestWatchedFoldersReflectsAddFolder(t *testing.T) {
	e, watchDir := newTestEngine(t)
	require.Empty(t, e.WatchedFolders())

	ctx := context.Background()
	_, err := e.AddFolder(ctx, watchDir)
	require.NoError(t, err)

	assert.Equal(t, []string{watchDir}, e.WatchedFolders())
}

func TestHealthStatusReflectsModelAvailability(t *testing.T) {
	e, _ := newTestEngine(t)

	status := e.HealthStatus()
	assert.Contains(t, []string{"healthy", ""}, string(status.State))
}

func TestStatsReportsCatalogTotals(t *testing.T) {
	e, watchDir := newTestEngine(t)
	writeFile(t, watchDir, "a.txt", "hello world")

	ctx := context.Background()
	_, err := e.AddFolder(ctx, watchDir)
	require.NoError(t, err)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Catalog.TotalFiles)
}

func TestRateLimitRejectsBurstOverLimit(t *testing.T) {
	e, _ := newTestEngine(t)

	var rejected bool
	for i := 0; i < 20; i++ {
		d := e.RateLimit("/search", "test-client")
		if !d.Allowed {
			rejected = true
			break
		}
	}
	assert.True(t, rejected, "expected the rate limiter to eventually reject a burst on /search")
}

func TestConfigFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("FILEGPT_CHAT_MODEL", "custom-model")
	t.Setenv("FILEGPT_SESSION_MODE", "memory")

	cfg := ConfigFromEnv(DefaultConfig())
	assert.Equal(t, "custom-model", cfg.ChatModel)
	assert.Equal(t, "memory", cfg.SessionMode)
}

func TestEngineStartAndCloseIsClean(t *testing.T) {
	e, watchDir := newTestEngine(t)
	e.cfg.WatchRoots = []string{watchDir}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, e.Start(ctx))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, e.Close())
}
