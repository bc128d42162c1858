// Package modelclient implements the model runtime client (C7): a thin
// HTTP client over a local, Ollama-compatible runtime exposing chat and
// batched embedding calls. Grounded on the teacher's llm/ollama.go and
// llm/openai_compat.go (chat via the OpenAI-compatible endpoint,
// embeddings via Ollama's native /api/embed for batching), narrowed
// from the teacher's multi-provider Provider interface to the single
// local runtime the spec names, and stripped of the teacher's internal
// retry loop — spec §4.7 is explicit that this client is never retried
// by its caller; retry policy belongs to the circuit breaker (§4.14).
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mohammad-wq/filegpt/internal/apperr"
)

// Message is one turn in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options configures a single chat call (spec §4.7).
type Options struct {
	Temperature   float64
	MaxTokens     int
	TopP          float64
	RepeatPenalty float64
}

// Config points the client at a running model runtime.
type Config struct {
	BaseURL string
	Model   string
}

// Client is a connection to a local Ollama-compatible runtime.
type Client struct {
	cfg  Config
	http *http.Client
}

// New returns a Client. BaseURL defaults to Ollama's standard local
// address, as the teacher's NewOllama does.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	// repeat_penalty is Ollama-specific and lives under an "options" object
	// on the native API; the OpenAI-compatible endpoint ignores it if the
	// runtime doesn't understand it, which is the behaviour we want: best
	// effort, never a hard failure.
	OllamaOptions *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends model/messages/options to the runtime's chat endpoint and
// returns the generated text (spec §4.7: "chat(model, messages,
// options) → text").
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts Options) (string, error) {
	if model == "" {
		model = c.cfg.Model
	}

	body := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
	}
	if opts.RepeatPenalty != 0 {
		body.OllamaOptions = &ollamaOptions{RepeatPenalty: opts.RepeatPenalty}
	}

	respBody, err := c.post(ctx, "/v1/chat/completions", body)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", apperr.Wrap(apperr.KindModelRuntime, "decoding chat response", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.KindModelRuntime, "model runtime returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed generates embeddings for a batch of texts via Ollama's native
// /api/embed endpoint (spec §4.6: "embed(texts) → vectors").
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := embedRequest{Model: c.cfg.Model, Input: texts}

	respBody, err := c.post(ctx, "/api/embed", body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedding, "embedding request failed", err)
	}

	var resp embedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedding, "decoding embed response", err)
	}

	result := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		result[i] = float64sToFloat32s(emb)
	}
	return result, nil
}

// Ping hits the runtime's tag-listing endpoint, the cheapest available
// call, so the health monitor (C14) can probe liveness without
// spending a real chat or embedding request.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "building health check request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindModelUnavailable, "model runtime unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperr.New(apperr.KindModelRuntime, fmt.Sprintf("model runtime health check returned %d", resp.StatusCode))
	}
	return nil
}

// post issues a single POST request and classifies the failure: a
// transport-level error (connection refused, DNS failure, timeout
// before any response) is Unavailable; a non-2xx HTTP response is
// RuntimeError (spec §4.7).
func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "encoding model request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "building model request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrap(apperr.KindModelUnavailable, "model runtime unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindModelUnavailable, "reading model runtime response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.New(apperr.KindModelRuntime, fmt.Sprintf("model runtime error %d: %s", resp.StatusCode, string(respBody)))
	}
	return respBody, nil
}

func float64sToFloat32s(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
