// Package embedding implements the embedding provider capability (C6):
// batched, fixed-dimension, deterministic text embedding, backed by the
// model runtime client. Grounded on the teacher's llm.Provider.Embed
// contract, narrowed to the spec's single-method surface (spec §4.6).
package embedding

import (
	"context"

	"github.com/mohammad-wq/filegpt/internal/apperr"
)

// Client is the subset of modelclient.Client the embedder needs, kept
// as an interface so callers can substitute a fake in tests.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider wraps a model client with the fixed-dimension invariant the
// rest of the engine relies on.
type Provider struct {
	client Client
	dim    int
}

// New returns a Provider that rejects any batch whose vectors don't
// match dim.
func New(client Client, dim int) *Provider {
	return &Provider{client: client, dim: dim}
}

// Dim returns the embedding dimension this provider is configured for.
func (p *Provider) Dim() int { return p.dim }

// Embed returns one vector per text, each of length Dim(). A runtime
// failure is surfaced as KindEmbedding (spec §4.6: "the caller treats
// this as a transient ingestion failure and leaves the file in
// pending_embedding").
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := p.client.Embed(ctx, texts)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedding, "generating embeddings", err)
	}
	if len(vectors) != len(texts) {
		return nil, apperr.New(apperr.KindEmbedding, "embedding count did not match input count")
	}
	for _, v := range vectors {
		if len(v) != p.dim {
			return nil, apperr.New(apperr.KindEmbedding, "embedding dimension mismatch")
		}
	}
	return vectors, nil
}
