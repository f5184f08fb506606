package llm

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/ldip/storage"
)

// Adapter bridges the multi-provider Provider interface to the narrow
// storage.LLM/storage.Embedder surface the core domain packages consume.
// The rest of this package (the provider implementations, NewProvider's
// factory switch) is untouched: only the edge between "chat-style
// provider" and "single-shot generate/embed" needed adapting.
type Adapter struct {
	provider Provider
	model    string
}

func NewAdapter(provider Provider, model string) *Adapter {
	return &Adapter{provider: provider, model: model}
}

// Generate satisfies storage.LLM. schemaHint, when present, is appended to
// the prompt as a plain-text instruction rather than a provider-native
// JSON-mode request, since providers are free to ignore it (per
// storage.LLM's doc comment) and not every provider in this package
// supports response_format.
func (a *Adapter) Generate(ctx context.Context, prompt string, schemaHint string) (string, error) {
	if schemaHint != "" {
		prompt = fmt.Sprintf("%s\n\nRespond with JSON matching this shape: %s", prompt, schemaHint)
	}
	resp, err := a.provider.Chat(ctx, ChatRequest{
		Model:    a.model,
		Messages: []Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("llm adapter: generate: %w", err)
	}
	return resp.Content, nil
}

// Embed satisfies storage.Embedder over a provider's batch Embed call.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := a.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("llm adapter: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("llm adapter: embed: provider returned no vectors")
	}
	return vecs[0], nil
}

var (
	_ storage.LLM      = (*Adapter)(nil)
	_ storage.Embedder = (*Adapter)(nil)
)
