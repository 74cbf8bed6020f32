package provider

import (
	"context"
	"hash/fnv"
	"sync"
)

// StubProvider is a scriptable provider for testing. Chat consumes the
// scripted responses in order and falls back to Default once the script is
// exhausted. Embeddings are deterministic: fixed vectors from Embeddings
// when present, otherwise a hash-derived vector, so identical texts always
// embed identically.
type StubProvider struct {
	Responses  []Response
	Default    Response
	ChatErr    error
	EmbedErr   error
	Embeddings map[string][]float32
	Dim        int

	mu        sync.Mutex
	ChatCalls int
}

func NewStubProvider() *StubProvider {
	return &StubProvider{
		Default: Response{Content: `{"type":"final","answer":"done"}`},
		Dim:     8,
	}
}

func (m *StubProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.ChatCalls++
	if m.ChatErr != nil {
		return nil, m.ChatErr
	}

	if len(m.Responses) == 0 {
		resp := m.Default
		return &resp, nil
	}
	resp := m.Responses[0]
	m.Responses = m.Responses[1:]
	return &resp, nil
}

func (m *StubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	if v, ok := m.Embeddings[text]; ok {
		return v, nil
	}

	dim := m.Dim
	if dim <= 0 {
		dim = 8
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33))/float32(1<<31) + 0.5
	}
	return vec, nil
}

func (m *StubProvider) Name() string {
	return "stub"
}
