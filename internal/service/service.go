// Package service is the boundary consumed by presentation layers. It
// validates requests, owns run identifiers and delegates to the step loop,
// the memory store and session storage.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/recall/internal/agent"
	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/runlog"
	"github.com/felixgeelhaar/recall/internal/store"
)

// ErrValidation flags malformed input. No state is mutated when it is
// returned.
var ErrValidation = errors.New("validation error")

// QueryRequest is one agent query.
type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	Remember  *bool  `json:"remember,omitempty"` // nil defaults to true
	MaxSteps  int    `json:"max_steps,omitempty"`
}

// QueryResponse carries the answer plus the run's observability surface.
type QueryResponse struct {
	Answer    string                 `json:"answer"`
	SessionID string                 `json:"session_id"`
	RunID     string                 `json:"run_id"`
	Meta      map[string]interface{} `json:"meta"`
	Memories  []MemoryHit            `json:"memories"`
	DebugLog  string                 `json:"debug_log"`
}

// MemoryHit is one retrieved memory with its distance to the query.
type MemoryHit struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Distance float64           `json:"distance"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AddMemoryResponse reports the dedup outcome of a direct memory add.
type AddMemoryResponse struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

// Service exposes the core operations.
type Service struct {
	storage store.Storage
	memory  *memory.Store
	loop    *agent.Loop
	sink    *runlog.Sink
	observe *observe.Observer
}

func New(storage store.Storage, mem *memory.Store, loop *agent.Loop, sink *runlog.Sink, obs *observe.Observer) *Service {
	return &Service{
		storage: storage,
		memory:  mem,
		loop:    loop,
		sink:    sink,
		observe: obs,
	}
}

// Query runs the step loop for one query. A failed run still returns the
// response: the answer is error-flagged and the partial run log is
// available under the returned run id.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrValidation)
	}
	if req.MaxSteps < 0 {
		return nil, fmt.Errorf("%w: max_steps must not be negative", ErrValidation)
	}

	remember := true
	if req.Remember != nil {
		remember = *req.Remember
	}

	runID := uuid.NewString()
	t0 := time.Now()
	res, runErr := s.loop.Run(ctx, agent.Request{
		Query:     req.Query,
		SessionID: req.SessionID,
		RunID:     runID,
		Remember:  remember,
		MaxSteps:  req.MaxSteps,
	})
	if res == nil {
		return nil, runErr
	}

	meta := res.Meta
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["state"] = string(res.State)
	meta["timings_total_s"] = time.Since(t0).Seconds()

	hits := make([]MemoryHit, 0, len(res.Memories))
	for _, m := range res.Memories {
		hits = append(hits, MemoryHit{ID: m.ID, Text: m.Text, Distance: m.Distance, Metadata: m.Metadata})
	}

	resp := &QueryResponse{
		Answer:    res.Answer,
		SessionID: res.SessionID,
		RunID:     res.RunID,
		Meta:      meta,
		Memories:  hits,
		DebugLog:  res.DebugLog,
	}
	if runErr != nil && res.State == agent.StateFailed {
		// Partial progress is already persisted; surface it alongside the
		// error so pollers can inspect the run.
		return resp, runErr
	}
	return resp, runErr
}

// NewSession creates a session and returns its id.
func (s *Service) NewSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if _, err := s.storage.CreateSession(id); err != nil {
		return "", err
	}
	s.observe.Log().Info().Str("session", id).Msg("created session")
	return id, nil
}

// ListSessions returns up to limit sessions, most recent first.
func (s *Service) ListSessions(ctx context.Context, limit int) ([]*store.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.storage.ListSessions(limit)
}

// ListMessages returns the most recent limit messages of a session in
// chronological order.
func (s *Service) ListMessages(ctx context.Context, sessionID string, limit int) ([]*store.Message, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id must not be empty", ErrValidation)
	}
	return s.storage.ListMessages(sessionID, limit)
}

// AddMemory runs the full dedup protocol on one text.
func (s *Service) AddMemory(ctx context.Context, text string, metadata map[string]string) (*AddMemoryResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text must not be empty", ErrValidation)
	}
	res, err := s.memory.Add(ctx, text, metadata)
	if err != nil {
		return nil, err
	}
	return &AddMemoryResponse{ID: res.ID, Outcome: string(res.Outcome)}, nil
}

// SearchMemory returns up to k memories by ascending distance.
func (s *Service) SearchMemory(ctx context.Context, query string, k int, sessionFilter string) ([]MemoryHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrValidation)
	}
	if k <= 0 {
		k = 5
	}
	items, err := s.memory.Search(ctx, query, k, sessionFilter)
	if err != nil {
		return nil, err
	}
	hits := make([]MemoryHit, 0, len(items))
	for _, m := range items {
		hits = append(hits, MemoryHit{ID: m.ID, Text: m.Text, Distance: m.Distance, Metadata: m.Metadata})
	}
	return hits, nil
}

// TailRunLog returns the last maxBytes of a run's log. Unknown runs yield
// an empty string: polling before the run starts is expected.
func (s *Service) TailRunLog(ctx context.Context, runID string, maxBytes int) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("%w: run_id must not be empty", ErrValidation)
	}
	if maxBytes <= 0 {
		maxBytes = runlog.DefaultMaxBytes
	}
	return s.sink.Tail(runID, maxBytes), nil
}
