// Package memory is the single source of truth for long-term memory. Every
// Add passes a two-stage dedup protocol: an O(1) content-hash lookup catches
// verbatim repeats, a nearest-neighbor query against the vector index catches
// paraphrases within a configurable cosine distance threshold.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/recall/internal/fingerprint"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/vector"
)

// ErrEmbeddingUnavailable is returned when the embedding capability fails.
// Retryable: the caller may re-attempt the operation, nothing was mutated.
var ErrEmbeddingUnavailable = errors.New("embedding capability unavailable")

// Embedder is the external embedding capability.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Outcome reports how an Add resolved.
type Outcome string

const (
	OutcomeInserted          Outcome = "inserted"
	OutcomeDuplicateExact    Outcome = "duplicate_exact"
	OutcomeDuplicateSemantic Outcome = "duplicate_semantic"
)

// AddResult holds the outcome of one Add. ID is the new item's id for
// inserted outcomes, the existing item's id for duplicates. Distance is only
// meaningful for duplicate_semantic.
type AddResult struct {
	ID       string
	Outcome  Outcome
	Distance float64
}

// Item is one retrieval result with its cosine distance to the query.
type Item struct {
	ID       string
	Text     string
	Distance float64
	Metadata map[string]string
}

// Store composes durable item storage with the vector index.
type Store struct {
	storage   store.Storage
	index     *vector.Index
	embedder  Embedder
	threshold float64
}

// New creates a memory store. threshold is the cosine distance at or below
// which a new text is considered a semantic duplicate of its nearest stored
// neighbor.
func New(storage store.Storage, index *vector.Index, embedder Embedder, threshold float64) *Store {
	return &Store{
		storage:   storage,
		index:     index,
		embedder:  embedder,
		threshold: threshold,
	}
}

// Add runs the dedup protocol on text and inserts it if it survives both
// stages. The exact stage never calls the embedder, so verbatim repeats are
// cheap. Exact and semantic checks are sequential and short-circuiting.
func (s *Store) Add(ctx context.Context, text string, metadata map[string]string) (*AddResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("memory text must not be empty")
	}

	hash := fingerprint.Fingerprint(text)
	existing, err := s.storage.FindMemoryIDByHash(hash)
	if err != nil {
		return nil, fmt.Errorf("exact dedup lookup failed: %w", err)
	}
	if existing != "" {
		return &AddResult{ID: existing, Outcome: OutcomeDuplicateExact}, nil
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	neighbors, err := s.index.Query(ctx, embedding, 1)
	if err != nil {
		return nil, err
	}
	// Inclusive boundary: distance == threshold counts as duplicate.
	if len(neighbors) > 0 && neighbors[0].Distance <= s.threshold {
		return &AddResult{
			ID:       neighbors[0].ID,
			Outcome:  OutcomeDuplicateSemantic,
			Distance: neighbors[0].Distance,
		}, nil
	}

	item := &store.MemoryItem{
		ID:          uuid.NewString(),
		Text:        text,
		ContentHash: hash,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}
	winner, inserted, err := s.storage.InsertMemoryItem(item)
	if err != nil {
		return nil, fmt.Errorf("failed to persist memory item: %w", err)
	}
	if !inserted {
		// A concurrent Add with the same fingerprint won the race; the
		// unique constraint arbitrated, so report its item instead.
		return &AddResult{ID: winner, Outcome: OutcomeDuplicateExact}, nil
	}

	if err := s.index.Upsert(ctx, item.ID, embedding, metadata); err != nil {
		return nil, fmt.Errorf("failed to index memory item: %w", err)
	}
	return &AddResult{ID: item.ID, Outcome: OutcomeInserted}, nil
}

// Search embeds the query and returns up to k stored items by ascending
// cosine distance. A non-empty sessionFilter keeps only items tagged with
// that session id, preserving the distance ordering. Search never mutates
// state.
func (s *Store) Search(ctx context.Context, query string, k int, sessionFilter string) ([]Item, error) {
	if k <= 0 {
		return nil, nil
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	// With a session filter the post-filter result may shrink, so pull the
	// whole candidate set and trim after filtering.
	n := k
	if sessionFilter != "" {
		n = s.index.Count()
	}

	neighbors, err := s.index.Query(ctx, embedding, n)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, k)
	for _, nb := range neighbors {
		if sessionFilter != "" && nb.Metadata["session_id"] != sessionFilter {
			continue
		}
		stored, err := s.storage.GetMemoryItem(nb.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load memory item %s: %w", nb.ID, err)
		}
		items = append(items, Item{
			ID:       stored.ID,
			Text:     stored.Text,
			Distance: nb.Distance,
			Metadata: stored.Metadata,
		})
		if len(items) == k {
			break
		}
	}
	return items, nil
}

// Count returns the number of stored memory items.
func (s *Store) Count() (int, error) {
	return s.storage.CountMemoryItems()
}
