// Package vector provides the nearest-neighbor index behind long-term
// memory. It wraps chromem-go, an embedded pure-Go vector database, and
// layers on the guarantees the memory store relies on: a fixed embedding
// dimensionality, cosine distances in ascending order, and deterministic
// tie-breaking by insertion order.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// ErrDimensionMismatch signals configuration drift between stored and
// queried embeddings. Callers must treat it as fatal, not skip it.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

const collectionName = "memories"

// seqKey holds the insertion counter used to break distance ties.
const seqKey = "seq"

// Entry is one nearest-neighbor result.
type Entry struct {
	ID       string
	Distance float64
	Metadata map[string]string
}

// Index stores (embedding, metadata) pairs and answers k-nearest-neighbor
// queries under cosine distance. The dimensionality is fixed at creation
// or, when created with dim 0, by the first Upsert.
type Index struct {
	mu  sync.Mutex
	col *chromem.Collection
	dim int
	seq uint64
}

// New opens a persistent index rooted at path. Vectors survive process
// restarts. A dim of 0 defers dimension fixing to the first Upsert.
func New(path string, dim int) (*Index, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector db: %w", err)
	}
	return newIndex(db, dim)
}

// NewEphemeral creates an in-memory index, used by tests.
func NewEphemeral(dim int) (*Index, error) {
	return newIndex(chromem.NewDB(), dim)
}

func newIndex(db *chromem.DB, dim int) (*Index, error) {
	// No embedding func: callers always supply embeddings themselves.
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return &Index{
		col: col,
		dim: dim,
		// Nanosecond seed keeps insertion order monotonic across restarts.
		seq: uint64(time.Now().UnixNano()),
	}, nil
}

// Upsert inserts or replaces the embedding stored under id.
func (ix *Index) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.checkDim(embedding); err != nil {
		return err
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	ix.seq++
	meta[seqKey] = strconv.FormatUint(ix.seq, 10)

	doc := chromem.Document{
		ID:        id,
		Embedding: embedding,
		Metadata:  meta,
	}
	if err := ix.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}
	return nil
}

// Query returns up to k nearest neighbors by cosine distance, ascending,
// ties broken by insertion order (earlier wins). The result is a finite
// slice sized min(k, count).
func (ix *Index) Query(ctx context.Context, embedding []float32, k int) ([]Entry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.checkDim(embedding); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	count := ix.col.Count()
	if count == 0 {
		return nil, nil
	}

	// Fetch with headroom so equal-distance neighbors at the cutoff are
	// re-ranked by insertion order before truncation.
	n := k * 2
	if n > count {
		n = count
	}

	results, err := ix.col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	entries := make([]Entry, 0, len(results))
	for _, res := range results {
		entries = append(entries, Entry{
			ID:       res.ID,
			Distance: 1 - float64(res.Similarity),
			Metadata: res.Metadata,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Distance != entries[j].Distance {
			return entries[i].Distance < entries[j].Distance
		}
		return seqOf(entries[i]) < seqOf(entries[j])
	})

	if len(entries) > k {
		entries = entries[:k]
	}
	return entries, nil
}

// Delete removes the embedding stored under id. Deleting an absent id is
// a no-op.
func (ix *Index) Delete(ctx context.Context, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.col.Count() == 0 {
		return nil
	}
	if err := ix.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// Count returns the number of stored embeddings.
func (ix *Index) Count() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.col.Count()
}

// Dimensions returns the fixed dimensionality, or 0 if not yet fixed.
func (ix *Index) Dimensions() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.dim
}

func (ix *Index) checkDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrDimensionMismatch)
	}
	if ix.dim == 0 {
		ix.dim = len(embedding)
		return nil
	}
	if len(embedding) != ix.dim {
		return fmt.Errorf("%w: index has %d dimensions, got %d", ErrDimensionMismatch, ix.dim, len(embedding))
	}
	return nil
}

func seqOf(e Entry) uint64 {
	n, _ := strconv.ParseUint(e.Metadata[seqKey], 10, 64)
	return n
}
