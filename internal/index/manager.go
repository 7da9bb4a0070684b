// Package index owns one embedding index per document: building,
// rebuilding, searching, and destroying it.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"tenderlens/internal/model"
)

// ErrIndexMissing is returned when a document has no built index. Retrieval
// treats it as zero contribution, not a failure.
var ErrIndexMissing = errors.New("vector index missing")

// Providers often cap embedding batch sizes; build calls stay under the cap.
const embeddingBatchSize = 10

// Embedder encodes chunk texts. The same collaborator encodes queries so
// distances are comparable.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkStore persists a document's chunks. Implemented by
// repository.ChunkRepository.
type ChunkStore interface {
	ReplaceForDocument(documentID uint, chunks []model.Chunk) error
	ListByDocumentID(documentID uint) ([]model.Chunk, error)
	DeleteByDocumentID(documentID uint) error
}

// PageStore supplies the normalized pages an index is built from when no
// persisted chunks exist. Implemented by repository.PageRepository.
type PageStore interface {
	ListByDocumentID(documentID uint) ([]model.DocumentPage, error)
}

// Hit is one search result with its raw distance.
type Hit struct {
	DocumentID uint
	PageNumber int
	Content    string
	Distance   float64
}

type indexedChunk struct {
	pageNumber int
	content    string
	vector     []float32
}

type docIndex struct {
	chunks []indexedChunk
}

// Manager maps document ids to their published index. Rebuilds stage a
// complete replacement and swap the pointer under the write lock, so
// readers observe either the old index or the new one, never a partial
// state.
type Manager struct {
	mu       sync.RWMutex
	indices  map[uint]*docIndex
	store    ChunkStore
	pages    PageStore
	embedder Embedder
}

func NewManager(store ChunkStore, pages PageStore, embedder Embedder) *Manager {
	return &Manager{
		indices:  make(map[uint]*docIndex),
		store:    store,
		pages:    pages,
		embedder: embedder,
	}
}

// Build chunks the normalized pages (one chunk per non-empty page), embeds
// them, persists the chunk rows, and publishes the new index. Returns the
// number of chunks indexed.
func (m *Manager) Build(ctx context.Context, documentID uint, pages []model.DocumentPage) (int, error) {
	var texts []string
	var pageNumbers []int
	for _, page := range pages {
		if strings.TrimSpace(page.Text) == "" {
			continue
		}
		texts = append(texts, page.Text)
		pageNumbers = append(pageNumbers, page.PageNumber)
	}
	if len(texts) == 0 {
		return 0, fmt.Errorf("document %d has no indexable text", documentID)
	}

	var vectors [][]float32
	for start := 0; start < len(texts); start += embeddingBatchSize {
		end := start + embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := m.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return 0, fmt.Errorf("embed chunks failed: %w", err)
		}
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("embedding count mismatch: %d vectors for %d chunks", len(vectors), len(texts))
	}

	staged := &docIndex{chunks: make([]indexedChunk, len(texts))}
	rows := make([]model.Chunk, len(texts))
	for i := range texts {
		staged.chunks[i] = indexedChunk{
			pageNumber: pageNumbers[i],
			content:    texts[i],
			vector:     vectors[i],
		}
		rows[i] = model.Chunk{
			DocumentID: documentID,
			PageNumber: pageNumbers[i],
			Content:    texts[i],
		}
		rows[i].SetEmbedding(vectors[i])
	}

	if err := m.store.ReplaceForDocument(documentID, rows); err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.indices[documentID] = staged
	m.mu.Unlock()

	return len(texts), nil
}

// Drop destroys the document's index: persisted chunks and the published
// in-memory copy.
func (m *Manager) Drop(documentID uint) error {
	if err := m.store.DeleteByDocumentID(documentID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.indices, documentID)
	m.mu.Unlock()
	return nil
}

// Search returns the k nearest chunks by Euclidean distance, ascending. An
// index not in memory is loaded lazily from the chunk store, or built from
// the document's persisted pages when no chunks exist yet; a document with
// no indexable text yields ErrIndexMissing.
func (m *Manager) Search(ctx context.Context, documentID uint, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}

	idx, err := m.published(ctx, documentID)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(idx.chunks))
	for _, chunk := range idx.chunks {
		hits = append(hits, Hit{
			DocumentID: documentID,
			PageNumber: chunk.pageNumber,
			Content:    chunk.content,
			Distance:   euclideanDistance(query, chunk.vector),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].PageNumber < hits[j].PageNumber
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

func (m *Manager) published(ctx context.Context, documentID uint) (*docIndex, error) {
	m.mu.RLock()
	idx, ok := m.indices[documentID]
	m.mu.RUnlock()
	if ok {
		return idx, nil
	}

	chunks, err := m.store.ListByDocumentID(documentID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return m.buildFromPages(ctx, documentID)
	}

	loaded := &docIndex{chunks: make([]indexedChunk, 0, len(chunks))}
	for _, c := range chunks {
		loaded.chunks = append(loaded.chunks, indexedChunk{
			pageNumber: c.PageNumber,
			content:    c.Content,
			vector:     c.EmbeddingVector(),
		})
	}

	m.mu.Lock()
	// Another goroutine may have loaded or rebuilt meanwhile; its copy wins.
	if current, ok := m.indices[documentID]; ok {
		m.mu.Unlock()
		return current, nil
	}
	m.indices[documentID] = loaded
	m.mu.Unlock()
	return loaded, nil
}

// buildFromPages covers documents whose upload-time build never happened or
// failed: the pages survived, so the first search after the embedding
// provider recovers builds the index it needs.
func (m *Manager) buildFromPages(ctx context.Context, documentID uint) (*docIndex, error) {
	pages, err := m.pages.ListByDocumentID(documentID)
	if err != nil {
		return nil, err
	}
	indexable := false
	for _, page := range pages {
		if strings.TrimSpace(page.Text) != "" {
			indexable = true
			break
		}
	}
	if !indexable {
		return nil, ErrIndexMissing
	}

	if _, err := m.Build(ctx, documentID, pages); err != nil {
		return nil, fmt.Errorf("build index for document %d failed: %w", documentID, err)
	}

	m.mu.RLock()
	idx := m.indices[documentID]
	m.mu.RUnlock()
	if idx == nil {
		return nil, ErrIndexMissing
	}
	return idx, nil
}

func euclideanDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	// Dimension mismatches treat missing components as zero.
	for i := n; i < len(a); i++ {
		sum += float64(a[i]) * float64(a[i])
	}
	for i := n; i < len(b); i++ {
		sum += float64(b[i]) * float64(b[i])
	}
	return math.Sqrt(sum)
}
