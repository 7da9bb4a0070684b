// Package retrieval answers "which chunks support this question" across the
// documents attached to a chat session.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"tenderlens/internal/index"
)

// Embedder encodes the query with the same model that encoded the chunks.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the per-document index lookup. Implemented by *index.Manager.
type Searcher interface {
	Search(ctx context.Context, documentID uint, query []float32, k int) ([]index.Hit, error)
}

// Result is one retrieved chunk with its citation fields. Relevance maps the
// raw distance to a 0–100 score via round(100*exp(-distance)).
type Result struct {
	DocumentID uint    `json:"document_id"`
	PageNumber int     `json:"page_number"`
	Content    string  `json:"-"`
	Snippet    string  `json:"text_snippet"`
	Distance   float64 `json:"-"`
	Relevance  int     `json:"relevance_percent"`
}

type Engine struct {
	embedder   Embedder
	searcher   Searcher
	topK       int
	snippetLen int
}

func NewEngine(embedder Embedder, searcher Searcher, topK, snippetLen int) *Engine {
	if topK <= 0 {
		topK = 5
	}
	if snippetLen <= 0 {
		snippetLen = 200
	}
	return &Engine{
		embedder:   embedder,
		searcher:   searcher,
		topK:       topK,
		snippetLen: snippetLen,
	}
}

// Retrieve embeds the query once, searches every given document, and merges
// the per-document hits into one globally ranked top-k list. Ties on
// distance break by document id, then page number, so rankings are
// deterministic. Documents whose index does not exist contribute nothing;
// that is not an error.
func (e *Engine) Retrieve(ctx context.Context, query string, documentIDs []uint) ([]Result, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}
	return e.RetrieveWithVector(ctx, vector, documentIDs)
}

// RetrieveWithVector searches with an already-encoded query. Callers that
// need the query vector for other purposes embed once and pass it here.
func (e *Engine) RetrieveWithVector(ctx context.Context, vector []float32, documentIDs []uint) ([]Result, error) {
	if len(documentIDs) == 0 || len(vector) == 0 {
		return nil, nil
	}

	var merged []index.Hit
	for _, docID := range documentIDs {
		hits, err := e.searcher.Search(ctx, docID, vector, e.topK)
		if err != nil {
			if errors.Is(err, index.ErrIndexMissing) {
				continue
			}
			return nil, err
		}
		merged = append(merged, hits...)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Distance != merged[j].Distance {
			return merged[i].Distance < merged[j].Distance
		}
		if merged[i].DocumentID != merged[j].DocumentID {
			return merged[i].DocumentID < merged[j].DocumentID
		}
		return merged[i].PageNumber < merged[j].PageNumber
	})
	if len(merged) > e.topK {
		merged = merged[:e.topK]
	}

	results := make([]Result, len(merged))
	for i, hit := range merged {
		results[i] = Result{
			DocumentID: hit.DocumentID,
			PageNumber: hit.PageNumber,
			Content:    hit.Content,
			Snippet:    truncateRunes(hit.Content, e.snippetLen),
			Distance:   hit.Distance,
			Relevance:  RelevancePercent(hit.Distance),
		}
	}
	return results, nil
}

// RetrieveWithVectors searches with several encodings of the same question,
// e.g. the raw query plus a context-resolved reformulation, and merges the
// result sets. A chunk found by more than one encoding keeps its best
// distance; the merged list is re-ranked and capped at top-k.
func (e *Engine) RetrieveWithVectors(ctx context.Context, vectors [][]float32, documentIDs []uint) ([]Result, error) {
	type chunkKey struct {
		documentID uint
		pageNumber int
	}
	best := make(map[chunkKey]Result)
	for _, vector := range vectors {
		results, err := e.RetrieveWithVector(ctx, vector, documentIDs)
		if err != nil {
			return nil, err
		}
		for _, res := range results {
			key := chunkKey{documentID: res.DocumentID, pageNumber: res.PageNumber}
			if cur, ok := best[key]; !ok || res.Distance < cur.Distance {
				best[key] = res
			}
		}
	}
	if len(best) == 0 {
		return nil, nil
	}

	merged := make([]Result, 0, len(best))
	for _, res := range best {
		merged = append(merged, res)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Distance != merged[j].Distance {
			return merged[i].Distance < merged[j].Distance
		}
		if merged[i].DocumentID != merged[j].DocumentID {
			return merged[i].DocumentID < merged[j].DocumentID
		}
		return merged[i].PageNumber < merged[j].PageNumber
	})
	if len(merged) > e.topK {
		merged = merged[:e.topK]
	}
	return merged, nil
}

// RelevancePercent converts a raw Euclidean distance into the 0–100 score
// shown alongside citations. Distance 0 scores 100; the score decays
// exponentially and never goes negative.
func RelevancePercent(distance float64) int {
	return int(math.Round(100 * math.Exp(-distance)))
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
