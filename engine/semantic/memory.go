package semantic

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is a brute-force cosine index with the same search contract as
// VectorStore. It backs tests and local development without a Qdrant.
type Memory struct {
	mu      sync.RWMutex
	records map[string]VectorRecord
	err     error
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]VectorRecord)}
}

// Fail makes every subsequent call return err; nil restores normal
// operation. Test hook for unavailable-index paths.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Len reports the number of stored points.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Upsert stores records, overwriting existing ids.
func (m *Memory) Upsert(_ context.Context, records []VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

// Health mirrors VectorStore.Health.
func (m *Memory) Health(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Search scores every stored point by cosine similarity, drops hidden and
// below-threshold points, and returns the top hits in descending score
// order. A zero threshold disables the cutoff. Ties break by id so results
// are deterministic.
func (m *Memory) Search(_ context.Context, embedding []float32, limit int, threshold float32) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	type scored struct {
		rec   VectorRecord
		score float32
	}
	hits := make([]scored, 0, len(m.records))
	for _, r := range m.records {
		if vis, ok := r.Payload["is_visible"].(bool); ok && !vis {
			continue
		}
		s := cosine(embedding, r.Embedding)
		if threshold > 0 && s < threshold {
			continue
		}
		hits = append(hits, scored{rec: r, score: s})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rec.ID < hits[j].rec.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]SearchResult, len(hits))
	for i, h := range hits {
		sr := SearchResult{ID: h.rec.ID, Score: h.score, Meta: make(map[string]string)}
		for k, val := range h.rec.Payload {
			s, ok := val.(string)
			if !ok {
				continue
			}
			switch k {
			case "answer":
				sr.Answer = s
			case "answer_id":
				sr.AnswerID = s
			case "source":
				sr.Source = s
			default:
				sr.Meta[k] = s
			}
		}
		results[i] = sr
	}
	return results, nil
}

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
