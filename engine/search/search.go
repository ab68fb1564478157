// Package search orchestrates answer retrieval. It validates and clamps the
// incoming query, embeds the question, searches the vector index, and maps
// scored hits to ranked matches. Both user fronts share this one path.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AlmaAI/alma-mvp/engine/domain"
	"github.com/AlmaAI/alma-mvp/engine/semantic"
)

// Embedder turns a question into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index abstracts the vector index. Hits come back in index order:
// descending score, already thresholded.
type Index interface {
	Search(ctx context.Context, embedding []float32, limit int, threshold float32) ([]semantic.SearchResult, error)
}

// Options configures search behaviour.
type Options struct {
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{SearchTimeout: 5 * time.Second}
}

// Service is the retrieval orchestration service.
type Service struct {
	embed  Embedder
	index  Index
	opts   Options
	logger *slog.Logger
}

// New creates a search Service.
func New(embed Embedder, index Index, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions().SearchTimeout
	}
	return &Service{embed: embed, index: index, opts: opts, logger: logger}
}

// Match is one ranked answer.
type Match struct {
	Answer   string  `json:"answer"`
	AnswerID string  `json:"answer_id"`
	Score    float32 `json:"score"`
	Source   string  `json:"source,omitempty"`
}

// Search runs the retrieval pipeline for one question. An empty result is a
// valid outcome: it means nothing cleared the threshold.
func (s *Service) Search(ctx context.Context, q domain.SearchQuery) ([]Match, error) {
	if err := domain.ValidateQuestion(q.Text); err != nil {
		return nil, err
	}
	limit := domain.ClampLimit(q.Limit)
	threshold := domain.ClampThreshold(q.Threshold)

	s.logger.Info("search start", "question_len", len(q.Text), "limit", limit, "threshold", threshold)

	embedding, err := s.embed.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("search: embed question: %w: %v", domain.ErrEmbeddingFailed, err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	results, err := s.index.Search(searchCtx, embedding, limit, threshold)
	if err != nil {
		return nil, fmt.Errorf("search: query index: %w: %v", domain.ErrIndexUnavailable, err)
	}

	// The index already thresholds; still cut to the clamped limit in case
	// an implementation over-returns.
	if len(results) > limit {
		results = results[:limit]
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			Answer:   r.Answer,
			AnswerID: r.AnswerID,
			Score:    r.Score,
			Source:   r.Source,
		}
	}

	s.logger.Info("search done", "results", len(matches))
	return matches, nil
}
