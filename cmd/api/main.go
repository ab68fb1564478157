// Package main implements the Alma question answering API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/AlmaAI/alma-mvp/engine/domain"
	"github.com/AlmaAI/alma-mvp/engine/search"
	"github.com/AlmaAI/alma-mvp/engine/semantic"
	"github.com/AlmaAI/alma-mvp/pkg/metrics"
	"github.com/AlmaAI/alma-mvp/pkg/mid"
	"github.com/AlmaAI/alma-mvp/pkg/ollama"
)

// version is stamped at build time via -ldflags.
var version = "dev"

const vectorDims = 768 // nomic-embed-text

var met = metrics.New()

var (
	mSearches     = met.Counter("alma_api_searches_total", "Search requests answered")
	mSearchErrors = func(code string) *metrics.Counter { return met.Counter(metrics.WithLabels("alma_api_search_errors_total", "code", code), "Search requests failed") }
	mSearchDur    = met.Histogram("alma_api_search_duration_seconds", "Search request latency", nil)
	mEmbedderUp   = met.Gauge("alma_api_embedder_up", "1 when the embedder self-test passed")
)

// Config holds all environment-based configuration.
type Config struct {
	Host       string
	Port       string
	QdrantAddr string
	Collection string
	OllamaURL  string
	EmbedModel string
	CORSOrigin string
}

func loadConfig() Config {
	return Config{
		Host:       envOr("API_HOST", "0.0.0.0"),
		Port:       envOr("API_PORT", "8001"),
		QdrantAddr: envOr("QDRANT_ADDR", "localhost:6334"),
		Collection: envOr("QDRANT_COLLECTION", "alma_qa"),
		OllamaURL:  envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel: envOr("EMBED_MODEL", "nomic-embed-text"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Qdrant ---
	store, err := semantic.New(cfg.QdrantAddr, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()
	if err := store.EnsureCollection(ctx, vectorDims); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	if n, err := store.Count(ctx); err == nil && n == 0 {
		logger.Warn("collection is empty, run the ingest tool", "collection", cfg.Collection)
	}

	// --- Ollama embedder + search service ---
	embedder := ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel)
	svc := search.New(embedder, store, search.DefaultOptions(), logger)

	health := &healthState{index: store, model: cfg.EmbedModel}
	go health.probeEmbedder(ctx, embedder, logger)

	met.CollectRuntime("alma_api", 15*time.Second)

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", handleHealth(health))
	mux.HandleFunc("POST /v1/search", handleSearch(svc, logger))
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("alma-api"),
	)

	srv := &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", srv.Addr, "collection", cfg.Collection)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Health ---

// indexHealth is the slice of the vector store the health endpoint needs.
type indexHealth interface {
	Health(ctx context.Context) error
	Count(ctx context.Context) (uint64, error)
	Collection() string
}

// healthState tracks collaborator liveness for GET /v1/health. The embedder
// flag starts false and flips once the startup self-test passes.
type healthState struct {
	index      indexHealth
	model      string
	embedderOK atomic.Bool
}

// probeEmbedder retries until the model answers, so an embedder that comes
// up after the server still clears the degraded state.
func (h *healthState) probeEmbedder(ctx context.Context, embedder *ollama.EmbedClient, logger *slog.Logger) {
	for {
		dims, err := embedder.Dimension(ctx)
		if err == nil {
			if dims != vectorDims {
				logger.Warn("embedder dimension mismatch", "got", dims, "want", vectorDims)
			}
			h.embedderOK.Store(true)
			mEmbedderUp.Set(1)
			logger.Info("embedder self-test passed", "model", h.model, "dims", dims)
			return
		}
		mEmbedderUp.Set(0)
		logger.Warn("embedder self-test failed", "model", h.model, "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(30 * time.Second):
		}
	}
}

// healthResponse is the JSON response for GET /v1/health.
type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Model       string `json:"model"`
	IndexStatus string `json:"index_status"`
	Collection  string `json:"collection"`
	Points      uint64 `json:"points"`
}

func handleHealth(h *healthState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:      "healthy",
			Version:     version,
			Model:       h.model,
			IndexStatus: "green",
			Collection:  h.index.Collection(),
		}
		code := http.StatusOK
		if err := h.index.Health(r.Context()); err != nil {
			resp.Status = "unavailable"
			resp.IndexStatus = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			if n, err := h.index.Count(r.Context()); err == nil {
				resp.Points = n
			}
			if !h.embedderOK.Load() {
				resp.Status = "degraded"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}
}

// --- Search ---

// searcher is implemented by *search.Service.
type searcher interface {
	Search(ctx context.Context, q domain.SearchQuery) ([]search.Match, error)
}

// searchRequest is the JSON body for POST /v1/search. A missing threshold
// falls back to the domain default; an explicit 0 disables score filtering.
type searchRequest struct {
	Question  string   `json:"question"`
	Limit     int      `json:"limit"`
	Threshold *float32 `json:"threshold"`
}

// searchResponse is the JSON response for POST /v1/search.
type searchResponse struct {
	Query      string         `json:"query"`
	TotalFound int            `json:"total_found"`
	Results    []search.Match `json:"results"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func handleSearch(svc searcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "invalid request body")
			return
		}

		q := domain.SearchQuery{
			Text:      req.Question,
			Limit:     req.Limit,
			Threshold: domain.DefaultScoreThreshold,
		}
		if req.Threshold != nil {
			q.Threshold = *req.Threshold
		}

		start := time.Now()
		matches, err := svc.Search(r.Context(), q)
		mSearchDur.Since(start)
		if err != nil {
			status, code := errorStatus(err)
			msg := "internal error"
			switch code {
			case "invalid_argument":
				msg = err.Error()
			case "unavailable":
				msg = "vector index unavailable"
				logger.Warn("search degraded", "err", err)
			default:
				logger.Error("search failed", "err", err)
			}
			mSearchErrors(code).Inc()
			writeError(w, status, code, msg)
			return
		}

		mSearches.Inc()
		if matches == nil {
			matches = []search.Match{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(searchResponse{
			Query:      req.Question,
			TotalFound: len(matches),
			Results:    matches,
		})
	}
}

// errorStatus maps domain sentinels to an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
