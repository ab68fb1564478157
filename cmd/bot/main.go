// Package main runs the Alma admissions bot on the MAX messenger platform.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AlmaAI/alma-mvp/cmd/bot/maxbot"
	"github.com/AlmaAI/alma-mvp/engine/search"
	"github.com/AlmaAI/alma-mvp/engine/semantic"
	"github.com/AlmaAI/alma-mvp/pkg/maxapi"
	"github.com/AlmaAI/alma-mvp/pkg/metrics"
	"github.com/AlmaAI/alma-mvp/pkg/ollama"
	"github.com/AlmaAI/alma-mvp/pkg/resilience"
)

const vectorDims = 768 // nomic-embed-text

// Config holds all environment-based configuration.
type Config struct {
	Token       string
	APIURL      string
	PollTimeout time.Duration
	PollLimit   int
	QdrantAddr  string
	Collection  string
	OllamaURL   string
	EmbedModel  string
	MetricsPort int
}

func loadConfig() (Config, error) {
	cfg := Config{
		Token:      os.Getenv("MAX_BOT_TOKEN"),
		APIURL:     envOr("MAX_API_URL", maxapi.DefaultBaseURL),
		QdrantAddr: envOr("QDRANT_ADDR", "localhost:6334"),
		Collection: envOr("QDRANT_COLLECTION", "alma_qa"),
		OllamaURL:  envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel: envOr("EMBED_MODEL", "nomic-embed-text"),
	}
	if cfg.Token == "" {
		return cfg, errors.New("MAX_BOT_TOKEN is required")
	}

	timeout, err := strconv.Atoi(envOr("MAX_POLLING_TIMEOUT", "30"))
	if err != nil {
		return cfg, fmt.Errorf("MAX_POLLING_TIMEOUT: %w", err)
	}
	cfg.PollTimeout = time.Duration(timeout) * time.Second

	if cfg.PollLimit, err = strconv.Atoi(envOr("MAX_POLLING_LIMIT", "100")); err != nil {
		return cfg, fmt.Errorf("MAX_POLLING_LIMIT: %w", err)
	}
	if cfg.MetricsPort, err = strconv.Atoi(envOr("METRICS_PORT", "9091")); err != nil {
		return cfg, fmt.Errorf("METRICS_PORT: %w", err)
	}
	return cfg, nil
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

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bot exited with error", "err", err)
		os.Exit(1)
	}
	logger.Info("bot stopped")
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met := metrics.New()
	met.CollectRuntime("alma_bot", 15*time.Second)
	met.ServeAsync(cfg.MetricsPort)

	// --- MAX client, verify the token before anything else ---
	client := maxapi.New(cfg.APIURL, cfg.Token)
	me, err := client.Me(ctx)
	if err != nil {
		return fmt.Errorf("max token check: %w", err)
	}
	logger.Info("bot authorized", "username", me.Username, "user_id", me.UserID)

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
		logger.Warn("collection is empty, the bot has nothing to answer from", "collection", cfg.Collection)
	}

	// --- Search service behind a circuit breaker ---
	embedder := ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel)
	go func() {
		if dims, err := embedder.Dimension(ctx); err != nil {
			logger.Warn("embedder self-test failed, continuing degraded", "err", err)
		} else if dims != vectorDims {
			logger.Warn("embedder dimension mismatch", "got", dims, "want", vectorDims)
		} else {
			logger.Info("embedder self-test passed", "dims", dims)
		}
	}()

	svc := search.New(embedder, store, search.DefaultOptions(), logger)
	breaker := resilience.NewBreaker(resilience.DefaultBreakerOpts)
	guarded := maxbot.GuardSearcher(svc, breaker)

	breakerState := met.Gauge("alma_bot_breaker_state", "Search breaker state (0 closed, 1 open, 2 half-open)")
	go func() {
		tick := time.NewTicker(5 * time.Second)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				breakerState.Set(int64(breaker.State()))
			}
		}
	}()

	botMet := maxbot.NewMetrics(met)
	handler := maxbot.NewHandler(client, guarded, logger, botMet)

	opts := maxbot.DefaultOptions()
	opts.Timeout = cfg.PollTimeout
	opts.Limit = cfg.PollLimit

	poller := maxbot.NewPoller(client, handler, opts, logger, botMet)
	logger.Info("bot polling", "timeout", opts.Timeout, "limit", opts.Limit, "collection", cfg.Collection)
	return poller.Run(ctx)
}
