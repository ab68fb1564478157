// Command search runs one retrieval query against the live index and prints
// the ranked answers. Operator tool for spot-checking ingested data.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/AlmaAI/alma-mvp/engine/domain"
	"github.com/AlmaAI/alma-mvp/engine/search"
	"github.com/AlmaAI/alma-mvp/engine/semantic"
	"github.com/AlmaAI/alma-mvp/pkg/ollama"
)

func main() {
	var (
		qdrantAddr = flag.String("qdrant", envOr("QDRANT_ADDR", "localhost:6334"), "Qdrant gRPC address")
		collection = flag.String("collection", envOr("QDRANT_COLLECTION", "alma_qa"), "Qdrant collection name")
		ollamaURL  = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		embedModel = flag.String("model", envOr("EMBED_MODEL", "nomic-embed-text"), "Ollama embedding model")
		limit      = flag.Int("limit", domain.DefaultSearchLimit, "max results")
		threshold  = flag.Float64("threshold", float64(domain.DefaultScoreThreshold), "min cosine score in [0,1]")
		timeout    = flag.Duration("timeout", 30*time.Second, "overall deadline")
	)
	flag.Parse()

	question := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if question == "" {
		fmt.Fprintln(os.Stderr, "usage: search [flags] <question>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	// Results go to stdout, diagnostics to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := semantic.New(*qdrantAddr, *collection)
	if err != nil {
		logger.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	embedder := ollama.NewEmbedClient(*ollamaURL, *embedModel)
	svc := search.New(embedder, store, search.DefaultOptions(), logger)

	matches, err := svc.Search(ctx, domain.SearchQuery{
		Text:      question,
		Limit:     *limit,
		Threshold: float32(*threshold),
	})
	if err != nil {
		logger.Error("search failed", "error", err)
		os.Exit(1)
	}

	if len(matches) == 0 {
		fmt.Println("no answers cleared the threshold")
		return
	}
	for i, m := range matches {
		fmt.Printf("%d. [%.3f] %s\n", i+1, m.Score, m.Answer)
		if m.Source != "" {
			fmt.Printf("   source: %s (answer %s)\n", m.Source, m.AnswerID)
		} else if m.AnswerID != "" {
			fmt.Printf("   answer: %s\n", m.AnswerID)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
