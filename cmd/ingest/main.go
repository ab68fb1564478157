// Command ingest loads semicolon-separated CSV files of curated
// question/answer pairs into Qdrant. It runs either one-shot over a single
// file or as a long-lived worker consuming ingestion jobs from NATS.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/AlmaAI/alma-mvp/engine/ingest"
	"github.com/AlmaAI/alma-mvp/engine/semantic"
	"github.com/AlmaAI/alma-mvp/pkg/metrics"
	"github.com/AlmaAI/alma-mvp/pkg/ollama"
	"github.com/AlmaAI/alma-mvp/pkg/resilience"
	"github.com/nats-io/nats.go"
)

var met = metrics.New()

var (
	mRunsTotal    = met.Counter("alma_ingest_runs_total", "Ingestion runs completed")
	mRowsParsed   = met.Counter("alma_ingest_rows_parsed_total", "CSV rows parsed")
	mRowsSkipped  = met.Counter("alma_ingest_rows_skipped_total", "CSV rows rejected at parse")
	mRowsUpserted = met.Counter("alma_ingest_rows_upserted_total", "Rows upserted into the index")
	mRowsFailed   = met.Counter("alma_ingest_rows_failed_total", "Rows lost to failed batches")
	mRunDur       = met.Histogram("alma_ingest_run_duration_seconds", "Whole-run duration", nil)
)

const vectorDims = 768 // nomic-embed-text

func main() {
	var (
		filePath    = flag.String("file", "", "semicolon-separated CSV of question/answer pairs")
		qdrantAddr  = flag.String("qdrant", envOr("QDRANT_ADDR", "localhost:6334"), "Qdrant gRPC address")
		collection  = flag.String("collection", envOr("QDRANT_COLLECTION", "alma_qa"), "Qdrant collection name")
		ollamaURL   = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		embedModel  = flag.String("model", envOr("EMBED_MODEL", "nomic-embed-text"), "Ollama embedding model")
		batchSize   = flag.Int("batch", ingest.DefaultBatchSize, "rows per embed/upsert batch")
		embedRPS    = flag.Float64("embed-rps", 2, "embed batches per second")
		source      = flag.String("source", "", "source label for rows without a source column")
		questionCol = flag.String("question-column", "question", "CSV column holding the question")
		answerCol   = flag.String("answer-column", "answer", "CSV column holding the answer")
		idCol       = flag.String("id-column", "id", "CSV column holding the answer id (optional)")
		listen      = flag.Bool("listen", false, "consume ingestion jobs from NATS instead of one file")
		natsURL     = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL (listen mode)")
		metricsPort = flag.Int("metrics-port", 9091, "Prometheus metrics port")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	met.CollectRuntime("alma_ingest", 15*time.Second)
	met.ServeAsync(*metricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Connect Qdrant
	vs, err := semantic.New(*qdrantAddr, *collection)
	if err != nil {
		logger.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vs.Close()
	if err := vs.EnsureCollection(ctx, vectorDims); err != nil {
		logger.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to Qdrant", "collection", *collection, "dims", vectorDims)

	// Ollama embedder
	embedder := ollama.NewEmbedClient(*ollamaURL, *embedModel)
	logger.Info("using Ollama embeddings", "model", *embedModel)

	deps := ingest.Deps{
		Embedder:   embedder,
		Index:      vs,
		Columns:    ingest.Columns{Question: *questionCol, Answer: *answerCol, ID: *idCol},
		Collection: *collection,
		Source:     *source,
		BatchSize:  *batchSize,
		Limiter:    resilience.NewLimiter(resilience.LimiterOpts{Rate: *embedRPS, Burst: 1}),
		Logger:     logger,
	}

	if *listen {
		runConsumer(ctx, deps, *natsURL, logger)
		return
	}

	if *filePath == "" {
		logger.Error("either -file or -listen is required")
		os.Exit(2)
	}

	start := time.Now()
	report, err := ingest.RunFile(ctx, deps, *filePath)
	mRunDur.Since(start)
	recordReport(report)
	for _, re := range report.RowErrors {
		logger.Warn("row skipped", "line", re.Line, "reason", re.Reason)
	}
	if err != nil {
		logger.Error("ingest failed", "file", *filePath, "error", err)
		os.Exit(1)
	}
	logger.Info("ingest done",
		"file", *filePath,
		"parsed", report.Parsed,
		"skipped", report.Skipped,
		"upserted", report.Upserted,
		"failed", report.Failed,
	)
	if report.Failed > 0 {
		logger.Warn("some batches failed, rerun to retry", "failed", report.Failed)
		os.Exit(1)
	}
}

// runConsumer blocks on NATS ingestion jobs until interrupted.
func runConsumer(ctx context.Context, deps ingest.Deps, natsURL string, logger *slog.Logger) {
	nc, err := nats.Connect(natsURL, nats.Name("alma-ingest"))
	if err != nil {
		logger.Error("nats connect failed", "url", natsURL, "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	sub, err := ingest.StartConsumer(nc, deps)
	if err != nil {
		logger.Error("consumer start failed", "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	logger.Info("listening for ingestion jobs", "subject", ingest.IngestSubject)
	<-ctx.Done()
	logger.Info("shutting down")
}

func recordReport(r ingest.Report) {
	mRunsTotal.Inc()
	mRowsParsed.Add(int64(r.Parsed))
	mRowsSkipped.Add(int64(r.Skipped))
	mRowsUpserted.Add(int64(r.Upserted))
	mRowsFailed.Add(int64(r.Failed))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
