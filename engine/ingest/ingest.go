// Package ingest loads the question/answer base from CSV exports into the
// vector index through parse, dedupe, batch-embed, and upsert stages. Runs
// are idempotent: point IDs derive from row content, so re-running a job
// overwrites points instead of duplicating them.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/AlmaAI/alma-mvp/engine/domain"
	"github.com/AlmaAI/alma-mvp/engine/semantic"
	"github.com/AlmaAI/alma-mvp/pkg/fn"
	"github.com/AlmaAI/alma-mvp/pkg/natsutil"
	"github.com/AlmaAI/alma-mvp/pkg/resilience"
	"github.com/nats-io/nats.go"
)

const (
	// IngestSubject is the NATS subject for incoming ingestion jobs.
	IngestSubject = "alma.ingest.csv"
	// ReportSubject receives the run report of each completed job.
	ReportSubject = "alma.ingest.report"
	// DLQSubject is the dead letter queue subject for failed jobs.
	DLQSubject = "alma.ingest.dlq"
	// MaxRetries before sending a job to the DLQ.
	MaxRetries = 3
	// DefaultBatchSize is the number of rows per embedding request.
	DefaultBatchSize = 64
)

// Embedder embeds a batch of question texts, order-preserving.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Index receives embedded records. Upserts by record ID must overwrite.
type Index interface {
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder   Embedder
	Index      Index
	Columns    Columns             // zero value means DefaultColumns
	Collection string              // collection served by this consumer, empty accepts any job
	Source     string              // source label for records without a source column
	BatchSize  int                 // rows per embedding request, DefaultBatchSize when unset
	Limiter    *resilience.Limiter // optional throttle on embedding calls
	Logger     *slog.Logger
	Open       func(path string) (io.ReadCloser, error) // nil means os.Open
}

func (d Deps) normalized() Deps {
	if d.Columns.Question == "" || d.Columns.Answer == "" {
		d.Columns = DefaultColumns()
	}
	if d.BatchSize <= 0 {
		d.BatchSize = DefaultBatchSize
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Open == nil {
		d.Open = func(path string) (io.ReadCloser, error) { return os.Open(path) }
	}
	return d
}

// --- Pipeline Stages ---

// NewEmbedBatch creates the stage that embeds a batch's question texts.
func NewEmbedBatch(e Embedder) fn.Stage[Batch, EmbeddedBatch] {
	return func(ctx context.Context, b Batch) fn.Result[EmbeddedBatch] {
		texts := fn.Map(b.Rows, func(r Row) string { return r.Record.Question })
		embeddings, err := e.EmbedBatch(ctx, texts)
		if err != nil {
			return fn.Err[EmbeddedBatch](fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err))
		}
		if len(embeddings) != len(b.Rows) {
			return fn.Errf[EmbeddedBatch]("ingest: embedder returned %d vectors for %d rows", len(embeddings), len(b.Rows))
		}
		return fn.Ok(EmbeddedBatch{Rows: b.Rows, Embeddings: embeddings})
	}
}

// NewStoreBatch creates the stage that upserts an embedded batch into the
// index and yields the number of stored rows.
func NewStoreBatch(ix Index) fn.Stage[EmbeddedBatch, int] {
	return func(ctx context.Context, b EmbeddedBatch) fn.Result[int] {
		records := make([]semantic.VectorRecord, len(b.Rows))
		for i, row := range b.Rows {
			rec := row.Record
			payload := map[string]any{
				"question":   rec.Question,
				"answer":     rec.Answer,
				"answer_id":  rec.AnswerID,
				"source":     rec.Source,
				"is_visible": rec.Visible,
			}
			for k, v := range rec.Meta {
				payload[k] = v
			}
			records[i] = semantic.VectorRecord{
				ID:        PointID(rec),
				Embedding: b.Embeddings[i],
				Payload:   payload,
			}
		}
		if err := ix.Upsert(ctx, records); err != nil {
			return fn.Err[int](fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err))
		}
		return fn.Ok(len(records))
	}
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Info("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Info("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewBatchStage composes embed and store for one batch, with logging taps
// and named spans around each stage and an optional rate limit on the
// embedding side. The embed span covers any limiter wait.
func NewBatchStage(deps Deps) fn.Stage[Batch, int] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	embed := NewEmbedBatch(deps.Embedder)
	if deps.Limiter != nil {
		embed = resilience.LimiterStageWait(deps.Limiter, embed)
	}
	embed = fn.TracedStage("ingest.embed", embed)
	store := fn.TracedStage("ingest.store", NewStoreBatch(deps.Index))

	embedded := fn.Then(LoggedTap[Batch]("embed", log), embed)
	stored := fn.Then(embedded, fn.Then(LoggedTap[EmbeddedBatch]("store", log), store))
	return stored
}

// Run executes one ingestion pass over src. Malformed and duplicate rows
// are skipped and reported per line. An embed or upsert failure marks the
// whole batch failed and the run continues with the next batch, so a
// partially failed run can be re-executed safely.
func Run(ctx context.Context, deps Deps, src io.Reader) (Report, error) {
	deps = deps.normalized()
	log := deps.Logger

	rows, rowErrs, err := ParseCSV(src, deps.Columns)
	if err != nil {
		return Report{}, err
	}
	rows, dups := Dedupe(rows)
	rowErrs = append(rowErrs, dups...)

	for i := range rows {
		if rows[i].Record.Source == "" {
			rows[i].Record.Source = deps.Source
		}
	}

	report := Report{
		Parsed:    len(rows),
		Skipped:   len(rowErrs),
		RowErrors: rowErrs,
	}
	log.Info("ingest: parsed", "rows", report.Parsed, "skipped", report.Skipped)

	stage := NewBatchStage(deps)
	for i, batch := range fn.Chunk(rows, deps.BatchSize) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result := stage(ctx, Batch{Rows: batch})
		if result.IsErr() {
			_, stageErr := result.Unwrap()
			report.Failed += len(batch)
			log.Error("ingest: batch failed", "batch", i, "rows", len(batch), "error", stageErr)
			continue
		}
		stored, _ := result.Unwrap()
		report.Upserted += stored
	}

	log.Info("ingest: done",
		"parsed", report.Parsed,
		"skipped", report.Skipped,
		"upserted", report.Upserted,
		"failed", report.Failed,
	)
	return report, nil
}

// RunFile opens path via deps.Open and runs the pipeline over it.
func RunFile(ctx context.Context, deps Deps, path string) (Report, error) {
	deps = deps.normalized()
	f, err := deps.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()
	return Run(ctx, deps, f)
}

// Job is an ingestion request consumed from IngestSubject.
type Job struct {
	Path       string `json:"path"`
	Collection string `json:"collection,omitempty"`
	Source     string `json:"source,omitempty"`
}

// reportMessage is published to ReportSubject after a completed run.
type reportMessage struct {
	Job    Job    `json:"job"`
	Report Report `json:"report"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Job     Job    `json:"job"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// StartConsumer subscribes to IngestSubject and runs each job through the
// pipeline. A job that fails outright, or whose run stores nothing while
// batches failed, is re-published with an incremented retry header and
// dead-lettered after MaxRetries. Jobs for a collection this consumer does
// not serve dead-letter immediately since a retry cannot help. Completed
// runs publish their report to ReportSubject.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	deps = deps.normalized()
	log := deps.Logger

	return nc.Subscribe(IngestSubject, func(msg *nats.Msg) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			log.Error("ingest: bad job payload", "error", err)
			return
		}

		ctx := context.Background()

		if deps.Collection != "" && job.Collection != "" && job.Collection != deps.Collection {
			log.Warn("ingest: job for another collection", "want", deps.Collection, "got", job.Collection)
			publishDLQ(nc, log, job, fmt.Errorf("collection %q not served", job.Collection), 0)
			return
		}

		// Get retry count from header.
		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		runDeps := deps
		if job.Source != "" {
			runDeps.Source = job.Source
		}
		report, err := RunFile(ctx, runDeps, job.Path)
		if err == nil && report.Failed > 0 && report.Upserted == 0 {
			err = fmt.Errorf("ingest: no batch succeeded, %d rows failed", report.Failed)
		}
		if err != nil {
			retries++
			log.Error("ingest: job failed",
				"path", job.Path,
				"error", err,
				"retry", retries,
			)
			if retries >= MaxRetries {
				publishDLQ(nc, log, job, err, retries)
			} else {
				// Re-publish with incremented retry count.
				retryMsg := nats.NewMsg(IngestSubject)
				retryMsg.Data = msg.Data
				retryMsg.Header = nats.Header{}
				retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
				if err := nc.PublishMsg(retryMsg); err != nil {
					log.Error("ingest: retry publish failed", "error", err)
				}
			}
			return
		}

		log.Info("ingest: job done",
			"path", job.Path,
			"parsed", report.Parsed,
			"skipped", report.Skipped,
			"upserted", report.Upserted,
			"failed", report.Failed,
		)
		if err := natsutil.Publish(ctx, nc, ReportSubject, reportMessage{Job: job, Report: report}); err != nil {
			log.Error("ingest: report publish failed", "error", err)
		}
	})
}

func publishDLQ(nc *nats.Conn, log *slog.Logger, job Job, cause error, retries int) {
	dlq := dlqMessage{Job: job, Error: cause.Error(), Retries: retries}
	data, _ := json.Marshal(dlq)
	if err := nc.Publish(DLQSubject, data); err != nil {
		log.Error("ingest: DLQ publish failed", "error", err)
	}
}
