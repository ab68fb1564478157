package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/AlmaAI/alma-mvp/engine/domain"
	"github.com/AlmaAI/alma-mvp/engine/semantic"
)

// stubEmbedder returns deterministic vectors and can fail on a chosen call.
type stubEmbedder struct {
	dim     int
	failOn  int // 1-based call number to fail at, 0 means never
	shortBy int // vectors to omit from each response
	calls   int
	batches [][]string
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	s.batches = append(s.batches, texts)
	if s.failOn != 0 && s.calls == s.failOn {
		return nil, errors.New("model offline")
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec := make([]float32, s.dim)
		vec[0] = float32(len(text))
		out = append(out, vec)
	}
	if s.shortBy > 0 && len(out) >= s.shortBy {
		out = out[:len(out)-s.shortBy]
	}
	return out, nil
}

// stubIndex records upserts keyed by point ID.
type stubIndex struct {
	points  map[string]semantic.VectorRecord
	upserts int
	err     error
}

func (s *stubIndex) Upsert(ctx context.Context, records []semantic.VectorRecord) error {
	if s.err != nil {
		return s.err
	}
	s.upserts++
	if s.points == nil {
		s.points = make(map[string]semantic.VectorRecord)
	}
	for _, r := range records {
		s.points[r.ID] = r
	}
	return nil
}

func (s *stubIndex) ids() []string {
	out := make([]string, 0, len(s.points))
	for id := range s.points {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func numberedCSV(n int) string {
	var b strings.Builder
	b.WriteString("question;answer\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "question %d?;answer %d\n", i, i)
	}
	return b.String()
}

func TestRun_Report(t *testing.T) {
	emb := &stubEmbedder{dim: 4}
	ix := &stubIndex{}
	deps := Deps{Embedder: emb, Index: ix, Logger: discardLogger()}

	report, err := Run(context.Background(), deps, strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Two rows are malformed and one duplicates an earlier row.
	if report.Parsed != 2 {
		t.Errorf("parsed = %d, want 2", report.Parsed)
	}
	if report.Skipped != 3 {
		t.Errorf("skipped = %d, want 3", report.Skipped)
	}
	if report.Upserted != 2 {
		t.Errorf("upserted = %d, want 2", report.Upserted)
	}
	if report.Failed != 0 {
		t.Errorf("failed = %d, want 0", report.Failed)
	}
	if len(report.RowErrors) != 3 {
		t.Fatalf("row errors = %d, want 3: %v", len(report.RowErrors), report.RowErrors)
	}
	if len(ix.points) != 2 {
		t.Errorf("index holds %d points, want 2", len(ix.points))
	}
}

func TestRun_Idempotent(t *testing.T) {
	ix := &stubIndex{}
	deps := Deps{Embedder: &stubEmbedder{dim: 4}, Index: ix, Logger: discardLogger()}

	first, err := Run(context.Background(), deps, strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	idsAfterFirst := ix.ids()

	second, err := Run(context.Background(), deps, strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Upserted != first.Upserted {
		t.Errorf("second run upserted %d, want %d", second.Upserted, first.Upserted)
	}

	idsAfterSecond := ix.ids()
	if len(idsAfterSecond) != len(idsAfterFirst) {
		t.Fatalf("index grew from %d to %d points", len(idsAfterFirst), len(idsAfterSecond))
	}
	for i := range idsAfterFirst {
		if idsAfterFirst[i] != idsAfterSecond[i] {
			t.Fatalf("point ids changed between runs: %s vs %s", idsAfterFirst[i], idsAfterSecond[i])
		}
	}
}

func TestRun_BatchFailureIsolated(t *testing.T) {
	emb := &stubEmbedder{dim: 4, failOn: 2}
	ix := &stubIndex{}
	deps := Deps{Embedder: emb, Index: ix, BatchSize: 2, Logger: discardLogger()}

	report, err := Run(context.Background(), deps, strings.NewReader(numberedCSV(6)))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if emb.calls != 3 {
		t.Errorf("embedder called %d times, want 3", emb.calls)
	}
	if report.Parsed != 6 {
		t.Errorf("parsed = %d, want 6", report.Parsed)
	}
	if report.Failed != 2 {
		t.Errorf("failed = %d, want 2", report.Failed)
	}
	if report.Upserted != 4 {
		t.Errorf("upserted = %d, want 4", report.Upserted)
	}
	if len(ix.points) != 4 {
		t.Errorf("index holds %d points, want 4", len(ix.points))
	}
}

func TestRun_SourceStamp(t *testing.T) {
	ix := &stubIndex{}
	deps := Deps{Embedder: &stubEmbedder{dim: 4}, Index: ix, Source: "faq_export", Logger: discardLogger()}

	if _, err := Run(context.Background(), deps, strings.NewReader(numberedCSV(2))); err != nil {
		t.Fatalf("run: %v", err)
	}
	for id, rec := range ix.points {
		if rec.Payload["source"] != "faq_export" {
			t.Errorf("point %s source = %v, want faq_export", id, rec.Payload["source"])
		}
	}
}

func TestRun_SourceColumnWins(t *testing.T) {
	csv := "question;answer;source\nwhere to park?;Lot C.;campus_wiki\n"
	ix := &stubIndex{}
	deps := Deps{Embedder: &stubEmbedder{dim: 4}, Index: ix, Source: "faq_export", Logger: discardLogger()}

	if _, err := Run(context.Background(), deps, strings.NewReader(csv)); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, rec := range ix.points {
		if rec.Payload["source"] != "campus_wiki" {
			t.Errorf("source = %v, want campus_wiki", rec.Payload["source"])
		}
	}
}

func TestRun_HeaderError(t *testing.T) {
	deps := Deps{Embedder: &stubEmbedder{dim: 4}, Index: &stubIndex{}, Logger: discardLogger()}
	_, err := Run(context.Background(), deps, strings.NewReader("foo;bar\nx;y\n"))
	if err == nil {
		t.Fatal("expected header error")
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ix := &stubIndex{}
	deps := Deps{Embedder: &stubEmbedder{dim: 4}, Index: ix, Logger: discardLogger()}
	report, err := Run(ctx, deps, strings.NewReader(numberedCSV(3)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.Upserted != 0 || len(ix.points) != 0 {
		t.Errorf("cancelled run stored %d points", len(ix.points))
	}
}

func TestNewEmbedBatch_WrapsFailure(t *testing.T) {
	stage := NewEmbedBatch(&stubEmbedder{dim: 4, failOn: 1})
	row := Row{Line: 2, Record: domain.QARecord{Question: "q?", Answer: "a", AnswerID: "1", Visible: true}}

	result := stage(context.Background(), Batch{Rows: []Row{row}})
	if !result.IsErr() {
		t.Fatal("expected error")
	}
	_, err := result.Unwrap()
	if !errors.Is(err, domain.ErrEmbeddingFailed) {
		t.Errorf("error %v does not wrap ErrEmbeddingFailed", err)
	}
}

func TestNewEmbedBatch_CountMismatch(t *testing.T) {
	stage := NewEmbedBatch(&stubEmbedder{dim: 4, shortBy: 1})
	rows := []Row{
		{Line: 2, Record: domain.QARecord{Question: "one?", Answer: "a", AnswerID: "1", Visible: true}},
		{Line: 3, Record: domain.QARecord{Question: "two?", Answer: "b", AnswerID: "2", Visible: true}},
	}
	result := stage(context.Background(), Batch{Rows: rows})
	if !result.IsErr() {
		t.Fatal("expected error for vector count mismatch")
	}
}

func TestNewStoreBatch_Payload(t *testing.T) {
	ix := &stubIndex{}
	stage := NewStoreBatch(ix)
	rec := domain.QARecord{
		Question: "how do I apply?",
		Answer:   "Submit form X.",
		AnswerID: "a1",
		Source:   "faq",
		Visible:  true,
		Meta:     map[string]string{"topic": "admissions"},
	}
	batch := EmbeddedBatch{
		Rows:       []Row{{Line: 2, Record: rec}},
		Embeddings: [][]float32{{0.1, 0.2}},
	}

	result := stage(context.Background(), batch)
	if result.IsErr() {
		_, err := result.Unwrap()
		t.Fatalf("store: %v", err)
	}
	stored, ok := ix.points[PointID(rec)]
	if !ok {
		t.Fatal("point not stored under its stable id")
	}
	if stored.Payload["question"] != rec.Question {
		t.Errorf("payload question = %v", stored.Payload["question"])
	}
	if stored.Payload["answer"] != rec.Answer {
		t.Errorf("payload answer = %v", stored.Payload["answer"])
	}
	if stored.Payload["answer_id"] != "a1" {
		t.Errorf("payload answer_id = %v", stored.Payload["answer_id"])
	}
	if stored.Payload["is_visible"] != true {
		t.Errorf("payload is_visible = %v", stored.Payload["is_visible"])
	}
	if stored.Payload["topic"] != "admissions" {
		t.Errorf("payload topic = %v", stored.Payload["topic"])
	}
}

func TestNewStoreBatch_WrapsFailure(t *testing.T) {
	stage := NewStoreBatch(&stubIndex{err: errors.New("qdrant down")})
	batch := EmbeddedBatch{
		Rows:       []Row{{Line: 2, Record: domain.QARecord{Question: "q?", Answer: "a", AnswerID: "1", Visible: true}}},
		Embeddings: [][]float32{{0.1}},
	}
	result := stage(context.Background(), batch)
	if !result.IsErr() {
		t.Fatal("expected error")
	}
	_, err := result.Unwrap()
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Errorf("error %v does not wrap ErrIndexUnavailable", err)
	}
}

func TestRunFile_OpenError(t *testing.T) {
	deps := Deps{
		Embedder: &stubEmbedder{dim: 4},
		Index:    &stubIndex{},
		Logger:   discardLogger(),
		Open: func(path string) (io.ReadCloser, error) {
			return nil, errors.New("no such file")
		},
	}
	if _, err := RunFile(context.Background(), deps, "/data/missing.csv"); err == nil {
		t.Fatal("expected open error")
	}
}
