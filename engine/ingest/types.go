package ingest

import "github.com/AlmaAI/alma-mvp/engine/domain"

// Columns names the CSV columns records are read from. Question and Answer
// are required in the header; ID is optional and falls back to the row's
// line number. Header matching is case-insensitive.
type Columns struct {
	Question string
	Answer   string
	ID       string
}

// DefaultColumns matches the export format of the admissions answer base.
func DefaultColumns() Columns {
	return Columns{Question: "question", Answer: "answer", ID: "id"}
}

// Row is one successfully parsed CSV row with its source line number.
type Row struct {
	Line   int
	Record domain.QARecord
}

// Batch groups rows for one embed and upsert round trip.
type Batch struct {
	Rows []Row
}

// EmbeddedBatch carries a batch plus its question embeddings, index-aligned
// with Rows.
type EmbeddedBatch struct {
	Rows       []Row
	Embeddings [][]float32
}

// Report summarizes one ingestion run. Parsed counts rows that entered the
// embed/upsert stages, so Parsed = Upserted + Failed once a run completes.
// Skipped counts malformed and duplicate rows, detailed in RowErrors.
type Report struct {
	Parsed    int               `json:"parsed"`
	Skipped   int               `json:"skipped"`
	Upserted  int               `json:"upserted"`
	Failed    int               `json:"failed"`
	RowErrors []domain.RowError `json:"row_errors,omitempty"`
}
