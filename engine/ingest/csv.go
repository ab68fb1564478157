package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/AlmaAI/alma-mvp/engine/domain"
	"github.com/google/uuid"
)

// Separator is the field delimiter of the answer base export format.
const Separator = ';'

// pointNamespace prefixes the name hashed into a point ID.
const pointNamespace = "alma/qa/"

// ParseCSV reads semicolon-delimited rows into records. The first row must
// be a header naming at least the question and answer columns. Malformed
// rows are skipped and reported per line, never fatal; only an unreadable
// or incomplete header aborts the parse.
func ParseCSV(r io.Reader, cols Columns) ([]Row, []domain.RowError, error) {
	cr := csv.NewReader(r)
	cr.Comma = Separator
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: read header: %w", err)
	}
	idx, err := columnIndex(header, cols)
	if err != nil {
		return nil, nil, err
	}

	var (
		rows    []Row
		rowErrs []domain.RowError
	)
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			rowErrs = append(rowErrs, domain.RowError{Line: line, Reason: err.Error()})
			continue
		}
		line, _ := cr.FieldPos(0)
		rec, err := rowRecord(fields, idx, line)
		if err != nil {
			rowErrs = append(rowErrs, domain.RowError{Line: line, Reason: err.Error()})
			continue
		}
		rows = append(rows, Row{Line: line, Record: rec})
	}
	return rows, rowErrs, nil
}

// colIdx maps resolved header positions. Columns not claimed by the
// configured names keep their header name and land in record metadata.
type colIdx struct {
	question int
	answer   int
	id       int
	extra    map[string]int
}

func columnIndex(header []string, cols Columns) (colIdx, error) {
	idx := colIdx{question: -1, answer: -1, id: -1, extra: make(map[string]int)}
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case name == "":
			continue
		case name == strings.ToLower(cols.Question):
			idx.question = i
		case name == strings.ToLower(cols.Answer):
			idx.answer = i
		case cols.ID != "" && name == strings.ToLower(cols.ID):
			idx.id = i
		default:
			idx.extra[name] = i
		}
	}
	if idx.question < 0 {
		return colIdx{}, fmt.Errorf("ingest: header missing column %q", cols.Question)
	}
	if idx.answer < 0 {
		return colIdx{}, fmt.Errorf("ingest: header missing column %q", cols.Answer)
	}
	return idx, nil
}

func rowRecord(fields []string, idx colIdx, line int) (domain.QARecord, error) {
	get := func(i int) string {
		if i < 0 || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	rec := domain.QARecord{
		Question: get(idx.question),
		Answer:   get(idx.answer),
		AnswerID: get(idx.id),
		Visible:  true,
	}
	if rec.AnswerID == "" {
		rec.AnswerID = strconv.Itoa(line)
	}
	for name, i := range idx.extra {
		v := get(i)
		if v == "" {
			continue
		}
		switch name {
		case "source":
			rec.Source = v
		case "is_visible":
			if b, err := strconv.ParseBool(v); err == nil {
				rec.Visible = b
			}
		default:
			if rec.Meta == nil {
				rec.Meta = make(map[string]string)
			}
			rec.Meta[name] = v
		}
	}

	if err := domain.ValidateRecord(rec); err != nil {
		return domain.QARecord{}, err
	}
	return rec, nil
}

// Dedupe collapses rows whose stable point ID repeats, keeping the first
// occurrence. Later duplicates are reported as skipped rows.
func Dedupe(rows []Row) ([]Row, []domain.RowError) {
	seen := make(map[string]int, len(rows))
	var (
		kept []Row
		dups []domain.RowError
	)
	for _, row := range rows {
		id := PointID(row.Record)
		if first, ok := seen[id]; ok {
			dups = append(dups, domain.RowError{
				Line:   row.Line,
				Reason: fmt.Sprintf("duplicate of row %d", first),
			})
			continue
		}
		seen[id] = row.Line
		kept = append(kept, row)
	}
	return kept, dups
}

// PointID derives the stable index point ID for a record: a SHA1 UUID over
// the answer ID and question text. Re-ingesting unchanged content maps to
// the same point and overwrites instead of duplicating.
func PointID(rec domain.QARecord) string {
	name := pointNamespace + rec.AnswerID + "/" + rec.Question
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
