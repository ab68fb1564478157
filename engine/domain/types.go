// Package domain defines core domain types, constants, and validation for the
// Alma retrieval pipeline. It acts as the validation gate at pipeline entry points.
package domain

// Default retrieval bounds. Fronts may pass zero values and rely on clamping.
const (
	DefaultSearchLimit    = 5
	MaxSearchLimit        = 50
	DefaultScoreThreshold = float32(0.3)
)

// MaxQuestionLength bounds user questions before they reach the embedder.
const MaxQuestionLength = 4096

// QARecord is one curated question/answer pair held in the vector index.
type QARecord struct {
	Question string            `json:"question"`
	Answer   string            `json:"answer"`
	AnswerID string            `json:"answer_id"`
	Source   string            `json:"source,omitempty"`
	Visible  bool              `json:"is_visible"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// SearchQuery carries a user question plus retrieval bounds.
type SearchQuery struct {
	Text      string  `json:"text"`
	Limit     int     `json:"limit"`
	Threshold float32 `json:"threshold"`
}
