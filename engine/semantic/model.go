package semantic

// SearchResult represents a single vector search hit.
type SearchResult struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Answer   string            `json:"answer"`
	AnswerID string            `json:"answer_id"`
	Source   string            `json:"source"`
	Meta     map[string]string `json:"meta"`
}

// VectorRecord represents a single vector to store in Qdrant.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any // answer, answer_id, source, is_visible, free-form extras
}
