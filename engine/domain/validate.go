package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/AlmaAI/alma-mvp/pkg/textnorm"
)

// ValidateQuestion validates free-form question text at pipeline entry.
// Whitespace-only text counts as empty, as does text that normalizes to
// nothing embeddable.
func ValidateQuestion(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return NewValidationError("question", text, ErrEmptyQuestion)
	}
	if n := utf8.RuneCountInString(trimmed); n > MaxQuestionLength {
		return NewValidationError("question", fmt.Sprintf("len=%d", n), ErrQuestionTooLong)
	}
	if textnorm.Normalize(trimmed) == "" {
		return NewValidationError("question", text, ErrEmptyQuestion)
	}
	return nil
}

// ValidateRecord validates a Q/A pair before it enters the index.
func ValidateRecord(r QARecord) error {
	if err := ValidateQuestion(r.Question); err != nil {
		return err
	}
	if strings.TrimSpace(r.Answer) == "" {
		return NewValidationError("answer", r.AnswerID, ErrEmptyAnswer)
	}
	return nil
}

// ClampLimit forces a requested result count into [1, MaxSearchLimit].
// Zero or negative falls back to DefaultSearchLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

// ClampThreshold forces a similarity threshold into [0, 1].
// Out-of-range or NaN values fall back to DefaultScoreThreshold.
func ClampThreshold(t float32) float32 {
	if t != t || t < 0 || t > 1 {
		return DefaultScoreThreshold
	}
	return t
}
