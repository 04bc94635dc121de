package qa

import (
	"strings"
	"unicode/utf8"
)

// RetryPolicy bounds the per-document retry loop. A short or empty answer
// triggers another backend call; exhausting the attempts yields a degraded
// result rather than an error.
type RetryPolicy struct {
	MaxAttempts     int // total attempts including the first
	MinAnswerLength int // minimum acceptable answer length, in runes
}

// DefaultRetryPolicy matches the engine defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, MinAnswerLength: 10}
}

// Acceptable reports whether an answer meets the minimum quality bar.
func (p RetryPolicy) Acceptable(answer string) bool {
	answer = strings.TrimSpace(answer)
	return answer != "" && utf8.RuneCountInString(answer) >= p.MinAnswerLength
}
