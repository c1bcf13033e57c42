package model

import "strings"

// Answer is one response to one question, in submission order.
type Answer struct {
	QuestionID string `json:"questionId" binding:"required,notblank,max=128"`
	Response   string `json:"response" binding:"max=10000"`
}

// HasResponse reports whether at least one answer carries a non-blank response.
func HasResponse(answers []Answer) bool {
	for _, a := range answers {
		if strings.TrimSpace(a.Response) != "" {
			return true
		}
	}
	return false
}

// CloneAnswers returns a copy so callers cannot mutate a frozen submission.
func CloneAnswers(answers []Answer) []Answer {
	out := make([]Answer, len(answers))
	copy(out, answers)
	return out
}
