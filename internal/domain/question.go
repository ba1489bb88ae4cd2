package domain

import (
	"sort"
	"strconv"
	"strings"
)

// QuestionType discriminates how a submitted answer is compared against the
// correct-answer set.
type QuestionType string

const (
	QuestionSingleChoice   QuestionType = "single_choice"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionNumeric        QuestionType = "numeric"
)

// Question is the catalog record for one question, correct answers included.
// It must never be sent to players as-is; use ForClient.
type Question struct {
	UID             string
	Title           string
	Text            string
	QuestionType    QuestionType
	AnswerOptions   []string
	CorrectAnswers  []bool // parallel to AnswerOptions for choice questions
	CorrectValue    string // numeric questions only
	TimeLimitSec    int
	Explanation     string
	FeedbackWaitSec int
}

// DurationMs returns the canonical timer duration for this question.
func (q Question) DurationMs() int64 {
	return int64(q.TimeLimitSec) * 1000
}

// CorrectIndices returns the sorted indices flagged correct.
func (q Question) CorrectIndices() []int {
	indices := make([]int, 0, len(q.CorrectAnswers))
	for i, ok := range q.CorrectAnswers {
		if ok {
			indices = append(indices, i)
		}
	}
	sort.Ints(indices)
	return indices
}

// IsCorrect compares a submitted answer against the correct-answer set,
// branching by question type. Multiple-choice requires exact set equality,
// not superset or subset.
func (q Question) IsCorrect(answer AnswerValue) bool {
	switch q.QuestionType {
	case QuestionMultipleChoice:
		submitted, ok := answer.IndexSet()
		if !ok {
			return false
		}
		correct := q.CorrectIndices()
		if len(submitted) != len(correct) {
			return false
		}
		for i := range correct {
			if submitted[i] != correct[i] {
				return false
			}
		}
		return len(correct) > 0
	case QuestionNumeric:
		submitted, ok := answer.Numeric()
		if !ok {
			return false
		}
		want, err := strconv.ParseFloat(strings.TrimSpace(q.CorrectValue), 64)
		if err != nil {
			return false
		}
		return submitted == want
	default: // single choice
		idx, ok := answer.IndexValue()
		if !ok || idx < 0 || idx >= len(q.CorrectAnswers) {
			return false
		}
		return q.CorrectAnswers[idx]
	}
}

// ClientQuestion is the sanitized question payload served to players and the
// projection display. It never carries correct answers or the explanation.
type ClientQuestion struct {
	UID           string       `json:"uid"`
	Title         string       `json:"title,omitempty"`
	Text          string       `json:"text"`
	QuestionType  QuestionType `json:"questionType"`
	AnswerOptions []string     `json:"answerOptions"`
	TimeLimitSec  float64      `json:"timeLimit"`
}

// ForClient strips correct-answer data and applies the game's time
// multiplier to the displayed limit.
func (q Question) ForClient(timeMultiplier float64) *ClientQuestion {
	if timeMultiplier <= 0 {
		timeMultiplier = 1
	}
	return &ClientQuestion{
		UID:           q.UID,
		Title:         q.Title,
		Text:          q.Text,
		QuestionType:  q.QuestionType,
		AnswerOptions: append([]string(nil), q.AnswerOptions...),
		TimeLimitSec:  float64(q.TimeLimitSec) * timeMultiplier,
	}
}
