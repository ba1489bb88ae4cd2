package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// AnswerKind discriminates the loosely-typed answer payload clients submit:
// a single option index, a set of indices, or a free numeric/text value.
type AnswerKind int

const (
	AnswerNone AnswerKind = iota
	AnswerIndex
	AnswerIndexSet
	AnswerNumber
	AnswerText
)

// AnswerValue is a tagged union over the possible wire shapes of an answer.
// Comparison strategy is selected by the question type, not by inspecting
// the raw JSON at scoring time.
type AnswerValue struct {
	Kind    AnswerKind
	Index   int
	Indices []int
	Number  float64
	Text    string
}

// UnmarshalJSON accepts a number, an array of numbers, or a string.
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*v = AnswerValue{}
		return nil
	}
	switch trimmed[0] {
	case '[':
		var raw []float64
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("answer array: %w", err)
		}
		indices := make([]int, 0, len(raw))
		for _, n := range raw {
			indices = append(indices, int(n))
		}
		sort.Ints(indices)
		*v = AnswerValue{Kind: AnswerIndexSet, Indices: indices}
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("answer string: %w", err)
		}
		*v = AnswerValue{Kind: AnswerText, Text: s}
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("answer number: %w", err)
		}
		*v = AnswerValue{Kind: AnswerNumber, Number: n, Index: int(n)}
	}
	return nil
}

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case AnswerIndexSet:
		return json.Marshal(v.Indices)
	case AnswerNumber:
		return json.Marshal(v.Number)
	case AnswerIndex:
		return json.Marshal(v.Index)
	case AnswerText:
		return json.Marshal(v.Text)
	default:
		return []byte("null"), nil
	}
}

// IndexValue interprets the answer as a single option index.
func (v AnswerValue) IndexValue() (int, bool) {
	switch v.Kind {
	case AnswerIndex:
		return v.Index, true
	case AnswerNumber:
		if v.Number == float64(int(v.Number)) {
			return int(v.Number), true
		}
	case AnswerIndexSet:
		if len(v.Indices) == 1 {
			return v.Indices[0], true
		}
	}
	return 0, false
}

// IndexSet interprets the answer as a sorted set of option indices.
func (v AnswerValue) IndexSet() ([]int, bool) {
	switch v.Kind {
	case AnswerIndexSet:
		return v.Indices, true
	case AnswerIndex:
		return []int{v.Index}, true
	case AnswerNumber:
		if v.Number == float64(int(v.Number)) {
			return []int{int(v.Number)}, true
		}
	}
	return nil, false
}

// Numeric interprets the answer as a normalized number; strings are parsed.
func (v AnswerValue) Numeric() (float64, bool) {
	switch v.Kind {
	case AnswerNumber:
		return v.Number, true
	case AnswerIndex:
		return float64(v.Index), true
	case AnswerText:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Equal reports whether two submitted answers are the same submission.
// Index sets compare order-insensitively (both sides are kept sorted).
func (v AnswerValue) Equal(other AnswerValue) bool {
	if v.Kind == AnswerIndexSet || other.Kind == AnswerIndexSet {
		a, aok := v.IndexSet()
		b, bok := other.IndexSet()
		if !aok || !bok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}
	if v.Kind == AnswerText && other.Kind == AnswerText {
		return v.Text == other.Text
	}
	an, aok := v.Numeric()
	bn, bok := other.Numeric()
	if aok && bok {
		return an == bn
	}
	return v.Kind == other.Kind && v.Text == other.Text && v.Index == other.Index && v.Number == other.Number
}

// StatBuckets returns the histogram buckets this answer counts toward:
// one per selected option index, or the raw value for free-form answers.
func (v AnswerValue) StatBuckets() []string {
	switch v.Kind {
	case AnswerIndexSet:
		buckets := make([]string, 0, len(v.Indices))
		for _, idx := range v.Indices {
			buckets = append(buckets, strconv.Itoa(idx))
		}
		return buckets
	case AnswerIndex:
		return []string{strconv.Itoa(v.Index)}
	case AnswerNumber:
		return []string{strconv.FormatFloat(v.Number, 'f', -1, 64)}
	case AnswerText:
		return []string{v.Text}
	}
	return nil
}

// IsZero reports whether no answer was provided.
func (v AnswerValue) IsZero() bool {
	return v.Kind == AnswerNone
}

// AnswerRecord is the stored answer for one (participant, question, attempt).
// ServerTimeSpentMs comes from the canonical timer; the client-reported
// TimeSpentMs is kept for payload shape only and never used for scoring.
type AnswerRecord struct {
	UserID            string      `json:"userId"`
	QuestionUID       string      `json:"questionUid"`
	Answer            AnswerValue `json:"answer"`
	TimeSpentMs       int64       `json:"timeSpent"`
	ServerTimeSpentMs int64       `json:"serverTimeSpent"`
	SubmittedAt       int64       `json:"submittedAt"`
	IsCorrect         bool        `json:"isCorrect"`
	Score             int         `json:"score"`
}
