package domain

import (
	"encoding/json"
	"testing"
)

func TestAnswerValueAcceptsWireShapes(t *testing.T) {
	var v AnswerValue

	if err := json.Unmarshal([]byte(`2`), &v); err != nil {
		t.Fatalf("number: %v", err)
	}
	if v.Kind != AnswerNumber || v.Index != 2 {
		t.Fatalf("unexpected number value: %+v", v)
	}

	if err := json.Unmarshal([]byte(`[3,1,0]`), &v); err != nil {
		t.Fatalf("array: %v", err)
	}
	if v.Kind != AnswerIndexSet || len(v.Indices) != 3 {
		t.Fatalf("unexpected array value: %+v", v)
	}
	// Index sets are normalized to sorted order at the boundary.
	if v.Indices[0] != 0 || v.Indices[1] != 1 || v.Indices[2] != 3 {
		t.Fatalf("indices not sorted: %v", v.Indices)
	}

	if err := json.Unmarshal([]byte(`"12.5"`), &v); err != nil {
		t.Fatalf("string: %v", err)
	}
	if v.Kind != AnswerText || v.Text != "12.5" {
		t.Fatalf("unexpected string value: %+v", v)
	}

	if err := json.Unmarshal([]byte(`null`), &v); err != nil {
		t.Fatalf("null: %v", err)
	}
	if !v.IsZero() {
		t.Fatalf("expected zero value for null, got %+v", v)
	}

	if err := json.Unmarshal([]byte(`{"a":1}`), &v); err == nil {
		t.Fatal("expected error for object payload")
	}
}

func TestAnswerValueEqualIsOrderInsensitive(t *testing.T) {
	var a, b AnswerValue
	_ = json.Unmarshal([]byte(`[2,0]`), &a)
	_ = json.Unmarshal([]byte(`[0,2]`), &b)
	if !a.Equal(b) {
		t.Fatal("same set in different order should be equal")
	}

	_ = json.Unmarshal([]byte(`[0,1]`), &b)
	if a.Equal(b) {
		t.Fatal("different sets should not be equal")
	}

	one := AnswerValue{Kind: AnswerIndex, Index: 1}
	alsoOne := AnswerValue{Kind: AnswerNumber, Number: 1}
	if !one.Equal(alsoOne) {
		t.Fatal("index and numeric forms of the same answer should be equal")
	}
	if one.Equal(AnswerValue{Kind: AnswerText, Text: "one"}) {
		t.Fatal("unparseable text never equals a number")
	}
}

func TestStatBuckets(t *testing.T) {
	var multi AnswerValue
	_ = json.Unmarshal([]byte(`[1,3]`), &multi)
	buckets := multi.StatBuckets()
	if len(buckets) != 2 || buckets[0] != "1" || buckets[1] != "3" {
		t.Fatalf("unexpected multi buckets: %v", buckets)
	}

	if b := (AnswerValue{Kind: AnswerIndex, Index: 0}).StatBuckets(); len(b) != 1 || b[0] != "0" {
		t.Fatalf("unexpected index bucket: %v", b)
	}
	if b := (AnswerValue{Kind: AnswerNumber, Number: 12.5}).StatBuckets(); b[0] != "12.5" {
		t.Fatalf("unexpected numeric bucket: %v", b)
	}
	if b := (AnswerValue{}).StatBuckets(); b != nil {
		t.Fatalf("empty answer counts toward nothing, got %v", b)
	}
}

func TestAnswerRecordRoundTripsThroughStore(t *testing.T) {
	rec := AnswerRecord{
		UserID:            "u1",
		QuestionUID:       "q1",
		Answer:            AnswerValue{Kind: AnswerIndexSet, Indices: []int{0, 1}},
		ServerTimeSpentMs: 4000,
		IsCorrect:         true,
		Score:             960,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got AnswerRecord
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Answer.Equal(rec.Answer) || got.Score != rec.Score || got.ServerTimeSpentMs != 4000 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
