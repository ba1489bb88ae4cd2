package domain

import "testing"

func TestTimerKeyStringCarriesFullTuple(t *testing.T) {
	live := TimerKey{AccessCode: "ABC123", QuestionUID: "q1", PlayMode: PlayModeQuiz}
	if got := live.String(); got != "ABC123:q1:quiz" {
		t.Fatalf("live key: %s", got)
	}
	replay := TimerKey{
		AccessCode:  "ABC123",
		QuestionUID: "q1",
		PlayMode:    PlayModeTournament,
		Deferred:    true,
		UserID:      "u1",
		Attempt:     2,
	}
	if got := replay.String(); got != "ABC123:q1:tournament:user:u1:attempt:2" {
		t.Fatalf("replay key: %s", got)
	}
}

func TestTimerKeyValidate(t *testing.T) {
	if err := (TimerKey{QuestionUID: "q1"}).Validate(); err == nil {
		t.Fatal("expected missing access code error")
	}
	if err := (TimerKey{AccessCode: "ABC123", QuestionUID: "q1", Deferred: true}).Validate(); err == nil {
		t.Fatal("expected deferred key without user to be rejected")
	}
	if err := (TimerKey{AccessCode: "ABC123", QuestionUID: "q1"}).Validate(); err != nil {
		t.Fatalf("live key rejected: %v", err)
	}
}
