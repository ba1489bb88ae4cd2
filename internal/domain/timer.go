package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// TimerStatus is the canonical 3-state timer model consumed by all handlers.
type TimerStatus string

const (
	TimerRun   TimerStatus = "run"
	TimerPause TimerStatus = "pause"
	TimerStop  TimerStatus = "stop"
)

// TimerKey identifies one canonical timer. Quiz and live tournament share a
// global timer per (accessCode, questionUid); a deferred replay is keyed
// additionally by userId and attempt so concurrent replay sessions can never
// contaminate each other. This is the only way to produce a timer key —
// there is no code path that can omit the deferred discriminator.
type TimerKey struct {
	AccessCode  string
	QuestionUID string
	PlayMode    PlayMode
	Deferred    bool
	UserID      string
	Attempt     int
}

// String renders the store key suffix for this timer.
func (k TimerKey) String() string {
	var b strings.Builder
	b.WriteString(k.AccessCode)
	b.WriteByte(':')
	b.WriteString(k.QuestionUID)
	b.WriteByte(':')
	b.WriteString(string(k.PlayMode))
	if k.Deferred {
		b.WriteString(":user:")
		b.WriteString(k.UserID)
		b.WriteString(":attempt:")
		b.WriteString(strconv.Itoa(k.Attempt))
	}
	return b.String()
}

// Validate rejects keys that could collide across sessions.
func (k TimerKey) Validate() error {
	if k.AccessCode == "" || k.QuestionUID == "" {
		return fmt.Errorf("timer key missing access code or question uid")
	}
	if k.Deferred && k.UserID == "" {
		return fmt.Errorf("deferred timer key %s:%s missing user id", k.AccessCode, k.QuestionUID)
	}
	return nil
}

// TimerRecord is the persisted timer bookkeeping. Elapsed play time is
// accumulated in TotalPlayTimeMs across run/pause cycles; LastStateChange
// anchors the currently-running stretch.
type TimerRecord struct {
	QuestionUID     string      `json:"questionUid"`
	Status          TimerStatus `json:"status"`
	StartedAt       int64       `json:"startedAt"`
	TotalPlayTimeMs int64       `json:"totalPlayTimeMs"`
	LastStateChange int64       `json:"lastStateChange"`
	DurationMs      int64       `json:"durationMs"`
	TimeLeftMs      int64       `json:"timeLeftMs"`
}

// TimerSnapshot is the canonical read-only timer view emitted to clients and
// consumed by the scoring engine. While running, TimerEndDateMs is the wall
// clock instant the timer expires; it is zero for pause/stop.
type TimerSnapshot struct {
	Status         TimerStatus `json:"status"`
	QuestionUID    string      `json:"questionUid"`
	DurationMs     int64       `json:"durationMs"`
	TimeLeftMs     int64       `json:"timeLeftMs"`
	TimerEndDateMs int64       `json:"timerEndDateMs"`
	Timestamp      int64       `json:"timestamp"`
}

// Expired reports whether no playable time remains, by clock math rather
// than by trusting the stored status field.
func (s TimerSnapshot) Expired() bool {
	return s.TimeLeftMs <= 0
}
