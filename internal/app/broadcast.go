package app

import "quiz-session-service/internal/domain"

// Broadcaster fans out named events to a room. The transport owns room
// membership; the core only names rooms and payloads. Implementations must
// be safe for concurrent use.
type Broadcaster interface {
	Broadcast(room, event string, payload any)
}

// Room naming, shared by every emitter so consumers can subscribe once.
func DashboardRoom(gameID string) string  { return "dashboard_" + gameID }
func LiveRoom(accessCode string) string   { return "game_" + accessCode }
func ProjectionRoom(gameID string) string { return "projection_" + gameID }
func DeferredRoom(accessCode, userID string) string {
	return "deferred_" + accessCode + "_" + userID
}

// Event names.
const (
	EventQuestionChanged    = "question_changed"
	EventGameQuestion       = "game_question"
	EventTimerUpdated       = "game_timer_updated"
	EventDashboardTimer     = "dashboard_timer_updated"
	EventAnswersLockChanged = "answers_lock_changed"
	EventGameEnded          = "game_ended"
	EventLeaderboardUpdate  = "leaderboard_update"
	EventAnswerStatsUpdate  = "dashboard_answer_stats_update"
	EventCorrectAnswers     = "correct_answers"
	EventFeedback           = "feedback"
	EventProjectionDisplay  = "projection_display_changed"
)

// TimerUpdatePayload is the canonical timer event body. Every consumer can
// validate relevance by questionUid without relying on delivery ordering.
type TimerUpdatePayload struct {
	AccessCode     string               `json:"accessCode"`
	GameID         string               `json:"gameId,omitempty"`
	Timer          domain.TimerSnapshot `json:"timer"`
	QuestionUID    string               `json:"questionUid"`
	QuestionIndex  int                  `json:"questionIndex"`
	TotalQuestions int                  `json:"totalQuestions"`
	AnswersLocked  bool                 `json:"answersLocked"`
	ServerTime     int64                `json:"serverTime"`
}

// QuestionPayload is emitted to players when the active question changes.
type QuestionPayload struct {
	AccessCode     string                 `json:"accessCode"`
	Question       *domain.ClientQuestion `json:"question"`
	QuestionIndex  int                    `json:"questionIndex"`
	TotalQuestions int                    `json:"totalQuestions"`
	Timer          domain.TimerSnapshot   `json:"timer"`
}

// LockPayload is emitted when the teacher toggles the answer lock.
type LockPayload struct {
	AccessCode    string `json:"accessCode"`
	QuestionUID   string `json:"questionUid,omitempty"`
	AnswersLocked bool   `json:"answersLocked"`
}

// CorrectAnswersPayload reveals the correct-answer set for one question.
type CorrectAnswersPayload struct {
	AccessCode     string `json:"accessCode"`
	QuestionUID    string `json:"questionUid"`
	CorrectAnswers []bool `json:"correctAnswers"`
	CorrectValue   string `json:"correctValue,omitempty"`
}

// FeedbackPayload carries the explanation window for one question.
type FeedbackPayload struct {
	AccessCode        string `json:"accessCode"`
	QuestionUID       string `json:"questionUid"`
	Explanation       string `json:"explanation"`
	FeedbackRemaining int    `json:"feedbackRemaining"`
}

// AnswerStatsPayload carries per-option answer counts to the dashboard.
type AnswerStatsPayload struct {
	AccessCode  string         `json:"accessCode"`
	QuestionUID string         `json:"questionUid"`
	Stats       map[string]int `json:"stats"`
}

// LeaderboardPayload carries the assembled leaderboard to a game room.
type LeaderboardPayload struct {
	AccessCode  string                    `json:"accessCode"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
}

// GameEndedPayload is the terminal event for a game or deferred session.
type GameEndedPayload struct {
	AccessCode     string `json:"accessCode"`
	TotalQuestions int    `json:"totalQuestions"`
}
