package app

import (
	"context"
	"time"

	"quiz-session-service/internal/domain"
)

// GameStore abstracts the shared state store (Redis in production). It is the
// single mutable resource shared across concurrent handlers; per-key
// operations are the unit of atomicity.
type GameStore interface {
	GameState(ctx context.Context, accessCode string) (domain.GameState, error)
	SetGameState(ctx context.Context, accessCode string, state domain.GameState, ttl time.Duration) error
	// DeleteGameData removes every key belonging to a game: state,
	// participants, answers, leaderboard, projection display, terminated
	// questions and timers.
	DeleteGameData(ctx context.Context, accessCode string) error

	SetParticipant(ctx context.Context, accessCode string, p domain.Participant) error
	Participant(ctx context.Context, accessCode, userID string) (domain.Participant, bool, error)
	Participants(ctx context.Context, accessCode string) ([]domain.Participant, error)
	RemoveParticipant(ctx context.Context, accessCode, userID string) error
	ClearParticipants(ctx context.Context, accessCode string) error

	// Answers are namespaced by attempt for deferred participants; attempt 0
	// addresses the shared live record.
	Answer(ctx context.Context, accessCode, questionUID string, attempt int, userID string) (domain.AnswerRecord, bool, error)
	SetAnswer(ctx context.Context, accessCode, questionUID string, attempt int, rec domain.AnswerRecord) error
	Answers(ctx context.Context, accessCode, questionUID string, attempt int) ([]domain.AnswerRecord, error)
	ClearAnswers(ctx context.Context, accessCode, questionUID string) error

	SetLeaderboardScore(ctx context.Context, accessCode, userID string, score int) error
	// Leaderboard returns sorted-set entries in descending score order.
	Leaderboard(ctx context.Context, accessCode string) ([]LeaderboardScore, error)

	ProjectionDisplay(ctx context.Context, accessCode string) (domain.ProjectionDisplayState, error)
	SetProjectionDisplay(ctx context.Context, accessCode string, state domain.ProjectionDisplayState) error

	MarkQuestionTerminated(ctx context.Context, accessCode, questionUID string) error
	TerminatedQuestions(ctx context.Context, accessCode string) (map[string]bool, error)
}

// LeaderboardScore is one raw sorted-set entry before joining against the
// participants hash.
type LeaderboardScore struct {
	UserID string
	Score  int
}

// TimerStore persists canonical timer records keyed by the full timer key
// tuple.
type TimerStore interface {
	Timer(ctx context.Context, key domain.TimerKey) (domain.TimerRecord, bool, error)
	SetTimer(ctx context.Context, key domain.TimerKey, rec domain.TimerRecord) error
	DeleteTimer(ctx context.Context, key domain.TimerKey) error
}

// Catalog is the read-mostly durable store of game instances, questions and
// participants.
type Catalog interface {
	GameInstanceByAccessCode(ctx context.Context, accessCode string) (domain.GameInstance, error)
	GameInstanceByID(ctx context.Context, id string) (domain.GameInstance, error)
	QuestionByUID(ctx context.Context, uid string) (domain.Question, error)
	// TemplateQuestionUIDs returns the immutable play order for a template.
	TemplateQuestionUIDs(ctx context.Context, templateID string) ([]string, error)
	UpsertParticipant(ctx context.Context, gameInstanceID string, p domain.Participant) (domain.Participant, error)
	SetParticipantScore(ctx context.Context, gameInstanceID, userID string, participationType domain.ParticipationType, score int) error
	MarkGameCompleted(ctx context.Context, gameInstanceID string) error
}
