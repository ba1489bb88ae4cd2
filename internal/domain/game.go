package domain

import "time"

// PlayMode determines timer semantics: quiz and live tournament share one
// global timer, deferred tournament replays run a private per-user timer,
// practice has no timer at all.
type PlayMode string

const (
	PlayModeQuiz       PlayMode = "quiz"
	PlayModeTournament PlayMode = "tournament"
	PlayModePractice   PlayMode = "practice"
)

// Timed reports whether the mode enforces a canonical timer.
func (m PlayMode) Timed() bool {
	return m != PlayModePractice
}

// GameStatus is the lifecycle state of a game. Transitions are monotonic:
// pending -> active -> completed, never backwards.
type GameStatus string

const (
	GameStatusPending   GameStatus = "pending"
	GameStatusActive    GameStatus = "active"
	GameStatusCompleted GameStatus = "completed"
)

func (s GameStatus) rank() int {
	switch s {
	case GameStatusPending:
		return 0
	case GameStatusActive:
		return 1
	case GameStatusCompleted:
		return 2
	}
	return -1
}

// CanTransition reports whether moving to next is legal. Re-asserting the
// current status is allowed so control handlers stay idempotent.
func (s GameStatus) CanTransition(next GameStatus) bool {
	sr, nr := s.rank(), next.rank()
	return sr >= 0 && nr >= 0 && nr >= sr
}

// GameSettings are the per-game knobs carried in game state.
type GameSettings struct {
	TimeMultiplier  float64 `json:"timeMultiplier"`
	ShowLeaderboard bool    `json:"showLeaderboard"`
}

// GameState is the authoritative per-game aggregate stored in the shared
// state store under game:{accessCode} with a 24h TTL.
type GameState struct {
	GameID               string          `json:"gameId"`
	AccessCode           string          `json:"accessCode"`
	Status               GameStatus      `json:"status"`
	CurrentQuestionIndex int             `json:"currentQuestionIndex"` // -1 means no active question
	QuestionUIDs         []string        `json:"questionUids"`
	AnswersLocked        bool            `json:"answersLocked"`
	GameMode             PlayMode        `json:"gameMode"`
	StartedAt            int64           `json:"startedAt"`
	Settings             GameSettings    `json:"settings"`
	QuestionData         *ClientQuestion `json:"questionData,omitempty"`
}

// CurrentQuestionUID returns the active question uid, or "" when no question
// is active.
func (g GameState) CurrentQuestionUID() string {
	if g.CurrentQuestionIndex < 0 || g.CurrentQuestionIndex >= len(g.QuestionUIDs) {
		return ""
	}
	return g.QuestionUIDs[g.CurrentQuestionIndex]
}

// GameInstance is the durable catalog record for a game, looked up by access
// code. The session core treats it as read-mostly.
type GameInstance struct {
	ID                string
	AccessCode        string
	Status            GameStatus
	PlayMode          PlayMode
	Deferred          bool
	DeferredFrom      time.Time
	DeferredTo        time.Time
	InitiatorUserID   string
	TemplateID        string
	TemplateCreatorID string
	Settings          GameSettings
}

// DeferredWindowOpen reports whether now falls inside the deferred replay
// window. A zero DeferredTo means the window never closes.
func (g GameInstance) DeferredWindowOpen(now time.Time) bool {
	if !g.Deferred {
		return false
	}
	if !g.DeferredFrom.IsZero() && now.Before(g.DeferredFrom) {
		return false
	}
	if !g.DeferredTo.IsZero() && !now.Before(g.DeferredTo) {
		return false
	}
	return true
}

// ParticipationType distinguishes concurrent participant records for the same
// user in the same game.
type ParticipationType string

const (
	ParticipationLive     ParticipationType = "LIVE"
	ParticipationDeferred ParticipationType = "DEFERRED"
)

// Participant is the per-game, per-user score record mirrored between the
// durable catalog and the shared state store hash.
type Participant struct {
	UserID            string            `json:"userId"`
	Username          string            `json:"username"`
	AvatarEmoji       string            `json:"avatarEmoji,omitempty"`
	Score             int               `json:"score"`
	ParticipationType ParticipationType `json:"participationType"`
	AttemptCount      int               `json:"attemptCount"`
	JoinedAt          int64             `json:"joinedAt"`
}

// LeaderboardEntry is one row of the assembled leaderboard.
type LeaderboardEntry struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	AvatarEmoji string `json:"avatarEmoji,omitempty"`
	Score       int    `json:"score"`
	Rank        int    `json:"rank"`
}

// FullGameState is the assembled projection-facing view: state plus
// participants, current-question answers and the reconstructed leaderboard.
type FullGameState struct {
	GameState    GameState                 `json:"gameState"`
	Participants []Participant             `json:"participants"`
	Answers      map[string][]AnswerRecord `json:"answers"`
	Leaderboard  []LeaderboardEntry        `json:"leaderboard"`
}

// ProjectionDisplayState holds the transient per-question projection toggles.
// They are persisted so a projection page reload reconstructs the same view,
// and reset on every question change.
type ProjectionDisplayState struct {
	ShowStats          bool           `json:"showStats"`
	CurrentStats       map[string]int `json:"currentStats"`
	StatsQuestionUID   string         `json:"statsQuestionUid,omitempty"`
	ShowCorrectAnswers bool           `json:"showCorrectAnswers"`
	CorrectAnswersUID  string         `json:"correctAnswersUid,omitempty"`
}

// DefaultProjectionDisplayState is the cleared state applied on each new
// question.
func DefaultProjectionDisplayState() ProjectionDisplayState {
	return ProjectionDisplayState{CurrentStats: map[string]int{}}
}
