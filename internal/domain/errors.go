package domain

import "errors"

var (
	// ErrGameNotFound is returned when no game state or instance exists for an access code.
	ErrGameNotFound = errors.New("game not found")
	// ErrQuestionNotFound indicates a question uid is absent from the catalog.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in game")
	// ErrInvalidQuestionIndex indicates an index outside the question sequence.
	ErrInvalidQuestionIndex = errors.New("question index out of range")
	// ErrNoQuestions indicates a game template with an empty question sequence.
	ErrNoQuestions = errors.New("game template has no questions")
	// ErrIllegalTransition indicates a game status regression (e.g. completed -> active).
	ErrIllegalTransition = errors.New("illegal game status transition")
	// ErrNotAuthorized is returned when a control action comes from a user who
	// is neither the game initiator nor the template creator.
	ErrNotAuthorized = errors.New("not authorized for this game")
	// ErrSessionAlreadyRunning guards against duplicate deferred sessions per user.
	ErrSessionAlreadyRunning = errors.New("deferred session already running for user")
)

// RejectionCode is the machine-readable code attached to every client-facing
// submission or control failure.
type RejectionCode string

const (
	CodeInvalidPayload       RejectionCode = "INVALID_PAYLOAD"
	CodeGameNotFound         RejectionCode = "GAME_NOT_FOUND"
	CodeParticipantNotFound  RejectionCode = "PARTICIPANT_NOT_FOUND"
	CodeGameNotActive        RejectionCode = "GAME_NOT_ACTIVE"
	CodeAnswersLocked        RejectionCode = "ANSWERS_LOCKED"
	CodeTimerStopped         RejectionCode = "TIMER_STOPPED"
	CodeTimeExpired          RejectionCode = "TIME_EXPIRED"
	CodeDeferredNotAvailable RejectionCode = "DEFERRED_NOT_AVAILABLE"
	CodeSubmissionError      RejectionCode = "SUBMISSION_ERROR"
	CodeNotAuthorized        RejectionCode = "NOT_AUTHORIZED"
)

// Rejection is a structured, client-facing failure. Handlers deliver it as
// an acknowledgment payload so the calling UI is never left hanging; it also
// satisfies error so it can travel through internal call chains.
type Rejection struct {
	Code    RejectionCode `json:"code"`
	Message string        `json:"message"`
}

func (r *Rejection) Error() string {
	return string(r.Code) + ": " + r.Message
}

// Reject builds a Rejection.
func Reject(code RejectionCode, message string) *Rejection {
	return &Rejection{Code: code, Message: message}
}
