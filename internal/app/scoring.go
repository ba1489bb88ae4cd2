package app

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/domain"
)

// Scoring constants. A correct answer earns the base score minus ten points
// per elapsed second of canonical play time, accruing in 100ms steps and
// never dropping below the floor. Incorrect answers always score zero.
const (
	scoreBase          = 1000
	scorePenaltyPerSec = 10
	scoreFloor         = 100
)

// SubmitRequest is one answer submission. DeferredAttempt is zero for live
// play; a positive value addresses that attempt's private answer namespace
// and timer.
type SubmitRequest struct {
	AccessCode        string             `json:"accessCode"`
	UserID            string             `json:"userId"`
	Username          string             `json:"username"`
	AvatarEmoji       string             `json:"avatarEmoji"`
	QuestionUID       string             `json:"questionUid"`
	Answer            domain.AnswerValue `json:"answer"`
	ClientTimeSpentMs int64              `json:"timeSpent"`
	DeferredAttempt   int                `json:"-"`
}

// SubmitResult is the acknowledgment body for a submission. Rejection is nil
// on success; a duplicate resubmission of the identical answer succeeds
// without changing anything.
type SubmitResult struct {
	Rejection  *domain.Rejection   `json:"rejection,omitempty"`
	Record     domain.AnswerRecord `json:"record"`
	TotalScore int                 `json:"totalScore"`
	Changed    bool                `json:"changed"`
	// Explanation is only set for deferred and practice submissions, where
	// feedback goes straight back to the submitter instead of a shared reveal.
	Explanation string `json:"explanation,omitempty"`
}

func rejected(code domain.RejectionCode, msg string) SubmitResult {
	return SubmitResult{Rejection: domain.Reject(code, msg)}
}

// ScoringService validates, scores and persists answer submissions. Every
// validation step re-reads shared state so a submission racing a control
// action (lock, stop, question change) is judged against the freshest state
// available.
type ScoringService struct {
	games     GameStore
	catalog   Catalog
	timers    *TimerService
	state     *GameStateService
	broadcast Broadcaster
	clock     clockwork.Clock
	log       zerolog.Logger
}

func NewScoringService(games GameStore, catalog Catalog, timers *TimerService, state *GameStateService, broadcast Broadcaster, clock clockwork.Clock, log zerolog.Logger) *ScoringService {
	return &ScoringService{
		games:     games,
		catalog:   catalog,
		timers:    timers,
		state:     state,
		broadcast: broadcast,
		clock:     clock,
		log:       log.With().Str("service", "scoring").Logger(),
	}
}

// Submit runs the full submission pipeline. It never returns a Go error for
// client-attributable failures; those come back as a structured rejection so
// the transport can always acknowledge.
func (s *ScoringService) Submit(ctx context.Context, req SubmitRequest) SubmitResult {
	if req.AccessCode == "" || req.UserID == "" || req.QuestionUID == "" || req.Answer.IsZero() {
		return rejected(domain.CodeInvalidPayload, "missing access code, user, question or answer")
	}

	deferred := req.DeferredAttempt > 0
	stateKey := req.AccessCode
	if deferred {
		// A replay is judged against its own session record; the live game
		// state may already be swept by the time the replay runs.
		stateKey = DeferredSessionKey(req.AccessCode, req.UserID, req.DeferredAttempt)
	}
	state, err := s.games.GameState(ctx, stateKey)
	if err != nil {
		if errors.Is(err, domain.ErrGameNotFound) {
			return rejected(domain.CodeGameNotFound, "no game for access code "+req.AccessCode)
		}
		s.log.Error().Err(err).Str("accessCode", req.AccessCode).Msg("game state read failed")
		return rejected(domain.CodeSubmissionError, "could not load game state")
	}

	if deferred {
		instance, err := s.catalog.GameInstanceByAccessCode(ctx, req.AccessCode)
		if err != nil {
			return rejected(domain.CodeGameNotFound, "no game instance for access code "+req.AccessCode)
		}
		if !instance.DeferredWindowOpen(s.clock.Now()) {
			return rejected(domain.CodeDeferredNotAvailable, "deferred window is closed")
		}
	}
	if state.Status != domain.GameStatusActive {
		return rejected(domain.CodeGameNotActive, "game is not active")
	}
	if req.QuestionUID != state.CurrentQuestionUID() {
		return rejected(domain.CodeInvalidPayload, "question "+req.QuestionUID+" is not the active question")
	}
	question, err := s.catalog.QuestionByUID(ctx, req.QuestionUID)
	if err != nil {
		return rejected(domain.CodeInvalidPayload, "unknown question "+req.QuestionUID)
	}

	if !deferred && state.AnswersLocked {
		return rejected(domain.CodeAnswersLocked, "answers are locked")
	}

	participant, err := s.ensureParticipant(ctx, state, req, deferred)
	if err != nil {
		var rej *domain.Rejection
		if errors.As(err, &rej) {
			return SubmitResult{Rejection: rej}
		}
		s.log.Error().Err(err).Str("accessCode", req.AccessCode).Str("userId", req.UserID).
			Msg("participant resolution failed")
		return rejected(domain.CodeSubmissionError, "could not resolve participant")
	}

	key := domain.TimerKey{
		AccessCode:  req.AccessCode,
		QuestionUID: req.QuestionUID,
		PlayMode:    state.GameMode,
		Deferred:    deferred,
		UserID:      req.UserID,
		Attempt:     req.DeferredAttempt,
	}
	if state.GameMode.Timed() {
		snap := s.timers.Snapshot(ctx, key, EffectiveDurationMs(question, state.Settings))
		// Order matters: a stopped timer reports TIMER_STOPPED even though
		// its remaining time is also zero.
		if snap.Status == domain.TimerStop {
			return rejected(domain.CodeTimerStopped, "timer is stopped for question "+req.QuestionUID)
		}
		if snap.Expired() {
			return rejected(domain.CodeTimeExpired, "time is up for question "+req.QuestionUID)
		}
	}

	serverTimeSpent := s.timers.Elapsed(ctx, key)
	correct := question.IsCorrect(req.Answer)
	score := 0
	if correct {
		score = computeScore(serverTimeSpent)
	}

	prev, hadPrev, err := s.games.Answer(ctx, req.AccessCode, req.QuestionUID, req.DeferredAttempt, req.UserID)
	if err != nil {
		s.log.Error().Err(err).Str("accessCode", req.AccessCode).Msg("previous answer read failed")
		return rejected(domain.CodeSubmissionError, "could not read previous answer")
	}
	if hadPrev && prev.Answer.Equal(req.Answer) {
		// Identical resubmission keeps the original record and score.
		return SubmitResult{Record: prev, TotalScore: participant.Score, Changed: false}
	}

	record := domain.AnswerRecord{
		UserID:            req.UserID,
		QuestionUID:       req.QuestionUID,
		Answer:            req.Answer,
		TimeSpentMs:       req.ClientTimeSpentMs,
		ServerTimeSpentMs: serverTimeSpent,
		SubmittedAt:       s.clock.Now().UnixMilli(),
		IsCorrect:         correct,
		Score:             score,
	}
	if err := s.games.SetAnswer(ctx, req.AccessCode, req.QuestionUID, req.DeferredAttempt, record); err != nil {
		s.log.Error().Err(err).Str("accessCode", req.AccessCode).Msg("answer persist failed")
		return rejected(domain.CodeSubmissionError, "could not persist answer")
	}

	// A changed answer replaces the previous score for this question; scores
	// never stack across resubmissions.
	delta := score
	if hadPrev {
		delta = score - prev.Score
	}
	participant.Score += delta
	if participant.Score < 0 {
		participant.Score = 0
	}
	if err := s.games.SetParticipant(ctx, req.AccessCode, participant); err != nil {
		s.log.Error().Err(err).Str("accessCode", req.AccessCode).Msg("participant persist failed")
		return rejected(domain.CodeSubmissionError, "could not persist score")
	}
	participation := domain.ParticipationLive
	if deferred {
		participation = domain.ParticipationDeferred
	}
	if err := s.catalog.SetParticipantScore(ctx, state.GameID, req.UserID, participation, participant.Score); err != nil {
		s.log.Warn().Err(err).Str("gameId", state.GameID).Str("userId", req.UserID).
			Msg("durable score write failed")
	}
	if !deferred {
		if err := s.games.SetLeaderboardScore(ctx, req.AccessCode, req.UserID, participant.Score); err != nil {
			s.log.Warn().Err(err).Str("accessCode", req.AccessCode).Msg("leaderboard write failed")
		}
		s.broadcastSubmission(ctx, state, req.QuestionUID)
	}

	s.log.Debug().Str("accessCode", req.AccessCode).Str("userId", req.UserID).
		Str("questionUid", req.QuestionUID).Bool("correct", correct).
		Int("score", score).Int64("serverTimeSpentMs", serverTimeSpent).
		Msg("answer recorded")
	result := SubmitResult{Record: record, TotalScore: participant.Score, Changed: true}
	if deferred || state.GameMode == domain.PlayModePractice {
		result.Explanation = question.Explanation
	}
	return result
}

// ensureParticipant resolves the submitting participant. Tournament and
// practice players are created on first submission; quiz players must have
// joined through the lobby first.
func (s *ScoringService) ensureParticipant(ctx context.Context, state domain.GameState, req SubmitRequest, deferred bool) (domain.Participant, error) {
	p, found, err := s.games.Participant(ctx, req.AccessCode, req.UserID)
	if err != nil {
		return domain.Participant{}, err
	}
	if found {
		return p, nil
	}
	if state.GameMode == domain.PlayModeQuiz && !deferred {
		return domain.Participant{}, domain.Reject(domain.CodeParticipantNotFound, "join the game before answering")
	}
	participation := domain.ParticipationLive
	if deferred {
		participation = domain.ParticipationDeferred
	}
	username := req.Username
	if username == "" {
		username = "Unknown Player"
	}
	p = domain.Participant{
		UserID:            req.UserID,
		Username:          username,
		AvatarEmoji:       req.AvatarEmoji,
		ParticipationType: participation,
		AttemptCount:      req.DeferredAttempt,
		JoinedAt:          s.clock.Now().UnixMilli(),
	}
	created, err := s.catalog.UpsertParticipant(ctx, state.GameID, p)
	if err != nil {
		return domain.Participant{}, err
	}
	if err := s.games.SetParticipant(ctx, req.AccessCode, created); err != nil {
		return domain.Participant{}, err
	}
	return created, nil
}

func (s *ScoringService) broadcastSubmission(ctx context.Context, state domain.GameState, questionUID string) {
	stats, err := s.state.AnswerStats(ctx, state.AccessCode, questionUID)
	if err != nil {
		s.log.Warn().Err(err).Str("accessCode", state.AccessCode).Msg("answer stats failed")
	} else {
		s.broadcast.Broadcast(DashboardRoom(state.GameID), EventAnswerStatsUpdate, AnswerStatsPayload{
			AccessCode:  state.AccessCode,
			QuestionUID: questionUID,
			Stats:       stats,
		})
		display, derr := s.games.ProjectionDisplay(ctx, state.AccessCode)
		if derr == nil && display.ShowStats {
			display.CurrentStats = stats
			display.StatsQuestionUID = questionUID
			if serr := s.games.SetProjectionDisplay(ctx, state.AccessCode, display); serr == nil {
				s.broadcast.Broadcast(ProjectionRoom(state.GameID), EventProjectionDisplay, display)
			}
		}
	}
	if state.Settings.ShowLeaderboard {
		leaderboard, err := s.state.Leaderboard(ctx, state.AccessCode)
		if err != nil {
			s.log.Warn().Err(err).Str("accessCode", state.AccessCode).Msg("leaderboard assembly failed")
			return
		}
		payload := LeaderboardPayload{AccessCode: state.AccessCode, Leaderboard: leaderboard}
		s.broadcast.Broadcast(ProjectionRoom(state.GameID), EventLeaderboardUpdate, payload)
		s.broadcast.Broadcast(DashboardRoom(state.GameID), EventLeaderboardUpdate, payload)
	}
}

// computeScore maps canonical elapsed milliseconds to points for a correct
// answer. The penalty ticks every 100ms, not once per whole second.
func computeScore(serverTimeSpentMs int64) int {
	if serverTimeSpentMs < 0 {
		serverTimeSpentMs = 0
	}
	penalty := int(serverTimeSpentMs * scorePenaltyPerSec / 1000)
	score := scoreBase - penalty
	if score < scoreFloor {
		return scoreFloor
	}
	return score
}
