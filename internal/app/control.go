package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/domain"
)

// Timer actions accepted from the dashboard.
const (
	TimerActionStart       = "start"
	TimerActionPause       = "pause"
	TimerActionResume      = "resume"
	TimerActionStop        = "stop"
	TimerActionSetDuration = "set_duration"
)

// autoAdvanceDisplayWindow is how long a tournament shows the revealed
// correct answers before moving on. Quiz games never auto-advance.
const autoAdvanceDisplayWindow = 5 * time.Second

// ControlService executes teacher dashboard actions: question sequencing,
// timer control, the answer lock, correct-answer reveal and game teardown.
// Every action is authorized against the game instance before touching state.
type ControlService struct {
	games     GameStore
	catalog   Catalog
	timers    *TimerService
	state     *GameStateService
	broadcast Broadcaster
	expiry    *ExpiryRegistry
	sessions  *SessionRegistry
	clock     clockwork.Clock
	log       zerolog.Logger
}

func NewControlService(games GameStore, catalog Catalog, timers *TimerService, state *GameStateService, broadcast Broadcaster, expiry *ExpiryRegistry, sessions *SessionRegistry, clock clockwork.Clock, log zerolog.Logger) *ControlService {
	return &ControlService{
		games:     games,
		catalog:   catalog,
		timers:    timers,
		state:     state,
		broadcast: broadcast,
		expiry:    expiry,
		sessions:  sessions,
		clock:     clock,
		log:       log.With().Str("service", "control").Logger(),
	}
}

// authorize loads the game instance and checks the acting user may control
// it. Both the game initiator and the quiz template creator qualify.
func (s *ControlService) authorize(ctx context.Context, accessCode, userID string) (domain.GameInstance, error) {
	instance, err := s.catalog.GameInstanceByAccessCode(ctx, accessCode)
	if err != nil {
		return domain.GameInstance{}, err
	}
	if userID != instance.InitiatorUserID && userID != instance.TemplateCreatorID {
		return domain.GameInstance{}, fmt.Errorf("%w: user %s on game %s", domain.ErrNotAuthorized, userID, accessCode)
	}
	return instance, nil
}

// InitializeGame builds the initial state for the game behind accessCode and
// announces it to the dashboard.
func (s *ControlService) InitializeGame(ctx context.Context, accessCode, userID string) (domain.GameState, error) {
	instance, err := s.authorize(ctx, accessCode, userID)
	if err != nil {
		return domain.GameState{}, err
	}
	state, err := s.state.Initialize(ctx, instance.ID)
	if err != nil {
		return domain.GameState{}, err
	}
	s.broadcast.Broadcast(DashboardRoom(instance.ID), EventQuestionChanged, QuestionPayload{
		AccessCode:     accessCode,
		QuestionIndex:  state.CurrentQuestionIndex,
		TotalQuestions: len(state.QuestionUIDs),
	})
	return state, nil
}

// SetQuestion activates the question at index and announces it to every
// room. The new question always begins with a paused full-duration timer;
// any expiry armed for the previous question is cancelled.
func (s *ControlService) SetQuestion(ctx context.Context, accessCode, userID string, index int) (domain.GameState, error) {
	instance, err := s.authorize(ctx, accessCode, userID)
	if err != nil {
		return domain.GameState{}, err
	}
	return s.setQuestion(ctx, instance, accessCode, index)
}

func (s *ControlService) setQuestion(ctx context.Context, instance domain.GameInstance, accessCode string, index int) (domain.GameState, error) {
	state, question, snap, err := s.state.SetCurrentQuestion(ctx, accessCode, index)
	if err != nil {
		return domain.GameState{}, err
	}
	s.expiry.Cancel(instance.ID)

	payload := QuestionPayload{
		AccessCode:     accessCode,
		Question:       state.QuestionData,
		QuestionIndex:  index,
		TotalQuestions: len(state.QuestionUIDs),
		Timer:          snap,
	}
	s.broadcast.Broadcast(DashboardRoom(instance.ID), EventQuestionChanged, payload)
	s.broadcast.Broadcast(LiveRoom(accessCode), EventGameQuestion, payload)
	s.broadcast.Broadcast(ProjectionRoom(instance.ID), EventGameQuestion, payload)
	s.emitTimer(instance.ID, state, snap)

	s.log.Info().Str("accessCode", accessCode).Str("questionUid", question.UID).
		Int("index", index).Msg("question activated")
	return state, nil
}

// TimerAction applies one dashboard timer command to the current question.
// Actions carrying a stale questionUid (from before a question switch) are
// refused rather than applied to the wrong timer.
func (s *ControlService) TimerAction(ctx context.Context, accessCode, userID, action, questionUID string, durationMs int64) (domain.TimerSnapshot, error) {
	instance, err := s.authorize(ctx, accessCode, userID)
	if err != nil {
		return domain.TimerSnapshot{}, err
	}
	state, err := s.games.GameState(ctx, accessCode)
	if err != nil {
		return domain.TimerSnapshot{}, err
	}
	currentUID := state.CurrentQuestionUID()
	if currentUID == "" {
		return domain.TimerSnapshot{}, domain.ErrInvalidQuestionIndex
	}
	if questionUID != "" && questionUID != currentUID {
		return domain.TimerSnapshot{}, fmt.Errorf("stale timer action for %s, current question is %s", questionUID, currentUID)
	}
	question, err := s.catalog.QuestionByUID(ctx, currentUID)
	if err != nil {
		return domain.TimerSnapshot{}, err
	}
	key := domain.TimerKey{AccessCode: accessCode, QuestionUID: currentUID, PlayMode: state.GameMode}
	duration := durationMs
	if duration <= 0 {
		duration = EffectiveDurationMs(question, state.Settings)
	}

	var snap domain.TimerSnapshot
	switch action {
	case TimerActionStart, TimerActionResume:
		snap, err = s.timers.Start(ctx, key, duration)
		if err == nil {
			s.scheduleExpiry(instance.ID, accessCode, currentUID, state.GameMode, snap)
		}
	case TimerActionPause:
		snap, err = s.timers.Pause(ctx, key)
		s.expiry.Cancel(instance.ID)
	case TimerActionStop:
		snap, err = s.timers.Stop(ctx, key)
		s.expiry.Cancel(instance.ID)
	case TimerActionSetDuration:
		if durationMs <= 0 {
			return domain.TimerSnapshot{}, fmt.Errorf("set_duration requires a positive duration")
		}
		snap, err = s.timers.SetDuration(ctx, key, durationMs)
		if err == nil && snap.Status == domain.TimerRun {
			s.scheduleExpiry(instance.ID, accessCode, currentUID, state.GameMode, snap)
		}
	default:
		return domain.TimerSnapshot{}, fmt.Errorf("unknown timer action %q", action)
	}
	if err != nil {
		return domain.TimerSnapshot{}, err
	}
	s.emitTimer(instance.ID, state, snap)
	return snap, nil
}

// scheduleExpiry arms the auto-stop for a running timer. Arming replaces any
// previously scheduled expiry for the game, so a superseded question or an
// edited duration can never fire a stale stop.
func (s *ControlService) scheduleExpiry(gameID, accessCode, questionUID string, mode domain.PlayMode, snap domain.TimerSnapshot) {
	if snap.Status != domain.TimerRun {
		return
	}
	delay := time.Duration(snap.TimeLeftMs) * time.Millisecond
	s.expiry.Schedule(gameID, questionUID, delay, func() {
		ctx := context.Background()
		key := domain.TimerKey{AccessCode: accessCode, QuestionUID: questionUID, PlayMode: mode}
		stopped, err := s.timers.Stop(ctx, key)
		if err != nil {
			s.log.Error().Err(err).Str("accessCode", accessCode).Str("questionUid", questionUID).
				Msg("expiry stop failed")
			return
		}
		state, err := s.games.GameState(ctx, accessCode)
		if err != nil {
			s.log.Error().Err(err).Str("accessCode", accessCode).Msg("state read failed on expiry")
			return
		}
		s.emitTimer(gameID, state, stopped)
		s.log.Info().Str("accessCode", accessCode).Str("questionUid", questionUID).Msg("timer expired")
	})
}

// emitTimer fans the canonical timer snapshot out to the dashboard, players
// and projection.
func (s *ControlService) emitTimer(gameID string, state domain.GameState, snap domain.TimerSnapshot) {
	payload := TimerUpdatePayload{
		AccessCode:     state.AccessCode,
		GameID:         gameID,
		Timer:          snap,
		QuestionUID:    snap.QuestionUID,
		QuestionIndex:  state.CurrentQuestionIndex,
		TotalQuestions: len(state.QuestionUIDs),
		AnswersLocked:  state.AnswersLocked,
		ServerTime:     s.clock.Now().UnixMilli(),
	}
	s.broadcast.Broadcast(DashboardRoom(gameID), EventDashboardTimer, payload)
	s.broadcast.Broadcast(LiveRoom(state.AccessCode), EventTimerUpdated, payload)
	s.broadcast.Broadcast(ProjectionRoom(gameID), EventTimerUpdated, payload)
}

// LockAnswers sets the answer lock. The flag is persisted before anything is
// broadcast or returned, so once the dashboard sees the acknowledgment every
// subsequent submission is judged against the new flag.
func (s *ControlService) LockAnswers(ctx context.Context, accessCode, userID string, locked bool) error {
	instance, err := s.authorize(ctx, accessCode, userID)
	if err != nil {
		return err
	}
	state, err := s.games.GameState(ctx, accessCode)
	if err != nil {
		return err
	}
	state.AnswersLocked = locked
	if err := s.state.Save(ctx, state); err != nil {
		return err
	}
	payload := LockPayload{AccessCode: accessCode, QuestionUID: state.CurrentQuestionUID(), AnswersLocked: locked}
	s.broadcast.Broadcast(LiveRoom(accessCode), EventAnswersLockChanged, payload)
	s.broadcast.Broadcast(DashboardRoom(instance.ID), EventAnswersLockChanged, payload)
	s.broadcast.Broadcast(ProjectionRoom(instance.ID), EventAnswersLockChanged, payload)
	s.log.Info().Str("accessCode", accessCode).Bool("locked", locked).Msg("answer lock changed")
	return nil
}

// EndGame completes the game. Ending an already-completed game is a no-op
// that still re-broadcasts the terminal event. Cleanup failures are logged
// but never surface to the dashboard once the status flip has persisted.
func (s *ControlService) EndGame(ctx context.Context, accessCode, userID string) error {
	instance, err := s.authorize(ctx, accessCode, userID)
	if err != nil {
		return err
	}
	return s.endGame(ctx, instance, accessCode)
}

func (s *ControlService) endGame(ctx context.Context, instance domain.GameInstance, accessCode string) error {
	state, err := s.games.GameState(ctx, accessCode)
	if err != nil {
		// A completed game's shared state is cleaned up on the first end; a
		// repeated end just re-announces the terminal event.
		if errors.Is(err, domain.ErrGameNotFound) && instance.Status == domain.GameStatusCompleted {
			s.broadcastGameEnded(instance, accessCode, s.templateQuestionCount(ctx, instance))
			return nil
		}
		return err
	}
	if state.Status != domain.GameStatusCompleted {
		if !state.Status.CanTransition(domain.GameStatusCompleted) {
			return fmt.Errorf("%w: %s -> completed", domain.ErrIllegalTransition, state.Status)
		}
		state.Status = domain.GameStatusCompleted
		state.AnswersLocked = true
		if err := s.state.Save(ctx, state); err != nil {
			return err
		}
	}
	s.expiry.Cancel(instance.ID)
	s.sessions.CleanupGame(accessCode)
	if err := s.catalog.MarkGameCompleted(ctx, instance.ID); err != nil {
		s.log.Warn().Err(err).Str("gameId", instance.ID).Msg("durable completion mark failed")
	}
	if uid := state.CurrentQuestionUID(); uid != "" {
		key := domain.TimerKey{AccessCode: accessCode, QuestionUID: uid, PlayMode: state.GameMode}
		if _, err := s.timers.Stop(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("accessCode", accessCode).Msg("final timer stop failed")
		}
	}

	s.broadcastGameEnded(instance, accessCode, len(state.QuestionUIDs))

	if leaderboard, err := s.state.Leaderboard(ctx, accessCode); err == nil {
		final := LeaderboardPayload{AccessCode: accessCode, Leaderboard: leaderboard}
		s.broadcast.Broadcast(LiveRoom(accessCode), EventLeaderboardUpdate, final)
		s.broadcast.Broadcast(ProjectionRoom(instance.ID), EventLeaderboardUpdate, final)
	} else {
		s.log.Warn().Err(err).Str("accessCode", accessCode).Msg("final leaderboard assembly failed")
	}

	// The final leaderboard has been announced; every shared-state key for the
	// game can go. The durable catalog rows keep the scores.
	if err := s.games.DeleteGameData(ctx, accessCode); err != nil {
		s.log.Warn().Err(err).Str("accessCode", accessCode).Msg("shared state cleanup failed")
	}
	s.log.Info().Str("accessCode", accessCode).Msg("game ended")
	return nil
}

func (s *ControlService) broadcastGameEnded(instance domain.GameInstance, accessCode string, totalQuestions int) {
	payload := GameEndedPayload{AccessCode: accessCode, TotalQuestions: totalQuestions}
	s.broadcast.Broadcast(LiveRoom(accessCode), EventGameEnded, payload)
	s.broadcast.Broadcast(DashboardRoom(instance.ID), EventGameEnded, payload)
	s.broadcast.Broadcast(ProjectionRoom(instance.ID), EventGameEnded, payload)
}

func (s *ControlService) templateQuestionCount(ctx context.Context, instance domain.GameInstance) int {
	uids, err := s.catalog.TemplateQuestionUIDs(ctx, instance.TemplateID)
	if err != nil {
		s.log.Warn().Err(err).Str("templateId", instance.TemplateID).Msg("template question count unavailable")
		return 0
	}
	return len(uids)
}

// ShowCorrectAnswers reveals the correct-answer set for the current question,
// marks the question terminated and, when the question carries an
// explanation, opens the feedback window.
func (s *ControlService) ShowCorrectAnswers(ctx context.Context, accessCode, userID string) error {
	instance, err := s.authorize(ctx, accessCode, userID)
	if err != nil {
		return err
	}
	state, err := s.games.GameState(ctx, accessCode)
	if err != nil {
		return err
	}
	uid := state.CurrentQuestionUID()
	if uid == "" {
		return domain.ErrInvalidQuestionIndex
	}
	question, err := s.catalog.QuestionByUID(ctx, uid)
	if err != nil {
		return err
	}
	if err := s.games.MarkQuestionTerminated(ctx, accessCode, uid); err != nil {
		s.log.Warn().Err(err).Str("accessCode", accessCode).Str("questionUid", uid).
			Msg("terminated-question mark failed")
	}
	display, err := s.games.ProjectionDisplay(ctx, accessCode)
	if err != nil {
		display = domain.DefaultProjectionDisplayState()
	}
	display.ShowCorrectAnswers = true
	display.CorrectAnswersUID = uid
	if err := s.games.SetProjectionDisplay(ctx, accessCode, display); err != nil {
		s.log.Warn().Err(err).Str("accessCode", accessCode).Msg("projection display persist failed")
	}

	reveal := CorrectAnswersPayload{
		AccessCode:     accessCode,
		QuestionUID:    uid,
		CorrectAnswers: question.CorrectAnswers,
		CorrectValue:   question.CorrectValue,
	}
	s.broadcast.Broadcast(LiveRoom(accessCode), EventCorrectAnswers, reveal)
	s.broadcast.Broadcast(ProjectionRoom(instance.ID), EventCorrectAnswers, reveal)
	s.broadcast.Broadcast(DashboardRoom(instance.ID), EventCorrectAnswers, reveal)

	if question.Explanation != "" {
		feedback := FeedbackPayload{
			AccessCode:        accessCode,
			QuestionUID:       uid,
			Explanation:       question.Explanation,
			FeedbackRemaining: question.FeedbackWaitSec,
		}
		s.broadcast.Broadcast(LiveRoom(accessCode), EventFeedback, feedback)
		s.broadcast.Broadcast(ProjectionRoom(instance.ID), EventFeedback, feedback)
	}

	// Tournaments move on by themselves once the reveal window (plus any
	// feedback window) has passed. Quiz games stay teacher-paced.
	if state.GameMode == domain.PlayModeTournament {
		s.scheduleAutoAdvance(instance, state, question)
	}
	return nil
}

// scheduleAutoAdvance arms the tournament transition to the next question, or
// to game end after the last one. It shares the per-game expiry slot, so a
// manual question change or a new timer supersedes it.
func (s *ControlService) scheduleAutoAdvance(instance domain.GameInstance, state domain.GameState, question domain.Question) {
	delay := autoAdvanceDisplayWindow
	if question.Explanation != "" && question.FeedbackWaitSec > 0 {
		delay += time.Duration(question.FeedbackWaitSec) * time.Second
	}
	next := state.CurrentQuestionIndex + 1
	s.expiry.Schedule(instance.ID, question.UID, delay, func() {
		ctx := context.Background()
		if next >= len(state.QuestionUIDs) {
			if err := s.endGame(ctx, instance, state.AccessCode); err != nil {
				s.log.Error().Err(err).Str("accessCode", state.AccessCode).Msg("tournament auto-end failed")
			}
			return
		}
		if _, err := s.setQuestion(ctx, instance, state.AccessCode, next); err != nil {
			s.log.Error().Err(err).Str("accessCode", state.AccessCode).Int("index", next).
				Msg("tournament auto-advance failed")
		}
	})
}

// ToggleProjectionStats shows or hides the live answer histogram on the
// projection display. Showing recomputes the stats for the current question
// so the projection never renders a stale histogram.
func (s *ControlService) ToggleProjectionStats(ctx context.Context, accessCode, userID string, show bool) (domain.ProjectionDisplayState, error) {
	instance, err := s.authorize(ctx, accessCode, userID)
	if err != nil {
		return domain.ProjectionDisplayState{}, err
	}
	state, err := s.games.GameState(ctx, accessCode)
	if err != nil {
		return domain.ProjectionDisplayState{}, err
	}
	display, err := s.games.ProjectionDisplay(ctx, accessCode)
	if err != nil {
		display = domain.DefaultProjectionDisplayState()
	}
	display.ShowStats = show
	if show {
		uid := state.CurrentQuestionUID()
		stats, err := s.state.AnswerStats(ctx, accessCode, uid)
		if err != nil {
			return domain.ProjectionDisplayState{}, err
		}
		display.CurrentStats = stats
		display.StatsQuestionUID = uid
	} else {
		display.CurrentStats = map[string]int{}
		display.StatsQuestionUID = ""
	}
	if err := s.games.SetProjectionDisplay(ctx, accessCode, display); err != nil {
		return domain.ProjectionDisplayState{}, err
	}
	s.broadcast.Broadcast(ProjectionRoom(instance.ID), EventProjectionDisplay, display)
	return display, nil
}
