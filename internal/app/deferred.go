package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/domain"
)

// feedbackLeadIn is the pause between revealing correct answers and opening
// the explanation window, mirroring the live reveal pacing.
const feedbackLeadIn = 1500 * time.Millisecond

// deferredSessionTTL bounds how long an abandoned replay's private state
// record lingers in the shared store.
const deferredSessionTTL = 24 * time.Hour

// DeferredSessionKey addresses one replay attempt's private game state record
// in the shared store.
func DeferredSessionKey(accessCode, userID string, attempt int) string {
	return fmt.Sprintf("deferred_session:%s:%s:%d", accessCode, userID, attempt)
}

// DeferredRunner drives a self-paced replay of a completed tournament for a
// single user. Each replay gets its own attempt number, so its timers and
// answers live in a namespace no concurrent session can touch. One session
// per user runs at a time; the sequence is question, timed wait, reveal,
// optional feedback window, then the next question.
type DeferredRunner struct {
	games     GameStore
	catalog   Catalog
	timers    *TimerService
	broadcast Broadcaster
	sessions  *SessionRegistry
	clock     clockwork.Clock
	log       zerolog.Logger
}

func NewDeferredRunner(games GameStore, catalog Catalog, timers *TimerService, broadcast Broadcaster, sessions *SessionRegistry, clock clockwork.Clock, log zerolog.Logger) *DeferredRunner {
	return &DeferredRunner{
		games:     games,
		catalog:   catalog,
		timers:    timers,
		broadcast: broadcast,
		sessions:  sessions,
		clock:     clock,
		log:       log.With().Str("service", "deferred").Logger(),
	}
}

// Replayable reports whether the game is played through private deferred
// sessions instead of the live room: a tournament inside its replay window.
// A completed tournament's live run being over is exactly the case the
// replay window exists for.
func (r *DeferredRunner) Replayable(instance domain.GameInstance) bool {
	return instance.PlayMode == domain.PlayModeTournament &&
		instance.DeferredWindowOpen(r.clock.Now())
}

// Start validates availability, claims the user's session slot and returns
// the attempt number plus the context the session runs on. That context
// belongs to the slot, not to the caller's connection: Run keeps going after
// the socket that started it disappears, and is cancelled only when the slot
// is released or the game is torn down. The caller invokes Run (usually on
// its own goroutine) to drive the question sequence.
func (r *DeferredRunner) Start(ctx context.Context, accessCode, userID, username, avatarEmoji string) (int, context.Context, error) {
	instance, err := r.catalog.GameInstanceByAccessCode(ctx, accessCode)
	if err != nil {
		return 0, nil, err
	}
	if !instance.DeferredWindowOpen(r.clock.Now()) {
		return 0, nil, domain.Reject(domain.CodeDeferredNotAvailable, "deferred window is closed for "+accessCode)
	}
	if !instance.PlayMode.Timed() {
		return 0, nil, domain.Reject(domain.CodeDeferredNotAvailable, "practice games are not replayed through deferred sessions")
	}
	sessionCtx, ok := r.sessions.Register(userID, accessCode)
	if !ok {
		active, _ := r.sessions.Active(userID)
		r.log.Warn().Str("userId", userID).Str("accessCode", accessCode).
			Str("activeSession", active).Msg("deferred session already running")
		return 0, nil, domain.ErrSessionAlreadyRunning
	}

	attempt, err := r.bumpAttempt(ctx, instance, userID, username, avatarEmoji)
	if err != nil {
		r.sessions.Unregister(userID)
		return 0, nil, err
	}
	r.log.Info().Str("accessCode", accessCode).Str("userId", userID).
		Int("attempt", attempt).Msg("deferred session started")
	return attempt, sessionCtx, nil
}

// bumpAttempt increments and persists the user's attempt counter.
func (r *DeferredRunner) bumpAttempt(ctx context.Context, instance domain.GameInstance, userID, username, avatarEmoji string) (int, error) {
	p, found, err := r.games.Participant(ctx, instance.AccessCode, userID)
	if err != nil {
		return 0, err
	}
	if !found {
		p = domain.Participant{
			UserID:            userID,
			Username:          username,
			AvatarEmoji:       avatarEmoji,
			ParticipationType: domain.ParticipationDeferred,
			JoinedAt:          r.clock.Now().UnixMilli(),
		}
	}
	p.AttemptCount++
	p.ParticipationType = domain.ParticipationDeferred
	created, err := r.catalog.UpsertParticipant(ctx, instance.ID, p)
	if err != nil {
		return 0, err
	}
	if created.AttemptCount < p.AttemptCount {
		created.AttemptCount = p.AttemptCount
	}
	if err := r.games.SetParticipant(ctx, instance.AccessCode, created); err != nil {
		return 0, err
	}
	return created.AttemptCount, nil
}

// Run drives the full question sequence for one claimed attempt. It always
// releases the user's session slot on return, whatever the exit path.
func (r *DeferredRunner) Run(ctx context.Context, accessCode, userID string, attempt int) error {
	defer r.sessions.Unregister(userID)

	instance, err := r.catalog.GameInstanceByAccessCode(ctx, accessCode)
	if err != nil {
		return err
	}
	uids, err := r.questionSequence(ctx, instance)
	if err != nil {
		return err
	}
	room := DeferredRoom(accessCode, userID)

	// The attempt gets its own game state record; the scoring engine judges
	// this replay's submissions against it, never against the live state.
	sessionKey := DeferredSessionKey(accessCode, userID, attempt)
	state := domain.GameState{
		GameID:               instance.ID,
		AccessCode:           accessCode,
		Status:               domain.GameStatusActive,
		CurrentQuestionIndex: 0,
		QuestionUIDs:         uids,
		GameMode:             instance.PlayMode,
		StartedAt:            r.clock.Now().UnixMilli(),
		Settings:             instance.Settings,
	}
	if err := r.games.SetGameState(ctx, sessionKey, state, deferredSessionTTL); err != nil {
		return fmt.Errorf("persist deferred session state: %w", err)
	}

	for idx, uid := range uids {
		question, err := r.catalog.QuestionByUID(ctx, uid)
		if err != nil {
			return fmt.Errorf("load question %s: %w", uid, err)
		}
		key := domain.TimerKey{
			AccessCode:  accessCode,
			QuestionUID: uid,
			PlayMode:    instance.PlayMode,
			Deferred:    true,
			UserID:      userID,
			Attempt:     attempt,
		}
		state.CurrentQuestionIndex = idx
		if err := r.games.SetGameState(ctx, sessionKey, state, deferredSessionTTL); err != nil {
			r.log.Warn().Err(err).Str("questionUid", uid).Msg("deferred session state update failed")
		}

		duration := EffectiveDurationMs(question, instance.Settings)
		if _, err := r.timers.Reset(ctx, key, duration); err != nil {
			return fmt.Errorf("reset deferred timer %s: %w", key.String(), err)
		}
		snap, err := r.timers.Start(ctx, key, duration)
		if err != nil {
			return fmt.Errorf("start deferred timer %s: %w", key.String(), err)
		}

		r.broadcast.Broadcast(room, EventGameQuestion, QuestionPayload{
			AccessCode:     accessCode,
			Question:       question.ForClient(instance.Settings.TimeMultiplier),
			QuestionIndex:  idx,
			TotalQuestions: len(uids),
			Timer:          snap,
		})

		if err := r.wait(ctx, time.Duration(snap.TimeLeftMs)*time.Millisecond); err != nil {
			_, _ = r.timers.Stop(context.Background(), key)
			return err
		}
		if _, err := r.timers.Stop(ctx, key); err != nil {
			r.log.Warn().Err(err).Str("questionUid", uid).Msg("deferred timer stop failed")
		}

		r.broadcast.Broadcast(room, EventCorrectAnswers, CorrectAnswersPayload{
			AccessCode:     accessCode,
			QuestionUID:    uid,
			CorrectAnswers: question.CorrectAnswers,
			CorrectValue:   question.CorrectValue,
		})
		if question.Explanation != "" && question.FeedbackWaitSec > 0 {
			if err := r.wait(ctx, feedbackLeadIn); err != nil {
				return err
			}
			r.broadcast.Broadcast(room, EventFeedback, FeedbackPayload{
				AccessCode:        accessCode,
				QuestionUID:       uid,
				Explanation:       question.Explanation,
				FeedbackRemaining: question.FeedbackWaitSec,
			})
			if err := r.wait(ctx, time.Duration(question.FeedbackWaitSec)*time.Second); err != nil {
				return err
			}
		}
	}

	state.Status = domain.GameStatusCompleted
	if err := r.games.SetGameState(ctx, sessionKey, state, deferredSessionTTL); err != nil {
		r.log.Warn().Err(err).Str("accessCode", accessCode).Msg("deferred session completion persist failed")
	}
	r.broadcast.Broadcast(room, EventGameEnded, GameEndedPayload{
		AccessCode:     accessCode,
		TotalQuestions: len(uids),
	})
	r.log.Info().Str("accessCode", accessCode).Str("userId", userID).
		Int("attempt", attempt).Msg("deferred session completed")
	return nil
}

// questionSequence prefers the cached game state's order and falls back to
// the template when the cache has expired.
func (r *DeferredRunner) questionSequence(ctx context.Context, instance domain.GameInstance) ([]string, error) {
	state, err := r.games.GameState(ctx, instance.AccessCode)
	if err == nil && len(state.QuestionUIDs) > 0 {
		return state.QuestionUIDs, nil
	}
	uids, err := r.catalog.TemplateQuestionUIDs(ctx, instance.TemplateID)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, domain.ErrNoQuestions
	}
	return uids, nil
}

func (r *DeferredRunner) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(d):
		return nil
	}
}
