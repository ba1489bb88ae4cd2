package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/domain"
)

// GameStateService owns the authoritative game state aggregate: lifecycle
// status, question sequencing, the answer lock flag and the assembled
// projection view. All mutations go through the shared store so every node
// sees the same state.
type GameStateService struct {
	games   GameStore
	catalog Catalog
	timers  *TimerService
	clock   clockwork.Clock
	ttl     time.Duration
	log     zerolog.Logger
}

func NewGameStateService(games GameStore, catalog Catalog, timers *TimerService, clock clockwork.Clock, ttl time.Duration, log zerolog.Logger) *GameStateService {
	return &GameStateService{
		games:   games,
		catalog: catalog,
		timers:  timers,
		clock:   clock,
		ttl:     ttl,
		log:     log.With().Str("service", "gamestate").Logger(),
	}
}

// Initialize builds the initial state for a game instance: question sequence
// resolved from the template, no active question, answers unlocked. Any stale
// participant hash from a previous run of the same access code is cleared.
func (s *GameStateService) Initialize(ctx context.Context, gameInstanceID string) (domain.GameState, error) {
	instance, err := s.catalog.GameInstanceByID(ctx, gameInstanceID)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("load game instance %s: %w", gameInstanceID, err)
	}
	uids, err := s.catalog.TemplateQuestionUIDs(ctx, instance.TemplateID)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("load template questions %s: %w", instance.TemplateID, err)
	}
	if len(uids) == 0 {
		return domain.GameState{}, domain.ErrNoQuestions
	}
	state := domain.GameState{
		GameID:               instance.ID,
		AccessCode:           instance.AccessCode,
		Status:               domain.GameStatusPending,
		CurrentQuestionIndex: -1,
		QuestionUIDs:         uids,
		AnswersLocked:        false,
		GameMode:             instance.PlayMode,
		StartedAt:            s.clock.Now().UnixMilli(),
		Settings:             instance.Settings,
	}
	if err := s.games.SetGameState(ctx, instance.AccessCode, state, s.ttl); err != nil {
		return domain.GameState{}, fmt.Errorf("persist game state %s: %w", instance.AccessCode, err)
	}
	if err := s.games.ClearParticipants(ctx, instance.AccessCode); err != nil {
		s.log.Warn().Err(err).Str("accessCode", instance.AccessCode).Msg("failed to clear stale participants")
	}
	if err := s.games.SetProjectionDisplay(ctx, instance.AccessCode, domain.DefaultProjectionDisplayState()); err != nil {
		s.log.Warn().Err(err).Str("accessCode", instance.AccessCode).Msg("failed to reset projection display")
	}
	s.log.Info().Str("accessCode", instance.AccessCode).Str("gameId", instance.ID).
		Int("questions", len(uids)).Msg("game state initialized")
	return state, nil
}

// State loads the authoritative state for an access code.
func (s *GameStateService) State(ctx context.Context, accessCode string) (domain.GameState, error) {
	return s.games.GameState(ctx, accessCode)
}

// Save persists a mutated state aggregate. A persistence failure here is
// fatal to the calling operation: handlers must not report success on state
// the store never saw.
func (s *GameStateService) Save(ctx context.Context, state domain.GameState) error {
	if err := s.games.SetGameState(ctx, state.AccessCode, state, s.ttl); err != nil {
		return fmt.Errorf("persist game state %s: %w", state.AccessCode, err)
	}
	return nil
}

// SetCurrentQuestion activates the question at index and prepares a fresh
// paused timer for it. Moving to any question implies the game is active;
// previous answers for the incoming question are cleared so revisits start
// clean, and the projection toggles reset.
func (s *GameStateService) SetCurrentQuestion(ctx context.Context, accessCode string, index int) (domain.GameState, domain.Question, domain.TimerSnapshot, error) {
	state, err := s.games.GameState(ctx, accessCode)
	if err != nil {
		return domain.GameState{}, domain.Question{}, domain.TimerSnapshot{}, err
	}
	if index < 0 || index >= len(state.QuestionUIDs) {
		return domain.GameState{}, domain.Question{}, domain.TimerSnapshot{}, fmt.Errorf("%w: %d of %d", domain.ErrInvalidQuestionIndex, index, len(state.QuestionUIDs))
	}
	question, err := s.catalog.QuestionByUID(ctx, state.QuestionUIDs[index])
	if err != nil {
		return domain.GameState{}, domain.Question{}, domain.TimerSnapshot{}, err
	}
	if !state.Status.CanTransition(domain.GameStatusActive) {
		return domain.GameState{}, domain.Question{}, domain.TimerSnapshot{}, fmt.Errorf("%w: %s -> active", domain.ErrIllegalTransition, state.Status)
	}

	state.Status = domain.GameStatusActive
	state.CurrentQuestionIndex = index
	state.AnswersLocked = false
	state.QuestionData = question.ForClient(state.Settings.TimeMultiplier)

	key := domain.TimerKey{
		AccessCode:  accessCode,
		QuestionUID: question.UID,
		PlayMode:    state.GameMode,
	}
	snap, err := s.timers.Reset(ctx, key, EffectiveDurationMs(question, state.Settings))
	if err != nil {
		return domain.GameState{}, domain.Question{}, domain.TimerSnapshot{}, fmt.Errorf("reset timer for %s: %w", question.UID, err)
	}
	if err := s.games.ClearAnswers(ctx, accessCode, question.UID); err != nil {
		s.log.Warn().Err(err).Str("accessCode", accessCode).Str("questionUid", question.UID).
			Msg("failed to clear previous answers")
	}
	if err := s.games.SetProjectionDisplay(ctx, accessCode, domain.DefaultProjectionDisplayState()); err != nil {
		s.log.Warn().Err(err).Str("accessCode", accessCode).Msg("failed to reset projection display")
	}
	if err := s.Save(ctx, state); err != nil {
		return domain.GameState{}, domain.Question{}, domain.TimerSnapshot{}, err
	}
	s.log.Info().Str("accessCode", accessCode).Int("index", index).
		Str("questionUid", question.UID).Msg("current question set")
	return state, question, snap, nil
}

// Join registers or refreshes a live participant. Rejoining refreshes the
// display name without touching the accumulated score.
func (s *GameStateService) Join(ctx context.Context, accessCode, userID, username, avatarEmoji string) (domain.Participant, error) {
	state, err := s.games.GameState(ctx, accessCode)
	if err != nil {
		return domain.Participant{}, err
	}
	if state.Status == domain.GameStatusCompleted {
		return domain.Participant{}, fmt.Errorf("%w: game %s is completed", domain.ErrGameNotFound, accessCode)
	}
	p, found, err := s.games.Participant(ctx, accessCode, userID)
	if err != nil {
		return domain.Participant{}, err
	}
	if found {
		if username != "" {
			p.Username = username
		}
		if avatarEmoji != "" {
			p.AvatarEmoji = avatarEmoji
		}
	} else {
		p = domain.Participant{
			UserID:            userID,
			Username:          username,
			AvatarEmoji:       avatarEmoji,
			ParticipationType: domain.ParticipationLive,
			JoinedAt:          s.clock.Now().UnixMilli(),
		}
	}
	created, err := s.catalog.UpsertParticipant(ctx, state.GameID, p)
	if err != nil {
		return domain.Participant{}, err
	}
	if err := s.games.SetParticipant(ctx, accessCode, created); err != nil {
		return domain.Participant{}, err
	}
	if !found {
		if err := s.games.SetLeaderboardScore(ctx, accessCode, userID, created.Score); err != nil {
			s.log.Warn().Err(err).Str("accessCode", accessCode).Msg("initial leaderboard entry failed")
		}
	}
	s.log.Info().Str("accessCode", accessCode).Str("userId", userID).Msg("participant joined")
	return created, nil
}

// EndCurrentQuestion pauses the active question's timer without advancing.
func (s *GameStateService) EndCurrentQuestion(ctx context.Context, accessCode string) (domain.TimerSnapshot, error) {
	state, err := s.games.GameState(ctx, accessCode)
	if err != nil {
		return domain.TimerSnapshot{}, err
	}
	uid := state.CurrentQuestionUID()
	if uid == "" {
		return domain.TimerSnapshot{}, domain.ErrInvalidQuestionIndex
	}
	key := domain.TimerKey{AccessCode: accessCode, QuestionUID: uid, PlayMode: state.GameMode}
	return s.timers.Pause(ctx, key)
}

// FullGameState assembles the complete projection view from the three store
// structures. For a completed game whose cached state already expired, it
// degrades to a minimal state rebuilt from the catalog instead of failing.
func (s *GameStateService) FullGameState(ctx context.Context, accessCode string) (domain.FullGameState, error) {
	state, err := s.games.GameState(ctx, accessCode)
	if err != nil {
		if !errors.Is(err, domain.ErrGameNotFound) {
			return domain.FullGameState{}, err
		}
		instance, cerr := s.catalog.GameInstanceByAccessCode(ctx, accessCode)
		if cerr != nil || instance.Status != domain.GameStatusCompleted {
			return domain.FullGameState{}, err
		}
		state = domain.GameState{
			GameID:               instance.ID,
			AccessCode:           accessCode,
			Status:               domain.GameStatusCompleted,
			CurrentQuestionIndex: -1,
			GameMode:             instance.PlayMode,
			Settings:             instance.Settings,
		}
	}

	full := domain.FullGameState{
		GameState: state,
		Answers:   map[string][]domain.AnswerRecord{},
	}
	participants, err := s.games.Participants(ctx, accessCode)
	if err != nil {
		return domain.FullGameState{}, err
	}
	full.Participants = participants

	if uid := state.CurrentQuestionUID(); uid != "" {
		answers, err := s.games.Answers(ctx, accessCode, uid, 0)
		if err != nil {
			return domain.FullGameState{}, err
		}
		full.Answers[uid] = answers
	}

	leaderboard, err := s.Leaderboard(ctx, accessCode)
	if err != nil {
		return domain.FullGameState{}, err
	}
	full.Leaderboard = leaderboard
	return full, nil
}

// Leaderboard joins the sorted-set scores against the participant hash.
// Scores order descending; ties break by username then user id so the result
// is stable across rebuilds. A score whose participant record is missing
// still appears, under a placeholder name.
func (s *GameStateService) Leaderboard(ctx context.Context, accessCode string) ([]domain.LeaderboardEntry, error) {
	scores, err := s.games.Leaderboard(ctx, accessCode)
	if err != nil {
		return nil, err
	}
	participants, err := s.games.Participants(ctx, accessCode)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Participant, len(participants))
	for _, p := range participants {
		byID[p.UserID] = p
	}
	entries := make([]domain.LeaderboardEntry, 0, len(scores))
	for _, sc := range scores {
		entry := domain.LeaderboardEntry{UserID: sc.UserID, Score: sc.Score, Username: "Unknown Player"}
		if p, ok := byID[sc.UserID]; ok {
			entry.Username = p.Username
			entry.AvatarEmoji = p.AvatarEmoji
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].Username != entries[j].Username {
			return entries[i].Username < entries[j].Username
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// AnswerStats counts submitted answers per option for one question. Keys are
// option indices rendered as strings; numeric questions bucket by the raw
// submitted value.
func (s *GameStateService) AnswerStats(ctx context.Context, accessCode, questionUID string) (map[string]int, error) {
	answers, err := s.games.Answers(ctx, accessCode, questionUID, 0)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int)
	for _, rec := range answers {
		for _, bucket := range rec.Answer.StatBuckets() {
			stats[bucket]++
		}
	}
	return stats, nil
}

// ProjectionDisplay returns the persisted projection toggles, defaulting to
// the cleared state when nothing is stored.
func (s *GameStateService) ProjectionDisplay(ctx context.Context, accessCode string) (domain.ProjectionDisplayState, error) {
	return s.games.ProjectionDisplay(ctx, accessCode)
}

// SetProjectionDisplay persists the projection toggles.
func (s *GameStateService) SetProjectionDisplay(ctx context.Context, accessCode string, state domain.ProjectionDisplayState) error {
	return s.games.SetProjectionDisplay(ctx, accessCode, state)
}

// EffectiveDurationMs applies the game's time multiplier to a question's base
// time limit.
func EffectiveDurationMs(q domain.Question, settings domain.GameSettings) int64 {
	mult := settings.TimeMultiplier
	if mult <= 0 {
		mult = 1
	}
	return int64(float64(q.DurationMs()) * mult)
}
