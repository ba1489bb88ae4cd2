package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// GameStore is an in-memory implementation of app.GameStore for tests and
// single-node development runs. TTLs are accepted but not enforced.
type GameStore struct {
	mu           sync.RWMutex
	states       map[string]domain.GameState
	participants map[string]map[string]domain.Participant
	answers      map[string]map[string]domain.AnswerRecord // answersKey -> userID
	leaderboards map[string]map[string]int
	projections  map[string]domain.ProjectionDisplayState
	terminated   map[string]map[string]bool
}

var _ app.GameStore = (*GameStore)(nil)

func NewGameStore() *GameStore {
	return &GameStore{
		states:       make(map[string]domain.GameState),
		participants: make(map[string]map[string]domain.Participant),
		answers:      make(map[string]map[string]domain.AnswerRecord),
		leaderboards: make(map[string]map[string]int),
		projections:  make(map[string]domain.ProjectionDisplayState),
		terminated:   make(map[string]map[string]bool),
	}
}

func answersKey(accessCode, questionUID string, attempt int) string {
	key := accessCode + ":" + questionUID
	if attempt > 0 {
		key += ":" + strconv.Itoa(attempt)
	}
	return key
}

func (s *GameStore) GameState(_ context.Context, accessCode string) (domain.GameState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[accessCode]
	if !ok {
		return domain.GameState{}, domain.ErrGameNotFound
	}
	return state, nil
}

func (s *GameStore) SetGameState(_ context.Context, accessCode string, state domain.GameState, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[accessCode] = state
	return nil
}

func (s *GameStore) DeleteGameData(_ context.Context, accessCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, accessCode)
	delete(s.participants, accessCode)
	delete(s.leaderboards, accessCode)
	delete(s.projections, accessCode)
	delete(s.terminated, accessCode)
	prefix := accessCode + ":"
	for key := range s.answers {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.answers, key)
		}
	}
	return nil
}

func (s *GameStore) SetParticipant(_ context.Context, accessCode string, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.participants[accessCode]
	if !ok {
		byUser = make(map[string]domain.Participant)
		s.participants[accessCode] = byUser
	}
	byUser[p.UserID] = p
	return nil
}

func (s *GameStore) Participant(_ context.Context, accessCode, userID string) (domain.Participant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[accessCode][userID]
	return p, ok, nil
}

func (s *GameStore) Participants(_ context.Context, accessCode string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byUser := s.participants[accessCode]
	participants := make([]domain.Participant, 0, len(byUser))
	for _, p := range byUser {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i].UserID < participants[j].UserID })
	return participants, nil
}

func (s *GameStore) RemoveParticipant(_ context.Context, accessCode, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants[accessCode], userID)
	return nil
}

func (s *GameStore) ClearParticipants(_ context.Context, accessCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, accessCode)
	return nil
}

func (s *GameStore) Answer(_ context.Context, accessCode, questionUID string, attempt int, userID string) (domain.AnswerRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.answers[answersKey(accessCode, questionUID, attempt)][userID]
	return rec, ok, nil
}

func (s *GameStore) SetAnswer(_ context.Context, accessCode, questionUID string, attempt int, rec domain.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answersKey(accessCode, questionUID, attempt)
	byUser, ok := s.answers[key]
	if !ok {
		byUser = make(map[string]domain.AnswerRecord)
		s.answers[key] = byUser
	}
	byUser[rec.UserID] = rec
	return nil
}

func (s *GameStore) Answers(_ context.Context, accessCode, questionUID string, attempt int) ([]domain.AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byUser := s.answers[answersKey(accessCode, questionUID, attempt)]
	records := make([]domain.AnswerRecord, 0, len(byUser))
	for _, rec := range byUser {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
	return records, nil
}

func (s *GameStore) ClearAnswers(_ context.Context, accessCode, questionUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := accessCode + ":" + questionUID
	for key := range s.answers {
		if key == prefix || (len(key) > len(prefix) && key[:len(prefix)+1] == prefix+":") {
			delete(s.answers, key)
		}
	}
	return nil
}

func (s *GameStore) SetLeaderboardScore(_ context.Context, accessCode, userID string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	board, ok := s.leaderboards[accessCode]
	if !ok {
		board = make(map[string]int)
		s.leaderboards[accessCode] = board
	}
	board[userID] = score
	return nil
}

func (s *GameStore) Leaderboard(_ context.Context, accessCode string) ([]app.LeaderboardScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	board := s.leaderboards[accessCode]
	scores := make([]app.LeaderboardScore, 0, len(board))
	for userID, score := range board {
		scores = append(scores, app.LeaderboardScore{UserID: userID, Score: score})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].UserID < scores[j].UserID
	})
	return scores, nil
}

func (s *GameStore) ProjectionDisplay(_ context.Context, accessCode string) (domain.ProjectionDisplayState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.projections[accessCode]
	if !ok {
		return domain.DefaultProjectionDisplayState(), nil
	}
	return state, nil
}

func (s *GameStore) SetProjectionDisplay(_ context.Context, accessCode string, state domain.ProjectionDisplayState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projections[accessCode] = state
	return nil
}

func (s *GameStore) MarkQuestionTerminated(_ context.Context, accessCode, questionUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.terminated[accessCode]
	if !ok {
		set = make(map[string]bool)
		s.terminated[accessCode] = set
	}
	set[questionUID] = true
	return nil
}

func (s *GameStore) TerminatedQuestions(_ context.Context, accessCode string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.terminated[accessCode]))
	for uid := range s.terminated[accessCode] {
		out[uid] = true
	}
	return out, nil
}

// TimerStore is an in-memory implementation of app.TimerStore.
type TimerStore struct {
	mu     sync.RWMutex
	timers map[string]domain.TimerRecord
}

var _ app.TimerStore = (*TimerStore)(nil)

func NewTimerStore() *TimerStore {
	return &TimerStore{timers: make(map[string]domain.TimerRecord)}
}

func (s *TimerStore) Timer(_ context.Context, key domain.TimerKey) (domain.TimerRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.timers[key.String()]
	return rec, ok, nil
}

func (s *TimerStore) SetTimer(_ context.Context, key domain.TimerKey, rec domain.TimerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[key.String()] = rec
	return nil
}

func (s *TimerStore) DeleteTimer(_ context.Context, key domain.TimerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, key.String())
	return nil
}
