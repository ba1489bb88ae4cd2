package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// Key shapes, one namespace per structure:
//
//	game:{accessCode}                       JSON game state, with TTL
//	game:participants:{accessCode}          hash userId -> JSON participant
//	game:answers:{accessCode}:{uid}         hash userId -> JSON answer (live)
//	game:answers:{accessCode}:{uid}:{n}     per-attempt deferred answers
//	game:leaderboard:{accessCode}           sorted set userId -> score
//	game:terminatedQuestions:{accessCode}   set of question uids
//	projection:display:{accessCode}         JSON projection toggles
const (
	gameStatePrefix   = "game:"
	participantPrefix = "game:participants:"
	answersPrefix     = "game:answers:"
	leaderboardPrefix = "game:leaderboard:"
	terminatedPrefix  = "game:terminatedQuestions:"
	projectionPrefix  = "projection:display:"
)

// GameStore implements app.GameStore on Redis. Per-key commands are the unit
// of atomicity; multi-key cleanup uses pipelines and SCAN.
type GameStore struct {
	client *redis.Client
}

func NewGameStore(client *redis.Client) *GameStore {
	return &GameStore{client: client}
}

func (s *GameStore) GameState(ctx context.Context, accessCode string) (domain.GameState, error) {
	raw, err := s.client.Get(ctx, gameStatePrefix+accessCode).Result()
	if err == redis.Nil {
		return domain.GameState{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.GameState{}, fmt.Errorf("get game state: %w", err)
	}
	var state domain.GameState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return domain.GameState{}, fmt.Errorf("decode game state: %w", err)
	}
	return state, nil
}

func (s *GameStore) SetGameState(ctx context.Context, accessCode string, state domain.GameState, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode game state: %w", err)
	}
	if err := s.client.Set(ctx, gameStatePrefix+accessCode, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set game state: %w", err)
	}
	return nil
}

func (s *GameStore) DeleteGameData(ctx context.Context, accessCode string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, gameStatePrefix+accessCode)
	pipe.Del(ctx, participantPrefix+accessCode)
	pipe.Del(ctx, leaderboardPrefix+accessCode)
	pipe.Del(ctx, terminatedPrefix+accessCode)
	pipe.Del(ctx, projectionPrefix+accessCode)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete game keys: %w", err)
	}
	for _, pattern := range []string{
		answersPrefix + accessCode + ":*",
		timerPrefix + accessCode + ":*",
	} {
		if err := s.deleteByPattern(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

func (s *GameStore) deleteByPattern(ctx context.Context, pattern string) error {
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", pattern, err)
	}
	return nil
}

func (s *GameStore) SetParticipant(ctx context.Context, accessCode string, p domain.Participant) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}
	if err := s.client.HSet(ctx, participantPrefix+accessCode, p.UserID, raw).Err(); err != nil {
		return fmt.Errorf("set participant: %w", err)
	}
	return nil
}

func (s *GameStore) Participant(ctx context.Context, accessCode, userID string) (domain.Participant, bool, error) {
	raw, err := s.client.HGet(ctx, participantPrefix+accessCode, userID).Result()
	if err == redis.Nil {
		return domain.Participant{}, false, nil
	}
	if err != nil {
		return domain.Participant{}, false, fmt.Errorf("get participant: %w", err)
	}
	var p domain.Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.Participant{}, false, fmt.Errorf("decode participant: %w", err)
	}
	return p, true, nil
}

func (s *GameStore) Participants(ctx context.Context, accessCode string) ([]domain.Participant, error) {
	raw, err := s.client.HGetAll(ctx, participantPrefix+accessCode).Result()
	if err != nil {
		return nil, fmt.Errorf("get participants: %w", err)
	}
	participants := make([]domain.Participant, 0, len(raw))
	for _, encoded := range raw {
		var p domain.Participant
		if err := json.Unmarshal([]byte(encoded), &p); err != nil {
			return nil, fmt.Errorf("decode participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, nil
}

func (s *GameStore) RemoveParticipant(ctx context.Context, accessCode, userID string) error {
	if err := s.client.HDel(ctx, participantPrefix+accessCode, userID).Err(); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

func (s *GameStore) ClearParticipants(ctx context.Context, accessCode string) error {
	if err := s.client.Del(ctx, participantPrefix+accessCode).Err(); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	return nil
}

func answersKey(accessCode, questionUID string, attempt int) string {
	key := answersPrefix + accessCode + ":" + questionUID
	if attempt > 0 {
		key += ":" + strconv.Itoa(attempt)
	}
	return key
}

func (s *GameStore) Answer(ctx context.Context, accessCode, questionUID string, attempt int, userID string) (domain.AnswerRecord, bool, error) {
	raw, err := s.client.HGet(ctx, answersKey(accessCode, questionUID, attempt), userID).Result()
	if err == redis.Nil {
		return domain.AnswerRecord{}, false, nil
	}
	if err != nil {
		return domain.AnswerRecord{}, false, fmt.Errorf("get answer: %w", err)
	}
	var rec domain.AnswerRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return domain.AnswerRecord{}, false, fmt.Errorf("decode answer: %w", err)
	}
	return rec, true, nil
}

func (s *GameStore) SetAnswer(ctx context.Context, accessCode, questionUID string, attempt int, rec domain.AnswerRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	if err := s.client.HSet(ctx, answersKey(accessCode, questionUID, attempt), rec.UserID, raw).Err(); err != nil {
		return fmt.Errorf("set answer: %w", err)
	}
	return nil
}

func (s *GameStore) Answers(ctx context.Context, accessCode, questionUID string, attempt int) ([]domain.AnswerRecord, error) {
	raw, err := s.client.HGetAll(ctx, answersKey(accessCode, questionUID, attempt)).Result()
	if err != nil {
		return nil, fmt.Errorf("get answers: %w", err)
	}
	records := make([]domain.AnswerRecord, 0, len(raw))
	for _, encoded := range raw {
		var rec domain.AnswerRecord
		if err := json.Unmarshal([]byte(encoded), &rec); err != nil {
			return nil, fmt.Errorf("decode answer: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *GameStore) ClearAnswers(ctx context.Context, accessCode, questionUID string) error {
	if err := s.client.Del(ctx, answersKey(accessCode, questionUID, 0)).Err(); err != nil {
		return fmt.Errorf("clear answers: %w", err)
	}
	return s.deleteByPattern(ctx, answersPrefix+accessCode+":"+questionUID+":*")
}

func (s *GameStore) SetLeaderboardScore(ctx context.Context, accessCode, userID string, score int) error {
	err := s.client.ZAdd(ctx, leaderboardPrefix+accessCode, redis.Z{
		Score:  float64(score),
		Member: userID,
	}).Err()
	if err != nil {
		return fmt.Errorf("set leaderboard score: %w", err)
	}
	return nil
}

func (s *GameStore) Leaderboard(ctx context.Context, accessCode string) ([]app.LeaderboardScore, error) {
	entries, err := s.client.ZRevRangeWithScores(ctx, leaderboardPrefix+accessCode, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}
	scores := make([]app.LeaderboardScore, 0, len(entries))
	for _, entry := range entries {
		userID, ok := entry.Member.(string)
		if !ok {
			continue
		}
		scores = append(scores, app.LeaderboardScore{UserID: userID, Score: int(entry.Score)})
	}
	return scores, nil
}

func (s *GameStore) ProjectionDisplay(ctx context.Context, accessCode string) (domain.ProjectionDisplayState, error) {
	raw, err := s.client.Get(ctx, projectionPrefix+accessCode).Result()
	if err == redis.Nil {
		return domain.DefaultProjectionDisplayState(), nil
	}
	if err != nil {
		return domain.ProjectionDisplayState{}, fmt.Errorf("get projection display: %w", err)
	}
	var state domain.ProjectionDisplayState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return domain.ProjectionDisplayState{}, fmt.Errorf("decode projection display: %w", err)
	}
	if state.CurrentStats == nil {
		state.CurrentStats = map[string]int{}
	}
	return state, nil
}

func (s *GameStore) SetProjectionDisplay(ctx context.Context, accessCode string, state domain.ProjectionDisplayState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode projection display: %w", err)
	}
	if err := s.client.Set(ctx, projectionPrefix+accessCode, raw, 0).Err(); err != nil {
		return fmt.Errorf("set projection display: %w", err)
	}
	return nil
}

func (s *GameStore) MarkQuestionTerminated(ctx context.Context, accessCode, questionUID string) error {
	if err := s.client.SAdd(ctx, terminatedPrefix+accessCode, questionUID).Err(); err != nil {
		return fmt.Errorf("mark question terminated: %w", err)
	}
	return nil
}

func (s *GameStore) TerminatedQuestions(ctx context.Context, accessCode string) (map[string]bool, error) {
	members, err := s.client.SMembers(ctx, terminatedPrefix+accessCode).Result()
	if err != nil {
		return nil, fmt.Errorf("get terminated questions: %w", err)
	}
	terminated := make(map[string]bool, len(members))
	for _, uid := range members {
		terminated[uid] = true
	}
	return terminated, nil
}
