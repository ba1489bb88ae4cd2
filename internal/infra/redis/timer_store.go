package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-session-service/internal/domain"
)

// timerPrefix namespaces canonical timer records:
//
//	timer:{accessCode}:{questionUid}:{playMode}                       shared live timer
//	timer:{accessCode}:{questionUid}:{playMode}:user:{id}:attempt:{n} deferred replay
const timerPrefix = "timer:"

// TimerStore implements app.TimerStore on Redis. Records carry a TTL so
// abandoned games do not accumulate timers forever.
type TimerStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewTimerStore(client *redis.Client, ttl time.Duration) *TimerStore {
	return &TimerStore{client: client, ttl: ttl}
}

func (s *TimerStore) Timer(ctx context.Context, key domain.TimerKey) (domain.TimerRecord, bool, error) {
	raw, err := s.client.Get(ctx, timerPrefix+key.String()).Result()
	if err == redis.Nil {
		return domain.TimerRecord{}, false, nil
	}
	if err != nil {
		return domain.TimerRecord{}, false, fmt.Errorf("get timer %s: %w", key.String(), err)
	}
	var rec domain.TimerRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return domain.TimerRecord{}, false, fmt.Errorf("decode timer %s: %w", key.String(), err)
	}
	return rec, true, nil
}

func (s *TimerStore) SetTimer(ctx context.Context, key domain.TimerKey, rec domain.TimerRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode timer %s: %w", key.String(), err)
	}
	if err := s.client.Set(ctx, timerPrefix+key.String(), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set timer %s: %w", key.String(), err)
	}
	return nil
}

func (s *TimerStore) DeleteTimer(ctx context.Context, key domain.TimerKey) error {
	if err := s.client.Del(ctx, timerPrefix+key.String()).Err(); err != nil {
		return fmt.Errorf("delete timer %s: %w", key.String(), err)
	}
	return nil
}
