package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// Catalog cache keys.
const (
	questionCachePrefix   = "catalog:question:"
	instanceCodePrefix    = "catalog:instance:code:"
	instanceIDPrefix      = "catalog:instance:id:"
	templateQuestionsPref = "catalog:template:"
)

// CachedCatalog fronts a durable catalog with a Redis read-through cache.
// Questions and templates are immutable during play, so cache entries only
// need a TTL; game instance entries are invalidated when the instance
// completes. Concurrent misses for the same key collapse to a single loader
// call.
type CachedCatalog struct {
	client *redis.Client
	inner  app.Catalog
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewCachedCatalog(client *redis.Client, inner app.Catalog, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{
		client: client,
		inner:  inner,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *CachedCatalog) GameInstanceByAccessCode(ctx context.Context, accessCode string) (domain.GameInstance, error) {
	return cachedLoad(ctx, c, instanceCodePrefix+accessCode, func() (domain.GameInstance, error) {
		return c.inner.GameInstanceByAccessCode(ctx, accessCode)
	})
}

func (c *CachedCatalog) GameInstanceByID(ctx context.Context, id string) (domain.GameInstance, error) {
	return cachedLoad(ctx, c, instanceIDPrefix+id, func() (domain.GameInstance, error) {
		return c.inner.GameInstanceByID(ctx, id)
	})
}

func (c *CachedCatalog) QuestionByUID(ctx context.Context, uid string) (domain.Question, error) {
	return cachedLoad(ctx, c, questionCachePrefix+uid, func() (domain.Question, error) {
		return c.inner.QuestionByUID(ctx, uid)
	})
}

func (c *CachedCatalog) TemplateQuestionUIDs(ctx context.Context, templateID string) ([]string, error) {
	return cachedLoad(ctx, c, templateQuestionsPref+templateID, func() ([]string, error) {
		return c.inner.TemplateQuestionUIDs(ctx, templateID)
	})
}

// UpsertParticipant writes through to the durable catalog; participant reads
// go through the game store hash, so nothing is cached here.
func (c *CachedCatalog) UpsertParticipant(ctx context.Context, gameInstanceID string, p domain.Participant) (domain.Participant, error) {
	return c.inner.UpsertParticipant(ctx, gameInstanceID, p)
}

func (c *CachedCatalog) SetParticipantScore(ctx context.Context, gameInstanceID, userID string, participationType domain.ParticipationType, score int) error {
	return c.inner.SetParticipantScore(ctx, gameInstanceID, userID, participationType, score)
}

// MarkGameCompleted drops the cached instance so the next read observes the
// completed status.
func (c *CachedCatalog) MarkGameCompleted(ctx context.Context, gameInstanceID string) error {
	if err := c.inner.MarkGameCompleted(ctx, gameInstanceID); err != nil {
		return err
	}
	instance, err := c.inner.GameInstanceByID(ctx, gameInstanceID)
	if err == nil {
		_ = c.client.Del(ctx, instanceIDPrefix+gameInstanceID, instanceCodePrefix+instance.AccessCode).Err()
	} else {
		_ = c.client.Del(ctx, instanceIDPrefix+gameInstanceID).Err()
	}
	return nil
}

// cachedLoad is the shared read-through path: cache hit, else singleflight
// into the loader and fill the cache with a jittered TTL.
func cachedLoad[T any](ctx context.Context, c *CachedCatalog, key string, load func() (T, error)) (T, error) {
	var zero T
	if raw, err := c.client.Get(ctx, key).Result(); err == nil {
		var value T
		if err := json.Unmarshal([]byte(raw), &value); err == nil {
			return value, nil
		}
		// Corrupt entry: fall through to reload.
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		if raw, err := c.client.Get(ctx, key).Result(); err == nil {
			var value T
			if err := json.Unmarshal([]byte(raw), &value); err == nil {
				return value, nil
			}
		}
		value, err := load()
		if err != nil {
			return zero, err
		}
		if raw, merr := json.Marshal(value); merr == nil {
			_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return value, nil
	})
	if err != nil {
		return zero, err
	}
	value, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected cache value type for %s", key)
	}
	return value, nil
}

func (c *CachedCatalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
