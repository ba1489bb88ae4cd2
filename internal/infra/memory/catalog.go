package memory

import (
	"context"
	"fmt"
	"sync"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// StaticCatalog is an in-memory implementation of app.Catalog, used for
// tests, demos and running without Postgres. Game instances, questions and
// templates are seeded up front; participants mutate under a lock.
type StaticCatalog struct {
	mu           sync.RWMutex
	instances    map[string]domain.GameInstance // by id
	byAccessCode map[string]string              // accessCode -> id
	questions    map[string]domain.Question
	templates    map[string][]string
	participants map[string]map[string]domain.Participant // gameInstanceID -> userID
}

var _ app.Catalog = (*StaticCatalog)(nil)

func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		instances:    make(map[string]domain.GameInstance),
		byAccessCode: make(map[string]string),
		questions:    make(map[string]domain.Question),
		templates:    make(map[string][]string),
		participants: make(map[string]map[string]domain.Participant),
	}
}

// SeedGameInstance registers a game instance.
func (c *StaticCatalog) SeedGameInstance(instance domain.GameInstance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instances[instance.ID] = instance
	c.byAccessCode[instance.AccessCode] = instance.ID
}

// SeedQuestions registers questions and, when templateID is non-empty, binds
// them to the template in the given order.
func (c *StaticCatalog) SeedQuestions(templateID string, questions ...domain.Question) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uids := make([]string, 0, len(questions))
	for _, q := range questions {
		c.questions[q.UID] = q
		uids = append(uids, q.UID)
	}
	if templateID != "" {
		c.templates[templateID] = uids
	}
}

func (c *StaticCatalog) GameInstanceByAccessCode(_ context.Context, accessCode string) (domain.GameInstance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byAccessCode[accessCode]
	if !ok {
		return domain.GameInstance{}, fmt.Errorf("%w: access code %s", domain.ErrGameNotFound, accessCode)
	}
	return c.instances[id], nil
}

func (c *StaticCatalog) GameInstanceByID(_ context.Context, id string) (domain.GameInstance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	instance, ok := c.instances[id]
	if !ok {
		return domain.GameInstance{}, fmt.Errorf("%w: id %s", domain.ErrGameNotFound, id)
	}
	return instance, nil
}

func (c *StaticCatalog) QuestionByUID(_ context.Context, uid string) (domain.Question, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	question, ok := c.questions[uid]
	if !ok {
		return domain.Question{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, uid)
	}
	return question, nil
}

func (c *StaticCatalog) TemplateQuestionUIDs(_ context.Context, templateID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uids, ok := c.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("%w: template %s", domain.ErrGameNotFound, templateID)
	}
	return append([]string(nil), uids...), nil
}

func (c *StaticCatalog) UpsertParticipant(_ context.Context, gameInstanceID string, p domain.Participant) (domain.Participant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byUser, ok := c.participants[gameInstanceID]
	if !ok {
		byUser = make(map[string]domain.Participant)
		c.participants[gameInstanceID] = byUser
	}
	if existing, ok := byUser[p.UserID]; ok {
		if p.Username != "" {
			existing.Username = p.Username
		}
		if p.AvatarEmoji != "" {
			existing.AvatarEmoji = p.AvatarEmoji
		}
		if p.AttemptCount > existing.AttemptCount {
			existing.AttemptCount = p.AttemptCount
		}
		existing.ParticipationType = p.ParticipationType
		byUser[p.UserID] = existing
		return existing, nil
	}
	byUser[p.UserID] = p
	return p, nil
}

func (c *StaticCatalog) SetParticipantScore(_ context.Context, gameInstanceID, userID string, participationType domain.ParticipationType, score int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	byUser, ok := c.participants[gameInstanceID]
	if !ok {
		return fmt.Errorf("%w: game %s", domain.ErrParticipantNotFound, gameInstanceID)
	}
	p, ok := byUser[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", domain.ErrParticipantNotFound, userID)
	}
	p.Score = score
	p.ParticipationType = participationType
	byUser[userID] = p
	return nil
}

func (c *StaticCatalog) MarkGameCompleted(_ context.Context, gameInstanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	instance, ok := c.instances[gameInstanceID]
	if !ok {
		return fmt.Errorf("%w: id %s", domain.ErrGameNotFound, gameInstanceID)
	}
	instance.Status = domain.GameStatusCompleted
	c.instances[gameInstanceID] = instance
	return nil
}

// ParticipantRecord returns the durable participant row, for tests.
func (c *StaticCatalog) ParticipantRecord(gameInstanceID, userID string) (domain.Participant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byUser, ok := c.participants[gameInstanceID]
	if !ok {
		return domain.Participant{}, false
	}
	p, ok := byUser[userID]
	return p, ok
}
