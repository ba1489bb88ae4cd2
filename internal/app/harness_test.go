package app_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
)

const (
	testAccessCode = "ROOM42"
	testGameID     = "game-1"
	testTemplateID = "tmpl-1"
	testTeacherID  = "teacher-1"
)

type capturedEvent struct {
	Room    string
	Event   string
	Payload any
}

// captureBroadcaster records everything the services emit.
type captureBroadcaster struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (b *captureBroadcaster) Broadcast(room, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, capturedEvent{Room: room, Event: event, Payload: payload})
}

func (b *captureBroadcaster) byEvent(event string) []capturedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []capturedEvent
	for _, e := range b.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	games    *memory.GameStore
	timerDB  *memory.TimerStore
	catalog  *memory.StaticCatalog
	clock    *clockwork.FakeClock
	bc       *captureBroadcaster
	timers   *app.TimerService
	state    *app.GameStateService
	scoring  *app.ScoringService
	control  *app.ControlService
	deferred *app.DeferredRunner
	expiry   *app.ExpiryRegistry
	sessions *app.SessionRegistry
}

func newHarness(mode domain.PlayMode) *harness {
	h := &harness{
		games:   memory.NewGameStore(),
		timerDB: memory.NewTimerStore(),
		catalog: memory.NewStaticCatalog(),
		clock:   clockwork.NewFakeClock(),
		bc:      &captureBroadcaster{},
	}
	log := zerolog.Nop()
	h.timers = app.NewTimerService(h.timerDB, h.clock, time.Hour, log)
	h.state = app.NewGameStateService(h.games, h.catalog, h.timers, h.clock, 24*time.Hour, log)
	h.scoring = app.NewScoringService(h.games, h.catalog, h.timers, h.state, h.bc, h.clock, log)
	h.expiry = app.NewExpiryRegistry(h.clock)
	h.sessions = app.NewSessionRegistry()
	h.control = app.NewControlService(h.games, h.catalog, h.timers, h.state, h.bc, h.expiry, h.sessions, h.clock, log)
	h.deferred = app.NewDeferredRunner(h.games, h.catalog, h.timers, h.bc, h.sessions, h.clock, log)

	h.catalog.SeedQuestions(testTemplateID,
		domain.Question{
			UID:            "q1",
			Text:           "What is 2 + 2?",
			QuestionType:   domain.QuestionSingleChoice,
			AnswerOptions:  []string{"3", "4", "5"},
			CorrectAnswers: []bool{false, true, false},
			TimeLimitSec:   30,
		},
		domain.Question{
			UID:             "q2",
			Text:            "Which of these equal 12?",
			QuestionType:    domain.QuestionMultipleChoice,
			AnswerOptions:   []string{"3 x 4", "2 x 6", "5 x 2", "4 x 4"},
			CorrectAnswers:  []bool{true, true, false, false},
			TimeLimitSec:    45,
			Explanation:     "12 factors as 3 x 4 and 2 x 6.",
			FeedbackWaitSec: 5,
		},
		domain.Question{
			UID:          "q3",
			Text:         "What is the square root of 144?",
			QuestionType: domain.QuestionNumeric,
			CorrectValue: "12",
			TimeLimitSec: 20,
		},
	)
	h.catalog.SeedGameInstance(domain.GameInstance{
		ID:                testGameID,
		AccessCode:        testAccessCode,
		Status:            domain.GameStatusPending,
		PlayMode:          mode,
		InitiatorUserID:   testTeacherID,
		TemplateID:        testTemplateID,
		TemplateCreatorID: "creator-1",
		Settings:          domain.GameSettings{TimeMultiplier: 1, ShowLeaderboard: true},
	})
	return h
}

func (h *harness) initGame(ctx context.Context) (domain.GameState, error) {
	return h.state.Initialize(ctx, testGameID)
}

func liveKey(questionUID string, mode domain.PlayMode) domain.TimerKey {
	return domain.TimerKey{AccessCode: testAccessCode, QuestionUID: questionUID, PlayMode: mode}
}

func answerIndex(idx int) domain.AnswerValue {
	return domain.AnswerValue{Kind: domain.AnswerIndex, Index: idx, Number: float64(idx)}
}

func answerIndices(idx ...int) domain.AnswerValue {
	return domain.AnswerValue{Kind: domain.AnswerIndexSet, Indices: idx}
}

// failingTimerStore simulates a broken shared store.
type failingTimerStore struct{}

var errStoreDown = errors.New("store unavailable")

func (failingTimerStore) Timer(context.Context, domain.TimerKey) (domain.TimerRecord, bool, error) {
	return domain.TimerRecord{}, false, errStoreDown
}
func (failingTimerStore) SetTimer(context.Context, domain.TimerKey, domain.TimerRecord) error {
	return errStoreDown
}
func (failingTimerStore) DeleteTimer(context.Context, domain.TimerKey) error {
	return errStoreDown
}
