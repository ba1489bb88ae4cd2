package app

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ExpiryRegistry tracks at most one scheduled timer-expiry task per game.
// Scheduling a new task for a game cancels the previous one first, so a
// superseded question can never fire a stale expiry.
type ExpiryRegistry struct {
	clock clockwork.Clock

	mu    sync.Mutex
	tasks map[string]*expiryTask
}

type expiryTask struct {
	questionUID string
	cancel      chan struct{}
}

func NewExpiryRegistry(clock clockwork.Clock) *ExpiryRegistry {
	return &ExpiryRegistry{
		clock: clock,
		tasks: make(map[string]*expiryTask),
	}
}

// Schedule arms fire to run after d, replacing any pending task for gameID.
// A non-positive delay fires immediately (still asynchronously).
func (r *ExpiryRegistry) Schedule(gameID, questionUID string, d time.Duration, fire func()) {
	task := &expiryTask{questionUID: questionUID, cancel: make(chan struct{})}

	r.mu.Lock()
	if prev, ok := r.tasks[gameID]; ok {
		close(prev.cancel)
	}
	r.tasks[gameID] = task
	r.mu.Unlock()

	go func() {
		select {
		case <-r.clock.After(d):
			r.mu.Lock()
			// Only the still-registered task may fire.
			if cur, ok := r.tasks[gameID]; ok && cur == task {
				delete(r.tasks, gameID)
				r.mu.Unlock()
				fire()
				return
			}
			r.mu.Unlock()
		case <-task.cancel:
		}
	}()
}

// Cancel drops any pending expiry task for gameID.
func (r *ExpiryRegistry) Cancel(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.tasks[gameID]; ok {
		close(task.cancel)
		delete(r.tasks, gameID)
	}
}

// Pending returns the question uid of the armed task, if any.
func (r *ExpiryRegistry) Pending(gameID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[gameID]
	if !ok {
		return "", false
	}
	return task.questionUID, true
}

// SessionRegistry enforces the single-deferred-session-per-user invariant.
// The registry is process-local: a deferred replay runs entirely on the node
// that accepted it. Each slot owns the context its session runs on; the
// context is detached from the connection that started the replay, so a
// dropped socket never aborts the session. Only releasing the slot cancels
// it.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*deferredSlot // userID -> slot
}

type deferredSlot struct {
	accessCode string
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*deferredSlot)}
}

// Register claims a deferred slot for userID and returns the context the
// session must run on. It reports false when the user already has a running
// session.
func (r *SessionRegistry) Register(userID, accessCode string) (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[userID]; ok {
		return nil, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.sessions[userID] = &deferredSlot{accessCode: accessCode, ctx: ctx, cancel: cancel}
	return ctx, true
}

// Unregister releases the slot for userID, cancelling its session context.
func (r *SessionRegistry) Unregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.sessions[userID]; ok {
		slot.cancel()
		delete(r.sessions, userID)
	}
}

// Active reports the access code of the user's running session, if any.
func (r *SessionRegistry) Active(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.sessions[userID]
	if !ok {
		return "", false
	}
	return slot.accessCode, true
}

// CleanupGame releases every session slot attached to accessCode, cancelling
// the replays still in flight. Used when a game is torn down.
func (r *SessionRegistry) CleanupGame(accessCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, slot := range r.sessions {
		if slot.accessCode == accessCode {
			slot.cancel()
			delete(r.sessions, userID)
		}
	}
}
