package app

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/domain"
)

// TimerService owns the canonical timer lifecycle per timer key. It is the
// single source of truth for "how much time is left" and "how long has this
// user spent on this question"; scoring never trusts client-reported time.
//
// Practice mode has no timer: every operation is a no-op returning a stopped
// snapshot, and elapsed time is always zero.
type TimerService struct {
	store TimerStore
	clock clockwork.Clock
	ttl   time.Duration
	log   zerolog.Logger
}

func NewTimerService(store TimerStore, clock clockwork.Clock, ttl time.Duration, log zerolog.Logger) *TimerService {
	return &TimerService{
		store: store,
		clock: clock,
		ttl:   ttl,
		log:   log.With().Str("service", "timer").Logger(),
	}
}

func (s *TimerService) now() int64 {
	return s.clock.Now().UnixMilli()
}

// Start runs the timer. A paused timer resumes from its frozen remaining
// time; anything else starts fresh at the full duration.
func (s *TimerService) Start(ctx context.Context, key domain.TimerKey, durationMs int64) (domain.TimerSnapshot, error) {
	if !key.PlayMode.Timed() {
		return domain.TimerSnapshot{Status: domain.TimerStop, QuestionUID: key.QuestionUID}, nil
	}
	if err := key.Validate(); err != nil {
		return domain.TimerSnapshot{Status: domain.TimerStop}, err
	}
	now := s.now()
	rec, found, err := s.store.Timer(ctx, key)
	if err != nil {
		return s.failClosed(key, err), err
	}
	if found && rec.Status == domain.TimerPause {
		// Resume: recompute accumulated play time from the frozen remainder.
		duration := rec.DurationMs
		if duration <= 0 {
			duration = durationMs
		}
		played := duration - rec.TimeLeftMs
		if played < 0 {
			played = 0
		}
		rec.Status = domain.TimerRun
		rec.DurationMs = duration
		rec.TotalPlayTimeMs = played
		rec.LastStateChange = now
		rec.TimeLeftMs = 0
	} else {
		rec = domain.TimerRecord{
			QuestionUID:     key.QuestionUID,
			Status:          domain.TimerRun,
			StartedAt:       now,
			TotalPlayTimeMs: 0,
			LastStateChange: now,
			DurationMs:      durationMs,
		}
	}
	if err := s.store.SetTimer(ctx, key, rec); err != nil {
		return s.failClosed(key, err), err
	}
	s.log.Debug().Str("accessCode", key.AccessCode).Str("questionUid", key.QuestionUID).
		Int64("durationMs", rec.DurationMs).Msg("timer started")
	return s.snapshotOf(rec, rec.DurationMs), nil
}

// Pause freezes the remaining time. Pausing an already-paused or stopped
// timer is a no-op.
func (s *TimerService) Pause(ctx context.Context, key domain.TimerKey) (domain.TimerSnapshot, error) {
	if !key.PlayMode.Timed() {
		return domain.TimerSnapshot{Status: domain.TimerStop, QuestionUID: key.QuestionUID}, nil
	}
	now := s.now()
	rec, found, err := s.store.Timer(ctx, key)
	if err != nil {
		return s.failClosed(key, err), err
	}
	if !found {
		s.log.Warn().Str("accessCode", key.AccessCode).Str("questionUid", key.QuestionUID).
			Msg("no timer found to pause")
		return s.failClosed(key, nil), nil
	}
	if rec.Status == domain.TimerRun {
		rec.TotalPlayTimeMs += now - rec.LastStateChange
		rec.Status = domain.TimerPause
		rec.LastStateChange = now
		left := rec.DurationMs - rec.TotalPlayTimeMs
		if left < 0 {
			left = 0
		}
		rec.TimeLeftMs = left
		if err := s.store.SetTimer(ctx, key, rec); err != nil {
			return s.failClosed(key, err), err
		}
	}
	return s.snapshotOf(rec, rec.DurationMs), nil
}

// Stop force-stops the timer, clearing remaining time.
func (s *TimerService) Stop(ctx context.Context, key domain.TimerKey) (domain.TimerSnapshot, error) {
	if !key.PlayMode.Timed() {
		return domain.TimerSnapshot{Status: domain.TimerStop, QuestionUID: key.QuestionUID}, nil
	}
	now := s.now()
	prev, found, err := s.store.Timer(ctx, key)
	if err != nil {
		// Stop still proceeds: a fresh stop record is written even when the
		// previous bookkeeping cannot be read.
		s.log.Error().Err(err).Str("accessCode", key.AccessCode).Str("questionUid", key.QuestionUID).
			Msg("timer read failed on stop")
	}
	rec := domain.TimerRecord{
		QuestionUID:     key.QuestionUID,
		Status:          domain.TimerStop,
		StartedAt:       now,
		LastStateChange: now,
	}
	if found {
		rec.StartedAt = prev.StartedAt
		rec.DurationMs = prev.DurationMs
		rec.TotalPlayTimeMs = prev.TotalPlayTimeMs
		if prev.Status == domain.TimerRun {
			rec.TotalPlayTimeMs += now - prev.LastStateChange
		}
	}
	if err := s.store.SetTimer(ctx, key, rec); err != nil {
		return s.failClosed(key, err), err
	}
	s.log.Debug().Str("accessCode", key.AccessCode).Str("questionUid", key.QuestionUID).Msg("timer stopped")
	return s.snapshotOf(rec, rec.DurationMs), nil
}

// Reset prepares a fresh paused timer at full duration. Called on every
// question transition so a previous question's running timer can never leak
// into the new one.
func (s *TimerService) Reset(ctx context.Context, key domain.TimerKey, durationMs int64) (domain.TimerSnapshot, error) {
	if !key.PlayMode.Timed() {
		return domain.TimerSnapshot{Status: domain.TimerStop, QuestionUID: key.QuestionUID}, nil
	}
	if err := key.Validate(); err != nil {
		return domain.TimerSnapshot{Status: domain.TimerStop}, err
	}
	now := s.now()
	rec := domain.TimerRecord{
		QuestionUID:     key.QuestionUID,
		Status:          domain.TimerPause,
		StartedAt:       now,
		TotalPlayTimeMs: 0,
		LastStateChange: now,
		DurationMs:      durationMs,
		TimeLeftMs:      durationMs,
	}
	if err := s.store.SetTimer(ctx, key, rec); err != nil {
		return s.failClosed(key, err), err
	}
	s.log.Debug().Str("accessCode", key.AccessCode).Str("questionUid", key.QuestionUID).
		Int64("durationMs", durationMs).Msg("timer reset")
	return s.snapshotOf(rec, durationMs), nil
}

// SetDuration edits the canonical duration, recomputing remaining time for a
// running or paused timer.
func (s *TimerService) SetDuration(ctx context.Context, key domain.TimerKey, durationMs int64) (domain.TimerSnapshot, error) {
	if !key.PlayMode.Timed() {
		return domain.TimerSnapshot{Status: domain.TimerStop, QuestionUID: key.QuestionUID}, nil
	}
	now := s.now()
	rec, found, err := s.store.Timer(ctx, key)
	if err != nil {
		return s.failClosed(key, err), err
	}
	if !found {
		rec = domain.TimerRecord{
			QuestionUID:     key.QuestionUID,
			Status:          domain.TimerStop,
			StartedAt:       now,
			LastStateChange: now,
			DurationMs:      durationMs,
			TimeLeftMs:      durationMs,
		}
	} else {
		switch rec.Status {
		case domain.TimerRun:
			rec.TotalPlayTimeMs += now - rec.LastStateChange
			rec.LastStateChange = now
			rec.DurationMs = durationMs
		case domain.TimerPause:
			rec.DurationMs = durationMs
			if rec.TimeLeftMs > durationMs {
				rec.TimeLeftMs = durationMs
			}
		default:
			rec.DurationMs = durationMs
			rec.TimeLeftMs = durationMs
		}
	}
	if err := s.store.SetTimer(ctx, key, rec); err != nil {
		return s.failClosed(key, err), err
	}
	return s.snapshotOf(rec, durationMs), nil
}

// Elapsed returns canonical milliseconds of play time for this key. This is
// the only trusted source of timeSpent for scoring.
func (s *TimerService) Elapsed(ctx context.Context, key domain.TimerKey) int64 {
	if !key.PlayMode.Timed() {
		return 0
	}
	rec, found, err := s.store.Timer(ctx, key)
	if err != nil || !found {
		if err != nil {
			s.log.Error().Err(err).Str("accessCode", key.AccessCode).Str("questionUid", key.QuestionUID).
				Msg("timer read failed, reporting zero elapsed")
		}
		return 0
	}
	if rec.Status == domain.TimerRun {
		return rec.TotalPlayTimeMs + (s.now() - rec.LastStateChange)
	}
	return rec.TotalPlayTimeMs
}

// Snapshot returns the canonical read-only timer view. fallbackDurationMs is
// used when the stored record carries no duration (or no record exists).
//
// A running timer whose remaining time has reached zero keeps status run with
// TimeLeftMs clamped to 0: consumers distinguish "stopped" from "expired by
// clock math" and the expiry scheduler owns the actual stop transition.
//
// On store failure the snapshot fails closed (stopped, zero remaining), so a
// broken store can never grant infinite answer time.
func (s *TimerService) Snapshot(ctx context.Context, key domain.TimerKey, fallbackDurationMs int64) domain.TimerSnapshot {
	if !key.PlayMode.Timed() {
		return domain.TimerSnapshot{Status: domain.TimerStop, QuestionUID: key.QuestionUID, Timestamp: s.now()}
	}
	now := s.now()
	rec, found, err := s.store.Timer(ctx, key)
	if err != nil {
		s.log.Error().Err(err).Str("accessCode", key.AccessCode).Str("questionUid", key.QuestionUID).
			Msg("timer read failed, returning fail-closed snapshot")
		return domain.TimerSnapshot{Status: domain.TimerStop, QuestionUID: key.QuestionUID, Timestamp: now}
	}
	if !found {
		return domain.TimerSnapshot{
			Status:      domain.TimerStop,
			QuestionUID: key.QuestionUID,
			DurationMs:  fallbackDurationMs,
			TimeLeftMs:  fallbackDurationMs,
			Timestamp:   now,
		}
	}
	return s.snapshotOf(rec, fallbackDurationMs)
}

func (s *TimerService) snapshotOf(rec domain.TimerRecord, fallbackDurationMs int64) domain.TimerSnapshot {
	now := s.now()
	duration := rec.DurationMs
	if duration <= 0 {
		duration = fallbackDurationMs
	}
	snap := domain.TimerSnapshot{
		Status:      rec.Status,
		QuestionUID: rec.QuestionUID,
		DurationMs:  duration,
		Timestamp:   now,
	}
	switch rec.Status {
	case domain.TimerRun:
		elapsed := rec.TotalPlayTimeMs + (now - rec.LastStateChange)
		left := duration - elapsed
		if left < 0 {
			left = 0
		}
		snap.TimeLeftMs = left
		snap.TimerEndDateMs = now + left
	case domain.TimerPause:
		left := rec.TimeLeftMs
		if left <= 0 {
			left = duration - rec.TotalPlayTimeMs
		}
		if left < 0 {
			left = 0
		}
		snap.TimeLeftMs = left
	default:
		snap.TimeLeftMs = 0
	}
	return snap
}

func (s *TimerService) failClosed(key domain.TimerKey, err error) domain.TimerSnapshot {
	if err != nil {
		s.log.Error().Err(err).Str("accessCode", key.AccessCode).Str("questionUid", key.QuestionUID).
			Msg("timer store failure")
	}
	return domain.TimerSnapshot{Status: domain.TimerStop, QuestionUID: key.QuestionUID, Timestamp: s.now()}
}
