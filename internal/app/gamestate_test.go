package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-session-service/internal/domain"
)

func TestInitializeBuildsPendingState(t *testing.T) {
	h := newHarness(domain.PlayModeQuiz)
	ctx := context.Background()

	state, err := h.initGame(ctx)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if state.Status != domain.GameStatusPending {
		t.Fatalf("expected pending, got %s", state.Status)
	}
	if state.CurrentQuestionIndex != -1 || state.CurrentQuestionUID() != "" {
		t.Fatalf("expected no active question, got index %d", state.CurrentQuestionIndex)
	}
	if len(state.QuestionUIDs) != 3 || state.QuestionUIDs[0] != "q1" {
		t.Fatalf("unexpected question sequence: %v", state.QuestionUIDs)
	}
	if state.AnswersLocked {
		t.Fatal("expected answers unlocked initially")
	}
}

func TestInitializeRejectsEmptyTemplate(t *testing.T) {
	h := newHarness(domain.PlayModeQuiz)
	h.catalog.SeedQuestions("empty-tmpl")
	h.catalog.SeedGameInstance(domain.GameInstance{
		ID:              "game-2",
		AccessCode:      "EMPTY1",
		PlayMode:        domain.PlayModeQuiz,
		InitiatorUserID: testTeacherID,
		TemplateID:      "empty-tmpl",
	})

	if _, err := h.state.Initialize(context.Background(), "game-2"); !errors.Is(err, domain.ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
}

func TestSetCurrentQuestionActivatesWithFreshPausedTimer(t *testing.T) {
	h := newHarness(domain.PlayModeQuiz)
	ctx := context.Background()
	if _, err := h.initGame(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	state, question, snap, err := h.state.SetCurrentQuestion(ctx, testAccessCode, 0)
	if err != nil {
		t.Fatalf("set question: %v", err)
	}
	if state.Status != domain.GameStatusActive || state.CurrentQuestionUID() != "q1" {
		t.Fatalf("unexpected state: %+v", state)
	}
	if question.UID != "q1" {
		t.Fatalf("unexpected question: %s", question.UID)
	}
	if snap.Status != domain.TimerPause || snap.TimeLeftMs != 30_000 {
		t.Fatalf("expected fresh paused timer, got %+v", snap)
	}
	if state.QuestionData == nil || len(state.QuestionData.AnswerOptions) != 3 {
		t.Fatalf("expected sanitized question payload, got %+v", state.QuestionData)
	}
}

func TestQuestionSwitchCannotLeakPreviousTimer(t *testing.T) {
	h := newHarness(domain.PlayModeQuiz)
	ctx := context.Background()
	_, _ = h.initGame(ctx)
	_, _, _, _ = h.state.SetCurrentQuestion(ctx, testAccessCode, 0)

	key1 := liveKey("q1", domain.PlayModeQuiz)
	_, _ = h.timers.Start(ctx, key1, 30_000)
	h.clock.Advance(25 * time.Second)

	_, _, snap, err := h.state.SetCurrentQuestion(ctx, testAccessCode, 1)
	if err != nil {
		t.Fatalf("switch question: %v", err)
	}
	if snap.Status != domain.TimerPause || snap.TimeLeftMs != 45_000 {
		t.Fatalf("expected q2 paused full 45000ms, got %+v", snap)
	}
	if got := h.timers.Elapsed(ctx, liveKey("q2", domain.PlayModeQuiz)); got != 0 {
		t.Fatalf("expected zero elapsed on new question, got %d", got)
	}
}

func TestRevisitingQuestionClearsItsAnswers(t *testing.T) {
	h := newHarness(domain.PlayModeQuiz)
	ctx := context.Background()
	_, _ = h.initGame(ctx)
	_, _, _, _ = h.state.SetCurrentQuestion(ctx, testAccessCode, 0)
	_ = h.games.SetAnswer(ctx, testAccessCode, "q1", 0, domain.AnswerRecord{UserID: "u1", QuestionUID: "q1", Score: 500})

	_, _, _, _ = h.state.SetCurrentQuestion(ctx, testAccessCode, 1)
	if _, _, _, err := h.state.SetCurrentQuestion(ctx, testAccessCode, 0); err != nil {
		t.Fatalf("revisit: %v", err)
	}
	answers, _ := h.games.Answers(ctx, testAccessCode, "q1", 0)
	if len(answers) != 0 {
		t.Fatalf("expected q1 answers cleared on revisit, got %d", len(answers))
	}
}

func TestSetCurrentQuestionBoundsChecked(t *testing.T) {
	h := newHarness(domain.PlayModeQuiz)
	ctx := context.Background()
	_, _ = h.initGame(ctx)

	if _, _, _, err := h.state.SetCurrentQuestion(ctx, testAccessCode, 5); !errors.Is(err, domain.ErrInvalidQuestionIndex) {
		t.Fatalf("expected index error, got %v", err)
	}
	if _, _, _, err := h.state.SetCurrentQuestion(ctx, testAccessCode, -1); !errors.Is(err, domain.ErrInvalidQuestionIndex) {
		t.Fatalf("expected index error, got %v", err)
	}
}

func TestCompletedGameCannotReactivate(t *testing.T) {
	h := newHarness(domain.PlayModeQuiz)
	ctx := context.Background()
	state, _ := h.initGame(ctx)
	state.Status = domain.GameStatusCompleted
	if err := h.state.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, _, _, err := h.state.SetCurrentQuestion(ctx, testAccessCode, 0); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
}

func TestFullGameStateAssemblesThreeStructures(t *testing.T) {
	h := newHarness(domain.PlayModeQuiz)
	ctx := context.Background()
	_, _ = h.initGame(ctx)
	_, _, _, _ = h.state.SetCurrentQuestion(ctx, testAccessCode, 0)

	_ = h.games.SetParticipant(ctx, testAccessCode, domain.Participant{UserID: "u1", Username: "Ada", Score: 700})
	_ = h.games.SetLeaderboardScore(ctx, testAccessCode, "u1", 700)
	// Score entry without a participant record must still render.
	_ = h.games.SetLeaderboardScore(ctx, testAccessCode, "ghost", 400)
	_ = h.games.SetAnswer(ctx, testAccessCode, "q1", 0, domain.AnswerRecord{UserID: "u1", QuestionUID: "q1", Score: 700})

	full, err := h.state.FullGameState(ctx, testAccessCode)
	if err != nil {
		t.Fatalf("full state: %v", err)
	}
	if len(full.Participants) != 1 || len(full.Answers["q1"]) != 1 {
		t.Fatalf("unexpected assembly: %+v", full)
	}
	if len(full.Leaderboard) != 2 {
		t.Fatalf("expected 2 leaderboard rows, got %d", len(full.Leaderboard))
	}
	if full.Leaderboard[0].Username != "Ada" || full.Leaderboard[0].Rank != 1 {
		t.Fatalf("unexpected leader: %+v", full.Leaderboard[0])
	}
	if full.Leaderboard[1].Username != "Unknown Player" {
		t.Fatalf("expected placeholder for ghost, got %+v", full.Leaderboard[1])
	}
}

func TestLeaderboardTiesBreakByUsername(t *testing.T) {
	h := newHarness(domain.PlayModeQuiz)
	ctx := context.Background()
	_, _ = h.initGame(ctx)

	for _, p := range []domain.Participant{
		{UserID: "u1", Username: "Zoe", Score: 500},
		{UserID: "u2", Username: "Ada", Score: 500},
	} {
		_ = h.games.SetParticipant(ctx, testAccessCode, p)
		_ = h.games.SetLeaderboardScore(ctx, testAccessCode, p.UserID, p.Score)
	}

	board, err := h.state.Leaderboard(ctx, testAccessCode)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if board[0].Username != "Ada" || board[1].Username != "Zoe" {
		t.Fatalf("expected username tie-break, got %+v", board)
	}
	if board[0].Rank != 1 || board[1].Rank != 2 {
		t.Fatalf("expected dense ranks, got %+v", board)
	}
}

func TestFullGameStateDegradesForCompletedGameWithExpiredCache(t *testing.T) {
	h := newHarness(domain.PlayModeQuiz)
	ctx := context.Background()
	// No cached state at all; catalog says the game completed.
	if err := h.catalog.MarkGameCompleted(ctx, testGameID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	full, err := h.state.FullGameState(ctx, testAccessCode)
	if err != nil {
		t.Fatalf("expected degraded state, got %v", err)
	}
	if full.GameState.Status != domain.GameStatusCompleted || full.GameState.GameID != testGameID {
		t.Fatalf("unexpected degraded state: %+v", full.GameState)
	}
}

func TestFullGameStateMissingActiveGameFails(t *testing.T) {
	h := newHarness(domain.PlayModeQuiz)
	if _, err := h.state.FullGameState(context.Background(), testAccessCode); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
}

func TestProjectionDisplaySurvivesReload(t *testing.T) {
	h := newHarness(domain.PlayModeQuiz)
	ctx := context.Background()
	_, _ = h.initGame(ctx)
	_, _, _, _ = h.state.SetCurrentQuestion(ctx, testAccessCode, 0)

	display, err := h.control.ToggleProjectionStats(ctx, testAccessCode, testTeacherID, true)
	if err != nil {
		t.Fatalf("toggle stats: %v", err)
	}
	if !display.ShowStats || display.StatsQuestionUID != "q1" {
		t.Fatalf("unexpected display: %+v", display)
	}

	// A reloading projection rebuilds the same view from the store.
	reloaded, err := h.state.ProjectionDisplay(ctx, testAccessCode)
	if err != nil {
		t.Fatalf("reload display: %v", err)
	}
	if !reloaded.ShowStats || reloaded.StatsQuestionUID != "q1" {
		t.Fatalf("projection toggles lost on reload: %+v", reloaded)
	}

	// Question change resets the toggles.
	_, _, _, _ = h.state.SetCurrentQuestion(ctx, testAccessCode, 1)
	reloaded, _ = h.state.ProjectionDisplay(ctx, testAccessCode)
	if reloaded.ShowStats || reloaded.StatsQuestionUID != "" {
		t.Fatalf("expected cleared toggles after question change: %+v", reloaded)
	}
}

func TestJoinRefreshesWithoutTouchingScore(t *testing.T) {
	h := newHarness(domain.PlayModeQuiz)
	ctx := context.Background()
	_, _ = h.initGame(ctx)

	p, err := h.state.Join(ctx, testAccessCode, "u1", "Ada", "🦆")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if p.Score != 0 || p.ParticipationType != domain.ParticipationLive {
		t.Fatalf("unexpected new participant: %+v", p)
	}

	_ = h.games.SetParticipant(ctx, testAccessCode, domain.Participant{UserID: "u1", Username: "Ada", Score: 850, ParticipationType: domain.ParticipationLive})
	rejoined, err := h.state.Join(ctx, testAccessCode, "u1", "Ada L.", "")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if rejoined.Score != 850 {
		t.Fatalf("rejoin reset score: %+v", rejoined)
	}
	if rejoined.Username != "Ada L." {
		t.Fatalf("rejoin kept stale username: %+v", rejoined)
	}
}
