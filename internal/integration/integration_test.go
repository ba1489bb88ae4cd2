package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	pgcatalog "quiz-session-service/internal/infra/postgres"
	"quiz-session-service/internal/infra/postgres/migrations"
	infraredis "quiz-session-service/internal/infra/redis"
)

const (
	itAccessCode = "IT0042"
	itGameID     = "it-game-1"
	itTeacherID  = "teacher-it"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events map[string]int
}

func (b *recordingBroadcaster) Broadcast(_, event string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events == nil {
		b.events = make(map[string]int)
	}
	b.events[event]++
}

func (b *recordingBroadcaster) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events[event]
}

func TestSessionLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedGame(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	log := zerolog.Nop()
	clock := clockwork.NewRealClock()
	bc := &recordingBroadcaster{}

	catalog := infraredis.NewCachedCatalog(redisClient, pgcatalog.NewCatalog(pool), 5*time.Minute)
	games := infraredis.NewGameStore(redisClient)
	timerDB := infraredis.NewTimerStore(redisClient, time.Hour)

	timers := app.NewTimerService(timerDB, clock, time.Hour, log)
	state := app.NewGameStateService(games, catalog, timers, clock, time.Hour, log)
	scoring := app.NewScoringService(games, catalog, timers, state, bc, clock, log)
	expiry := app.NewExpiryRegistry(clock)
	sessions := app.NewSessionRegistry()
	control := app.NewControlService(games, catalog, timers, state, bc, expiry, sessions, clock, log)

	if _, err := control.InitializeGame(ctx, itAccessCode, itTeacherID); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := control.SetQuestion(ctx, itAccessCode, itTeacherID, 0); err != nil {
		t.Fatalf("set question: %v", err)
	}
	if _, err := control.TimerAction(ctx, itAccessCode, itTeacherID, app.TimerActionStart, "q1", 0); err != nil {
		t.Fatalf("start timer: %v", err)
	}

	if _, err := state.Join(ctx, itAccessCode, "u1", "Alice", ""); err != nil {
		t.Fatalf("join u1: %v", err)
	}
	if _, err := state.Join(ctx, itAccessCode, "u2", "Bob", ""); err != nil {
		t.Fatalf("join u2: %v", err)
	}

	result := scoring.Submit(ctx, app.SubmitRequest{
		AccessCode:  itAccessCode,
		UserID:      "u2",
		Username:    "Bob",
		QuestionUID: "q1",
		Answer:      domain.AnswerValue{Kind: domain.AnswerIndex, Index: 1},
	})
	if result.Rejection != nil {
		t.Fatalf("submit rejected: %+v", result.Rejection)
	}
	if !result.Record.IsCorrect || result.Record.Score < 100 || result.Record.Score > 1000 {
		t.Fatalf("unexpected scoring: %+v", result.Record)
	}

	board, err := state.Leaderboard(ctx, itAccessCode)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 || board[0].UserID != "u2" || board[0].Score != result.Record.Score {
		t.Fatalf("expected bob leading, got %+v", board)
	}

	// The durable row in Postgres carries the same score.
	var durableScore int
	if err := pool.QueryRow(ctx, `
		SELECT score FROM game_participants
		WHERE game_instance_id = $1 AND user_id = 'u2'`, itGameID).Scan(&durableScore); err != nil {
		t.Fatalf("read durable score: %v", err)
	}
	if durableScore != result.Record.Score {
		t.Fatalf("durable score %d, submitted %d", durableScore, result.Record.Score)
	}

	if err := control.EndGame(ctx, itAccessCode, itTeacherID); err != nil {
		t.Fatalf("end game: %v", err)
	}
	instance, err := catalog.GameInstanceByID(ctx, itGameID)
	if err != nil {
		t.Fatalf("reload instance: %v", err)
	}
	if instance.Status != domain.GameStatusCompleted {
		t.Fatalf("instance not completed: %+v", instance)
	}
	if bc.count(app.EventGameEnded) == 0 {
		t.Fatal("no terminal broadcast observed")
	}

	// Ending the game swept every shared-state key; only the durable rows
	// remain.
	if _, err := games.GameState(ctx, itAccessCode); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected cleaned-up redis state, got %v", err)
	}
	if scores, err := games.Leaderboard(ctx, itAccessCode); err != nil || len(scores) != 0 {
		t.Fatalf("leaderboard survived cleanup: %+v err=%v", scores, err)
	}

	// Further submissions bounce off the swept game.
	late := scoring.Submit(ctx, app.SubmitRequest{
		AccessCode:  itAccessCode,
		UserID:      "u1",
		Username:    "Alice",
		QuestionUID: "q1",
		Answer:      domain.AnswerValue{Kind: domain.AnswerIndex, Index: 1},
	})
	if late.Rejection == nil {
		t.Fatal("expected rejection after game end")
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedGame(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO game_templates (id, creator_id, name)
		VALUES ('it-tmpl', 'creator-it', 'Integration quiz')`); err != nil {
		t.Fatalf("insert template: %v", err)
	}

	questions := []map[string]any{
		{
			"uid":            "q1",
			"text":           "What is 2 + 2?",
			"questionType":   "single_choice",
			"answerOptions":  []string{"3", "4", "5"},
			"correctAnswers": []bool{false, true, false},
			"timeLimit":      30,
		},
		{
			"uid":            "q2",
			"text":           "Which of these equal 12?",
			"questionType":   "multiple_choice",
			"answerOptions":  []string{"3 x 4", "2 x 6", "5 x 2"},
			"correctAnswers": []bool{true, true, false},
			"timeLimit":      45,
		},
	}
	for seq, q := range questions {
		data, err := json.Marshal(q)
		if err != nil {
			t.Fatalf("marshal question: %v", err)
		}
		if _, err := db.ExecContext(ctx, `
			INSERT INTO questions (uid, data) VALUES (?, ?::jsonb)`, q["uid"], string(data)); err != nil {
			t.Fatalf("insert question: %v", err)
		}
		if _, err := db.ExecContext(ctx, `
			INSERT INTO template_questions (template_id, question_uid, sequence)
			VALUES ('it-tmpl', ?, ?)`, q["uid"], seq); err != nil {
			t.Fatalf("insert template question: %v", err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO game_instances (id, access_code, status, play_mode, initiator_user_id, template_id, settings)
		VALUES (?, ?, 'pending', 'quiz', ?, 'it-tmpl', '{"timeMultiplier":1,"showLeaderboard":true}'::jsonb)`,
		itGameID, itAccessCode, itTeacherID); err != nil {
		t.Fatalf("insert game instance: %v", err)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
