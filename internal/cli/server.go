package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/config"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
	pgcatalog "quiz-session-service/internal/infra/postgres"
	redisinfra "quiz-session-service/internal/infra/redis"
	"quiz-session-service/internal/transport/ws"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	stateTTL := config.TTLDuration(cfg.Game.StateTTL, 24*time.Hour)
	timerTTL := config.TTLDuration(cfg.Game.TimerTTL, 24*time.Hour)
	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	clock := clockwork.NewRealClock()

	// Shared state: Redis in production, in-memory for single-node dev runs.
	var games app.GameStore
	var timerStore app.TimerStore
	if redisClient != nil {
		games = redisinfra.NewGameStore(redisClient)
		timerStore = redisinfra.NewTimerStore(redisClient, timerTTL)
	} else {
		logger.Warn().Msg("no redis configured, using in-memory state (single node only)")
		games = memory.NewGameStore()
		timerStore = memory.NewTimerStore()
	}

	var catalog app.Catalog
	if pool != nil {
		catalog = pgcatalog.NewCatalog(pool)
	} else {
		logger.Warn().Msg("no postgres configured, using seeded in-memory catalog")
		catalog = seededCatalog()
	}
	if redisClient != nil {
		catalog = redisinfra.NewCachedCatalog(redisClient, catalog, catalogTTL)
	}

	hub := ws.NewHub(logger)
	timers := app.NewTimerService(timerStore, clock, timerTTL, logger)
	gameState := app.NewGameStateService(games, catalog, timers, clock, stateTTL, logger)
	scoring := app.NewScoringService(games, catalog, timers, gameState, hub, clock, logger)
	expiry := app.NewExpiryRegistry(clock)
	sessions := app.NewSessionRegistry()
	control := app.NewControlService(games, catalog, timers, gameState, hub, expiry, sessions, clock, logger)
	deferred := app.NewDeferredRunner(games, catalog, timers, hub, sessions, clock, logger)
	handler := ws.NewHandler(hub, catalog, gameState, scoring, control, deferred, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", handler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info().Str("port", finalPort).Msg("starting quiz session service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info().Msg("shutting down server")
	case <-ctx.Done():
		logger.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Log.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// seededCatalog provides a minimal demo game; swap in the Postgres catalog
// for production.
func seededCatalog() *memory.StaticCatalog {
	catalog := memory.NewStaticCatalog()
	templateID := uuid.NewString()
	catalog.SeedQuestions(templateID,
		domain.Question{
			UID:            "demo-q1",
			Title:          "Addition",
			Text:           "What is 2 + 2?",
			QuestionType:   domain.QuestionSingleChoice,
			AnswerOptions:  []string{"3", "4", "5"},
			CorrectAnswers: []bool{false, true, false},
			TimeLimitSec:   30,
		},
		domain.Question{
			UID:            "demo-q2",
			Title:          "Multiplication",
			Text:           "Which of these equal 12?",
			QuestionType:   domain.QuestionMultipleChoice,
			AnswerOptions:  []string{"3 x 4", "2 x 6", "5 x 2", "4 x 4"},
			CorrectAnswers: []bool{true, true, false, false},
			TimeLimitSec:   45,
			Explanation:    "12 factors as 3 x 4 and 2 x 6.",
		},
		domain.Question{
			UID:          "demo-q3",
			Title:        "Square root",
			Text:         "What is the square root of 144?",
			QuestionType: domain.QuestionNumeric,
			CorrectValue: "12",
			TimeLimitSec: 20,
		},
	)
	catalog.SeedGameInstance(domain.GameInstance{
		ID:                uuid.NewString(),
		AccessCode:        "DEMO01",
		Status:            domain.GameStatusPending,
		PlayMode:          domain.PlayModeQuiz,
		InitiatorUserID:   "teacher-1",
		TemplateID:        templateID,
		TemplateCreatorID: "teacher-1",
		Settings:          domain.GameSettings{TimeMultiplier: 1, ShowLeaderboard: true},
	})
	return catalog
}
