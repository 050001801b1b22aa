package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"live-poll-service/internal/app"
	"live-poll-service/internal/auth"
	"live-poll-service/internal/config"
	"live-poll-service/internal/domain"
	"live-poll-service/internal/infra/memory"
	"live-poll-service/internal/infra/postgres"
	infraredis "live-poll-service/internal/infra/redis"
	"live-poll-service/internal/logger"
	transport "live-poll-service/internal/transport/http"
)

const (
	demoCourseID   int64 = 1
	demoLecturerID int64 = 1
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live-poll server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
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
	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}

	var store app.Store
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = postgres.NewStore(pool)
		log.Info().Msg("Using Postgres session store")
	} else {
		mem := memory.NewStore()
		if cfg.Poll.DemoCourse {
			seedDemoCourse(mem, log)
		}
		store = mem
		log.Warn().Msg("No postgres url configured; sessions live in memory")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		timeout := config.TTLDuration(cfg.Redis.Timeout, 2*time.Second)
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis ping failed")
		}
	}

	questionTTL := config.TTLDuration(cfg.Poll.QuestionTTL, 10*time.Minute)
	presenceTTL := config.TTLDuration(cfg.Poll.PresenceTTL, 2*time.Minute)

	var (
		questions app.QuestionRepository
		presence  transport.Presence
	)
	if redisClient != nil {
		questions = infraredis.NewQuestionCache(redisClient, store, questionTTL, log)
		presence = infraredis.NewPresence(redisClient, presenceTTL)
	} else {
		questions = memory.NewQuestionCache(store, questionTTL)
		presence = memory.NewPresence(presenceTTL)
	}

	hub := app.NewHub()
	service := app.NewPollService(store, questions, hub, log)

	tokens := auth.NewTokens(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 12*time.Hour))
	identity := transport.NewIdentityResolver(tokens, cfg.Auth.AllowHeaderIdentity)
	if cfg.Auth.AllowHeaderIdentity {
		log.Warn().Msg("Header identity enabled; X-User-ID is trusted without a token")
	}

	router := transport.NewRouter(transport.RouterConfig{
		Polls: transport.NewPollHandler(service, hub, presence, log),
		WS: transport.NewWSHandler(service, hub, presence, identity, transport.WSConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, log),
		Identity:       identity,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Log:            log,
	})

	// the WebSocket handler resets both deadlines per frame after the upgrade
	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", finalPort).Msg("Starting live-poll service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("Shutting down server")
	case <-ctx.Done():
		log.Info().Msg("Context canceled, shutting down server")
	case err := <-errCh:
		log.Error().Err(err).Msg("Server failed")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedDemoCourse registers a lecturer and a handful of students so a fresh in-memory
// server can be driven from the CLI without a user database.
func seedDemoCourse(store *memory.Store, log zerolog.Logger) {
	store.AddCourseMember(demoCourseID, demoLecturerID, domain.RoleLecturer)
	for userID := int64(2); userID <= 6; userID++ {
		store.AddCourseMember(demoCourseID, userID, domain.RoleStudent)
	}
	log.Info().
		Int64("course_id", demoCourseID).
		Int64("lecturer_id", demoLecturerID).
		Str("student_ids", "2-6").
		Msg("Seeded demo course")
}
