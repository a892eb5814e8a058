package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"studentforge-backend/internal/config"
	"studentforge-backend/internal/database"
	"studentforge-backend/internal/gamification"
	"studentforge-backend/internal/handlers"
	"studentforge-backend/internal/logging"
	"studentforge-backend/internal/middleware"
	"studentforge-backend/internal/repository"
	"studentforge-backend/internal/router"
	"studentforge-backend/internal/services"
	"studentforge-backend/internal/websocket"
	"studentforge-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	logging.Setup(cfg.Env, cfg.LogLevel)
	log.Info().Str("env", cfg.Env).Msg("starting studentforge backend")

	ctx := context.Background()

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisClients.Close()

	// ──── Step 4: Run Database Migrations ────
	applied, err := database.RunMigrations(ctx, pool, cfg.MigrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}
	log.Info().Int("applied", applied).Msg("database migrations up to date")

	// ──── Step 5: Storage ────
	storage, err := services.NewStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("type", cfg.StorageType).Msg("storage initialization failed")
	}

	// ──── Initialize Repositories ────
	documentRepo := repository.NewDocumentRepo(pool)
	progressRepo := repository.NewProgressRepo(pool)
	profileRepo := repository.NewProfileRepo(pool)
	historyRepo := repository.NewHistoryRepo(pool)
	quizRepo := repository.NewQuizRepo(pool)
	jobRepo := repository.NewJobRepo(pool)

	// ──── Initialize Services ────
	badges, err := gamification.NewBadgeEvaluator()
	if err != nil {
		log.Fatal().Err(err).Msg("badge catalog failed to load")
	}

	publisher := services.NewRedisPublisher(redisClients.Queue)
	jobQueue := services.NewRedisJobQueue(redisClients.Queue)
	leaderboard := services.NewLeaderboardService(redisClients.Queue, profileRepo)
	applier := services.NewRewardApplier(progressRepo, profileRepo, historyRepo, jobQueue, leaderboard)
	streaks := services.NewStreakService(profileRepo, historyRepo)
	sessions := services.NewRedisSessionStore(redisClients.Queue)

	readingService := services.NewReadingService(documentRepo, progressRepo, profileRepo, sessions, applier, badges, streaks, publisher)
	documentService := services.NewDocumentService(documentRepo, jobRepo, jobQueue, storage, services.NewFileExtractService(), publisher)

	// Quiz generation stays off without an API key; submissions still work.
	var generator services.QuizGenerator
	if cfg.GeminiAPIKey != "" {
		gemini, err := services.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiConcurrentReqs, publisher)
		if err != nil {
			log.Fatal().Err(err).Msg("gemini client initialization failed")
		}
		defer gemini.Close()
		generator = gemini
		log.Info().Str("model", cfg.GeminiModel).Msg("gemini client initialized")
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, quiz generation disabled")
	}
	quizService := services.NewQuizService(quizRepo, documentRepo, jobRepo, jobQueue, generator, profileRepo, applier, badges, streaks, publisher)

	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)

	// ──── Initialize Handlers ────
	h := router.Handlers{
		Reading:   handlers.NewReadingHandler(readingService),
		Documents: handlers.NewDocumentHandler(documentService),
		Quizzes:   handlers.NewQuizHandler(quizService),
		Profile:   handlers.NewProfileHandler(profileRepo, historyRepo, badges, leaderboard),
		Jobs:      handlers.NewJobHandler(jobRepo),
	}

	// ──── Step 6: Start Job Worker Pool ────
	workerPool := worker.NewPool(redisClients.Queue, documentService, quizService, applier, jobRepo, jobQueue, publisher, cfg.WorkerCount)
	workerPool.Start()

	streakScheduler := services.NewStreakScheduler(profileRepo)
	streakScheduler.Start()

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, cfg.FrontendURL)

	// ──── Step 8: Start HTTP Server ────
	r, limiter := router.New(jwtAuth, h, wsHub, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}

		wsHub.Close()
		limiter.Stop()
		streakScheduler.Stop()
		workerPool.Stop()
	}()

	log.Info().
		Str("api", fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port)).
		Str("ws", fmt.Sprintf("ws://localhost:%s/api/v1/ws", cfg.Port)).
		Msg("studentforge backend ready")

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
	<-stopped
	log.Info().Msg("shutdown complete")
}
