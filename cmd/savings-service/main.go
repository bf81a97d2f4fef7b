/**
 * @description
 * This is the main entry point for the savings-service. It loads configuration, connects
 * to PostgreSQL, Redis and RabbitMQ, builds the per-user session registry around the
 * payment processor client, starts the maturity scheduler and serves the HTTP API.
 *
 * @notes
 * - Without DATABASE_URL the service runs on the in-memory repository and provisions a user
 *   for every new Clerk id. This is meant for local development only; nothing survives a
 *   restart.
 * - Redis and RabbitMQ are optional: rate limiting and event publishing degrade with a
 *   warning instead of blocking boot.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Rate limiter backend.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/savings-service/internal/api"
	"github.com/transfa/savings-service/internal/app"
	"github.com/transfa/savings-service/internal/config"
	"github.com/transfa/savings-service/internal/store"
	"github.com/transfa/savings-service/pkg/processorclient"
	rmrabbit "github.com/transfa/savings-service/pkg/rabbitmq"
)

func main() {
	// Load .env for local development; real deployments use the environment.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment\"")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Println("level=warn component=bootstrap msg=\"internal api key not configured; internal routes will reject every request\" env=INTERNAL_API_KEY")
	}
	log.Printf("level=info component=bootstrap msg=\"starting savings-service\" port=%s", cfg.ServerPort)

	repository, closeRepo := openRepository(cfg)
	defer closeRepo()

	var limiter api.RateLimiter
	if cfg.MoneyMovementRateLimitPerMinute > 0 {
		if redisClient := connectRedis(cfg.RedisURL); redisClient != nil {
			defer redisClient.Close()
			limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
		}
	}

	var events rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; events disabled\" env=RABBITMQ_URL")
	} else if producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer producer.Close()
		events = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	processor := processorclient.NewClient(cfg.ProcessorAPIBaseURL, cfg.ProcessorAPIKey, cfg.ProcessorTimeout())

	sessions := app.NewSessions(app.Dependencies{
		Repo:                        repository,
		Processor:                   processor,
		Events:                      events,
		RequireVerifiedBankAccounts: cfg.RequireVerifiedBankAccounts,
		Currency:                    cfg.Currency,
	})

	jobs := app.NewJobs(repository, events, sessions, logger, cfg)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()
	logger.Info("scheduler started")

	handler := api.NewHandler(repository, sessions, jobs)
	router := api.NewRouter(handler, api.RouterConfig{
		JWKSURL:                         cfg.ClerkJWKSURL,
		InternalAPIKey:                  cfg.InternalAPIKey,
		RateLimiter:                     limiter,
		MoneyMovementRateLimitPerMinute: cfg.MoneyMovementRateLimitPerMinute,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
		logger.Info("scheduler stopped gracefully")
	case <-ctx.Done():
		logger.Warn("scheduler did not stop before shutdown deadline")
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// openRepository connects to PostgreSQL and applies the schema, or falls back to the
// in-memory repository when no database is configured.
func openRepository(cfg config.Config) (store.Repository, func()) {
	if cfg.DatabaseURL == "" {
		log.Println("level=warn component=bootstrap msg=\"database url missing; using in-memory repository with on-demand users\" env=DATABASE_URL")
		repository := store.NewMemoryRepository()
		repository.ProvisionUsersOnDemand()
		return repository, func() {}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	repository := store.NewPostgresRepository(dbpool)
	schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := repository.ApplySchema(schemaCtx); err != nil {
		dbpool.Close()
		log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
	}

	return repository, dbpool.Close
}

func connectRedis(redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; money movement rate limiting disabled\" env=REDIS_URL")
		return nil
	}

	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; money movement rate limiting disabled\" err=%v", err)
		return nil
	}

	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; money movement rate limiting disabled\" err=%v", err)
		client.Close()
		return nil
	}

	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
