/**
 * @description
 * This is the main entry point for the treasury-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the Redis rate limiter, the outbox dispatcher, the reconciliation
 * scheduler, repositories, the core application service, and the HTTP server.
 * It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Optional .env loading for local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/metrics: Prometheus collector.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/vestra/treasury-service/internal/api"
	"github.com/vestra/treasury-service/internal/app"
	"github.com/vestra/treasury-service/internal/config"
	"github.com/vestra/treasury-service/internal/domain"
	"github.com/vestra/treasury-service/internal/store"
	"github.com/vestra/treasury-service/internal/store/memory"
	"github.com/vestra/treasury-service/pkg/metrics"
)

func main() {
	// Load an optional .env file before viper reads the environment.
	if err := godotenv.Load(); err == nil {
		log.Println("level=info component=bootstrap msg=\".env file loaded\"")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=TREASURY_JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting treasury-service\" port=%s", cfg.ServerPort)

	catalog := domain.DefaultCatalog()
	defaults := store.TreasuryDefaults{
		CommissionRateBps: cfg.CommissionRateBps,
		DailyLimit:        cfg.DailyWithdrawLimit,
	}

	// Establish a connection pool to the PostgreSQL database. When DATABASE_URL is
	// missing the service falls back to the in-memory store so local development
	// works without infrastructure; state does not survive a restart in that mode.
	var repository store.Repository
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"database url missing; using in-memory store\" env=DATABASE_URL")
		repository = memory.NewRepository(catalog, defaults, time.Now())
	} else {
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
		defer dbpool.Close()
		log.Println("level=info component=bootstrap msg=\"database connected\"")

		pgRepo := store.NewPostgresRepository(dbpool, catalog)
		if err := pgRepo.EnsureTreasury(context.Background(), defaults, time.Now()); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"treasury row init failed\" err=%v", err)
		}
		repository = pgRepo
	}

	// Connect Redis for claim rate limiting. Missing or unreachable Redis disables
	// limiting but does not prevent boot.
	var redisClient *redis.Client
	if cfg.ClaimRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; claim rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; claim rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; claim rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	var limiter app.ClaimRateLimiter
	if redisClient != nil {
		limiter = app.NewRedisClaimRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	collector := metrics.NewCollector()

	// Initialize the core application service with its dependencies.
	treasuryService := app.NewService(repository, catalog, limiter, collector, app.Limits{
		PriceValidity:       time.Duration(cfg.PriceValidityMinutes) * time.Minute,
		RewardPeriodGap:     time.Duration(cfg.RewardPeriodDurationDays) * 24 * time.Hour,
		WithdrawWindow:      time.Duration(cfg.WithdrawWindowHours) * time.Hour,
		BatchDepositCap:     cfg.BatchDepositCap,
		ClaimLimitPerMinute: cfg.ClaimRateLimitPerMinute,
	})

	// Start the outbox dispatcher. With no RabbitMQ URL configured it runs with
	// a no-op publisher so outbox rows still drain instead of piling up.
	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	defer stopDispatcher()
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; outbox dispatcher running in fallback mode\" env=RABBITMQ_URL")
	}
	dispatcher := app.NewOutboxDispatcher(repository, cfg.RabbitMQURL, collector)
	go dispatcher.Run(dispatcherCtx)
	log.Println("level=info component=bootstrap msg=\"outbox dispatcher started\"")

	// Schedule periodic ledger reconciliation.
	reconciler := app.NewReconciler(treasuryService, cfg.ReconcileCron)
	reconciler.Start()
	defer reconciler.Stop()

	// Initialize the API handlers.
	treasuryHandlers := api.NewTreasuryHandlers(treasuryService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/treasury", api.TreasuryRoutes(treasuryHandlers, cfg.JWTSecret, collector.Handler()))

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	stopDispatcher()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
