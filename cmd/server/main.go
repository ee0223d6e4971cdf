/**
 * @description
 * This is the main entry point for the application-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection and migrations, external API clients, message brokers, repositories,
 * the core application service, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/stripeclient: Client for the payment processor API.
 * - pkg/s3storage: Object storage for uploaded documents.
 * - pkg/rabbitmq: Client for RabbitMQ.
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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/admitly/application-service/internal/api"
	"github.com/admitly/application-service/internal/app"
	"github.com/admitly/application-service/internal/config"
	"github.com/admitly/application-service/internal/store"
	rmrabbit "github.com/admitly/application-service/pkg/rabbitmq"
	"github.com/admitly/application-service/pkg/s3storage"
	"github.com/admitly/application-service/pkg/stripeclient"
)

func main() {
	// Load the optional .env file before viper reads the environment.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.StripeWebhookSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"webhook secret must be configured\" env=STRIPE_WEBHOOK_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting application-service\" port=%s", cfg.ServerPort)

	// Apply pending schema migrations before opening the pool.
	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := store.RunMigrations(migrateCtx, cfg.DatabaseURL); err != nil {
		cancelMigrate()
		log.Fatalf("level=fatal component=bootstrap msg=\"migrations failed\" err=%v", err)
	}
	cancelMigrate()
	log.Println("level=info component=bootstrap msg=\"migrations applied\"")

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

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

	// Initialize the RabbitMQ producer to publish notification events.
	// This service only needs to publish, so we use a producer.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the payment processor client.
	stripeClient := stripeclient.NewClient(cfg.StripeAPIBaseURL, cfg.StripeAPIKey)

	// Initialize object storage for uploaded documents.
	storageCtx, cancelStorage := context.WithTimeout(context.Background(), 30*time.Second)
	blobStorage, err := s3storage.New(storageCtx, s3storage.Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		BaseEndpoint:    cfg.S3Endpoint,
		UsePathStyle:    cfg.S3UsePathStyle,
	})
	cancelStorage()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"object storage init failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"object storage ready\"")

	// Connect Redis for distributed rate limiting. A missing or unhealthy
	// Redis degrades to no rate limiting rather than blocking boot.
	var redisClient *redis.Client
	if cfg.IntentRateLimitPerMinute > 0 {
		if cfg.RedisURL == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; intent rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; intent rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				pingErr := redisClient.Ping(pingCtx).Err()
				cancelPing()
				if pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; intent rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	applicationService := app.NewService(
		repository,
		stripeClient,
		blobStorage,
		producer,
		cfg.ApplicationFeeCents,
		cfg.FeeCurrency,
	)
	if redisClient != nil {
		applicationService.SetIntentRateLimiter(
			app.NewRedisIntentRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.IntentRateLimitPerMinute,
		)
	}

	// Start the payment reconciliation scheduler.
	scheduler := app.NewScheduler(applicationService, cfg.ReconcileSchedule, cfg.ReconcileBatchSize)
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	// Initialize the API handlers and router.
	handlers := api.NewApplicationHandlers(applicationService, time.Duration(cfg.SignedURLTTLMinutes)*time.Minute)
	webhookHandler := api.NewWebhookHandler(applicationService, cfg.StripeWebhookSecret)
	router := api.ApplicationRoutes(handlers, webhookHandler, api.RouterOptions{
		JWKSURL:        cfg.AuthJWKSURL,
		Audience:       cfg.AuthAudience,
		Issuer:         cfg.AuthIssuer,
		AllowedOrigins: cfg.AllowedOrigins(),
		RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	})

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

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceSeconds)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
