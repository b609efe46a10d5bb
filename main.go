package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"humanproof_gateway/internal/ai"
	"humanproof_gateway/internal/chain"
	"humanproof_gateway/internal/config"
	"humanproof_gateway/internal/logger"
	"humanproof_gateway/internal/messaging"
	"humanproof_gateway/internal/reclaim"
	"humanproof_gateway/internal/repository"
	"humanproof_gateway/internal/scoring"
	"humanproof_gateway/internal/server"
	"humanproof_gateway/internal/service"
	"humanproof_gateway/internal/session"
	"humanproof_gateway/internal/walrus"
)

func runMigrations(db *pgxpool.Pool, log *zap.Logger) error {
	log.Info("Running database migrations")

	migrationsDir := "migrations"
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrationFiles []string
	for _, file := range files {
		if strings.HasSuffix(file.Name(), ".sql") {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		log.Info("Running migration", zap.String("file", filename))

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		_, err = db.Exec(context.Background(), string(content))
		if err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}

		log.Info("Migration completed", zap.String("file", filename))
	}

	log.Info("All migrations completed successfully")
	return nil
}

func newSessionStore(cfg *config.Config, log *zap.Logger) session.Store {
	if cfg.Redis.Addr == "" {
		log.Info("Using in-memory session store")
		return session.NewMemoryStore(cfg.Session.TTL, log)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	log.Info("Using Redis session store", zap.String("addr", cfg.Redis.Addr))
	return session.NewRedisStore(client, cfg.Session.TTL, log)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting humanproof gateway")

	db, err := pgxpool.New(context.Background(), cfg.DatabaseDSN())
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	log.Info("Connected to database")

	if err := runMigrations(db, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	natsClient, err := messaging.NewNATSClient(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer natsClient.Close()

	log.Info("Connected to NATS")

	sessionStore := newSessionStore(cfg, log)
	defer sessionStore.Close()

	userRepo := repository.NewUserRepository(db, log)
	verificationRepo := repository.NewVerificationRepository(db, log)
	bindingRepo := repository.NewBindingRepository(db, log)
	analysisRepo := repository.NewAnalysisRepository(db, log)
	walrusRepo := repository.NewWalrusRepository(db, log)

	provider := reclaim.NewHTTPProvider(cfg.Reclaim.APIURL, cfg.Reclaim.AppSecret, log)
	gateway := reclaim.NewGateway(provider, reclaim.NewWitnessVerifier(), sessionStore,
		cfg.Reclaim.AppID, cfg.Reclaim.ProviderID, cfg.Reclaim.BaseURL, log)
	gateway.SetEventPublisher(natsClient)

	chainClient := chain.NewClient(cfg.Chain.APIURL, cfg.Chain.APIKey, cfg.Chain.TxLimit, log)
	narrator := ai.NewClient(cfg.AI.APIURL, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.Timeout, log)
	engine := scoring.NewEngine(chainClient, narrator, log)
	walrusClient := walrus.NewClient(cfg.Walrus.PublisherURL, cfg.Walrus.AggregatorURL, cfg.Walrus.Epochs, log)

	orchestrator := service.NewOrchestrator(userRepo, verificationRepo, bindingRepo,
		analysisRepo, walrusRepo, engine, walrusClient, natsClient, log)

	// Подписываемся на события подтверждённых аттестаций
	err = natsClient.SubscribeToAttestationVerified(context.Background(), func(event *messaging.AttestationVerifiedMessage) {
		log.Info("Received attestation verified notification",
			zap.String("session_id", event.SessionID),
			zap.String("user_id", event.UserID))
	})
	if err != nil {
		log.Error("Failed to subscribe to attestation events", zap.Error(err))
	}

	handlers := server.NewAPIHandlers(log, gateway, orchestrator,
		verificationRepo, bindingRepo, analysisRepo, walrusRepo, walrusClient)
	router := server.NewRouter(log, handlers)
	srv := server.New(log, cfg.ServerAddr(), router)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}
