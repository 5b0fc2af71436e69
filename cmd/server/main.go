package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"loyalty-ledger/internal/config"
	"loyalty-ledger/internal/database"
	"loyalty-ledger/internal/handlers"
	"loyalty-ledger/internal/kafka"
	"loyalty-ledger/internal/logger"
	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/redis"
	"loyalty-ledger/internal/services"
)

// Фабричные функции для подключения внешних сервисов (подменяемые в тестах).
var (
	dbConnect        = database.Connect
	redisConnect     = redis.Connect
	newKafkaProducer = kafka.NewProducer
	newKafkaConsumer = kafka.NewConsumer
	kafkaHealthCheck = handlers.CheckKafkaHealth
	loadConfig       = config.Load
	newLogger        = logger.New
)

// application агрегирует собранные зависимости.
type application struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	redis    *redis.Client
	producer *kafka.Producer
	consumer *kafka.Consumer
	sweeper  *services.ExpirationSweeper
	mux      *http.ServeMux
	server   *http.Server
}

func main() {
	app, err := buildApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build app: %v\n", err)
		os.Exit(1)
	}
	app.log.Info("Starting loyalty ledger server...")

	go func() {
		app.log.WithField("address", app.server.Addr).Info("HTTP server starting")
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	app.log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	app.sweeper.Stop()
	_ = app.consumer.Stop()
	if err := app.server.Shutdown(ctx); err != nil {
		app.log.WithError(err).Error("Server forced to shutdown")
	}
	_ = app.producer.Close()
	_ = app.redis.Close()
	_ = app.db.Close()
	app.log.Info("Server exited")
}

// buildApplication создает все зависимости (подменяемые в тестах).
func buildApplication() (*application, error) {
	cfg := loadConfig()
	log := newLogger(&cfg.Logger)

	db, err := dbConnect(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	redisClient, err := redisConnect(&cfg.Redis, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	producer, err := newKafkaProducer(&cfg.Kafka, log)
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	consumer, err := newKafkaConsumer(&cfg.Kafka, log)
	if err != nil {
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	walletStore := services.NewWalletStore(db)
	tokenStore := services.NewTokenStore(db)
	snapshotCache := services.NewSnapshotCache(redisClient, log, &cfg.Cache)

	walletService := services.NewWalletService(db, log, walletStore, tokenStore, producer, snapshotCache, &cfg.Ledger)
	tokenService := services.NewTokenService(db, log, walletStore, tokenStore, producer, producer, snapshotCache, &cfg.Ledger)
	settlementService := services.NewSettlementService(db, log, walletStore, tokenStore, producer, snapshotCache, &cfg.Ledger)
	sweeper := services.NewExpirationSweeper(db, log, walletStore, tokenStore, producer, snapshotCache, &cfg.Ledger, &cfg.Sweep)
	rateLimiter := services.NewRateLimiter(redisClient, log, &cfg.RateLimit)

	walletHandler := handlers.NewWalletHandler(walletService, log)
	tokenHandler := handlers.NewTokenHandler(tokenService, settlementService, log)
	healthHandler := handlers.NewHealthHandler(db, redisClient, cfg.Kafka.Brokers, kafkaHealthCheck)
	rateLimitHandler := handlers.NewRateLimitHandler(rateLimiter, log, &cfg.RateLimit)

	registerEventHandlers(consumer, log)
	if err := consumer.Start(); err != nil {
		_ = consumer.Stop()
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka consumer start: %w", err)
	}

	if cfg.Sweep.Enabled {
		sweeper.Start()
	}

	mux := setupRoutes(walletHandler, tokenHandler, healthHandler, rateLimitHandler, rateLimiter, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &application{
		cfg:      cfg,
		log:      log,
		db:       db,
		redis:    redisClient,
		producer: producer,
		consumer: consumer,
		sweeper:  sweeper,
		mux:      mux,
		server:   server,
	}, nil
}

// setupRoutes настраивает маршруты HTTP сервера
func setupRoutes(walletHandler *handlers.WalletHandler, tokenHandler *handlers.TokenHandler, healthHandler *handlers.HealthHandler, rateLimitHandler *handlers.RateLimitHandler, rateLimiter *services.RateLimiter, log *logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	applyAPI := func(h http.HandlerFunc) http.HandlerFunc {
		return corsMiddleware(handlers.RateLimitMiddleware(rateLimiter, log, h))
	}

	// Health check endpoints
	mux.HandleFunc("/health", corsMiddleware(healthHandler.Health))
	mux.HandleFunc("/health/readiness", corsMiddleware(healthHandler.Readiness))
	mux.HandleFunc("/health/liveness", corsMiddleware(healthHandler.Liveness))

	// Wallet endpoints
	mux.HandleFunc("/api/wallets", applyAPI(walletHandler.CreateWallet))
	mux.HandleFunc("/api/wallets/", applyAPI(walletHandler.ResolveWallet))

	// Token endpoints
	mux.HandleFunc("/api/tokens", applyAPI(handleTokensRoute(tokenHandler)))
	mux.HandleFunc("/api/tokens/", applyAPI(handleTokenRoute(tokenHandler)))

	// Rate limit status
	mux.HandleFunc("/api/rate-limit/status", applyAPI(rateLimitHandler.Status))

	return mux
}

// handleTokensRoute обрабатывает маршруты для коллекции токенов
func handleTokensRoute(handler *handlers.TokenHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handler.ListTokens(w, r)
		case http.MethodPost:
			handler.IssueToken(w, r)
		default:
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// handleTokenRoute обрабатывает маршруты для отдельного токена
func handleTokenRoute(handler *handlers.TokenHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/settle") {
			// Фиксация исхода переговоров по токену
			if r.Method == http.MethodPost {
				handler.SettleToken(w, r)
			} else {
				writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		} else if strings.HasSuffix(r.URL.Path, "/cancel") {
			// Административная отмена токена
			if r.Method == http.MethodPost {
				handler.CancelToken(w, r)
			} else {
				writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		} else {
			// Получение токена по ID
			if r.Method == http.MethodGet {
				handler.GetToken(w, r)
			} else {
				writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		}
	}
}

// registerEventHandlers регистрирует обработчики событий Kafka
func registerEventHandlers(consumer *kafka.Consumer, log *logger.Logger) {
	// Воркер доставки уведомлений: принимает notification.requested и
	// отправляет сообщение владельцу аккаунта (здесь - логирование).
	consumer.RegisterHandler(models.EventTypeNotificationRequested, func(ctx context.Context, event *models.Event) error {
		log.WithField("event_id", event.ID).WithField("account_id", event.Data["account_id"]).Info("Delivering notification")
		return nil
	})

	consumer.RegisterHandler(models.EventTypeTokenExpired, func(ctx context.Context, event *models.Event) error {
		log.WithField("event_id", event.ID).Info("Processing token expired event")
		return nil
	})
}

// corsMiddleware и другие helper функции
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	type errorResponse struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}
