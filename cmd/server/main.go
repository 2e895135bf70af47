package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"anitrack/internal/handler"
	"anitrack/internal/llm"
	"anitrack/internal/notify"
	"anitrack/internal/repository"
	"anitrack/internal/service"
)

// Config holds the application configuration
type Config struct {
	ListenAddr       string
	DBPath           string
	BackupDir        string
	RedisAddr        string
	LLMBaseURL       string
	LLMAPIKey        string
	LLMModel         string
	TelegramBotToken string
	ReminderInterval time.Duration
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	config := loadConfig(logger)

	// Initialize database
	db, err := repository.NewSQLiteDB(config.DBPath)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		logger.Fatal("failed to initialize database schema", zap.Error(err))
	}

	// Initialize repositories
	animeRepo := repository.NewAnimeRepository(db)
	userRepo := repository.NewUserRepository(db)
	watchRepo := repository.NewWatchRepository(db)
	reminderRepo := repository.NewReminderRepository(db)

	// Optional Redis cache for the popular-titles list
	var cache *redis.Client
	if config.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: config.RedisAddr})
		if err := cache.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, caching disabled", zap.Error(err))
			cache = nil
		}
	}

	// Optional external recommendation capability
	var ai service.AIRecommender
	if config.LLMBaseURL != "" {
		ai = llm.NewClient(config.LLMBaseURL, config.LLMAPIKey, config.LLMModel)
	} else {
		logger.Warn("LLM_BASE_URL not set, recommendations use the deterministic scorer only")
	}

	// Notification delivery: Telegram when configured, log otherwise
	var notifier service.Notifier
	if config.TelegramBotToken != "" {
		tg, err := notify.NewTelegramNotifier(config.TelegramBotToken)
		if err != nil {
			logger.Fatal("failed to create telegram notifier", zap.Error(err))
		}
		notifier = tg
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, notifications are logged only")
		notifier = notify.NewLogNotifier(logger)
	}

	// Initialize services
	authSvc := service.NewAuthService(userRepo)
	watchlistSvc := service.NewWatchlistService(watchRepo, animeRepo)
	recSvc := service.NewRecommendationService(animeRepo, watchRepo, ai, cache, logger)
	reminderSvc := service.NewReminderService(reminderRepo, animeRepo)
	backupSvc := service.NewBackupService(config.DBPath, config.BackupDir, logger)

	// Initialize scheduler
	scheduler := service.NewScheduler(reminderRepo, userRepo, animeRepo, notifier, backupSvc, config.ReminderInterval, logger)
	scheduler.Start()

	// HTTP server
	router := gin.Default()
	h := handler.NewHTTPHandler(authSvc, watchlistSvc, recSvc, reminderSvc, animeRepo, backupSvc, logger)
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    config.ListenAddr,
		Handler: router,
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutting down")
		scheduler.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("anitrack server started", zap.String("addr", config.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// loadConfig loads configuration from the environment, reading .env first
// when present.
func loadConfig(logger *zap.Logger) *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to load .env", zap.Error(err))
	}

	intervalMinutes, err := strconv.Atoi(getEnv("REMINDER_INTERVAL_MINUTES", "5"))
	if err != nil || intervalMinutes < 1 {
		intervalMinutes = 5
	}

	return &Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		DBPath:           getEnv("DB_PATH", "anitrack.db"),
		BackupDir:        getEnv("BACKUP_DIR", "backups"),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		LLMBaseURL:       getEnv("LLM_BASE_URL", ""),
		LLMAPIKey:        getEnv("LLM_API_KEY", ""),
		LLMModel:         getEnv("LLM_MODEL", "recommendation-v1"),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		ReminderInterval: time.Duration(intervalMinutes) * time.Minute,
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
