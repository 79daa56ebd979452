package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tts-gateway/internal/config"
	"tts-gateway/internal/handlers"
	"tts-gateway/internal/logger"
	"tts-gateway/internal/middleware"
	"tts-gateway/internal/models"
	"tts-gateway/internal/services"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	version = "dev"
	commit  = "unknown"
	resetPw = flag.String("reset-password", "", "Reset admin password to the specified value")
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	flag.Parse()

	printBanner()

	if *resetPw != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if err := config.ResetAdminPassword(cfg, *resetPw); err != nil {
			log.Fatalf("Failed to reset password: %v", err)
		}
		if err := config.SaveConfig(cfg, *configPath); err != nil {
			log.Fatalf("Failed to save config: %v", err)
		}
		fmt.Printf("Admin password has been reset to: %s\n", *resetPw)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Logging.IsDebug()); err != nil {
		log.Printf("Failed to init logger, using silent: %v", err)
		logger.InitSilent()
	}
	defer logger.Sync()

	if err := os.MkdirAll("./data", 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	if err := os.MkdirAll("./logs", 0755); err != nil {
		log.Fatalf("Failed to create logs directory: %v", err)
	}

	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if err := autoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	keyService := services.NewKeyService(db)
	voiceCatalog := services.NewVoiceCatalog(cfg)
	speechService := services.NewSpeechService(keyService, voiceCatalog, cfg)
	history := services.NewHistory()

	dashboardHub := services.NewDashboardHub(keyService, voiceCatalog, history)

	// Warm the voice catalog so the first request doesn't pay for the
	// upstream fetch.
	go func() {
		voices := voiceCatalog.LoadAll()
		handlers.SetCachedVoices(len(voices))
		logger.Sugar.Infow("voice catalog ready", "count", len(voices))
	}()

	router := chi.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.RequestLogger)
	router.Use(middleware.SecurityHeaders)
	router.Use(middleware.MaxRequestSize(1 << 20))

	healthHandler := handlers.NewHealthHandler(db, voiceCatalog)
	healthHandler.RegisterRoutes(router)

	rateLimiter := middleware.NewRateLimiter()
	authMiddleware := middleware.NewAuthMiddleware(keyService)

	speechHandler := handlers.NewSpeechHandler(speechService, keyService, voiceCatalog, dashboardHub)
	router.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimiter.Middleware)
		speechHandler.RegisterRoutes(r)
	})

	sessionAuth := middleware.NewSessionAuth(cfg.Admin.SessionSecret)
	dashboardHandler := handlers.NewDashboardHandler(cfg, keyService, voiceCatalog, speechService, history, dashboardHub, sessionAuth, authMiddleware)
	dashboardHandler.RegisterRoutes(router)

	if cfg.Prometheus.Enabled {
		metricsHandler := handlers.NewMetricsHandler(cfg.Prometheus.Username, cfg.Prometheus.Password)
		metricsHandler.RegisterRoutes(router)
		log.Printf("Prometheus metrics enabled at /metrics (auth: %s)", cfg.Prometheus.Username)
	}

	serverPort := cfg.Server.Port
	if *port > 0 {
		serverPort = *port
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, serverPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.CustomKey{},
		&models.OriginalKey{},
		&models.KeyMapping{},
		&models.DailyUsage{},
	)
}

func printBanner() {
	fmt.Println("TTS Gateway v" + version + " (" + commit + ")")
}
