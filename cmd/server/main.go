package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/studytrack/backend/internal/auth"
	"github.com/studytrack/backend/internal/config"
	"github.com/studytrack/backend/internal/database"
	"github.com/studytrack/backend/internal/gamification"
	"github.com/studytrack/backend/internal/jobs"
	"github.com/studytrack/backend/internal/middleware"
	"github.com/studytrack/backend/internal/notifications"
	"github.com/studytrack/backend/internal/study"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}

	// Initialize services
	tokens := middleware.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	notifier := notifications.NewService(notifications.NewStore(db))
	gamificationStore := gamification.NewStore(db)
	engine := gamification.NewEngine(gamificationStore, notifier, gamification.Options{
		Location:       cfg.Location(),
		RefundOnReject: cfg.ExchangeRefundOnReject,
	})
	studyStore := study.NewStore(db)

	// Initialize handlers
	authHandler := auth.NewHandler(db, tokens)
	gamificationHandler := gamification.NewHandler(engine)
	adminHandler := gamification.NewAdminHandler(engine, gamificationStore)
	studyHandler := study.NewHandler(study.NewService(studyStore, engine, nil))
	notificationHandler := notifications.NewHandler(notifier)

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.Recoverer, middleware.RequestLogger)
	api := r.PathPrefix("/api/v1").Subrouter()

	health := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
	r.HandleFunc("/health", health).Methods("GET")
	api.HandleFunc("/health", health).Methods("GET")

	// Public routes
	api.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(tokens.Auth)
	protected.HandleFunc("/auth/me", authHandler.GetCurrentUser).Methods("GET")

	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin(authHandler.IsAdmin))
	adminHandler.RegisterRoutes(admin)

	gamificationHandler.RegisterRoutes(protected)
	studyHandler.RegisterRoutes(protected)
	notificationHandler.RegisterRoutes(protected)

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})

	// Background jobs
	if cfg.SchedulerEnabled {
		scheduler := jobs.NewScheduler(studyStore, notifier, engine, jobs.Schedule{
			Reminder:         cfg.ReminderCron,
			AchievementSweep: cfg.AchievementSweepCron,
		}, cfg.Location())
		if err := scheduler.Start(ctx); err != nil {
			log.WithError(err).Fatal("failed to start scheduler")
		}
		defer scheduler.Stop()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}

func setupLogging(cfg *config.Config) {
	if cfg.IsProduction() {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.AppLogLevel)
	if err != nil {
		log.WithError(err).Warn("unknown APP_LOG_LEVEL, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
