package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/chuveirolab/shower-bookings/internal/http/handlers"
	"github.com/chuveirolab/shower-bookings/internal/notify"
	"github.com/chuveirolab/shower-bookings/internal/repo/postgres"
	"github.com/chuveirolab/shower-bookings/internal/repo/redisrepo"
	"github.com/chuveirolab/shower-bookings/internal/reservation"
	"github.com/chuveirolab/shower-bookings/internal/ws"
	"github.com/chuveirolab/shower-bookings/pkg/config"
	"github.com/chuveirolab/shower-bookings/pkg/database"
	"github.com/chuveirolab/shower-bookings/pkg/events"
	"github.com/chuveirolab/shower-bookings/pkg/logger"
	mw "github.com/chuveirolab/shower-bookings/pkg/middleware"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Connect to Redis
	redisClient, err := redisrepo.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Connect to event bus
	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Initialize repositories
	userRepo := postgres.NewUserRepository(pool)
	sessionLogRepo := postgres.NewSessionLogRepository(pool)
	sessionRepo := redisrepo.NewSessionRepository(redisClient)
	rateLimitRepo := redisrepo.NewRateLimitRepository(redisClient)

	// Initialize services
	reservationService := reservation.NewService(sessionLogRepo, eventBus, cfg.Shower, nil)

	mailer := newMailer(cfg)
	notifier := notify.NewNotifier(userRepo, mailer)
	if err := notifier.BindEvents(eventBus); err != nil {
		logger.Error("Failed to subscribe notifier", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub()
	if err := hub.BindEvents(eventBus); err != nil {
		logger.Error("Failed to subscribe websocket hub", "error", err)
		os.Exit(1)
	}

	// Initialize handlers
	h := handlers.New(userRepo, sessionRepo, rateLimitRepo, reservationService, mailer, cfg)

	// Setup router
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
		r.With(h.RequireSession).Patch("/me/alerts", h.UpdateAlerts)

		r.Route("/shower", func(r chi.Router) {
			r.Get("/status", h.ShowerStatus)

			r.Group(func(r chi.Router) {
				r.Use(h.RequireSession)
				r.Post("/start", h.StartShower)
				r.Post("/end", h.EndShower)
				r.Get("/history", h.ShowerHistory)
			})
		})
	})

	// Notification channel, joined immediately on connect
	r.Get("/ws", hub.Serve)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(ctx)
	})

	g.Go(func() error {
		return reservationService.RunSweeper(ctx)
	})

	g.Go(func() error {
		logger.Info("Starting shower booking API", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func newMailer(cfg *config.Config) notify.Mailer {
	switch {
	case cfg.Email.DevMode:
		return notify.NewDevMailer()
	case cfg.Email.MailerSendKey != "":
		return notify.NewMailerSend(cfg.Email.MailerSendKey, "Shower Bookings", cfg.Email.SMTPFrom)
	default:
		return notify.NewSMTPMailer(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPFrom, cfg.Email.SMTPUser, cfg.Email.SMTPPass)
	}
}
