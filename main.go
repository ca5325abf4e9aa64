package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"kinguin-bot/internal/api"
	"kinguin-bot/internal/bot"
	"kinguin-bot/internal/config"
	"kinguin-bot/internal/database"
	"kinguin-bot/internal/logger"
	"kinguin-bot/internal/metrics"
	"kinguin-bot/internal/services/history"
	"kinguin-bot/internal/services/kinguin"
	"kinguin-bot/internal/services/purchase"
	"kinguin-bot/internal/services/tracker"
	"kinguin-bot/internal/websocket"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(log.Level)
	entry := logrus.NewEntry(log)

	db, err := database.Initialize(cfg.Database.Path)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.WithError(err).Warn("Failed to close database")
		}
	}()

	cred, err := cfg.Kinguin.Credential()
	if err != nil {
		log.WithError(err).Fatal("Invalid Kinguin credential")
	}

	m := metrics.New()
	client, err := kinguin.NewClient(cred,
		kinguin.WithTimeout(cfg.Kinguin.Timeout),
		kinguin.WithLogger(entry),
		kinguin.WithObserver(m),
	)
	if err != nil {
		log.WithError(err).Fatal("Failed to create Kinguin client")
	}
	log.WithFields(logrus.Fields{
		"environment": cred.Environment,
		"base_url":    client.BaseURL(),
		"signing":     client.Signing(),
	}).Info("Kinguin client ready")

	// Initialize services
	historyService := history.NewHistoryService(db)
	purchaseService := purchase.NewPurchaseService(client, historyService, purchase.Options{
		PollAttempts: cfg.Poll.Attempts,
		PollInterval: cfg.Poll.Interval,
		Recorder:     m,
		Logger:       entry,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsHub := websocket.NewHub(entry)
	go wsHub.Run(ctx)

	handler := bot.NewHandler(client, purchaseService, historyService, cfg.IsUserAllowed, entry)
	telegram, err := bot.NewBot(cfg.Telegram.Token, handler, entry)
	if err != nil {
		log.WithError(err).Fatal("Failed to start Telegram bot")
	}

	trackerService := tracker.NewTrackerService(client, historyService, telegram, wsHub, purchaseService, cfg.Poll.Schedule, entry)
	if err := trackerService.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start order tracker")
	}

	var srv *http.Server
	if cfg.Server.Enabled {
		gin.SetMode(gin.ReleaseMode)
		router := api.NewRouter(api.Deps{
			Kinguin:   client,
			History:   historyService,
			Metrics:   m.Handler(),
			Hub:       wsHub,
			JWTSecret: cfg.Server.JWTSecret,
			Logger:    entry,
		})
		srv = &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Fatal("Server failed to start")
			}
		}()
		log.WithField("port", cfg.Server.Port).Info("Admin server started")
	}

	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		telegram.Run(ctx)
	}()
	log.WithField("username", telegram.Username()).Info("Bot started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Server forced to shutdown")
		}
	}

	select {
	case <-trackerService.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("Order tracker did not stop in time")
	}
	select {
	case <-botDone:
	case <-shutdownCtx.Done():
		log.Warn("Bot handlers did not finish in time")
	}

	log.Info("Bot stopped")
}
