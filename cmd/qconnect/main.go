package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qconnect/qconnect/internal/api"
	"github.com/qconnect/qconnect/internal/backend"
	"github.com/qconnect/qconnect/internal/config"
	"github.com/qconnect/qconnect/internal/core"
	"github.com/qconnect/qconnect/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(logLevel(config.AppConfig.LogLevel))

	// Command line flag for one-shot feedback sync
	syncFeedbackFlag := flag.Bool("sync-feedback", false, "Flush the pending feedback queue to the backend and exit")
	flag.Parse()

	// Initialize local store
	localStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize local store")
	}
	defer localStore.Close()

	// Initialize backend client
	backendClient := backend.NewClient(config.AppConfig.APIBaseURL, config.AppConfig.APIPrefix)

	// Initialize feedback ledger
	ledger := core.NewFeedbackLedger(localStore, backendClient)

	// Handle one-shot feedback sync if flag is set
	if *syncFeedbackFlag {
		log.Info().Int("pending", ledger.PendingCount()).Msg("Flushing pending feedback queue...")
		for ledger.PendingCount() > 0 {
			ok, message := ledger.SyncPending(context.Background())
			log.Info().Bool("success", ok).Msg(message)
			if !ok {
				log.Error().Msg("Feedback sync stopped; remaining entries stay queued")
				os.Exit(1)
			}
		}
		log.Info().Msg("Feedback queue empty. Exiting.")
		os.Exit(0)
	}

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(localStore, backendClient, ledger)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // Generation calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Info().Str("addr", serverAddr).Msg("Starting server. Press Ctrl+C to quit.")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Str("addr", serverAddr).Msg("Could not listen")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	// Give active connections time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting gracefully")
}

func logLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
