package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/memorylane/companion/internal/api"
	"github.com/memorylane/companion/internal/config"
	"github.com/memorylane/companion/internal/core"
	"github.com/memorylane/companion/internal/logging"
	"github.com/memorylane/companion/internal/store"
)

func main() {
	// Command line flag for the demo account
	seedFlag := flag.Bool("seed", false, "Create the default user (user_id=1) if missing")
	seedOnly := flag.Bool("seed-only", false, "Create the default user and exit")
	flag.Parse()

	// Load configuration
	config.LoadConfig()
	logging.Setup(config.AppConfig.LogLevel)

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	profileService := core.NewProfileService(dbStore)
	if *seedFlag || *seedOnly {
		if err := profileService.SeedDefaultUser(context.Background()); err != nil {
			log.Fatalf("Failed to seed default user: %v", err)
		}
		if *seedOnly {
			os.Exit(0)
		}
	}

	// Initialize model provider
	provider, err := core.NewProvider(context.Background(), config.AppConfig)
	if err != nil {
		log.Fatalf("Failed to initialize %s provider: %v", config.AppConfig.LLMProvider, err)
	}
	defer provider.Close()

	scorer := core.NewScorer(provider)
	sessionService := core.NewSessionService(dbStore, core.NewQuizSelector(dbStore, nil), scorer, provider, core.SessionOptions{
		Timeout:     config.AppConfig.SessionTimeout,
		MaxAttempts: config.AppConfig.QuizMaxAttempts,
		Memories:    core.NewMemoryRetriever(dbStore, provider, core.MemorySimilarityThreshold),
	})

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(api.Services{
		Sessions:  sessionService,
		QuizPool:  core.NewQuizPoolService(dbStore, scorer, nil),
		Profiles:  profileService,
		Extractor: core.NewExtractService(provider),
		Health:    dbStore,
	})
	router := api.NewRouter(apiHandler, config.AppConfig.CORSAllowedOrigins)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // model calls can take time
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infof("Starting server on %s with %s provider", serverAddr, config.AppConfig.LLMProvider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
		return
	}

	log.Info("Server exiting gracefully")
}
