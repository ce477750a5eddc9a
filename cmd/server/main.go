package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"konnekt-chat/auth"
	"konnekt-chat/infrastructure/server"
	"konnekt-chat/internal"
	"konnekt-chat/repositories"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

const (
	exitOK      = 0
	exitConfig  = 2
	exitRuntime = 1
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
	}
	os.Exit(code)
}

// run wires the dev server and blocks until a signal arrives, so every
// deferred cleanup runs before the process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.ServerConfig
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	var signer *auth.Signer
	if config.JWTSecret != "" {
		s, err := auth.NewSigner(config.JWTSecret)
		if err != nil {
			return exitConfig, err
		}
		signer = s
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, log, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Chat server
	messageRepository := repositories.NewMessageRepository(db, log, config.LimitMessages)
	chatServer := server.New(log, messageRepository, server.Config{
		PongWait:   config.PongWait,
		BufferSize: config.BufferSize,
		Signer:     signer,
	})
	defer chatServer.Close()

	router := chi.NewRouter()
	if config.DebugInspect {
		stats := func() map[string]any {
			return map[string]any{
				"Connections": chatServer.Connections(),
				"Time":        time.Now().Format(time.RFC822),
			}
		}
		router.Handle("/debug/inspect", internal.InspectHandler(db, stats))
		log.Info("Debug Badger inspector available", "path", "/debug/inspect")
	}
	router.Mount("/", chatServer.Routes())

	httpServer := &http.Server{
		Addr:              config.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting chat server", "address", config.Addr(), "tls", config.TLSEnabled(), "auth", signer != nil)
		var err error
		if config.TLSEnabled() {
			err = httpServer.ListenAndServeTLS(config.TLSCertFile, config.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 4. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return exitRuntime, err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
	defer cancel()
	// Hijacked sockets are not tracked by Shutdown
	chatServer.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return exitRuntime, fmt.Errorf("shutdown failed: %w", err)
	}
	log.Info("Program stopped cleanly")
	return exitOK, nil
}

func buildBadgerOpts(config internal.ServerConfig, log *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if log.Enabled(ctx, slog.LevelDebug) {
		return options.WithLoggingLevel(badger.DEBUG)
	}
	return options.WithLoggingLevel(badger.WARNING)
}
