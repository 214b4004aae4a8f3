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

	"github.com/joho/godotenv"

	"livechat/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run owns the full server lifecycle so deferred cleanup executes before the
// process exits and main stays trivially testable.
func run() error {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	setupLogger(cfg.LogLevel)
	server.SetConfig(cfg)

	server.StartHub()

	mux := server.SetupRoutes()
	httpServer := server.CreateServer(cfg.Port, mux)

	errCh := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received")
	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := server.GetHub().Shutdown(cfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("hub shutdown: %w", err)
	}
	return <-errCh
}

func setupLogger(level string) {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}
