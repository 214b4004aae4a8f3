// Package server constructs and starts the livechat HTTP service with
// helpers that apply sensible production defaults.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer creates an HTTP server for the given listen address and
// handler with production timeout values.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartHub starts the global hub loop. It must be called before the HTTP
// server begins accepting WebSocket upgrades.
func StartHub() {
	go hub.Run()
	slog.Info("hub started and ready to manage connections")
}

// StartServer starts the HTTP server and blocks until it exits.
func StartServer(server *http.Server) error {
	slog.Info("server listening", "addr", server.Addr)
	return server.ListenAndServe()
}

// ShutdownServer gracefully shuts down the HTTP server, waiting for active
// connections up to the timeout.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	slog.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		return err
	}

	slog.Info("http server shutdown completed")
	return nil
}

// GetHub returns the global hub instance for shutdown coordination and tests.
func GetHub() *Hub {
	return hub
}

// ResetHub replaces the global hub with a fresh instance. Intended for tests
// that need an isolated hub per run.
func ResetHub() *Hub {
	hub = NewHub()
	return hub
}
