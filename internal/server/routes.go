// Package server wires HTTP handlers into a ServeMux for the livechat
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, WebSocket endpoint, stats, and test page.
func SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler)
	mux.HandleFunc("/stats", StatsHandler)
	mux.HandleFunc("/test", TestPageHandler)
	return mux
}
