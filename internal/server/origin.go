// Package server normalizes and validates HTTP origins for WebSocket
// upgrades against the configured allow-list.
package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// normalizeOrigins canonicalizes the configured allow-list and reports
// whether a "*" wildcard was present.
func normalizeOrigins(origins []string) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
		case trimmed == "*":
			allowAll = true
		default:
			canonical, ok := normalizeOrigin(trimmed)
			if !ok {
				slog.Warn("ignoring invalid origin in configuration", "origin", origin)
				continue
			}
			normalized = append(normalized, canonical)
		}
	}

	return normalized, allowAll
}

// normalizeOrigin reduces an origin to lowercase scheme://host form.
func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func isOriginAllowed(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return false
	}

	canonical, ok := normalizeOrigin(header)
	if !ok {
		return false
	}

	configMu.RLock()
	defer configMu.RUnlock()

	if allowAllOrigins {
		return true
	}
	_, exists := allowedOrigins[canonical]
	return exists
}

func checkOrigin(r *http.Request) bool {
	if isOriginAllowed(r) {
		return true
	}
	slog.Warn("blocked websocket connection from disallowed origin", "origin", r.Header.Get("Origin"))
	return false
}
