package websocket

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// NewSecureUpgrader creates a WebSocket upgrader that accepts same-origin
// requests and the given origins. An empty list allows only
// http://localhost:3000.
func NewSecureUpgrader(allowedOrigins []string, logger *slog.Logger) websocket.Upgrader {
	filtered := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin != "" && origin != "*" {
			filtered = append(filtered, origin)
		}
	}
	if len(filtered) == 0 {
		filtered = []string{"http://localhost:3000"}
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")

			// Allow same-origin requests (empty Origin)
			if origin == "" {
				return true
			}

			for _, allowed := range filtered {
				if allowed == origin {
					return true
				}
			}

			if logger != nil {
				logger.Warn("rejected websocket connection",
					slog.String("origin", origin),
					slog.String("remote_ip", r.RemoteAddr))
			}
			return false
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}
