package websocket

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSecureUpgrader_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"same origin", []string{"https://mail.example.com"}, "", true},
		{"listed origin", []string{"https://mail.example.com"}, "https://mail.example.com", true},
		{"unlisted origin", []string{"https://mail.example.com"}, "https://evil.example", false},
		{"wildcard is ignored", []string{"*"}, "https://evil.example", false},
		{"default localhost", nil, "http://localhost:3000", true},
		{"default rejects others", nil, "http://localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upgrader := NewSecureUpgrader(tt.allowed, nil)
			req := httptest.NewRequest("GET", "/api/events", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			assert.Equal(t, tt.want, upgrader.CheckOrigin(req))
		})
	}
}
