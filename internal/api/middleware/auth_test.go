package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-api-key"

func runAuth(t *testing.T, apiKey, path, authHeader string) (error, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)

	handler := APIKeyAuth(apiKey, nil)(func(c echo.Context) error {
		return c.String(http.StatusOK, "success")
	})
	return handler(c), rec
}

func assertUnauthorized(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestAPIKeyAuth_MissingHeader(t *testing.T) {
	err, _ := runAuth(t, testAPIKey, "/api/accounts", "")
	assertUnauthorized(t, err)
}

func TestAPIKeyAuth_InvalidKey(t *testing.T) {
	err, _ := runAuth(t, testAPIKey, "/api/accounts", "Bearer wrong-key")
	assertUnauthorized(t, err)
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	err, rec := runAuth(t, testAPIKey, "/api/accounts", "Bearer "+testAPIKey)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuth_HealthEndpointsSkipAuth(t *testing.T) {
	for _, path := range []string{"/health", "/ready"} {
		err, rec := runAuth(t, testAPIKey, path, "")

		assert.NoError(t, err, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAPIKeyAuth_NoAPIKeyConfigured(t *testing.T) {
	err, rec := runAuth(t, "", "/api/accounts", "")

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireUser(t *testing.T) {
	tests := []struct {
		name   string
		header string
		wantOK bool
	}{
		{"present", "user-1", true},
		{"padded", "  user-1  ", true},
		{"missing", "", false},
		{"header injection", "user-1\r\nX-Admin: 1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
			if tt.header != "" {
				req.Header.Set(UserIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var seen string
			err := RequireUser()(func(c echo.Context) error {
				seen = UserID(c)
				return c.NoContent(http.StatusNoContent)
			})(c)

			if !tt.wantOK {
				assertUnauthorized(t, err)
				assert.Empty(t, seen)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "user-1", seen)
		})
	}
}

func TestUserID_EmptyWithoutMiddleware(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	assert.Empty(t, UserID(c))
}
