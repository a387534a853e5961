package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/catalogue-reservation/internal/config"
	"github.com/iliyamo/catalogue-reservation/internal/utils"
)

const secret = "test-secret"

func whoami(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"requester": Requester(c)})
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, sub, role, time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func serve(e *echo.Echo, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	g := e.Group("/v1", JWTAuth(secret), RequireRole(RoleEditor, RoleAdmin))
	g.GET("/me", whoami)

	rec := serve(e, http.MethodGet, "/v1/me", token(t, "alice", RoleEditor))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"requester":"alice"}`, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/v1/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/v1/me", "garbage").Code)

	other, err := utils.NewAccessToken("other-secret", "alice", RoleEditor, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/v1/me", other.Token).Code)

	expired, err := utils.NewAccessToken(secret, "alice", RoleEditor, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/v1/me", expired.Token).Code)

	assert.Equal(t, http.StatusForbidden, serve(e, http.MethodGet, "/v1/me", token(t, "alice", "VIEWER")).Code)
}

func TestJWTAuthNumericSubject(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth(secret))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": 42, "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	rec := serve(e, http.MethodGet, "/me", signed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"requester":"42"}`, rec.Body.String())
}

func TestFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.RateLimitConfig{Enabled: true, Limit: 2, Window: time.Hour, Prefix: "rl"}
	e := echo.New()
	e.POST("/reserve", whoami, JWTAuth(secret), NewFixedWindow(cfg, rdb, zap.NewNop().Sugar()))

	alice := token(t, "alice", RoleEditor)
	for i := 0; i < 2; i++ {
		rec := serve(e, http.MethodPost, "/reserve", alice)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := serve(e, http.MethodPost, "/reserve", alice)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// Counters are per requester.
	assert.Equal(t, http.StatusOK, serve(e, http.MethodPost, "/reserve", token(t, "bob", RoleEditor)).Code)

	// Redis outages do not block requests.
	mr.Close()
	assert.Equal(t, http.StatusOK, serve(e, http.MethodPost, "/reserve", alice).Code)
}

func TestFixedWindowDisabled(t *testing.T) {
	e := echo.New()
	e.GET("/x", whoami, NewFixedWindow(config.RateLimitConfig{Enabled: false}, nil, zap.NewNop().Sugar()))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/x", "").Code)
	}
}
