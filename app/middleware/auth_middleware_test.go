package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amirphl/AdGuard-AI/app/services"
	"github.com/amirphl/AdGuard-AI/config"
	"github.com/amirphl/AdGuard-AI/models"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenService(t *testing.T, ttl time.Duration) services.TokenService {
	t.Helper()
	ts, err := services.NewTokenService(config.JWTConfig{
		SecretKey:      "middleware-test-secret-key-32-characters",
		Issuer:         "adguard-test",
		Audience:       "adguard-test-clients",
		AccessTokenTTL: ttl,
	})
	require.NoError(t, err)
	return ts
}

func protectedApp(ts services.TokenService) *fiber.App {
	auth := NewAuthMiddleware(ts)
	app := fiber.New()
	app.Get("/me", auth.Authenticate(), func(c fiber.Ctx) error {
		userID, _ := GetUserIDFromContext(c)
		claims, _ := GetTokenClaimsFromContext(c)
		return c.JSON(fiber.Map{"user_id": userID, "role": claims.Role})
	})
	app.Get("/admin", auth.Authenticate(), auth.RequireAdmin(), func(c fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func call(t *testing.T, app *fiber.App, path, authHeader string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	body := map[string]any{}
	_ = json.Unmarshal(raw, &body)
	return resp.StatusCode, body
}

func codeOf(body map[string]any) string {
	detail, _ := body["error"].(map[string]any)
	code, _ := detail["code"].(string)
	return code
}

func TestAuthenticate(t *testing.T) {
	ts := newTokenService(t, time.Minute)
	app := protectedApp(ts)

	t.Run("ValidToken", func(t *testing.T) {
		token, err := ts.GenerateToken(17, models.UserRoleUser)
		require.NoError(t, err)
		status, body := call(t, app, "/me", "Bearer "+token)
		assert.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, float64(17), body["user_id"])
		assert.Equal(t, models.UserRoleUser, body["role"])
	})

	cases := []struct {
		name   string
		header string
		code   string
	}{
		{"MissingHeader", "", "MISSING_AUTHORIZATION_HEADER"},
		{"WrongScheme", "Basic dXNlcjpwYXNz", "INVALID_AUTHORIZATION_FORMAT"},
		{"EmptyToken", "Bearer   ", "MISSING_ACCESS_TOKEN"},
		{"Garbage", "Bearer not-a-jwt", "TOKEN_INVALID"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := call(t, app, "/me", tc.header)
			assert.Equal(t, fiber.StatusUnauthorized, status)
			assert.Equal(t, tc.code, codeOf(body))
			assert.Equal(t, false, body["success"])
		})
	}

	t.Run("Expired", func(t *testing.T) {
		short := newTokenService(t, time.Millisecond)
		token, err := short.GenerateToken(17, models.UserRoleUser)
		require.NoError(t, err)
		time.Sleep(1100 * time.Millisecond)

		status, body := call(t, protectedApp(short), "/me", "Bearer "+token)
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Equal(t, "TOKEN_EXPIRED", codeOf(body))
	})
}

func TestRequireAdmin(t *testing.T) {
	ts := newTokenService(t, time.Minute)
	app := protectedApp(ts)

	userToken, err := ts.GenerateToken(3, models.UserRoleUser)
	require.NoError(t, err)
	status, body := call(t, app, "/admin", "Bearer "+userToken)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "ADMIN_ACCESS_REQUIRED", codeOf(body))

	adminToken, err := ts.GenerateToken(1, models.UserRoleAdmin)
	require.NoError(t, err)
	status, _ = call(t, app, "/admin", "Bearer "+adminToken)
	assert.Equal(t, fiber.StatusOK, status)
}
