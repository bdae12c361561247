package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amirphl/AdGuard-AI/app/middleware"
	"github.com/amirphl/AdGuard-AI/app/services"
	"github.com/amirphl/AdGuard-AI/config"
	"github.com/amirphl/AdGuard-AI/models"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHandlers answers every route with its own name
type stubHandlers struct{}

func reply(name string) fiber.Handler {
	return func(c fiber.Ctx) error {
		userID, _ := middleware.GetUserIDFromContext(c)
		return c.JSON(fiber.Map{"handler": name, "user_id": userID})
	}
}

func (stubHandlers) Upload(c fiber.Ctx) error       { return reply("upload")(c) }
func (stubHandlers) Status(c fiber.Ctx) error       { return reply("status")(c) }
func (stubHandlers) ListMine(c fiber.Ctx) error     { return reply("reports")(c) }
func (stubHandlers) AdminList(c fiber.Ctx) error    { return reply("admin_reports")(c) }
func (stubHandlers) AdminApprove(c fiber.Ctx) error { return reply("approve")(c) }
func (stubHandlers) AdminReject(c fiber.Ctx) error  { return reply("reject")(c) }
func (stubHandlers) AdminExport(c fiber.Ctx) error  { return reply("export")(c) }
func (stubHandlers) List(c fiber.Ctx) error         { return reply("notifications")(c) }
func (stubHandlers) MarkRead(c fiber.Ctx) error     { return reply("mark_read")(c) }

func testConfig(t *testing.T) *config.ProductionConfig {
	return &config.ProductionConfig{
		Server: config.ServerConfig{
			BodyLimit:    10 * 1024 * 1024,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  5 * time.Second,
		},
		Security: config.SecurityConfig{
			AllowedOrigins:  []string{"http://localhost:3000"},
			AllowedMethods:  []string{"GET", "POST", "PATCH"},
			AllowedHeaders:  []string{"Authorization", "Content-Type"},
			GlobalRateLimit: 1000,
			UploadRateLimit: 10,
			RateLimitWindow: time.Minute,
			XFrameOptions:   "DENY",
			CSPPolicy:       "default-src 'self'",
			ReferrerPolicy:  "no-referrer",
		},
		Metrics:    config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Storage:    config.StorageConfig{Provider: "local", LocalDir: t.TempDir()},
		Deployment: config.DeploymentConfig{Environment: "test", Version: "1.4.2"},
	}
}

type routerFixture struct {
	app    *fiber.App
	tokens services.TokenService
	cfg    *config.ProductionConfig
}

func newRouterFixture(t *testing.T, ping Pinger) *routerFixture {
	t.Helper()
	tokens, err := services.NewTokenService(config.JWTConfig{
		SecretKey:      "router-test-secret-key-with-32-chars!",
		AccessTokenTTL: time.Minute,
	})
	require.NoError(t, err)

	cfg := testConfig(t)
	h := stubHandlers{}
	r := NewFiberRouter(cfg, h, h, h, middleware.NewAuthMiddleware(tokens), ping)
	r.SetupRoutes()
	return &routerFixture{app: r.GetApp(), tokens: tokens, cfg: cfg}
}

func (f *routerFixture) do(t *testing.T, method, path string, userID uint, role string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if userID != 0 {
		token, err := f.tokens.GenerateToken(userID, role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	body := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &body))
	} else {
		body["raw"] = string(raw)
	}
	return resp, body
}

func TestHealthCheck(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		f := newRouterFixture(t, func(ctx context.Context) error { return nil })
		resp, body := f.do(t, http.MethodGet, "/api/v1/health", 0, "")
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		data, _ := body["data"].(map[string]any)
		assert.Equal(t, "ok", data["status"])
		assert.Equal(t, "1.4.2", data["version"])
	})

	t.Run("DatabaseDown", func(t *testing.T) {
		f := newRouterFixture(t, func(ctx context.Context) error { return errors.New("dial tcp: connection refused") })
		resp, body := f.do(t, http.MethodGet, "/api/v1/health", 0, "")
		assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, false, body["success"])
	})
}

func TestRouteAccess(t *testing.T) {
	f := newRouterFixture(t, nil)

	cases := []struct {
		name    string
		method  string
		path    string
		userID  uint
		role    string
		status  int
		handler string
	}{
		{"UploadNeedsToken", http.MethodPost, "/api/v1/ads/upload", 0, "", fiber.StatusUnauthorized, ""},
		{"Upload", http.MethodPost, "/api/v1/ads/upload", 5, models.UserRoleUser, fiber.StatusOK, "upload"},
		{"Status", http.MethodGet, "/api/v1/ads/adv-12/status", 5, models.UserRoleUser, fiber.StatusOK, "status"},
		{"Reports", http.MethodGet, "/api/v1/reports", 5, models.UserRoleUser, fiber.StatusOK, "reports"},
		{"Notifications", http.MethodGet, "/api/v1/notifications", 5, models.UserRoleUser, fiber.StatusOK, "notifications"},
		{"MarkRead", http.MethodPatch, "/api/v1/notifications/3/read", 5, models.UserRoleUser, fiber.StatusOK, "mark_read"},
		{"AdminForbiddenForUsers", http.MethodGet, "/api/v1/admin/reports", 5, models.UserRoleUser, fiber.StatusForbidden, ""},
		{"AdminList", http.MethodGet, "/api/v1/admin/reports", 1, models.UserRoleAdmin, fiber.StatusOK, "admin_reports"},
		{"AdminExport", http.MethodGet, "/api/v1/admin/reports/export", 1, models.UserRoleAdmin, fiber.StatusOK, "export"},
		{"AdminApprove", http.MethodPost, "/api/v1/admin/reports/4/approve", 1, models.UserRoleAdmin, fiber.StatusOK, "approve"},
		{"AdminReject", http.MethodPost, "/api/v1/admin/reports/4/reject", 1, models.UserRoleAdmin, fiber.StatusOK, "reject"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := f.do(t, tc.method, tc.path, tc.userID, tc.role)
			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.handler != "" {
				assert.Equal(t, tc.handler, body["handler"])
				assert.Equal(t, float64(tc.userID), body["user_id"])
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	f := newRouterFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, "/nowhere", 0, "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	detail, _ := body["error"].(map[string]any)
	assert.Equal(t, "NOT_FOUND", detail["code"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.do(t, http.MethodGet, "/api/v1/health", 0, "")

	resp, body := f.do(t, http.MethodGet, "/metrics", 0, "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body["raw"], "adguard_http_requests_total")
}

func TestLocalMediaServed(t *testing.T) {
	f := newRouterFixture(t, nil)
	dir := filepath.Join(f.cfg.Storage.LocalDir, "7", "12")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "banner.txt"), []byte("stored media"), 0o644))

	resp, body := f.do(t, http.MethodGet, "/media/7/12/banner.txt", 0, "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "stored media", body["raw"])
}
