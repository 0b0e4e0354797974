package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-admin/sentinel/internal/auth"
	"github.com/sentinel-admin/sentinel/internal/dashboard"
	"github.com/sentinel-admin/sentinel/internal/observability"
	"github.com/sentinel-admin/sentinel/internal/rbac"
	"github.com/sentinel-admin/sentinel/internal/roles"
	"github.com/sentinel-admin/sentinel/internal/shared"
	"github.com/sentinel-admin/sentinel/internal/users"
	"github.com/sentinel-admin/sentinel/internal/view"
	_ "github.com/sentinel-admin/sentinel/internal/testing/guard"
	"github.com/sentinel-admin/sentinel/jobs"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf")
	templates, err := view.NewEngine()
	require.NoError(t, err)
	metrics := observability.NewMetrics()
	gate := rbac.NewGate(nil, sessions, nil, logger).WithObserver(metrics)
	authService := auth.NewService(nil, nil, logger, auth.Options{})

	return NewRouter(RouterParams{
		Logger:         logger,
		Config:         &Config{AppEnv: "test", AppRequestTimeout: time.Second},
		Templates:      templates,
		SessionManager: sessions,
		CSRFManager:    csrf,
		Gate:           gate,
		Metrics:        metrics,

		AuthHandler:        auth.NewHandler(logger, authService, templates, sessions, csrf),
		SettingsHandler:    auth.NewSettingsHandler(logger, authService, nil, templates, sessions, csrf, gate),
		DashboardHandler:   dashboard.NewHandler(logger, nil, nil, templates, csrf, gate),
		RolesHandler:       roles.NewHandler(logger, nil, templates, csrf, gate),
		UsersHandler:       users.NewHandler(logger, nil, templates, csrf, gate),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, nil, templates, csrf, gate),
		JobHandler:         jobs.NewHandler(nil, logger),
	})
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestWelcomePageIsPublic(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/auth/login"`)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Set-Cookie"))
}

func TestAdminRoutesRedirectAnonymous(t *testing.T) {
	router := newTestRouter(t)
	for _, path := range []string{"/dashboard", "/users", "/roles", "/permissions", "/settings/profile", "/jobs/health"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusSeeOther, rec.Code, path)
		assert.Equal(t, rbac.LoginPath, rec.Header().Get("Location"), path)
	}
}

func TestPostWithoutCSRFTokenIsRejected(t *testing.T) {
	form := url.Values{"email": {"a@b.c"}, "password": {"x"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStaticAssetsAreCached(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/css/app.css", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sentinel_authz_decisions_total{check="role",outcome="anonymous"} 1`)
}
