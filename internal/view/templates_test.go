package view

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-admin/sentinel/internal/shared"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	assert.NoError(t, err, "Templates should parse without error")
	assert.NotNil(t, engine)
}

func TestNavigationFollowsPermissions(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	auth := &Auth{UserID: 1, Permissions: map[string]bool{shared.PermUsersView: true}}
	var buf bytes.Buffer
	require.NoError(t, engine.templates.ExecuteTemplate(&buf, "partials/nav", TemplateData{Auth: auth, CurrentPath: "/users/4"}))

	out := buf.String()
	assert.Contains(t, out, `<a href="/users" class="active">Users</a>`)
	assert.NotContains(t, out, "/roles")
	assert.NotContains(t, out, "/permissions")
}

func TestAuthCanOnNil(t *testing.T) {
	var a *Auth
	assert.False(t, a.Can(shared.PermDashboardView))
}

func TestRenderStatus(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, engine.RenderStatus(rec, "pages/errors/403.html", http.StatusForbidden, TemplateData{Title: "Forbidden"}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "You are not allowed to perform this action.")

	rec = httptest.NewRecorder()
	err = engine.RenderStatus(rec, "pages/missing.html", http.StatusOK, TemplateData{})
	assert.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, strings.Contains(rec.Body.String(), "<html"), "no partial page on failure")
}

func TestWelcomeLinksBySignInState(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, engine.Render(rec, "pages/welcome.html", TemplateData{}))
	assert.Contains(t, rec.Body.String(), `href="/auth/login"`)

	rec = httptest.NewRecorder()
	require.NoError(t, engine.Render(rec, "pages/welcome.html", TemplateData{Auth: &Auth{UserID: 7}}))
	assert.Contains(t, rec.Body.String(), `href="/dashboard"`)
}
