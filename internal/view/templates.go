package view

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/sentinel-admin/sentinel/internal/shared"
	"github.com/sentinel-admin/sentinel/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	Auth        *Auth
	Data        any
}

// Auth is the signed-in user as seen by templates.
type Auth struct {
	UserID      int64
	Name        string
	Email       string
	Roles       []string
	Permissions map[string]bool
}

// Can reports whether the user holds perm. A nil Auth holds nothing.
func (a *Auth) Can(perm string) bool {
	if a == nil {
		return false
	}
	return a.Permissions[perm]
}

// NavItem is an entry of the sidebar navigation.
type NavItem struct {
	Label      string
	Href       string
	Permission string
}

// Navigation lists sidebar entries in display order.
var Navigation = []NavItem{
	{Label: "Dashboard", Href: "/dashboard", Permission: shared.PermDashboardView},
	{Label: "Users", Href: "/users", Permission: shared.PermUsersView},
	{Label: "Roles", Href: "/roles", Permission: shared.PermRolesView},
	{Label: "Permissions", Href: "/permissions", Permission: shared.PermPermissionsView},
	{Label: "Settings", Href: "/settings/profile", Permission: shared.PermProfileEdit},
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"can": func(a *Auth, perm string) bool {
			return a.Can(perm)
		},
		"nav": func(a *Auth) []NavItem {
			items := make([]NavItem, 0, len(Navigation))
			for _, item := range Navigation {
				if a.Can(item.Permission) {
					items = append(items, item)
				}
			}
			return items
		},
		"active": func(current, href string) bool {
			return current == href || strings.HasPrefix(current, href+"/")
		},
		"contains": func(list []string, v string) bool {
			for _, item := range list {
				if item == v {
					return true
				}
			}
			return false
		},
		"join": strings.Join,
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}

// RenderStatus buffers the template and writes it with status, so a failing
// template never produces a half-written page.
func (e *Engine) RenderStatus(w http.ResponseWriter, name string, status int, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
