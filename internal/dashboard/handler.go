package dashboard

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/sentinel-admin/sentinel/internal/rbac"
	"github.com/sentinel-admin/sentinel/internal/shared"
	"github.com/sentinel-admin/sentinel/internal/view"
)

// UserCounter reports user totals.
type UserCounter interface {
	Counts(ctx context.Context) (total, active int, err error)
}

// Catalog exposes the role and permission catalogue.
type Catalog interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	ListPermissions(ctx context.Context) ([]rbac.Permission, error)
	UserPermissionsByGroup(ctx context.Context, userID int64) (rbac.Structure, error)
}

// Handler renders the admin landing page.
type Handler struct {
	logger    *slog.Logger
	users     UserCounter
	catalog   Catalog
	templates *view.Engine
	csrf      *shared.CSRFManager
	gate      *rbac.Gate
}

// NewHandler constructs the dashboard handler.
func NewHandler(logger *slog.Logger, users UserCounter, catalog Catalog, templates *view.Engine, csrf *shared.CSRFManager, gate *rbac.Gate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, users: users, catalog: catalog, templates: templates, csrf: csrf, gate: gate}
}

// MountRoutes registers dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.gate.RequirePermission(shared.PermDashboardView)).Get("/", h.show)
}

type summary struct {
	Users       int
	ActiveUsers int
	Roles       int
	Permissions int
	Access      rbac.Structure
}

func (h *Handler) load(ctx context.Context, userID int64) (summary, error) {
	var data summary
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		total, active, err := h.users.Counts(ctx)
		if err != nil {
			return err
		}
		data.Users, data.ActiveUsers = total, active
		return nil
	})

	g.Go(func() error {
		roles, err := h.catalog.ListRoles(ctx)
		if err != nil {
			return err
		}
		data.Roles = len(roles)
		return nil
	})

	g.Go(func() error {
		perms, err := h.catalog.ListPermissions(ctx)
		if err != nil {
			return err
		}
		data.Permissions = len(perms)
		return nil
	})

	g.Go(func() error {
		access, err := h.catalog.UserPermissionsByGroup(ctx, userID)
		if err != nil {
			return err
		}
		data.Access = access
		return nil
	})

	if err := g.Wait(); err != nil {
		return summary{}, err
	}
	return data, nil
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	actor := rbac.ActorFromContext(r.Context())
	data, err := h.load(r.Context(), actor.UserID)
	if err != nil {
		h.logger.Error("load dashboard", slog.Int64("user_id", actor.UserID), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Dashboard",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Auth:        rbac.ViewAuth(actor),
		Data:        data,
	}
	if err := h.templates.RenderStatus(w, "pages/dashboard.html", http.StatusOK, viewData); err != nil {
		h.logger.Error("render dashboard", slog.Any("error", err))
	}
}
