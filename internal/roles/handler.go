package roles

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sentinel-admin/sentinel/internal/platform/httpx"
	"github.com/sentinel-admin/sentinel/internal/rbac"
	"github.com/sentinel-admin/sentinel/internal/shared"
	"github.com/sentinel-admin/sentinel/internal/view"
)

// RoleService is the role behaviour the handler depends on.
type RoleService interface {
	ListRolesWithCounts(ctx context.Context) ([]rbac.RoleSummary, error)
	GetRole(ctx context.Context, id int64) (rbac.RoleDetail, error)
	CreateRole(ctx context.Context, name string, permissionNames []string) (rbac.Role, error)
	UpdateRole(ctx context.Context, id int64, name string, permissionNames []string) (rbac.Role, error)
	DeleteRole(ctx context.Context, id int64) error
	PermissionStructure(ctx context.Context) (rbac.Structure, error)
}

// Handler manages role management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   RoleService
	templates *view.Engine
	csrf      *shared.CSRFManager
	gate      *rbac.Gate
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service RoleService, templates *view.Engine, csrf *shared.CSRFManager, gate *rbac.Gate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, gate: gate, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermRolesView))
		r.Get("/", h.listRoles)
		r.Get("/data", h.tableData)
		r.Get("/{id}", h.showRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermRolesCreate))
		r.Get("/new", h.showCreateForm)
		r.Post("/", h.createRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermRolesEdit))
		r.Get("/{id}/edit", h.showEditForm)
		r.Post("/{id}", h.updateRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermRolesDelete))
		r.Post("/{id}/delete", h.deleteRole)
	})
}

type formErrors map[string]string

type formData struct {
	Role      rbac.Role
	Form      roleForm
	Structure rbac.Structure
	Errors    formErrors
	IsEdit    bool
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRolesWithCounts(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		h.render(w, r, "pages/roles/list.html", map[string]any{"Errors": formErrors{"general": shared.UserSafeMessage(err)}}, http.StatusInternalServerError)
		return
	}
	actor := rbac.ActorFromContext(r.Context())
	h.render(w, r, "pages/roles/list.html", map[string]any{
		"Roles":     roles,
		"Abilities": h.gate.Abilities(actor, "roles"),
	}, http.StatusOK)
}

func (h *Handler) tableData(w http.ResponseWriter, r *http.Request) {
	req := shared.ParseTableRequest(r)
	all, err := h.service.ListRolesWithCounts(r.Context())
	if err != nil {
		h.logger.Error("role table", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	page, filtered := filterRoles(all, req)
	actor := rbac.ActorFromContext(r.Context())
	rows := make([]roleRow, 0, len(page))
	for _, s := range page {
		actions := h.gate.RowActions(actor, "roles", "/roles", s.ID)
		if s.Reserved() {
			actions = withoutDelete(actions)
		}
		rows = append(rows, roleRow{
			ID:               s.ID,
			Name:             s.Name,
			PermissionsCount: s.PermissionCount,
			Protected:        s.Reserved(),
			CreatedAt:        s.CreatedAt.Format("02 Jan 2006"),
			Action:           actions,
		})
	}
	httpx.JSON(w, http.StatusOK, shared.NewTableResponse(req, len(all), filtered, rows))
}

func withoutDelete(actions []shared.RowAction) []shared.RowAction {
	out := actions[:0]
	for _, a := range actions {
		if a.Type != "delete" {
			out = append(out, a)
		}
	}
	return out
}

func (h *Handler) showRole(w http.ResponseWriter, r *http.Request) {
	detail, ok := h.loadRole(w, r)
	if !ok {
		return
	}
	actor := rbac.ActorFromContext(r.Context())
	h.render(w, r, "pages/roles/show.html", map[string]any{
		"Role":      detail,
		"Grouped":   rbac.BuildStructure(detail.Permissions),
		"Abilities": h.gate.Abilities(actor, "roles"),
	}, http.StatusOK)
}

func (h *Handler) showCreateForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, formData{}, http.StatusOK)
}

func (h *Handler) showEditForm(w http.ResponseWriter, r *http.Request) {
	detail, ok := h.loadRole(w, r)
	if !ok {
		return
	}
	h.renderForm(w, r, formData{
		Role:   detail.Role,
		Form:   roleForm{Name: detail.Name, Permissions: detail.PermissionNames()},
		IsEdit: true,
	}, http.StatusOK)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	form, errs, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	if len(errs) > 0 {
		h.renderForm(w, r, formData{Form: form, Errors: errs}, http.StatusBadRequest)
		return
	}
	if _, err := h.service.CreateRole(r.Context(), form.Name, form.Permissions); err != nil {
		h.handleWriteError(w, r, formData{Form: form}, err)
		return
	}
	h.redirectWithFlash(w, r, "/roles", "success", "Role created successfully.")
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	detail, ok := h.loadRole(w, r)
	if !ok {
		return
	}
	form, errs, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	data := formData{Role: detail.Role, Form: form, IsEdit: true}
	if len(errs) > 0 {
		data.Errors = errs
		h.renderForm(w, r, data, http.StatusBadRequest)
		return
	}
	if _, err := h.service.UpdateRole(r.Context(), detail.ID, form.Name, form.Permissions); err != nil {
		h.handleWriteError(w, r, data, err)
		return
	}
	h.redirectWithFlash(w, r, "/roles", "success", "Role updated successfully.")
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id := shared.ParseID(chi.URLParam(r, "id"))
	err := h.service.DeleteRole(r.Context(), id)
	if httpx.WantsJSON(r) {
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.Succeeded(w, "Role deleted successfully.")
		return
	}
	if err != nil {
		if !errors.Is(err, shared.ErrProtectedRole) && !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("delete role", slog.Int64("id", id), slog.Any("error", err))
		}
		h.redirectWithFlash(w, r, "/roles", "error", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/roles", "success", "Role deleted successfully.")
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) (roleForm, formErrors, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return roleForm{}, nil, false
	}
	form := roleForm{
		Name:        r.PostFormValue("name"),
		Permissions: r.PostForm["permissions"],
	}
	errs := formErrors{}
	if err := h.validator.Struct(form); err != nil {
		errs = shared.FieldErrors(err)
	}
	return form, errs, true
}

func (h *Handler) handleWriteError(w http.ResponseWriter, r *http.Request, data formData, err error) {
	switch {
	case errors.Is(err, shared.ErrDuplicateName):
		data.Errors = formErrors{"name": "The name has already been taken."}
		h.renderForm(w, r, data, http.StatusConflict)
	case errors.Is(err, shared.ErrValidation):
		data.Errors = formErrors{"name": shared.UserSafeMessage(err)}
		h.renderForm(w, r, data, http.StatusBadRequest)
	case errors.Is(err, shared.ErrProtectedRole):
		h.redirectWithFlash(w, r, "/roles", "error", "Core system roles cannot be renamed.")
	case errors.Is(err, shared.ErrNotFound):
		h.redirectWithFlash(w, r, "/roles", "error", shared.UserSafeMessage(err))
	default:
		h.logger.Error("save role", slog.Any("error", err))
		data.Errors = formErrors{"general": shared.UserSafeMessage(err)}
		h.renderForm(w, r, data, http.StatusInternalServerError)
	}
}

func (h *Handler) loadRole(w http.ResponseWriter, r *http.Request) (rbac.RoleDetail, bool) {
	id := shared.ParseID(chi.URLParam(r, "id"))
	detail, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.NotFound(w, r)
			return rbac.RoleDetail{}, false
		}
		h.logger.Error("load role", slog.Int64("id", id), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return rbac.RoleDetail{}, false
	}
	return detail, true
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, data formData, status int) {
	structure, err := h.service.PermissionStructure(r.Context())
	if err != nil {
		h.logger.Error("permission structure", slog.Any("error", err))
	}
	data.Structure = structure
	if data.Errors == nil {
		data.Errors = formErrors{}
	}
	h.render(w, r, "pages/roles/form.html", data, status)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Roles",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Auth:        rbac.ViewAuth(rbac.ActorFromContext(r.Context())),
		Data:        data,
	}
	if err := h.templates.RenderStatus(w, template, status, viewData); err != nil {
		h.logger.Error("render template", slog.String("template", template), slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
