package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sentinel-admin/sentinel/internal/platform/httpx"
	"github.com/sentinel-admin/sentinel/internal/shared"
	"github.com/sentinel-admin/sentinel/internal/view"
)

// PermissionService is the registry behaviour the handler depends on.
type PermissionService interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	SearchPermissions(ctx context.Context, req shared.TableRequest) ([]Permission, int, int, error)
	ListGroups(ctx context.Context) ([]string, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	CreatePermission(ctx context.Context, in PermissionInput) (Permission, error)
	UpdatePermission(ctx context.Context, id int64, in PermissionInput) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error
}

// PermissionsHandler manages the permission registry screens.
type PermissionsHandler struct {
	logger    *slog.Logger
	service   PermissionService
	templates *view.Engine
	csrf      *shared.CSRFManager
	gate      *Gate
	validator *validator.Validate
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service PermissionService, templates *view.Engine, csrf *shared.CSRFManager, gate *Gate) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, service: service, templates: templates, csrf: csrf, gate: gate, validator: validator.New()}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermPermissionsView))
		r.Get("/", h.listPermissions)
		r.Get("/data", h.tableData)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermPermissionsCreate))
		r.Get("/new", h.showCreateForm)
		r.Post("/", h.createPermission)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermPermissionsView))
		r.Get("/{id}", h.showPermission)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermPermissionsEdit))
		r.Get("/{id}/edit", h.showEditForm)
		r.Post("/{id}", h.updatePermission)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermPermissionsDelete))
		r.Post("/{id}/delete", h.deletePermission)
	})
}

type formErrors map[string]string

type permissionRow struct {
	ID        int64              `json:"id"`
	Name      string             `json:"name"`
	Label     string             `json:"label"`
	Group     string             `json:"group"`
	CreatedAt string             `json:"created_at"`
	Action    []shared.RowAction `json:"action"`
}

type permissionFormData struct {
	Permission Permission
	Form       PermissionInput
	Groups     []string
	Errors     formErrors
	IsEdit     bool
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		h.render(w, r, "pages/permissions/list.html", map[string]any{"Errors": formErrors{"general": shared.UserSafeMessage(err)}}, http.StatusInternalServerError)
		return
	}
	actor := ActorFromContext(r.Context())
	h.render(w, r, "pages/permissions/list.html", map[string]any{
		"Permissions": perms,
		"Abilities":   h.gate.Abilities(actor, "permissions"),
	}, http.StatusOK)
}

func (h *PermissionsHandler) tableData(w http.ResponseWriter, r *http.Request) {
	req := shared.ParseTableRequest(r)
	perms, total, filtered, err := h.service.SearchPermissions(r.Context(), req)
	if err != nil {
		h.logger.Error("permission table", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	actor := ActorFromContext(r.Context())
	rows := make([]permissionRow, 0, len(perms))
	for _, p := range perms {
		rows = append(rows, permissionRow{
			ID:        p.ID,
			Name:      p.Name,
			Label:     p.DisplayLabel(),
			Group:     DisplayGroup(p.Group),
			CreatedAt: p.CreatedAt.Format("02 Jan 2006"),
			Action:    h.gate.RowActions(actor, "permissions", "/permissions", p.ID),
		})
	}
	httpx.JSON(w, http.StatusOK, shared.NewTableResponse(req, total, filtered, rows))
}

func (h *PermissionsHandler) showPermission(w http.ResponseWriter, r *http.Request) {
	perm, ok := h.loadPermission(w, r)
	if !ok {
		return
	}
	actor := ActorFromContext(r.Context())
	h.render(w, r, "pages/permissions/show.html", map[string]any{
		"Permission": perm,
		"Abilities":  h.gate.Abilities(actor, "permissions"),
	}, http.StatusOK)
}

func (h *PermissionsHandler) showCreateForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, permissionFormData{Errors: formErrors{}}, http.StatusOK)
}

func (h *PermissionsHandler) showEditForm(w http.ResponseWriter, r *http.Request) {
	perm, ok := h.loadPermission(w, r)
	if !ok {
		return
	}
	h.renderForm(w, r, permissionFormData{
		Permission: perm,
		Form:       PermissionInput{Name: perm.Name, Label: perm.Label, Group: perm.Group},
		Errors:     formErrors{},
		IsEdit:     true,
	}, http.StatusOK)
}

func (h *PermissionsHandler) createPermission(w http.ResponseWriter, r *http.Request) {
	form, errs, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	if len(errs) > 0 {
		h.renderForm(w, r, permissionFormData{Form: form, Errors: errs}, http.StatusBadRequest)
		return
	}
	if _, err := h.service.CreatePermission(r.Context(), form); err != nil {
		h.handleWriteError(w, r, permissionFormData{Form: form}, err)
		return
	}
	redirectWithFlash(w, r, "/permissions", "success", "Permission created successfully.")
}

func (h *PermissionsHandler) updatePermission(w http.ResponseWriter, r *http.Request) {
	perm, ok := h.loadPermission(w, r)
	if !ok {
		return
	}
	form, errs, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	data := permissionFormData{Permission: perm, Form: form, IsEdit: true}
	if len(errs) > 0 {
		data.Errors = errs
		h.renderForm(w, r, data, http.StatusBadRequest)
		return
	}
	if _, err := h.service.UpdatePermission(r.Context(), perm.ID, form); err != nil {
		h.handleWriteError(w, r, data, err)
		return
	}
	redirectWithFlash(w, r, "/permissions", "success", "Permission updated successfully.")
}

func (h *PermissionsHandler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id := shared.ParseID(chi.URLParam(r, "id"))
	err := h.service.DeletePermission(r.Context(), id)
	if httpx.WantsJSON(r) {
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.Succeeded(w, "Permission deleted successfully.")
		return
	}
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("delete permission", slog.Int64("id", id), slog.Any("error", err))
		}
		redirectWithFlash(w, r, "/permissions", "error", shared.UserSafeMessage(err))
		return
	}
	redirectWithFlash(w, r, "/permissions", "success", "Permission deleted successfully.")
}

func (h *PermissionsHandler) parseForm(w http.ResponseWriter, r *http.Request) (PermissionInput, formErrors, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return PermissionInput{}, nil, false
	}
	form := PermissionInput{
		Name:  r.PostFormValue("name"),
		Label: r.PostFormValue("label"),
		Group: r.PostFormValue("group"),
	}
	errs := formErrors{}
	if err := h.validator.Struct(form); err != nil {
		errs = shared.FieldErrors(err)
	}
	return form, errs, true
}

func (h *PermissionsHandler) handleWriteError(w http.ResponseWriter, r *http.Request, data permissionFormData, err error) {
	switch {
	case errors.Is(err, shared.ErrDuplicateName):
		data.Errors = formErrors{"name": "The name has already been taken."}
		h.renderForm(w, r, data, http.StatusConflict)
	case errors.Is(err, shared.ErrValidation):
		data.Errors = formErrors{"name": shared.UserSafeMessage(err)}
		h.renderForm(w, r, data, http.StatusBadRequest)
	case errors.Is(err, shared.ErrNotFound):
		redirectWithFlash(w, r, "/permissions", "error", shared.UserSafeMessage(err))
	default:
		h.logger.Error("save permission", slog.Any("error", err))
		data.Errors = formErrors{"general": shared.UserSafeMessage(err)}
		h.renderForm(w, r, data, http.StatusInternalServerError)
	}
}

func (h *PermissionsHandler) loadPermission(w http.ResponseWriter, r *http.Request) (Permission, bool) {
	id := shared.ParseID(chi.URLParam(r, "id"))
	perm, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.NotFound(w, r)
			return Permission{}, false
		}
		h.logger.Error("load permission", slog.Int64("id", id), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return Permission{}, false
	}
	return perm, true
}

func (h *PermissionsHandler) renderForm(w http.ResponseWriter, r *http.Request, data permissionFormData, status int) {
	groups, err := h.service.ListGroups(r.Context())
	if err != nil {
		h.logger.Warn("list permission groups", slog.Any("error", err))
	}
	data.Groups = groups
	if data.Errors == nil {
		data.Errors = formErrors{}
	}
	h.render(w, r, "pages/permissions/form.html", data, status)
}

func (h *PermissionsHandler) render(w http.ResponseWriter, r *http.Request, template string, data any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Permissions",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Auth:        ViewAuth(ActorFromContext(r.Context())),
		Data:        data,
	}
	if err := h.templates.RenderStatus(w, template, status, viewData); err != nil {
		h.logger.Error("render template", slog.String("template", template), slog.Any("error", err))
	}
}

func redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
