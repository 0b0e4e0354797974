package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sentinel-admin/sentinel/internal/platform/httpx"
	"github.com/sentinel-admin/sentinel/internal/rbac"
	"github.com/sentinel-admin/sentinel/internal/shared"
	"github.com/sentinel-admin/sentinel/internal/view"
)

// UserService is the behaviour the handler depends on.
type UserService interface {
	Search(ctx context.Context, req shared.TableRequest) ([]User, int, int, error)
	Detail(ctx context.Context, id int64) (Detail, error)
	Get(ctx context.Context, id int64) (User, error)
	CurrentRoleID(ctx context.Context, userID int64) (*int64, error)
	Roles(ctx context.Context) ([]rbac.Role, error)
	Create(ctx context.Context, in Input) (User, error)
	Update(ctx context.Context, id int64, in Input) (User, error)
	Delete(ctx context.Context, actorID, id int64) error
}

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   UserService
	templates *view.Engine
	csrf      *shared.CSRFManager
	gate      *rbac.Gate
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service UserService, templates *view.Engine, csrf *shared.CSRFManager, gate *rbac.Gate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, gate: gate, validator: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermUsersView))
		r.Get("/", h.listUsers)
		r.Get("/data", h.tableData)
		r.Get("/{id}", h.showUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermUsersCreate))
		r.Get("/new", h.showCreateUserForm)
		r.Post("/", h.createUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermUsersEdit))
		r.Get("/{id}/edit", h.showEditUserForm)
		r.Post("/{id}", h.updateUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermUsersDelete))
		r.Post("/{id}/delete", h.deleteUser)
	})
}

type formErrors map[string]string

type userRow struct {
	ID            int64              `json:"id"`
	Name          string             `json:"name"`
	Email         string             `json:"email"`
	Roles         []string           `json:"roles"`
	Status        string             `json:"status"`
	EmailVerified bool               `json:"email_verified"`
	CreatedAt     string             `json:"created_at"`
	Action        []shared.RowAction `json:"action"`
}

type formData struct {
	User   User
	Form   Input
	Roles  []rbac.Role
	Errors formErrors
	IsEdit bool
}

// SelectedRole reports whether id is the role picked in the form.
func (d formData) SelectedRole(id int64) bool {
	return d.Form.RoleID != nil && *d.Form.RoleID == id
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	req := shared.ParseTableRequest(r)
	users, _, filtered, err := h.service.Search(r.Context(), req)
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		h.render(w, r, "pages/users/list.html", map[string]any{"Errors": formErrors{"general": shared.UserSafeMessage(err)}}, http.StatusInternalServerError)
		return
	}
	actor := rbac.ActorFromContext(r.Context())
	h.render(w, r, "pages/users/list.html", map[string]any{
		"Users":     users,
		"Search":    req.Search,
		"Page":      newPage(req, filtered),
		"SelfID":    actorID(actor),
		"Abilities": h.gate.Abilities(actor, "users"),
	}, http.StatusOK)
}

func (h *Handler) tableData(w http.ResponseWriter, r *http.Request) {
	req := shared.ParseTableRequest(r)
	users, total, filtered, err := h.service.Search(r.Context(), req)
	if err != nil {
		h.logger.Error("user table", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	actor := rbac.ActorFromContext(r.Context())
	rows := make([]userRow, 0, len(users))
	for _, u := range users {
		actions := h.gate.RowActions(actor, "users", "/users", u.ID)
		if !actor.Anonymous() && u.ID == actor.UserID {
			actions = withoutDelete(actions)
		}
		status := "Inactive"
		if u.Active() {
			status = "Active"
		}
		rows = append(rows, userRow{
			ID:            u.ID,
			Name:          u.FullName(),
			Email:         u.Email,
			Roles:         u.Roles,
			Status:        status,
			EmailVerified: u.Verified(),
			CreatedAt:     u.CreatedAt.Format("02 Jan 2006"),
			Action:        actions,
		})
	}
	httpx.JSON(w, http.StatusOK, shared.NewTableResponse(req, total, filtered, rows))
}

func actorID(actor *rbac.AuthContext) int64 {
	if actor.Anonymous() {
		return 0
	}
	return actor.UserID
}

// page describes the offset window of a server-rendered listing.
type page struct {
	Start, Length, Filtered int
	Search                  string
}

func newPage(req shared.TableRequest, filtered int) page {
	return page{Start: req.Start, Length: req.Length, Filtered: filtered, Search: req.Search}
}

// HasPrev reports whether an earlier window exists.
func (p page) HasPrev() bool { return p.Start > 0 }

// HasNext reports whether a later window exists.
func (p page) HasNext() bool { return p.Start+p.Length < p.Filtered }

// PrevStart is the offset of the previous window.
func (p page) PrevStart() int {
	if p.Start-p.Length < 0 {
		return 0
	}
	return p.Start - p.Length
}

// NextStart is the offset of the next window.
func (p page) NextStart() int { return p.Start + p.Length }

// Last is the one-based index of the final row shown.
func (p page) Last() int {
	if p.Start+p.Length > p.Filtered {
		return p.Filtered
	}
	return p.Start + p.Length
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

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id := shared.ParseID(chi.URLParam(r, "id"))
	detail, err := h.service.Detail(r.Context(), id)
	if err != nil {
		h.failLoad(w, r, id, err)
		return
	}
	actor := rbac.ActorFromContext(r.Context())
	abilities := h.gate.Abilities(actor, "users")
	if actor != nil && actor.UserID == id {
		abilities.Delete = false
	}
	h.render(w, r, "pages/users/show.html", map[string]any{
		"User":      detail,
		"Abilities": abilities,
	}, http.StatusOK)
}

func (h *Handler) showCreateUserForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, formData{Form: Input{Status: StatusActive}}, http.StatusOK)
}

func (h *Handler) showEditUserForm(w http.ResponseWriter, r *http.Request) {
	id := shared.ParseID(chi.URLParam(r, "id"))
	u, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.failLoad(w, r, id, err)
		return
	}
	roleID, err := h.service.CurrentRoleID(r.Context(), id)
	if err != nil {
		h.failLoad(w, r, id, err)
		return
	}
	h.renderForm(w, r, formData{
		User: u,
		Form: Input{
			FirstName:     u.FirstName,
			LastName:      u.LastName,
			Email:         u.Email,
			Status:        u.Status,
			EmailVerified: u.Verified(),
			RoleID:        roleID,
		},
		IsEdit: true,
	}, http.StatusOK)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	form, errs, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	if form.Password == "" {
		errs["password"] = "The password field is required."
	}
	if len(errs) > 0 {
		h.renderForm(w, r, formData{Form: form, Errors: errs}, http.StatusBadRequest)
		return
	}
	if _, err := h.service.Create(r.Context(), form); err != nil {
		h.handleWriteError(w, r, formData{Form: form}, err)
		return
	}
	h.redirectWithFlash(w, r, "/users", "success", "User created successfully.")
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id := shared.ParseID(chi.URLParam(r, "id"))
	u, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.failLoad(w, r, id, err)
		return
	}
	form, errs, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	data := formData{User: u, Form: form, IsEdit: true}
	if len(errs) > 0 {
		data.Errors = errs
		h.renderForm(w, r, data, http.StatusBadRequest)
		return
	}
	if _, err := h.service.Update(r.Context(), id, form); err != nil {
		h.handleWriteError(w, r, data, err)
		return
	}
	h.redirectWithFlash(w, r, "/users", "success", "User updated successfully.")
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := shared.ParseID(chi.URLParam(r, "id"))
	err := h.service.Delete(r.Context(), actorID(rbac.ActorFromContext(r.Context())), id)
	if httpx.WantsJSON(r) {
		switch {
		case err == nil:
			httpx.Succeeded(w, "User deleted successfully.")
		case errors.Is(err, shared.ErrSelfDelete), errors.Is(err, shared.ErrLastAdmin):
			httpx.Failed(w, http.StatusBadRequest, shared.UserSafeMessage(err))
		default:
			if !errors.Is(err, shared.ErrNotFound) {
				h.logger.Error("delete user", slog.Int64("id", id), slog.Any("error", err))
			}
			httpx.RespondError(w, err)
		}
		return
	}
	if err != nil {
		if !errors.Is(err, shared.ErrSelfDelete) && !errors.Is(err, shared.ErrLastAdmin) && !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("delete user", slog.Int64("id", id), slog.Any("error", err))
		}
		h.redirectWithFlash(w, r, "/users", "error", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/users", "success", "User deleted successfully.")
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) (Input, formErrors, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return Input{}, nil, false
	}
	form := Input{
		FirstName:            r.PostFormValue("first_name"),
		LastName:             r.PostFormValue("last_name"),
		Email:                strings.TrimSpace(r.PostFormValue("email")),
		Password:             r.PostFormValue("password"),
		PasswordConfirmation: r.PostFormValue("password_confirmation"),
		EmailVerified:        r.PostFormValue("email_verified") != "",
		Status:               StatusInactive,
	}
	if r.PostFormValue("status") == strconv.Itoa(int(StatusActive)) {
		form.Status = StatusActive
	}
	if id := shared.ParseID(r.PostFormValue("role")); id != 0 {
		form.RoleID = &id
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
		data.Errors = formErrors{"email": "The email has already been taken."}
		h.renderForm(w, r, data, http.StatusConflict)
	case errors.Is(err, shared.ErrLastAdmin):
		data.Errors = formErrors{"role": shared.UserSafeMessage(err)}
		h.renderForm(w, r, data, http.StatusConflict)
	case errors.Is(err, shared.ErrValidation):
		data.Errors = formErrors{"general": shared.UserSafeMessage(err)}
		h.renderForm(w, r, data, http.StatusBadRequest)
	case errors.Is(err, shared.ErrNotFound):
		data.Errors = formErrors{"role": "The selected role is invalid."}
		h.renderForm(w, r, data, http.StatusBadRequest)
	default:
		h.logger.Error("save user", slog.Any("error", err))
		data.Errors = formErrors{"general": shared.UserSafeMessage(err)}
		h.renderForm(w, r, data, http.StatusInternalServerError)
	}
}

func (h *Handler) failLoad(w http.ResponseWriter, r *http.Request, id int64, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	h.logger.Error("load user", slog.Int64("id", id), slog.Any("error", err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, data formData, status int) {
	roles, err := h.service.Roles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
	}
	data.Roles = roles
	if data.Errors == nil {
		data.Errors = formErrors{}
	}
	h.render(w, r, "pages/users/form.html", data, status)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Users",
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
