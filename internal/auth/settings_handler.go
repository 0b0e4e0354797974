package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/sentinel-admin/sentinel/internal/rbac"
	"github.com/sentinel-admin/sentinel/internal/shared"
	"github.com/sentinel-admin/sentinel/internal/view"
)

// AppearanceKey is the session value holding the selected theme.
const AppearanceKey = "appearance"

var appearances = []string{"light", "dark", "system"}

// AccountDeleter removes a user together with their assignments.
type AccountDeleter interface {
	DeleteAccount(ctx context.Context, id int64) error
}

// SettingsHandler serves the self-service account settings.
type SettingsHandler struct {
	logger         *slog.Logger
	service        *Service
	accounts       AccountDeleter
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	gate           *rbac.Gate
	validator      *validator.Validate
	strictLimit    func(http.Handler) http.Handler
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(logger *slog.Logger, service *Service, accounts AccountDeleter, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, gate *rbac.Gate) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{
		logger:         logger,
		service:        service,
		accounts:       accounts,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		gate:           gate,
		validator:      validator.New(),
		strictLimit:    httprate.LimitByIP(6, time.Minute),
	}
}

// MountRoutes registers settings routes.
func (h *SettingsHandler) MountRoutes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/settings/profile", http.StatusSeeOther)
	})
	r.With(h.gate.RequirePermission(shared.PermProfileEdit)).Get("/profile", h.showProfile)
	r.With(h.gate.RequirePermission(shared.PermProfileUpdate)).Post("/profile", h.updateProfile)
	r.With(h.gate.RequirePermission(shared.PermProfileDestroy)).Post("/profile/delete", h.deleteAccount)

	r.With(h.gate.RequirePermission(shared.PermPasswordEdit)).Get("/password", h.showPassword)
	r.With(h.gate.RequirePermission(shared.PermPasswordUpdate), h.strictLimit).Post("/password", h.updatePassword)

	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermAppearanceEdit))
		r.Get("/appearance", h.showAppearance)
		r.Post("/appearance", h.updateAppearance)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequirePermission(shared.PermTwoFactorShow))
		r.Get("/two-factor", h.showTwoFactor)
		r.Post("/two-factor/enable", h.enableTwoFactor)
		r.With(h.strictLimit).Post("/two-factor/confirm", h.confirmTwoFactor)
		r.Post("/two-factor/disable", h.disableTwoFactor)
	})
}

type profilePageData struct {
	Form     ProfileInput
	Verified bool
	Errors   formErrors
}

func (h *SettingsHandler) showProfile(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.currentAccount(w, r)
	if !ok {
		return
	}
	h.render(w, r, "pages/settings/profile.html", "Profile settings", profilePageData{
		Form:     ProfileInput{FirstName: acct.FirstName, LastName: acct.LastName, Email: acct.Email},
		Verified: acct.Verified(),
		Errors:   formErrors{},
	}, http.StatusOK)
}

func (h *SettingsHandler) updateProfile(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.currentAccount(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := ProfileInput{
		FirstName: r.PostFormValue("first_name"),
		LastName:  r.PostFormValue("last_name"),
		Email:     strings.TrimSpace(r.PostFormValue("email")),
	}
	data := profilePageData{Form: form, Verified: acct.Verified(), Errors: formErrors{}}
	if err := h.validator.Struct(form); err != nil {
		data.Errors = shared.FieldErrors(err)
		h.render(w, r, "pages/settings/profile.html", "Profile settings", data, http.StatusBadRequest)
		return
	}
	updated, err := h.service.UpdateProfile(r.Context(), acct.ID, form)
	if err != nil {
		if errors.Is(err, shared.ErrDuplicateName) {
			data.Errors["email"] = "The email has already been taken."
			h.render(w, r, "pages/settings/profile.html", "Profile settings", data, http.StatusConflict)
			return
		}
		h.logger.Error("update profile", slog.Int64("user_id", acct.ID), slog.Any("error", err))
		data.Errors["general"] = shared.UserSafeMessage(err)
		h.render(w, r, "pages/settings/profile.html", "Profile settings", data, http.StatusInternalServerError)
		return
	}
	message := "Profile updated."
	if !updated.Verified() && acct.Verified() {
		if err := h.service.IssueOTP(r.Context(), updated, OTPVerification); err != nil {
			h.logger.Warn("issue verification code", slog.Int64("user_id", acct.ID), slog.Any("error", err))
		}
		message = "Profile updated. A verification code was sent to your new email address."
	}
	h.redirectWithFlash(w, r, "/settings/profile", "success", message)
}

func (h *SettingsHandler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.currentAccount(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := h.service.ConfirmPassword(r.Context(), acct.ID, r.PostFormValue("password")); err != nil {
		h.redirectWithFlash(w, r, "/settings/profile", "error", "The password is incorrect.")
		return
	}
	if err := h.accounts.DeleteAccount(r.Context(), acct.ID); err != nil {
		if !errors.Is(err, shared.ErrLastAdmin) {
			h.logger.Error("delete account", slog.Int64("user_id", acct.ID), slog.Any("error", err))
		}
		h.redirectWithFlash(w, r, "/settings/profile", "error", shared.UserSafeMessage(err))
		return
	}
	sess := shared.SessionFromContext(r.Context())
	h.sessionManager.Destroy(sess)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type passwordPageData struct {
	Errors formErrors
}

func (h *SettingsHandler) showPassword(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/settings/password.html", "Password settings", passwordPageData{Errors: formErrors{}}, http.StatusOK)
}

func (h *SettingsHandler) updatePassword(w http.ResponseWriter, r *http.Request) {
	actor := rbac.ActorFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := PasswordInput{
		CurrentPassword:         r.PostFormValue("current_password"),
		NewPassword:             r.PostFormValue("new_password"),
		NewPasswordConfirmation: r.PostFormValue("new_password_confirmation"),
	}
	data := passwordPageData{Errors: formErrors{}}
	if err := h.validator.Struct(form); err != nil {
		data.Errors = shared.FieldErrors(err)
		h.render(w, r, "pages/settings/password.html", "Password settings", data, http.StatusBadRequest)
		return
	}
	if err := h.service.ChangePassword(r.Context(), actor.UserID, form); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, shared.ErrInvalidCredentials) {
			data.Errors["current_password"] = "The current password is incorrect."
		} else {
			h.logger.Error("change password", slog.Int64("user_id", actor.UserID), slog.Any("error", err))
			data.Errors["general"] = shared.UserSafeMessage(err)
			status = http.StatusInternalServerError
		}
		h.render(w, r, "pages/settings/password.html", "Password settings", data, status)
		return
	}
	h.redirectWithFlash(w, r, "/settings/password", "success", "Password updated.")
}

func (h *SettingsHandler) showAppearance(w http.ResponseWriter, r *http.Request) {
	current := "system"
	if sess := shared.SessionFromContext(r.Context()); sess != nil && sess.Get(AppearanceKey) != "" {
		current = sess.Get(AppearanceKey)
	}
	h.render(w, r, "pages/settings/appearance.html", "Appearance settings", map[string]any{
		"Current": current,
		"Options": appearances,
	}, http.StatusOK)
}

func (h *SettingsHandler) updateAppearance(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	choice := r.PostFormValue("appearance")
	valid := false
	for _, option := range appearances {
		valid = valid || option == choice
	}
	if !valid {
		h.redirectWithFlash(w, r, "/settings/appearance", "error", "The selected appearance is invalid.")
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.Set(AppearanceKey, choice)
	}
	h.redirectWithFlash(w, r, "/settings/appearance", "success", "Appearance updated.")
}

type twoFactorPageData struct {
	Enabled bool
	Pending bool
	Setup   *TwoFactorSetup
	Errors  formErrors
}

func (h *SettingsHandler) showTwoFactor(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.currentAccount(w, r)
	if !ok {
		return
	}
	h.render(w, r, "pages/settings/two_factor.html", "Two-factor authentication", twoFactorPageData{
		Enabled: acct.TwoFactorEnabled(),
		Pending: acct.TwoFactorPending(),
		Errors:  formErrors{},
	}, http.StatusOK)
}

func (h *SettingsHandler) enableTwoFactor(w http.ResponseWriter, r *http.Request) {
	actor := rbac.ActorFromContext(r.Context())
	setup, err := h.service.EnableTwoFactor(r.Context(), actor.UserID)
	if err != nil {
		h.logger.Error("enable two-factor", slog.Int64("user_id", actor.UserID), slog.Any("error", err))
		h.redirectWithFlash(w, r, "/settings/two-factor", "error", shared.UserSafeMessage(err))
		return
	}
	h.render(w, r, "pages/settings/two_factor.html", "Two-factor authentication", twoFactorPageData{
		Pending: true,
		Setup:   &setup,
		Errors:  formErrors{},
	}, http.StatusOK)
}

func (h *SettingsHandler) confirmTwoFactor(w http.ResponseWriter, r *http.Request) {
	actor := rbac.ActorFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	err := h.service.ConfirmTwoFactor(r.Context(), actor.UserID, r.PostFormValue("code"))
	switch {
	case err == nil:
		h.redirectWithFlash(w, r, "/settings/two-factor", "success", "Two-factor authentication enabled.")
	case errors.Is(err, shared.ErrOTPInvalid), errors.Is(err, ErrTwoFactorNotPending):
		h.render(w, r, "pages/settings/two_factor.html", "Two-factor authentication", twoFactorPageData{
			Pending: errors.Is(err, shared.ErrOTPInvalid),
			Errors:  formErrors{"code": "The provided two factor authentication code was invalid."},
		}, http.StatusUnprocessableEntity)
	default:
		h.logger.Error("confirm two-factor", slog.Int64("user_id", actor.UserID), slog.Any("error", err))
		h.redirectWithFlash(w, r, "/settings/two-factor", "error", shared.UserSafeMessage(err))
	}
}

func (h *SettingsHandler) disableTwoFactor(w http.ResponseWriter, r *http.Request) {
	actor := rbac.ActorFromContext(r.Context())
	if err := h.service.DisableTwoFactor(r.Context(), actor.UserID); err != nil {
		h.logger.Error("disable two-factor", slog.Int64("user_id", actor.UserID), slog.Any("error", err))
		h.redirectWithFlash(w, r, "/settings/two-factor", "error", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/settings/two-factor", "success", "Two-factor authentication disabled.")
}

func (h *SettingsHandler) currentAccount(w http.ResponseWriter, r *http.Request) (Account, bool) {
	actor := rbac.ActorFromContext(r.Context())
	if actor.Anonymous() {
		http.Redirect(w, r, rbac.LoginPath, http.StatusSeeOther)
		return Account{}, false
	}
	acct, err := h.service.Account(r.Context(), actor.UserID)
	if err != nil {
		h.logger.Error("load account", slog.Int64("user_id", actor.UserID), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return Account{}, false
	}
	return acct, true
}

func (h *SettingsHandler) render(w http.ResponseWriter, r *http.Request, template, title string, data any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Auth:        viewAuth(r),
		Data:        data,
	}
	if err := h.templates.RenderStatus(w, template, status, viewData); err != nil {
		h.logger.Error("render template", slog.String("template", template), slog.Any("error", err))
	}
}

func (h *SettingsHandler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func viewAuth(r *http.Request) *view.Auth {
	return rbac.ViewAuth(rbac.ActorFromContext(r.Context()))
}
