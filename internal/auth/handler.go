package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/sentinel-admin/sentinel/internal/shared"
	"github.com/sentinel-admin/sentinel/internal/view"
)

// HomePath is where users land after signing in.
const HomePath = "/dashboard"

const pendingTwoFactorKey = "two_factor_user"

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
	strictLimit    func(http.Handler) http.Handler
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
		strictLimit:    httprate.LimitByIP(6, time.Minute),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.With(h.strictLimit).Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Get("/two-factor-challenge", h.showTwoFactorChallenge)
	r.With(h.strictLimit).Post("/two-factor-challenge", h.handleTwoFactorChallenge)

	r.Get("/verify-email", h.showVerifyEmail)
	r.With(h.strictLimit).Post("/verify-email", h.handleVerifyEmail)
	r.With(h.strictLimit).Post("/verify-email/resend", h.handleResendVerification)

	r.Get("/forgot-password", h.showForgotPassword)
	r.With(h.strictLimit).Post("/forgot-password", h.handleForgotPassword)
	r.Get("/reset-password", h.showResetPassword)
	r.With(h.strictLimit).Post("/reset-password", h.handleResetPassword)
}

type formErrors map[string]string

type loginPageData struct {
	Form   loginForm
	Errors formErrors
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil && sess.User() != "" {
		http.Redirect(w, r, HomePath, http.StatusSeeOther)
		return
	}
	h.render(w, r, "pages/auth/login.html", "Log in", loginPageData{Errors: formErrors{}}, http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	errs := formErrors{}
	if err := h.validator.Struct(form); err != nil {
		errs = shared.FieldErrors(err)
	}
	if len(errs) == 0 {
		acct, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
		if err == nil {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil {
				h.logger.Error("session missing during login")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if acct.TwoFactorEnabled() {
				h.sessionManager.Renew(sess)
				sess.Set(pendingTwoFactorKey, shared.FormatID(acct.ID))
				http.Redirect(w, r, "/auth/two-factor-challenge", http.StatusSeeOther)
				return
			}
			h.completeLogin(w, r, sess, acct)
			return
		}
		errs["general"] = "These credentials do not match our records."
	}
	form.Password = ""
	h.render(w, r, "pages/auth/login.html", "Log in", loginPageData{Form: form, Errors: errs}, http.StatusBadRequest)
}

// completeLogin binds acct to a fresh session id and records it.
func (h *Handler) completeLogin(w http.ResponseWriter, r *http.Request, sess *shared.Session, acct Account) {
	h.sessionManager.Renew(sess)
	sess.Delete(pendingTwoFactorKey)
	sess.Delete(shared.CSRFSessionKey)
	sess.SetUser(shared.FormatID(acct.ID))
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, acct.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	if !acct.Verified() {
		sess.AddFlash(shared.FlashMessage{Kind: "warning", Message: "Your email address is not verified yet."})
	} else {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back, " + acct.FirstName + "."})
	}
	http.Redirect(w, r, HomePath, http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type challengePageData struct {
	Recovery bool
	Errors   formErrors
}

func (h *Handler) pendingUser(r *http.Request) int64 {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0
	}
	return shared.ParseID(sess.Get(pendingTwoFactorKey))
}

func (h *Handler) showTwoFactorChallenge(w http.ResponseWriter, r *http.Request) {
	if h.pendingUser(r) == 0 {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	data := challengePageData{Recovery: r.URL.Query().Get("recovery") == "1", Errors: formErrors{}}
	h.render(w, r, "pages/auth/two_factor_challenge.html", "Two-factor authentication", data, http.StatusOK)
}

func (h *Handler) handleTwoFactorChallenge(w http.ResponseWriter, r *http.Request) {
	userID := h.pendingUser(r)
	if userID == 0 {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	code := r.PostFormValue("code")
	recovery := r.PostFormValue("recovery_code")
	data := challengePageData{Recovery: code == "" && recovery != "", Errors: formErrors{}}
	if code == "" && recovery == "" {
		data.Errors["code"] = "The code field is required."
		h.render(w, r, "pages/auth/two_factor_challenge.html", "Two-factor authentication", data, http.StatusBadRequest)
		return
	}
	acct, err := h.service.ChallengeTwoFactor(r.Context(), userID, code, recovery)
	if err != nil {
		if !errors.Is(err, shared.ErrOTPInvalid) {
			h.logger.Warn("two-factor challenge", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		field := "code"
		if data.Recovery {
			field = "recovery_code"
		}
		data.Errors[field] = "The provided two factor authentication code was invalid."
		h.render(w, r, "pages/auth/two_factor_challenge.html", "Two-factor authentication", data, http.StatusUnprocessableEntity)
		return
	}
	h.completeLogin(w, r, shared.SessionFromContext(r.Context()), acct)
}

type otpPageData struct {
	Email  string
	Errors formErrors
}

func (h *Handler) showVerifyEmail(w http.ResponseWriter, r *http.Request) {
	data := otpPageData{Email: r.URL.Query().Get("email"), Errors: formErrors{}}
	h.render(w, r, "pages/auth/verify_email.html", "Verify email", data, http.StatusOK)
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := codeForm{Email: strings.TrimSpace(r.PostFormValue("email")), Code: strings.TrimSpace(r.PostFormValue("code"))}
	data := otpPageData{Email: form.Email, Errors: formErrors{}}
	if err := h.validator.Struct(form); err != nil {
		data.Errors = shared.FieldErrors(err)
		h.render(w, r, "pages/auth/verify_email.html", "Verify email", data, http.StatusBadRequest)
		return
	}
	if err := h.service.VerifyEmail(r.Context(), form.Email, form.Code); err != nil {
		data.Errors["code"] = h.otpMessage(err, "verification code")
		h.render(w, r, "pages/auth/verify_email.html", "Verify email", data, http.StatusUnprocessableEntity)
		return
	}
	target := "/auth/login"
	if sess := shared.SessionFromContext(r.Context()); sess != nil && sess.User() != "" {
		target = HomePath + "?verified=1"
	}
	h.redirectWithFlash(w, r, target, "success", "Your email address has been verified.")
}

func (h *Handler) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := emailForm{Email: strings.TrimSpace(r.PostFormValue("email"))}
	data := otpPageData{Email: form.Email, Errors: formErrors{}}
	if err := h.validator.Struct(form); err != nil {
		data.Errors = shared.FieldErrors(err)
		h.render(w, r, "pages/auth/verify_email.html", "Verify email", data, http.StatusBadRequest)
		return
	}
	if err := h.service.SendVerification(r.Context(), form.Email); err != nil && !errors.Is(err, shared.ErrNotFound) {
		h.logger.Error("send verification", slog.Any("error", err))
		data.Errors["general"] = shared.UserSafeMessage(err)
		h.render(w, r, "pages/auth/verify_email.html", "Verify email", data, http.StatusInternalServerError)
		return
	}
	h.redirectWithFlash(w, r, "/auth/verify-email?email="+url.QueryEscape(form.Email), "success", OTPVerification.SentMessage())
}

func (h *Handler) showForgotPassword(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/auth/forgot_password.html", "Forgot password", otpPageData{Errors: formErrors{}}, http.StatusOK)
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := emailForm{Email: strings.TrimSpace(r.PostFormValue("email"))}
	data := otpPageData{Email: form.Email, Errors: formErrors{}}
	if err := h.validator.Struct(form); err != nil {
		data.Errors = shared.FieldErrors(err)
		h.render(w, r, "pages/auth/forgot_password.html", "Forgot password", data, http.StatusBadRequest)
		return
	}
	err := h.service.RequestPasswordReset(r.Context(), form.Email)
	switch {
	case err == nil, errors.Is(err, shared.ErrNotFound):
		// Unknown addresses get the same answer as known ones.
		h.redirectWithFlash(w, r, "/auth/reset-password?email="+url.QueryEscape(form.Email), "success", OTPPasswordReset.SentMessage())
	case errors.Is(err, shared.ErrValidation):
		data.Errors["email"] = "Please verify your email address before resetting your password."
		h.render(w, r, "pages/auth/forgot_password.html", "Forgot password", data, http.StatusUnprocessableEntity)
	default:
		h.logger.Error("request password reset", slog.Any("error", err))
		data.Errors["general"] = shared.UserSafeMessage(err)
		h.render(w, r, "pages/auth/forgot_password.html", "Forgot password", data, http.StatusInternalServerError)
	}
}

func (h *Handler) showResetPassword(w http.ResponseWriter, r *http.Request) {
	data := otpPageData{Email: r.URL.Query().Get("email"), Errors: formErrors{}}
	h.render(w, r, "pages/auth/reset_password.html", "Reset password", data, http.StatusOK)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := resetForm{
		Email:                strings.TrimSpace(r.PostFormValue("email")),
		Code:                 strings.TrimSpace(r.PostFormValue("code")),
		Password:             r.PostFormValue("password"),
		PasswordConfirmation: r.PostFormValue("password_confirmation"),
	}
	data := otpPageData{Email: form.Email, Errors: formErrors{}}
	if err := h.validator.Struct(form); err != nil {
		data.Errors = shared.FieldErrors(err)
		h.render(w, r, "pages/auth/reset_password.html", "Reset password", data, http.StatusBadRequest)
		return
	}
	if err := h.service.ResetPassword(r.Context(), form.Email, form.Code, form.Password); err != nil {
		data.Errors["code"] = h.otpMessage(err, "reset code")
		h.render(w, r, "pages/auth/reset_password.html", "Reset password", data, http.StatusUnprocessableEntity)
		return
	}
	h.redirectWithFlash(w, r, "/auth/login", "success", "Your password has been reset. Please log in.")
}

func (h *Handler) otpMessage(err error, subject string) string {
	switch {
	case errors.Is(err, shared.ErrOTPMissing), errors.Is(err, shared.ErrNotFound):
		return "No " + subject + " found. Please request a new one."
	case errors.Is(err, shared.ErrOTPExpired):
		return "The " + subject + " has expired. Please request a new one."
	case errors.Is(err, shared.ErrOTPInvalid):
		return "The " + subject + " is invalid."
	case errors.Is(err, shared.ErrValidation):
		return shared.UserSafeMessage(err)
	default:
		h.logger.Error("verify otp", slog.Any("error", err))
		return shared.UserSafeMessage(err)
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data any, status int) {
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

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
