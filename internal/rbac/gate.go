package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sentinel-admin/sentinel/internal/platform/httpx"
	"github.com/sentinel-admin/sentinel/internal/shared"
)

// LoginPath is where unauthenticated and evicted users are sent.
const LoginPath = "/auth/login"

// Resolver builds the AuthContext of a user.
type Resolver interface {
	Resolve(ctx context.Context, userID int64) (*AuthContext, error)
}

// SessionRevoker removes the persisted login record of a session.
type SessionRevoker interface {
	RemoveSession(ctx context.Context, sessionID string) error
}

// DecisionObserver counts authorization outcomes.
type DecisionObserver interface {
	ObserveAuthzDecision(check, outcome string)
}

// Gate answers authorization questions and guards routes.
type Gate struct {
	resolver  Resolver
	sessions  *shared.SessionManager
	revoker   SessionRevoker
	logger    *slog.Logger
	observer  DecisionObserver
	forbidden http.Handler
}

// NewGate constructs a Gate.
func NewGate(resolver Resolver, sessions *shared.SessionManager, revoker SessionRevoker, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		resolver: resolver,
		sessions: sessions,
		revoker:  revoker,
		logger:   logger,
		forbidden: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		}),
	}
}

// WithObserver records every guarded decision on o.
func (g *Gate) WithObserver(o DecisionObserver) *Gate {
	g.observer = o
	return g
}

// WithForbiddenHandler replaces the plain-text 403 answer for HTML requests.
func (g *Gate) WithForbiddenHandler(h http.Handler) *Gate {
	if h != nil {
		g.forbidden = h
	}
	return g
}

type actorContextKey struct{}

// ContextWithActor stores the resolved actor in ctx.
func ContextWithActor(ctx context.Context, actor *AuthContext) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor resolved for the request, or nil.
func ActorFromContext(ctx context.Context) *AuthContext {
	actor, _ := ctx.Value(actorContextKey{}).(*AuthContext)
	return actor
}

// Can reports whether actor holds perm. Anonymous actors hold nothing.
func (g *Gate) Can(actor *AuthContext, perm string) bool {
	if actor.Anonymous() {
		return false
	}
	return actor.Permissions.Has(perm)
}

// Authenticate resolves the session user once per request and stores the
// result on the request context. Requests without a user continue anonymously.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		userID := shared.SessionUserID(r.Context())
		if sess == nil || userID == 0 {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := g.resolver.Resolve(r.Context(), userID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				g.logger.Info("dropping session of unknown or inactive user", slog.Int64("user_id", userID))
				sess.SetUser("")
				next.ServeHTTP(w, r)
				return
			}
			g.logger.Error("resolve actor", slog.Int64("user_id", userID), slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		ctx := ContextWithActor(r.Context(), actor)
		ctx = shared.ContextWithAuditActor(ctx, actor.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth sends anonymous requests to the login page.
func (g *Gate) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ActorFromContext(r.Context()).Anonymous() {
			g.observe("auth", "anonymous")
			g.toLogin(w, r, "Please log in to continue.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission allows the request only when the actor holds perm.
func (g *Gate) RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFromContext(r.Context())
			if actor.Anonymous() {
				g.observe("permission", "anonymous")
				g.toLogin(w, r, "Please log in to continue.")
				return
			}
			if !g.Can(actor, perm) {
				g.observe("permission", "denied")
				g.logger.Warn("permission denied", slog.Int64("user_id", actor.UserID), slog.String("permission", perm), slog.String("path", r.URL.Path))
				if httpx.WantsJSON(r) {
					httpx.RespondError(w, fmt.Errorf("%s: %w", perm, shared.ErrForbidden))
					return
				}
				g.forbidden.ServeHTTP(w, r)
				return
			}
			g.observe("permission", "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole allows the request only when the actor holds role. An
// authenticated user without the role is signed out: the session is replaced,
// its login record removed and the user sent back to the login page.
func (g *Gate) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFromContext(r.Context())
			if actor.Anonymous() {
				g.observe("role", "anonymous")
				g.toLogin(w, r, "Please log in to continue.")
				return
			}
			if actor.HasRole(role) {
				g.observe("role", "allowed")
				next.ServeHTTP(w, r)
				return
			}
			g.observe("role", "evicted")
			g.evict(w, r, actor, role)
		})
	}
}

func (g *Gate) evict(w http.ResponseWriter, r *http.Request, actor *AuthContext, role string) {
	g.logger.Warn("role check failed", slog.Int64("user_id", actor.UserID), slog.String("role", role), slog.Any("error", shared.ErrSessionInvalidated))
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if g.revoker != nil {
			if err := g.revoker.RemoveSession(r.Context(), sess.ID); err != nil {
				g.logger.Error("remove session record", slog.Any("error", err))
			}
		}
		if g.sessions != nil {
			g.sessions.Invalidate(sess)
		}
	}
	message := "Access denied. " + titleWords(role) + " privileges required."
	if httpx.WantsJSON(r) {
		httpx.Problem(w, http.StatusUnauthorized, "Session Invalidated", message)
		return
	}
	g.toLogin(w, r, message)
}

func (g *Gate) toLogin(w http.ResponseWriter, r *http.Request, message string) {
	if httpx.WantsJSON(r) {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "error", Message: message})
	}
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

func (g *Gate) observe(check, outcome string) {
	if g.observer != nil {
		g.observer.ObserveAuthzDecision(check, outcome)
	}
}

// Abilities describes which mutations the actor may perform on a resource.
type Abilities struct {
	View   bool
	Create bool
	Edit   bool
	Delete bool
}

// Abilities derives UI affordances for resource ("users", "roles", ...).
func (g *Gate) Abilities(actor *AuthContext, resource string) Abilities {
	return Abilities{
		View:   g.Can(actor, resource+".view"),
		Create: g.Can(actor, resource+".create"),
		Edit:   g.Can(actor, resource+".edit"),
		Delete: g.Can(actor, resource+".delete"),
	}
}

// RowActions builds the action column of a data-table row under base
// ("/roles") for record id.
func (g *Gate) RowActions(actor *AuthContext, resource, base string, id int64) []shared.RowAction {
	ab := g.Abilities(actor, resource)
	ref := base + "/" + shared.FormatID(id)
	actions := make([]shared.RowAction, 0, 3)
	if ab.View {
		actions = append(actions, shared.RowAction{Type: "view", Label: "View", Route: ref})
	}
	if ab.Edit {
		actions = append(actions, shared.RowAction{Type: "edit", Label: "Edit", Route: ref + "/edit"})
	}
	if ab.Delete {
		actions = append(actions, shared.RowAction{Type: "delete", Label: "Delete", Route: ref + "/delete"})
	}
	return actions
}
