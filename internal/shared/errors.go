package shared

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName indicates a uniqueness violation on a name or email.
	ErrDuplicateName = errors.New("name already taken")
	// ErrProtectedRole is returned when a reserved role would be deleted or renamed.
	ErrProtectedRole = errors.New("role is protected")
	// ErrForbidden indicates the actor lacks the permission for a guarded operation.
	ErrForbidden = errors.New("forbidden")
	// ErrSessionInvalidated marks a request whose session was terminated by the role gate.
	ErrSessionInvalidated = errors.New("session invalidated")
	// ErrLastAdmin prevents removing the admin role from the only remaining administrator.
	ErrLastAdmin = errors.New("at least one administrator must remain")
	// ErrSelfDelete prevents an actor from deleting their own account.
	ErrSelfDelete = errors.New("cannot delete your own account")
	// ErrValidation wraps input validation failures.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrOTPMissing indicates no one-time code is pending for the user.
	ErrOTPMissing = errors.New("no one-time code issued")
	// ErrOTPExpired indicates the pending one-time code has expired.
	ErrOTPExpired = errors.New("one-time code expired")
	// ErrOTPInvalid indicates the supplied one-time code does not match.
	ErrOTPInvalid = errors.New("one-time code invalid")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// UserSafeMessage converts an error into a message that can be shown in the UI.
// Unknown errors collapse to a generic message so internals never leak.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "The requested record does not exist."
	case errors.Is(err, ErrDuplicateName):
		return "This name is already in use."
	case errors.Is(err, ErrProtectedRole):
		return "Cannot delete core system roles."
	case errors.Is(err, ErrForbidden):
		return "You are not allowed to perform this action."
	case errors.Is(err, ErrLastAdmin):
		return "At least one administrator must remain."
	case errors.Is(err, ErrSelfDelete):
		return "Cannot delete your own account."
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrOTPMissing):
		return "No code has been issued. Please request a new one."
	case errors.Is(err, ErrOTPExpired):
		return "The code has expired. Please request a new one."
	case errors.Is(err, ErrOTPInvalid):
		return "The code is invalid."
	case errors.Is(err, ErrValidation):
		return err.Error()
	default:
		return "Something went wrong. Please try again."
	}
}
