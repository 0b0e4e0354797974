package auth

import "time"

// OTPType distinguishes what a one-time code was issued for.
type OTPType string

const (
	// OTPVerification confirms ownership of the account email.
	OTPVerification OTPType = "verification"
	// OTPPasswordReset authorises a password reset.
	OTPPasswordReset OTPType = "password-reset"
)

// RequiresVerifiedEmail reports whether the code may only be issued to
// verified addresses.
func (t OTPType) RequiresVerifiedEmail() bool {
	return t == OTPPasswordReset
}

// SentMessage is the flash shown once a code has been mailed.
func (t OTPType) SentMessage() string {
	if t == OTPPasswordReset {
		return "Password reset code has been sent to your email."
	}
	return "Verification code has been sent to your email."
}

// Account is the credential view of a user.
type Account struct {
	ID                   int64
	FirstName            string
	LastName             string
	Email                string
	PasswordHash         string
	Active               bool
	EmailVerifiedAt      *time.Time
	OTPHash              *string
	OTPExpiresAt         *time.Time
	TwoFactorSecret      *string
	RecoveryCodes        []string
	TwoFactorConfirmedAt *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// FullName joins first and last name.
func (a Account) FullName() string {
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

// Verified reports whether the email address was confirmed.
func (a Account) Verified() bool {
	return a.EmailVerifiedAt != nil
}

// TwoFactorEnabled reports whether a confirmed TOTP secret is on file.
func (a Account) TwoFactorEnabled() bool {
	return a.TwoFactorSecret != nil && a.TwoFactorConfirmedAt != nil
}

// TwoFactorPending reports whether a secret was generated but not confirmed.
func (a Account) TwoFactorPending() bool {
	return a.TwoFactorSecret != nil && a.TwoFactorConfirmedAt == nil
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type emailForm struct {
	Email string `validate:"required,email"`
}

type codeForm struct {
	Email string `validate:"required,email"`
	Code  string `validate:"required,len=4,numeric"`
}

type resetForm struct {
	Email                string `validate:"required,email"`
	Code                 string `validate:"required,len=4,numeric"`
	Password             string `validate:"required,min=8"`
	PasswordConfirmation string `validate:"eqfield=Password"`
}

// ProfileInput carries the editable profile fields.
type ProfileInput struct {
	FirstName string `validate:"required,max=255"`
	LastName  string `validate:"required,max=255"`
	Email     string `validate:"required,email,max=255"`
}

// PasswordInput carries a password change request.
type PasswordInput struct {
	CurrentPassword         string `validate:"required"`
	NewPassword             string `validate:"required,min=8"`
	NewPasswordConfirmation string `validate:"eqfield=NewPassword"`
}
