package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"math/big"

	"golang.org/x/crypto/bcrypt"

	"github.com/sentinel-admin/sentinel/internal/shared"
)

// Mailer delivers transactional email, usually through the job queue.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, htmlBody string) error
}

const otpDigits = 4

var otpMail = template.Must(template.New("otp").Parse(`<h2>{{.Title}}</h2>
<p>Hello,</p>
<p>{{.Lead}}</p>
<p style="font-size:32px;font-weight:bold;letter-spacing:8px;color:#2563eb">{{.Code}}</p>
<p>Please use this code to {{.Purpose}}. This code will expire in {{.Minutes}} minutes.</p>
<p style="color:#6b7280;font-size:14px">If you didn't request this code, please ignore this email.</p>
<p>Best regards,<br>{{.AppName}}</p>`))

var welcomeMail = template.Must(template.New("welcome").Parse(`<h2>Welcome to {{.AppName}}, {{.Name}}!</h2>
<p>Your email address has been verified. You can now sign in and use your account.</p>
<p>Best regards,<br>{{.AppName}}</p>`))

// IssueOTP generates a fresh code for acct, stores its hash and mails it.
// Any earlier pending code is replaced.
func (s *Service) IssueOTP(ctx context.Context, acct Account, kind OTPType) error {
	if kind.RequiresVerifiedEmail() && !acct.Verified() {
		return fmt.Errorf("%w: email address is not verified", shared.ErrValidation)
	}
	code, err := generateCode(otpDigits)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash otp: %w", err)
	}
	hashed := string(hash)
	expires := s.now().UTC().Add(s.opts.OTPTTL)
	if err := s.repo.SetOTP(ctx, acct.ID, &hashed, &expires); err != nil {
		return fmt.Errorf("store otp %d: %w", acct.ID, err)
	}
	body, err := s.renderOTPMail(kind, code)
	if err != nil {
		return err
	}
	subject := "Verification OTP"
	if kind == OTPPasswordReset {
		subject = "Password-reset OTP"
	}
	if s.mailer == nil {
		s.logger.Warn("mailer not configured, otp not delivered", slog.Int64("user_id", acct.ID))
		return nil
	}
	if err := s.mailer.SendMail(ctx, acct.Email, subject, body); err != nil {
		return fmt.Errorf("send otp mail: %w", err)
	}
	return nil
}

// VerifyOTP checks code against the pending code of acct. It fails closed:
// a missing code, an expired code and a mismatch each yield their own error.
// A successful check clears the code so it cannot be reused.
func (s *Service) VerifyOTP(ctx context.Context, acct Account, code string) error {
	if acct.OTPHash == nil || acct.OTPExpiresAt == nil {
		return shared.ErrOTPMissing
	}
	if s.now().After(*acct.OTPExpiresAt) {
		return shared.ErrOTPExpired
	}
	if bcrypt.CompareHashAndPassword([]byte(*acct.OTPHash), []byte(code)) != nil {
		return shared.ErrOTPInvalid
	}
	return s.repo.SetOTP(ctx, acct.ID, nil, nil)
}

// SendVerification issues a verification code to email. Already verified
// accounts are left alone.
func (s *Service) SendVerification(ctx context.Context, email string) error {
	acct, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if acct.Verified() {
		return nil
	}
	return s.IssueOTP(ctx, acct, OTPVerification)
}

// VerifyEmail confirms the address of the account registered under email and
// sends a welcome mail.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	acct, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if acct.Verified() {
		return nil
	}
	if err := s.VerifyOTP(ctx, acct, code); err != nil {
		return err
	}
	if err := s.repo.MarkEmailVerified(ctx, acct.ID, s.now()); err != nil {
		return fmt.Errorf("mark verified %d: %w", acct.ID, err)
	}
	s.sendWelcome(ctx, acct)
	return nil
}

// RequestPasswordReset mails a reset code to a verified account.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	acct, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	return s.IssueOTP(ctx, acct, OTPPasswordReset)
}

// ResetPassword sets a new password once the reset code checks out.
func (s *Service) ResetPassword(ctx context.Context, email, code, password string) error {
	acct, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if !acct.Verified() {
		return fmt.Errorf("%w: email address is not verified", shared.ErrValidation)
	}
	if err := s.VerifyOTP(ctx, acct, code); err != nil {
		return err
	}
	return s.setPassword(ctx, acct.ID, password)
}

// PurgeExpiredOTP clears codes that can no longer be used.
func (s *Service) PurgeExpiredOTP(ctx context.Context) (int64, error) {
	return s.repo.PurgeExpiredOTP(ctx, s.now())
}

func (s *Service) renderOTPMail(kind OTPType, code string) (string, error) {
	data := map[string]any{
		"Title":   "Verification OTP",
		"Lead":    "Your email verification OTP code is:",
		"Purpose": "verify your email address",
		"Code":    code,
		"Minutes": int(s.opts.OTPTTL.Minutes()),
		"AppName": s.opts.AppName,
	}
	if kind == OTPPasswordReset {
		data["Title"] = "Password-reset OTP"
		data["Lead"] = "Your password reset OTP code is:"
		data["Purpose"] = "reset your password"
	}
	var buf bytes.Buffer
	if err := otpMail.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render otp mail: %w", err)
	}
	return buf.String(), nil
}

func (s *Service) sendWelcome(ctx context.Context, acct Account) {
	if s.mailer == nil {
		return
	}
	var buf bytes.Buffer
	if err := welcomeMail.Execute(&buf, map[string]string{"AppName": s.opts.AppName, "Name": acct.FirstName}); err != nil {
		s.logger.Warn("render welcome mail", slog.Any("error", err))
		return
	}
	if err := s.mailer.SendMail(ctx, acct.Email, "Welcome to "+s.opts.AppName, buf.String()); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("send welcome mail", slog.Int64("user_id", acct.ID), slog.Any("error", err))
	}
}

func generateCode(digits int) (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < digits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}
