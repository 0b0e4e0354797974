package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinel-admin/sentinel/internal/shared"
)

const recoveryCodeCount = 8

var (
	// ErrTwoFactorNotPending is returned when confirming without a generated secret.
	ErrTwoFactorNotPending = errors.New("two-factor authentication is not being set up")
	// ErrTwoFactorDisabled is returned when a challenge targets an account without two-factor.
	ErrTwoFactorDisabled = errors.New("two-factor authentication is not enabled")
)

// TwoFactorSetup is handed to the user once when two-factor is enabled.
type TwoFactorSetup struct {
	Secret        string
	URL           string
	RecoveryCodes []string
}

// EnableTwoFactor generates a TOTP secret and recovery codes for userID. The
// secret stays unconfirmed until ConfirmTwoFactor accepts a code from it.
func (s *Service) EnableTwoFactor(ctx context.Context, userID int64) (TwoFactorSetup, error) {
	acct, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.opts.TOTPIssuer,
		AccountName: acct.Email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return TwoFactorSetup{}, fmt.Errorf("generate totp key: %w", err)
	}
	codes, hashes, err := newRecoveryCodes(recoveryCodeCount)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	secret := key.Secret()
	if err := s.repo.SetTwoFactor(ctx, userID, &secret, hashes, nil); err != nil {
		return TwoFactorSetup{}, fmt.Errorf("store two-factor secret %d: %w", userID, err)
	}
	return TwoFactorSetup{Secret: secret, URL: key.URL(), RecoveryCodes: codes}, nil
}

// ConfirmTwoFactor activates a pending secret once code validates against it.
func (s *Service) ConfirmTwoFactor(ctx context.Context, userID int64, code string) error {
	acct, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !acct.TwoFactorPending() {
		return ErrTwoFactorNotPending
	}
	if !totp.Validate(strings.TrimSpace(code), *acct.TwoFactorSecret) {
		return shared.ErrOTPInvalid
	}
	now := s.now().UTC()
	return s.repo.SetTwoFactor(ctx, userID, acct.TwoFactorSecret, acct.RecoveryCodes, &now)
}

// DisableTwoFactor removes the secret and recovery codes.
func (s *Service) DisableTwoFactor(ctx context.Context, userID int64) error {
	return s.repo.SetTwoFactor(ctx, userID, nil, nil, nil)
}

// ChallengeTwoFactor accepts either a current TOTP code or an unused recovery
// code. A recovery code is consumed on use.
func (s *Service) ChallengeTwoFactor(ctx context.Context, userID int64, code, recoveryCode string) (Account, error) {
	acct, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	if !acct.TwoFactorEnabled() {
		return Account{}, ErrTwoFactorDisabled
	}
	if code = strings.TrimSpace(code); code != "" {
		if !totp.Validate(code, *acct.TwoFactorSecret) {
			return Account{}, shared.ErrOTPInvalid
		}
		return acct, nil
	}
	recoveryCode = strings.TrimSpace(recoveryCode)
	for i, hash := range acct.RecoveryCodes {
		if recoveryCode == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(recoveryCode)) != nil {
			continue
		}
		remaining := append(append([]string{}, acct.RecoveryCodes[:i]...), acct.RecoveryCodes[i+1:]...)
		if err := s.repo.SetTwoFactor(ctx, userID, acct.TwoFactorSecret, remaining, acct.TwoFactorConfirmedAt); err != nil {
			return Account{}, fmt.Errorf("consume recovery code %d: %w", userID, err)
		}
		acct.RecoveryCodes = remaining
		return acct, nil
	}
	return Account{}, shared.ErrOTPInvalid
}

func newRecoveryCodes(n int) (codes, hashes []string, err error) {
	for i := 0; i < n; i++ {
		buf := make([]byte, 5)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, fmt.Errorf("generate recovery code: %w", err)
		}
		raw := hex.EncodeToString(buf)
		code := raw[:5] + "-" + raw[5:]
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, nil, fmt.Errorf("hash recovery code: %w", err)
		}
		codes = append(codes, code)
		hashes = append(hashes, string(hash))
	}
	return codes, hashes, nil
}
