package auth

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-admin/sentinel/internal/shared"
)

func enableTwoFactor(t *testing.T, svc *Service, userID int64) TwoFactorSetup {
	t.Helper()
	ctx := context.Background()
	setup, err := svc.EnableTwoFactor(ctx, userID)
	require.NoError(t, err)
	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.ConfirmTwoFactor(ctx, userID, code))
	return setup
}

func TestEnableTwoFactorStaysPendingUntilConfirmed(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	acct := repo.add(t, "jane@example.com", "secret123", true)

	setup, err := svc.EnableTwoFactor(ctx, acct.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.URL, "otpauth://totp/")
	assert.Len(t, setup.RecoveryCodes, recoveryCodeCount)
	for _, code := range setup.RecoveryCodes {
		assert.Regexp(t, `^[0-9a-f]{5}-[0-9a-f]{5}$`, code)
	}

	stored := repo.get(acct.ID)
	assert.True(t, stored.TwoFactorPending())
	assert.False(t, stored.TwoFactorEnabled())
	assert.NotContains(t, stored.RecoveryCodes, setup.RecoveryCodes[0])

	assert.ErrorIs(t, svc.ConfirmTwoFactor(ctx, acct.ID, "000000x"), shared.ErrOTPInvalid)

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.ConfirmTwoFactor(ctx, acct.ID, code))
	assert.True(t, repo.get(acct.ID).TwoFactorEnabled())
}

func TestConfirmWithoutPendingSecret(t *testing.T) {
	svc, repo, _ := newTestService(t)
	acct := repo.add(t, "jane@example.com", "secret123", true)

	assert.ErrorIs(t, svc.ConfirmTwoFactor(context.Background(), acct.ID, "123456"), ErrTwoFactorNotPending)
}

func TestChallengeTwoFactor(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	acct := repo.add(t, "jane@example.com", "secret123", true)
	setup := enableTwoFactor(t, svc, acct.ID)

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	got, err := svc.ChallengeTwoFactor(ctx, acct.ID, code, "")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)

	_, err = svc.ChallengeTwoFactor(ctx, acct.ID, "", "bogus-codes")
	assert.ErrorIs(t, err, shared.ErrOTPInvalid)

	recovery := setup.RecoveryCodes[3]
	got, err = svc.ChallengeTwoFactor(ctx, acct.ID, "", recovery)
	require.NoError(t, err)
	assert.Len(t, got.RecoveryCodes, recoveryCodeCount-1)
	assert.Len(t, repo.get(acct.ID).RecoveryCodes, recoveryCodeCount-1)

	_, err = svc.ChallengeTwoFactor(ctx, acct.ID, "", recovery)
	assert.ErrorIs(t, err, shared.ErrOTPInvalid, "recovery codes are single use")
}

func TestChallengeRequiresEnabledTwoFactor(t *testing.T) {
	svc, repo, _ := newTestService(t)
	acct := repo.add(t, "jane@example.com", "secret123", true)

	_, err := svc.ChallengeTwoFactor(context.Background(), acct.ID, "123456", "")
	assert.ErrorIs(t, err, ErrTwoFactorDisabled)
}

func TestDisableTwoFactor(t *testing.T) {
	svc, repo, _ := newTestService(t)
	acct := repo.add(t, "jane@example.com", "secret123", true)
	enableTwoFactor(t, svc, acct.ID)

	require.NoError(t, svc.DisableTwoFactor(context.Background(), acct.ID))
	stored := repo.get(acct.ID)
	assert.False(t, stored.TwoFactorEnabled())
	assert.False(t, stored.TwoFactorPending())
	assert.Empty(t, stored.RecoveryCodes)
}
