//go:build integration

package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-admin/sentinel/internal/auth"
	"github.com/sentinel-admin/sentinel/internal/shared"
	"github.com/sentinel-admin/sentinel/internal/testing/pgtest"
	"github.com/sentinel-admin/sentinel/internal/users"
)

type discardMailer struct {
	sent int
}

func (m *discardMailer) SendMail(context.Context, string, string, string) error {
	m.sent++
	return nil
}

func TestPGRepositoryLoginLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t)
	u, err := users.NewService(users.NewRepository(pool), nil, nil, nil).Create(ctx, users.Input{
		FirstName: "Grace",
		LastName:  "Hopper",
		Email:     "grace@test.local",
		Password:  "password123",
		Status:    users.StatusActive,
	})
	require.NoError(t, err)

	mailer := &discardMailer{}
	svc := auth.NewService(auth.NewRepository(pool), mailer, nil, auth.Options{OTPTTL: time.Millisecond})

	_, err = svc.Authenticate(ctx, "grace@test.local", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	acct, err := svc.Authenticate(ctx, "GRACE@test.local", "password123")
	require.NoError(t, err)
	require.Equal(t, u.ID, acct.ID)

	require.NoError(t, svc.RegisterSession(ctx, "sess-1", acct.ID, time.Now().Add(time.Hour), "", ""))
	require.NoError(t, svc.RemoveSession(ctx, "sess-1"))

	require.NoError(t, svc.IssueOTP(ctx, acct, auth.OTPVerification))
	require.Equal(t, 1, mailer.sent)
	time.Sleep(10 * time.Millisecond)
	purged, err := svc.PurgeExpiredOTP(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)
	acct, err = svc.Account(ctx, acct.ID)
	require.NoError(t, err)
	require.ErrorIs(t, svc.VerifyOTP(ctx, acct, "0000"), shared.ErrOTPMissing)
}

func TestPGRepositoryTwoFactorColumns(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t)
	u, err := users.NewService(users.NewRepository(pool), nil, nil, nil).Create(ctx, users.Input{
		FirstName: "Alan",
		LastName:  "Turing",
		Email:     "alan@test.local",
		Password:  "password123",
		Status:    users.StatusActive,
	})
	require.NoError(t, err)
	svc := auth.NewService(auth.NewRepository(pool), nil, nil, auth.Options{})

	setup, err := svc.EnableTwoFactor(ctx, u.ID)
	require.NoError(t, err)
	acct, err := svc.Account(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, acct.TwoFactorPending())
	require.Len(t, acct.RecoveryCodes, len(setup.RecoveryCodes))

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.ConfirmTwoFactor(ctx, u.ID, code))

	_, err = svc.ChallengeTwoFactor(ctx, u.ID, "", setup.RecoveryCodes[0])
	require.NoError(t, err)
	acct, err = svc.Account(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, acct.TwoFactorEnabled())
	require.Len(t, acct.RecoveryCodes, len(setup.RecoveryCodes)-1)
}
