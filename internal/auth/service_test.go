package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinel-admin/sentinel/internal/shared"
)

func newTestService(t *testing.T) (*Service, *memRepo, *fakeMailer) {
	t.Helper()
	repo := newMemRepo()
	mailer := &fakeMailer{}
	return NewService(repo, mailer, nil, Options{AppName: "Sentinel"}), repo, mailer
}

func TestAuthenticate(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	acct := repo.add(t, "jane@example.com", "secret123", true)

	got, err := svc.Authenticate(ctx, "  JANE@example.com ", "secret123")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)

	_, err = svc.Authenticate(ctx, "jane@example.com", "wrong")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	repo.update(acct.ID, func(a *Account) { a.Active = false })
	_, err = svc.Authenticate(ctx, "jane@example.com", "secret123")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestChangePasswordRequiresCurrent(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	acct := repo.add(t, "jane@example.com", "secret123", true)

	err := svc.ChangePassword(ctx, acct.ID, PasswordInput{CurrentPassword: "nope", NewPassword: "another123"})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	require.NoError(t, svc.ChangePassword(ctx, acct.ID, PasswordInput{CurrentPassword: "secret123", NewPassword: "another123"}))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.get(acct.ID).PasswordHash), []byte("another123")))
}

func TestUpdateProfileEmailChangeResetsVerification(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	acct := repo.add(t, "jane@example.com", "secret123", true)
	repo.add(t, "taken@example.com", "secret123", true)

	updated, err := svc.UpdateProfile(ctx, acct.ID, ProfileInput{FirstName: " Jane ", LastName: "Doe", Email: "jane@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Jane", updated.FirstName)
	assert.True(t, repo.get(acct.ID).Verified())

	updated, err = svc.UpdateProfile(ctx, acct.ID, ProfileInput{FirstName: "Jane", LastName: "Doe", Email: "Jane.Doe@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "jane.doe@example.com", updated.Email)
	assert.False(t, updated.Verified())
	assert.False(t, repo.get(acct.ID).Verified())

	_, err = svc.UpdateProfile(ctx, acct.ID, ProfileInput{FirstName: "Jane", LastName: "Doe", Email: "taken@example.com"})
	assert.ErrorIs(t, err, shared.ErrDuplicateName)
}

func TestVerificationFlow(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	ctx := context.Background()
	acct := repo.add(t, "jane@example.com", "secret123", false)

	require.NoError(t, svc.SendVerification(ctx, "jane@example.com"))
	mail := mailer.last(t)
	assert.Equal(t, "jane@example.com", mail.To)
	assert.Equal(t, "Verification OTP", mail.Subject)
	assert.Contains(t, mail.Body, "15 minutes")
	code := codeFrom(t, mail)

	stored := repo.get(acct.ID)
	require.NotNil(t, stored.OTPHash)
	assert.NotEqual(t, code, *stored.OTPHash)

	require.NoError(t, svc.VerifyEmail(ctx, "jane@example.com", code))
	stored = repo.get(acct.ID)
	assert.True(t, stored.Verified())
	assert.Nil(t, stored.OTPHash)
	assert.Equal(t, "Welcome to Sentinel", mailer.last(t).Subject)
}

func TestVerifyOTPFailures(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	acct := repo.add(t, "jane@example.com", "secret123", false)

	assert.ErrorIs(t, svc.VerifyOTP(ctx, repo.get(acct.ID), "1234"), shared.ErrOTPMissing)

	storeOTP(t, repo, acct.ID, "1234", now.Add(time.Minute))
	assert.ErrorIs(t, svc.VerifyOTP(ctx, repo.get(acct.ID), "4321"), shared.ErrOTPInvalid)
	require.NotNil(t, repo.get(acct.ID).OTPHash, "a wrong code keeps the pending one")

	storeOTP(t, repo, acct.ID, "1234", now.Add(-time.Second))
	assert.ErrorIs(t, svc.VerifyOTP(ctx, repo.get(acct.ID), "1234"), shared.ErrOTPExpired)

	storeOTP(t, repo, acct.ID, "1234", now.Add(time.Minute))
	require.NoError(t, svc.VerifyOTP(ctx, repo.get(acct.ID), "1234"))
	assert.ErrorIs(t, svc.VerifyOTP(ctx, repo.get(acct.ID), "1234"), shared.ErrOTPMissing)
}

func TestPasswordResetRequiresVerifiedEmail(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	ctx := context.Background()
	repo.add(t, "new@example.com", "secret123", false)

	err := svc.RequestPasswordReset(ctx, "new@example.com")
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Empty(t, mailer.sent)

	assert.ErrorIs(t, svc.RequestPasswordReset(ctx, "ghost@example.com"), shared.ErrNotFound)
}

func TestResetPassword(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	ctx := context.Background()
	acct := repo.add(t, "jane@example.com", "secret123", true)

	require.NoError(t, svc.RequestPasswordReset(ctx, "jane@example.com"))
	mail := mailer.last(t)
	assert.Equal(t, "Password-reset OTP", mail.Subject)
	code := codeFrom(t, mail)

	require.NoError(t, svc.ResetPassword(ctx, "jane@example.com", code, "brandnew123"))
	stored := repo.get(acct.ID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("brandnew123")))
	assert.Nil(t, stored.OTPHash)

	assert.ErrorIs(t, svc.ResetPassword(ctx, "jane@example.com", code, "again12345"), shared.ErrOTPMissing)
}

func TestIssueOTPWithoutMailerStillStoresCode(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil, Options{})
	acct := repo.add(t, "jane@example.com", "secret123", false)

	require.NoError(t, svc.IssueOTP(context.Background(), acct, OTPVerification))
	assert.NotNil(t, repo.get(acct.ID).OTPHash)
}

func TestPurgeExpiredOTP(t *testing.T) {
	svc, repo, _ := newTestService(t)
	now := time.Now()
	expired := repo.add(t, "old@example.com", "secret123", false)
	fresh := repo.add(t, "fresh@example.com", "secret123", false)
	storeOTP(t, repo, expired.ID, "1111", now.Add(-time.Minute))
	storeOTP(t, repo, fresh.ID, "2222", now.Add(time.Hour))

	n, err := svc.PurgeExpiredOTP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Nil(t, repo.get(expired.ID).OTPHash)
	assert.NotNil(t, repo.get(fresh.ID).OTPHash)
}

func TestGenerateCodeIsFourDigits(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode(otpDigits)
		require.NoError(t, err)
		assert.Regexp(t, `^\d{4}$`, code)
	}
}
