package auth

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinel-admin/sentinel/internal/shared"
)

type memRepo struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*Account
	sessions map[string]int64
}

func newMemRepo() *memRepo {
	return &memRepo{accounts: map[int64]*Account{}, sessions: map[string]int64{}}
}

func (m *memRepo) add(t *testing.T, email, password string, verified bool) Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	acct := &Account{
		ID:           m.nextID,
		FirstName:    "Test",
		LastName:     "User",
		Email:        email,
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    time.Now(),
	}
	if verified {
		at := time.Now().Add(-time.Hour)
		acct.EmailVerifiedAt = &at
	}
	m.accounts[acct.ID] = acct
	return *acct
}

func (m *memRepo) get(id int64) Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.accounts[id]
}

func (m *memRepo) update(id int64, fn func(*Account)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.accounts[id])
}

func (m *memRepo) FindByEmail(_ context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if strings.EqualFold(a.Email, email) {
			return *a, nil
		}
	}
	return Account{}, shared.ErrNotFound
}

func (m *memRepo) FindByID(_ context.Context, id int64) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, shared.ErrNotFound
	}
	return *a, nil
}

func (m *memRepo) CreateSession(_ context.Context, id string, userID int64, _ time.Time, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = userID
	return nil
}

func (m *memRepo) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memRepo) mutate(id int64, fn func(*Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return shared.ErrNotFound
	}
	fn(a)
	return nil
}

func (m *memRepo) SetOTP(_ context.Context, userID int64, hash *string, expiresAt *time.Time) error {
	return m.mutate(userID, func(a *Account) { a.OTPHash, a.OTPExpiresAt = hash, expiresAt })
}

func (m *memRepo) MarkEmailVerified(_ context.Context, userID int64, at time.Time) error {
	return m.mutate(userID, func(a *Account) {
		a.EmailVerifiedAt = &at
		a.OTPHash, a.OTPExpiresAt = nil, nil
	})
}

func (m *memRepo) UpdatePassword(_ context.Context, userID int64, hash string) error {
	return m.mutate(userID, func(a *Account) { a.PasswordHash = hash })
}

func (m *memRepo) UpdateProfile(_ context.Context, userID int64, in ProfileInput, resetVerification bool) error {
	m.mu.Lock()
	for id, a := range m.accounts {
		if id != userID && strings.EqualFold(a.Email, in.Email) {
			m.mu.Unlock()
			return shared.ErrDuplicateName
		}
	}
	m.mu.Unlock()
	return m.mutate(userID, func(a *Account) {
		a.FirstName, a.LastName, a.Email = in.FirstName, in.LastName, in.Email
		if resetVerification {
			a.EmailVerifiedAt = nil
		}
	})
}

func (m *memRepo) SetTwoFactor(_ context.Context, userID int64, secret *string, codes []string, confirmedAt *time.Time) error {
	return m.mutate(userID, func(a *Account) {
		a.TwoFactorSecret, a.RecoveryCodes, a.TwoFactorConfirmedAt = secret, codes, confirmedAt
	})
}

func (m *memRepo) PurgeExpiredOTP(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.accounts {
		if a.OTPHash != nil && a.OTPExpiresAt != nil && a.OTPExpiresAt.Before(now) {
			a.OTPHash, a.OTPExpiresAt = nil, nil
			n++
		}
	}
	return n, nil
}

type sentMail struct {
	To, Subject, Body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (f *fakeMailer) SendMail(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (f *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no mail sent")
	return f.sent[len(f.sent)-1]
}

var mailCode = regexp.MustCompile(`>(\d{4})</p>`)

// codeFrom extracts the one-time code from a rendered OTP mail.
func codeFrom(t *testing.T, mail sentMail) string {
	t.Helper()
	match := mailCode.FindStringSubmatch(mail.Body)
	require.Len(t, match, 2, "no code in mail body")
	return match[1]
}

// storeOTP plants a known code for userID.
func storeOTP(t *testing.T, repo *memRepo, userID int64, code string, expiresAt time.Time) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	require.NoError(t, err)
	hashed := string(hash)
	repo.update(userID, func(a *Account) { a.OTPHash, a.OTPExpiresAt = &hashed, &expiresAt })
}
