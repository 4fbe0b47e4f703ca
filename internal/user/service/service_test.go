package service

import (
	"context"
	"os"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"trailbook/internal/config"
	"trailbook/internal/logger"
	"trailbook/internal/user/model"
	appErrors "trailbook/pkg/errors"
	"trailbook/pkg/utils"
)

func TestMain(m *testing.M) {
	if err := logger.Init("production"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// mockStore is an in-memory UserStore that mirrors the repository contract,
// including the expiry constraint on reset-token lookups.
type mockStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newMockStore() *mockStore {
	return &mockStore{users: make(map[uuid.UUID]*model.User)}
}

func (m *mockStore) CreateUser(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == user.Email {
			return appErrors.ErrUserAlreadyExists
		}
	}

	user.ID = uuid.New()
	user.Active = true
	user.CreatedAt = time.Now()
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *mockStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == email && u.Active {
			copied := *u
			return &copied, nil
		}
	}
	return nil, appErrors.ErrUserNotFound
}

func (m *mockStore) GetUserByEmailWithPassword(ctx context.Context, email string) (*model.User, error) {
	return m.GetUserByEmail(ctx, email)
}

func (m *mockStore) GetUserByID(_ context.Context, userID uuid.UUID) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[userID]; ok && u.Active {
		copied := *u
		return &copied, nil
	}
	return nil, appErrors.ErrUserNotFound
}

func (m *mockStore) GetUserByIDWithPassword(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	return m.GetUserByID(ctx, userID)
}

func (m *mockStore) GetUserByResetTokenHash(_ context.Context, tokenHash string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Active && u.PasswordResetToken != nil && *u.PasswordResetToken == tokenHash &&
			u.PasswordResetExpires != nil && u.PasswordResetExpires.After(time.Now()) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, appErrors.ErrInvalidToken
}

func (m *mockStore) UpdateUser(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.users[user.ID]
	if !ok || !stored.Active {
		return appErrors.ErrUserNotFound
	}
	stored.Name = user.Name
	stored.Email = user.Email
	stored.Photo = user.Photo
	stored.Role = user.Role
	return nil
}

func (m *mockStore) UpdatePassword(_ context.Context, userID uuid.UUID, passwordHash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.users[userID]
	if !ok || !stored.Active {
		return appErrors.ErrUserNotFound
	}
	stored.PasswordHashed = passwordHash
	stored.PasswordChangedAt = &changedAt
	stored.PasswordResetToken = nil
	stored.PasswordResetExpires = nil
	return nil
}

func (m *mockStore) SetResetToken(_ context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.users[userID]
	if !ok || !stored.Active {
		return appErrors.ErrUserNotFound
	}
	stored.PasswordResetToken = &tokenHash
	stored.PasswordResetExpires = &expiresAt
	return nil
}

func (m *mockStore) ClearResetToken(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, ok := m.users[userID]; ok {
		stored.PasswordResetToken = nil
		stored.PasswordResetExpires = nil
	}
	return nil
}

func (m *mockStore) DeactivateUser(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.users[userID]
	if !ok || !stored.Active {
		return appErrors.ErrUserNotFound
	}
	stored.Active = false
	return nil
}

func (m *mockStore) ListUsers(_ context.Context) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var users []model.User
	for _, u := range m.users {
		if u.Active {
			users = append(users, *u)
		}
	}
	return users, nil
}

func (m *mockStore) DeleteUser(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return appErrors.ErrUserNotFound
	}
	delete(m.users, userID)
	return nil
}

// stored returns the raw stored record, bypassing the copy semantics.
func (m *mockStore) stored(userID uuid.UUID) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID]
}

type mockMailer struct {
	mu           sync.Mutex
	welcomeErr   error
	resetErr     error
	welcomeSent  int
	resetSent    int
	lastResetURL string
}

func (m *mockMailer) SendWelcome(_ context.Context, _ *model.User, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.welcomeErr != nil {
		return m.welcomeErr
	}
	m.welcomeSent++
	return nil
}

func (m *mockMailer) SendPasswordReset(_ context.Context, _ *model.User, resetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resetErr != nil {
		return m.resetErr
	}
	m.resetSent++
	m.lastResetURL = resetURL
	return nil
}

func (m *mockMailer) lastResetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return path.Base(m.lastResetURL)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{PublicBaseURL: "http://localhost:8080"},
		JWT:    config.JWTConfig{Secret: "test-secret", ExpiryDays: 90},
		Auth:   config.AuthConfig{BcryptCost: bcrypt.MinCost},
	}
}

func newTestService() (*UserService, *mockStore, *mockMailer) {
	store := newMockStore()
	mailer := &mockMailer{}
	return NewService(store, mailer, testConfig()), store, mailer
}

func signupRequest() *model.SignupRequest {
	return &model.SignupRequest{
		Name:            "Ann",
		Email:           "ann@x.com",
		Password:        "pw123456",
		ConfirmPassword: "pw123456",
	}
}

func TestSignUp(t *testing.T) {
	svc, store, _ := newTestService()

	resp, err := svc.SignUp(context.Background(), signupRequest())
	require.NoError(t, err)
	require.NotNil(t, resp.User)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "ann@x.com", resp.User.Email)
	assert.Equal(t, model.RoleUser, resp.User.Role)

	// The persisted hash must verify and never equal the cleartext.
	stored := store.stored(resp.User.ID)
	require.NotNil(t, stored)
	assert.NotEqual(t, "pw123456", stored.PasswordHashed)
	assert.True(t, utils.CheckPassword(stored.PasswordHashed, "pw123456"))

	// The returned token must carry the new user's id.
	claims, err := utils.ValidateToken(resp.Token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)
}

func TestSignUp_RoleElevationIgnored(t *testing.T) {
	svc, store, _ := newTestService()

	request := signupRequest()
	request.Role = "admin"

	resp, err := svc.SignUp(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, resp.User.Role)
	assert.Equal(t, model.RoleUser, store.stored(resp.User.ID).Role)
}

func TestSignUp_ValidationErrors(t *testing.T) {
	svc, _, _ := newTestService()

	tests := []struct {
		name   string
		mutate func(*model.SignupRequest)
	}{
		{"password mismatch", func(r *model.SignupRequest) { r.ConfirmPassword = "different1" }},
		{"malformed email", func(r *model.SignupRequest) { r.Email = "not-an-email" }},
		{"short password", func(r *model.SignupRequest) { r.Password = "short"; r.ConfirmPassword = "short" }},
		{"missing name", func(r *model.SignupRequest) { r.Name = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := signupRequest()
			tt.mutate(request)

			_, err := svc.SignUp(context.Background(), request)
			require.Error(t, err)

			var appErr *appErrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
		})
	}
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.SignUp(context.Background(), signupRequest())
	require.NoError(t, err)

	_, err = svc.SignUp(context.Background(), signupRequest())
	assert.ErrorIs(t, err, appErrors.ErrUserAlreadyExists)
}

func TestSignUp_WelcomeMailFailureDoesNotFailSignup(t *testing.T) {
	store := newMockStore()
	mailer := &mockMailer{welcomeErr: assert.AnError}
	svc := NewService(store, mailer, testConfig())

	resp, err := svc.SignUp(context.Background(), signupRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
}

func TestLogin(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.SignUp(context.Background(), signupRequest())
	require.NoError(t, err)

	resp, err := svc.Login(context.Background(), &model.LoginRequest{
		Email:    "ann@x.com",
		Password: "pw123456",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "ann@x.com", resp.User.Email)
}

// Wrong password and unknown email must be indistinguishable to the caller.
func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.SignUp(context.Background(), signupRequest())
	require.NoError(t, err)

	_, wrongPasswordErr := svc.Login(context.Background(), &model.LoginRequest{
		Email:    "ann@x.com",
		Password: "wrongpw1",
	})
	_, unknownEmailErr := svc.Login(context.Background(), &model.LoginRequest{
		Email:    "nobody@x.com",
		Password: "pw123456",
	})

	require.ErrorIs(t, wrongPasswordErr, appErrors.ErrInvalidCredentials)
	require.ErrorIs(t, unknownEmailErr, appErrors.ErrInvalidCredentials)
	assert.Equal(t, wrongPasswordErr.Error(), unknownEmailErr.Error())
}

func TestForgotPassword(t *testing.T) {
	svc, store, mailer := newTestService()

	signup, err := svc.SignUp(context.Background(), signupRequest())
	require.NoError(t, err)

	err = svc.ForgotPassword(context.Background(), &model.ForgotPasswordRequest{Email: "ann@x.com"})
	require.NoError(t, err)

	stored := store.stored(signup.User.ID)
	require.NotNil(t, stored.PasswordResetToken)
	require.NotNil(t, stored.PasswordResetExpires)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *stored.PasswordResetExpires, 5*time.Second)

	// Only the hash is stored; the mail carries the cleartext token.
	plain := mailer.lastResetToken()
	assert.NotEqual(t, plain, *stored.PasswordResetToken)
	assert.Equal(t, utils.HashResetToken(plain), *stored.PasswordResetToken)
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	svc, _, mailer := newTestService()

	err := svc.ForgotPassword(context.Background(), &model.ForgotPasswordRequest{Email: "nobody@x.com"})
	assert.ErrorIs(t, err, appErrors.ErrUserNotFound)
	assert.Zero(t, mailer.resetSent)
}

// A token the user never received must not stay live: mail failure rolls the
// reset fields back before the error is surfaced.
func TestForgotPassword_MailFailureRollsBack(t *testing.T) {
	store := newMockStore()
	mailer := &mockMailer{resetErr: assert.AnError}
	svc := NewService(store, mailer, testConfig())

	signup, err := svc.SignUp(context.Background(), signupRequest())
	require.NoError(t, err)

	err = svc.ForgotPassword(context.Background(), &model.ForgotPasswordRequest{Email: "ann@x.com"})
	require.ErrorIs(t, err, appErrors.ErrEmailDelivery)

	stored := store.stored(signup.User.ID)
	assert.Nil(t, stored.PasswordResetToken)
	assert.Nil(t, stored.PasswordResetExpires)
}

func TestResetPassword(t *testing.T) {
	svc, store, mailer := newTestService()

	signup, err := svc.SignUp(context.Background(), signupRequest())
	require.NoError(t, err)

	require.NoError(t, svc.ForgotPassword(context.Background(), &model.ForgotPasswordRequest{Email: "ann@x.com"}))
	plain := mailer.lastResetToken()

	resp, err := svc.ResetPassword(context.Background(), plain, &model.ResetPasswordRequest{
		Password:        "newpass1",
		ConfirmPassword: "newpass1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	stored := store.stored(signup.User.ID)
	assert.Nil(t, stored.PasswordResetToken)
	assert.Nil(t, stored.PasswordResetExpires)
	require.NotNil(t, stored.PasswordChangedAt)
	assert.True(t, utils.CheckPassword(stored.PasswordHashed, "newpass1"))
	assert.False(t, utils.CheckPassword(stored.PasswordHashed, "pw123456"))

	// The fresh token must survive the watermark it just moved.
	claims, err := utils.ValidateToken(resp.Token, "test-secret")
	require.NoError(t, err)
	assert.False(t, stored.ChangedPasswordAfter(claims.IssuedAt.Time))
}

// A reset token is accepted exactly once.
func TestResetPassword_SingleUse(t *testing.T) {
	svc, _, mailer := newTestService()

	_, err := svc.SignUp(context.Background(), signupRequest())
	require.NoError(t, err)

	require.NoError(t, svc.ForgotPassword(context.Background(), &model.ForgotPasswordRequest{Email: "ann@x.com"}))
	plain := mailer.lastResetToken()

	request := &model.ResetPasswordRequest{Password: "newpass1", ConfirmPassword: "newpass1"}

	_, err = svc.ResetPassword(context.Background(), plain, request)
	require.NoError(t, err)

	_, err = svc.ResetPassword(context.Background(), plain, request)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestResetPassword_Expired(t *testing.T) {
	svc, store, mailer := newTestService()

	signup, err := svc.SignUp(context.Background(), signupRequest())
	require.NoError(t, err)

	require.NoError(t, svc.ForgotPassword(context.Background(), &model.ForgotPasswordRequest{Email: "ann@x.com"}))
	plain := mailer.lastResetToken()

	// Age the token past its window.
	expired := time.Now().Add(-time.Minute)
	store.stored(signup.User.ID).PasswordResetExpires = &expired

	_, err = svc.ResetPassword(context.Background(), plain, &model.ResetPasswordRequest{
		Password:        "newpass1",
		ConfirmPassword: "newpass1",
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestResetPassword_UnknownToken(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.ResetPassword(context.Background(), "deadbeef", &model.ResetPasswordRequest{
		Password:        "newpass1",
		ConfirmPassword: "newpass1",
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestChangePassword(t *testing.T) {
	svc, store, _ := newTestService()

	signup, err := svc.SignUp(context.Background(), signupRequest())
	require.NoError(t, err)

	resp, err := svc.ChangePassword(context.Background(), signup.User.ID, &model.ChangePasswordRequest{
		CurrentPassword: "pw123456",
		NewPassword:     "newpass1",
		ConfirmPassword: "newpass1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	stored := store.stored(signup.User.ID)
	require.NotNil(t, stored.PasswordChangedAt)
	assert.True(t, utils.CheckPassword(stored.PasswordHashed, "newpass1"))
}

func TestChangePassword_WrongCurrentPassword(t *testing.T) {
	svc, _, _ := newTestService()

	signup, err := svc.SignUp(context.Background(), signupRequest())
	require.NoError(t, err)

	_, err = svc.ChangePassword(context.Background(), signup.User.ID, &model.ChangePasswordRequest{
		CurrentPassword: "wrongpw1",
		NewPassword:     "newpass1",
		ConfirmPassword: "newpass1",
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestDeactivate(t *testing.T) {
	svc, _, _ := newTestService()

	signup, err := svc.SignUp(context.Background(), signupRequest())
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(context.Background(), signup.User.ID))

	// A deactivated user can no longer log in; the failure is the same
	// generic one as for wrong credentials.
	_, err = svc.Login(context.Background(), &model.LoginRequest{
		Email:    "ann@x.com",
		Password: "pw123456",
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}
