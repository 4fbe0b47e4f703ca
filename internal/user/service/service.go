package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trailbook/internal/config"
	"trailbook/internal/logger"
	"trailbook/internal/notification"
	"trailbook/internal/user/model"
	"trailbook/internal/user/validator"
	appErrors "trailbook/pkg/errors"
	"trailbook/pkg/utils"
)

const (
	// Reset tokens live for 10 minutes. This is a design constant, not
	// configuration.
	passwordResetTTL = 10 * time.Minute

	// The watermark is backdated by one second so a token issued in the same
	// second as the password change still verifies.
	passwordChangedAtSkew = time.Second

	mailTimeout = 15 * time.Second
)

// UserStore is the persistence surface the service needs. The gorm-backed
// repository satisfies it; tests substitute an in-memory one.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByEmailWithPassword(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*model.User, error)
	GetUserByIDWithPassword(ctx context.Context, userID uuid.UUID) (*model.User, error)
	GetUserByResetTokenHash(ctx context.Context, tokenHash string) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string, changedAt time.Time) error
	SetResetToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, userID uuid.UUID) error
	DeactivateUser(ctx context.Context, userID uuid.UUID) error
	ListUsers(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

type UserService struct {
	repo   UserStore
	mailer notification.Mailer
	config *config.Config
}

func NewService(repo UserStore, mailer notification.Mailer, cfg *config.Config) *UserService {
	return &UserService{
		repo:   repo,
		mailer: mailer,
		config: cfg,
	}
}

func (s *UserService) SignUp(ctx context.Context, request *model.SignupRequest) (*model.AuthResponse, error) {
	if err := validator.ValidateStruct(request); err != nil {
		return nil, appErrors.NewAppError("VALIDATION_ERROR", "Invalid input", err)
	}

	hashedPassword, err := utils.HashPassword(request.Password, s.config.Auth.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Name:           request.Name,
		Email:          request.Email,
		PasswordHashed: hashedPassword,
		// Whatever role the request carried, a fresh signup is always a
		// regular user. Elevation goes through the admin surface.
		Role: model.RoleUser,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	token, err := s.issueSessionToken(user.ID)
	if err != nil {
		return nil, err
	}

	// Welcome mail is best effort; a dead SMTP server must not fail signup.
	go s.sendWelcomeEmail(user)

	return &model.AuthResponse{
		User:  user.ToResponse(),
		Token: token,
	}, nil
}

func (s *UserService) Login(ctx context.Context, request *model.LoginRequest) (*model.AuthResponse, error) {
	if err := validator.ValidateStruct(request); err != nil {
		return nil, appErrors.NewAppError("VALIDATION_ERROR", "Invalid input", err)
	}

	user, err := s.repo.GetUserByEmailWithPassword(ctx, request.Email)
	if err != nil {
		if errors.Is(err, appErrors.ErrUserNotFound) {
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, err
	}

	if !utils.CheckPassword(user.PasswordHashed, request.Password) {
		return nil, appErrors.ErrInvalidCredentials
	}

	token, err := s.issueSessionToken(user.ID)
	if err != nil {
		return nil, err
	}

	return &model.AuthResponse{
		User:  user.ToResponse(),
		Token: token,
	}, nil
}

// ForgotPassword persists a reset-token hash and mails the cleartext token to
// the user. If the mail cannot be delivered the token is rolled back before
// returning: a live token the user never received would be unverifiable and
// unkillable until expiry.
func (s *UserService) ForgotPassword(ctx context.Context, request *model.ForgotPasswordRequest) error {
	if err := validator.ValidateStruct(request); err != nil {
		return appErrors.NewAppError("VALIDATION_ERROR", "Invalid input", err)
	}

	user, err := s.repo.GetUserByEmail(ctx, request.Email)
	if err != nil {
		return err
	}

	plainToken, tokenHash := utils.GenerateResetToken()
	expiresAt := time.Now().Add(passwordResetTTL)

	if err := s.repo.SetResetToken(ctx, user.ID, tokenHash, expiresAt); err != nil {
		return err
	}

	resetURL := fmt.Sprintf("%s/api/v1/users/reset-password/%s", s.config.Server.PublicBaseURL, plainToken)

	mailCtx, cancel := context.WithTimeout(ctx, mailTimeout)
	defer cancel()

	if err := s.mailer.SendPasswordReset(mailCtx, user, resetURL); err != nil {
		// The original request context may already be dead, so roll back on
		// a fresh one.
		rollbackCtx, rollbackCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer rollbackCancel()

		if clearErr := s.repo.ClearResetToken(rollbackCtx, user.ID); clearErr != nil {
			logger.Error("failed to roll back reset token after mail failure",
				zap.String("user_id", user.ID.String()),
				zap.Error(clearErr),
			)
		}
		return fmt.Errorf("%w: %v", appErrors.ErrEmailDelivery, err)
	}

	return nil
}

func (s *UserService) ResetPassword(ctx context.Context, plainToken string, request *model.ResetPasswordRequest) (*model.AuthResponse, error) {
	if err := validator.ValidateStruct(request); err != nil {
		return nil, appErrors.NewAppError("VALIDATION_ERROR", "Invalid input", err)
	}

	tokenHash := utils.HashResetToken(plainToken)

	user, err := s.repo.GetUserByResetTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}

	hashedPassword, err := utils.HashPassword(request.Password, s.config.Auth.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// One write sets the new hash, moves the watermark and clears the reset
	// pair, so the token cannot be replayed.
	changedAt := time.Now().Add(-passwordChangedAtSkew)
	if err := s.repo.UpdatePassword(ctx, user.ID, hashedPassword, changedAt); err != nil {
		return nil, err
	}

	token, err := s.issueSessionToken(user.ID)
	if err != nil {
		return nil, err
	}

	return &model.AuthResponse{
		User:  user.ToResponse(),
		Token: token,
	}, nil
}

func (s *UserService) ChangePassword(ctx context.Context, userID uuid.UUID, request *model.ChangePasswordRequest) (*model.AuthResponse, error) {
	if err := validator.ValidateStruct(request); err != nil {
		return nil, appErrors.NewAppError("VALIDATION_ERROR", "Invalid input", err)
	}

	user, err := s.repo.GetUserByIDWithPassword(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !utils.CheckPassword(user.PasswordHashed, request.CurrentPassword) {
		return nil, appErrors.ErrInvalidCredentials
	}

	hashedPassword, err := utils.HashPassword(request.NewPassword, s.config.Auth.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	changedAt := time.Now().Add(-passwordChangedAtSkew)
	if err := s.repo.UpdatePassword(ctx, userID, hashedPassword, changedAt); err != nil {
		return nil, err
	}

	token, err := s.issueSessionToken(user.ID)
	if err != nil {
		return nil, err
	}

	return &model.AuthResponse{
		User:  user.ToResponse(),
		Token: token,
	}, nil
}

func (s *UserService) GetProfile(ctx context.Context, userID uuid.UUID) (*model.UserResponse, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.ToResponse(), nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID uuid.UUID, request *model.UpdateProfileRequest) (*model.UserResponse, error) {
	if err := validator.ValidateStruct(request); err != nil {
		return nil, appErrors.NewAppError("VALIDATION_ERROR", "Invalid input", err)
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if request.Name != nil {
		user.Name = *request.Name
	}
	if request.Photo != nil {
		user.Photo = *request.Photo
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	return user.ToResponse(), nil
}

func (s *UserService) Deactivate(ctx context.Context, userID uuid.UUID) error {
	return s.repo.DeactivateUser(ctx, userID)
}

func (s *UserService) issueSessionToken(userID uuid.UUID) (string, error) {
	ttl := time.Duration(s.config.JWT.ExpiryDays) * 24 * time.Hour
	token, err := utils.GenerateToken(userID, s.config.JWT.Secret, ttl)
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return token, nil
}

func (s *UserService) sendWelcomeEmail(user *model.User) {
	ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/me", s.config.Server.PublicBaseURL)
	if err := s.mailer.SendWelcome(ctx, user, url); err != nil {
		logger.Warn("failed to send welcome email",
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
	}
}
