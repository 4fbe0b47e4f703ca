package service

import (
	"context"

	"github.com/google/uuid"

	"trailbook/internal/user/model"
	"trailbook/internal/user/validator"
	appErrors "trailbook/pkg/errors"
)

// Admin-only operations. Role changes happen here and nowhere else.

func (s *UserService) ListUsers(ctx context.Context) ([]*model.UserResponse, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	responses := make([]*model.UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, users[i].ToResponse())
	}
	return responses, nil
}

func (s *UserService) GetUser(ctx context.Context, userID uuid.UUID) (*model.UserResponse, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.ToResponse(), nil
}

func (s *UserService) AdminUpdateUser(ctx context.Context, userID uuid.UUID, request *model.AdminUpdateUserRequest) (*model.UserResponse, error) {
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
	if request.Email != nil {
		user.Email = *request.Email
	}
	if request.Role != nil {
		user.Role = model.Role(*request.Role)
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	return user.ToResponse(), nil
}

func (s *UserService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return s.repo.DeleteUser(ctx, userID)
}
