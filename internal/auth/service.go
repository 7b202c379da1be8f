package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/zedops/warden/internal/users"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type RegisterResult struct {
	ID       string
	Username string
	Role     string
}

type Service struct {
	users  *users.Service
	config Config
}

func NewService(userService *users.Service, config Config) *Service {
	return &Service{
		users:  userService,
		config: config,
	}
}

func (s *Service) Register(ctx context.Context, username, password string) (RegisterResult, error) {
	hash, err := users.HashPassword(password)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, username, hash, users.RoleUser)
	if err != nil {
		return RegisterResult{}, err
	}

	return RegisterResult{
		ID:       user.ID,
		Username: user.Username,
		Role:     user.Role,
	}, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, hash, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if !users.CheckPassword(password, hash) {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.config, user.ID, user.Username, user.Role)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}
