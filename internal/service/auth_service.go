package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatcore/internal/domain"
	"chatcore/internal/security"
)

// ErrInvalidCredentials is returned by Login and Authenticate.
var ErrInvalidCredentials = errors.New("incorrect username or password")

// AuthService handles registration, login, and logout.
type AuthService struct {
	users  domain.UserRepository
	tokens *security.TokenService
	hash   *security.PasswordHasher
}

func NewAuthService(users domain.UserRepository, tokens *security.TokenService, hash *security.PasswordHasher) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		hash:   hash,
	}
}

type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=50,alphanum"`
	Name     string `json:"name" validate:"max=100"`
	Email    string `json:"email" validate:"required,email,max=100"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type LoginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	User        *UserView `json:"user"`
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	if existing, err := s.users.GetByUsername(ctx, in.Username); err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	} else if existing != nil {
		return nil, fmt.Errorf("username already registered: %w", domain.ErrConflict)
	}
	if existing, err := s.users.GetByEmail(ctx, in.Email); err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	} else if existing != nil {
		return nil, fmt.Errorf("email already registered: %w", domain.ErrConflict)
	}

	hashed, err := s.hash.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = in.Username
	}
	user := &domain.User{
		Username:       in.Username,
		Name:           name,
		Email:          in.Email,
		HashedPassword: hashed,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and issues a token. The online flag belongs to
// the realtime presence tracker and is not changed here.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*TokenResponse, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	user, err := s.users.GetByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.hash.Verify(in.Password, user.HashedPassword); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := s.users.TouchLastSeen(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("touch last seen: %w", err)
	}
	user.LastSeenAt = now

	token, err := s.tokens.CreateForUser(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        NewUserView(user),
	}, nil
}

// Logout stamps last seen. Open sockets keep the user online until they close.
func (s *AuthService) Logout(ctx context.Context, userID int64) error {
	return s.users.TouchLastSeen(ctx, userID, time.Now().UTC())
}

// Authenticate resolves a bearer token to its user.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// SeedUser is a default account created on an empty database.
type SeedUser struct {
	Username string
	Name     string
	Password string
}

// DefaultSeedUsers are the development accounts.
var DefaultSeedUsers = []SeedUser{
	{Username: "admin", Name: "Admin", Password: "admin123"},
	{Username: "alice", Name: "Alice Silva", Password: "alice123"},
	{Username: "bob", Name: "Bob Santos", Password: "bob123"},
}

// Seed registers the given users when no user exists yet. It returns the
// number of users created.
func (s *AuthService) Seed(ctx context.Context, seeds []SeedUser) (int, error) {
	n, err := s.users.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	for i, u := range seeds {
		if _, err := s.Register(ctx, RegisterInput{
			Username: u.Username,
			Name:     u.Name,
			Email:    u.Username + "@example.com",
			Password: u.Password,
		}); err != nil {
			return i, fmt.Errorf("seed %s: %w", u.Username, err)
		}
	}
	return len(seeds), nil
}
