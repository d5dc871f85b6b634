package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatcore/internal/domain"
)

// SearchLimit caps user search results.
const SearchLimit = 20

// UserService provides user-related operations.
type UserService struct {
	users domain.UserRepository
	now   func() time.Time
}

func NewUserService(users domain.UserRepository) *UserService {
	return &UserService{users: users, now: time.Now}
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

// Search matches query against username and display name.
func (s *UserService) Search(ctx context.Context, query string) ([]*domain.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*domain.User{}, nil
	}
	return s.users.Search(ctx, query, SearchLimit)
}

func (s *UserService) ListOnline(ctx context.Context) ([]*domain.User, error) {
	return s.users.ListOnline(ctx)
}

// UpdateProfileInput replaces the editable profile fields. Empty status or
// picture clears them.
type UpdateProfileInput struct {
	Name           string  `json:"name" validate:"required,min=2,max=100"`
	Status         *string `json:"status" validate:"omitempty,max=200"`
	ProfilePicture *string `json:"profile_picture" validate:"omitempty,max=2048"`
}

// UpdateProfile rewrites name, status and profile picture for id.
func (s *UserService) UpdateProfile(ctx context.Context, id int64, in UpdateProfileInput) (*domain.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Status = trimOptional(in.Status)
	in.ProfilePicture = trimOptional(in.ProfilePicture)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := s.users.UpdateProfile(ctx, id, in.Name, in.Status, in.ProfilePicture); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

// SetOnlineStatus flips the online flag and stamps last seen.
func (s *UserService) SetOnlineStatus(ctx context.Context, id int64, isOnline bool) error {
	return s.users.SetOnlineStatus(ctx, id, isOnline, s.now().UTC())
}

// ResetOnline marks every user offline. Called once at process start.
func (s *UserService) ResetOnline(ctx context.Context) error {
	return s.users.ResetOnline(ctx)
}
