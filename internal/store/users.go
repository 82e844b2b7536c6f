package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/petermazzocco/excel-analytics/internal/feed"
	"github.com/petermazzocco/excel-analytics/models"
)

// CreateUser inserts a new user. Returns ErrEmailTaken on a duplicate email.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}

	view := user.Public()
	s.feed.Publish(ctx, feed.UserEvent(feed.UserChange{Op: feed.OpInsert, UserID: user.ID, User: &view}))
	return nil
}

// FindUserByID returns the user with the given id.
func (s *Store) FindUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// FindUserByEmail returns the user registered with email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// FindUserByGoogleID returns the user linked to the Google account id.
func (s *Store) FindUserByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("google_id = ?", googleID).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// LinkGoogle attaches a Google account id to an existing user.
func (s *Store) LinkGoogle(ctx context.Context, user *models.User, googleID string) error {
	if err := s.db.WithContext(ctx).Model(user).Update("google_id", googleID).Error; err != nil {
		return fmt.Errorf("link google account: %w", err)
	}
	user.GoogleID = &googleID
	s.publishUserUpdate(ctx, user)
	return nil
}

// UpdateUserName changes a user's display name.
func (s *Store) UpdateUserName(ctx context.Context, id uint, name string) (*models.User, error) {
	user, err := s.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("name", name).Error; err != nil {
		return nil, fmt.Errorf("update user name: %w", err)
	}
	user.Name = name
	s.publishUserUpdate(ctx, user)
	return user, nil
}

// SetUserRole changes a user's role.
func (s *Store) SetUserRole(ctx context.Context, id uint, role models.Role) (*models.User, error) {
	user, err := s.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("role", role).Error; err != nil {
		return nil, fmt.Errorf("update user role: %w", err)
	}
	user.Role = role
	s.publishUserUpdate(ctx, user)
	return user, nil
}

// DeleteUser removes a user. Their uploads are kept but become unowned, which
// places them under the retention sweep.
func (s *Store) DeleteUser(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, id).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Model(&models.Upload{}).Where("user_id = ?", id).Update("user_id", nil).Error; err != nil {
			return fmt.Errorf("orphan uploads: %w", err)
		}
		if err := tx.Delete(&user).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.feed.Publish(ctx, feed.UserEvent(feed.UserChange{Op: feed.OpDelete, UserID: id}))
	return nil
}

// ListUsers returns all users, newest first.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// CountUsers returns the number of users.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (s *Store) publishUserUpdate(ctx context.Context, user *models.User) {
	view := user.Public()
	s.feed.Publish(ctx, feed.UserEvent(feed.UserChange{Op: feed.OpUpdate, UserID: user.ID, User: &view}))
}
