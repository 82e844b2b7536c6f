package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/petermazzocco/excel-analytics/internal/feed"
	"github.com/petermazzocco/excel-analytics/models"
)

// CreateUpload records an upload. When an owner is set it must reference an
// existing user, otherwise ErrOwnerNotFound is returned.
func (s *Store) CreateUpload(ctx context.Context, upload *models.Upload) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if upload.UserID != nil {
			var n int64
			if err := tx.Model(&models.User{}).Where("id = ?", *upload.UserID).Count(&n).Error; err != nil {
				return fmt.Errorf("check owner: %w", err)
			}
			if n == 0 {
				return ErrOwnerNotFound
			}
		}
		if err := tx.Create(upload).Error; err != nil {
			return fmt.Errorf("create upload: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.feed.Publish(ctx, feed.UploadEvent(feed.UploadChange{
		Op:       feed.OpInsert,
		UploadID: upload.ID,
		OwnerID:  upload.UserID,
	}))
	return nil
}

// ListUploadsByOwner returns the owner's uploads, newest first, with the
// owner preloaded.
func (s *Store) ListUploadsByOwner(ctx context.Context, ownerID uint) ([]models.Upload, error) {
	var uploads []models.Upload
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("user_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&uploads).Error
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return uploads, nil
}

// FindUpload returns one of the owner's uploads.
func (s *Store) FindUpload(ctx context.Context, id, ownerID uint) (*models.Upload, error) {
	var upload models.Upload
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("id = ? AND user_id = ?", id, ownerID).
		First(&upload).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &upload, nil
}

// DeleteUpload removes one of the owner's uploads and returns it.
func (s *Store) DeleteUpload(ctx context.Context, id, ownerID uint) (*models.Upload, error) {
	upload, err := s.FindUpload(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(upload).Error; err != nil {
		return nil, fmt.Errorf("delete upload: %w", err)
	}

	s.feed.Publish(ctx, feed.UploadEvent(feed.UploadChange{
		Op:       feed.OpDelete,
		UploadID: upload.ID,
		OwnerID:  upload.UserID,
	}))
	return upload, nil
}

// DeleteUploadsByOwner removes all of the owner's uploads and returns them.
func (s *Store) DeleteUploadsByOwner(ctx context.Context, ownerID uint) ([]models.Upload, error) {
	var uploads []models.Upload
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", ownerID).Find(&uploads).Error; err != nil {
			return fmt.Errorf("find uploads: %w", err)
		}
		if len(uploads) == 0 {
			return nil
		}
		if err := tx.Where("user_id = ?", ownerID).Delete(&models.Upload{}).Error; err != nil {
			return fmt.Errorf("delete uploads: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(uploads) > 0 {
		s.feed.Publish(ctx, feed.UploadEvent(feed.UploadChange{
			Op:      feed.OpDelete,
			OwnerID: &ownerID,
			Count:   len(uploads),
		}))
	}
	return uploads, nil
}

// CountUploads returns the number of upload records.
func (s *Store) CountUploads(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Upload{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count uploads: %w", err)
	}
	return n, nil
}

// MonthCount is the number of uploads created in a calendar month.
type MonthCount struct {
	Month time.Time
	Count int
}

// UploadsPerMonth returns upload counts for the trailing months ending with
// the month containing now, oldest first. Months without uploads are included.
func (s *Store) UploadsPerMonth(ctx context.Context, months int, now time.Time) ([]MonthCount, error) {
	if months <= 0 {
		return nil, nil
	}
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)

	var stamps []time.Time
	err := s.db.WithContext(ctx).
		Model(&models.Upload{}).
		Where("created_at >= ?", start).
		Pluck("created_at", &stamps).Error
	if err != nil {
		return nil, fmt.Errorf("load upload timestamps: %w", err)
	}

	counts := make([]MonthCount, months)
	for i := range counts {
		counts[i].Month = start.AddDate(0, i, 0)
	}
	for _, ts := range stamps {
		ts = ts.UTC()
		idx := (ts.Year()-start.Year())*12 + int(ts.Month()) - int(start.Month())
		if idx >= 0 && idx < months {
			counts[idx].Count++
		}
	}
	return counts, nil
}

// SweepUnowned deletes unowned uploads created before cutoff and returns them.
func (s *Store) SweepUnowned(ctx context.Context, cutoff time.Time) ([]models.Upload, error) {
	var expired []models.Upload
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id IS NULL AND created_at < ?", cutoff).Find(&expired).Error; err != nil {
			return fmt.Errorf("find expired uploads: %w", err)
		}
		if len(expired) == 0 {
			return nil
		}
		ids := make([]uint, len(expired))
		for i, u := range expired {
			ids[i] = u.ID
		}
		if err := tx.Delete(&models.Upload{}, ids).Error; err != nil {
			return fmt.Errorf("delete expired uploads: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(expired) > 0 {
		s.feed.Publish(ctx, feed.UploadEvent(feed.UploadChange{Op: feed.OpDelete, Count: len(expired)}))
	}
	return expired, nil
}
