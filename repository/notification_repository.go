package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/AdGuard-AI/models"
	"github.com/amirphl/AdGuard-AI/utils"
	"gorm.io/gorm"
)

// NotificationRepositoryImpl implements NotificationRepository interface
type NotificationRepositoryImpl struct {
	*BaseRepository[models.Notification, models.NotificationFilter]
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &NotificationRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Notification, models.NotificationFilter](db),
	}
}

// ListByUser returns a user's notifications, newest first
func (r *NotificationRepositoryImpl) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]*models.Notification, error) {
	return r.ByFilter(ctx, models.NotificationFilter{UserID: &userID}, "created_at DESC, id DESC", limit, offset)
}

// MarkRead sets the read receipt; false means no unread notification with that id belongs to the user
func (r *NotificationRepositoryImpl) MarkRead(ctx context.Context, id, userID uint) (bool, error) {
	var updated bool
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.Notification{}).
			Where("id = ? AND user_id = ?", id, userID).
			Updates(map[string]any{"is_read": true, "read_at": utils.UTCNow()})
		if res.Error != nil {
			return fmt.Errorf("failed to mark notification %d read: %w", id, res.Error)
		}
		updated = res.RowsAffected > 0
		return nil
	})
	return updated, err
}

func (r *NotificationRepositoryImpl) applyFilter(query *gorm.DB, filter models.NotificationFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.IsRead != nil {
		query = query.Where("is_read = ?", *filter.IsRead)
	}
	return query
}

// ByFilter retrieves notifications based on filter criteria
func (r *NotificationRepositoryImpl) ByFilter(ctx context.Context, filter models.NotificationFilter, orderBy string, limit, offset int) ([]*models.Notification, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.Notification{}), filter)
	query = paginate(query, orderBy, limit, offset)

	var rows []*models.Notification
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of notifications matching the filter
func (r *NotificationRepositoryImpl) Count(ctx context.Context, filter models.NotificationFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Notification{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any notification matches the filter
func (r *NotificationRepositoryImpl) Exists(ctx context.Context, filter models.NotificationFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
