package businessflow

import (
	"context"
	"math"

	"github.com/amirphl/AdGuard-AI/app/dto"
	"github.com/amirphl/AdGuard-AI/models"
	"github.com/amirphl/AdGuard-AI/repository"
	"github.com/amirphl/AdGuard-AI/utils"
)

// NotificationFlow lets users read their notifications
type NotificationFlow interface {
	ListNotifications(ctx context.Context, userID uint, req *dto.PageRequest) (*dto.ListNotificationsResponse, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID uint) error
}

// NotificationFlowImpl implements NotificationFlow
type NotificationFlowImpl struct {
	notificationRepo repository.NotificationRepository
}

// NewNotificationFlow creates a new notification flow instance
func NewNotificationFlow(notificationRepo repository.NotificationRepository) NotificationFlow {
	return &NotificationFlowImpl{notificationRepo: notificationRepo}
}

// ListNotifications returns the newest notifications first
func (f *NotificationFlowImpl) ListNotifications(ctx context.Context, userID uint, req *dto.PageRequest) (*dto.ListNotificationsResponse, error) {
	if req == nil {
		req = &dto.PageRequest{}
	}
	page, limit, err := normalizePage(req.Page, req.Limit)
	if err != nil {
		return nil, NewBusinessError("INVALID_PAGINATION", "Invalid pagination", err)
	}

	total, err := f.notificationRepo.Count(ctx, models.NotificationFilter{UserID: &userID})
	if err != nil {
		return nil, NewBusinessError("NOTIFICATION_LIST_FAILED", "Failed to count notifications", err)
	}
	unread, err := f.notificationRepo.Count(ctx, models.NotificationFilter{UserID: &userID, IsRead: utils.ToPtr(false)})
	if err != nil {
		return nil, NewBusinessError("NOTIFICATION_LIST_FAILED", "Failed to count notifications", err)
	}
	rows, err := f.notificationRepo.ListByUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, NewBusinessError("NOTIFICATION_LIST_FAILED", "Failed to list notifications", err)
	}

	items := make([]dto.NotificationItem, 0, len(rows))
	for _, n := range rows {
		items = append(items, dto.NotificationItem{
			ID:        n.ID,
			Type:      n.Type.String(),
			Message:   n.Message,
			IsRead:    n.IsRead,
			ReadAt:    n.ReadAt,
			CreatedAt: n.CreatedAt,
		})
	}

	return &dto.ListNotificationsResponse{
		Message: "Notifications retrieved successfully",
		Items:   items,
		Unread:  unread,
		Pagination: dto.PaginationInfo{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: int(math.Ceil(float64(total) / float64(limit))),
		},
	}, nil
}

// MarkNotificationRead flags one of the user's notifications as read
func (f *NotificationFlowImpl) MarkNotificationRead(ctx context.Context, userID, notificationID uint) error {
	ok, err := f.notificationRepo.MarkRead(ctx, notificationID, userID)
	if err != nil {
		return NewBusinessError("NOTIFICATION_UPDATE_FAILED", "Failed to update notification", err)
	}
	if !ok {
		return NewBusinessError("NOTIFICATION_NOT_FOUND", "Notification not found", ErrNotificationNotFound)
	}
	return nil
}
