package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/amirphl/AdGuard-AI/models"
	"github.com/amirphl/AdGuard-AI/repository"
)

// NotificationService records user-facing notifications
type NotificationService interface {
	Notify(ctx context.Context, userID uint, notificationType models.NotificationType, message string) error
}

// NotificationServiceImpl writes notifications to the notifications table
type NotificationServiceImpl struct {
	repo   repository.NotificationRepository
	logger *log.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(repo repository.NotificationRepository, logger *log.Logger) NotificationService {
	if logger == nil {
		logger = log.Default()
	}
	return &NotificationServiceImpl{repo: repo, logger: logger}
}

// Notify persists one notification. Callers treat failures as non-fatal.
func (s *NotificationServiceImpl) Notify(ctx context.Context, userID uint, notificationType models.NotificationType, message string) error {
	if userID == 0 {
		return fmt.Errorf("notification: user id is required")
	}
	if !notificationType.Valid() {
		return fmt.Errorf("notification: unknown type %q", notificationType)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return fmt.Errorf("notification: empty message")
	}

	n := &models.Notification{
		UserID:  userID,
		Type:    notificationType,
		Message: message,
	}
	if err := s.repo.Save(ctx, n); err != nil {
		s.logger.Printf("notification: failed to store %s for user %d: %v", notificationType, userID, err)
		return err
	}
	return nil
}

// SentNotification is one call recorded by MockNotificationService
type SentNotification struct {
	UserID  uint
	Type    models.NotificationType
	Message string
}

// MockNotificationService keeps notifications in memory
type MockNotificationService struct {
	mu   sync.Mutex
	sent []SentNotification
	Err  error
}

func NewMockNotificationService() *MockNotificationService {
	return &MockNotificationService{}
}

func (m *MockNotificationService) Notify(ctx context.Context, userID uint, notificationType models.NotificationType, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentNotification{UserID: userID, Type: notificationType, Message: message})
	return nil
}

// GetSentNotifications returns a copy of everything sent so far
func (m *MockNotificationService) GetSentNotifications() []SentNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentNotification, len(m.sent))
	copy(out, m.sent)
	return out
}

// CountByType counts sent notifications of one type
func (m *MockNotificationService) CountByType(notificationType models.NotificationType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.Type == notificationType {
			n++
		}
	}
	return n
}
