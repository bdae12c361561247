package dto

import "time"

// NotificationItem is one user notification
type NotificationItem struct {
	ID        uint       `json:"id"`
	Type      string     `json:"type"`
	Message   string     `json:"message"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ListNotificationsResponse represents a paginated list of notifications
type ListNotificationsResponse struct {
	Message    string             `json:"message"`
	Items      []NotificationItem `json:"items"`
	Unread     int64              `json:"unread"`
	Pagination PaginationInfo     `json:"pagination"`
}
