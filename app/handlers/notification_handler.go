package handlers

import (
	"github.com/amirphl/AdGuard-AI/app/dto"
	businessflow "github.com/amirphl/AdGuard-AI/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// NotificationHandlerInterface defines the contract for notification handlers
type NotificationHandlerInterface interface {
	List(c fiber.Ctx) error
	MarkRead(c fiber.Ctx) error
}

// NotificationHandler serves the caller's notifications
type NotificationHandler struct {
	flow      businessflow.NotificationFlow
	validator *validator.Validate
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(flow businessflow.NotificationFlow) *NotificationHandler {
	return &NotificationHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

// List returns the caller's notifications, newest first
// @Summary List notifications
// @Tags Notifications
// @Produce json
// @Param page query int false "Page number" minimum(1)
// @Param limit query int false "Items per page" minimum(1) maximum(100)
// @Success 200 {object} dto.APIResponse{data=dto.ListNotificationsResponse} "Notifications retrieved"
// @Failure 400 {object} dto.APIResponse "Invalid pagination"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/notifications [get]
func (h *NotificationHandler) List(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
	}

	var req dto.PageRequest
	if err := c.Bind().Query(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_QUERY", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/notifications", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.ListNotifications(ctx, userID, &req)
	if err != nil {
		if businessflow.IsInvalidPage(err) || businessflow.IsInvalidPageSize(err) {
			return errorResponse(c, fiber.StatusBadRequest, "Invalid pagination", "INVALID_PAGINATION", unwrapDetails(err))
		}
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to list notifications", "LIST_NOTIFICATIONS_FAILED", nil)
	}
	return successResponse(c, fiber.StatusOK, result.Message, result)
}

// MarkRead marks one of the caller's unread notifications as read
// @Summary Mark notification read
// @Tags Notifications
// @Produce json
// @Param id path int true "Notification ID"
// @Success 200 {object} dto.APIResponse "Notification marked as read"
// @Failure 400 {object} dto.APIResponse "Invalid notification ID"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 404 {object} dto.APIResponse "Notification not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/notifications/{id}/read [patch]
func (h *NotificationHandler) MarkRead(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
	}
	notificationID, ok := parseIDParam(c, "id")
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid notification ID", "INVALID_NOTIFICATION_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/notifications/:id/read", defaultRequestTimeout)
	defer cancel()

	if err := h.flow.MarkNotificationRead(ctx, userID, notificationID); err != nil {
		if businessflow.IsNotificationNotFound(err) {
			return errorResponse(c, fiber.StatusNotFound, "Notification not found", "NOTIFICATION_NOT_FOUND", nil)
		}
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to mark notification as read", "MARK_NOTIFICATION_FAILED", nil)
	}
	return successResponse(c, fiber.StatusOK, "Notification marked as read", fiber.Map{"id": notificationID})
}
