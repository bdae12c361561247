package handlers

import (
	"io"
	"mime/multipart"
	"strings"
	"time"

	"github.com/amirphl/AdGuard-AI/app/dto"
	businessflow "github.com/amirphl/AdGuard-AI/business_flow"
	"github.com/amirphl/AdGuard-AI/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// uploads are spooled to disk before the flow returns
const uploadRequestTimeout = 5 * time.Minute

// AdvertisementHandlerInterface defines the contract for advertisement handlers
type AdvertisementHandlerInterface interface {
	Upload(c fiber.Ctx) error
	Status(c fiber.Ctx) error
}

// AdvertisementHandler handles advertisement submission and progress tracking
type AdvertisementHandler struct {
	flow      businessflow.AdvertisementFlow
	validator *validator.Validate
}

// NewAdvertisementHandler creates a new advertisement handler
func NewAdvertisementHandler(flow businessflow.AdvertisementFlow) *AdvertisementHandler {
	return &AdvertisementHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

// Upload accepts a multipart advertisement with up to ten media files under the "files" field.
// The body is flat, not wrapped, because clients read advertisement_id directly.
// @Summary Submit advertisement
// @Description Upload an advertisement with up to 10 media files (jpeg/png/gif/webp/mp4/avi/mov, <=100MB each) and start the compliance pipeline
// @Tags Advertisements
// @Accept mpfd
// @Produce json
// @Param title formData string true "Advertisement title"
// @Param description formData string true "Advertisement description"
// @Param type formData string true "Advertisement type (0, 1 or 2)"
// @Param target_region formData string false "Target region"
// @Param language formData string false "Language"
// @Param landing_url formData string false "Landing page URL"
// @Param target_audience formData string false "Target audience"
// @Param target_age_group formData string false "Target age group (JSON)"
// @Param files formData file true "Media files"
// @Success 201 {object} dto.SubmitAdvertisementResponse "Advertisement accepted for processing"
// @Failure 400 {object} dto.APIResponse "Invalid request or file"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 404 {object} dto.APIResponse "User not found"
// @Failure 429 {object} dto.APIResponse "Too many uploads"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/ads/upload [post]
func (h *AdvertisementHandler) Upload(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
	}

	if !strings.HasPrefix(c.Get("Content-Type"), "multipart/form-data") {
		return errorResponse(c, fiber.StatusBadRequest, "Request must be multipart/form-data", "INVALID_CONTENT_TYPE", nil)
	}
	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid multipart form", "INVALID_MULTIPART_FORM", nil)
	}

	req := dto.SubmitAdvertisementRequest{
		UserID:         userID,
		Title:          formValue(form, "title"),
		Description:    formValue(form, "description"),
		Type:           formValue(form, "type"),
		TargetRegion:   formValue(form, "target_region"),
		Language:       formValue(form, "language"),
		LandingURL:     formValue(form, "landing_url"),
		TargetAudience: formValue(form, "target_audience"),
		TargetAgeGroup: formValue(form, "target_age_group"),
		Files:          uploadedFiles(form.File[utils.UploadFormField]),
	}

	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get("X-Request-ID"))

	ctx, cancel := createRequestContext(c, "/api/v1/ads/upload", uploadRequestTimeout)
	defer cancel()

	result, err := h.flow.SubmitAdvertisement(ctx, &req, metadata)
	if err != nil {
		if businessflow.IsValidationError(err) {
			code := "ADVERTISEMENT_VALIDATION_FAILED"
			message := "Advertisement validation failed"
			if be, ok := err.(*businessflow.BusinessError); ok {
				code, message = be.Code, be.Message
			}
			return errorResponse(c, fiber.StatusBadRequest, message, code, unwrapDetails(err))
		}
		if businessflow.IsUserNotFound(err) {
			return errorResponse(c, fiber.StatusNotFound, "User not found", "USER_NOT_FOUND", nil)
		}
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to submit advertisement", "ADVERTISEMENT_SUBMISSION_FAILED", nil)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

// Status returns the stage projection of an advertisement the caller owns.
// Accepts both "adv-<id>" and the bare numeric id.
// @Summary Advertisement status
// @Description Get the pipeline stages of an advertisement owned by the caller
// @Tags Advertisements
// @Produce json
// @Param adId path string true "Advertisement ID (adv-<id> or <id>)"
// @Success 200 {object} dto.AdvertisementStatusResponse "Status projection"
// @Failure 400 {object} dto.APIResponse "Invalid advertisement ID"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 404 {object} dto.APIResponse "Advertisement not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/ads/{adId}/status [get]
func (h *AdvertisementHandler) Status(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/ads/:adId/status", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.GetAdvertisementStatus(ctx, userID, c.Params("adId"))
	if err != nil {
		if businessflow.IsInvalidAdvertisementID(err) {
			return errorResponse(c, fiber.StatusBadRequest, "Invalid advertisement ID", "INVALID_ADVERTISEMENT_ID", nil)
		}
		if businessflow.IsAdvertisementNotFound(err) {
			return errorResponse(c, fiber.StatusNotFound, "Advertisement not found", "ADVERTISEMENT_NOT_FOUND", nil)
		}
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to get advertisement status", "STATUS_LOOKUP_FAILED", nil)
	}

	return c.JSON(result)
}

func formValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func uploadedFiles(headers []*multipart.FileHeader) []dto.UploadedFile {
	files := make([]dto.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, dto.UploadedFile{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Open:        func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	return files
}

// unwrapDetails reports the wrapped cause, which names the offending file or field
func unwrapDetails(err error) string {
	if be, ok := err.(*businessflow.BusinessError); ok && be.Err != nil {
		return be.Err.Error()
	}
	return err.Error()
}
