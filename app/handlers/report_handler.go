package handlers

import (
	"context"
	"time"

	"github.com/amirphl/AdGuard-AI/app/dto"
	businessflow "github.com/amirphl/AdGuard-AI/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const exportRequestTimeout = 2 * time.Minute

// ReportHandlerInterface defines the contract for report handlers
type ReportHandlerInterface interface {
	ListMine(c fiber.Ctx) error
	AdminList(c fiber.Ctx) error
	AdminApprove(c fiber.Ctx) error
	AdminReject(c fiber.Ctx) error
	AdminExport(c fiber.Ctx) error
}

// ReportHandler serves compliance reports to advertisers and administrators
type ReportHandler struct {
	flow      businessflow.ReportFlow
	validator *validator.Validate
}

// NewReportHandler creates a new report handler
func NewReportHandler(flow businessflow.ReportFlow) *ReportHandler {
	return &ReportHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

// bindListRequest returns a nil request once it has written the error response
func (h *ReportHandler) bindListRequest(c fiber.Ctx) (*dto.ListReportsRequest, error) {
	var req dto.ListReportsRequest
	if err := c.Bind().Query(&req); err != nil {
		return nil, errorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_QUERY", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return nil, errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}
	return &req, nil
}

func (h *ReportHandler) listError(c fiber.Ctx, err error) error {
	if businessflow.IsInvalidPage(err) || businessflow.IsInvalidPageSize(err) {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid pagination", "INVALID_PAGINATION", unwrapDetails(err))
	}
	return errorResponse(c, fiber.StatusInternalServerError, "Failed to list reports", "LIST_REPORTS_FAILED", nil)
}

// ListMine lists the caller's reports, newest first
// @Summary List my reports
// @Description List compliance reports of the caller's advertisements
// @Tags Reports
// @Produce json
// @Param page query int false "Page number" minimum(1)
// @Param limit query int false "Items per page" minimum(1) maximum(100)
// @Param verdict query string false "Verdict filter" Enums(pass, fail, manual_review, error)
// @Param admin_verdict query string false "Admin verdict filter" Enums(approved, rejected)
// @Success 200 {object} dto.APIResponse{data=dto.ListReportsResponse} "Reports retrieved"
// @Failure 400 {object} dto.APIResponse "Invalid request"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/reports [get]
func (h *ReportHandler) ListMine(c fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
	}
	req, respErr := h.bindListRequest(c)
	if req == nil {
		return respErr
	}
	req.UserID = &userID

	ctx, cancel := createRequestContext(c, "/api/v1/reports", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.ListUserReports(ctx, req)
	if err != nil {
		return h.listError(c, err)
	}
	return successResponse(c, fiber.StatusOK, result.Message, result)
}

// AdminList lists every report with owner details
// @Summary List all reports (admin)
// @Tags Admin Reports
// @Produce json
// @Param page query int false "Page number" minimum(1)
// @Param limit query int false "Items per page" minimum(1) maximum(100)
// @Param verdict query string false "Verdict filter" Enums(pass, fail, manual_review, error)
// @Param admin_verdict query string false "Admin verdict filter" Enums(approved, rejected)
// @Success 200 {object} dto.APIResponse{data=dto.ListReportsResponse} "Reports retrieved"
// @Failure 400 {object} dto.APIResponse "Invalid request"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 403 {object} dto.APIResponse "Admin access required"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/admin/reports [get]
func (h *ReportHandler) AdminList(c fiber.Ctx) error {
	req, respErr := h.bindListRequest(c)
	if req == nil {
		return respErr
	}

	ctx, cancel := createRequestContext(c, "/api/v1/admin/reports", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.ListAllReports(ctx, req)
	if err != nil {
		return h.listError(c, err)
	}
	return successResponse(c, fiber.StatusOK, result.Message, result)
}

// AdminApprove overrides a report as approved
// @Summary Approve report (admin)
// @Tags Admin Reports
// @Accept json
// @Produce json
// @Param id path int true "Analysis result ID"
// @Param request body dto.ReviewReportRequest false "Optional review reason"
// @Success 200 {object} dto.APIResponse{data=dto.ReviewReportResponse} "Report approved"
// @Failure 400 {object} dto.APIResponse "Invalid request"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 403 {object} dto.APIResponse "Admin access required"
// @Failure 404 {object} dto.APIResponse "Report not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/admin/reports/{id}/approve [post]
func (h *ReportHandler) AdminApprove(c fiber.Ctx) error {
	return h.review(c, "/api/v1/admin/reports/:id/approve", h.flow.ApproveReport)
}

// AdminReject overrides a report as rejected, optionally with a reason
// @Summary Reject report (admin)
// @Tags Admin Reports
// @Accept json
// @Produce json
// @Param id path int true "Analysis result ID"
// @Param request body dto.ReviewReportRequest false "Optional rejection reason"
// @Success 200 {object} dto.APIResponse{data=dto.ReviewReportResponse} "Report rejected"
// @Failure 400 {object} dto.APIResponse "Invalid request"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 403 {object} dto.APIResponse "Admin access required"
// @Failure 404 {object} dto.APIResponse "Report not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/admin/reports/{id}/reject [post]
func (h *ReportHandler) AdminReject(c fiber.Ctx) error {
	return h.review(c, "/api/v1/admin/reports/:id/reject", h.flow.RejectReport)
}

type reviewFunc func(ctx context.Context, req *dto.ReviewReportRequest) (*dto.ReviewReportResponse, error)

func (h *ReportHandler) review(c fiber.Ctx, endpoint string, apply reviewFunc) error {
	adminID, ok := currentUserID(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "User ID not found in context", "MISSING_USER_ID", nil)
	}
	reportID, ok := parseIDParam(c, "id")
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid report ID", "INVALID_REPORT_ID", nil)
	}

	var req dto.ReviewReportRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}
	req.AnalysisResultID = reportID
	req.AdminID = adminID
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContext(c, endpoint, defaultRequestTimeout)
	defer cancel()

	result, err := apply(ctx, &req)
	if err != nil {
		if businessflow.IsReportNotFound(err) {
			return errorResponse(c, fiber.StatusNotFound, "Report not found", "REPORT_NOT_FOUND", nil)
		}
		if businessflow.IsValidationError(err) {
			return errorResponse(c, fiber.StatusBadRequest, "Invalid review", "INVALID_REVIEW", unwrapDetails(err))
		}
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to review report", "REPORT_REVIEW_FAILED", nil)
	}
	return successResponse(c, fiber.StatusOK, result.Message, result)
}

// AdminExport downloads the filtered reports as an XLSX workbook
// @Summary Export reports (admin)
// @Description Download the filtered reports as an XLSX workbook
// @Tags Admin Reports
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param verdict query string false "Verdict filter" Enums(pass, fail, manual_review, error)
// @Param admin_verdict query string false "Admin verdict filter" Enums(approved, rejected)
// @Success 200 {file} file "XLSX workbook"
// @Failure 400 {object} dto.APIResponse "Invalid request"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 403 {object} dto.APIResponse "Admin access required"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/admin/reports/export [get]
func (h *ReportHandler) AdminExport(c fiber.Ctx) error {
	req, respErr := h.bindListRequest(c)
	if req == nil {
		return respErr
	}

	ctx, cancel := createRequestContext(c, "/api/v1/admin/reports/export", exportRequestTimeout)
	defer cancel()

	filename, data, err := h.flow.ExportReports(ctx, req)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to export reports", "EXPORT_REPORTS_FAILED", nil)
	}

	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}
