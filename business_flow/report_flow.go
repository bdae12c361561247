package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/AdGuard-AI/app/dto"
	"github.com/amirphl/AdGuard-AI/app/services"
	"github.com/amirphl/AdGuard-AI/models"
	"github.com/amirphl/AdGuard-AI/repository"
	"github.com/xuri/excelize/v2"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	exportBatchSize = 500
	reportSheetName = "reports"
)

// ReportFlow exposes pipeline reports to advertisers and administrators
type ReportFlow interface {
	ListUserReports(ctx context.Context, req *dto.ListReportsRequest) (*dto.ListReportsResponse, error)
	ListAllReports(ctx context.Context, req *dto.ListReportsRequest) (*dto.ListReportsResponse, error)
	ApproveReport(ctx context.Context, req *dto.ReviewReportRequest) (*dto.ReviewReportResponse, error)
	RejectReport(ctx context.Context, req *dto.ReviewReportRequest) (*dto.ReviewReportResponse, error)
	ExportReports(ctx context.Context, req *dto.ListReportsRequest) (string, []byte, error)
}

// ReportFlowImpl implements ReportFlow
type ReportFlowImpl struct {
	analysisRepo repository.AnalysisResultRepository
	adRepo       repository.AdvertisementRepository
	notifier     services.NotificationService
	logger       *log.Logger
}

// NewReportFlow creates a new report flow instance
func NewReportFlow(
	analysisRepo repository.AnalysisResultRepository,
	adRepo repository.AdvertisementRepository,
	notifier services.NotificationService,
	logger *log.Logger,
) ReportFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &ReportFlowImpl{
		analysisRepo: analysisRepo,
		adRepo:       adRepo,
		notifier:     notifier,
		logger:       logger,
	}
}

// ListUserReports lists the caller's own reports
func (f *ReportFlowImpl) ListUserReports(ctx context.Context, req *dto.ListReportsRequest) (*dto.ListReportsResponse, error) {
	if req == nil || req.UserID == nil {
		return nil, NewBusinessError("INVALID_REQUEST", "User is required", nil)
	}
	return f.listReports(ctx, req, false)
}

// ListAllReports lists every report with owner details
func (f *ReportFlowImpl) ListAllReports(ctx context.Context, req *dto.ListReportsRequest) (*dto.ListReportsResponse, error) {
	if req == nil {
		req = &dto.ListReportsRequest{}
	}
	return f.listReports(ctx, req, true)
}

func (f *ReportFlowImpl) listReports(ctx context.Context, req *dto.ListReportsRequest, withOwner bool) (*dto.ListReportsResponse, error) {
	page, limit, err := normalizePage(req.Page, req.Limit)
	if err != nil {
		return nil, NewBusinessError("INVALID_PAGINATION", "Invalid pagination", err)
	}

	filter := reportFilter(req)
	total, err := f.analysisRepo.CountReports(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("REPORT_LIST_FAILED", "Failed to count reports", err)
	}
	rows, err := f.analysisRepo.ListReports(ctx, filter, limit, (page-1)*limit)
	if err != nil {
		return nil, NewBusinessError("REPORT_LIST_FAILED", "Failed to list reports", err)
	}

	items := make([]dto.ReportItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, toReportItem(row, withOwner))
	}

	return &dto.ListReportsResponse{
		Message: "Reports retrieved successfully",
		Items:   items,
		Pagination: dto.PaginationInfo{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: int(math.Ceil(float64(total) / float64(limit))),
		},
	}, nil
}

func normalizePage(page, limit int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	if page < 1 {
		return 0, 0, ErrInvalidPage
	}
	if limit < 1 || limit > maxPageSize {
		return 0, 0, ErrInvalidPageSize
	}
	return page, limit, nil
}

func reportFilter(req *dto.ListReportsRequest) models.ReportFilter {
	filter := models.ReportFilter{UserID: req.UserID}
	if v := strings.TrimSpace(req.Verdict); v != "" {
		filter.Verdict = &v
	}
	if v := strings.TrimSpace(req.AdminVerdict); v != "" {
		filter.AdminVerdict = &v
	}
	return filter
}

func toReportItem(row *models.ReportRow, withOwner bool) dto.ReportItem {
	item := dto.ReportItem{
		AnalysisResultID: row.AnalysisResultID,
		AdvertisementID:  row.AdvertisementID,
		Title:            row.Title,
		Description:      row.Description,
		Type:             row.Type.String(),
		Status:           row.Status.String(),
		Verdict:          deref(row.Verdict),
		Reason:           deref(row.Reason),
		CallRequired:     row.CallRequired,
		AdminVerdict:     deref(row.AdminVerdict),
		AdminReason:      deref(row.AdminReason),
		ImageURLs:        []string(row.ImageURLs),
		VideoURLs:        []string(row.VideoURLs),
		CreatedAt:        row.AdCreatedAt,
		UpdatedAt:        row.UpdatedAt,
		FinalizedAt:      row.FinalizedAt,
	}
	if len(row.ReportData) > 0 {
		item.Report = json.RawMessage(row.ReportData)
	}
	if item.ImageURLs == nil {
		item.ImageURLs = []string{}
	}
	if item.VideoURLs == nil {
		item.VideoURLs = []string{}
	}
	if withOwner {
		item.UserID = row.UserID
		item.UserName = row.UserName
		item.UserEmail = row.UserEmail
		item.UserSector = row.UserSector
	}
	return item
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ApproveReport records an administrator approval
func (f *ReportFlowImpl) ApproveReport(ctx context.Context, req *dto.ReviewReportRequest) (*dto.ReviewReportResponse, error) {
	return f.review(ctx, req, models.AdminVerdictApproved)
}

// RejectReport records an administrator rejection
func (f *ReportFlowImpl) RejectReport(ctx context.Context, req *dto.ReviewReportRequest) (*dto.ReviewReportResponse, error) {
	return f.review(ctx, req, models.AdminVerdictRejected)
}

// review overrides the verdict shown to the advertiser. Pipeline status is never touched.
func (f *ReportFlowImpl) review(ctx context.Context, req *dto.ReviewReportRequest, adminVerdict string) (*dto.ReviewReportResponse, error) {
	if req == nil || req.AnalysisResultID == 0 {
		return nil, NewBusinessError("REPORT_NOT_FOUND", "Report not found", ErrReportNotFound)
	}
	reason := strings.TrimSpace(req.Reason)
	if len(reason) > 2000 {
		return nil, NewBusinessError("INVALID_REVIEW", "Review reason is too long", ErrInvalidReviewNote)
	}

	row, err := f.analysisRepo.ByID(ctx, req.AnalysisResultID)
	if err != nil {
		return nil, NewBusinessError("REPORT_LOOKUP_FAILED", "Failed to lookup report", err)
	}
	if row == nil {
		return nil, NewBusinessError("REPORT_NOT_FOUND", "Report not found", ErrReportNotFound)
	}

	if err := f.analysisRepo.SetAdminVerdict(ctx, row.ID, adminVerdict, reason, req.AdminID); err != nil {
		return nil, NewBusinessError("REPORT_REVIEW_FAILED", "Failed to record review", err)
	}

	ad, err := f.adRepo.ByID(ctx, row.AdvertisementID)
	if err != nil || ad == nil {
		f.logger.Printf("report: advertisement %d missing for review notification: %v", row.AdvertisementID, err)
	} else if err := f.notifier.Notify(ctx, ad.UserID, models.NotificationTypeAdminReview, adminReviewMessage(ad.Title, adminVerdict, reason)); err != nil {
		f.logger.Printf("report: review notification not sent advertisement_id=%d: %v", ad.ID, err)
	}

	f.logger.Printf("report: analysis_result_id=%d %s by admin %d", row.ID, adminVerdict, req.AdminID)

	return &dto.ReviewReportResponse{
		Message:          fmt.Sprintf("Advertisement %s successfully", adminVerdict),
		AnalysisResultID: row.ID,
		AdminVerdict:     adminVerdict,
	}, nil
}

func adminReviewMessage(title, adminVerdict, reason string) string {
	msg := fmt.Sprintf("Your advertisement \"%s\" has been %s.", title, adminVerdict)
	if reason != "" {
		msg += " Reason: " + reason
	}
	return msg
}

// ExportReports renders every report matching the filter as an XLSX workbook
func (f *ReportFlowImpl) ExportReports(ctx context.Context, req *dto.ListReportsRequest) (string, []byte, error) {
	if req == nil {
		req = &dto.ListReportsRequest{}
	}
	filter := reportFilter(req)

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()
	xl.SetSheetName(xl.GetSheetName(0), reportSheetName)

	header := []string{
		"analysis_result_id", "advertisement_id", "title", "type", "status", "verdict", "reason",
		"call_required", "admin_verdict", "admin_reason", "user_name", "user_email", "user_sector",
		"created_at", "finalized_at",
	}
	if err := xl.SetSheetRow(reportSheetName, "A1", &header); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel header", err)
	}

	line := 2
	for offset := 0; ; offset += exportBatchSize {
		rows, err := f.analysisRepo.ListReports(ctx, filter, exportBatchSize, offset)
		if err != nil {
			return "", nil, NewBusinessError("REPORT_LIST_FAILED", "Failed to list reports", err)
		}
		for _, r := range rows {
			finalized := ""
			if r.FinalizedAt != nil {
				finalized = r.FinalizedAt.UTC().Format(time.RFC3339)
			}
			record := []string{
				strconv.FormatUint(uint64(r.AnalysisResultID), 10),
				strconv.FormatUint(uint64(r.AdvertisementID), 10),
				r.Title,
				r.Type.String(),
				r.Status.String(),
				deref(r.Verdict),
				deref(r.Reason),
				strconv.FormatBool(r.CallRequired),
				deref(r.AdminVerdict),
				deref(r.AdminReason),
				r.UserName,
				r.UserEmail,
				r.UserSector,
				r.AdCreatedAt.UTC().Format(time.RFC3339),
				finalized,
			}
			cellRef, _ := excelize.CoordinatesToCellName(1, line)
			if err := xl.SetSheetRow(reportSheetName, cellRef, &record); err != nil {
				return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel row", err)
			}
			line++
		}
		if len(rows) < exportBatchSize {
			break
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("compliance_reports_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	return filename, buf.Bytes(), nil
}
