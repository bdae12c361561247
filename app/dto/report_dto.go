package dto

import (
	"encoding/json"
	"time"
)

// ListReportsRequest pages through reports; UserID is set for advertiser listings
type ListReportsRequest struct {
	UserID       *uint  `json:"-"`
	Page         int    `query:"page" validate:"omitempty,min=1"`
	Limit        int    `query:"limit" validate:"omitempty,min=1,max=100"`
	Verdict      string `query:"verdict" validate:"omitempty,oneof=pass fail manual_review error"`
	AdminVerdict string `query:"admin_verdict" validate:"omitempty,oneof=approved rejected"`
}

// ReportItem is one advertisement with its pipeline outcome
type ReportItem struct {
	AnalysisResultID uint            `json:"analysis_result_id"`
	AdvertisementID  uint            `json:"advertisement_id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Type             string          `json:"type"`
	Status           string          `json:"status"`
	Verdict          string          `json:"verdict,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	CallRequired     bool            `json:"call_required"`
	Report           json.RawMessage `json:"report,omitempty"`
	AdminVerdict     string          `json:"admin_verdict,omitempty"`
	AdminReason      string          `json:"admin_reason,omitempty"`
	ImageURLs        []string        `json:"image_urls"`
	VideoURLs        []string        `json:"video_urls"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	FinalizedAt      *time.Time      `json:"finalized_at,omitempty"`

	// owner details, admin listings only
	UserID     uint   `json:"user_id,omitempty"`
	UserName   string `json:"user_name,omitempty"`
	UserEmail  string `json:"user_email,omitempty"`
	UserSector string `json:"user_sector,omitempty"`
}

// ListReportsResponse represents a paginated list of reports
type ListReportsResponse struct {
	Message    string         `json:"message"`
	Items      []ReportItem   `json:"items"`
	Pagination PaginationInfo `json:"pagination"`
}

// ReviewReportRequest is an admin override of a report
type ReviewReportRequest struct {
	AnalysisResultID uint   `json:"-"`
	AdminID          uint   `json:"-"`
	Reason           string `json:"reason" validate:"omitempty,max=2000"`
}

// ReviewReportResponse acknowledges an admin override
type ReviewReportResponse struct {
	Message          string `json:"message"`
	AnalysisResultID uint   `json:"analysis_result_id"`
	AdminVerdict     string `json:"admin_verdict"`
}
