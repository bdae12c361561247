package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// ComplianceReport is the document persisted as AnalysisResult.ReportData
type ComplianceReport struct {
	AdvertisementID        uint            `json:"advertisement_id"`
	Title                  string          `json:"title"`
	InitialVerdict         string          `json:"initial_verdict"`
	FinalVerdict           string          `json:"final_verdict"`
	Reason                 string          `json:"reason"`
	ComplianceCheckDetails json.RawMessage `json:"compliance_check_details"`
	PostCallDetails        json.RawMessage `json:"post_call_details"`
	GeneratedAt            time.Time       `json:"generated_at"`
}

// ReportRow is an analysis result joined with its advertisement, owner and media
type ReportRow struct {
	AnalysisResultID uint              `gorm:"column:analysis_result_id" json:"analysis_result_id"`
	AdvertisementID  uint              `gorm:"column:advertisement_id" json:"advertisement_id"`
	UserID           uint              `gorm:"column:user_id" json:"user_id"`
	Status           PipelineStatus    `gorm:"column:status" json:"status"`
	Verdict          *string           `gorm:"column:verdict" json:"verdict,omitempty"`
	Reason           *string           `gorm:"column:reason" json:"reason,omitempty"`
	CallRequired     bool              `gorm:"column:call_required" json:"call_required"`
	ReportData       datatypes.JSON    `gorm:"column:report_data" json:"report_data,omitempty"`
	AdminVerdict     *string           `gorm:"column:admin_verdict" json:"admin_verdict,omitempty"`
	AdminReason      *string           `gorm:"column:admin_reason" json:"admin_reason,omitempty"`
	ApprovedBy       *uint             `gorm:"column:approved_by" json:"approved_by,omitempty"`
	FinalizedAt      *time.Time        `gorm:"column:finalized_at" json:"finalized_at,omitempty"`
	UpdatedAt        time.Time         `gorm:"column:updated_at" json:"updated_at"`
	Title            string            `gorm:"column:title" json:"title"`
	Description      string            `gorm:"column:description" json:"description"`
	Type             AdvertisementType `gorm:"column:type" json:"type"`
	AdCreatedAt      time.Time         `gorm:"column:ad_created_at" json:"ad_created_at"`
	UserName         string            `gorm:"column:user_name" json:"user_name"`
	UserEmail        string            `gorm:"column:user_email" json:"user_email"`
	UserSector       string            `gorm:"column:user_sector" json:"user_sector"`
	ImageURLs        pq.StringArray    `gorm:"column:image_urls;type:text[]" json:"image_urls"`
	VideoURLs        pq.StringArray    `gorm:"column:video_urls;type:text[]" json:"video_urls"`
}

// ReportFilter narrows report listings
type ReportFilter struct {
	UserID       *uint   `json:"user_id,omitempty"`
	Verdict      *string `json:"verdict,omitempty"`
	AdminVerdict *string `json:"admin_verdict,omitempty"`
	Finished     *bool   `json:"finished,omitempty"`
}
