package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/AdGuard-AI/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PipelineStatus is the position of an advertisement in the compliance pipeline
type PipelineStatus int

const (
	PipelineStatusUploading          PipelineStatus = 0
	PipelineStatusComplianceDone     PipelineStatus = 1
	PipelineStatusDoubts             PipelineStatus = 2
	PipelineStatusCalling            PipelineStatus = 3
	PipelineStatusPostCallCompliance PipelineStatus = 4
	PipelineStatusGeneratingReport   PipelineStatus = 5
	PipelineStatusFinished           PipelineStatus = 6
)

// String returns the name exposed by the status endpoint
func (s PipelineStatus) String() string {
	switch s {
	case PipelineStatusUploading:
		return "uploading"
	case PipelineStatusComplianceDone:
		return "compliance_in_progress"
	case PipelineStatusDoubts:
		return "got_doubts"
	case PipelineStatusCalling:
		return "calling"
	case PipelineStatusPostCallCompliance:
		return "post_call_compliance"
	case PipelineStatusGeneratingReport:
		return "generating_reports"
	case PipelineStatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Valid checks if the status is valid
func (s PipelineStatus) Valid() bool {
	return s >= PipelineStatusUploading && s <= PipelineStatusFinished
}

// IsTerminal reports whether the pipeline has finished
func (s PipelineStatus) IsTerminal() bool {
	return s == PipelineStatusFinished
}

// CanTransitionTo reports whether next is reachable from s. Status never moves
// backwards; rewriting the same status is allowed so markers can be appended.
func (s PipelineStatus) CanTransitionTo(next PipelineStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.IsTerminal() {
		return next == s
	}
	return next >= s
}

// Scan implements the sql.Scanner interface for PipelineStatus
func (s *PipelineStatus) Scan(value any) error {
	if value == nil {
		*s = PipelineStatusUploading
		return nil
	}

	switch v := value.(type) {
	case int64:
		*s = PipelineStatus(v)
	case int32:
		*s = PipelineStatus(v)
	case int:
		*s = PipelineStatus(v)
	default:
		return fmt.Errorf("cannot scan %T into PipelineStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for PipelineStatus
func (s PipelineStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid PipelineStatus: %d", int(s))
	}
	return int64(s), nil
}

// Verdict is the outcome of a compliance evaluation
type Verdict string

const (
	VerdictPass                Verdict = "pass"
	VerdictFail                Verdict = "fail"
	VerdictManualReview        Verdict = "manual_review"
	VerdictClarificationNeeded Verdict = "clarification_needed"
	VerdictError               Verdict = "error"
)

func (v Verdict) String() string {
	return string(v)
}

// Valid checks if the verdict is one of the known values
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPass, VerdictFail, VerdictManualReview,
		VerdictClarificationNeeded, VerdictError:
		return true
	default:
		return false
	}
}

// IsFinal reports whether v may be stored on a finished pipeline
func (v Verdict) IsFinal() bool {
	return v.Valid() && v != VerdictClarificationNeeded
}

// Admin override values
const (
	AdminVerdictApproved = "approved"
	AdminVerdictRejected = "rejected"
)

// Execution time markers recorded on AnalysisResult and CallLog
const (
	MarkerUploadStarted       = "upload_started"
	MarkerMediaUploaded       = "media_uploaded"
	MarkerComplianceStarted   = "compliance_started"
	MarkerComplianceCompleted = "compliance_completed"
	MarkerComplianceFailed    = "compliance_failed"
	MarkerDoubtsRaised        = "doubts_raised"
	MarkerCallScheduled       = "call_scheduled"
	MarkerCallStarted         = "call_started"
	MarkerCallCompleted       = "call_completed"
	MarkerCallTimeout         = "call_timeout"
	MarkerCallFailed          = "call_failed"
	MarkerTranscriptFetched   = "transcript_fetched"
	MarkerPostCallCompleted   = "post_call_completed"
	MarkerReportGenerated     = "report_generated"
	MarkerPipelineFailed      = "pipeline_failed"
)

// AnalysisResult tracks one advertisement through the pipeline
type AnalysisResult struct {
	ID               uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	AdvertisementID  uint              `gorm:"not null;uniqueIndex" json:"advertisement_id"`
	UserID           uint              `gorm:"not null;index" json:"user_id"`
	MediaID          *uint             `json:"media_id,omitempty"`
	Status           PipelineStatus    `gorm:"type:smallint;not null;default:0;index" json:"status"`
	ComplianceResult datatypes.JSON    `gorm:"type:jsonb" json:"compliance_result,omitempty"`
	Verdict          *string           `gorm:"type:varchar(32)" json:"verdict,omitempty"`
	Reason           *string           `gorm:"type:text" json:"reason,omitempty"`
	CallRequired     bool              `gorm:"not null;default:false" json:"call_required"`
	ReportData       datatypes.JSON    `gorm:"type:jsonb" json:"report_data,omitempty"`
	ExecutionTime    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"execution_time"`
	AdminVerdict     *string           `gorm:"type:varchar(32)" json:"admin_verdict,omitempty"`
	AdminReason      *string           `gorm:"type:text" json:"admin_reason,omitempty"`
	ApprovedBy       *uint             `json:"approved_by,omitempty"`
	FinalizedAt      *time.Time        `json:"finalized_at,omitempty"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"updated_at"`

	Advertisement *Advertisement `gorm:"foreignKey:AdvertisementID;references:ID;constraint:OnDelete:CASCADE" json:"advertisement,omitempty"`
}

func (AnalysisResult) TableName() string { return "analysis_results" }

func (a *AnalysisResult) BeforeCreate(tx *gorm.DB) error {
	if a.ExecutionTime == nil {
		a.ExecutionTime = datatypes.JSONMap{}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utils.UTCNow()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	return nil
}

// IsFinalized reports whether the report has been written
func (a *AnalysisResult) IsFinalized() bool {
	return a.FinalizedAt != nil && a.Status.IsTerminal()
}

// VerdictValue returns the stored verdict or empty string
func (a *AnalysisResult) VerdictValue() Verdict {
	if a.Verdict == nil {
		return ""
	}
	return Verdict(*a.Verdict)
}

// HasMarker reports whether an execution time marker was recorded
func (a *AnalysisResult) HasMarker(marker string) bool {
	_, ok := a.ExecutionTime[marker]
	return ok
}

// MergeMarkers appends markers without overwriting earlier timestamps
func MergeMarkers(existing datatypes.JSONMap, at time.Time, markers ...string) datatypes.JSONMap {
	merged := datatypes.JSONMap{}
	for k, v := range existing {
		merged[k] = v
	}
	stamp := at.UTC().Format(time.RFC3339Nano)
	for _, m := range markers {
		if _, ok := merged[m]; ok {
			continue
		}
		merged[m] = stamp
	}
	return merged
}

// AnalysisResultFilter represents filter criteria for analysis result queries
type AnalysisResultFilter struct {
	ID              *uint           `json:"id,omitempty"`
	AdvertisementID *uint           `json:"advertisement_id,omitempty"`
	UserID          *uint           `json:"user_id,omitempty"`
	Status          *PipelineStatus `json:"status,omitempty"`
	Verdict         *string         `json:"verdict,omitempty"`
	NotFinished     *bool           `json:"not_finished,omitempty"`
	UpdatedBefore   *time.Time      `json:"updated_before,omitempty"`
}
