package dto

import (
	"io"
	"time"

	"github.com/amirphl/AdGuard-AI/models"
)

// UploadedFile is one multipart file handed from the handler to the flow
type UploadedFile struct {
	Filename    string                        `json:"-"`
	ContentType string                        `json:"-"`
	Size        int64                         `json:"-"`
	Open        func() (io.ReadCloser, error) `json:"-"`
}

// SubmitAdvertisementRequest carries a multipart advertisement submission
type SubmitAdvertisementRequest struct {
	UserID         uint           `json:"-"`
	Title          string         `form:"title" validate:"required,max=255"`
	Description    string         `form:"description" validate:"required"`
	Type           string         `form:"type" validate:"required,oneof=0 1 2"`
	TargetRegion   string         `form:"target_region" validate:"omitempty,max=255"`
	Language       string         `form:"language" validate:"omitempty,max=50"`
	LandingURL     string         `form:"landing_url" validate:"omitempty,url"`
	TargetAudience string         `form:"target_audience"`
	TargetAgeGroup string         `form:"target_age_group"`
	Files          []UploadedFile `json:"-"`
}

// SubmitAdvertisementResponse is the flat 201 body clients poll from
type SubmitAdvertisementResponse struct {
	Success             bool   `json:"success"`
	Status              string `json:"status"`
	Message             string `json:"message"`
	AdvertisementID     uint   `json:"advertisement_id"`
	ProgressTrackingURL string `json:"progress_tracking_url"`
}

// AdvertisementStatusResponse is the status projection
type AdvertisementStatusResponse struct {
	AdvertisementID uint                   `json:"advertisement_id"`
	CurrentStatus   string                 `json:"current_status"`
	Stages          []models.StageProgress `json:"stages"`
	LastUpdated     time.Time              `json:"last_updated"`
}
