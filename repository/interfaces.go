// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/AdGuard-AI/models"
	"gorm.io/datatypes"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

var (
	ErrInvalidStatusTransition = errors.New("invalid pipeline status transition")
	ErrAnalysisResultNotFound  = errors.New("analysis result not found")
	ErrActiveCallExists        = errors.New("advertisement already has an active call")
)

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// UserRepository defines read operations for advertisers
type UserRepository interface {
	Repository[models.User, models.UserFilter]
	ByEmail(ctx context.Context, email string) (*models.User, error)
}

// AdvertisementRepository defines operations for advertisements
type AdvertisementRepository interface {
	Repository[models.Advertisement, models.AdvertisementFilter]
	// CreateWithAnalysis inserts the advertisement and its status-0 analysis result atomically
	CreateWithAnalysis(ctx context.Context, ad *models.Advertisement, result *models.AnalysisResult) error
	ByIDWithUser(ctx context.Context, id uint) (*models.Advertisement, error)
	// Delete removes the advertisement; dependent rows cascade
	Delete(ctx context.Context, id uint) error
}

// AnalysisResultRepository defines operations for pipeline state
type AnalysisResultRepository interface {
	Repository[models.AnalysisResult, models.AnalysisResultFilter]
	ByAdvertisementID(ctx context.Context, advertisementID uint) (*models.AnalysisResult, error)
	// EnsureForAdvertisement returns the row, creating it with status 0 when missing
	EnsureForAdvertisement(ctx context.Context, advertisementID, userID uint) (*models.AnalysisResult, error)
	// UpdateStatus moves the pipeline forward and appends execution markers under a row lock
	UpdateStatus(ctx context.Context, advertisementID uint, status models.PipelineStatus, markers ...string) (*models.AnalysisResult, error)
	AttachMedia(ctx context.Context, advertisementID, mediaID uint) error
	SetComplianceResult(ctx context.Context, advertisementID uint, raw datatypes.JSON) error
	SetVerdict(ctx context.Context, advertisementID uint, verdict models.Verdict, reason string, callRequired bool) error
	// Finalize writes the report and status 6 once; applied is false when it was already finalized
	Finalize(ctx context.Context, advertisementID uint, verdict models.Verdict, reason string, report datatypes.JSON, at time.Time) (applied bool, err error)
	SetAdminVerdict(ctx context.Context, id uint, adminVerdict, reason string, approvedBy uint) error
	ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.AnalysisResult, error)
	ListReports(ctx context.Context, filter models.ReportFilter, limit, offset int) ([]*models.ReportRow, error)
	CountReports(ctx context.Context, filter models.ReportFilter) (int64, error)
}

// MediaRepository defines operations for stored media
type MediaRepository interface {
	Repository[models.Media, models.MediaFilter]
	ByAdvertisementID(ctx context.Context, advertisementID uint) (*models.Media, error)
}

// CallLogRepository defines operations for clarification calls
type CallLogRepository interface {
	Repository[models.CallLog, models.CallLogFilter]
	ActiveByAdvertisement(ctx context.Context, advertisementID uint) (*models.CallLog, error)
	MarkStarted(ctx context.Context, id uint, externalCallID string) error
	MarkCompleted(ctx context.Context, id uint, marker string) error
	SetTranscript(ctx context.Context, id uint, transcript datatypes.JSON) error
}

// NotificationRepository defines operations for user notifications
type NotificationRepository interface {
	Repository[models.Notification, models.NotificationFilter]
	ListByUser(ctx context.Context, userID uint, limit, offset int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id, userID uint) (bool, error)
}
