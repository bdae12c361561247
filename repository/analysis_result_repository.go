package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/AdGuard-AI/models"
	"github.com/amirphl/AdGuard-AI/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AnalysisResultRepositoryImpl implements AnalysisResultRepository interface
type AnalysisResultRepositoryImpl struct {
	*BaseRepository[models.AnalysisResult, models.AnalysisResultFilter]
}

// NewAnalysisResultRepository creates a new analysis result repository
func NewAnalysisResultRepository(db *gorm.DB) AnalysisResultRepository {
	return &AnalysisResultRepositoryImpl{
		BaseRepository: NewBaseRepository[models.AnalysisResult, models.AnalysisResultFilter](db),
	}
}

// ByAdvertisementID retrieves the pipeline row of an advertisement
func (r *AnalysisResultRepositoryImpl) ByAdvertisementID(ctx context.Context, advertisementID uint) (*models.AnalysisResult, error) {
	var row models.AnalysisResult
	err := r.getDB(ctx).Where("advertisement_id = ?", advertisementID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find analysis result for advertisement %d: %w", advertisementID, err)
	}
	return &row, nil
}

// EnsureForAdvertisement creates a status-0 row when none exists and returns the current row
func (r *AnalysisResultRepositoryImpl) EnsureForAdvertisement(ctx context.Context, advertisementID, userID uint) (*models.AnalysisResult, error) {
	row := &models.AnalysisResult{
		AdvertisementID: advertisementID,
		UserID:          userID,
		Status:          models.PipelineStatusUploading,
	}

	err := r.write(ctx, func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "advertisement_id"}},
			DoNothing: true,
		}).Create(row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure analysis result for advertisement %d: %w", advertisementID, err)
	}

	return r.ByAdvertisementID(ctx, advertisementID)
}

// UpdateStatus locks the row, checks the transition and appends markers
func (r *AnalysisResultRepositoryImpl) UpdateStatus(ctx context.Context, advertisementID uint, status models.PipelineStatus, markers ...string) (*models.AnalysisResult, error) {
	var updated *models.AnalysisResult

	err := WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		var row models.AnalysisResult
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("advertisement_id = ?", advertisementID).
			Take(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAnalysisResultNotFound
			}
			return err
		}

		if !row.Status.CanTransitionTo(status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, row.Status, status)
		}

		now := utils.UTCNow()
		row.ExecutionTime = models.MergeMarkers(row.ExecutionTime, now, markers...)
		row.Status = status
		row.UpdatedAt = now

		err = db.Model(&models.AnalysisResult{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"status":         status,
				"execution_time": row.ExecutionTime,
				"updated_at":     now,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}

		updated = &row
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// AttachMedia links the stored media row
func (r *AnalysisResultRepositoryImpl) AttachMedia(ctx context.Context, advertisementID, mediaID uint) error {
	return r.updateColumns(ctx, advertisementID, map[string]any{"media_id": mediaID})
}

// SetComplianceResult stores the raw engine response verbatim
func (r *AnalysisResultRepositoryImpl) SetComplianceResult(ctx context.Context, advertisementID uint, raw datatypes.JSON) error {
	return r.updateColumns(ctx, advertisementID, map[string]any{"compliance_result": raw})
}

// SetVerdict stores the normalized verdict
func (r *AnalysisResultRepositoryImpl) SetVerdict(ctx context.Context, advertisementID uint, verdict models.Verdict, reason string, callRequired bool) error {
	return r.updateColumns(ctx, advertisementID, map[string]any{
		"verdict":       string(verdict),
		"reason":        reason,
		"call_required": callRequired,
	})
}

func (r *AnalysisResultRepositoryImpl) updateColumns(ctx context.Context, advertisementID uint, columns map[string]any) error {
	columns["updated_at"] = utils.UTCNow()

	return r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.AnalysisResult{}).
			Where("advertisement_id = ?", advertisementID).
			Updates(columns)
		if res.Error != nil {
			return fmt.Errorf("failed to update analysis result for advertisement %d: %w", advertisementID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAnalysisResultNotFound
		}
		return nil
	})
}

// Finalize persists the report with status 6 unless the row is already finalized
func (r *AnalysisResultRepositoryImpl) Finalize(ctx context.Context, advertisementID uint, verdict models.Verdict, reason string, report datatypes.JSON, at time.Time) (bool, error) {
	var applied bool

	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.AnalysisResult{}).
			Where("advertisement_id = ? AND finalized_at IS NULL", advertisementID).
			Updates(map[string]any{
				"status":       models.PipelineStatusFinished,
				"verdict":      string(verdict),
				"reason":       reason,
				"report_data":  report,
				"finalized_at": at,
				"updated_at":   at,
				// existing keys win on the right-hand side of ||
				"execution_time": gorm.Expr("jsonb_build_object(?::text, ?::text) || execution_time",
					models.MarkerReportGenerated, at.UTC().Format(time.RFC3339Nano)),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to finalize advertisement %d: %w", advertisementID, res.Error)
		}
		applied = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// SetAdminVerdict records an administrator override without touching pipeline status
func (r *AnalysisResultRepositoryImpl) SetAdminVerdict(ctx context.Context, id uint, adminVerdict, reason string, approvedBy uint) error {
	return r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.AnalysisResult{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"admin_verdict": adminVerdict,
				"admin_reason":  reason,
				"approved_by":   approvedBy,
				"updated_at":    utils.UTCNow(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to set admin verdict on %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAnalysisResultNotFound
		}
		return nil
	})
}

// ListStale returns unfinished pipelines that have not moved since updatedBefore
func (r *AnalysisResultRepositoryImpl) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.AnalysisResult, error) {
	notFinished := true
	return r.ByFilter(ctx, models.AnalysisResultFilter{
		NotFinished:   &notFinished,
		UpdatedBefore: &updatedBefore,
	}, "updated_at ASC", limit, 0)
}

func (r *AnalysisResultRepositoryImpl) reportQuery(ctx context.Context, filter models.ReportFilter) *gorm.DB {
	query := r.getDB(ctx).Table("analysis_results AS ar").
		Joins("JOIN advertisements a ON a.id = ar.advertisement_id").
		Joins("JOIN users u ON u.id = ar.user_id").
		Joins("LEFT JOIN media m ON m.id = ar.media_id")

	if filter.UserID != nil {
		query = query.Where("ar.user_id = ?", *filter.UserID)
	}
	if filter.Verdict != nil {
		query = query.Where("ar.verdict = ?", *filter.Verdict)
	}
	if filter.AdminVerdict != nil {
		query = query.Where("ar.admin_verdict = ?", *filter.AdminVerdict)
	}
	if filter.Finished != nil {
		if *filter.Finished {
			query = query.Where("ar.status = ?", models.PipelineStatusFinished)
		} else {
			query = query.Where("ar.status <> ?", models.PipelineStatusFinished)
		}
	}
	return query
}

// ListReports lists analysis results joined with advertisement, owner and media
func (r *AnalysisResultRepositoryImpl) ListReports(ctx context.Context, filter models.ReportFilter, limit, offset int) ([]*models.ReportRow, error) {
	query := r.reportQuery(ctx, filter).Select(`
		ar.id AS analysis_result_id, ar.advertisement_id, ar.user_id, ar.status, ar.verdict, ar.reason,
		ar.call_required, ar.report_data, ar.admin_verdict, ar.admin_reason, ar.approved_by,
		ar.finalized_at, ar.updated_at,
		a.title, a.description, a.type, a.created_at AS ad_created_at,
		u.name AS user_name, u.email AS user_email, COALESCE(u.sector, '') AS user_sector,
		COALESCE(m.image_urls, '{}') AS image_urls, COALESCE(m.video_urls, '{}') AS video_urls`)
	query = paginate(query, "ar.updated_at DESC", limit, offset)

	var rows []*models.ReportRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return rows, nil
}

// CountReports counts rows ListReports would return without paging
func (r *AnalysisResultRepositoryImpl) CountReports(ctx context.Context, filter models.ReportFilter) (int64, error) {
	var count int64
	if err := r.reportQuery(ctx, filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return count, nil
}

func (r *AnalysisResultRepositoryImpl) applyFilter(query *gorm.DB, filter models.AnalysisResultFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.AdvertisementID != nil {
		query = query.Where("advertisement_id = ?", *filter.AdvertisementID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Verdict != nil {
		query = query.Where("verdict = ?", *filter.Verdict)
	}
	if utils.IsTrue(filter.NotFinished) {
		query = query.Where("status <> ?", models.PipelineStatusFinished)
	}
	if filter.UpdatedBefore != nil {
		query = query.Where("updated_at < ?", *filter.UpdatedBefore)
	}
	return query
}

// ByFilter retrieves analysis results based on filter criteria
func (r *AnalysisResultRepositoryImpl) ByFilter(ctx context.Context, filter models.AnalysisResultFilter, orderBy string, limit, offset int) ([]*models.AnalysisResult, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.AnalysisResult{}), filter)
	query = paginate(query, orderBy, limit, offset)

	var rows []*models.AnalysisResult
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of analysis results matching the filter
func (r *AnalysisResultRepositoryImpl) Count(ctx context.Context, filter models.AnalysisResultFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.AnalysisResult{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any analysis result matches the filter
func (r *AnalysisResultRepositoryImpl) Exists(ctx context.Context, filter models.AnalysisResultFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
