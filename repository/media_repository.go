package repository

import (
	"context"

	"github.com/amirphl/AdGuard-AI/models"
	"gorm.io/gorm"
)

// MediaRepositoryImpl implements MediaRepository interface.
type MediaRepositoryImpl struct {
	*BaseRepository[models.Media, models.MediaFilter]
}

// NewMediaRepository creates a new media repository.
func NewMediaRepository(db *gorm.DB) MediaRepository {
	return &MediaRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Media, models.MediaFilter](db),
	}
}

// ByAdvertisementID retrieves the latest media row of an advertisement.
func (r *MediaRepositoryImpl) ByAdvertisementID(ctx context.Context, advertisementID uint) (*models.Media, error) {
	rows, err := r.ByFilter(ctx, models.MediaFilter{AdvertisementID: &advertisementID}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// applyFilter applies filter criteria to a GORM query.
func (r *MediaRepositoryImpl) applyFilter(query *gorm.DB, filter models.MediaFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.AdvertisementID != nil {
		query = query.Where("advertisement_id = ?", *filter.AdvertisementID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.AnalysisResultID != nil {
		query = query.Where("analysis_result_id = ?", *filter.AnalysisResultID)
	}
	return query
}

// ByFilter retrieves media rows based on filter criteria.
func (r *MediaRepositoryImpl) ByFilter(ctx context.Context, filter models.MediaFilter, orderBy string, limit, offset int) ([]*models.Media, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.Media{}), filter)
	query = paginate(query, orderBy, limit, offset)

	var rows []*models.Media
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns number of media rows matching filter.
func (r *MediaRepositoryImpl) Count(ctx context.Context, filter models.MediaFilter) (int64, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.Media{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any media row matches the filter.
func (r *MediaRepositoryImpl) Exists(ctx context.Context, filter models.MediaFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
