package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/AdGuard-AI/models"
	"github.com/amirphl/AdGuard-AI/utils"
	"gorm.io/gorm"
)

// AdvertisementRepositoryImpl implements AdvertisementRepository interface
type AdvertisementRepositoryImpl struct {
	*BaseRepository[models.Advertisement, models.AdvertisementFilter]
}

// NewAdvertisementRepository creates a new advertisement repository
func NewAdvertisementRepository(db *gorm.DB) AdvertisementRepository {
	return &AdvertisementRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Advertisement, models.AdvertisementFilter](db),
	}
}

// CreateWithAnalysis inserts the advertisement and its analysis result in one transaction
func (r *AdvertisementRepositoryImpl) CreateWithAnalysis(ctx context.Context, ad *models.Advertisement, result *models.AnalysisResult) error {
	return WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		if err := db.Create(ad).Error; err != nil {
			return fmt.Errorf("failed to create advertisement: %w", err)
		}

		result.AdvertisementID = ad.ID
		result.UserID = ad.UserID
		result.ExecutionTime = models.MergeMarkers(result.ExecutionTime, utils.UTCNow(), models.MarkerUploadStarted)
		if err := db.Create(result).Error; err != nil {
			return fmt.Errorf("failed to create analysis result: %w", err)
		}

		return nil
	})
}

// ByIDWithUser retrieves an advertisement with its owner preloaded
func (r *AdvertisementRepositoryImpl) ByIDWithUser(ctx context.Context, id uint) (*models.Advertisement, error) {
	var ad models.Advertisement
	err := r.getDB(ctx).Preload("User").Where("id = ?", id).Take(&ad).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load advertisement %d: %w", id, err)
	}
	return &ad, nil
}

// Delete removes the advertisement and, through cascades, its pipeline rows
func (r *AdvertisementRepositoryImpl) Delete(ctx context.Context, id uint) error {
	return r.write(ctx, func(db *gorm.DB) error {
		if err := db.Delete(&models.Advertisement{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete advertisement %d: %w", id, err)
		}
		return nil
	})
}

func (r *AdvertisementRepositoryImpl) applyFilter(query *gorm.DB, filter models.AdvertisementFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// ByFilter retrieves advertisements based on filter criteria
func (r *AdvertisementRepositoryImpl) ByFilter(ctx context.Context, filter models.AdvertisementFilter, orderBy string, limit, offset int) ([]*models.Advertisement, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.Advertisement{}), filter)
	query = paginate(query, orderBy, limit, offset)

	var ads []*models.Advertisement
	if err := query.Find(&ads).Error; err != nil {
		return nil, err
	}
	return ads, nil
}

// Count returns the number of advertisements matching the filter
func (r *AdvertisementRepositoryImpl) Count(ctx context.Context, filter models.AdvertisementFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Advertisement{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any advertisement matches the filter
func (r *AdvertisementRepositoryImpl) Exists(ctx context.Context, filter models.AdvertisementFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
