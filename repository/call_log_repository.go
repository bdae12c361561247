package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/AdGuard-AI/models"
	"github.com/amirphl/AdGuard-AI/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CallLogRepositoryImpl implements CallLogRepository interface
type CallLogRepositoryImpl struct {
	*BaseRepository[models.CallLog, models.CallLogFilter]
}

// NewCallLogRepository creates a new call log repository
func NewCallLogRepository(db *gorm.DB) CallLogRepository {
	return &CallLogRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CallLog, models.CallLogFilter](db),
	}
}

// Save inserts a call log. The partial unique index on active calls turns a
// second active call for the same advertisement into ErrActiveCallExists.
func (r *CallLogRepositoryImpl) Save(ctx context.Context, entity *models.CallLog) error {
	err := r.write(ctx, func(db *gorm.DB) error {
		return db.Create(entity).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrActiveCallExists
		}
		return fmt.Errorf("failed to save call log: %w", err)
	}
	return nil
}

// ActiveByAdvertisement returns the scheduled or in-progress call, if any
func (r *CallLogRepositoryImpl) ActiveByAdvertisement(ctx context.Context, advertisementID uint) (*models.CallLog, error) {
	active := true
	rows, err := r.ByFilter(ctx, models.CallLogFilter{AdvertisementID: &advertisementID, ActiveOnly: &active}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// MarkStarted stores the vendor call id and moves the call to in_call
func (r *CallLogRepositoryImpl) MarkStarted(ctx context.Context, id uint, externalCallID string) error {
	return r.transition(ctx, id, models.CallLogStatusInCall, map[string]any{"external_call_id": externalCallID}, models.MarkerCallStarted)
}

// MarkCompleted closes the call slot and records why
func (r *CallLogRepositoryImpl) MarkCompleted(ctx context.Context, id uint, marker string) error {
	return r.transition(ctx, id, models.CallLogStatusCompleted, nil, marker)
}

// SetTranscript stores the vendor transcript; nil stores SQL NULL
func (r *CallLogRepositoryImpl) SetTranscript(ctx context.Context, id uint, transcript datatypes.JSON) error {
	var value any
	if len(transcript) > 0 {
		value = transcript
	}

	return r.write(ctx, func(db *gorm.DB) error {
		err := db.Model(&models.CallLog{}).
			Where("id = ?", id).
			Updates(map[string]any{"transcript": value, "updated_at": utils.UTCNow()}).Error
		if err != nil {
			return fmt.Errorf("failed to store transcript for call log %d: %w", id, err)
		}
		return nil
	})
}

func (r *CallLogRepositoryImpl) transition(ctx context.Context, id uint, status models.CallLogStatus, extra map[string]any, marker string) error {
	return WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		var row models.CallLog
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("call log %d not found", id)
			}
			return err
		}
		if status < row.Status {
			return fmt.Errorf("call log %d cannot move from %s to %s", id, row.Status, status)
		}

		now := utils.UTCNow()
		columns := map[string]any{
			"status":         status,
			"execution_time": models.MergeMarkers(row.ExecutionTime, now, marker),
			"updated_at":     now,
		}
		for k, v := range extra {
			columns[k] = v
		}

		if err := db.Model(&models.CallLog{}).Where("id = ?", id).Updates(columns).Error; err != nil {
			return fmt.Errorf("failed to update call log %d: %w", id, err)
		}
		return nil
	})
}

func (r *CallLogRepositoryImpl) applyFilter(query *gorm.DB, filter models.CallLogFilter) *gorm.DB {
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
	if utils.IsTrue(filter.ActiveOnly) {
		query = query.Where("status IN ?", []models.CallLogStatus{models.CallLogStatusScheduled, models.CallLogStatusInCall})
	}
	if filter.ExternalCallID != nil {
		query = query.Where("external_call_id = ?", *filter.ExternalCallID)
	}
	return query
}

// ByFilter retrieves call logs based on filter criteria
func (r *CallLogRepositoryImpl) ByFilter(ctx context.Context, filter models.CallLogFilter, orderBy string, limit, offset int) ([]*models.CallLog, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.CallLog{}), filter)
	query = paginate(query, orderBy, limit, offset)

	var rows []*models.CallLog
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of call logs matching the filter
func (r *CallLogRepositoryImpl) Count(ctx context.Context, filter models.CallLogFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.CallLog{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any call log matches the filter
func (r *CallLogRepositoryImpl) Exists(ctx context.Context, filter models.CallLogFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// SQLSTATE 23505 when the dialector does not translate errors
	return strings.Contains(err.Error(), "23505")
}
