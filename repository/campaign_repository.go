package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CampaignRepositoryImpl implements the CampaignRepository interface
type CampaignRepositoryImpl struct {
	*BaseRepository[models.Campaign]
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &CampaignRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Campaign](db),
	}
}

// ByUUID retrieves a campaign by UUID
func (r *CampaignRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	filter := models.CampaignFilter{UUID: &id}
	campaigns, err := r.ByFilter(ctx, filter, "", 1, 0)
	if err != nil {
		return nil, err
	}

	if len(campaigns) == 0 {
		return nil, nil
	}

	return campaigns[0], nil
}

// StatusOf reads only the status column
func (r *CampaignRepositoryImpl) StatusOf(ctx context.Context, id uint) (models.CampaignStatus, error) {
	db := r.getDB(ctx)

	var status models.CampaignStatus
	err := db.Model(&models.Campaign{}).
		Select("status").
		Where("id = ?", id).
		Take(&status).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read campaign %d status: %w", id, err)
	}

	return status, nil
}

// TransitionStatus moves the campaign to `to` only if its current status is one of `from`.
// It returns false when no row matched.
func (r *CampaignRepositoryImpl) TransitionStatus(ctx context.Context, id uint, from []models.CampaignStatus, to models.CampaignStatus, change models.CampaignTransition) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition to %s needs at least one source status", to)
	}

	db := r.getDB(ctx)

	updates := map[string]any{
		"status":     to,
		"updated_at": utils.UTCNow(),
	}
	if change.ScheduledAt != nil {
		updates["scheduled_at"] = *change.ScheduledAt
	}
	if change.StartedAt != nil {
		updates["started_at"] = *change.StartedAt
	}
	if change.FinishedAt != nil {
		updates["finished_at"] = *change.FinishedAt
	}
	if change.FailureReason != nil {
		updates["failure_reason"] = *change.FailureReason
	}
	if change.DeliveredCount != nil {
		updates["delivered_count"] = *change.DeliveredCount
	}
	if change.FailedCount != nil {
		updates["failed_count"] = *change.FailedCount
	}
	switch {
	case change.RecipientsCount != nil:
		updates["recipients_count"] = *change.RecipientsCount
	case change.SettleRecipients:
		updates["recipients_count"] = gorm.Expr("delivered_count + failed_count")
	}

	res := db.Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to transition campaign %d to %s: %w", id, to, res.Error)
	}

	return res.RowsAffected == 1, nil
}

// ResetProgress writes the counters computed at dispatch start while the campaign is sending
func (r *CampaignRepositoryImpl) ResetProgress(ctx context.Context, id uint, recipients, delivered, failed int64) (bool, error) {
	if delivered+failed > recipients {
		return false, fmt.Errorf("campaign %d: %d outcomes exceed %d recipients", id, delivered+failed, recipients)
	}

	db := r.getDB(ctx)
	res := db.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", id, models.CampaignStatusSending).
		Updates(map[string]any{
			"recipients_count": recipients,
			"delivered_count":  delivered,
			"failed_count":     failed,
			"updated_at":       utils.UTCNow(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to reset campaign %d progress: %w", id, res.Error)
	}

	return res.RowsAffected == 1, nil
}

// IncrementOutcome adds terminal outcomes without ever letting them exceed recipients_count
func (r *CampaignRepositoryImpl) IncrementOutcome(ctx context.Context, id uint, delivered, failed int64) (bool, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.Campaign{}).
		Where("id = ? AND delivered_count + failed_count + ? <= recipients_count", id, delivered+failed).
		Updates(map[string]any{
			"delivered_count": gorm.Expr("delivered_count + ?", delivered),
			"failed_count":    gorm.Expr("failed_count + ?", failed),
			"updated_at":      utils.UTCNow(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to increment campaign %d outcomes: %w", id, res.Error)
	}

	return res.RowsAffected == 1, nil
}

// ExcludeRecipient removes one not-yet-resolved recipient from recipients_count
func (r *CampaignRepositoryImpl) ExcludeRecipient(ctx context.Context, id uint) (bool, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.Campaign{}).
		Where("id = ? AND recipients_count > delivered_count + failed_count", id).
		Updates(map[string]any{
			"recipients_count": gorm.Expr("recipients_count - 1"),
			"updated_at":       utils.UTCNow(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to exclude recipient from campaign %d: %w", id, res.Error)
	}

	return res.RowsAffected == 1, nil
}

// ListDue returns scheduled campaigns whose scheduled_at has passed
func (r *CampaignRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	status := models.CampaignStatusScheduled
	filter := models.CampaignFilter{Status: &status, ScheduledBefore: &now}
	return r.ByFilter(ctx, filter, "scheduled_at ASC, id ASC", limit, 0)
}

// ListStale returns sending campaigns that have not progressed since updatedBefore
func (r *CampaignRepositoryImpl) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Campaign, error) {
	status := models.CampaignStatusSending
	filter := models.CampaignFilter{Status: &status, UpdatedBefore: &updatedBefore}
	return r.ByFilter(ctx, filter, "updated_at ASC, id ASC", limit, 0)
}

// Delete removes a campaign together with its audience links and ledger rows
func (r *CampaignRepositoryImpl) Delete(ctx context.Context, id uint) error {
	return WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)
		if err := db.Where("delivery_record_id IN (?)",
			db.Model(&models.DeliveryRecord{}).Select("id").Where("campaign_id = ?", id),
		).Delete(&models.DeliveryAttempt{}).Error; err != nil {
			return fmt.Errorf("failed to delete delivery attempts: %w", err)
		}
		if err := db.Where("campaign_id = ?", id).Delete(&models.DeliveryRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete delivery records: %w", err)
		}
		if err := db.Where("campaign_id = ?", id).Delete(&models.CampaignRecipient{}).Error; err != nil {
			return fmt.Errorf("failed to delete campaign recipients: %w", err)
		}
		if err := db.Delete(&models.Campaign{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete campaign: %w", err)
		}
		return nil
	})
}

// ByFilter retrieves campaigns based on filter criteria
func (r *CampaignRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)

	var campaigns []*models.Campaign
	query := r.applyFilter(db, filter)

	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&campaigns).Error
	if err != nil {
		return nil, err
	}

	return campaigns, nil
}

// Count returns the number of campaigns matching the filter
func (r *CampaignRepositoryImpl) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.Campaign{}), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *CampaignRepositoryImpl) applyFilter(db *gorm.DB, filter models.CampaignFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.AccountID != nil {
		db = db.Where("account_id = ?", *filter.AccountID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.ScheduledBefore != nil {
		db = db.Where("scheduled_at <= ?", *filter.ScheduledBefore)
	}
	if filter.UpdatedBefore != nil {
		db = db.Where("updated_at < ?", *filter.UpdatedBefore)
	}

	return db
}
