package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecipientRepositoryImpl implements RecipientRepository
type RecipientRepositoryImpl struct {
	*BaseRepository[models.Recipient]
}

// NewRecipientRepository creates a new recipient repository
func NewRecipientRepository(db *gorm.DB) RecipientRepository {
	return &RecipientRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Recipient](db),
	}
}

// ByIDs loads recipients by id in a single round trip
func (r *RecipientRepositoryImpl) ByIDs(ctx context.Context, ids []uint) ([]*models.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	db := r.getDB(ctx)
	var recipients []*models.Recipient
	if err := db.Where("id = ANY(?)", pq.Array(uintsToInt64(ids))).
		Order("id ASC").
		Find(&recipients).Error; err != nil {
		return nil, fmt.Errorf("failed to load recipients: %w", err)
	}

	return recipients, nil
}

// MarkOptedOut sets the opt-out flag; an already opted-out recipient keeps its first timestamp
func (r *RecipientRepositoryImpl) MarkOptedOut(ctx context.Context, id uint, at time.Time) error {
	db := r.getDB(ctx)
	err := db.Model(&models.Recipient{}).
		Where("id = ? AND opted_out = ?", id, false).
		Updates(map[string]any{
			"opted_out":    true,
			"opted_out_at": at,
			"updated_at":   utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to opt out recipient %d: %w", id, err)
	}
	return nil
}

// AttachToCampaign links recipients to a campaign, ignoring pairs that already exist
func (r *RecipientRepositoryImpl) AttachToCampaign(ctx context.Context, campaignID uint, recipientIDs []uint) (int64, error) {
	if len(recipientIDs) == 0 {
		return 0, nil
	}

	now := utils.UTCNow()
	rows := make([]*models.CampaignRecipient, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		rows = append(rows, &models.CampaignRecipient{CampaignID: campaignID, RecipientID: id, CreatedAt: now})
	}

	db := r.getDB(ctx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "recipient_id"}},
		DoNothing: true,
	}).CreateInBatches(rows, 500)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to attach recipients to campaign %d: %w", campaignID, res.Error)
	}

	return res.RowsAffected, nil
}

// ListEligibleIDs returns the campaign recipients that are not opted out and have no terminal
// ledger row yet. On a first dispatch this is the whole non-opted-out audience.
func (r *RecipientRepositoryImpl) ListEligibleIDs(ctx context.Context, campaignID uint) ([]uint, error) {
	db := r.getDB(ctx)

	var ids []uint
	err := db.Table("campaign_recipients AS cr").
		Select("cr.recipient_id").
		Joins("JOIN recipients AS r ON r.id = cr.recipient_id").
		Where("cr.campaign_id = ? AND r.opted_out = ?", campaignID, false).
		Where("NOT EXISTS (?)",
			db.Table("delivery_records AS d").
				Select("1").
				Where("d.campaign_id = cr.campaign_id AND d.recipient_id = cr.recipient_id AND d.status <> ?", models.DeliveryStatusPending),
		).
		Order("cr.recipient_id ASC").
		Pluck("cr.recipient_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible recipients of campaign %d: %w", campaignID, err)
	}

	return ids, nil
}

// CountByCampaign counts the audience attached to a campaign
func (r *RecipientRepositoryImpl) CountByCampaign(ctx context.Context, campaignID uint) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	if err := db.Model(&models.CampaignRecipient{}).
		Where("campaign_id = ?", campaignID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count campaign recipients: %w", err)
	}

	return count, nil
}
