package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeliveryRecordRepositoryImpl implements DeliveryRecordRepository on Postgres
type DeliveryRecordRepositoryImpl struct {
	*BaseRepository[models.DeliveryRecord]
}

// NewDeliveryRecordRepository creates a new delivery ledger repository
func NewDeliveryRecordRepository(db *gorm.DB) DeliveryRecordRepository {
	return &DeliveryRecordRepositoryImpl{
		BaseRepository: NewBaseRepository[models.DeliveryRecord](db),
	}
}

// CreatePending inserts a pending record for (campaign, recipient) unless one already exists.
// The stored row is returned in both cases; created reports whether this call inserted it.
func (r *DeliveryRecordRepositoryImpl) CreatePending(ctx context.Context, record *models.DeliveryRecord) (*models.DeliveryRecord, bool, error) {
	db := r.getDB(ctx)

	now := utils.UTCNow()
	record.Status = models.DeliveryStatusPending
	record.CreatedAt = now
	record.UpdatedAt = now

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "recipient_id"}},
		DoNothing: true,
	}).Create(record)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to create pending delivery record: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return record, true, nil
	}

	var existing models.DeliveryRecord
	err := db.Where("campaign_id = ? AND recipient_id = ?", record.CampaignID, record.RecipientID).
		Take(&existing).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing delivery record: %w", err)
	}

	return &existing, false, nil
}

// Complete writes the terminal outcome of a pending record exactly once
func (r *DeliveryRecordRepositoryImpl) Complete(ctx context.Context, id uint, outcome models.DeliveryOutcome) (bool, error) {
	if !outcome.Status.IsTerminal() {
		return false, fmt.Errorf("delivery record %d: %s is not a terminal outcome", id, outcome.Status)
	}

	db := r.getDB(ctx)
	updates := map[string]any{
		"status":             outcome.Status,
		"gateway_message_id": outcome.GatewayMessageID,
		"error_code":         outcome.ErrorCode,
		"attempts":           outcome.Attempts,
		"quota_reserved":     outcome.QuotaReserved,
		"sent_at":            outcome.SentAt,
		"updated_at":         utils.UTCNow(),
	}
	if outcome.Content != "" {
		updates["content"] = outcome.Content
	}

	res := db.Model(&models.DeliveryRecord{}).
		Where("id = ? AND status = ?", id, models.DeliveryStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to complete delivery record %d: %w", id, res.Error)
	}

	return res.RowsAffected == 1, nil
}

// RecordAttempt appends one gateway attempt
func (r *DeliveryRecordRepositoryImpl) RecordAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	db := r.getDB(ctx)
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = utils.UTCNow()
	}
	if err := db.Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}
	return nil
}

// ApplyCallback moves a sent record to delivered or failed. Duplicate callbacks match no row.
func (r *DeliveryRecordRepositoryImpl) ApplyCallback(ctx context.Context, gatewayMessageID string, status models.DeliveryStatus, errorCode *string, at time.Time) (bool, error) {
	if status != models.DeliveryStatusDelivered && status != models.DeliveryStatusFailed {
		return false, fmt.Errorf("callback status %s is not applicable", status)
	}

	db := r.getDB(ctx)
	updates := map[string]any{
		"status":     status,
		"updated_at": utils.UTCNow(),
	}
	if status == models.DeliveryStatusDelivered {
		updates["delivered_at"] = at
	}
	if errorCode != nil {
		updates["error_code"] = *errorCode
	}

	res := db.Model(&models.DeliveryRecord{}).
		Where("gateway_message_id = ? AND status = ?", gatewayMessageID, models.DeliveryStatusSent).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to apply delivery callback: %w", res.Error)
	}

	return res.RowsAffected > 0, nil
}

// ByGatewayMessageID finds the record the gateway knows under the given id
func (r *DeliveryRecordRepositoryImpl) ByGatewayMessageID(ctx context.Context, gatewayMessageID string) (*models.DeliveryRecord, error) {
	db := r.getDB(ctx)

	var record models.DeliveryRecord
	err := db.Where("gateway_message_id = ?", gatewayMessageID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find delivery record by gateway id: %w", err)
	}

	return &record, nil
}

// CountsByCampaign aggregates ledger rows of one campaign by status
func (r *DeliveryRecordRepositoryImpl) CountsByCampaign(ctx context.Context, campaignID uint) (models.DeliveryCounts, error) {
	type row struct {
		Status models.DeliveryStatus
		Total  int64
	}

	db := r.getDB(ctx)
	var rows []row
	if err := db.Model(&models.DeliveryRecord{}).
		Select("status, COUNT(*) AS total").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return models.DeliveryCounts{}, fmt.Errorf("failed to aggregate delivery records: %w", err)
	}

	var counts models.DeliveryCounts
	for _, rw := range rows {
		switch rw.Status {
		case models.DeliveryStatusPending:
			counts.Pending = rw.Total
		case models.DeliveryStatusSent:
			counts.Sent = rw.Total
		case models.DeliveryStatusDelivered:
			counts.Delivered = rw.Total
		case models.DeliveryStatusFailed:
			counts.Failed = rw.Total
		}
	}

	return counts, nil
}

// ListByCampaign pages through a campaign's ledger in id order
func (r *DeliveryRecordRepositoryImpl) ListByCampaign(ctx context.Context, campaignID uint, limit, offset int) ([]*models.DeliveryRecord, error) {
	filter := models.DeliveryRecordFilter{CampaignID: &campaignID}
	return r.ByFilter(ctx, filter, "id ASC", limit, offset)
}

// AttemptsByRecords lists the gateway attempts of the given records ordered by record and attempt
func (r *DeliveryRecordRepositoryImpl) AttemptsByRecords(ctx context.Context, recordIDs []uint) ([]*models.DeliveryAttempt, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}

	db := r.getDB(ctx)
	var attempts []*models.DeliveryAttempt
	if err := db.Where("delivery_record_id = ANY(?)", pq.Array(uintsToInt64(recordIDs))).
		Order("delivery_record_id ASC, attempt_number ASC").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}

	return attempts, nil
}

// ByFilter retrieves delivery records based on filter criteria
func (r *DeliveryRecordRepositoryImpl) ByFilter(ctx context.Context, filter models.DeliveryRecordFilter, orderBy string, limit, offset int) ([]*models.DeliveryRecord, error) {
	db := r.getDB(ctx)

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

	var records []*models.DeliveryRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

func (r *DeliveryRecordRepositoryImpl) applyFilter(db *gorm.DB, filter models.DeliveryRecordFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.RecipientID != nil {
		db = db.Where("recipient_id = ?", *filter.RecipientID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.GatewayMessageID != nil {
		db = db.Where("gateway_message_id = ?", *filter.GatewayMessageID)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}
	return db
}
