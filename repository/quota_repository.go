package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuotaRepositoryImpl implements QuotaRepository.
// Every counter change is a single conditional UPDATE so concurrent campaigns of one account
// can never push a ledger past its allowance.
type QuotaRepositoryImpl struct {
	*BaseRepository[models.QuotaLedger]
	now func() time.Time
}

// NewQuotaRepository creates a new quota repository
func NewQuotaRepository(db *gorm.DB) QuotaRepository {
	return &QuotaRepositoryImpl{
		BaseRepository: NewBaseRepository[models.QuotaLedger](db),
		now:            utils.UTCNow,
	}
}

// Current returns the ledger whose period covers at
func (r *QuotaRepositoryImpl) Current(ctx context.Context, accountID uint, at time.Time) (*models.QuotaLedger, error) {
	db := r.getDB(ctx)

	var ledger models.QuotaLedger
	err := db.Where("account_id = ? AND period_start <= ? AND period_end > ?", accountID, at, at).
		Order("period_start DESC").
		Take(&ledger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load quota ledger for account %d: %w", accountID, err)
	}

	return &ledger, nil
}

// Reserve takes units of message quota from the current period. It returns false when the
// account has no active ledger or not enough remaining allowance.
func (r *QuotaRepositoryImpl) Reserve(ctx context.Context, accountID uint, units int64) (bool, error) {
	if units <= 0 {
		return false, fmt.Errorf("reserve units must be positive, got %d", units)
	}

	now := r.now()
	db := r.getDB(ctx)
	res := db.Model(&models.QuotaLedger{}).
		Where("account_id = ? AND period_start <= ? AND period_end > ?", accountID, now, now).
		Where("messages_used + ? <= messages_allowed", units).
		Updates(map[string]any{
			"messages_used": gorm.Expr("messages_used + ?", units),
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to reserve message quota: %w", res.Error)
	}

	return res.RowsAffected > 0, nil
}

// Refund returns units of message quota to the current period
func (r *QuotaRepositoryImpl) Refund(ctx context.Context, accountID uint, units int64) error {
	if units <= 0 {
		return fmt.Errorf("refund units must be positive, got %d", units)
	}

	now := r.now()
	db := r.getDB(ctx)
	res := db.Model(&models.QuotaLedger{}).
		Where("account_id = ? AND period_start <= ? AND period_end > ?", accountID, now, now).
		Where("messages_used >= ?", units).
		Updates(map[string]any{
			"messages_used": gorm.Expr("messages_used - ?", units),
			"updated_at":    now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to refund message quota: %w", res.Error)
	}

	return nil
}

// ReserveCampaign takes one campaign slot from the current period
func (r *QuotaRepositoryImpl) ReserveCampaign(ctx context.Context, accountID uint) (bool, error) {
	now := r.now()
	db := r.getDB(ctx)
	res := db.Model(&models.QuotaLedger{}).
		Where("account_id = ? AND period_start <= ? AND period_end > ?", accountID, now, now).
		Where("campaigns_used + 1 <= campaigns_allowed").
		Updates(map[string]any{
			"campaigns_used": gorm.Expr("campaigns_used + 1"),
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to reserve campaign quota: %w", res.Error)
	}

	return res.RowsAffected > 0, nil
}

// RefundCampaign returns one campaign slot to the current period
func (r *QuotaRepositoryImpl) RefundCampaign(ctx context.Context, accountID uint) error {
	now := r.now()
	db := r.getDB(ctx)
	res := db.Model(&models.QuotaLedger{}).
		Where("account_id = ? AND period_start <= ? AND period_end > ?", accountID, now, now).
		Where("campaigns_used >= 1").
		Updates(map[string]any{
			"campaigns_used": gorm.Expr("campaigns_used - 1"),
			"updated_at":     now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to refund campaign quota: %w", res.Error)
	}

	return nil
}

// SyncMessagesUsed persists a usage figure counted elsewhere. The figure replaces the stored one,
// refunds included, as long as it stays within the allowance.
func (r *QuotaRepositoryImpl) SyncMessagesUsed(ctx context.Context, ledgerID uint, used int64) error {
	if used < 0 {
		return fmt.Errorf("quota ledger %d: negative usage %d", ledgerID, used)
	}

	db := r.getDB(ctx)
	err := db.Model(&models.QuotaLedger{}).
		Where("id = ? AND ? <= messages_allowed", ledgerID, used).
		Updates(map[string]any{
			"messages_used": used,
			"updated_at":    r.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to sync quota ledger %d: %w", ledgerID, err)
	}
	return nil
}

// ListEnded returns ledgers whose period is over and that have no successor period yet
func (r *QuotaRepositoryImpl) ListEnded(ctx context.Context, before time.Time, limit int) ([]*models.QuotaLedger, error) {
	if limit <= 0 {
		limit = 100
	}

	db := r.getDB(ctx)
	var ledgers []*models.QuotaLedger
	err := db.Where("period_end <= ?", before).
		Where("NOT EXISTS (?)",
			db.Table("quota_ledgers AS n").
				Select("1").
				Where("n.account_id = quota_ledgers.account_id AND n.period_start = quota_ledgers.period_end"),
		).
		Order("period_end ASC, id ASC").
		Limit(limit).
		Find(&ledgers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ended quota ledgers: %w", err)
	}

	return ledgers, nil
}

// OpenPeriod inserts a ledger unless the account already has one starting at the same instant
func (r *QuotaRepositoryImpl) OpenPeriod(ctx context.Context, ledger *models.QuotaLedger) (bool, error) {
	now := r.now()
	ledger.CreatedAt = now
	ledger.UpdatedAt = now

	db := r.getDB(ctx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "period_start"}},
		DoNothing: true,
	}).Create(ledger)
	if res.Error != nil {
		return false, fmt.Errorf("failed to open quota period: %w", res.Error)
	}

	return res.RowsAffected == 1, nil
}
