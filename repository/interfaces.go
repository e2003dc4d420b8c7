// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/smsdispatch/models"
	"github.com/google/uuid"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	Save(ctx context.Context, entity *T) error
}

// CampaignRepository defines operations for campaigns.
// Status and counter writes are conditional single statements; none of them read first.
type CampaignRepository interface {
	Repository[models.Campaign]
	ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error)
	Count(ctx context.Context, filter models.CampaignFilter) (int64, error)
	ByUUID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	StatusOf(ctx context.Context, id uint) (models.CampaignStatus, error)
	TransitionStatus(ctx context.Context, id uint, from []models.CampaignStatus, to models.CampaignStatus, change models.CampaignTransition) (bool, error)
	ResetProgress(ctx context.Context, id uint, recipients, delivered, failed int64) (bool, error)
	IncrementOutcome(ctx context.Context, id uint, delivered, failed int64) (bool, error)
	ExcludeRecipient(ctx context.Context, id uint) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
	ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Campaign, error)
	Delete(ctx context.Context, id uint) error
}

// DeliveryRecordRepository is the delivery ledger
type DeliveryRecordRepository interface {
	Repository[models.DeliveryRecord]
	ByFilter(ctx context.Context, filter models.DeliveryRecordFilter, orderBy string, limit, offset int) ([]*models.DeliveryRecord, error)
	CreatePending(ctx context.Context, record *models.DeliveryRecord) (*models.DeliveryRecord, bool, error)
	Complete(ctx context.Context, id uint, outcome models.DeliveryOutcome) (bool, error)
	RecordAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
	ApplyCallback(ctx context.Context, gatewayMessageID string, status models.DeliveryStatus, errorCode *string, at time.Time) (bool, error)
	ByGatewayMessageID(ctx context.Context, gatewayMessageID string) (*models.DeliveryRecord, error)
	CountsByCampaign(ctx context.Context, campaignID uint) (models.DeliveryCounts, error)
	ListByCampaign(ctx context.Context, campaignID uint, limit, offset int) ([]*models.DeliveryRecord, error)
	AttemptsByRecords(ctx context.Context, recordIDs []uint) ([]*models.DeliveryAttempt, error)
}

// RecipientRepository defines read access to audiences plus the opt-out write
type RecipientRepository interface {
	Repository[models.Recipient]
	ByIDs(ctx context.Context, ids []uint) ([]*models.Recipient, error)
	MarkOptedOut(ctx context.Context, id uint, at time.Time) error
	AttachToCampaign(ctx context.Context, campaignID uint, recipientIDs []uint) (int64, error)
	ListEligibleIDs(ctx context.Context, campaignID uint) ([]uint, error)
	CountByCampaign(ctx context.Context, campaignID uint) (int64, error)
}

// QuotaRepository is the durable quota ledger
type QuotaRepository interface {
	Repository[models.QuotaLedger]
	Current(ctx context.Context, accountID uint, at time.Time) (*models.QuotaLedger, error)
	Reserve(ctx context.Context, accountID uint, units int64) (bool, error)
	Refund(ctx context.Context, accountID uint, units int64) error
	ReserveCampaign(ctx context.Context, accountID uint) (bool, error)
	RefundCampaign(ctx context.Context, accountID uint) error
	SyncMessagesUsed(ctx context.Context, ledgerID uint, used int64) error
	ListEnded(ctx context.Context, before time.Time, limit int) ([]*models.QuotaLedger, error)
	OpenPeriod(ctx context.Context, ledger *models.QuotaLedger) (bool, error)
}
