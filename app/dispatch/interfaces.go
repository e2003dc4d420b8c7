// Package dispatch turns a sending campaign into per-recipient deliveries: it partitions the
// audience, sends through the gateway with bounded retries and reconciles the campaign status.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/smsdispatch/models"
)

// ErrLedgerUnavailable marks a failure to read or write the delivery ledger.
// It is the only recipient-level error that aborts a whole campaign.
var ErrLedgerUnavailable = errors.New("delivery ledger unavailable")

// CampaignStore is the subset of the campaign repository used while dispatching
type CampaignStore interface {
	ByID(ctx context.Context, id uint) (*models.Campaign, error)
	StatusOf(ctx context.Context, id uint) (models.CampaignStatus, error)
	TransitionStatus(ctx context.Context, id uint, from []models.CampaignStatus, to models.CampaignStatus, change models.CampaignTransition) (bool, error)
	ResetProgress(ctx context.Context, id uint, recipients, delivered, failed int64) (bool, error)
	IncrementOutcome(ctx context.Context, id uint, delivered, failed int64) (bool, error)
	ExcludeRecipient(ctx context.Context, id uint) (bool, error)
}

// DeliveryLedger stores one record per (campaign, recipient)
type DeliveryLedger interface {
	CreatePending(ctx context.Context, record *models.DeliveryRecord) (*models.DeliveryRecord, bool, error)
	Complete(ctx context.Context, id uint, outcome models.DeliveryOutcome) (bool, error)
	RecordAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
	CountsByCampaign(ctx context.Context, campaignID uint) (models.DeliveryCounts, error)
}

// RecipientStore reads audiences and records opt-outs
type RecipientStore interface {
	ByID(ctx context.Context, id uint) (*models.Recipient, error)
	MarkOptedOut(ctx context.Context, id uint, at time.Time) error
	ListEligibleIDs(ctx context.Context, campaignID uint) ([]uint, error)
}

// QuotaLedger reserves and refunds per-account message units atomically
type QuotaLedger interface {
	Reserve(ctx context.Context, accountID uint, units int64) (bool, error)
	Refund(ctx context.Context, accountID uint, units int64) error
}
