package businessflow

import (
	"context"

	"github.com/amirphl/smsdispatch/app/dto"
	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/repository"
	"gorm.io/gorm"
)

// TxRunner runs fn inside one database transaction carried by the context
type TxRunner func(ctx context.Context, fn func(context.Context) error) error

// GormTxRunner runs flows in a gorm transaction picked up by the repositories
func GormTxRunner(db *gorm.DB) TxRunner {
	return func(ctx context.Context, fn func(context.Context) error) error {
		return repository.WithTransaction(ctx, db, fn)
	}
}

// ToCampaignResponse maps a campaign to its API shape
func ToCampaignResponse(c *models.Campaign) dto.CampaignResponse {
	return dto.CampaignResponse{
		UUID:            c.UUID.String(),
		Title:           c.Title,
		Template:        c.Template,
		Variables:       c.Variables,
		Status:          c.Status.String(),
		RecipientsCount: c.RecipientsCount,
		DeliveredCount:  c.DeliveredCount,
		FailedCount:     c.FailedCount,
		ScheduledAt:     c.ScheduledAt,
		StartedAt:       c.StartedAt,
		FinishedAt:      c.FinishedAt,
		FailureReason:   c.FailureReason,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// ToQuotaResponse maps a quota period to its API shape
func ToQuotaResponse(q *models.QuotaLedger) dto.QuotaResponse {
	return dto.QuotaResponse{
		PeriodStart:        q.PeriodStart,
		PeriodEnd:          q.PeriodEnd,
		MessagesAllowed:    q.MessagesAllowed,
		MessagesUsed:       q.MessagesUsed,
		MessagesRemaining:  q.MessagesRemaining(),
		CampaignsAllowed:   q.CampaignsAllowed,
		CampaignsUsed:      q.CampaignsUsed,
		CampaignsRemaining: q.CampaignsRemaining(),
	}
}
