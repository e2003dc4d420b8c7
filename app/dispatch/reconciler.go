package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/utils"
)

// Failure reasons written by the pipeline
const (
	FailureRecipientLoad     = "recipient_load_failed"
	FailureLedgerUnavailable = "ledger_unavailable"
)

// Reconciler derives the campaign counters from the delivery ledger and applies the terminal
// transition. Running it again on a finished campaign changes nothing.
type Reconciler struct {
	campaigns CampaignStore
	ledger    DeliveryLedger
	notifier  CompletionNotifier
	logger    *log.Logger
	now       func() time.Time
}

func NewReconciler(campaigns CampaignStore, ledger DeliveryLedger, notifier CompletionNotifier, logger *log.Logger) *Reconciler {
	return &Reconciler{
		campaigns: campaigns,
		ledger:    ledger,
		notifier:  notifier,
		logger:    logger,
		now:       utils.UTCNow,
	}
}

// Reconcile returns the campaign status after reconciliation
func (r *Reconciler) Reconcile(ctx context.Context, campaignID uint) (models.CampaignStatus, error) {
	campaign, err := r.campaigns.ByID(ctx, campaignID)
	if err != nil {
		return "", fmt.Errorf("failed to load campaign %d: %w", campaignID, err)
	}
	if campaign == nil {
		return "", fmt.Errorf("campaign %d not found", campaignID)
	}

	switch {
	case campaign.Status == models.CampaignStatusCancelled:
		return r.settleCancelled(ctx, campaign)
	case campaign.Status.IsTerminal():
		return campaign.Status, nil
	case campaign.Status != models.CampaignStatusSending:
		return campaign.Status, nil
	}

	counts, err := r.ledger.CountsByCampaign(ctx, campaignID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	delivered, failed := counts.Succeeded(), counts.Failed
	recipients := max(campaign.RecipientsCount, delivered+failed)

	if outstanding := recipients - delivered - failed; outstanding > 0 {
		if _, err := r.campaigns.ResetProgress(ctx, campaignID, recipients, delivered, failed); err != nil {
			return "", err
		}
		stuckRecipients.Set(float64(outstanding))
		r.logger.Printf("campaign not terminal id=%d outstanding=%d pending_records=%d", campaignID, outstanding, counts.Pending)
		return models.CampaignStatusSending, nil
	}

	status := finalStatus(recipients, delivered, failed)
	finishedAt := r.now()
	ok, err := r.campaigns.TransitionStatus(ctx, campaignID, []models.CampaignStatus{models.CampaignStatusSending}, status, models.CampaignTransition{
		FinishedAt:      &finishedAt,
		RecipientsCount: &recipients,
		DeliveredCount:  &delivered,
		FailedCount:     &failed,
	})
	if err != nil {
		return "", err
	}
	if !ok {
		current, err := r.campaigns.StatusOf(ctx, campaignID)
		if err != nil {
			return "", err
		}
		return current, nil
	}

	campaign.Status = status
	campaign.RecipientsCount = recipients
	campaign.DeliveredCount = delivered
	campaign.FailedCount = failed
	campaign.FinishedAt = &finishedAt
	r.finalized(ctx, campaign)
	return status, nil
}

// Fail moves a sending campaign to failed without per-recipient attribution
func (r *Reconciler) Fail(ctx context.Context, campaignID uint, reason string) (bool, error) {
	finishedAt := r.now()
	ok, err := r.campaigns.TransitionStatus(ctx, campaignID, []models.CampaignStatus{models.CampaignStatusSending}, models.CampaignStatusFailed, models.CampaignTransition{
		FinishedAt:       &finishedAt,
		FailureReason:    &reason,
		SettleRecipients: true,
	})
	if err != nil || !ok {
		return false, err
	}

	r.logger.Printf("campaign failed id=%d reason=%s", campaignID, reason)
	campaign, err := r.campaigns.ByID(ctx, campaignID)
	if err != nil || campaign == nil {
		campaign = &models.Campaign{ID: campaignID, Status: models.CampaignStatusFailed, FailureReason: &reason, FinishedAt: &finishedAt}
	}
	r.finalized(ctx, campaign)
	return true, nil
}

// settleCancelled drops never-started recipients from the count of a cancelled campaign
func (r *Reconciler) settleCancelled(ctx context.Context, campaign *models.Campaign) (models.CampaignStatus, error) {
	counts, err := r.ledger.CountsByCampaign(ctx, campaign.ID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	delivered, failed := counts.Succeeded(), counts.Failed
	recipients := delivered + failed
	if campaign.RecipientsCount == recipients && campaign.DeliveredCount == delivered && campaign.FailedCount == failed {
		return campaign.Status, nil
	}

	cancelled := []models.CampaignStatus{models.CampaignStatusCancelled}
	if _, err := r.campaigns.TransitionStatus(ctx, campaign.ID, cancelled, models.CampaignStatusCancelled, models.CampaignTransition{
		RecipientsCount: &recipients,
		DeliveredCount:  &delivered,
		FailedCount:     &failed,
	}); err != nil {
		return "", err
	}
	return models.CampaignStatusCancelled, nil
}

func (r *Reconciler) finalized(ctx context.Context, campaign *models.Campaign) {
	campaignsFinalizedTotal.WithLabelValues(campaign.Status.String()).Inc()
	if r.notifier != nil {
		r.notifier.CampaignFinished(ctx, campaign)
	}
}

func finalStatus(recipients, delivered, failed int64) models.CampaignStatus {
	switch {
	case recipients == 0 || failed == 0:
		return models.CampaignStatusSent
	case delivered == 0:
		return models.CampaignStatusFailed
	default:
		return models.CampaignStatusPartiallySent
	}
}
