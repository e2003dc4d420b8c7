package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/smsdispatch/app/services"
	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/utils"
)

// Outcome is what happened to one recipient during a send pass
type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeFailed   Outcome = "failed"
	OutcomeExcluded Outcome = "excluded" // opted out or deleted after the audience was loaded
	OutcomeSkipped  Outcome = "skipped"  // ledger row already terminal
	OutcomeHalted   Outcome = "halted"   // campaign left sending
)

// SenderConfig holds the per-message knobs of a Sender
type SenderConfig struct {
	GatewayTimeout time.Duration
	RefundPolicy   RefundPolicy
	DefaultRegion  string
}

// Sender resolves exactly one recipient of a sending campaign
type Sender struct {
	campaigns  CampaignStore
	ledger     DeliveryLedger
	recipients RecipientStore
	quota      QuotaLedger
	gateway    services.SMSGateway
	classifier *Classifier
	backoff    BackoffFactory
	cfg        SenderConfig
	logger     *log.Logger

	sleep SleepFunc
	now   func() time.Time
}

// NewSender wires a Sender
func NewSender(
	campaigns CampaignStore,
	ledger DeliveryLedger,
	recipients RecipientStore,
	quota QuotaLedger,
	gateway services.SMSGateway,
	classifier *Classifier,
	backoff BackoffFactory,
	cfg SenderConfig,
	logger *log.Logger,
) *Sender {
	if cfg.RefundPolicy == "" {
		cfg.RefundPolicy = RefundPreGateway
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	return &Sender{
		campaigns:  campaigns,
		ledger:     ledger,
		recipients: recipients,
		quota:      quota,
		gateway:    gateway,
		classifier: classifier,
		backoff:    backoff,
		cfg:        cfg,
		logger:     logger,
		sleep:      sleepContext,
		now:        utils.UTCNow,
	}
}

// Send processes one recipient: ledger row, quota, gateway with retries, terminal outcome.
// Errors wrapping ErrLedgerUnavailable mean the ledger could not be written.
func (s *Sender) Send(ctx context.Context, campaign *models.Campaign, recipientID uint) (Outcome, error) {
	status, err := s.campaigns.StatusOf(ctx, campaign.ID)
	if err != nil {
		return "", err
	}
	if status != models.CampaignStatusSending {
		return OutcomeHalted, nil
	}

	recipient, err := s.recipients.ByID(ctx, recipientID)
	if err != nil {
		return "", fmt.Errorf("failed to load recipient %d: %w", recipientID, err)
	}
	if recipient == nil || recipient.OptedOut {
		return s.exclude(ctx, campaign, recipientID, recipient == nil)
	}

	record, created, err := s.ledger.CreatePending(ctx, &models.DeliveryRecord{
		CampaignID:  campaign.ID,
		RecipientID: recipient.ID,
		AccountID:   campaign.AccountID,
		Destination: recipient.PhoneNumber,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	if record.Status.IsTerminal() {
		messagesTotal.WithLabelValues(string(OutcomeSkipped)).Inc()
		return OutcomeSkipped, nil
	}
	if !created {
		s.logger.Printf("resuming pending record campaign=%d recipient=%d record=%d", campaign.ID, recipient.ID, record.ID)
	}

	destination, err := utils.NormalizePhone(recipient.PhoneNumber, s.cfg.DefaultRegion)
	if err != nil {
		return s.finish(ctx, campaign, record, models.DeliveryOutcome{
			Status:    models.DeliveryStatusFailed,
			ErrorCode: utils.ToPtr(models.ErrorCodeInvalidNumber),
		}, false, false)
	}

	reserved, err := s.quota.Reserve(ctx, campaign.AccountID, 1)
	if err != nil {
		quotaReservationsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("failed to reserve quota for recipient %d: %w", recipient.ID, err)
	}
	if !reserved {
		quotaReservationsTotal.WithLabelValues("exhausted").Inc()
		return s.finish(ctx, campaign, record, models.DeliveryOutcome{
			Status:    models.DeliveryStatusFailed,
			ErrorCode: utils.ToPtr(models.ErrorCodeQuotaExceeded),
		}, false, false)
	}
	quotaReservationsTotal.WithLabelValues("reserved").Inc()

	content := Personalize(campaign.Template, recipient, destination, campaign.Variables, s.now())
	return s.deliver(ctx, campaign, record, destination, content)
}

// deliver calls the gateway until success, a terminal code or exhausted retries.
// The quota unit is already reserved.
func (s *Sender) deliver(ctx context.Context, campaign *models.Campaign, record *models.DeliveryRecord, destination, content string) (Outcome, error) {
	backoff, err := s.backoff()
	if err != nil {
		s.refund(ctx, campaign.AccountID)
		return "", fmt.Errorf("failed to create backoff: %w", err)
	}

	var codes []string
	for attempt := 1; ; attempt++ {
		messageID, code, latency := s.call(ctx, record, destination, content)

		if err := s.ledger.RecordAttempt(context.WithoutCancel(ctx), &models.DeliveryAttempt{
			DeliveryRecordID: record.ID,
			AttemptNumber:    attempt,
			ErrorCode:        optionalCode(code),
			LatencyMs:        latency.Milliseconds(),
		}); err != nil {
			s.refund(ctx, campaign.AccountID)
			return "", fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
		}

		outcome := models.DeliveryOutcome{
			Content:  content,
			Attempts: attempt,
		}

		switch s.classifier.Classify(code) {
		case VerdictSuccess:
			outcome.Status = models.DeliveryStatusSent
			outcome.GatewayMessageID = utils.ToPtr(messageID)
			outcome.SentAt = utils.ToPtr(s.now())
			return s.finish(ctx, campaign, record, outcome, true, false)

		case VerdictTerminal:
			outcome.Status = models.DeliveryStatusFailed
			outcome.ErrorCode = utils.ToPtr(code)
			if s.classifier.IsOptOut(code) {
				if err := s.recipients.MarkOptedOut(context.WithoutCancel(ctx), record.RecipientID, s.now()); err != nil {
					s.logger.Printf("opt-out write failed recipient=%d err=%v", record.RecipientID, err)
				}
			}
			return s.finish(ctx, campaign, record, outcome, true, true)
		}

		codes = append(codes, code)
		delay, ok := backoff.Next()
		if ok {
			if err := s.sleep(ctx, delay); err == nil {
				continue
			}
		}

		outcome.Status = models.DeliveryStatusFailed
		outcome.ErrorCode = utils.ToPtr(code)
		refund := s.cfg.RefundPolicy.refundAfterExhaustion(s.classifier, codes)
		return s.finish(ctx, campaign, record, outcome, true, refund)
	}
}

// call performs one gateway request under the per-call timeout. An empty code means accepted.
func (s *Sender) call(ctx context.Context, record *models.DeliveryRecord, destination, content string) (string, string, time.Duration) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.gateway.Send(callCtx, services.SendRequest{
		Destination: destination,
		Body:        content,
		Reference:   record.TrackingID.String(),
	})
	latency := time.Since(start)

	var messageID, code string
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		code = models.ErrorCodeTimeout
	case err != nil:
		code = models.ErrorCodeTransport
	case res == nil:
		code = models.ErrorCodeTransport
	case res.Success:
		messageID = res.MessageID
	case res.ErrorCode == "":
		code = services.GatewayCodeRejected
	default:
		code = normalizeCode(res.ErrorCode)
	}

	if code == "" {
		gatewayAttemptsTotal.WithLabelValues("ok").Inc()
	} else {
		gatewayAttemptsTotal.WithLabelValues(code).Inc()
	}
	if err != nil {
		s.logger.Printf("gateway call failed record=%d code=%s err=%v", record.ID, code, err)
	}
	return messageID, code, latency
}

// finish writes the terminal outcome once and moves the campaign counters.
// Ledger writes outlive ctx so an interrupted send still leaves a terminal row.
func (s *Sender) finish(ctx context.Context, campaign *models.Campaign, record *models.DeliveryRecord, outcome models.DeliveryOutcome, reserved, refund bool) (Outcome, error) {
	wctx := context.WithoutCancel(ctx)
	outcome.QuotaReserved = reserved && !refund

	applied, err := s.ledger.Complete(wctx, record.ID, outcome)
	if err != nil {
		if reserved {
			s.refund(wctx, campaign.AccountID)
		}
		return "", fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	if !applied {
		// another worker resolved the same record first
		if reserved {
			s.refund(wctx, campaign.AccountID)
		}
		messagesTotal.WithLabelValues(string(OutcomeSkipped)).Inc()
		return OutcomeSkipped, nil
	}

	if reserved && refund {
		s.refund(wctx, campaign.AccountID)
	}

	var delivered, failed int64
	result := OutcomeSent
	if outcome.Status == models.DeliveryStatusFailed {
		failed = 1
		result = OutcomeFailed
	} else {
		delivered = 1
	}
	ok, err := s.campaigns.IncrementOutcome(wctx, campaign.ID, delivered, failed)
	if err != nil {
		s.logger.Printf("counter update failed campaign=%d record=%d err=%v", campaign.ID, record.ID, err)
	} else if !ok {
		s.logger.Printf("counter update rejected campaign=%d record=%d", campaign.ID, record.ID)
	}

	messagesTotal.WithLabelValues(string(result)).Inc()
	return result, nil
}

func (s *Sender) exclude(ctx context.Context, campaign *models.Campaign, recipientID uint, missing bool) (Outcome, error) {
	ok, err := s.campaigns.ExcludeRecipient(context.WithoutCancel(ctx), campaign.ID)
	if err != nil {
		return "", fmt.Errorf("failed to exclude recipient %d: %w", recipientID, err)
	}
	s.logger.Printf("recipient excluded campaign=%d recipient=%d missing=%t counted=%t", campaign.ID, recipientID, missing, ok)
	messagesTotal.WithLabelValues(string(OutcomeExcluded)).Inc()
	return OutcomeExcluded, nil
}

func (s *Sender) refund(ctx context.Context, accountID uint) {
	if err := s.quota.Refund(context.WithoutCancel(ctx), accountID, 1); err != nil {
		s.logger.Printf("quota refund failed account=%d err=%v", accountID, err)
		return
	}
	quotaReservationsTotal.WithLabelValues("refunded").Inc()
}

func optionalCode(code string) *string {
	if code == "" {
		return nil
	}
	return &code
}
