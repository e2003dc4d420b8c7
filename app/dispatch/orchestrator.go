package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/amirphl/smsdispatch/models"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// OrchestratorConfig bounds the work done for one campaign
type OrchestratorConfig struct {
	ChunkSize        int
	Workers          int
	ChunkConcurrency int
}

type recipientSender interface {
	Send(ctx context.Context, campaign *models.Campaign, recipientID uint) (Outcome, error)
}

// Orchestrator runs every chunk of a sending campaign through a bounded pool and hands the
// campaign to the Reconciler once the last chunk is done.
type Orchestrator struct {
	campaigns  CampaignStore
	ledger     DeliveryLedger
	recipients RecipientStore
	sender     recipientSender
	reconciler *Reconciler
	cfg        OrchestratorConfig
	logger     *log.Logger
}

func NewOrchestrator(
	campaigns CampaignStore,
	ledger DeliveryLedger,
	recipients RecipientStore,
	sender *Sender,
	reconciler *Reconciler,
	cfg OrchestratorConfig,
	logger *log.Logger,
) *Orchestrator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ChunkConcurrency <= 0 {
		cfg.ChunkConcurrency = 1
	}
	return &Orchestrator{
		campaigns:  campaigns,
		ledger:     ledger,
		recipients: recipients,
		sender:     sender,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger,
	}
}

// Dispatch sends a campaign that is already in sending status.
// The returned error aggregates chunk failures; the campaign status is settled either way.
func (o *Orchestrator) Dispatch(ctx context.Context, campaign *models.Campaign) error {
	ids, err := o.recipients.ListEligibleIDs(ctx, campaign.ID)
	if err != nil {
		if _, ferr := o.reconciler.Fail(context.WithoutCancel(ctx), campaign.ID, FailureRecipientLoad); ferr != nil {
			o.logger.Printf("fail transition error campaign=%d err=%v", campaign.ID, ferr)
		}
		return fmt.Errorf("failed to load recipients of campaign %d: %w", campaign.ID, err)
	}

	counts, err := o.ledger.CountsByCampaign(ctx, campaign.ID)
	if err != nil {
		if _, ferr := o.reconciler.Fail(context.WithoutCancel(ctx), campaign.ID, FailureLedgerUnavailable); ferr != nil {
			o.logger.Printf("fail transition error campaign=%d err=%v", campaign.ID, ferr)
		}
		return fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	// already-terminal records from an earlier pass stay counted
	resolved := counts.Succeeded() + counts.Failed
	recipients := resolved + int64(len(ids))
	ok, err := o.campaigns.ResetProgress(ctx, campaign.ID, recipients, counts.Succeeded(), counts.Failed)
	if err != nil {
		return err
	}
	if !ok {
		o.logger.Printf("campaign left sending before dispatch id=%d", campaign.ID)
		_, err := o.reconciler.Reconcile(ctx, campaign.ID)
		return err
	}
	campaign.RecipientsCount = recipients
	campaign.DeliveredCount = counts.Succeeded()
	campaign.FailedCount = counts.Failed

	chunks := Partition(campaign.ID, ids, o.cfg.ChunkSize)
	o.logger.Printf("dispatch start campaign=%d recipients=%d resolved=%d chunks=%d", campaign.ID, recipients, resolved, len(chunks))
	if len(chunks) == 0 {
		_, err := o.reconciler.Reconcile(ctx, campaign.ID)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		errs  *multierror.Error
		fatal atomic.Bool
	)
	record := func(err error) {
		mu.Lock()
		errs = multierror.Append(errs, err)
		mu.Unlock()
	}

	tracker := newChunkTracker(len(chunks), func() {
		finalCtx := context.WithoutCancel(ctx)
		if fatal.Load() {
			if _, err := o.reconciler.Fail(finalCtx, campaign.ID, FailureLedgerUnavailable); err != nil {
				record(err)
			}
			return
		}
		status, err := o.reconciler.Reconcile(finalCtx, campaign.ID)
		if err != nil {
			record(err)
			return
		}
		o.logger.Printf("dispatch done campaign=%d status=%s", campaign.ID, status)
	})

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for _, chunk := range chunks {
		g.Go(func() error {
			defer tracker.done()
			if runCtx.Err() != nil {
				return nil
			}
			status, err := o.campaigns.StatusOf(runCtx, campaign.ID)
			if err != nil {
				record(fmt.Errorf("chunk %d: %w", chunk.Index, err))
				return nil
			}
			if status != models.CampaignStatusSending {
				return nil
			}

			if err := o.runChunk(runCtx, campaign, chunk); err != nil {
				chunkErrorsTotal.Inc()
				o.logger.Printf("chunk error campaign=%d chunk=%d err=%v", campaign.ID, chunk.Index, err)
				record(fmt.Errorf("chunk %d: %w", chunk.Index, err))
				if errors.Is(err, ErrLedgerUnavailable) {
					fatal.Store(true)
					cancel()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return errs.ErrorOrNil()
}

// runChunk sends to every recipient of the chunk with bounded concurrency. It stops starting new
// sends once the campaign is seen outside sending or ctx is cancelled.
func (o *Orchestrator) runChunk(ctx context.Context, campaign *models.Campaign, chunk Chunk) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", models.ErrorCodeOrchestration, r)
		}
	}()

	var (
		mu     sync.Mutex
		errs   *multierror.Error
		halted atomic.Bool
	)

	var g errgroup.Group
	g.SetLimit(o.cfg.ChunkConcurrency)
	for _, recipientID := range chunk.RecipientIDs {
		if halted.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() (gerr error) {
			defer func() {
				if r := recover(); r != nil {
					gerr = nil
					mu.Lock()
					errs = multierror.Append(errs, fmt.Errorf("%s: recipient %d panic: %v", models.ErrorCodeOrchestration, recipientID, r))
					mu.Unlock()
				}
			}()

			outcome, err := o.sender.Send(ctx, campaign, recipientID)
			if outcome == OutcomeHalted {
				halted.Store(true)
			}
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("recipient %d: %w", recipientID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errs.ErrorOrNil()
}
