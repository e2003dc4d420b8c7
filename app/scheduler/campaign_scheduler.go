// Package scheduler
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/amirphl/smsdispatch/config"
	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
)

// CampaignSource is the campaign repository as seen by the scheduler
type CampaignSource interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
	ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Campaign, error)
	TransitionStatus(ctx context.Context, id uint, from []models.CampaignStatus, to models.CampaignStatus, change models.CampaignTransition) (bool, error)
}

// Dispatcher sends a campaign that is already in sending status
type Dispatcher interface {
	Dispatch(ctx context.Context, campaign *models.Campaign) error
}

// QuotaRenewer opens the next quota period for ledgers whose period is over
type QuotaRenewer interface {
	ListEnded(ctx context.Context, before time.Time, limit int) ([]*models.QuotaLedger, error)
	OpenPeriod(ctx context.Context, ledger *models.QuotaLedger) (bool, error)
}

// QuotaFlusher persists cached quota usage
type QuotaFlusher interface {
	Flush(ctx context.Context) (int, error)
}

// maxRenewalRounds bounds how many missed periods one renewal run catches up on
const maxRenewalRounds = 12

// CampaignScheduler periodically starts due campaigns, renews quota periods and recovers
// dispatches that stopped making progress.
type CampaignScheduler struct {
	campaigns  CampaignSource
	dispatcher Dispatcher
	quotas     QuotaRenewer
	flusher    QuotaFlusher
	cfg        config.SchedulerConfig
	logger     *log.Logger
	now        func() time.Time

	cron  *cron.Cron
	slots chan struct{}

	mu     sync.Mutex
	active map[uint]struct{}
	wg     sync.WaitGroup
	ctx    context.Context
}

// NewCampaignScheduler validates the cron specs and builds a scheduler. flusher may be nil.
func NewCampaignScheduler(
	campaigns CampaignSource,
	dispatcher Dispatcher,
	quotas QuotaRenewer,
	flusher QuotaFlusher,
	cfg config.SchedulerConfig,
	logger *log.Logger,
) (*CampaignScheduler, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxCampaigns <= 0 {
		cfg.MaxCampaigns = 1
	}

	s := &CampaignScheduler{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		quotas:     quotas,
		flusher:    flusher,
		cfg:        cfg,
		logger:     logger,
		now:        utils.UTCNow,
		slots:      make(chan struct{}, cfg.MaxCampaigns),
		active:     make(map[uint]struct{}),
		ctx:        context.Background(),
	}

	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
	)

	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{"scan", cfg.ScanSpec, s.runOnce},
		{"renewal", cfg.RenewalSpec, s.renewQuotas},
	}
	if flusher != nil {
		jobs = append(jobs, struct {
			name string
			spec string
			run  func(context.Context)
		}{"quota flush", cfg.FlushSpec, s.flushQuotas})
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		run := job.run
		if _, err := s.cron.AddFunc(job.spec, func() { run(s.context()) }); err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", job.name, job.spec, err)
		}
	}

	return s, nil
}

// Start launches the cron loop and returns a stop function that waits for running dispatches
func (s *CampaignScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOnce(ctx)
	}()

	return func() {
		cancel()
		<-s.cron.Stop().Done()
		s.wg.Wait()
		s.logger.Printf("scheduler: stopped")
	}
}

// runOnce starts every due campaign this process has a slot for, then looks for stale ones
func (s *CampaignScheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := s.now()

	due, err := s.campaigns.ListDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Printf("scheduler: list due campaigns failed: %v", err)
		return
	}
	if len(due) > 0 {
		s.logger.Printf("scheduler: %d campaigns due", len(due))
	}

	for _, c := range due {
		if !s.acquire(c.ID) {
			if s.full() {
				break
			}
			continue
		}

		change := models.CampaignTransition{}
		if c.StartedAt == nil {
			change.StartedAt = &now
		}
		ok, err := s.campaigns.TransitionStatus(ctx, c.ID, []models.CampaignStatus{models.CampaignStatusScheduled}, models.CampaignStatusSending, change)
		if err != nil || !ok {
			if err != nil {
				s.logger.Printf("scheduler: start campaign id=%d failed: %v", c.ID, err)
			}
			s.release(c.ID)
			continue
		}

		c.Status = models.CampaignStatusSending
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
		s.launch(ctx, c)
	}

	s.recoverStale(ctx)
}

// recoverStale re-dispatches sending campaigns whose counters stopped moving.
// Every finished message touches updated_at, so a live dispatch never looks stale.
func (s *CampaignScheduler) recoverStale(ctx context.Context) {
	if s.cfg.StaleAfter <= 0 {
		return
	}

	stale, err := s.campaigns.ListStale(ctx, s.now().Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		s.logger.Printf("scheduler: list stale campaigns failed: %v", err)
		return
	}
	for _, c := range stale {
		if !s.acquire(c.ID) {
			if s.full() {
				return
			}
			continue
		}
		s.logger.Printf("scheduler: recovering stale campaign id=%d updated_at=%s", c.ID, c.UpdatedAt.Format(time.RFC3339))
		s.launch(ctx, c)
	}
}

func (s *CampaignScheduler) launch(ctx context.Context, c *models.Campaign) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(c.ID)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Printf("scheduler: dispatch campaign id=%d panicked: %v", c.ID, r)
			}
		}()

		if err := s.dispatcher.Dispatch(ctx, c); err != nil {
			s.logger.Printf("scheduler: dispatch campaign id=%d finished with errors: %v", c.ID, err)
		}
	}()
}

// renewQuotas opens the successor period of every ended ledger
func (s *CampaignScheduler) renewQuotas(ctx context.Context) {
	if s.quotas == nil {
		return
	}
	opened := 0
	for round := 0; round < maxRenewalRounds && ctx.Err() == nil; round++ {
		ended, err := s.quotas.ListEnded(ctx, s.now(), s.cfg.BatchSize)
		if err != nil {
			s.logger.Printf("scheduler: list ended quota periods failed: %v", err)
			break
		}
		if len(ended) == 0 {
			break
		}
		for _, ledger := range ended {
			ok, err := s.quotas.OpenPeriod(ctx, ledger.NextPeriod())
			if err != nil {
				s.logger.Printf("scheduler: open quota period account=%d failed: %v", ledger.AccountID, err)
				return
			}
			if ok {
				opened++
			}
		}
	}
	if opened > 0 {
		s.logger.Printf("scheduler: opened %d quota periods", opened)
	}
}

func (s *CampaignScheduler) flushQuotas(ctx context.Context) {
	n, err := s.flusher.Flush(ctx)
	if err != nil {
		s.logger.Printf("scheduler: quota flush failed after %d ledgers: %v", n, err)
	}
}

// acquire claims the campaign for this process and takes a dispatch slot
func (s *CampaignScheduler) acquire(id uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[id]; busy {
		return false
	}
	select {
	case s.slots <- struct{}{}:
		s.active[id] = struct{}{}
		return true
	default:
		return false
	}
}

func (s *CampaignScheduler) release(id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id]; ok {
		delete(s.active, id)
		<-s.slots
	}
}

func (s *CampaignScheduler) full() bool {
	return len(s.slots) == cap(s.slots)
}

// Active reports the campaigns this process is dispatching
func (s *CampaignScheduler) Active() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// ActiveGauge exposes the number of campaigns this process is dispatching.
// The caller registers it.
func (s *CampaignScheduler) ActiveGauge() prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "scheduler_active_campaigns",
			Help: "Campaigns currently dispatched by this process",
		},
		func() float64 { return float64(len(s.Active())) },
	)
}

func (s *CampaignScheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}
