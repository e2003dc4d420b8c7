package businessflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/repository"
	"github.com/google/uuid"
)

// The fakes embed the repository interfaces; calling a method a fake does not override panics.

type fakeCampaignRepo struct {
	repository.CampaignRepository
	mu        sync.Mutex
	campaigns map[uint]*models.Campaign
	nextID    uint
	deleted   []uint
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: map[uint]*models.Campaign{}}
}

func (f *fakeCampaignRepo) add(c *models.Campaign) *models.Campaign {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = f.nextID
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	f.campaigns[c.ID] = c
	return c
}

func (f *fakeCampaignRepo) get(id uint) models.Campaign {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.campaigns[id]
}

func (f *fakeCampaignRepo) Save(ctx context.Context, c *models.Campaign) error {
	f.add(c)
	return nil
}

func (f *fakeCampaignRepo) ByID(ctx context.Context, id uint) (*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCampaignRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.campaigns {
		if c.UUID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeCampaignRepo) StatusOf(ctx context.Context, id uint) (models.CampaignStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.campaigns[id].Status, nil
}

func (f *fakeCampaignRepo) TransitionStatus(ctx context.Context, id uint, from []models.CampaignStatus, to models.CampaignStatus, change models.CampaignTransition) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if c.Status != st {
			continue
		}
		c.Status = to
		if change.ScheduledAt != nil {
			c.ScheduledAt = change.ScheduledAt
		}
		if change.StartedAt != nil {
			c.StartedAt = change.StartedAt
		}
		if change.FinishedAt != nil {
			c.FinishedAt = change.FinishedAt
		}
		return true, nil
	}
	return false, nil
}

func (f *fakeCampaignRepo) Delete(ctx context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.campaigns, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeCampaignRepo) matching(filter models.CampaignFilter) []*models.Campaign {
	var out []*models.Campaign
	for _, c := range f.campaigns {
		if filter.AccountID != nil && c.AccountID != *filter.AccountID {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (f *fakeCampaignRepo) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.matching(filter))), nil
}

func (f *fakeCampaignRepo) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.matching(filter)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

type fakeRecipientRepo struct {
	repository.RecipientRepository
	mu         sync.Mutex
	recipients map[uint]*models.Recipient
	attached   map[uint][]uint
	optedOut   []uint
}

func newFakeRecipientRepo() *fakeRecipientRepo {
	return &fakeRecipientRepo{recipients: map[uint]*models.Recipient{}, attached: map[uint][]uint{}}
}

func (f *fakeRecipientRepo) add(id, accountID uint) {
	f.recipients[id] = &models.Recipient{ID: id, AccountID: accountID, PhoneNumber: "+16502530000"}
}

func (f *fakeRecipientRepo) ByIDs(ctx context.Context, ids []uint) ([]*models.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Recipient
	for _, id := range ids {
		if r, ok := f.recipients[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecipientRepo) AttachToCampaign(ctx context.Context, campaignID uint, ids []uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[campaignID] = append(f.attached[campaignID], ids...)
	return int64(len(ids)), nil
}

func (f *fakeRecipientRepo) CountByCampaign(ctx context.Context, campaignID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.attached[campaignID])), nil
}

func (f *fakeRecipientRepo) MarkOptedOut(ctx context.Context, id uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.optedOut = append(f.optedOut, id)
	return nil
}

type fakeDeliveryRepo struct {
	repository.DeliveryRecordRepository
	mu       sync.Mutex
	records  []*models.DeliveryRecord
	attempts []*models.DeliveryAttempt
}

func (f *fakeDeliveryRepo) add(r *models.DeliveryRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = uint(len(f.records) + 1)
	if r.TrackingID == uuid.Nil {
		r.TrackingID = uuid.New()
	}
	f.records = append(f.records, r)
}

func (f *fakeDeliveryRepo) CountsByCampaign(ctx context.Context, campaignID uint) (models.DeliveryCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var c models.DeliveryCounts
	for _, r := range f.records {
		if r.CampaignID != campaignID {
			continue
		}
		switch r.Status {
		case models.DeliveryStatusPending:
			c.Pending++
		case models.DeliveryStatusSent:
			c.Sent++
		case models.DeliveryStatusDelivered:
			c.Delivered++
		case models.DeliveryStatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (f *fakeDeliveryRepo) ListByCampaign(ctx context.Context, campaignID uint, limit, offset int) ([]*models.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*models.DeliveryRecord
	for _, r := range f.records {
		if r.CampaignID == campaignID {
			all = append(all, r)
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeDeliveryRepo) AttemptsByRecords(ctx context.Context, recordIDs []uint) ([]*models.DeliveryAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[uint]bool, len(recordIDs))
	for _, id := range recordIDs {
		wanted[id] = true
	}
	var out []*models.DeliveryAttempt
	for _, a := range f.attempts {
		if wanted[a.DeliveryRecordID] {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DeliveryRecordID != out[j].DeliveryRecordID {
			return out[i].DeliveryRecordID < out[j].DeliveryRecordID
		}
		return out[i].AttemptNumber < out[j].AttemptNumber
	})
	return out, nil
}

func (f *fakeDeliveryRepo) ApplyCallback(ctx context.Context, gatewayMessageID string, status models.DeliveryStatus, errorCode *string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.GatewayMessageID != nil && *r.GatewayMessageID == gatewayMessageID && r.Status == models.DeliveryStatusSent {
			r.Status = status
			r.ErrorCode = errorCode
			if status == models.DeliveryStatusDelivered {
				r.DeliveredAt = &at
			}
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDeliveryRepo) ByGatewayMessageID(ctx context.Context, gatewayMessageID string) (*models.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.GatewayMessageID != nil && *r.GatewayMessageID == gatewayMessageID {
			return r, nil
		}
	}
	return nil, nil
}

type fakeQuotaRepo struct {
	repository.QuotaRepository
	mu     sync.Mutex
	ledger *models.QuotaLedger
}

func (f *fakeQuotaRepo) Current(ctx context.Context, accountID uint, at time.Time) (*models.QuotaLedger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ledger == nil || f.ledger.AccountID != accountID || !f.ledger.Covers(at) {
		return nil, nil
	}
	cp := *f.ledger
	return &cp, nil
}

func (f *fakeQuotaRepo) ReserveCampaign(ctx context.Context, accountID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ledger == nil || f.ledger.CampaignsUsed+1 > f.ledger.CampaignsAllowed {
		return false, nil
	}
	f.ledger.CampaignsUsed++
	return true, nil
}

func (f *fakeQuotaRepo) RefundCampaign(ctx context.Context, accountID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ledger != nil && f.ledger.CampaignsUsed > 0 {
		f.ledger.CampaignsUsed--
	}
	return nil
}

func (f *fakeQuotaRepo) campaignsUsed() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ledger.CampaignsUsed
}

type fakeReconciler struct {
	calls []uint
}

func (f *fakeReconciler) Reconcile(ctx context.Context, id uint) (models.CampaignStatus, error) {
	f.calls = append(f.calls, id)
	return models.CampaignStatusCancelled, nil
}

type optOutSet map[string]bool

func (s optOutSet) IsOptOut(code string) bool { return s[code] }

func passthroughTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
