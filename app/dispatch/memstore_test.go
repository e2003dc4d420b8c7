package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/amirphl/smsdispatch/models"
	"github.com/google/uuid"
)

// memStore is an in-memory stand-in for the campaign, ledger, recipient and quota repositories.
// Conditional writes take the same lock so they behave like single SQL statements.
type memStore struct {
	mu sync.Mutex

	campaigns  map[uint]*models.Campaign
	recipients map[uint]*models.Recipient
	audience   map[uint][]uint
	records    map[uint]*models.DeliveryRecord
	byPair     map[[2]uint]uint
	attempts   []*models.DeliveryAttempt
	nextRecord uint

	quota    map[uint]int64
	reserved map[uint]int64
	refunded map[uint]int64

	// fault injection
	createErr   error
	completeErr error
	listErr     error
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:  make(map[uint]*models.Campaign),
		recipients: make(map[uint]*models.Recipient),
		audience:   make(map[uint][]uint),
		records:    make(map[uint]*models.DeliveryRecord),
		byPair:     make(map[[2]uint]uint),
		quota:      make(map[uint]int64),
		reserved:   make(map[uint]int64),
		refunded:   make(map[uint]int64),
	}
}

func (m *memStore) addCampaign(c *models.Campaign) *models.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	cp := *c
	m.campaigns[c.ID] = &cp
	return c
}

func (m *memStore) addRecipients(campaignID, accountID uint, n int, optedOut func(i int) bool) []uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint, 0, n)
	base := uint(len(m.recipients)) + 1
	for i := 0; i < n; i++ {
		id := base + uint(i)
		first := fmt.Sprintf("R%d", id)
		m.recipients[id] = &models.Recipient{
			ID:          id,
			AccountID:   accountID,
			PhoneNumber: fmt.Sprintf("+1650253%04d", id),
			FirstName:   &first,
			OptedOut:    optedOut != nil && optedOut(i),
		}
		ids = append(ids, id)
	}
	m.audience[campaignID] = append(m.audience[campaignID], ids...)
	return ids
}

func (m *memStore) campaign(id uint) models.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.campaigns[id]
}

func (m *memStore) setStatus(id uint, status models.CampaignStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[id].Status = status
}

func (m *memStore) recordsOf(campaignID uint) []*models.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DeliveryRecord
	for _, r := range m.records {
		if r.CampaignID == campaignID {
			cp := *r
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.DeliveryRecord) int { return int(a.RecipientID) - int(b.RecipientID) })
	return out
}

func (m *memStore) attemptsOf(recordID uint) []*models.DeliveryAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DeliveryAttempt
	for _, a := range m.attempts {
		if a.DeliveryRecordID == recordID {
			out = append(out, a)
		}
	}
	return out
}

// CampaignStore

func (m *memStore) ByID(ctx context.Context, id uint) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) StatusOf(ctx context.Context, id uint) (models.CampaignStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[id]; ok {
		return c.Status, nil
	}
	return "", nil
}

func (m *memStore) TransitionStatus(ctx context.Context, id uint, from []models.CampaignStatus, to models.CampaignStatus, change models.CampaignTransition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || !slices.Contains(from, c.Status) {
		return false, nil
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
	if change.FailureReason != nil {
		c.FailureReason = change.FailureReason
	}
	if change.DeliveredCount != nil {
		c.DeliveredCount = *change.DeliveredCount
	}
	if change.FailedCount != nil {
		c.FailedCount = *change.FailedCount
	}
	switch {
	case change.RecipientsCount != nil:
		c.RecipientsCount = *change.RecipientsCount
	case change.SettleRecipients:
		c.RecipientsCount = c.DeliveredCount + c.FailedCount
	}
	c.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) ResetProgress(ctx context.Context, id uint, recipients, delivered, failed int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.Status != models.CampaignStatusSending {
		return false, nil
	}
	c.RecipientsCount, c.DeliveredCount, c.FailedCount = recipients, delivered, failed
	return true, nil
}

func (m *memStore) IncrementOutcome(ctx context.Context, id uint, delivered, failed int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.DeliveredCount+c.FailedCount+delivered+failed > c.RecipientsCount {
		return false, nil
	}
	c.DeliveredCount += delivered
	c.FailedCount += failed
	return true, nil
}

func (m *memStore) ExcludeRecipient(ctx context.Context, id uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.RecipientsCount <= c.DeliveredCount+c.FailedCount {
		return false, nil
	}
	c.RecipientsCount--
	return true, nil
}

// DeliveryLedger

func (m *memStore) CreatePending(ctx context.Context, record *models.DeliveryRecord) (*models.DeliveryRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, false, m.createErr
	}
	key := [2]uint{record.CampaignID, record.RecipientID}
	if id, ok := m.byPair[key]; ok {
		cp := *m.records[id]
		return &cp, false, nil
	}
	m.nextRecord++
	record.ID = m.nextRecord
	record.Status = models.DeliveryStatusPending
	record.TrackingID = uuid.New()
	cp := *record
	m.records[record.ID] = &cp
	m.byPair[key] = record.ID
	return record, true, nil
}

func (m *memStore) Complete(ctx context.Context, id uint, outcome models.DeliveryOutcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return false, m.completeErr
	}
	r, ok := m.records[id]
	if !ok || r.Status != models.DeliveryStatusPending {
		return false, nil
	}
	r.Status = outcome.Status
	r.GatewayMessageID = outcome.GatewayMessageID
	r.ErrorCode = outcome.ErrorCode
	r.Attempts = outcome.Attempts
	r.QuotaReserved = outcome.QuotaReserved
	r.SentAt = outcome.SentAt
	if outcome.Content != "" {
		r.Content = outcome.Content
	}
	return true, nil
}

func (m *memStore) RecordAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *attempt
	m.attempts = append(m.attempts, &cp)
	return nil
}

func (m *memStore) CountsByCampaign(ctx context.Context, campaignID uint) (models.DeliveryCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var counts models.DeliveryCounts
	for _, r := range m.records {
		if r.CampaignID != campaignID {
			continue
		}
		switch r.Status {
		case models.DeliveryStatusPending:
			counts.Pending++
		case models.DeliveryStatusSent:
			counts.Sent++
		case models.DeliveryStatusDelivered:
			counts.Delivered++
		case models.DeliveryStatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

// RecipientStore

type memRecipients struct{ *memStore }

func (m memRecipients) ByID(ctx context.Context, id uint) (*models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m memRecipients) MarkOptedOut(ctx context.Context, id uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recipients[id]; ok && !r.OptedOut {
		r.OptedOut = true
		r.OptedOutAt = &at
	}
	return nil
}

func (m memRecipients) ListEligibleIDs(ctx context.Context, campaignID uint) ([]uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var ids []uint
	for _, id := range m.audience[campaignID] {
		if m.recipients[id].OptedOut {
			continue
		}
		if rid, ok := m.byPair[[2]uint{campaignID, id}]; ok && m.records[rid].Status.IsTerminal() {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// QuotaLedger

type memQuota struct{ *memStore }

func (m memQuota) Reserve(ctx context.Context, accountID uint, units int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota[accountID] < units {
		return false, nil
	}
	m.quota[accountID] -= units
	m.reserved[accountID] += units
	return true, nil
}

func (m memQuota) Refund(ctx context.Context, accountID uint, units int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserved[accountID]-m.refunded[accountID] < units {
		return errors.New("refund exceeds reservations")
	}
	m.quota[accountID] += units
	m.refunded[accountID] += units
	return nil
}

// recordingSleep captures backoff delays instead of waiting
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleep) observed() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	finished []models.Campaign
}

func (n *recordingNotifier) CampaignFinished(_ context.Context, c *models.Campaign) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, *c)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.finished)
}
