package dispatch

import (
	"testing"
	"time"

	"github.com/amirphl/smsdispatch/app/services"
	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/stretchr/testify/require"
)

const testAccountID uint = 7

var defaultDelays = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

type harness struct {
	store        *memStore
	gateway      *services.MockSMSGateway
	sleeper      *recordingSleep
	notifier     *recordingNotifier
	sender       *Sender
	reconciler   *Reconciler
	orchestrator *Orchestrator
}

type harnessOptions struct {
	chunkSize   int
	workers     int
	concurrency int
	maxRetries  int
	policy      RefundPolicy
}

func newHarness(t *testing.T, opts ...func(*harnessOptions)) *harness {
	t.Helper()

	o := harnessOptions{chunkSize: 100, workers: 4, concurrency: 5, maxRetries: 3, policy: RefundPreGateway}
	for _, fn := range opts {
		fn(&o)
	}

	classifier, err := NewClassifier(
		[]string{"timeout", "rate_limited", "server_error", "transport_error"},
		[]string{"invalid_number", "opted_out", "blacklisted", "rejected"},
		[]string{"opted_out"},
		[]string{"server_error", "timeout"},
	)
	require.NoError(t, err)

	store := newMemStore()
	h := &harness{
		store:    store,
		gateway:  services.NewMockSMSGateway(),
		sleeper:  &recordingSleep{},
		notifier: &recordingNotifier{},
	}

	h.sender = NewSender(store, store, memRecipients{store}, memQuota{store}, h.gateway, classifier,
		TableBackoff(defaultDelays, o.maxRetries),
		SenderConfig{GatewayTimeout: time.Second, RefundPolicy: o.policy, DefaultRegion: "US"},
		utils.DiscardLogger(),
	)
	h.sender.sleep = h.sleeper.sleep

	h.reconciler = NewReconciler(store, store, h.notifier, utils.DiscardLogger())
	h.orchestrator = NewOrchestrator(store, store, memRecipients{store}, h.sender, h.reconciler,
		OrchestratorConfig{ChunkSize: o.chunkSize, Workers: o.workers, ChunkConcurrency: o.concurrency},
		utils.DiscardLogger(),
	)
	return h
}

// sendingCampaign registers a campaign already moved to sending with n recipients
func (h *harness) sendingCampaign(id uint, n int, optedOut func(int) bool) (*models.Campaign, []uint) {
	c := h.store.addCampaign(&models.Campaign{
		ID:        id,
		AccountID: testAccountID,
		Title:     "promo",
		Template:  "Hi {first_name}, code {code}",
		Variables: map[string]any{"code": "SAVE10"},
		Status:    models.CampaignStatusSending,
	})
	ids := h.store.addRecipients(id, testAccountID, n, optedOut)
	return c, ids
}

func (h *harness) setQuota(units int64) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	h.store.quota[testAccountID] = units
}

func (h *harness) quotaLeft() int64 {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return h.store.quota[testAccountID]
}

func (h *harness) phoneOf(recipientID uint) string {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return h.store.recipients[recipientID].PhoneNumber
}

func withChunking(size, workers, concurrency int) func(*harnessOptions) {
	return func(o *harnessOptions) {
		o.chunkSize, o.workers, o.concurrency = size, workers, concurrency
	}
}

func withRefundPolicy(p RefundPolicy) func(*harnessOptions) {
	return func(o *harnessOptions) { o.policy = p }
}

func failure(code string) services.MockResponse {
	return services.MockResponse{Result: &services.SendResult{ErrorCode: code}}
}
