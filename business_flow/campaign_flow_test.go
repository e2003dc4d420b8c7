package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/amirphl/smsdispatch/app/dto"
	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount uint = 11

var flowNow = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type campaignFixture struct {
	flow       *CampaignFlowImpl
	campaigns  *fakeCampaignRepo
	recipients *fakeRecipientRepo
	deliveries *fakeDeliveryRepo
	quota      *fakeQuotaRepo
	reconciler *fakeReconciler
}

func newCampaignFixture(t *testing.T) *campaignFixture {
	t.Helper()
	f := &campaignFixture{
		campaigns:  newFakeCampaignRepo(),
		recipients: newFakeRecipientRepo(),
		deliveries: &fakeDeliveryRepo{},
		quota: &fakeQuotaRepo{ledger: &models.QuotaLedger{
			AccountID:        testAccount,
			PeriodStart:      flowNow.AddDate(0, 0, -1),
			PeriodEnd:        flowNow.AddDate(0, 1, 0),
			MessagesAllowed:  1000,
			CampaignsAllowed: 2,
		}},
		reconciler: &fakeReconciler{},
	}
	flow := NewCampaignFlow(f.campaigns, f.recipients, f.deliveries, f.quota, f.reconciler, passthroughTx, utils.DiscardLogger())
	f.flow = flow.(*CampaignFlowImpl)
	f.flow.now = func() time.Time { return flowNow }
	return f
}

func (f *campaignFixture) campaign(status models.CampaignStatus) *models.Campaign {
	return f.campaigns.add(&models.Campaign{AccountID: testAccount, Title: "t", Template: "hello", Status: status})
}

func action(c *models.Campaign) *dto.CampaignActionRequest {
	return &dto.CampaignActionRequest{AccountID: testAccount, UUID: c.UUID.String()}
}

func TestCampaignFlow_CreateCampaign(t *testing.T) {
	ctx := context.Background()

	t.Run("draft with deduplicated audience", func(t *testing.T) {
		f := newCampaignFixture(t)
		for id := uint(1); id <= 3; id++ {
			f.recipients.add(id, testAccount)
		}

		resp, err := f.flow.CreateCampaign(ctx, &dto.CreateCampaignRequest{
			AccountID:    testAccount,
			Title:        "  Spring sale ",
			Template:     "Hi {first_name}",
			Variables:    map[string]any{"code": "X"},
			RecipientIDs: []uint{3, 1, 2, 1},
		})
		require.NoError(t, err)
		assert.Equal(t, "draft", resp.Status)
		assert.Equal(t, "Spring sale", resp.Title)
		assert.Equal(t, int64(3), resp.RecipientsCount)
		assert.Equal(t, []uint{1, 2, 3}, f.recipients.attached[1])
	})

	t.Run("foreign recipients are rejected", func(t *testing.T) {
		f := newCampaignFixture(t)
		f.recipients.add(1, testAccount)
		f.recipients.add(2, testAccount+1)

		_, err := f.flow.CreateCampaign(ctx, &dto.CreateCampaignRequest{
			AccountID: testAccount, Title: "t", Template: "x", RecipientIDs: []uint{1, 2, 99},
		})
		assert.True(t, IsRecipientNotFound(err))
		assert.Equal(t, "RECIPIENT_NOT_FOUND", BusinessCode(err))
		assert.Empty(t, f.campaigns.campaigns)
	})

	t.Run("blank template", func(t *testing.T) {
		f := newCampaignFixture(t)
		_, err := f.flow.CreateCampaign(ctx, &dto.CreateCampaignRequest{AccountID: testAccount, Title: "t", Template: "  "})
		assert.True(t, IsValidationError(err))
	})
}

func TestCampaignFlow_ScheduleCampaign(t *testing.T) {
	ctx := context.Background()

	t.Run("draft is scheduled and takes a campaign unit", func(t *testing.T) {
		f := newCampaignFixture(t)
		c := f.campaign(models.CampaignStatusDraft)
		at := flowNow.Add(time.Hour)

		resp, err := f.flow.ScheduleCampaign(ctx, &dto.ScheduleCampaignRequest{AccountID: testAccount, UUID: c.UUID.String(), ScheduledAt: at})
		require.NoError(t, err)
		assert.Equal(t, "scheduled", resp.Status)
		assert.Equal(t, at, *resp.ScheduledAt)
		assert.Equal(t, int64(1), f.quota.campaignsUsed())
	})

	t.Run("past schedule time", func(t *testing.T) {
		f := newCampaignFixture(t)
		c := f.campaign(models.CampaignStatusDraft)

		_, err := f.flow.ScheduleCampaign(ctx, &dto.ScheduleCampaignRequest{AccountID: testAccount, UUID: c.UUID.String(), ScheduledAt: flowNow})
		assert.True(t, IsScheduleInPast(err))
		assert.Zero(t, f.quota.campaignsUsed())
	})

	t.Run("campaign quota exhausted", func(t *testing.T) {
		f := newCampaignFixture(t)
		f.quota.ledger.CampaignsUsed = 2
		c := f.campaign(models.CampaignStatusDraft)

		_, err := f.flow.ScheduleCampaign(ctx, &dto.ScheduleCampaignRequest{AccountID: testAccount, UUID: c.UUID.String(), ScheduledAt: flowNow.Add(time.Hour)})
		assert.True(t, IsCampaignQuotaExceeded(err))
		assert.Equal(t, models.CampaignStatusDraft, f.campaigns.get(c.ID).Status)
	})

	t.Run("only drafts can be scheduled", func(t *testing.T) {
		f := newCampaignFixture(t)
		c := f.campaign(models.CampaignStatusSent)

		_, err := f.flow.ScheduleCampaign(ctx, &dto.ScheduleCampaignRequest{AccountID: testAccount, UUID: c.UUID.String(), ScheduledAt: flowNow.Add(time.Hour)})
		assert.True(t, IsInvalidStatusTransition(err))
		assert.Zero(t, f.quota.campaignsUsed())
	})

	t.Run("another account", func(t *testing.T) {
		f := newCampaignFixture(t)
		c := f.campaign(models.CampaignStatusDraft)

		_, err := f.flow.ScheduleCampaign(ctx, &dto.ScheduleCampaignRequest{AccountID: testAccount + 1, UUID: c.UUID.String(), ScheduledAt: flowNow.Add(time.Hour)})
		assert.True(t, IsCampaignAccessDenied(err))
	})
}

func TestCampaignFlow_PauseResume(t *testing.T) {
	ctx := context.Background()
	f := newCampaignFixture(t)
	c := f.campaign(models.CampaignStatusSending)

	resp, err := f.flow.PauseCampaign(ctx, action(c))
	require.NoError(t, err)
	assert.Equal(t, "paused", resp.Status)

	_, err = f.flow.PauseCampaign(ctx, action(c))
	assert.True(t, IsInvalidStatusTransition(err))

	resp, err = f.flow.ResumeCampaign(ctx, action(c))
	require.NoError(t, err)
	assert.Equal(t, "scheduled", resp.Status)
	assert.Equal(t, flowNow, *resp.ScheduledAt)

	_, err = f.flow.ResumeCampaign(ctx, action(c))
	assert.True(t, IsInvalidStatusTransition(err))
}

func TestCampaignFlow_CancelCampaign(t *testing.T) {
	ctx := context.Background()

	t.Run("scheduled campaign gets its unit back", func(t *testing.T) {
		f := newCampaignFixture(t)
		f.quota.ledger.CampaignsUsed = 1
		c := f.campaign(models.CampaignStatusScheduled)

		resp, err := f.flow.CancelCampaign(ctx, action(c))
		require.NoError(t, err)
		assert.Equal(t, "cancelled", resp.Status)
		assert.NotNil(t, resp.FinishedAt)
		assert.Zero(t, f.quota.campaignsUsed())
		assert.Empty(t, f.reconciler.calls)
	})

	t.Run("draft refunds nothing", func(t *testing.T) {
		f := newCampaignFixture(t)
		f.quota.ledger.CampaignsUsed = 1
		c := f.campaign(models.CampaignStatusDraft)

		_, err := f.flow.CancelCampaign(ctx, action(c))
		require.NoError(t, err)
		assert.Equal(t, int64(1), f.quota.campaignsUsed())
	})

	t.Run("started campaign is settled from the ledger", func(t *testing.T) {
		f := newCampaignFixture(t)
		f.quota.ledger.CampaignsUsed = 1
		c := f.campaign(models.CampaignStatusPaused)
		f.campaigns.campaigns[c.ID].StartedAt = utils.ToPtr(flowNow.Add(-time.Hour))

		_, err := f.flow.CancelCampaign(ctx, action(c))
		require.NoError(t, err)
		assert.Equal(t, []uint{c.ID}, f.reconciler.calls)
		assert.Equal(t, int64(1), f.quota.campaignsUsed())
	})

	t.Run("sending must be paused first", func(t *testing.T) {
		f := newCampaignFixture(t)
		c := f.campaign(models.CampaignStatusSending)

		_, err := f.flow.CancelCampaign(ctx, action(c))
		assert.True(t, IsInvalidStatusTransition(err))
		assert.Equal(t, models.CampaignStatusSending, f.campaigns.get(c.ID).Status)
	})
}

func TestCampaignFlow_DeleteCampaign(t *testing.T) {
	ctx := context.Background()
	f := newCampaignFixture(t)

	draft := f.campaign(models.CampaignStatusDraft)
	require.NoError(t, f.flow.DeleteCampaign(ctx, action(draft)))
	assert.Equal(t, []uint{draft.ID}, f.campaigns.deleted)

	sending := f.campaign(models.CampaignStatusSending)
	err := f.flow.DeleteCampaign(ctx, action(sending))
	assert.True(t, IsCampaignNotDeletable(err))

	_, err = f.flow.GetCampaign(ctx, action(draft))
	assert.True(t, IsCampaignNotFound(err))
}

func TestCampaignFlow_CampaignStats(t *testing.T) {
	f := newCampaignFixture(t)
	c := f.campaign(models.CampaignStatusSending)
	f.campaigns.campaigns[c.ID].RecipientsCount = 5
	f.recipients.attached[c.ID] = []uint{1, 2, 3, 4, 5, 6}
	for _, st := range []models.DeliveryStatus{models.DeliveryStatusSent, models.DeliveryStatusDelivered, models.DeliveryStatusFailed, models.DeliveryStatusPending} {
		f.deliveries.add(&models.DeliveryRecord{CampaignID: c.ID, Status: st})
	}

	stats, err := f.flow.CampaignStats(context.Background(), action(c))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Sent)
	assert.Equal(t, int64(1), stats.Delivered)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.NotStarted)
	assert.Equal(t, int64(6), stats.AudienceSize)
	assert.Equal(t, int64(5), stats.RecipientsCount)
}

func TestCampaignFlow_ListCampaigns(t *testing.T) {
	f := newCampaignFixture(t)
	for i := 0; i < 5; i++ {
		f.campaign(models.CampaignStatusDraft)
	}
	f.campaigns.add(&models.Campaign{AccountID: testAccount + 1, Status: models.CampaignStatusDraft})

	resp, err := f.flow.ListCampaigns(context.Background(), &dto.ListCampaignsRequest{AccountID: testAccount, Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 2)
	assert.Equal(t, int64(5), resp.Pagination.Total)
	assert.Equal(t, 3, resp.Pagination.TotalPages)

	_, err = f.flow.ListCampaigns(context.Background(), &dto.ListCampaignsRequest{AccountID: testAccount, PageSize: 500})
	assert.True(t, IsValidationError(err))
}
