package businessflow

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/amirphl/smsdispatch/app/dto"
	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newCallbackFlow(deliveries *fakeDeliveryRepo, recipients *fakeRecipientRepo) *DeliveryCallbackFlowImpl {
	flow := NewDeliveryCallbackFlow(deliveries, recipients, optOutSet{"STOP": true}, utils.DiscardLogger()).(*DeliveryCallbackFlowImpl)
	flow.now = func() time.Time { return flowNow }
	return flow
}

func TestDeliveryCallbackFlow_ApplyCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("sent record becomes delivered once", func(t *testing.T) {
		deliveries := &fakeDeliveryRepo{}
		deliveries.add(&models.DeliveryRecord{CampaignID: 1, RecipientID: 7, Status: models.DeliveryStatusSent, GatewayMessageID: utils.ToPtr("gw-1")})
		flow := newCallbackFlow(deliveries, newFakeRecipientRepo())

		resp, err := flow.ApplyCallback(ctx, &dto.DeliveryCallbackRequest{GatewayMessageID: "gw-1", Status: "delivered"})
		require.NoError(t, err)
		assert.True(t, resp.Applied)
		assert.Equal(t, models.DeliveryStatusDelivered, deliveries.records[0].Status)
		assert.Equal(t, flowNow, *deliveries.records[0].DeliveredAt)

		resp, err = flow.ApplyCallback(ctx, &dto.DeliveryCallbackRequest{GatewayMessageID: "gw-1", Status: "failed"})
		require.NoError(t, err)
		assert.False(t, resp.Applied)
		assert.Equal(t, models.DeliveryStatusDelivered, deliveries.records[0].Status)
	})

	t.Run("unknown message id", func(t *testing.T) {
		flow := newCallbackFlow(&fakeDeliveryRepo{}, newFakeRecipientRepo())

		resp, err := flow.ApplyCallback(ctx, &dto.DeliveryCallbackRequest{GatewayMessageID: "nope", Status: "delivered"})
		require.NoError(t, err)
		assert.False(t, resp.Applied)
	})

	t.Run("opt-out code marks the recipient", func(t *testing.T) {
		deliveries := &fakeDeliveryRepo{}
		deliveries.add(&models.DeliveryRecord{CampaignID: 1, RecipientID: 7, Status: models.DeliveryStatusSent, GatewayMessageID: utils.ToPtr("gw-2")})
		deliveries.add(&models.DeliveryRecord{CampaignID: 1, RecipientID: 8, Status: models.DeliveryStatusSent, GatewayMessageID: utils.ToPtr("gw-3")})
		recipients := newFakeRecipientRepo()
		flow := newCallbackFlow(deliveries, recipients)

		_, err := flow.ApplyCallback(ctx, &dto.DeliveryCallbackRequest{GatewayMessageID: "gw-2", Status: "failed", ErrorCode: utils.ToPtr("STOP")})
		require.NoError(t, err)
		_, err = flow.ApplyCallback(ctx, &dto.DeliveryCallbackRequest{GatewayMessageID: "gw-3", Status: "failed", ErrorCode: utils.ToPtr("NETWORK")})
		require.NoError(t, err)

		assert.Equal(t, []uint{7}, recipients.optedOut)
		assert.Equal(t, "STOP", *deliveries.records[0].ErrorCode)
	})

	t.Run("status must be terminal", func(t *testing.T) {
		flow := newCallbackFlow(&fakeDeliveryRepo{}, newFakeRecipientRepo())

		_, err := flow.ApplyCallback(ctx, &dto.DeliveryCallbackRequest{GatewayMessageID: "gw", Status: "sent"})
		assert.True(t, IsCallbackStatusInvalid(err))
	})
}

func TestQuotaFlow_CurrentQuota(t *testing.T) {
	repo := &fakeQuotaRepo{ledger: &models.QuotaLedger{
		AccountID:        testAccount,
		PeriodStart:      flowNow.AddDate(0, 0, -1),
		PeriodEnd:        flowNow.AddDate(0, 1, 0),
		MessagesAllowed:  100,
		MessagesUsed:     40,
		CampaignsAllowed: 3,
		CampaignsUsed:    1,
	}}
	flow := NewQuotaFlow(repo).(*QuotaFlowImpl)
	flow.now = func() time.Time { return flowNow }

	resp, err := flow.CurrentQuota(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, int64(60), resp.MessagesRemaining)
	assert.Equal(t, int64(2), resp.CampaignsRemaining)

	_, err = flow.CurrentQuota(context.Background(), testAccount+1)
	assert.True(t, IsQuotaNotFound(err))
}

func TestCampaignReportFlow_DeliveryReport(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	c := campaigns.add(&models.Campaign{AccountID: testAccount, Title: "Launch", Status: models.CampaignStatusSent, RecipientsCount: 3})
	deliveries := &fakeDeliveryRepo{}
	deliveries.add(&models.DeliveryRecord{CampaignID: c.ID, RecipientID: 1, Destination: "+16502530001", Status: models.DeliveryStatusDelivered, GatewayMessageID: utils.ToPtr("gw-1"), Attempts: 1})
	deliveries.add(&models.DeliveryRecord{CampaignID: c.ID, RecipientID: 2, Destination: "+16502530002", Status: models.DeliveryStatusFailed, ErrorCode: utils.ToPtr(models.ErrorCodeInvalidNumber), Attempts: 1})
	deliveries.add(&models.DeliveryRecord{CampaignID: c.ID + 1, RecipientID: 3, Destination: "+16502530003", Status: models.DeliveryStatusSent})
	attemptAt := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	deliveries.attempts = []*models.DeliveryAttempt{
		{DeliveryRecordID: 1, AttemptNumber: 2, LatencyMs: 40, CreatedAt: attemptAt.Add(time.Second)},
		{DeliveryRecordID: 1, AttemptNumber: 1, ErrorCode: utils.ToPtr("throttled"), LatencyMs: 25, CreatedAt: attemptAt},
		{DeliveryRecordID: 2, AttemptNumber: 1, ErrorCode: utils.ToPtr(models.ErrorCodeInvalidNumber), LatencyMs: 30, CreatedAt: attemptAt},
		{DeliveryRecordID: 3, AttemptNumber: 1, LatencyMs: 10, CreatedAt: attemptAt},
	}

	flow := NewCampaignReportFlow(campaigns, deliveries)

	name, body, err := flow.DeliveryReport(context.Background(), action(c))
	require.NoError(t, err)
	assert.Equal(t, "campaign_"+c.UUID.String()+"_deliveries.xlsx", name)

	xl, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()

	assert.Equal(t, []string{"Summary", "Deliveries", "Attempts"}, xl.GetSheetList())

	rows, err := xl.GetRows("Deliveries")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Recipient ID", rows[0][0])
	assert.Equal(t, "+16502530001", rows[1][1])
	assert.Equal(t, "delivered", rows[1][2])
	assert.Equal(t, "gw-1", rows[1][3])
	assert.Equal(t, models.ErrorCodeInvalidNumber, rows[2][4])

	attempts, err := xl.GetRows("Attempts")
	require.NoError(t, err)
	require.Len(t, attempts, 4, "the other campaign's attempt is left out")
	assert.Equal(t, "Attempt", attempts[0][2])
	assert.Equal(t, []string{"1", "throttled", "25"}, attempts[1][2:5])
	assert.Equal(t, []string{"2", "", "40"}, attempts[2][2:5])
	assert.Equal(t, "2", attempts[3][1])

	title, err := xl.GetCellValue("Summary", "B1")
	require.NoError(t, err)
	assert.Equal(t, "Launch", title)

	_, _, err = flow.DeliveryReport(context.Background(), &dto.CampaignActionRequest{AccountID: testAccount + 1, UUID: c.UUID.String()})
	assert.True(t, IsCampaignAccessDenied(err))
}
