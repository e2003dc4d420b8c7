package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/smsdispatch/models"
	testutil "github.com/amirphl/smsdispatch/testing"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignRepository_TransitionStatusIsConditional(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	fx := testutil.NewTestFixtures(tdb, 42)
	repo := NewCampaignRepository(tdb.DB)
	ctx := context.Background()

	campaign, err := fx.CreateCampaign(1, models.CampaignStatusScheduled, nil)
	require.NoError(t, err)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := utils.UTCNow()
			ok, err := repo.TransitionStatus(ctx, campaign.ID,
				[]models.CampaignStatus{models.CampaignStatusScheduled},
				models.CampaignStatusSending,
				models.CampaignTransition{StartedAt: &started})
			if err == nil && ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won, "exactly one worker claims the campaign")

	status, err := repo.StatusOf(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusSending, status)

	ok, err := repo.TransitionStatus(ctx, campaign.ID,
		[]models.CampaignStatus{models.CampaignStatusSending},
		models.CampaignStatusSent,
		models.CampaignTransition{SettleRecipients: true})
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := repo.ByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.RecipientsCount)
	assert.NotNil(t, stored.StartedAt)
}

func TestCampaignRepository_ListDue(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	fx := testutil.NewTestFixtures(tdb, 7)
	repo := NewCampaignRepository(tdb.DB)
	ctx := context.Background()

	due, err := fx.CreateCampaign(1, models.CampaignStatusScheduled, nil)
	require.NoError(t, err)
	_, err = fx.CreateCampaign(1, models.CampaignStatusDraft, nil)
	require.NoError(t, err)

	later := utils.UTCNow().Add(time.Hour)
	notYet, err := fx.CreateCampaign(1, models.CampaignStatusScheduled, nil)
	require.NoError(t, err)
	require.NoError(t, tdb.DB.Model(notYet).Update("scheduled_at", later).Error)

	campaigns, err := repo.ListDue(ctx, utils.UTCNow(), 10)
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.Equal(t, due.ID, campaigns[0].ID)
}

func TestDeliveryRecordRepository_Lifecycle(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	fx := testutil.NewTestFixtures(tdb, 3)
	repo := NewDeliveryRecordRepository(tdb.DB)
	ctx := context.Background()

	recipients, err := fx.CreateRecipients(5, 2)
	require.NoError(t, err)
	campaign, err := fx.CreateCampaign(5, models.CampaignStatusSending, recipients)
	require.NoError(t, err)

	newRecord := func(r *models.Recipient) *models.DeliveryRecord {
		return &models.DeliveryRecord{
			CampaignID:  campaign.ID,
			RecipientID: r.ID,
			AccountID:   5,
			Destination: r.PhoneNumber,
		}
	}

	first, created, err := repo.CreatePending(ctx, newRecord(recipients[0]))
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.CreatePending(ctx, newRecord(recipients[0]))
	require.NoError(t, err)
	assert.False(t, created, "a second insert for the same pair returns the stored row")
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.TrackingID, again.TrackingID)

	_, _, err = repo.CreatePending(ctx, newRecord(recipients[1]))
	require.NoError(t, err)

	gatewayID := "gw-123"
	sentAt := utils.UTCNow()
	ok, err := repo.Complete(ctx, first.ID, models.DeliveryOutcome{
		Status:           models.DeliveryStatusSent,
		GatewayMessageID: &gatewayID,
		Attempts:         1,
		QuotaReserved:    true,
		SentAt:           &sentAt,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Complete(ctx, first.ID, models.DeliveryOutcome{Status: models.DeliveryStatusFailed, Attempts: 2})
	require.NoError(t, err)
	assert.False(t, ok, "a terminal record is never rewritten")

	counts, err := repo.CountsByCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryCounts{Pending: 1, Sent: 1}, counts)

	applied, err := repo.ApplyCallback(ctx, gatewayID, models.DeliveryStatusDelivered, nil, utils.UTCNow())
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.ApplyCallback(ctx, gatewayID, models.DeliveryStatusDelivered, nil, utils.UTCNow())
	require.NoError(t, err)
	assert.False(t, applied, "duplicate callbacks are ignored")

	stored, err := repo.ByGatewayMessageID(ctx, gatewayID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusDelivered, stored.Status)
	assert.NotNil(t, stored.DeliveredAt)
}

func TestQuotaRepository_ReserveNeverExceedsAllowance(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	fx := testutil.NewTestFixtures(tdb, 11)
	repo := NewQuotaRepository(tdb.DB)
	ctx := context.Background()

	_, err := fx.CreateQuotaLedger(9, utils.UTCNow(), 30, 1)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				ok, err := repo.Reserve(ctx, 9, 1)
				if err == nil && ok {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 30, granted)

	ledger, err := repo.Current(ctx, 9, utils.UTCNow())
	require.NoError(t, err)
	require.NotNil(t, ledger)
	assert.Equal(t, int64(30), ledger.MessagesUsed)
}
