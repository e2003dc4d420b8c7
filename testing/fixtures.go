package testing

import (
	"fmt"
	"time"

	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/brianvoe/gofakeit/v6"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB    *TestDB
	faker *gofakeit.Faker
}

// NewTestFixtures creates a new test fixtures instance. A fixed seed keeps generated data
// reproducible between runs.
func NewTestFixtures(db *TestDB, seed int64) *TestFixtures {
	return &TestFixtures{DB: db, faker: gofakeit.New(seed)}
}

// FakeRecipient builds an unsaved recipient with a valid US mobile number
func FakeRecipient(f *gofakeit.Faker, accountID uint) *models.Recipient {
	first := f.FirstName()
	last := f.LastName()
	now := utils.UTCNow()
	return &models.Recipient{
		AccountID:   accountID,
		PhoneNumber: fmt.Sprintf("+1650253%04d", f.Number(0, 9999)),
		FirstName:   &first,
		LastName:    &last,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CreateRecipients inserts count recipients for the account
func (tf *TestFixtures) CreateRecipients(accountID uint, count int) ([]*models.Recipient, error) {
	recipients := make([]*models.Recipient, 0, count)
	for i := 0; i < count; i++ {
		recipients = append(recipients, FakeRecipient(tf.faker, accountID))
	}
	if err := tf.DB.DB.CreateInBatches(recipients, 100).Error; err != nil {
		return nil, fmt.Errorf("failed to create test recipients: %w", err)
	}
	return recipients, nil
}

// CreateCampaign inserts a campaign in the given status with recipients attached
func (tf *TestFixtures) CreateCampaign(accountID uint, status models.CampaignStatus, recipients []*models.Recipient) (*models.Campaign, error) {
	campaign := &models.Campaign{
		AccountID:       accountID,
		Title:           tf.faker.Sentence(3),
		Template:        "Hi {first_name}, " + tf.faker.Sentence(6),
		Status:          status,
		RecipientsCount: int64(len(recipients)),
	}
	if status == models.CampaignStatusScheduled {
		at := utils.UTCNow().Add(-time.Minute)
		campaign.ScheduledAt = &at
	}
	if err := tf.DB.DB.Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create test campaign: %w", err)
	}

	if len(recipients) == 0 {
		return campaign, nil
	}
	links := make([]*models.CampaignRecipient, 0, len(recipients))
	for _, r := range recipients {
		links = append(links, &models.CampaignRecipient{
			CampaignID:  campaign.ID,
			RecipientID: r.ID,
			CreatedAt:   campaign.CreatedAt,
		})
	}
	if err := tf.DB.DB.Create(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to attach test recipients: %w", err)
	}

	return campaign, nil
}

// CreateQuotaLedger opens a monthly period covering at
func (tf *TestFixtures) CreateQuotaLedger(accountID uint, at time.Time, messages, campaigns int64) (*models.QuotaLedger, error) {
	start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	now := utils.UTCNow()
	ledger := &models.QuotaLedger{
		AccountID:        accountID,
		PeriodStart:      start,
		PeriodEnd:        start.AddDate(0, 1, 0),
		MessagesAllowed:  messages,
		CampaignsAllowed: campaigns,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tf.DB.DB.Create(ledger).Error; err != nil {
		return nil, fmt.Errorf("failed to create test quota ledger: %w", err)
	}
	return ledger, nil
}
