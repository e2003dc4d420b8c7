package models

import "time"

// QuotaLedger holds one account's sending allowance for one billing period
type QuotaLedger struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	AccountID        uint      `gorm:"not null;uniqueIndex:uk_quota_ledgers_account_period,priority:1" json:"account_id"`
	PeriodStart      time.Time `gorm:"not null;uniqueIndex:uk_quota_ledgers_account_period,priority:2" json:"period_start"`
	PeriodEnd        time.Time `gorm:"not null;index:idx_quota_ledgers_period_end" json:"period_end"`
	MessagesAllowed  int64     `gorm:"not null;default:0" json:"messages_allowed"`
	MessagesUsed     int64     `gorm:"not null;default:0" json:"messages_used"`
	CampaignsAllowed int64     `gorm:"not null;default:0" json:"campaigns_allowed"`
	CampaignsUsed    int64     `gorm:"not null;default:0" json:"campaigns_used"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`
}

// TableName returns the table name for the model
func (QuotaLedger) TableName() string {
	return "quota_ledgers"
}

// MessagesRemaining returns the unused message allowance
func (q *QuotaLedger) MessagesRemaining() int64 {
	if q.MessagesUsed >= q.MessagesAllowed {
		return 0
	}
	return q.MessagesAllowed - q.MessagesUsed
}

// CampaignsRemaining returns the unused campaign allowance
func (q *QuotaLedger) CampaignsRemaining() int64 {
	if q.CampaignsUsed >= q.CampaignsAllowed {
		return 0
	}
	return q.CampaignsAllowed - q.CampaignsUsed
}

// Covers reports whether t falls inside the ledger period
func (q *QuotaLedger) Covers(t time.Time) bool {
	return !t.Before(q.PeriodStart) && t.Before(q.PeriodEnd)
}

// NextPeriod returns a fresh ledger for the period following q with the same allowances
func (q *QuotaLedger) NextPeriod() *QuotaLedger {
	length := q.PeriodEnd.Sub(q.PeriodStart)
	return &QuotaLedger{
		AccountID:        q.AccountID,
		PeriodStart:      q.PeriodEnd,
		PeriodEnd:        q.PeriodEnd.Add(length),
		MessagesAllowed:  q.MessagesAllowed,
		CampaignsAllowed: q.CampaignsAllowed,
	}
}
