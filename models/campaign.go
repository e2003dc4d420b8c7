package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CampaignStatus represents the lifecycle status of a campaign
type CampaignStatus string

const (
	CampaignStatusDraft         CampaignStatus = "draft"
	CampaignStatusScheduled     CampaignStatus = "scheduled"
	CampaignStatusSending       CampaignStatus = "sending"
	CampaignStatusSent          CampaignStatus = "sent"
	CampaignStatusPartiallySent CampaignStatus = "partially_sent"
	CampaignStatusFailed        CampaignStatus = "failed"
	CampaignStatusPaused        CampaignStatus = "paused"
	CampaignStatusCancelled     CampaignStatus = "cancelled"
)

// String returns the string representation of the status
func (s CampaignStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusSending,
		CampaignStatusSent, CampaignStatusPartiallySent, CampaignStatusFailed,
		CampaignStatusPaused, CampaignStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition can leave this status
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignStatusSent, CampaignStatusPartiallySent, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a campaign in status s may move to next
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	switch s {
	case CampaignStatusDraft:
		return next == CampaignStatusScheduled || next == CampaignStatusCancelled
	case CampaignStatusScheduled:
		return next == CampaignStatusSending ||
			next == CampaignStatusPaused ||
			next == CampaignStatusCancelled
	case CampaignStatusSending:
		return next == CampaignStatusSent ||
			next == CampaignStatusPartiallySent ||
			next == CampaignStatusFailed ||
			next == CampaignStatusPaused
	case CampaignStatusPaused:
		return next == CampaignStatusScheduled || next == CampaignStatusCancelled
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CampaignStatus
func (s *CampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = CampaignStatus(v)
	case []byte:
		*s = CampaignStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for CampaignStatus
func (s CampaignStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CampaignStatus: %s", s)
	}
	return string(s), nil
}

// Campaign is a bulk SMS campaign owned by an account
type Campaign struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	UUID            uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:uk_campaigns_uuid" json:"uuid"`
	AccountID       uint              `gorm:"not null;index:idx_campaigns_account_id" json:"account_id"`
	Title           string            `gorm:"size:255;not null" json:"title"`
	Template        string            `gorm:"type:text;not null" json:"template"`
	Variables       datatypes.JSONMap `gorm:"type:jsonb" json:"variables,omitempty"`
	Status          CampaignStatus    `gorm:"size:32;not null;default:'draft';index:idx_campaigns_status_scheduled_at,priority:1" json:"status"`
	RecipientsCount int64             `gorm:"not null;default:0" json:"recipients_count"`
	DeliveredCount  int64             `gorm:"not null;default:0" json:"delivered_count"`
	FailedCount     int64             `gorm:"not null;default:0" json:"failed_count"`
	ScheduledAt     *time.Time        `gorm:"index:idx_campaigns_status_scheduled_at,priority:2" json:"scheduled_at,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	FailureReason   *string           `gorm:"size:64" json:"failure_reason,omitempty"`
	CreatedAt       time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null;index:idx_campaigns_updated_at" json:"updated_at"`
}

// TableName returns the table name for the model
func (Campaign) TableName() string {
	return "campaigns"
}

// BeforeCreate fills identity and defaults before insert
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CampaignStatusDraft
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	return nil
}

// IsDeletable reports whether the campaign may be removed by its owner
func (c *Campaign) IsDeletable() bool {
	return c.Status == CampaignStatusDraft || c.Status.IsTerminal()
}

// Outstanding returns how many counted recipients have no terminal outcome yet
func (c *Campaign) Outstanding() int64 {
	return c.RecipientsCount - c.DeliveredCount - c.FailedCount
}

// CampaignFilter represents filter criteria for campaigns
type CampaignFilter struct {
	ID              *uint           `json:"id,omitempty"`
	UUID            *uuid.UUID      `json:"uuid,omitempty"`
	AccountID       *uint           `json:"account_id,omitempty"`
	Status          *CampaignStatus `json:"status,omitempty"`
	ScheduledBefore *time.Time      `json:"scheduled_before,omitempty"`
	UpdatedBefore   *time.Time      `json:"updated_before,omitempty"`
}

// CampaignRecipient links a campaign to one recipient of its audience
type CampaignRecipient struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CampaignID  uint      `gorm:"not null;uniqueIndex:uk_campaign_recipients_pair,priority:1" json:"campaign_id"`
	RecipientID uint      `gorm:"not null;uniqueIndex:uk_campaign_recipients_pair,priority:2" json:"recipient_id"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

// TableName returns the table name for the model
func (CampaignRecipient) TableName() string {
	return "campaign_recipients"
}

// CampaignTransition carries the columns written together with a status change.
// Nil fields are left untouched.
type CampaignTransition struct {
	ScheduledAt     *time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	FailureReason   *string
	RecipientsCount *int64
	DeliveredCount  *int64
	FailedCount     *int64
	// SettleRecipients sets recipients_count to delivered_count + failed_count in the same statement
	SettleRecipients bool
}
