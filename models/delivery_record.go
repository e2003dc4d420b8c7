package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeliveryStatus enumerates the outcome of one outbound message
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// String returns the string representation of the status
func (s DeliveryStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusSent, DeliveryStatusDelivered, DeliveryStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the send phase is over for this record
func (s DeliveryStatus) IsTerminal() bool {
	return s != DeliveryStatusPending && s != ""
}

// Scan implements the sql.Scanner interface for DeliveryStatus
func (s *DeliveryStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = DeliveryStatus(v)
	case []byte:
		*s = DeliveryStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into DeliveryStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for DeliveryStatus
func (s DeliveryStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid DeliveryStatus: %s", s)
	}
	return string(s), nil
}

// Well-known error codes written by the pipeline itself.
// Gateway codes are stored verbatim.
const (
	ErrorCodeQuotaExceeded     = "quota_exceeded"
	ErrorCodeInvalidNumber     = "invalid_number"
	ErrorCodeTimeout           = "timeout"
	ErrorCodeTransport         = "transport_error"
	ErrorCodeLedgerUnavailable = "ledger_unavailable"
	ErrorCodeOrchestration     = "orchestration_error"
)

// DeliveryRecord is the ledger row for one message of one campaign to one recipient
type DeliveryRecord struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	CampaignID       uint           `gorm:"not null;uniqueIndex:uk_delivery_records_campaign_recipient,priority:1;index:idx_delivery_records_campaign_status,priority:1" json:"campaign_id"`
	RecipientID      uint           `gorm:"not null;uniqueIndex:uk_delivery_records_campaign_recipient,priority:2" json:"recipient_id"`
	AccountID        uint           `gorm:"not null;index:idx_delivery_records_account_id" json:"account_id"`
	TrackingID       uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_delivery_records_tracking_id" json:"tracking_id"`
	Destination      string         `gorm:"size:20;not null" json:"destination"`
	Content          string         `gorm:"type:text" json:"content"`
	Status           DeliveryStatus `gorm:"size:16;not null;default:'pending';index:idx_delivery_records_campaign_status,priority:2" json:"status"`
	GatewayMessageID *string        `gorm:"size:128;index:idx_delivery_records_gateway_message_id" json:"gateway_message_id,omitempty"`
	ErrorCode        *string        `gorm:"size:64" json:"error_code,omitempty"`
	Attempts         int            `gorm:"not null;default:0" json:"attempts"`
	QuotaReserved    bool           `gorm:"not null;default:false" json:"quota_reserved"`
	SentAt           *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt      *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName returns the table name for the model
func (DeliveryRecord) TableName() string {
	return "delivery_records"
}

// BeforeCreate ensures a tracking id and pending status are set
func (r *DeliveryRecord) BeforeCreate(tx *gorm.DB) error {
	if r.TrackingID == uuid.Nil {
		r.TrackingID = uuid.New()
	}
	if r.Status == "" {
		r.Status = DeliveryStatusPending
	}
	return nil
}

// DeliveryRecordFilter provides filter fields for repository queries
type DeliveryRecordFilter struct {
	ID               *uint
	CampaignID       *uint
	RecipientID      *uint
	Status           *DeliveryStatus
	GatewayMessageID *string
	CreatedAfter     *time.Time
	CreatedBefore    *time.Time
}

// DeliveryOutcome is the terminal result the sender writes for a pending record
type DeliveryOutcome struct {
	Status           DeliveryStatus
	GatewayMessageID *string
	ErrorCode        *string
	Content          string
	Attempts         int
	QuotaReserved    bool
	SentAt           *time.Time
}

// DeliveryCounts aggregates delivery records of one campaign by status
type DeliveryCounts struct {
	Pending   int64 `json:"pending"`
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

// Total returns the number of records counted
func (c DeliveryCounts) Total() int64 {
	return c.Pending + c.Sent + c.Delivered + c.Failed
}

// Succeeded returns records accepted by the gateway
func (c DeliveryCounts) Succeeded() int64 {
	return c.Sent + c.Delivered
}

// DeliveryAttempt records one gateway call made for a delivery record
type DeliveryAttempt struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	DeliveryRecordID uint      `gorm:"not null;index:idx_delivery_attempts_record_id" json:"delivery_record_id"`
	AttemptNumber    int       `gorm:"not null" json:"attempt_number"`
	ErrorCode        *string   `gorm:"size:64" json:"error_code,omitempty"`
	LatencyMs        int64     `gorm:"not null;default:0" json:"latency_ms"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
}

// TableName returns the table name for the model
func (DeliveryAttempt) TableName() string {
	return "delivery_attempts"
}
