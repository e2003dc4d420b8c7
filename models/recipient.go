package models

import (
	"strings"
	"time"
)

// Recipient is an audience member owned by an account.
// The dispatch pipeline reads it and only ever writes the opt-out flag.
type Recipient struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	AccountID   uint       `gorm:"not null;index:idx_recipients_account_id" json:"account_id"`
	PhoneNumber string     `gorm:"size:20;not null;index:idx_recipients_phone_number" json:"phone_number"`
	FirstName   *string    `gorm:"size:100" json:"first_name,omitempty"`
	LastName    *string    `gorm:"size:100" json:"last_name,omitempty"`
	OptedOut    bool       `gorm:"not null;default:false;index:idx_recipients_opted_out" json:"opted_out"`
	OptedOutAt  *time.Time `json:"opted_out_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

// TableName returns the table name for the model
func (Recipient) TableName() string {
	return "recipients"
}

// FullName joins the known name parts
func (r *Recipient) FullName() string {
	parts := make([]string, 0, 2)
	if r.FirstName != nil && strings.TrimSpace(*r.FirstName) != "" {
		parts = append(parts, strings.TrimSpace(*r.FirstName))
	}
	if r.LastName != nil && strings.TrimSpace(*r.LastName) != "" {
		parts = append(parts, strings.TrimSpace(*r.LastName))
	}
	return strings.Join(parts, " ")
}
