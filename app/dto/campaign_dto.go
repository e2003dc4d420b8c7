package dto

import (
	"time"
)

// CreateCampaignRequest represents the request to create a new draft campaign
type CreateCampaignRequest struct {
	AccountID    uint           `json:"-"`
	Title        string         `json:"title" validate:"required,min=1,max=255"`
	Template     string         `json:"template" validate:"required,min=1,max=1600"`
	Variables    map[string]any `json:"variables,omitempty"`
	RecipientIDs []uint         `json:"recipient_ids" validate:"max=200000,dive,gt=0"`
}

// ScheduleCampaignRequest moves a draft to scheduled
type ScheduleCampaignRequest struct {
	AccountID   uint      `json:"-"`
	UUID        string    `json:"-" validate:"required,uuid"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

// CampaignActionRequest identifies a campaign for pause, resume, cancel, delete and reads
type CampaignActionRequest struct {
	AccountID uint   `json:"-"`
	UUID      string `json:"-" validate:"required,uuid"`
}

// ListCampaignsRequest represents a paginated campaign listing
type ListCampaignsRequest struct {
	AccountID uint    `json:"-"`
	Status    *string `query:"status" validate:"omitempty,oneof=draft scheduled sending sent partially_sent failed paused cancelled"`
	Page      int     `query:"page" validate:"omitempty,min=1"`
	PageSize  int     `query:"page_size" validate:"omitempty,min=1,max=100"`
}

// CampaignResponse is the campaign as returned to its owner
type CampaignResponse struct {
	UUID            string         `json:"uuid"`
	Title           string         `json:"title"`
	Template        string         `json:"template"`
	Variables       map[string]any `json:"variables,omitempty"`
	Status          string         `json:"status"`
	RecipientsCount int64          `json:"recipients_count"`
	DeliveredCount  int64          `json:"delivered_count"`
	FailedCount     int64          `json:"failed_count"`
	ScheduledAt     *time.Time     `json:"scheduled_at,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	FailureReason   *string        `json:"failure_reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ListCampaignsResponse is one page of campaigns
type ListCampaignsResponse struct {
	Items      []CampaignResponse `json:"items"`
	Pagination PaginationInfo     `json:"pagination"`
}

// PaginationInfo describes the page returned
type PaginationInfo struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// CampaignStatsResponse combines the stored counters with the live ledger aggregate
type CampaignStatsResponse struct {
	UUID            string `json:"uuid"`
	Status          string `json:"status"`
	AudienceSize    int64  `json:"audience_size"`
	RecipientsCount int64  `json:"recipients_count"`
	DeliveredCount  int64  `json:"delivered_count"`
	FailedCount     int64  `json:"failed_count"`
	Pending         int64  `json:"pending"`
	Sent            int64  `json:"sent"`
	Delivered       int64  `json:"delivered"`
	Failed          int64  `json:"failed"`
	NotStarted      int64  `json:"not_started"`
}
