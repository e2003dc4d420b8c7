package dto

import "time"

// DeliveryCallbackRequest is the gateway's delivery status report
type DeliveryCallbackRequest struct {
	GatewayMessageID string  `json:"gateway_message_id" validate:"required,max=128"`
	Status           string  `json:"status" validate:"required,oneof=delivered failed"`
	ErrorCode        *string `json:"error_code,omitempty" validate:"omitempty,max=64"`
}

// DeliveryCallbackResponse reports whether the callback changed a record
type DeliveryCallbackResponse struct {
	Applied bool `json:"applied"`
}

// QuotaResponse is the account's current quota period
type QuotaResponse struct {
	PeriodStart        time.Time `json:"period_start"`
	PeriodEnd          time.Time `json:"period_end"`
	MessagesAllowed    int64     `json:"messages_allowed"`
	MessagesUsed       int64     `json:"messages_used"`
	MessagesRemaining  int64     `json:"messages_remaining"`
	CampaignsAllowed   int64     `json:"campaigns_allowed"`
	CampaignsUsed      int64     `json:"campaigns_used"`
	CampaignsRemaining int64     `json:"campaigns_remaining"`
}
