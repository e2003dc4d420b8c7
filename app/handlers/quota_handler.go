package handlers

import (
	"log"

	businessflow "github.com/amirphl/smsdispatch/business_flow"
	"github.com/gofiber/fiber/v3"
)

// QuotaHandlerInterface defines the contract for quota handlers
type QuotaHandlerInterface interface {
	GetQuota(c fiber.Ctx) error
}

// QuotaHandler serves the caller's sending quota
type QuotaHandler struct {
	baseHandler
	quotaFlow businessflow.QuotaFlow
}

// NewQuotaHandler creates a new quota handler
func NewQuotaHandler(quotaFlow businessflow.QuotaFlow, logger *log.Logger) *QuotaHandler {
	return &QuotaHandler{baseHandler: newBaseHandler(logger), quotaFlow: quotaFlow}
}

// GetQuota returns the current quota period
func (h *QuotaHandler) GetQuota(c fiber.Ctx) error {
	accountID, ok := h.accountID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Account ID not found in context", "MISSING_ACCOUNT_ID", nil)
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/quota")
	defer cancel()

	result, err := h.quotaFlow.CurrentQuota(ctx, accountID)
	if err != nil {
		return h.businessError(c, err, "Failed to get quota", "GET_QUOTA_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Quota retrieved successfully", result)
}
