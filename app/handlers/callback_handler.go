package handlers

import (
	"crypto/subtle"
	"log"

	"github.com/amirphl/smsdispatch/app/dto"
	businessflow "github.com/amirphl/smsdispatch/business_flow"
	"github.com/gofiber/fiber/v3"
)

// CallbackHandlerInterface defines the contract for gateway callbacks
type CallbackHandlerInterface interface {
	DeliveryCallback(c fiber.Ctx) error
}

// CallbackHandler receives asynchronous delivery reports from the SMS gateway
type CallbackHandler struct {
	baseHandler
	callbackFlow businessflow.DeliveryCallbackFlow
	token        []byte
	tokenHeader  string
}

// NewCallbackHandler creates a new callback handler. An empty token rejects every callback.
func NewCallbackHandler(callbackFlow businessflow.DeliveryCallbackFlow, token, tokenHeader string, logger *log.Logger) *CallbackHandler {
	if tokenHeader == "" {
		tokenHeader = "X-Callback-Token"
	}
	return &CallbackHandler{
		baseHandler:  newBaseHandler(logger),
		callbackFlow: callbackFlow,
		token:        []byte(token),
		tokenHeader:  tokenHeader,
	}
}

// DeliveryCallback applies one delivery report. Duplicates answer 200 with applied=false.
func (h *CallbackHandler) DeliveryCallback(c fiber.Ctx) error {
	presented := []byte(c.Get(h.tokenHeader))
	if len(h.token) == 0 || subtle.ConstantTimeCompare(presented, h.token) != 1 {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid callback token", "INVALID_CALLBACK_TOKEN", nil)
	}

	var req dto.DeliveryCallbackRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/callbacks/delivery")
	defer cancel()

	result, err := h.callbackFlow.ApplyCallback(ctx, &req)
	if err != nil {
		return h.businessError(c, err, "Failed to apply callback", "CALLBACK_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Callback processed", result)
}
