// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/smsdispatch/app/dto"
	businessflow "github.com/amirphl/smsdispatch/business_flow"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const requestTimeout = 30 * time.Second

// baseHandler carries the response helpers shared by every handler
type baseHandler struct {
	validator *validator.Validate
	logger    *log.Logger
}

func newBaseHandler(logger *log.Logger) baseHandler {
	if logger == nil {
		logger = log.Default()
	}
	return baseHandler{validator: validator.New(), logger: logger}
}

func (h *baseHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *baseHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// validate runs struct validation and writes the 400 response itself when it fails
func (h *baseHandler) validate(c fiber.Ctx, req any) (bool, error) {
	err := h.validator.Struct(req)
	if err == nil {
		return true, nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
	}
	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		messages = append(messages, getValidationErrorMessage(fe))
	}
	return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", messages)
}

// accountID reads the authenticated account set by the auth middleware
func (h *baseHandler) accountID(c fiber.Ctx) (uint, bool) {
	id, ok := c.Locals("account_id").(uint)
	return id, ok && id != 0
}

// businessError maps flow errors to HTTP statuses
func (h *baseHandler) businessError(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	message := fallbackMessage
	code := businessflow.BusinessCode(err)
	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		message = be.Message
	}

	switch {
	case businessflow.IsValidationError(err),
		businessflow.IsScheduleInPast(err),
		businessflow.IsRecipientNotFound(err),
		businessflow.IsCallbackStatusInvalid(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, message, code, nil)
	case businessflow.IsCampaignNotFound(err), businessflow.IsQuotaNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, message, code, nil)
	case businessflow.IsCampaignAccessDenied(err):
		return h.ErrorResponse(c, fiber.StatusForbidden, message, code, nil)
	case businessflow.IsInvalidStatusTransition(err), businessflow.IsCampaignNotDeletable(err):
		return h.ErrorResponse(c, fiber.StatusConflict, message, code, nil)
	case businessflow.IsCampaignQuotaExceeded(err):
		return h.ErrorResponse(c, fiber.StatusForbidden, message, code, nil)
	}

	h.logger.Printf("%s %s failed: %v", c.Method(), c.Path(), err)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}

// createRequestContext creates a context with request-scoped values and a timeout.
// The caller must invoke the returned cancel function.
func (h *baseHandler) createRequestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)

	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, requestTimeout)
	if id, ok := h.accountID(c); ok {
		ctx = context.WithValue(ctx, utils.AccountIDKey, id)
	}

	return ctx, cancel
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "uuid":
		return err.Field() + " must be a valid UUID"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}
