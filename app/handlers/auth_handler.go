package handlers

import (
	"log"

	"github.com/amirphl/smsdispatch/app/dto"
	"github.com/amirphl/smsdispatch/app/services"
	"github.com/gofiber/fiber/v3"
)

// AuthHandlerInterface defines the contract for token endpoints
type AuthHandlerInterface interface {
	RefreshToken(c fiber.Ctx) error
}

// AuthHandler rotates the bearer tokens issued to accounts
type AuthHandler struct {
	baseHandler
	tokens services.TokenService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(tokens services.TokenService, logger *log.Logger) *AuthHandler {
	return &AuthHandler{baseHandler: newBaseHandler(logger), tokens: tokens}
}

// RefreshToken issues a new access and refresh token pair for a valid refresh token
func (h *AuthHandler) RefreshToken(c fiber.Ctx) error {
	var req dto.RefreshTokenRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	access, refresh, err := h.tokens.RefreshToken(req.RefreshToken)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid or expired refresh token", "INVALID_REFRESH_TOKEN", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Tokens refreshed successfully", dto.TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
	})
}
