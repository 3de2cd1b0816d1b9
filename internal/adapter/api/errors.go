package api

import (
	"errors"

	"coingate/internal/domain/entity"

	"github.com/gofiber/fiber/v2"
)

const unavailableMessage = "The AI service is temporarily unavailable. Please try again later."

// statusFor maps domain errors onto the gateway's status taxonomy.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, entity.ErrInvalidInput), errors.Is(err, entity.ErrInvalidAmount):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, entity.ErrUnauthenticated):
		return fiber.StatusUnauthorized, "authentication required"
	case errors.Is(err, entity.ErrInsufficientFunds):
		return fiber.StatusPaymentRequired, "insufficient coins for this action"
	case errors.Is(err, entity.ErrAccountNotFound):
		return fiber.StatusPaymentRequired, "no coin account found for this user"
	case errors.Is(err, entity.ErrEmailNotVerified):
		return fiber.StatusForbidden, "please verify your email address first"
	case errors.Is(err, entity.ErrRateLimitExceeded), errors.Is(err, entity.ErrSuspiciousTraffic):
		return fiber.StatusTooManyRequests, "too many requests, please slow down"
	case errors.Is(err, entity.ErrTxConflict):
		return fiber.StatusConflict, "your coin balance is busy with another request, please retry"
	case errors.Is(err, entity.ErrProvidersExhausted):
		return fiber.StatusInternalServerError, unavailableMessage
	default:
		return fiber.StatusInternalServerError, "internal gateway error"
	}
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status, msg := statusFor(err)
	body := fiber.Map{"error": msg}
	if !h.production {
		body["details"] = err.Error()
	}
	if status >= fiber.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.Path(), "status", status, "error", err)
	}
	return c.Status(status).JSON(body)
}
