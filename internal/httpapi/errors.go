package httpapi

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/realhut/authd/internal/auth"
	"github.com/realhut/authd/internal/token"
	"github.com/realhut/authd/internal/user"
)

// errorHandler is the central Fiber error handler: operational errors map
// to their status with their message, everything else becomes a generic
// 500 so internals never leak to clients.
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
		}

		if status, ok := statusFor(err); ok {
			return c.Status(status).JSON(fiber.Map{"message": err.Error()})
		}

		logger.Error("request failed",
			"request_id", c.Locals(localRequestID),
			"method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "internal server error"})
	}
}

func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, auth.ErrValidation),
		errors.Is(err, auth.ErrEmailRejected),
		errors.Is(err, auth.ErrInvalidTicket):
		return fiber.StatusBadRequest, true
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, token.ErrInvalid),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrRevoked):
		return fiber.StatusUnauthorized, true
	case errors.Is(err, auth.ErrAlreadyVerified),
		errors.Is(err, user.ErrDuplicateEmail):
		return fiber.StatusConflict, true
	case errors.Is(err, user.ErrNotFound):
		return fiber.StatusNotFound, true
	default:
		// Everything else, unreachable backing stores included, is
		// non-operational: logged centrally, surfaced generically.
		return 0, false
	}
}
