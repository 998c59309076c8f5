package httpapi

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oklog/ulid/v2"

	"github.com/realhut/authd/pkg/slogx"
)

const (
	localRequestID = "request_id"
	localUserID    = "uid"
	localRole      = "role"
	localToken     = "token"
)

// requestLogger tags every request with a ULID and logs it on completion.
func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		reqID := ulid.Make().String()
		c.Locals(localRequestID, reqID)
		c.Set("X-Request-Id", reqID)

		ctx := slogx.WithContext(c.UserContext(), logger)
		c.SetUserContext(slogx.WithRequestID(ctx, reqID))

		// Resolve any handler error into a response first, otherwise the
		// logged status would be the pre-handler 200.
		if err := c.Next(); err != nil {
			if handlerErr := c.App().Config().ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		logger.Info("http request",
			"request_id", reqID,
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"ip", c.IP(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}
}

// requireAuth validates the bearer token and stashes the claims for the
// handler. The raw token stays available so logout can revoke it.
func (h *handler) requireAuth(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
	}

	claims, err := h.svc.ValidateToken(c.UserContext(), raw)
	if err != nil {
		return err
	}

	c.Locals(localUserID, claims.UserID)
	c.Locals(localRole, claims.Role)
	c.Locals(localToken, raw)
	return c.Next()
}
