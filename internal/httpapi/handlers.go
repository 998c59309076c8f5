// Package httpapi exposes the auth flows over HTTP with Fiber.
package httpapi

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/realhut/authd/internal/auth"
	"github.com/realhut/authd/internal/metrics"
)

type handler struct {
	svc    *auth.Service
	logger *slog.Logger
}

// Config wires the router.
type Config struct {
	Auth    *auth.Service
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// RateLimitRPS/Burst apply to the authenticated and ticket-bearing
	// endpoints. Zero disables the middleware.
	RateLimitRPS   float64
	RateLimitBurst int
}

// New builds the Fiber app with all routes mounted.
func New(cfg Config) *fiber.App {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &handler{svc: cfg.Auth, logger: cfg.Logger}

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler(cfg.Logger),
		DisableStartupMessage: true,
	})
	app.Use(requestLogger(cfg.Logger))

	limited := func(hf fiber.Handler) []fiber.Handler {
		if cfg.RateLimitRPS <= 0 {
			return []fiber.Handler{hf}
		}
		return []fiber.Handler{rateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst), hf}
	}

	app.Post("/register", h.register)
	app.Post("/login", h.login)
	app.Post("/reset_password_request", limited(h.requestPasswordReset)...)
	app.Put("/reset_password", limited(h.resetPassword)...)

	authed := app.Group("", h.requireAuth)
	authed.Post("/verify", limited(h.verifyEmail)...)
	authed.Get("/resend_otp", limited(h.resendOTP)...)
	authed.Get("/logout", h.logout)
	authed.Put("/email_update", limited(h.updateEmail)...)
	authed.Put("/password_update", limited(h.updatePassword)...)
	authed.Get("/user_info", limited(h.userInfo)...)
	authed.Put("/user_info_update", limited(h.updateProfile)...)
	authed.Delete("/user_delete", limited(h.deleteAccount)...)

	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(
			promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	return app
}

func (h *handler) register(c *fiber.Ctx) error {
	var req auth.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	sess, err := h.svc.Register(c.UserContext(), req)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"token": sess.Token,
		"user":  sess.User,
	})
}

func (h *handler) login(c *fiber.Ctx) error {
	var req auth.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	sess, retry, err := h.svc.Login(c.UserContext(), req, c.IP())
	if err != nil {
		return err
	}
	if retry != nil {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retry.RetryAfterSeconds()))
		return c.Status(fiber.StatusTooManyRequests).
			JSON(fiber.Map{"message": "too many failed attempts, retry later"})
	}

	return c.JSON(fiber.Map{
		"token": sess.Token,
		"user":  sess.User,
	})
}

func (h *handler) verifyEmail(c *fiber.Ctx) error {
	var req auth.VerifyEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	if err := h.svc.VerifyEmail(c.UserContext(), c.Locals(localUserID).(string), req); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "email verified"})
}

func (h *handler) resendOTP(c *fiber.Ctx) error {
	if err := h.svc.ResendOTP(c.UserContext(), c.Locals(localUserID).(string)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "verification code sent"})
}

func (h *handler) logout(c *fiber.Ctx) error {
	if err := h.svc.Logout(c.UserContext(), c.Locals(localToken).(string)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "logged out"})
}

func (h *handler) updateEmail(c *fiber.Ctx) error {
	var req auth.UpdateEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	if err := h.svc.UpdateEmail(c.UserContext(), c.Locals(localUserID).(string), req); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "email updated, verification code sent"})
}

func (h *handler) updatePassword(c *fiber.Ctx) error {
	var req auth.UpdatePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	if err := h.svc.UpdatePassword(c.UserContext(), c.Locals(localUserID).(string), req); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "password updated"})
}

func (h *handler) requestPasswordReset(c *fiber.Ctx) error {
	var req auth.ResetPasswordRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	if err := h.svc.RequestPasswordReset(c.UserContext(), req); err != nil {
		return err
	}
	// Identical response whether or not the address exists.
	return c.JSON(fiber.Map{"message": "if the address exists, a reset link has been sent"})
}

func (h *handler) resetPassword(c *fiber.Ctx) error {
	var req auth.ResetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	if err := h.svc.ResetPassword(c.UserContext(), req); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "password reset"})
}

func (h *handler) userInfo(c *fiber.Ctx) error {
	p, err := h.svc.Profile(c.UserContext(), c.Locals(localUserID).(string))
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func (h *handler) updateProfile(c *fiber.Ctx) error {
	var req auth.UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	if err := h.svc.UpdateProfile(c.UserContext(), c.Locals(localUserID).(string), req); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "profile updated"})
}

func (h *handler) deleteAccount(c *fiber.Ctx) error {
	uid := c.Locals(localUserID).(string)
	raw := c.Locals(localToken).(string)

	if err := h.svc.DeleteAccount(c.UserContext(), uid, raw); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "account deleted"})
}
