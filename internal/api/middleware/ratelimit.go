package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

const (
	loginAttemptsPerMinute = 5
	rateWindow             = time.Minute
)

// AuthRateLimit limits login attempts per client IP
func AuthRateLimit() fiber.Handler {
	return newLimiter(loginAttemptsPerMinute, func(c *fiber.Ctx) string {
		return "login:" + c.IP()
	}, "Too many sign-in attempts. Please wait a minute and try again.", false)
}

// AskRateLimit limits questions per user per minute; max <= 0 disables it.
// Rejected questions do not count against the window.
func AskRateLimit(max int) fiber.Handler {
	if max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return newLimiter(max, func(c *fiber.Ctx) string {
		if userID, err := GetUserID(c); err == nil {
			return "ask:user:" + userID.String()
		}
		return "ask:ip:" + c.IP()
	}, "You are asking questions too quickly. Please wait before sending another.", true)
}

func newLimiter(max int, keyFn func(*fiber.Ctx) string, message string, skipFailed bool) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:                max,
		Expiration:         rateWindow,
		KeyGenerator:       keyFn,
		SkipFailedRequests: skipFailed,
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, "60")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": message})
		},
	})
}
