package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// AccessLogConfig holds access log middleware configuration
type AccessLogConfig struct {
	Logger    logrus.FieldLogger
	SkipPaths []string
}

// AccessLog logs one structured line per request
func AccessLog(config AccessLogConfig) fiber.Handler {
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, skipPath := range config.SkipPaths {
			if strings.HasPrefix(path, skipPath) {
				return c.Next()
			}
		}

		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}

		fields := logrus.Fields{
			"method":      c.Method(),
			"path":        path,
			"action":      determineAction(c.Method(), path),
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.IP(),
		}
		if id := c.Locals("user_id"); id != nil {
			fields["user_id"] = id
		}
		if resource, id := extractResourceInfo(path); resource != "" {
			fields["resource"] = resource
			if id != "" {
				fields["resource_id"] = id
			}
		}

		entry := logger.WithFields(fields)
		switch {
		case err != nil:
			entry.WithError(err).Warn("Request failed")
		case status >= 500:
			entry.Error("Request failed")
		case status >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request completed")
		}
		return err
	}
}

// determineAction names the request, e.g. sessions.create or auth.login
func determineAction(method, path string) string {
	if strings.Contains(path, "/auth/login") {
		return "auth.login"
	}
	if strings.HasPrefix(path, "/ws/") {
		return "realtime.subscribe"
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 {
		resource := parts[2]
		if len(parts) >= 5 {
			resource = parts[4]
		}
		switch method {
		case fiber.MethodGet:
			if len(parts) == 4 {
				return fmt.Sprintf("%s.read", resource)
			}
			return fmt.Sprintf("%s.list", resource)
		case fiber.MethodPost:
			return fmt.Sprintf("%s.create", resource)
		case fiber.MethodPut, fiber.MethodPatch:
			return fmt.Sprintf("%s.update", resource)
		case fiber.MethodDelete:
			return fmt.Sprintf("%s.delete", resource)
		}
	}

	return fmt.Sprintf("%s.%s", strings.ToLower(method), path)
}

// extractResourceInfo extracts resource type and ID from an /api/v1 path
func extractResourceInfo(path string) (string, string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 {
		return "", ""
	}
	if len(parts) > 3 {
		return parts[2], parts[3]
	}
	return parts[2], ""
}
